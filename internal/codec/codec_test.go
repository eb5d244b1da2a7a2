package codec

import "testing"

func TestRegistryHasBuiltinPCM(t *testing.T) {
	r := NewRegistry()
	if !r.Has("pcm") {
		t.Fatal("expected pcm codec to be registered by default")
	}
}

func TestRegistryNewUnknownCodec(t *testing.T) {
	r := NewRegistry()
	if _, err := r.New("nonexistent", 48000, 1, 960); err == nil {
		t.Fatal("expected error constructing unregistered codec")
	}
}

func TestRegistryNewPCM(t *testing.T) {
	r := NewRegistry()
	c, err := r.New("pcm", 48000, 1, 960)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Name() != "pcm" {
		t.Errorf("got %q, want pcm", c.Name())
	}
}

func TestPCMEncodeDecodeRoundTrip(t *testing.T) {
	c := NewPCM(1, 4)
	pcm := []int16{1, -2, 3000, -32000}
	dst := make([]byte, 8)

	n, err := c.Encode(pcm, dst)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected 8 bytes written, got %d", n)
	}

	out := make([]int16, 4)
	samples, err := c.Decode(dst, out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if samples != 4 {
		t.Errorf("expected 4 samples per channel, got %d", samples)
	}
	for i := range pcm {
		if out[i] != pcm[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], pcm[i])
		}
	}
}

func TestPCMEncodeRejectsUndersizedDst(t *testing.T) {
	c := NewPCM(1, 4)
	_, err := c.Encode([]int16{1, 2}, make([]byte, 1))
	if err == nil {
		t.Fatal("expected error for undersized destination buffer")
	}
}
