package proto

import "testing"

func TestBinaryHeaderRoundTripShort(t *testing.T) {
	h := Header{Type: TypePeer, Cmd: "ping", To: 3, From: 7}
	buf, err := EncodeBinaryHeader(h, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buf) != 4 {
		t.Fatalf("expected 4-byte short header, got %d", len(buf))
	}

	got, off, err := DecodeBinaryHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if off != 4 {
		t.Errorf("payload offset: got %d, want 4", off)
	}
	if got != h {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestBinaryHeaderRoundTripLong(t *testing.T) {
	h := Header{Type: TypeSource, Cmd: "data", To: 100000, From: -1}
	buf, err := EncodeBinaryHeader(h, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buf) != 12 {
		t.Fatalf("expected 12-byte long header (ids out of byte range), got %d", len(buf))
	}

	got, off, err := DecodeBinaryHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if off != 12 {
		t.Errorf("payload offset: got %d, want 12", off)
	}
	if got != h {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestBinaryHeaderForcedLongID(t *testing.T) {
	h := Header{Type: TypeSink, Cmd: "invite", To: 1, From: 2}
	buf, err := EncodeBinaryHeader(h, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buf) != 12 {
		t.Fatalf("forced long-id should produce 12 bytes, got %d", len(buf))
	}
	if buf[1]&binLongIDBit == 0 {
		t.Errorf("long-id flag not set")
	}
}

func TestDecodeBinaryHeaderRejectsNonBinary(t *testing.T) {
	_, _, err := DecodeBinaryHeader([]byte{0x00, 0x00, 0x00, 0x00})
	if err == nil {
		t.Fatal("expected error decoding non-binary-framed data")
	}
}

func TestDecodeBinaryHeaderRejectsTruncated(t *testing.T) {
	_, _, err := DecodeBinaryHeader([]byte{0x80 | byte(TypePeer)})
	if err == nil {
		t.Fatal("expected error decoding truncated header")
	}
}

func TestIsBinary(t *testing.T) {
	if IsBinary(nil) {
		t.Error("nil should not be binary")
	}
	if IsBinary([]byte{0x00}) {
		t.Error("high bit clear should not be binary")
	}
	if !IsBinary([]byte{0x80}) {
		t.Error("high bit set should be binary")
	}
}
