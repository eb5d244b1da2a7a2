package proto

import "testing"

func TestOSCHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Type: TypePeer, Cmd: "ping", To: 1, From: 2},
		{Type: TypeServer, Cmd: "login", To: InvalidID, From: 9},
		{Type: TypeSource, Cmd: "format", To: 0, From: 0},
	}
	for _, h := range cases {
		buf := EncodeOSCHeader(h)
		got, off, err := DecodeOSCHeader(buf)
		if err != nil {
			t.Fatalf("decode %+v: %v", h, err)
		}
		if off != len(buf) {
			t.Errorf("%+v: offset %d, want %d", h, off, len(buf))
		}
		if got != h {
			t.Errorf("round-trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

func TestAddressPattern(t *testing.T) {
	h := Header{Type: TypePeer, Cmd: "pong"}
	if got, want := AddressPattern(h), "/aoo/peer/pong"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDecodeOSCHeaderWithTrailingPayload(t *testing.T) {
	h := Header{Type: TypePeer, Cmd: "msg", To: 5, From: 6}
	buf := EncodeOSCHeader(h)
	buf = append(buf, []byte("trailing")...)

	got, off, err := DecodeOSCHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, h)
	}
	if string(buf[off:]) != "trailing" {
		t.Errorf("payload: got %q, want %q", buf[off:], "trailing")
	}
}

func TestDecodeOSCHeaderRejectsMalformed(t *testing.T) {
	_, _, err := DecodeOSCHeader([]byte("/not/aoo\x00\x00\x00\x00"))
	if err == nil {
		t.Fatal("expected error for non-aoo address pattern")
	}
}

func TestOSCHeaderRoundTripWithSlashedVerb(t *testing.T) {
	h := Header{Type: TypeServer, Cmd: "group/join", To: InvalidID, From: 3}
	buf := EncodeOSCHeader(h)
	got, off, err := DecodeOSCHeader(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if off != len(buf) || got != h {
		t.Errorf("round-trip mismatch: got %+v off %d, want %+v off %d", got, off, h, len(buf))
	}
}

func TestDecodeOSCHeaderRejectsUnterminated(t *testing.T) {
	_, _, err := DecodeOSCHeader([]byte("/aoo/peer/ping"))
	if err == nil {
		t.Fatal("expected error for unterminated OSC string")
	}
}
