package proto

import (
	"bytes"
	"fmt"
	"strings"
)

// oscPad returns n padded up to the next multiple of 4, OSC-style, always
// leaving room for at least one NUL.
func oscPad(n int) int {
	p := n + 1
	if r := p % 4; r != 0 {
		p += 4 - r
	}
	return p
}

func oscPadString(dst *bytes.Buffer, s string) {
	dst.WriteString(s)
	for i := len(s); i < oscPad(len(s)); i++ {
		dst.WriteByte(0)
	}
}

func oscReadString(data []byte) (string, int, error) {
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return "", 0, NewError(ErrBadFormat, "unterminated OSC string")
	}
	return string(data[:end]), oscPad(end), nil
}

// AddressPattern builds the OSC address pattern word for a header, e.g.
// "/aoo/peer/ping" or "/aoo/sink/format".
func AddressPattern(h Header) string {
	return "/aoo/" + h.Type.oscWord() + "/" + h.Cmd
}

// EncodeOSCHeader writes h as an OSC address pattern followed by a ",ii"
// typetag string carrying the to/from ids, matching the wire's
// convention of putting the 4-tuple ahead of the command-specific payload.
func EncodeOSCHeader(h Header) []byte {
	var buf bytes.Buffer
	oscPadString(&buf, AddressPattern(h))
	oscPadString(&buf, ",ii")
	writeOSCInt32(&buf, int32(h.To))
	writeOSCInt32(&buf, int32(h.From))
	return buf.Bytes()
}

func writeOSCInt32(dst *bytes.Buffer, v int32) {
	dst.WriteByte(byte(v >> 24))
	dst.WriteByte(byte(v >> 16))
	dst.WriteByte(byte(v >> 8))
	dst.WriteByte(byte(v))
}

func readOSCInt32(data []byte) (int32, error) {
	if len(data) < 4 {
		return 0, NewError(ErrBadFormat, "truncated OSC int32")
	}
	return int32(data[0])<<24 | int32(data[1])<<16 | int32(data[2])<<8 | int32(data[3]), nil
}

// DecodeOSCHeader parses an OSC-framed header and returns the offset at
// which the command-specific payload (after the ",ii" to/from pair) begins.
func DecodeOSCHeader(data []byte) (Header, int, error) {
	pattern, n, err := oscReadString(data)
	if err != nil {
		return Header{}, 0, err
	}
	off := n

	typ, cmd, err := parseAddressPattern(pattern)
	if err != nil {
		return Header{}, 0, err
	}

	if off >= len(data) {
		return Header{}, 0, NewError(ErrBadFormat, "missing OSC typetag")
	}
	tags, n2, err := oscReadString(data[off:])
	if err != nil {
		return Header{}, 0, err
	}
	off += n2
	if tags != ",ii" {
		return Header{}, 0, NewError(ErrBadFormat, "unexpected OSC typetag "+tags)
	}

	if off+8 > len(data) {
		return Header{}, 0, NewError(ErrBadFormat, "truncated OSC to/from pair")
	}
	to, err := readOSCInt32(data[off : off+4])
	if err != nil {
		return Header{}, 0, err
	}
	from, err := readOSCInt32(data[off+4 : off+8])
	if err != nil {
		return Header{}, 0, err
	}
	off += 8

	return Header{Type: typ, Cmd: cmd, To: ID(to), From: ID(from)}, off, nil
}

// parseAddressPattern splits a pattern into its subsystem and verb. The
// verb itself may contain further slashes (e.g. "group/join"), so only
// the first two segments after the fixed "aoo" prefix are structural.
func parseAddressPattern(pattern string) (MsgType, string, error) {
	parts := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	if len(parts) < 3 || parts[0] != "aoo" {
		return 0, "", NewError(ErrBadFormat, fmt.Sprintf("malformed address pattern %q", pattern))
	}
	for t := TypeSource; t <= TypeRelay; t++ {
		if t.oscWord() == parts[1] {
			return t, strings.Join(parts[2:], "/"), nil
		}
	}
	return 0, "", NewError(ErrBadFormat, fmt.Sprintf("unknown OSC subsystem %q", parts[1]))
}
