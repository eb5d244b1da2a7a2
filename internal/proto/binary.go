package proto

import (
	"encoding/binary"
	"fmt"
)

// binHighBit marks a datagram as binary-framed (vs. OSC) in byte 0.
const binHighBit = 0x80

// binLongIDBit marks the long (32-bit) id variant in byte 1.
const binLongIDBit = 0x40

// binCmdMask isolates the command value from the long-id flag in byte 1.
const binCmdMask = 0x3F

// cmdTable maps (MsgType, verb) to the small integer used on the wire for
// the binary framing. OSC framing carries the verb as a literal pattern
// word instead, so this table only matters for binary encode/decode.
var cmdTable = map[MsgType]map[string]uint8{
	TypeSource: {"format": 0, "data": 1},
	TypeSink:   {"format_request": 0, "data_request": 1, "invite": 2, "uninvite": 3},
	TypePeer: {
		"ping": 0, "pong": 1, "msg": 2, "ack": 3,
	},
	TypeRelay: {"relay": 0},
}

var cmdTableRev = buildReverseCmdTable()

func buildReverseCmdTable() map[MsgType]map[uint8]string {
	rev := make(map[MsgType]map[uint8]string, len(cmdTable))
	for t, m := range cmdTable {
		r := make(map[uint8]string, len(m))
		for verb, code := range m {
			r[code] = verb
		}
		rev[t] = r
	}
	return rev
}

// IsBinary reports whether data is framed using the binary discriminant
// (high bit of byte 0 set). Callers should check len(data) >= 1 first.
func IsBinary(data []byte) bool {
	return len(data) > 0 && data[0]&binHighBit != 0
}

// EncodeBinaryHeader writes h onto a binary-framed header and returns the
// full header bytes (caller appends payload after). longID forces the
// 32-bit id variant even when both ids would fit in a byte; it is also
// forced automatically when either id falls outside [0,255].
func EncodeBinaryHeader(h Header, longID bool) ([]byte, error) {
	codes, ok := cmdTable[h.Type]
	if !ok {
		return nil, NewError(ErrBadArgument, "unknown message type for binary framing")
	}
	code, ok := codes[h.Cmd]
	if !ok {
		return nil, NewError(ErrBadArgument, fmt.Sprintf("unknown command %q for type", h.Cmd))
	}

	if !h.To.Valid() || h.To > 255 || !h.From.Valid() || h.From > 255 {
		longID = true
	}

	if longID {
		buf := make([]byte, 12)
		buf[0] = byte(h.Type) | binHighBit
		buf[1] = code | binLongIDBit
		binary.BigEndian.PutUint32(buf[4:8], uint32(h.To))
		binary.BigEndian.PutUint32(buf[8:12], uint32(h.From))
		return buf, nil
	}

	buf := make([]byte, 4)
	buf[0] = byte(h.Type) | binHighBit
	buf[1] = code
	buf[2] = byte(h.To)
	buf[3] = byte(h.From)
	return buf, nil
}

// DecodeBinaryHeader parses a binary-framed header, returning the decoded
// header and the offset at which the payload begins. Returns BadFormat if
// the framing discriminant doesn't match, the type/command is unknown, or
// the buffer is truncated.
func DecodeBinaryHeader(data []byte) (Header, int, error) {
	if len(data) < 4 {
		return Header{}, 0, NewError(ErrBadFormat, "binary header truncated")
	}
	if data[0]&binHighBit == 0 {
		return Header{}, 0, NewError(ErrBadFormat, "not a binary-framed packet")
	}

	typ := MsgType(data[0] &^ binHighBit)
	longID := data[1]&binLongIDBit != 0
	code := data[1] & binCmdMask

	rev, ok := cmdTableRev[typ]
	if !ok {
		return Header{}, 0, NewError(ErrBadFormat, "unknown message type in binary header")
	}
	verb, ok := rev[code]
	if !ok {
		return Header{}, 0, NewError(ErrBadFormat, "unknown command code in binary header")
	}

	if longID {
		if len(data) < 12 {
			return Header{}, 0, NewError(ErrBadFormat, "long-id binary header truncated")
		}
		to := ID(int32(binary.BigEndian.Uint32(data[4:8])))
		from := ID(int32(binary.BigEndian.Uint32(data[8:12])))
		return Header{Type: typ, Cmd: verb, To: to, From: from}, 12, nil
	}

	to := ID(data[2])
	from := ID(data[3])
	return Header{Type: typ, Cmd: verb, To: to, From: from}, 4, nil
}
