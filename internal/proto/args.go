package proto

import "bytes"

// Arg is the OSC argument value set used by the rendezvous/session
// control messages of §6: strings, 32- and 64-bit integers, and opaque
// blobs.
type Arg any

// EncodeArgs builds an OSC typetag string followed by each argument's
// encoding, in the order given. Supported Go types: string, int32, int64,
// []byte.
func EncodeArgs(args []Arg) ([]byte, error) {
	var tags bytes.Buffer
	tags.WriteByte(',')
	var body bytes.Buffer

	for _, a := range args {
		switch v := a.(type) {
		case string:
			tags.WriteByte('s')
			oscPadString(&body, v)
		case int32:
			tags.WriteByte('i')
			writeOSCInt32(&body, v)
		case int64:
			tags.WriteByte('h')
			writeOSCInt32(&body, int32(v>>32))
			writeOSCInt32(&body, int32(v))
		case []byte:
			tags.WriteByte('b')
			writeOSCInt32(&body, int32(len(v)))
			body.Write(v)
			for i := len(v); i < oscPad(len(v))-1; i++ {
				body.WriteByte(0)
			}
		default:
			return nil, NewError(ErrBadArgument, "unsupported OSC argument type")
		}
	}

	var out bytes.Buffer
	oscPadString(&out, tags.String())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// DecodeArgs parses a typetag string and its argument values starting at
// data, returning the decoded values and the number of bytes consumed.
func DecodeArgs(data []byte) ([]Arg, int, error) {
	tags, off, err := oscReadString(data)
	if err != nil {
		return nil, 0, err
	}
	if len(tags) == 0 || tags[0] != ',' {
		return nil, 0, NewError(ErrBadFormat, "missing OSC typetag comma")
	}

	var args []Arg
	for _, tag := range tags[1:] {
		switch tag {
		case 's':
			s, n, err := oscReadString(data[off:])
			if err != nil {
				return nil, 0, err
			}
			args = append(args, s)
			off += n
		case 'i':
			if off+4 > len(data) {
				return nil, 0, NewError(ErrBadFormat, "truncated OSC int32 argument")
			}
			v, err := readOSCInt32(data[off : off+4])
			if err != nil {
				return nil, 0, err
			}
			args = append(args, v)
			off += 4
		case 'h':
			if off+8 > len(data) {
				return nil, 0, NewError(ErrBadFormat, "truncated OSC int64 argument")
			}
			hi, err := readOSCInt32(data[off : off+4])
			if err != nil {
				return nil, 0, err
			}
			lo, err := readOSCInt32(data[off+4 : off+8])
			if err != nil {
				return nil, 0, err
			}
			args = append(args, int64(uint64(uint32(hi))<<32|uint64(uint32(lo))))
			off += 8
		case 'b':
			if off+4 > len(data) {
				return nil, 0, NewError(ErrBadFormat, "truncated OSC blob length")
			}
			n, err := readOSCInt32(data[off : off+4])
			if err != nil {
				return nil, 0, err
			}
			off += 4
			if n < 0 || off+int(n) > len(data) {
				return nil, 0, NewError(ErrBadFormat, "truncated OSC blob data")
			}
			blob := make([]byte, n)
			copy(blob, data[off:off+int(n)])
			args = append(args, blob)
			padded := oscPad(int(n)) - 1
			off += padded
		default:
			return nil, 0, NewError(ErrBadFormat, "unsupported OSC typetag")
		}
	}
	return args, off, nil
}
