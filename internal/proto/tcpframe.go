package proto

import (
	"bufio"
	"encoding/binary"
	"io"
)

// MaxTCPMessageSize bounds a single framed TCP message, guarding the
// rendezvous connection against a peer claiming an absurd length prefix.
const MaxTCPMessageSize = 1 << 20

// WriteTCPFrame writes a 32-bit big-endian length prefix followed by msg
// to w, the framing used for every request/reply/event on the control
// connection to the rendezvous server.
func WriteTCPFrame(w io.Writer, msg []byte) error {
	if len(msg) > MaxTCPMessageSize {
		return NewError(ErrBadArgument, "message exceeds max TCP frame size")
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(msg)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

// ReadTCPFrame reads one length-prefixed message from r. Returns io.EOF
// unchanged when the connection closes cleanly between frames.
func ReadTCPFrame(r *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxTCPMessageSize {
		return nil, NewError(ErrBadFormat, "TCP frame length exceeds maximum")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
