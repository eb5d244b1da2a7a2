// Package proto implements the AOO wire framings: the OSC text-ish framing
// and the compact binary framing, the bit-exact relay header, and the
// length-prefixed TCP framing used towards the rendezvous server.
//
// Nothing here allocates on the decode hot path beyond what is strictly
// needed to hand the caller an addressable payload slice.
package proto

import "fmt"

// ErrorKind enumerates the error values carried by requests and events,
// per the error handling design. Values are carried, never thrown.
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrBadArgument
	ErrBadFormat
	ErrSocket
	ErrOutOfMemory
	ErrNotConnected
	ErrAlreadyConnected
	ErrRequestInProgress
	ErrNotFound
	ErrAlreadyExists
	ErrInsufficientBuffer
	ErrNotPermitted
	ErrWrongPassword
	ErrUserAlreadyExists
	ErrGroupDoesNotExist
	ErrNotGroupMember
	ErrAlreadyGroupMember
	ErrCannotCreateGroup
	ErrCannotCreateUser
	ErrUDPHandshakeTimeOut
	ErrUnhandledRequest
	ErrNotImplemented
	ErrWouldBlock
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNone:
		return "None"
	case ErrBadArgument:
		return "BadArgument"
	case ErrBadFormat:
		return "BadFormat"
	case ErrSocket:
		return "Socket"
	case ErrOutOfMemory:
		return "OutOfMemory"
	case ErrNotConnected:
		return "NotConnected"
	case ErrAlreadyConnected:
		return "AlreadyConnected"
	case ErrRequestInProgress:
		return "RequestInProgress"
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrInsufficientBuffer:
		return "InsufficientBuffer"
	case ErrNotPermitted:
		return "NotPermitted"
	case ErrWrongPassword:
		return "WrongPassword"
	case ErrUserAlreadyExists:
		return "UserAlreadyExists"
	case ErrGroupDoesNotExist:
		return "GroupDoesNotExist"
	case ErrNotGroupMember:
		return "NotGroupMember"
	case ErrAlreadyGroupMember:
		return "AlreadyGroupMember"
	case ErrCannotCreateGroup:
		return "CannotCreateGroup"
	case ErrCannotCreateUser:
		return "CannotCreateUser"
	case ErrUDPHandshakeTimeOut:
		return "UDPHandshakeTimeOut"
	case ErrUnhandledRequest:
		return "UnhandledRequest"
	case ErrNotImplemented:
		return "NotImplemented"
	case ErrWouldBlock:
		return "WouldBlock"
	default:
		return "Unknown"
	}
}

// Error is the (error_kind, system_code, message) triple surfaced to
// request reply callbacks and async events.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds an *Error. Code defaults to 0 (no underlying system code).
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}
