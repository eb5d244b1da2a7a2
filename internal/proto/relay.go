package proto

import (
	"encoding/binary"
	"net/netip"
)

// Relay framing is always binary, never OSC: type|0x80, cmd=family,
// port (big-endian u16), then 4 or 16 address bytes, then the wrapped
// packet verbatim. It exists so a server that cannot establish a direct
// peer path can still ferry packets without unpacking them.
const (
	relayHeaderFixed = 1 + 1 + 2 // type, family, port
)

// WrapRelay prepends a relay header naming dst around payload, for
// forwarding through a server or a peer acting as relay.
func WrapRelay(dst Addr, payload []byte) ([]byte, error) {
	var addrLen int
	switch dst.Family {
	case FamilyIPv4:
		addrLen = 4
	case FamilyIPv6:
		addrLen = 16
	default:
		return nil, NewError(ErrBadArgument, "relay destination has no address family")
	}

	buf := make([]byte, relayHeaderFixed+addrLen+len(payload))
	buf[0] = byte(TypeRelay) | binHighBit
	buf[1] = byte(dst.Family)
	binary.BigEndian.PutUint16(buf[2:4], dst.Port)

	if dst.Family == FamilyIPv6 {
		raw16 := dst.IP.As16()
		copy(buf[4:], raw16[:])
	} else {
		raw4 := dst.IP.As4()
		copy(buf[4:], raw4[:])
	}
	copy(buf[relayHeaderFixed+addrLen:], payload)
	return buf, nil
}

// UnwrapRelay parses a relay-framed packet and returns the addressed
// destination/source and the wrapped payload, unmodified.
func UnwrapRelay(data []byte) (Addr, []byte, error) {
	if len(data) < relayHeaderFixed {
		return Addr{}, nil, NewError(ErrBadFormat, "relay header truncated")
	}
	if data[0] != byte(TypeRelay)|binHighBit {
		return Addr{}, nil, NewError(ErrBadFormat, "not a relay-framed packet")
	}

	fam := Family(data[1])
	port := binary.BigEndian.Uint16(data[2:4])

	var addrLen int
	switch fam {
	case FamilyIPv4:
		addrLen = 4
	case FamilyIPv6:
		addrLen = 16
	default:
		return Addr{}, nil, NewError(ErrBadFormat, "unknown relay address family")
	}
	if len(data) < relayHeaderFixed+addrLen {
		return Addr{}, nil, NewError(ErrBadFormat, "relay address truncated")
	}

	addrBytes := data[relayHeaderFixed : relayHeaderFixed+addrLen]
	var addr Addr
	if fam == FamilyIPv4 {
		var a4 [4]byte
		copy(a4[:], addrBytes)
		addr = Addr{IP: netip.AddrFrom4(a4), Port: port, Family: FamilyIPv4}
	} else {
		var a16 [16]byte
		copy(a16[:], addrBytes)
		addr = Addr{IP: netip.AddrFrom16(a16), Port: port, Family: FamilyIPv6}
	}

	payload := data[relayHeaderFixed+addrLen:]
	return addr, payload, nil
}
