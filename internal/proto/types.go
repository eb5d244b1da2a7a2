package proto

import (
	"net"
	"net/netip"
)

// ID is a signed 32-bit entity identifier. -1 is reserved as "invalid".
type ID int32

// InvalidID is the reserved "no entity" identifier.
const InvalidID ID = -1

// Valid reports whether id is a usable (non-reserved) identifier.
func (id ID) Valid() bool { return id >= 0 }

// Family discriminates the address kind carried on the wire.
type Family uint8

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
)

// Addr is an IP endpoint with an explicit family discriminator, matching
// the data model's requirement that addresses be canonicalised (v4-mapped
// v6 unmapped at the peer-facing boundary, mapped only for v6-only sockets).
type Addr struct {
	IP     netip.Addr
	Port   uint16
	Family Family
}

// AddrFromUDP builds an Addr from a *net.UDPAddr, unmapping any v4-in-v6
// representation so peer-facing addresses are always canonical.
func AddrFromUDP(a *net.UDPAddr) Addr {
	if a == nil {
		return Addr{}
	}
	ip, _ := netip.AddrFromSlice(a.IP)
	ip = ip.Unmap()
	fam := FamilyIPv6
	if ip.Is4() {
		fam = FamilyIPv4
	}
	return Addr{IP: ip, Port: uint16(a.Port), Family: fam}
}

// UDPAddr converts back to a *net.UDPAddr for dialing/sending.
func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP.AsSlice(), Port: int(a.Port)}
}

// MappedFor returns a copy of a suitable for transmission on a socket of
// the given family: v4 addresses are mapped into v6 form only when the
// local socket is v6-only, per the address canonicalisation rule in §6.
func (a Addr) MappedFor(localIsV6Only bool) Addr {
	if !localIsV6Only || a.Family != FamilyIPv4 {
		return a
	}
	return Addr{IP: netip.AddrFrom16(a.IP.As16()), Port: a.Port, Family: FamilyIPv6}
}

func (a Addr) String() string {
	if !a.IP.IsValid() {
		return "<invalid>"
	}
	return netip.AddrPortFrom(a.IP, a.Port).String()
}

// MsgType is the first tuple element of every AOO header: which
// subsystem the message belongs to.
type MsgType uint8

const (
	TypeSource MsgType = iota
	TypeSink
	TypeClient
	TypeServer
	TypePeer
	TypeRelay
)

func (t MsgType) oscWord() string {
	switch t {
	case TypeSource:
		return "src"
	case TypeSink:
		return "sink"
	case TypeClient:
		return "client"
	case TypeServer:
		return "server"
	case TypePeer:
		return "peer"
	case TypeRelay:
		return "relay"
	default:
		return "?"
	}
}

// Header is the decoded (msg_type, command, to, from) 4-tuple common to
// every AOO packet, independent of which framing carried it.
type Header struct {
	Type MsgType
	Cmd  string // OSC verb, e.g. "format", "data", "ping"
	To   ID
	From ID
}

// Limits from §6.
const (
	MaxDatagramSize = 4096
	MaxFramesPerBlock = 256
)
