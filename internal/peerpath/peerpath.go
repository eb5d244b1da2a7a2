// Package peerpath implements the per-peer UDP path state machine: NAT
// traversal via candidate-address handshake pings, liveness/RTT pings
// once connected, relay fallback on handshake timeout, and per-peer
// wire-format preference (binary vs OSC).
package peerpath

import (
	"math"
	"sync/atomic"
	"time"

	"aoo/internal/proto"
)

// State is a peer's position in the handshake lifecycle.
type State int

const (
	Handshaking State = iota
	Connected
	TimedOut
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Defaults per the handshake/ping design.
const (
	DefaultQueryInterval = 100 * time.Millisecond
	DefaultQueryTimeout  = 5 * time.Second
	DefaultPingInterval  = 2 * time.Second

	// rttEWMAAlpha weights the new RTT sample; the handshake/ping design
	// calls for a 0.5 coefficient rather than the slower RFC 6298 style
	// smoothing used elsewhere in the stack.
	rttEWMAAlpha = 0.5
)

// Config tunes one peer's timers.
type Config struct {
	QueryInterval time.Duration
	QueryTimeout  time.Duration
	PingInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueryInterval <= 0 {
		c.QueryInterval = DefaultQueryInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	return c
}

// PingKind distinguishes a handshake probe (tt == 0) from a regular
// liveness/RTT ping.
type PingKind int

const (
	HandshakePing PingKind = iota
	RegularPing
)

// Outgoing is one ping the caller should wire-encode and send.
type Outgoing struct {
	Kind PingKind
	To   proto.Addr
	TT   int64 // 0 for handshake, local clock (unix nanos) for regular
}

// Peer tracks one remote peer's path state. Not safe for concurrent use;
// the caller serialises through the network thread's per-peer update.
type Peer struct {
	GroupID, LocalUserID, RemoteUserID proto.ID

	candidates []proto.Addr
	relayAddr  proto.Addr
	hasRelay   bool

	cfg Config

	state           State
	realAddr        proto.Addr
	handshakeStart  time.Time
	lastQuery       time.Time
	lastPing        time.Time
	lastPingSentTT  int64

	smoothedRTTBits atomic.Uint64 // math.Float64bits, 0 = no sample yet

	binaryCapable bool // per-peer wire-format preference
}

// New constructs a peer in Handshaking state with the candidate address
// list supplied by the rendezvous server.
func New(groupID, localUserID, remoteUserID proto.ID, candidates []proto.Addr, cfg Config) *Peer {
	p := &Peer{
		GroupID:      groupID,
		LocalUserID:  localUserID,
		RemoteUserID: remoteUserID,
		candidates:   append([]proto.Addr(nil), candidates...),
		cfg:          cfg.withDefaults(),
		state:        Handshaking,
	}
	p.handshakeStart = time.Now()
	return p
}

// SetRelay records the group's relay address, used as a fallback if the
// direct handshake times out.
func (p *Peer) SetRelay(addr proto.Addr) {
	p.relayAddr = addr
	p.hasRelay = true
}

// State reports the peer's current lifecycle state.
func (p *Peer) State() State { return p.state }

// RealAddr is the address traffic is currently sent to: the zero Addr
// while handshaking, the observed sender address once a ping has bound
// it, or the relay address after fallback.
func (p *Peer) RealAddr() proto.Addr { return p.realAddr }

// SetBinaryCapable records whether this peer advertised support for the
// compact binary framing, so the sender can skip the OSC form for it.
func (p *Peer) SetBinaryCapable(v bool) { p.binaryCapable = v }

// BinaryCapable reports the peer's wire-format preference.
func (p *Peer) BinaryCapable() bool { return p.binaryCapable }

// RTT returns the current smoothed round-trip estimate, or 0 if no
// sample has been taken yet.
func (p *Peer) RTT() time.Duration {
	bits := p.smoothedRTTBits.Load()
	if bits == 0 {
		return 0
	}
	return time.Duration(math.Float64frombits(bits))
}

// Tick drives the state machine for one iteration of the network loop's
// per-peer update: broadcasting handshake pings, checking for handshake
// timeout (triggering relay fallback or giving up), and sending regular
// liveness pings once connected.
func (p *Peer) Tick(now time.Time) []Outgoing {
	switch p.state {
	case Handshaking:
		return p.tickHandshaking(now)
	case Connected:
		return p.tickConnected(now)
	default:
		return nil
	}
}

func (p *Peer) tickHandshaking(now time.Time) []Outgoing {
	if now.Sub(p.handshakeStart) >= p.cfg.QueryTimeout {
		if p.hasRelay {
			p.candidates = []proto.Addr{p.relayAddr}
			p.realAddr = p.relayAddr
			p.handshakeStart = now
			p.lastQuery = time.Time{}
			p.hasRelay = false // fall back only once
		} else {
			p.state = TimedOut
			return nil
		}
	}

	if !p.lastQuery.IsZero() && now.Sub(p.lastQuery) < p.cfg.QueryInterval {
		return nil
	}
	p.lastQuery = now

	out := make([]Outgoing, 0, len(p.candidates))
	for _, addr := range p.candidates {
		out = append(out, Outgoing{Kind: HandshakePing, To: addr, TT: 0})
	}
	return out
}

// HandlePing processes an inbound ping from observedFrom. isHandshake
// distinguishes a handshake probe (tt == 0) from a regular ping. On the
// first handshake reply, the peer binds its real address and becomes
// Connected; the caller should then flush a pong so the remote side also
// converges. Returns true if this call transitioned the peer to Connected.
func (p *Peer) HandlePing(observedFrom proto.Addr, isHandshake bool) (becameConnected bool) {
	if p.state == Handshaking && isHandshake {
		p.realAddr = observedFrom
		p.state = Connected
		p.lastPing = time.Time{}
		return true
	}
	return false
}

func (p *Peer) tickConnected(now time.Time) []Outgoing {
	if !p.lastPing.IsZero() && now.Sub(p.lastPing) < p.cfg.PingInterval {
		return nil
	}
	p.lastPing = now
	tt := now.UnixNano()
	p.lastPingSentTT = tt
	return []Outgoing{{Kind: RegularPing, To: p.realAddr, TT: tt}}
}

// HandlePong processes an inbound pong carrying the tt1 timestamp this
// peer's own ping was sent with, updating the smoothed RTT estimate
// (EWMA, coefficient 0.5).
func (p *Peer) HandlePong(tt1 int64, now time.Time) {
	if tt1 == 0 {
		return
	}
	sample := float64(now.UnixNano() - tt1)
	if sample < 0 {
		return
	}
	old := math.Float64frombits(p.smoothedRTTBits.Load())
	var next float64
	if old == 0 {
		next = sample
	} else {
		next = rttEWMAAlpha*sample + (1-rttEWMAAlpha)*old
	}
	p.smoothedRTTBits.Store(math.Float64bits(next))
}

// Relay wraps payload in a relay header addressed to dst, for use once
// RealAddr has been set to a relay address. This mirrors §4.F's "outgoing
// packets are wrapped" behaviour for the binary framing; OSC framing is
// wrapped by the caller using the `/aoo/relay` pattern instead.
func Relay(dst proto.Addr, payload []byte) ([]byte, error) {
	return proto.WrapRelay(dst, payload)
}

// Unrelay recovers the original source address and payload from an
// incoming relay-wrapped packet.
func Unrelay(data []byte) (proto.Addr, []byte, error) {
	return proto.UnwrapRelay(data)
}
