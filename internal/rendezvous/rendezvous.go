// Package rendezvous implements the control-plane session broker of
// §4.I: client/group/user tables, TCP request handling, and UDP relay
// forwarding. It carries no audio state of its own.
package rendezvous

import (
	"bufio"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"aoo/internal/proto"
	"aoo/internal/store"
)

// controlBurst/controlRate bound how fast one connection may issue
// control requests (login/join/update/custom), as a flood-protection
// measure independent of the TCP framing layer itself.
const (
	controlRate  = 20 // requests per second, sustained
	controlBurst = 40
)

// Config governs the server's auto-creation and relay policy.
type Config struct {
	AllowAutoCreateGroup bool
	AllowAutoCreateUser  bool
	RelayEnabled         bool

	// Persist, when non-nil, backs auto-created groups and users with a
	// SQLite-backed store: they survive process restarts instead of
	// being forgotten once their last member leaves.
	Persist *store.Store

	// OnEvent, when non-nil, is called for every group/client lifecycle
	// event — an operator-facing hook for a live event feed. Called
	// synchronously from the connection goroutine handling the event;
	// it must not block.
	OnEvent func(Event)
}

// Event describes one group/client lifecycle transition, for operator
// observability (see internal/httpapi).
type Event struct {
	Type      string // "join" or "leave"
	GroupID   proto.ID
	GroupName string
	UserID    proto.ID
	UserName  string
}

func (s *Server) emit(e Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(e)
	}
}

// DefaultConfig matches a permissive development deployment: groups
// and users are created on first join, relay is available as a
// NAT-traversal fallback.
func DefaultConfig() Config {
	return Config{AllowAutoCreateGroup: true, AllowAutoCreateUser: true, RelayEnabled: true}
}

type groupRecord struct {
	id           proto.ID
	name         string
	metadata     []byte
	passwordHash string
	persistent   bool
	members      map[proto.ID]*clientConn
}

type userRecord struct {
	id           proto.ID
	name         string
	metadata     []byte
	passwordHash string
}

// clientConn is one logged-in TCP connection and the identity bound
// to it by login.
type clientConn struct {
	id       proto.ID
	name     string
	metadata []byte

	wMu sync.Mutex
	w   *bufio.Writer

	remote proto.Addr // TCP-observed address; a handshake candidate of last resort

	limiter *rate.Limiter

	mu     sync.Mutex
	groups map[proto.ID]bool
}

// Server is the rendezvous broker: one process serving every client
// and group table, independent of any particular audio stream.
type Server struct {
	cfg Config

	mu         sync.RWMutex
	clients    map[proto.ID]*clientConn
	groupsByID map[proto.ID]*groupRecord
	groupsByNm map[string]*groupRecord
	usersByNm  map[string]*userRecord

	nextClientID atomic.Int32
	nextGroupID  atomic.Int32

	udpMu   sync.Mutex
	udpConn net.PacketConn
}

// NewServer creates a Server with empty client/group/user tables, then
// reloads any persistent groups and users from cfg.Persist if set.
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:        cfg,
		clients:    make(map[proto.ID]*clientConn),
		groupsByID: make(map[proto.ID]*groupRecord),
		groupsByNm: make(map[string]*groupRecord),
		usersByNm:  make(map[string]*userRecord),
	}
	s.loadPersisted()
	return s
}

// loadPersisted populates the in-memory tables from cfg.Persist, giving
// persistent groups and users a lifetime beyond a single process even
// though membership itself (who is currently in a group) is never
// persisted — that is client-connection state, not server state.
func (s *Server) loadPersisted() {
	if s.cfg.Persist == nil {
		return
	}
	groups, err := s.cfg.Persist.ListGroups()
	if err != nil {
		log.Printf("rendezvous: load persisted groups: %v", err)
	}
	for _, g := range groups {
		rec := &groupRecord{
			id: proto.ID(s.nextGroupID.Add(1)), name: g.Name,
			metadata: g.Metadata, passwordHash: g.PasswordHash,
			persistent: true, members: make(map[proto.ID]*clientConn),
		}
		s.groupsByNm[g.Name] = rec
		s.groupsByID[rec.id] = rec
	}
	users, err := s.cfg.Persist.ListUsers()
	if err != nil {
		log.Printf("rendezvous: load persisted users: %v", err)
	}
	for _, u := range users {
		s.usersByNm[u.Name] = &userRecord{
			id: proto.InvalidID, name: u.Name,
			metadata: u.Metadata, passwordHash: u.PasswordHash,
		}
	}
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// ServeUDP runs the relay forwarding loop on conn until read fails.
func (s *Server) ServeUDP(conn net.PacketConn) error {
	s.udpMu.Lock()
	s.udpConn = conn
	s.udpMu.Unlock()

	buf := make([]byte, proto.MaxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		s.handleRelay(conn, proto.AddrFromUDP(from.(*net.UDPAddr)), buf[:n])
	}
}

// handleRelay rewrites the relay header's address to the observed
// sender and forwards the inner payload to the declared destination,
// per §4.I. Silently dropped when relay is disabled.
func (s *Server) handleRelay(conn net.PacketConn, observed proto.Addr, data []byte) {
	if !s.cfg.RelayEnabled {
		return
	}
	dst, payload, err := proto.UnwrapRelay(data)
	if err != nil {
		return
	}
	wrapped, err := proto.WrapRelay(observed, payload)
	if err != nil {
		return
	}
	conn.WriteTo(wrapped, dst.UDPAddr())
}

func (s *Server) handleConn(conn net.Conn) {
	cc := &clientConn{
		w:       bufio.NewWriter(conn),
		groups:  make(map[proto.ID]bool),
		remote:  proto.AddrFromUDP(remoteUDPGuess(conn)),
		limiter: rate.NewLimiter(rate.Limit(controlRate), controlBurst),
	}
	r := bufio.NewReader(conn)
	defer func() {
		s.handleDisconnect(cc)
		conn.Close()
	}()

	for {
		frame, err := proto.ReadTCPFrame(r)
		if err != nil {
			return
		}
		h, n, err := proto.DecodeOSCHeader(frame)
		if err != nil {
			log.Printf("rendezvous: malformed header: %v", err)
			continue
		}
		args, _, err := proto.DecodeArgs(frame[n:])
		if err != nil {
			log.Printf("rendezvous: malformed args: %v", err)
			continue
		}
		if len(args) < 1 {
			continue
		}
		token, ok := args[0].(string)
		if !ok {
			continue
		}
		if !cc.limiter.Allow() {
			log.Printf("rendezvous: client %v exceeded control rate, dropping %s", cc.id, h.Cmd)
			continue
		}
		s.dispatch(cc, h, token, args[1:])
	}
}

// remoteUDPGuess extracts an IP/port-bearing form of conn's remote
// address, ignored (returns nil) for anything not TCP-shaped.
func remoteUDPGuess(conn net.Conn) *net.UDPAddr {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return &net.UDPAddr{IP: tcpAddr.IP, Port: tcpAddr.Port}
}

func (s *Server) dispatch(cc *clientConn, h proto.Header, token string, args []proto.Arg) {
	switch h.Cmd {
	case "login":
		s.handleLogin(cc, token, args)
	case "group/join":
		s.handleGroupJoin(cc, token, args)
	case "group/leave":
		s.handleGroupLeave(cc, token, args)
	case "group/update":
		s.handleGroupUpdate(cc, token, args)
	case "user/update":
		s.handleUserUpdate(cc, token, args)
	case "custom":
		s.handleCustomRequest(cc, token, args)
	}
}

// send frames and writes one OSC reply/event to a single connection.
func (cc *clientConn) send(h proto.Header, args []proto.Arg) {
	hdr := proto.EncodeOSCHeader(h)
	body, err := proto.EncodeArgs(args)
	if err != nil {
		return
	}
	msg := append(hdr, body...)

	cc.wMu.Lock()
	defer cc.wMu.Unlock()
	if err := proto.WriteTCPFrame(cc.w, msg); err != nil {
		return
	}
	cc.w.Flush()
}

func (cc *clientConn) reply(cmd, token string, args ...proto.Arg) {
	full := append([]proto.Arg{token}, args...)
	cc.send(proto.Header{Type: proto.TypeClient, Cmd: cmd}, full)
}

// Stats is a point-in-time snapshot of server occupancy, for the admin
// HTTP surface.
type Stats struct {
	Clients int
	Groups  int
	Users   int
}

// Stats returns current client/group/user counts.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Clients: len(s.clients), Groups: len(s.groupsByID), Users: len(s.usersByNm)}
}

// GroupSummary is a read-only view of one group, for the admin HTTP
// surface.
type GroupSummary struct {
	ID         proto.ID
	Name       string
	Persistent bool
	Members    int
}

// GroupSummaries lists every known group.
func (s *Server) GroupSummaries() []GroupSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GroupSummary, 0, len(s.groupsByID))
	for _, g := range s.groupsByID {
		out = append(out, GroupSummary{ID: g.id, Name: g.name, Persistent: g.persistent, Members: len(g.members)})
	}
	return out
}

// UserSummary is a read-only view of one known user, for the admin HTTP
// surface.
type UserSummary struct {
	Name string
}

// UserSummaries lists every known user name.
func (s *Server) UserSummaries() []UserSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserSummary, 0, len(s.usersByNm))
	for _, u := range s.usersByNm {
		out = append(out, UserSummary{Name: u.name})
	}
	return out
}
