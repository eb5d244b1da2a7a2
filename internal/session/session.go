// Package session implements the client session engine of §4.H: the
// TCP connection to the rendezvous server, request/reply token
// dispatch, and the peer roster it drives.
package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"aoo/internal/peerpath"
	"aoo/internal/proto"
	"aoo/internal/stream"
)

// pendingRequest is a single outstanding request awaiting a
// token-matched reply from the rendezvous server.
type pendingRequest struct {
	reply chan Reply
}

// Reply is what a request's caller receives once the server answers.
type Reply struct {
	Args []proto.Arg
	Err  error
}

// Callbacks groups the event handlers a caller may install. Any left
// nil are simply not invoked.
type Callbacks struct {
	OnPeerJoin    func(PeerInfo)
	OnPeerLeave   func(groupID, userID proto.ID)
	OnPeerChanged func(PeerInfo)
	OnGroupEject  func(groupID proto.ID)
	OnMessage     func(groupID, userID proto.ID, data []byte)
	OnError       func(error)
}

// Engine owns the TCP control connection to the rendezvous server and
// the UDP peer path traffic it spawns on a successful join.
type Engine struct {
	peerPathCfg peerpath.Config
	callbacks   Callbacks

	mu          sync.Mutex
	conn        net.Conn
	writer      *bufio.Writer
	localUserID proto.ID
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	roster *roster

	audioCfg AudioConfig
	source   *stream.Source
	sink     *stream.Sink
}

// New creates an Engine. The peer path configuration is applied to
// every peer constructed from a peer_add event.
func New(cfg peerpath.Config) *Engine {
	e := &Engine{peerPathCfg: cfg, pending: make(map[string]*pendingRequest)}
	e.roster = newRoster(e)
	return e
}

// SetCallbacks installs the event handlers. Must be called before
// Connect to avoid racing the read loop.
func (e *Engine) SetCallbacks(cb Callbacks) {
	e.mu.Lock()
	e.callbacks = cb
	e.mu.Unlock()
}

// Connect dials the rendezvous server, performs the login exchange,
// and starts the background read loop and peer path ticker.
func (e *Engine) Connect(ctx context.Context, host string, port int, password string, metadata []byte) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.conn = conn
	e.writer = bufio.NewWriter(conn)
	e.closed = false
	e.closeCh = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(2)
	go e.readLoop(bufio.NewReader(conn))
	go e.roster.tickLoop(e.closeCh, &e.wg)

	reply, err := e.doRequest(ctx, proto.Header{Type: proto.TypeServer, Cmd: "login"},
		proto.Arg(appVersion), proto.Arg(proto.HashPassword(password)), proto.Arg(metadata))
	if err != nil {
		e.Disconnect()
		return err
	}
	if len(reply.Args) < 1 {
		e.Disconnect()
		return proto.NewError(proto.ErrBadFormat, "malformed login reply")
	}
	uid, ok := reply.Args[0].(int32)
	if !ok {
		e.Disconnect()
		return proto.NewError(proto.ErrBadFormat, "login reply missing user id")
	}
	e.mu.Lock()
	e.localUserID = proto.ID(uid)
	e.mu.Unlock()
	return nil
}

// appVersion is the protocol version string sent at login.
const appVersion = "1.0"

// Disconnect closes the TCP connection and stops background loops.
// Safe to call more than once.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conn := e.conn
	closeCh := e.closeCh
	e.mu.Unlock()

	if closeCh != nil {
		close(closeCh)
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	e.roster.udpMu.Lock()
	if e.roster.udpConn != nil {
		e.roster.udpConn.Close()
	}
	e.roster.udpMu.Unlock()
	e.wg.Wait()
	return err
}

// LocalUserID returns the id assigned by the server at login.
func (e *Engine) LocalUserID() proto.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localUserID
}

// doRequest sends a token-tagged request and blocks until the
// matching reply arrives or ctx is done.
func (e *Engine) doRequest(ctx context.Context, h proto.Header, args ...proto.Arg) (Reply, error) {
	token := uuid.NewString()
	pr := &pendingRequest{reply: make(chan Reply, 1)}

	e.pendingMu.Lock()
	e.pending[token] = pr
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, token)
		e.pendingMu.Unlock()
	}()

	full := append([]proto.Arg{token}, args...)
	if err := e.send(h, full); err != nil {
		return Reply{}, err
	}

	select {
	case r := <-pr.reply:
		return r, r.Err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// send frames one OSC message and writes it over the TCP connection.
func (e *Engine) send(h proto.Header, args []proto.Arg) error {
	hdr := proto.EncodeOSCHeader(h)
	body, err := proto.EncodeArgs(args)
	if err != nil {
		return err
	}
	msg := append(hdr, body...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer == nil {
		return proto.NewError(proto.ErrBadFormat, "not connected")
	}
	if err := proto.WriteTCPFrame(e.writer, msg); err != nil {
		return err
	}
	return e.writer.Flush()
}

// readLoop pulls TCP frames off the wire and dispatches them until
// the connection closes.
func (e *Engine) readLoop(r *bufio.Reader) {
	defer e.wg.Done()
	for {
		frame, err := proto.ReadTCPFrame(r)
		if err != nil {
			e.reportError(err)
			return
		}
		h, n, err := proto.DecodeOSCHeader(frame)
		if err != nil {
			e.reportError(err)
			continue
		}
		args, _, err := proto.DecodeArgs(frame[n:])
		if err != nil {
			e.reportError(err)
			continue
		}
		e.dispatch(h, args)
	}
}

// dispatch routes one decoded server message either to a pending
// request (token-matched reply) or to an unsolicited push-event
// handler keyed by its OSC verb.
func (e *Engine) dispatch(h proto.Header, args []proto.Arg) {
	if len(args) > 0 {
		if token, ok := args[0].(string); ok {
			e.pendingMu.Lock()
			pr, found := e.pending[token]
			e.pendingMu.Unlock()
			if found {
				pr.reply <- Reply{Args: args[1:]}
				return
			}
		}
	}
	e.handlePushEvent(h, args)
}

func (e *Engine) reportError(err error) {
	e.mu.Lock()
	cb := e.callbacks.OnError
	e.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// udpListen opens the local UDP socket the peer path sends/receives
// on. roster.ensureUDP calls it on first use.
func (e *Engine) udpListen() (net.PacketConn, error) {
	return net.ListenPacket("udp", ":0")
}
