package session

import (
	"net"
	"sync"
	"time"

	"aoo/internal/peerpath"
	"aoo/internal/proto"
	"aoo/internal/reliable"
)

// PeerInfo is the roster's public view of one remote participant.
type PeerInfo struct {
	GroupID   proto.ID
	UserID    proto.ID
	GroupName string
	UserName  string
	Metadata  []byte
}

type peerKey struct {
	Group proto.ID
	User  proto.ID
}

// peerEntry is the roster's internal bookkeeping for one peer: its
// handshake/RTT state machine and its reliable messaging channel.
type peerEntry struct {
	info     PeerInfo
	path     *peerpath.Peer
	sender   *reliable.Sender
	receiver *reliable.Receiver
}

const peerMessageCapacity = 64
const maxPeerFrameSize = 1200

// roster tracks every peer the engine currently knows about and drives
// their peer path / reliable messaging state on a periodic tick.
type roster struct {
	engine *Engine

	mu    sync.RWMutex
	peers map[peerKey]*peerEntry

	udpMu   sync.Mutex
	udpConn net.PacketConn
}

func newRoster(e *Engine) *roster {
	return &roster{engine: e, peers: make(map[peerKey]*peerEntry)}
}

// findByUser looks up a tracked peer by user id alone, ignoring which
// group it was joined through. Callers must hold r.mu.
func (r *roster) findByUser(userID proto.ID) *peerEntry {
	for _, entry := range r.peers {
		if entry.info.UserID == userID {
			return entry
		}
	}
	return nil
}

// ensureUDP lazily opens the local peer-path socket and starts its
// read loop on first use.
func (r *roster) ensureUDP() (net.PacketConn, error) {
	r.udpMu.Lock()
	defer r.udpMu.Unlock()
	if r.udpConn != nil {
		return r.udpConn, nil
	}
	conn, err := r.engine.udpListen()
	if err != nil {
		return nil, err
	}
	r.udpConn = conn
	r.engine.wg.Add(1)
	go r.udpReadLoop(conn)
	return conn, nil
}

func (r *roster) udpReadLoop(conn net.PacketConn) {
	defer r.engine.wg.Done()
	buf := make([]byte, proto.MaxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		r.handleDatagram(conn, proto.AddrFromUDP(from.(*net.UDPAddr)), data)
	}
}

func (r *roster) handleDatagram(conn net.PacketConn, from proto.Addr, data []byte) {
	if len(data) == 0 {
		return
	}
	if data[0] == byte(proto.TypeRelay)|0x80 {
		if dst, payload, err := proto.UnwrapRelay(data); err == nil {
			r.handleDatagram(conn, dst, payload)
		}
		return
	}

	var h proto.Header
	var off int
	var err error
	if proto.IsBinary(data) {
		h, off, err = proto.DecodeBinaryHeader(data)
	} else {
		h, off, err = proto.DecodeOSCHeader(data)
	}
	if err != nil {
		return
	}

	args, _, err := proto.DecodeArgs(data[off:])
	if err != nil || len(args) < 2 {
		return
	}

	switch h.Type {
	case proto.TypeSource:
		switch h.Cmd {
		case "format":
			r.engine.handleSourceFormat(args)
		case "data":
			r.engine.handleSourceData(args)
		}
		return
	case proto.TypeSink:
		uid, ok := args[1].(int32)
		if !ok {
			return
		}
		r.mu.RLock()
		entry := r.findByUser(proto.ID(uid))
		r.mu.RUnlock()
		if entry == nil {
			return
		}
		switch h.Cmd {
		case "data_request":
			r.engine.handleDataRequest(entry, args)
		case "format_request":
			r.engine.handleFormatRequest(entry)
		}
		return
	case proto.TypePeer:
		// handled below
	default:
		return
	}

	gid, ok1 := args[0].(int32)
	uid, ok2 := args[1].(int32)
	if !ok1 || !ok2 {
		return
	}
	key := peerKey{Group: proto.ID(gid), User: proto.ID(uid)}

	r.mu.RLock()
	entry := r.peers[key]
	r.mu.RUnlock()
	if entry == nil {
		return
	}

	switch h.Cmd {
	case "ping":
		var tt int64
		isHandshake := true
		if len(args) >= 3 {
			if v, ok := args[2].(int64); ok {
				tt = v
				isHandshake = v == 0
			}
		}
		entry.path.HandlePing(from, isHandshake)
		pong := proto.Header{Type: proto.TypePeer, Cmd: "pong"}
		r.sendTo(conn, from, pong, []proto.Arg{int32(gid), int32(r.engine.LocalUserID()), tt, int64(time.Now().UnixNano())})
	case "pong":
		if len(args) >= 3 {
			if tt, ok := args[2].(int64); ok {
				entry.path.HandlePong(tt, time.Now())
			}
		}
	case "msg":
		if len(args) >= 7 {
			seq, _ := args[3].(int32)
			total, _ := args[4].(int32)
			frame, _ := args[5].(int32)
			blob, _ := args[len(args)-1].([]byte)
			entry.receiver.Push(uint32(seq), int(frame), int(total), blob)
			for _, m := range entry.receiver.Pop() {
				r.engine.mu.Lock()
				cb := r.engine.callbacks.OnMessage
				r.engine.mu.Unlock()
				if cb != nil {
					cb(key.Group, key.User, m.Data)
				}
			}
		}
	}
}

// tickLoop drives every tracked peer's handshake/keepalive and
// reliable-message retransmit schedule until closeCh is closed.
func (r *roster) tickLoop(closeCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-closeCh:
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *roster) tick(now time.Time) {
	r.mu.RLock()
	entries := make([]*peerEntry, 0, len(r.peers))
	for _, e := range r.peers {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	conn, err := r.ensureUDP()
	if err != nil {
		return
	}

	for _, entry := range entries {
		for _, out := range entry.path.Tick(now) {
			h := proto.Header{Type: proto.TypePeer, Cmd: "ping"}
			args := []proto.Arg{int32(entry.info.GroupID), int32(r.engine.LocalUserID()), out.TT}
			r.sendTo(conn, out.To, h, args)
		}
		for _, pkt := range entry.sender.Tick(now) {
			r.sendMsgPacket(conn, entry, pkt)
		}
	}

	r.engine.tickAudio(now)
}

func (r *roster) sendTo(conn net.PacketConn, to proto.Addr, h proto.Header, args []proto.Arg) {
	hdr := proto.EncodeOSCHeader(h)
	body, err := proto.EncodeArgs(args)
	if err != nil {
		return
	}
	conn.WriteTo(append(hdr, body...), to.UDPAddr())
}

func (r *roster) sendMsgPacket(conn net.PacketConn, entry *peerEntry, pkt reliable.Packet) {
	h := proto.Header{Type: proto.TypePeer, Cmd: "msg"}
	args := []proto.Arg{
		int32(entry.info.GroupID), int32(r.engine.LocalUserID()),
		int32(0), int32(pkt.Seq), int32(pkt.Total), int32(pkt.Frame), pkt.Data,
	}
	r.sendTo(conn, entry.path.RealAddr(), h, args)
}

// addPeer installs a peer in Handshaking state against the given
// candidate addresses, per a server peer_add event.
func (r *roster) addPeer(info PeerInfo, candidates []proto.Addr) {
	key := peerKey{Group: info.GroupID, User: info.UserID}
	path := peerpath.New(info.GroupID, r.engine.LocalUserID(), info.UserID, candidates, r.engine.peerPathCfg)

	r.mu.Lock()
	r.peers[key] = &peerEntry{
		info:     info,
		path:     path,
		sender:   reliable.NewSender(),
		receiver: reliable.NewReceiver(peerMessageCapacity),
	}
	r.mu.Unlock()

	r.ensureUDP()
	r.engine.mu.Lock()
	cb := r.engine.callbacks.OnPeerJoin
	r.engine.mu.Unlock()
	if cb != nil {
		cb(info)
	}
}

func (r *roster) removePeer(groupID, userID proto.ID) {
	key := peerKey{Group: groupID, User: userID}
	r.mu.Lock()
	_, existed := r.peers[key]
	delete(r.peers, key)
	r.mu.Unlock()

	if !existed {
		return
	}
	r.engine.mu.Lock()
	cb := r.engine.callbacks.OnPeerLeave
	r.engine.mu.Unlock()
	if cb != nil {
		cb(groupID, userID)
	}
}

func (r *roster) removeGroup(groupID proto.ID) {
	r.mu.Lock()
	var removed []peerKey
	for k := range r.peers {
		if k.Group == groupID {
			removed = append(removed, k)
		}
	}
	for _, k := range removed {
		delete(r.peers, k)
	}
	r.mu.Unlock()

	r.engine.mu.Lock()
	cb := r.engine.callbacks.OnGroupEject
	r.engine.mu.Unlock()
	if cb != nil {
		cb(groupID)
	}
}

func (r *roster) updatePeer(groupID, userID proto.ID, metadata []byte) {
	r.mu.Lock()
	entry, ok := r.peers[peerKey{Group: groupID, User: userID}]
	if ok {
		entry.info.Metadata = metadata
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.engine.mu.Lock()
	cb := r.engine.callbacks.OnPeerChanged
	r.engine.mu.Unlock()
	if cb != nil {
		cb(entry.info)
	}
}

// Peers returns a snapshot of every currently tracked peer.
func (e *Engine) Peers() []PeerInfo {
	e.roster.mu.RLock()
	defer e.roster.mu.RUnlock()
	out := make([]PeerInfo, 0, len(e.roster.peers))
	for _, entry := range e.roster.peers {
		out = append(out, entry.info)
	}
	return out
}

// SendMessage sends data to one peer over the peer path, fragmented per
// §4.E. The roster tick retransmits its fragments with backoff until the
// sender's resend limit; peers do not exchange acks on this path, so the
// sender never learns that a message arrived and retransmits every
// message up to that limit.
func (e *Engine) SendMessage(groupID, userID proto.ID, data []byte, flags int32) error {
	e.roster.mu.RLock()
	entry, ok := e.roster.peers[peerKey{Group: groupID, User: userID}]
	e.roster.mu.RUnlock()
	if !ok {
		return proto.NewError(proto.ErrNotFound, "unknown peer")
	}

	conn, err := e.roster.ensureUDP()
	if err != nil {
		return err
	}
	_, packets := entry.sender.QueueMessage(data, maxPeerFrameSize, entry.path.RTT())
	for _, pkt := range packets {
		e.roster.sendMsgPacket(conn, entry, pkt)
	}
	return nil
}
