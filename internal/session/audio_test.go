package session

import (
	"net"
	"testing"
	"time"

	"aoo/internal/jitter"
	"aoo/internal/peerpath"
	"aoo/internal/proto"
)

// connectPeers wires e1 and e2 as directly-connected roster peers of
// each other, bypassing the handshake so tests can drive audio traffic
// without a full peer-path negotiation.
func connectPeers(t *testing.T, e1, e2 *Engine, gid proto.ID, uid1, uid2 proto.ID) {
	t.Helper()

	conn1, err := e1.roster.ensureUDP()
	if err != nil {
		t.Fatalf("ensure udp 1: %v", err)
	}
	conn2, err := e2.roster.ensureUDP()
	if err != nil {
		t.Fatalf("ensure udp 2: %v", err)
	}
	addr1 := proto.AddrFromUDP(conn1.LocalAddr().(*net.UDPAddr))
	addr2 := proto.AddrFromUDP(conn2.LocalAddr().(*net.UDPAddr))

	e1.roster.addPeer(PeerInfo{GroupID: gid, UserID: uid2}, []proto.Addr{addr2})
	e2.roster.addPeer(PeerInfo{GroupID: gid, UserID: uid1}, []proto.Addr{addr1})

	e1.roster.mu.RLock()
	entry1 := e1.roster.peers[peerKey{Group: gid, User: uid2}]
	e1.roster.mu.RUnlock()
	entry1.path.HandlePing(addr2, true)

	e2.roster.mu.RLock()
	entry2 := e2.roster.peers[peerKey{Group: gid, User: uid1}]
	e2.roster.mu.RUnlock()
	entry2.path.HandlePing(addr1, true)
}

func newAudioEngine(t *testing.T, localUserID proto.ID) *Engine {
	t.Helper()
	e := New(peerpath.Config{})
	e.mu.Lock()
	e.localUserID = localUserID
	e.mu.Unlock()
	return e
}

func TestSendAudioBlockDeliversFormatAndData(t *testing.T) {
	e1 := newAudioEngine(t, 1)
	e2 := newAudioEngine(t, 2)
	t.Cleanup(func() { e1.Disconnect(); e2.Disconnect() })

	connectPeers(t, e1, e2, 10, 1, 2)

	cfg := AudioConfig{
		SampleRate: 48000, Channels: 1, BlockSize: 128,
		ResendBufferMs: 100,
		Jitter:         jitter.Config{Capacity: 8},
	}
	if err := e1.EnableAudio(cfg); err != nil {
		t.Fatalf("enable audio e1: %v", err)
	}
	if err := e2.EnableAudio(cfg); err != nil {
		t.Fatalf("enable audio e2: %v", err)
	}
	e1.PlayAudio()

	pcm := make([]int16, cfg.BlockSize*cfg.Channels)
	for i := range pcm {
		pcm[i] = int16(i)
	}
	if err := e1.SendAudioBlock(pcm); err != nil {
		t.Fatalf("send audio block: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var decoded []DecodedAudio
	for time.Now().Before(deadline) {
		decoded = e2.PopAudio()
		if len(decoded) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(decoded) == 0 {
		t.Fatal("timed out waiting for decoded audio on the receiving engine")
	}
	if decoded[0].SourceID != 1 {
		t.Errorf("expected decoded block attributed to source 1, got %v", decoded[0].SourceID)
	}
	if len(decoded[0].PCM) != cfg.BlockSize*cfg.Channels {
		t.Errorf("expected %d decoded samples, got %d", cfg.BlockSize*cfg.Channels, len(decoded[0].PCM))
	}
}

// TestHandleDataRequestResendsCachedBlock drives a data_request from a
// bare UDP socket (standing in for a remote sink) straight at the wire
// protocol, so it can inspect the resent "data" message without also
// exercising the jitter buffer's own dedup-on-replay behaviour.
func TestHandleDataRequestResendsCachedBlock(t *testing.T) {
	e1 := newAudioEngine(t, 1)
	t.Cleanup(func() { e1.Disconnect() })

	cfg := AudioConfig{SampleRate: 48000, Channels: 1, BlockSize: 64, ResendBufferMs: 200}
	if err := e1.EnableAudio(cfg); err != nil {
		t.Fatalf("enable audio: %v", err)
	}
	e1.PlayAudio()

	pcm := make([]int16, cfg.BlockSize*cfg.Channels)
	if err := e1.SendAudioBlock(pcm); err != nil {
		t.Fatalf("send audio block: %v", err)
	}

	conn1, err := e1.roster.ensureUDP()
	if err != nil {
		t.Fatalf("ensure udp: %v", err)
	}
	requester, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen requester: %v", err)
	}
	defer requester.Close()
	reqAddr := proto.AddrFromUDP(requester.LocalAddr().(*net.UDPAddr))

	e1.roster.addPeer(PeerInfo{GroupID: 10, UserID: 99}, []proto.Addr{reqAddr})
	e1.roster.mu.RLock()
	entry := e1.roster.peers[peerKey{Group: 10, User: 99}]
	e1.roster.mu.RUnlock()
	entry.path.HandlePing(reqAddr, true)

	h := proto.Header{Type: proto.TypeSink, Cmd: "data_request"}
	args := []proto.Arg{int32(10), int32(99), int32(0), int32(-1)}
	hdr := proto.EncodeOSCHeader(h)
	body, err := proto.EncodeArgs(args)
	if err != nil {
		t.Fatalf("encode args: %v", err)
	}
	if _, err := requester.WriteTo(append(hdr, body...), conn1.LocalAddr()); err != nil {
		t.Fatalf("send data_request: %v", err)
	}

	requester.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, proto.MaxDatagramSize)
	n, _, err := requester.ReadFrom(buf)
	if err != nil {
		t.Fatalf("timed out waiting for resent data: %v", err)
	}
	rh, off, err := proto.DecodeOSCHeader(buf[:n])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if rh.Type != proto.TypeSource || rh.Cmd != "data" {
		t.Fatalf("expected a TypeSource data reply, got %+v", rh)
	}
	rargs, _, err := proto.DecodeArgs(buf[off:n])
	if err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if seq, _ := rargs[3].(int32); seq != 0 {
		t.Errorf("expected resent seq 0, got %v", seq)
	}
	if data, _ := rargs[6].([]byte); len(data) == 0 {
		t.Error("expected non-empty resent block data")
	}
}
