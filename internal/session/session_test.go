package session

import (
	"bufio"
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"aoo/internal/peerpath"
	"aoo/internal/proto"
)

// fakeServer accepts a single TCP connection and lets the test script
// request/reply exchanges by hand, standing in for a rendezvous server.
type fakeServer struct {
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func startFakeServer(t *testing.T) (*fakeServer, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeServer{ln: ln}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fs.conn = conn
		fs.r = bufio.NewReader(conn)
		fs.w = bufio.NewWriter(conn)
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	t.Cleanup(func() {
		ln.Close()
		if fs.conn != nil {
			fs.conn.Close()
		}
	})
	return fs, host, port
}

func (fs *fakeServer) waitConnected(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for fs.conn == nil {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for client connection")
		}
		time.Sleep(time.Millisecond)
	}
}

func (fs *fakeServer) recv(t *testing.T) (proto.Header, []proto.Arg) {
	t.Helper()
	frame, err := proto.ReadTCPFrame(fs.r)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	h, n, err := proto.DecodeOSCHeader(frame)
	if err != nil {
		t.Fatalf("server decode header: %v", err)
	}
	args, _, err := proto.DecodeArgs(frame[n:])
	if err != nil {
		t.Fatalf("server decode args: %v", err)
	}
	return h, args
}

func (fs *fakeServer) send(t *testing.T, h proto.Header, args []proto.Arg) {
	t.Helper()
	hdr := proto.EncodeOSCHeader(h)
	body, err := proto.EncodeArgs(args)
	if err != nil {
		t.Fatalf("server encode args: %v", err)
	}
	if err := proto.WriteTCPFrame(fs.w, append(hdr, body...)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	fs.w.Flush()
}

func TestConnectLoginRoundTrip(t *testing.T) {
	fs, host, port := startFakeServer(t)

	done := make(chan error, 1)
	e := New(peerpath.Config{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- e.Connect(ctx, host, port, "secret", []byte("meta"))
	}()

	fs.waitConnected(t)
	h, args := fs.recv(t)
	if h.Type != proto.TypeServer || h.Cmd != "login" {
		t.Fatalf("expected login request, got %+v", h)
	}
	token, _ := args[0].(string)
	if token == "" {
		t.Fatal("expected non-empty request token")
	}
	if pwdHash, ok := args[2].(string); !ok || pwdHash != proto.HashPassword("secret") {
		t.Errorf("expected matching password hash, got %v", args[2])
	}

	fs.send(t, proto.Header{Type: proto.TypeClient, Cmd: "login"}, []proto.Arg{token, int32(7)})

	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}
	if e.LocalUserID() != 7 {
		t.Errorf("expected local user id 7, got %v", e.LocalUserID())
	}
	e.Disconnect()
}

func TestJoinGroupRoundTrip(t *testing.T) {
	fs, host, port := startFakeServer(t)
	e := New(peerpath.Config{})

	connDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		connDone <- e.Connect(ctx, host, port, "", nil)
	}()
	fs.waitConnected(t)
	_, loginArgs := fs.recv(t)
	fs.send(t, proto.Header{Type: proto.TypeClient, Cmd: "login"}, []proto.Arg{loginArgs[0], int32(1)})
	if err := <-connDone; err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer e.Disconnect()

	joinDone := make(chan *JoinResult, 1)
	joinErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r, err := e.JoinGroup(ctx, "band", "alice", "gpwd", "upwd", nil, nil, true)
		joinDone <- r
		joinErr <- err
	}()

	h, args := fs.recv(t)
	if h.Cmd != "group/join" {
		t.Fatalf("expected group/join request, got %+v", h)
	}
	token, _ := args[0].(string)
	fs.send(t, proto.Header{Type: proto.TypeClient, Cmd: "group/join"}, []proto.Arg{
		token, int32(1), int32(10), int32(0), int32(20), int32(0),
		[]byte{}, []byte{}, []byte{},
	})

	result := <-joinDone
	if err := <-joinErr; err != nil {
		t.Fatalf("join group: %v", err)
	}
	if result.GroupID != 10 || result.UserID != 20 {
		t.Errorf("unexpected join result: %+v", result)
	}
}

func TestPeerJoinEventPopulatesRoster(t *testing.T) {
	fs, host, port := startFakeServer(t)
	e := New(peerpath.Config{})

	var joined PeerInfo
	joinedCh := make(chan struct{}, 1)
	e.SetCallbacks(Callbacks{OnPeerJoin: func(p PeerInfo) { joined = p; joinedCh <- struct{}{} }})

	connDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		connDone <- e.Connect(ctx, host, port, "", nil)
	}()
	fs.waitConnected(t)
	_, loginArgs := fs.recv(t)
	fs.send(t, proto.Header{Type: proto.TypeClient, Cmd: "login"}, []proto.Arg{loginArgs[0], int32(1)})
	if err := <-connDone; err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer e.Disconnect()

	fs.send(t, proto.Header{Type: proto.TypeClient, Cmd: "peer/join"}, []proto.Arg{
		"band", int32(10), "bob", int32(21), int32(0),
		proto.EncodeAddrList([]proto.Addr{{IP: netip.MustParseAddr("10.0.0.5"), Port: 9000, Family: proto.FamilyIPv4}}),
		[]byte{},
	})

	select {
	case <-joinedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer join callback")
	}
	if joined.GroupID != 10 || joined.UserID != 21 || joined.UserName != "bob" {
		t.Errorf("unexpected peer info: %+v", joined)
	}
	if len(e.Peers()) != 1 {
		t.Errorf("expected 1 tracked peer, got %d", len(e.Peers()))
	}
}
