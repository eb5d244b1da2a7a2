package session

import (
	"context"

	"aoo/internal/proto"
)

// JoinResult is what a successful JoinGroup call returns: the ids and
// metadata assigned by the rendezvous server.
type JoinResult struct {
	GroupID       proto.ID
	UserID        proto.ID
	GroupFlags    int32
	UserFlags     int32
	GroupMetadata []byte
	UserMetadata  []byte
	PeerMetadata  []byte
	Relay         bool
}

func boolArg(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// JoinGroup requests membership in a group, auto-creating it (and/or
// the user) server-side if allowed and the password checks pass.
func (e *Engine) JoinGroup(ctx context.Context, groupName, userName, groupPwd, userPwd string, groupMeta, userMeta []byte, relay bool) (*JoinResult, error) {
	reply, err := e.doRequest(ctx, proto.Header{Type: proto.TypeServer, Cmd: "group/join"},
		groupName, proto.HashPassword(groupPwd), userName, proto.HashPassword(userPwd),
		groupMeta, userMeta, boolArg(relay))
	if err != nil {
		return nil, err
	}
	args := reply.Args
	if len(args) < 8 {
		return nil, proto.NewError(proto.ErrBadFormat, "malformed group join reply")
	}
	result, _ := args[0].(int32)
	if result == 0 {
		return nil, proto.NewError(proto.ErrBadArgument, "group join rejected")
	}
	gid, _ := args[1].(int32)
	gflags, _ := args[2].(int32)
	uid, _ := args[3].(int32)
	uflags, _ := args[4].(int32)
	gmd, _ := args[5].([]byte)
	umd, _ := args[6].([]byte)
	pmd, _ := args[7].([]byte)

	return &JoinResult{
		GroupID: proto.ID(gid), UserID: proto.ID(uid),
		GroupFlags: gflags, UserFlags: uflags,
		GroupMetadata: gmd, UserMetadata: umd, PeerMetadata: pmd,
		Relay: relay,
	}, nil
}

// LeaveGroup requests departure from a group, then clears every local
// peer that belonged to it (the server's own peer_leave broadcasts
// cover the rest of the group, not this client's view of itself).
func (e *Engine) LeaveGroup(ctx context.Context, groupID proto.ID) error {
	_, err := e.doRequest(ctx, proto.Header{Type: proto.TypeServer, Cmd: "group/leave"}, int32(groupID))
	if err != nil {
		return err
	}
	e.roster.removeGroup(groupID)
	return nil
}

// UpdateGroup pushes new group metadata to the server.
func (e *Engine) UpdateGroup(ctx context.Context, groupID proto.ID, metadata []byte) error {
	_, err := e.doRequest(ctx, proto.Header{Type: proto.TypeServer, Cmd: "group/update"}, int32(groupID), metadata)
	return err
}

// UpdateUser pushes new user metadata to the server, broadcast to
// every group this client belongs to as a peer_changed event.
func (e *Engine) UpdateUser(ctx context.Context, metadata []byte) error {
	_, err := e.doRequest(ctx, proto.Header{Type: proto.TypeServer, Cmd: "user/update"}, metadata)
	return err
}

// CustomRequest sends an opaque application-defined request and
// returns the server's opaque reply payload.
func (e *Engine) CustomRequest(ctx context.Context, data []byte) ([]byte, error) {
	reply, err := e.doRequest(ctx, proto.Header{Type: proto.TypeServer, Cmd: "custom"}, data)
	if err != nil {
		return nil, err
	}
	if len(reply.Args) < 1 {
		return nil, nil
	}
	out, _ := reply.Args[0].([]byte)
	return out, nil
}

// handlePushEvent processes an unsolicited (non-token) server message:
// peer roster changes and group ejection.
func (e *Engine) handlePushEvent(h proto.Header, args []proto.Arg) {
	if h.Type != proto.TypeClient {
		return
	}
	switch h.Cmd {
	case "peer/join":
		e.handlePeerJoin(args)
	case "peer/leave":
		if len(args) >= 2 {
			gid, _ := args[0].(int32)
			uid, _ := args[1].(int32)
			e.roster.removePeer(proto.ID(gid), proto.ID(uid))
		}
	case "peer/changed":
		if len(args) >= 3 {
			gid, _ := args[0].(int32)
			uid, _ := args[1].(int32)
			md, _ := args[2].([]byte)
			e.roster.updatePeer(proto.ID(gid), proto.ID(uid), md)
		}
	case "group/eject":
		if len(args) >= 1 {
			gid, _ := args[0].(int32)
			e.roster.removeGroup(proto.ID(gid))
		}
	}
}

func (e *Engine) handlePeerJoin(args []proto.Arg) {
	if len(args) < 7 {
		return
	}
	gname, _ := args[0].(string)
	gid, _ := args[1].(int32)
	uname, _ := args[2].(string)
	uid, _ := args[3].(int32)
	_, _ = args[4].(int32) // flags: reserved for future use
	addrList, _ := args[5].(string)
	md, _ := args[6].([]byte)

	info := PeerInfo{
		GroupID: proto.ID(gid), UserID: proto.ID(uid),
		GroupName: gname, UserName: uname, Metadata: md,
	}
	e.roster.addPeer(info, proto.DecodeAddrList(addrList))
}
