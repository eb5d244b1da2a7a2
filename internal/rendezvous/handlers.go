package rendezvous

import (
	"log"

	"aoo/internal/proto"
)

func (s *Server) handleLogin(cc *clientConn, token string, args []proto.Arg) {
	if len(args) < 2 {
		cc.reply("login", token, int32(0))
		return
	}
	pwdHash, _ := args[1].(string)
	_ = pwdHash // session-level gating only, per §6; no server-wide password configured here

	id := proto.ID(s.nextClientID.Add(1))
	cc.id = id

	s.mu.Lock()
	s.clients[id] = cc
	s.mu.Unlock()

	cc.reply("login", token, int32(id))
}

func (s *Server) handleGroupJoin(cc *clientConn, token string, args []proto.Arg) {
	if !cc.id.Valid() || len(args) < 6 {
		cc.reply("group/join", token, int32(0))
		return
	}
	gname, _ := args[0].(string)
	gpwdHash, _ := args[1].(string)
	uname, _ := args[2].(string)
	upwdHash, _ := args[3].(string)
	gmd, _ := args[4].([]byte)
	umd, _ := args[5].([]byte)

	s.mu.Lock()
	group, ok := s.groupsByNm[gname]
	if !ok {
		if !s.cfg.AllowAutoCreateGroup {
			s.mu.Unlock()
			cc.reply("group/join", token, int32(0))
			return
		}
		group = &groupRecord{
			id: proto.ID(s.nextGroupID.Add(1)), name: gname,
			metadata: gmd, passwordHash: gpwdHash,
			persistent: s.cfg.Persist != nil,
			members:    make(map[proto.ID]*clientConn),
		}
		s.groupsByNm[gname] = group
		s.groupsByID[group.id] = group
		if s.cfg.Persist != nil {
			if _, err := s.cfg.Persist.UpsertGroup(gname, gpwdHash, gmd); err != nil {
				log.Printf("rendezvous: persist group %q: %v", gname, err)
			}
		}
	} else if group.passwordHash != "" && group.passwordHash != gpwdHash {
		s.mu.Unlock()
		cc.reply("group/join", token, int32(0))
		return
	}

	user, ok := s.usersByNm[uname]
	if !ok {
		if !s.cfg.AllowAutoCreateUser {
			s.mu.Unlock()
			cc.reply("group/join", token, int32(0))
			return
		}
		user = &userRecord{id: cc.id, name: uname, metadata: umd, passwordHash: upwdHash}
		s.usersByNm[uname] = user
		if s.cfg.Persist != nil {
			if _, err := s.cfg.Persist.UpsertUser(uname, upwdHash, umd); err != nil {
				log.Printf("rendezvous: persist user %q: %v", uname, err)
			}
		}
	} else if user.passwordHash != "" && user.passwordHash != upwdHash {
		s.mu.Unlock()
		cc.reply("group/join", token, int32(0))
		return
	}

	existingMembers := make([]*clientConn, 0, len(group.members))
	for _, m := range group.members {
		existingMembers = append(existingMembers, m)
	}
	group.members[cc.id] = cc
	s.mu.Unlock()

	cc.mu.Lock()
	cc.groups[group.id] = true
	cc.mu.Unlock()

	addrList := proto.EncodeAddrList([]proto.Addr{cc.remote})

	cc.reply("group/join", token, int32(1), int32(group.id), int32(0),
		int32(cc.id), int32(0), gmd, umd, []byte{})

	// Broadcast the joiner to every existing member, and every existing
	// member back to the joiner, mirroring §4.I's "peer-add back to the
	// joiner for each of them."
	for _, m := range existingMembers {
		m.send(proto.Header{Type: proto.TypeClient, Cmd: "peer/join"}, []proto.Arg{
			gname, int32(group.id), uname, int32(cc.id), int32(0), addrList, umd,
		})
		cc.send(proto.Header{Type: proto.TypeClient, Cmd: "peer/join"}, []proto.Arg{
			gname, int32(group.id), m.name, int32(m.id), int32(0),
			proto.EncodeAddrList([]proto.Addr{m.remote}), m.metadata,
		})
	}
	cc.name = uname
	cc.metadata = umd

	s.emit(Event{Type: "join", GroupID: group.id, GroupName: gname, UserID: cc.id, UserName: uname})
}

func (s *Server) handleGroupLeave(cc *clientConn, token string, args []proto.Arg) {
	if len(args) < 1 {
		cc.reply("group/leave", token, int32(0))
		return
	}
	gid, _ := args[0].(int32)
	s.removeFromGroup(cc, proto.ID(gid))
	cc.reply("group/leave", token, int32(1))
}

func (s *Server) handleGroupUpdate(cc *clientConn, token string, args []proto.Arg) {
	if len(args) < 2 {
		cc.reply("group/update", token, int32(0))
		return
	}
	gid, _ := args[0].(int32)
	md, _ := args[1].([]byte)

	s.mu.Lock()
	group, ok := s.groupsByID[proto.ID(gid)]
	if ok {
		group.metadata = md
		if s.cfg.Persist != nil && group.persistent {
			if _, err := s.cfg.Persist.UpsertGroup(group.name, group.passwordHash, md); err != nil {
				log.Printf("rendezvous: persist group update %q: %v", group.name, err)
			}
		}
	}
	s.mu.Unlock()

	cc.reply("group/update", token, int32(boolToFlag(ok)))
}

func (s *Server) handleUserUpdate(cc *clientConn, token string, args []proto.Arg) {
	if len(args) < 1 {
		cc.reply("user/update", token, int32(0))
		return
	}
	md, _ := args[0].([]byte)

	s.mu.Lock()
	if u, ok := s.usersByNm[cc.name]; ok {
		u.metadata = md
		if s.cfg.Persist != nil {
			if _, err := s.cfg.Persist.UpsertUser(u.name, u.passwordHash, md); err != nil {
				log.Printf("rendezvous: persist user update %q: %v", u.name, err)
			}
		}
	}
	cc.mu.Lock()
	groups := make([]proto.ID, 0, len(cc.groups))
	for g := range cc.groups {
		groups = append(groups, g)
	}
	cc.mu.Unlock()
	var members []*clientConn
	for _, gid := range groups {
		if g, ok := s.groupsByID[gid]; ok {
			for id, m := range g.members {
				if id != cc.id {
					members = append(members, m)
				}
			}
		}
	}
	s.mu.Unlock()

	for _, m := range members {
		for _, gid := range groups {
			m.send(proto.Header{Type: proto.TypeClient, Cmd: "peer/changed"}, []proto.Arg{
				int32(gid), int32(cc.id), md,
			})
		}
	}
	cc.reply("user/update", token, int32(1))
}

// handleCustomRequest is a placeholder echo hook for application-defined
// out-of-band requests; a real deployment would dispatch on the opaque
// payload's own framing.
func (s *Server) handleCustomRequest(cc *clientConn, token string, args []proto.Arg) {
	var data []byte
	if len(args) >= 1 {
		data, _ = args[0].([]byte)
	}
	cc.reply("custom", token, data)
}

// removeFromGroup removes cc from gid, broadcasts peer/leave to the
// remaining members, and deletes the group if it's now empty and not
// flagged persistent.
func (s *Server) removeFromGroup(cc *clientConn, gid proto.ID) {
	s.mu.Lock()
	group, ok := s.groupsByID[gid]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, inGroup := group.members[cc.id]; !inGroup {
		s.mu.Unlock()
		return
	}
	delete(group.members, cc.id)

	remaining := make([]*clientConn, 0, len(group.members))
	for _, m := range group.members {
		remaining = append(remaining, m)
	}
	empty := len(group.members) == 0
	if empty && !group.persistent {
		delete(s.groupsByID, gid)
		delete(s.groupsByNm, group.name)
	}
	s.mu.Unlock()

	cc.mu.Lock()
	delete(cc.groups, gid)
	cc.mu.Unlock()

	for _, m := range remaining {
		m.send(proto.Header{Type: proto.TypeClient, Cmd: "peer/leave"}, []proto.Arg{int32(gid), int32(cc.id)})
	}

	s.emit(Event{Type: "leave", GroupID: gid, GroupName: group.name, UserID: cc.id, UserName: cc.name})
}

func (s *Server) handleDisconnect(cc *clientConn) {
	if !cc.id.Valid() {
		return
	}
	cc.mu.Lock()
	groups := make([]proto.ID, 0, len(cc.groups))
	for g := range cc.groups {
		groups = append(groups, g)
	}
	cc.mu.Unlock()

	for _, gid := range groups {
		s.removeFromGroup(cc, gid)
	}

	s.mu.Lock()
	delete(s.clients, cc.id)
	s.mu.Unlock()
}

func boolToFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
