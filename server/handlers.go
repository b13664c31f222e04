package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"parley/chat"
	"parley/models"
	"parley/protocol"
)

var commands = []string{
	"ping",
	"reg",
	"auth",
	"msg",
	"gmsg",
	"hist",
	"ghist",
	"stat",
	"list",
	"add",
	"del",
	"ren",
	"offmsg",
	"req",
	"reqs",
	"resp",
	"gnew",
	"gjoin",
	"gadd",
	"gmem",
	"bye",
	"help",
}

func (s *Server) handlePing(sess *Session) {
	sess.reply("pong")
}

// reg|name|displayName|password
func (s *Server) handleRegister(sess *Session, pkt *protocol.Packet) {
	name, displayName, password := pkt.Field(0), pkt.Field(1), pkt.Field(2)
	if name == "" || displayName == "" || password == "" {
		sess.sendError("reg", "Invalid data")
		return
	}

	u, err := s.svc.Register(name, displayName, password)
	if err != nil {
		sess.sendError("reg", s.describe("reg", err))
		return
	}

	sess.sendOK("reg", u.ID, u.PhoneNumber)
}

// auth|name|password
func (s *Server) handleAuth(sess *Session, pkt *protocol.Packet) {
	name, password := pkt.Field(0), pkt.Field(1)
	if name == "" || password == "" {
		sess.sendError("auth", "Invalid credentials")
		return
	}

	if userID, ok := s.svc.BoundUser(sess); ok {
		if u, err := s.svc.UserByID(userID); err == nil && u.Name == name {
			sess.sendOK("auth")
			return
		}
	}

	if _, err := s.svc.Authenticate(name, password); err != nil {
		sess.sendError("auth", s.describe("auth", err))
		return
	}

	sess.sendOK("auth")
	if _, err := s.svc.Login(sess, name); err != nil {
		sess.sendError("auth", s.describe("auth", err))
	}
}

// msg|to|body
func (s *Server) handleMessage(sess *Session, pkt *protocol.Packet) {
	s.route(sess, "msg", pkt.Field(0), pkt.Field(1), models.KindDirect)
}

// gmsg|groupId|body
func (s *Server) handleGroupMessage(sess *Session, pkt *protocol.Packet) {
	s.route(sess, "gmsg", pkt.Field(0), pkt.Field(1), models.KindGroup)
}

func (s *Server) route(sess *Session, op, target, body string, kind models.Kind) {
	userID, ok := s.svc.BoundUser(sess)
	if !ok {
		sess.sendError(op, "Not authenticated")
		return
	}
	if target == "" {
		sess.sendError(op, "Recipient required")
		return
	}
	if body == "" {
		sess.sendError(op, "Message text required")
		return
	}

	msg, err := s.svc.Route(userID, target, body, kind)
	if err != nil {
		sess.sendError(op, s.describe(op, err))
		return
	}

	sess.sendOK(op, msg.ID)
}

// hist|peer
func (s *Server) handleHistory(sess *Session, pkt *protocol.Packet) {
	s.history(sess, "hist", pkt.Field(0), models.KindDirect)
}

// ghist|groupId
func (s *Server) handleGroupHistory(sess *Session, pkt *protocol.Packet) {
	s.history(sess, "ghist", pkt.Field(0), models.KindGroup)
}

// history replies with the messages batch itself; there is no ok line.
func (s *Server) history(sess *Session, op, target string, kind models.Kind) {
	userID, ok := s.svc.BoundUser(sess)
	if !ok {
		sess.sendError(op, "Not authenticated")
		return
	}
	if target == "" {
		sess.sendError(op, "Invalid data")
		return
	}

	if _, err := s.svc.FetchHistory(userID, target, kind); err != nil {
		sess.sendError(op, s.describe(op, err))
	}
}

// bound replies "Not authenticated" and returns false for anonymous sessions.
func (s *Server) bound(sess *Session, op string) (string, bool) {
	userID, ok := s.svc.BoundUser(sess)
	if !ok {
		sess.sendError(op, "Not authenticated")
	}
	return userID, ok
}

// stat|name
func (s *Server) handleStat(sess *Session, pkt *protocol.Packet) {
	if _, ok := s.bound(sess, "stat"); !ok {
		return
	}

	u, err := s.svc.Lookup(pkt.Field(0))
	if err != nil {
		sess.sendError("stat", "User not found")
		return
	}

	online := "0"
	if s.svc.Online(u.ID) {
		online = "1"
	}
	sess.sendOK("stat", u.Name, u.DisplayName, u.PhoneNumber, online, presenceTime(u.LastOnline), presenceTime(u.LastOffline))
}

// presenceTime leaves never-recorded presence times empty.
func presenceTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}

// list replies with the pinned chats: key|displayName|kind|lastMessage.
func (s *Server) handleList(sess *Session) {
	userID, ok := s.bound(sess, "list")
	if !ok {
		return
	}

	bindings := s.svc.ListBindings(userID)
	items := make([][]string, 0, len(bindings))
	for _, b := range bindings {
		items = append(items, []string{b.Key(), b.DisplayName, string(b.Kind), b.LastMessage})
	}
	sess.sendList("list", items)
}

// add|peer|displayName pins a direct chat.
func (s *Server) handleAdd(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.bound(sess, "add")
	if !ok {
		return
	}

	peer, displayName := pkt.Field(0), pkt.Field(1)
	if displayName == "" {
		displayName = peer
	}

	err := s.svc.AddBinding(userID, models.ChatBinding{
		PeerKey:     peer,
		DisplayName: displayName,
		Kind:        models.KindDirect,
	})
	if err != nil {
		sess.sendError("add", s.describe("add", err))
		return
	}
	sess.sendOK("add", peer)
}

// del|key unpins a direct chat or a group.
func (s *Server) handleDel(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.bound(sess, "del")
	if !ok {
		return
	}

	// The key matches either a peer name or a group ID.
	key := pkt.Field(0)
	if err := s.svc.RemoveBinding(userID, key, ""); err != nil {
		sess.sendError("del", s.describe("del", err))
		return
	}
	sess.sendOK("del", key)
}

// ren|key|displayName renames a pinned chat.
func (s *Server) handleRename(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.bound(sess, "ren")
	if !ok {
		return
	}

	key := pkt.Field(0)
	if err := s.svc.RenameBinding(userID, key, pkt.Field(1)); err != nil {
		sess.sendError("ren", s.describe("ren", err))
		return
	}
	sess.sendOK("ren", key)
}

// offmsg replies key|count for every chat that got messages while the
// user was away.
func (s *Server) handleOfflineMessages(sess *Session) {
	userID, ok := s.bound(sess, "offmsg")
	if !ok {
		return
	}

	counts, err := s.svc.OfflineCounts(userID)
	if err != nil {
		sess.sendError("offmsg", s.describe("offmsg", err))
		return
	}

	items := make([][]string, 0, len(counts))
	for _, c := range counts {
		items = append(items, []string{c.Key, strconv.Itoa(c.Count)})
	}
	sess.sendList("offmsg", items)
}

// req|name|message asks another user for permission to chat.
func (s *Server) handleRequest(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.bound(sess, "req")
	if !ok {
		return
	}

	to, err := s.svc.Lookup(pkt.Field(0))
	if err != nil {
		sess.sendError("req", "User not found")
		return
	}

	mr, err := s.svc.SubmitRequest(userID, to.ID, pkt.Field(1))
	if err != nil {
		sess.sendError("req", s.describe("req", err))
		return
	}
	sess.sendOK("req", mr.ID)
}

// reqs replies with the pending requests addressed to the caller.
func (s *Server) handlePendingRequests(sess *Session) {
	userID, ok := s.bound(sess, "reqs")
	if !ok {
		return
	}

	pending := s.svc.PendingFor(userID)
	items := make([][]string, 0, len(pending))
	for _, r := range pending {
		items = append(items, requestFields(r))
	}
	sess.sendList("reqs", items)
}

// resp|requestId|1 accepts, resp|requestId|0 declines.
func (s *Server) handleRespond(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.bound(sess, "resp")
	if !ok {
		return
	}

	accept, err := strconv.ParseBool(pkt.Field(1))
	if err != nil {
		sess.sendError("resp", "Invalid data")
		return
	}

	if err := s.svc.Respond(pkt.Field(0), userID, accept); err != nil {
		if errors.Is(err, chat.ErrAlreadyResolved) {
			sess.sendError("resp", "Already resolved")
			return
		}
		sess.sendError("resp", s.describe("resp", err))
		return
	}
	sess.sendOK("resp", pkt.Field(0))
}

// gnew|name
func (s *Server) handleCreateGroup(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.bound(sess, "gnew")
	if !ok {
		return
	}

	g, err := s.svc.CreateGroup(pkt.Field(0), userID)
	if err != nil {
		sess.sendError("gnew", s.describe("gnew", err))
		return
	}
	sess.sendOK("gnew", g.ID, g.Name)
}

// gjoin|groupId
func (s *Server) handleJoinGroup(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.bound(sess, "gjoin")
	if !ok {
		return
	}

	if err := s.svc.JoinGroup(pkt.Field(0), userID); err != nil {
		sess.sendError("gjoin", s.describe("gjoin", err))
		return
	}
	sess.sendOK("gjoin", pkt.Field(0))
}

// gadd|groupId|name adds another user to a group the caller belongs to.
func (s *Server) handleAddMember(sess *Session, pkt *protocol.Packet) {
	userID, ok := s.bound(sess, "gadd")
	if !ok {
		return
	}

	added, err := s.svc.AddMember(pkt.Field(0), userID, pkt.Field(1))
	if err != nil {
		sess.sendError("gadd", s.describe("gadd", err))
		return
	}
	if !added {
		sess.sendOK("gadd", pkt.Field(1), "already")
		return
	}
	sess.sendOK("gadd", pkt.Field(1))
}

// gmem|groupId replies id|name|displayName|online per member.
func (s *Server) handleMembers(sess *Session, pkt *protocol.Packet) {
	if _, ok := s.bound(sess, "gmem"); !ok {
		return
	}

	members, err := s.svc.MembersWithStatus(pkt.Field(0))
	if err != nil {
		sess.sendError("gmem", s.describe("gmem", err))
		return
	}

	items := make([][]string, 0, len(members))
	for _, m := range members {
		online := "0"
		if m.Online {
			online = "1"
		}
		items = append(items, []string{m.ID, m.Name, m.DisplayName, online})
	}
	sess.sendList("gmem", items)
}

func (s *Server) handleBye(sess *Session) {
	sess.reply("bye")
	// The connection is released by handleConnection once this returns.
}

func (s *Server) handleHelp(sess *Session) {
	line := protocol.Escape("help") + "|" + strings.Join(commands, ",") + "\n"
	sess.Send(chat.Event{Type: eventReply, Payload: line})
}

// describe turns a service error into the short text sent in fail lines.
func (s *Server) describe(op string, err error) string {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		return "Not authenticated"
	case errors.Is(err, chat.ErrAuth):
		return "Invalid credentials"
	case errors.Is(err, chat.ErrConflict):
		return "User already exists"
	case errors.Is(err, chat.ErrValidation):
		return "Invalid data"
	case errors.Is(err, chat.ErrNotAMember):
		return "Not a member"
	case errors.Is(err, chat.ErrGroupNotFound):
		return "Group not found"
	case errors.Is(err, chat.ErrNotFound):
		if op == "msg" || op == "req" {
			return "Recipient not found"
		}
		return "Not found"
	}

	s.logger.WithError(err).WithField("op", op).Error("Internal error")
	return "Internal error"
}
