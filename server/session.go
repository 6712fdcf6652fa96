package server

import (
	"bufio"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"lanchat/models"
	"lanchat/wire"
)

// Session is one live connection. The handler loop is its sole reader; the
// write pump is the sole writer, so per-recipient frame order is exactly
// enqueue order.
type Session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader

	userID int64 // -1 until authenticated
	name   string

	sendMu sync.Mutex
	send   chan *wire.Frame
	closed bool

	// pending is the file-transfer slot: armed by SEND_FILE/SEND_GROUP_FILE,
	// consumed by the next blob, overwritten by the next metadata command.
	// Owned by the handler loop, no locking needed.
	pending *pendingTransfer
}

// pendingTransfer targets a peer XOR a group, never both.
type pendingTransfer struct {
	receiverID int64
	groupID    int64
	fileName   string
	armedAt    time.Time
}

func newSession(s *Server, conn net.Conn) *Session {
	return &Session{
		server: s,
		conn:   conn,
		reader: bufio.NewReader(conn),
		userID: -1,
		send:   make(chan *wire.Frame, s.config.Limits.SendQueue),
	}
}

// writePump drains the outbound channel onto the socket, then closes it.
// Draining after close() means queued replies still reach the peer before
// the connection goes away.
func (sess *Session) writePump() {
	defer sess.conn.Close()
	timeout := time.Duration(sess.server.config.Server.WriteTimeout) * time.Second
	for frame := range sess.send {
		sess.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := wire.WriteFrame(sess.conn, frame); err != nil {
			log.Printf("write error for user %d: %v", sess.userID, err)
			return
		}
	}
}

// enqueue hands frames to the write pump. A full queue drops the frames:
// delivery is fire-and-forget and an unreachable peer just misses out.
// Enqueueing on a closed session is a silent no-op.
func (sess *Session) enqueue(frames ...*wire.Frame) {
	sess.sendMu.Lock()
	defer sess.sendMu.Unlock()
	if sess.closed {
		return
	}
	for _, frame := range frames {
		select {
		case sess.send <- frame:
		default:
			log.Printf("send queue full for user %d, dropping frame kind %d", sess.userID, frame.Kind)
		}
	}
}

func (sess *Session) sendCommand(fields ...string) {
	sess.enqueue(wire.NewCommand(fields...))
}

// close stops accepting frames and lets the write pump finish the queue and
// close the connection.
func (sess *Session) close() {
	sess.sendMu.Lock()
	defer sess.sendMu.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true
	close(sess.send)
}

// readFrame blocks for the next frame. A read-deadline hit means "keep
// waiting", not failure.
func (sess *Session) readFrame() (*wire.Frame, error) {
	timeout := time.Duration(sess.server.config.Server.ReadTimeout) * time.Second
	for {
		sess.conn.SetReadDeadline(time.Now().Add(timeout))
		frame, err := wire.ReadFrame(sess.reader)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return nil, err
		}
		return frame, nil
	}
}

// handshake runs the entry protocol: the first object must be a command and
// one of REGISTER_REQUEST, RESUME_SESSION or LOGIN_REQUEST. Returns true when
// the session is authenticated and the main loop should run.
func (sess *Session) handshake() bool {
	frame, err := sess.readFrame()
	if err != nil {
		return false
	}
	if frame.Kind != wire.KindCommand {
		sess.sendCommand(wire.CmdLoginResponse, wire.StatusFail, "command expected")
		return false
	}

	fields := frame.Command()
	switch fields[0] {
	case wire.CmdRegisterRequest:
		// Registration is not a session: reply and close regardless of
		// outcome.
		sess.handleRegister(fields)
		return false
	case wire.CmdResumeSession:
		return sess.handleResume(fields)
	case wire.CmdLoginRequest:
		return sess.handleLogin(fields)
	default:
		sess.sendCommand(wire.CmdLoginResponse, wire.StatusFail, "not authenticated")
		return false
	}
}

func (sess *Session) handleRegister(fields []string) {
	if len(fields) < 4 {
		sess.sendCommand(wire.CmdRegisterResponse, wire.StatusFail, "invalid registration data")
		return
	}
	username, fullName, password := fields[1], fields[2], fields[3]
	var email, phone string
	if len(fields) > 4 {
		email = fields[4]
	}
	if len(fields) > 5 {
		phone = fields[5]
	}

	if username == "" || password == "" {
		sess.sendCommand(wire.CmdRegisterResponse, wire.StatusFail, "invalid registration data")
		return
	}

	id, err := sess.server.store.CreateUser(username, fullName, password, email, phone)
	if err != nil {
		sess.sendCommand(wire.CmdRegisterResponse, wire.StatusFail, err.Error())
		return
	}
	log.Printf("registered user %d (%s)", id, username)
	sess.sendCommand(wire.CmdRegisterResponse, wire.StatusSuccess, formatID(id))
}

// handleResume re-attaches a previously issued identity without a password
// check, then hints the client to refresh its caches.
func (sess *Session) handleResume(fields []string) bool {
	if len(fields) < 2 {
		sess.sendCommand(wire.CmdResumeSession, wire.StatusFail, "user id required")
		return false
	}
	userID, err := parseID(fields[1])
	if err != nil {
		sess.sendCommand(wire.CmdResumeSession, wire.StatusFail, "invalid user id")
		return false
	}

	user, err := sess.server.store.GetUser(userID)
	if err != nil {
		sess.sendCommand(wire.CmdResumeSession, wire.StatusFail, "unknown user")
		return false
	}

	sess.userID = user.ID
	sess.name = user.Username
	sess.server.registry.Register(user.ID, user.Username, sess)

	sess.sendCommand(wire.CmdResumeSession, wire.StatusOK)
	sess.sendCommand(wire.CmdFriendsUpdate)
	sess.sendCommand(wire.CmdGroupsUpdate)

	sess.server.broadcastToFriends(user.ID,
		wire.NewCommand(wire.CmdUserOnline, formatID(user.ID), user.Username))
	return true
}

func (sess *Session) handleLogin(fields []string) bool {
	if len(fields) < 3 {
		sess.sendCommand(wire.CmdLoginResponse, wire.StatusFail, "credentials required")
		return false
	}

	user, err := sess.server.store.AuthenticateUser(fields[1], fields[2])
	if err != nil {
		log.Printf("login error for %q: %v", fields[1], err)
		sess.sendCommand(wire.CmdLoginResponse, wire.StatusFail, "internal error")
		return false
	}
	if user == nil {
		sess.sendCommand(wire.CmdLoginResponse, wire.StatusFail, "invalid credentials")
		return false
	}

	sess.userID = user.ID
	sess.name = user.Username

	if !sess.loginBurst(user) {
		sess.server.registry.Deregister(user.ID, sess)
		sess.sendCommand(wire.CmdLoginResponse, wire.StatusFail, "internal error")
		return false
	}

	sess.server.broadcastToFriends(user.ID,
		wire.NewCommand(wire.CmdUserOnline, formatID(user.ID), user.Username))
	log.Printf("user %d (%s) logged in", user.ID, user.Username)
	return true
}

// loginBurst pushes the fixed post-login object sequence. The order is a
// protocol contract: the client gives ordinal meaning to the id lists, so the
// friend list must precede the pending list, which must precede the online
// list. The session only enters the registry once every store query has
// succeeded; a failed burst must not leave the user looking online.
func (sess *Session) loginBurst(user *models.User) bool {
	store := sess.server.store

	friendIDs, err := store.GetFriendIDs(user.ID)
	if err != nil {
		return false
	}
	history, err := store.GetUserMessages(user.ID)
	if err != nil {
		return false
	}
	pendingIDs, err := store.GetIncomingRequestIDs(user.ID)
	if err != nil {
		return false
	}
	groups, err := store.GetUserGroups(user.ID)
	if err != nil {
		return false
	}

	// Register before reading the online list so it includes the user
	// themselves.
	sess.server.registry.Register(user.ID, user.Username, sess)

	sess.sendCommand(wire.CmdLoginResponse, wire.StatusSuccess, formatID(user.ID))

	friendsFrame, err := wire.NewIDList(friendIDs)
	if err != nil {
		return false
	}
	sess.enqueue(friendsFrame)

	if history == nil {
		history = []models.Message{}
	}
	historyFrame, err := wire.NewJSON(wire.KindMessageList, history)
	if err != nil {
		return false
	}
	sess.enqueue(historyFrame)

	// The pending list is only sent when non-empty; the client counts the
	// id lists it receives and an empty pending list would shift the online
	// list into its slot.
	if len(pendingIDs) > 0 {
		pendingFrame, err := wire.NewIDList(pendingIDs)
		if err != nil {
			return false
		}
		sess.enqueue(pendingFrame)
	}

	if groups == nil {
		groups = []models.Group{}
	}
	groupsFrame, err := wire.NewJSON(wire.KindGroupList, groups)
	if err != nil {
		return false
	}
	sess.enqueue(groupsFrame)

	onlineFrame, err := wire.NewIDList(sess.server.registry.OnlineIDs())
	if err != nil {
		return false
	}
	sess.enqueue(onlineFrame)

	return true
}

// loop is the authenticated main loop: one object at a time, blobs paired
// with the armed file slot, commands dispatched by prefix.
func (sess *Session) loop() {
	for {
		frame, err := sess.readFrame()
		if err != nil {
			if err != io.EOF {
				log.Printf("read error for user %d: %v", sess.userID, err)
			}
			return
		}

		switch frame.Kind {
		case wire.KindBlob:
			sess.handleFilePayload(frame.Payload)
		case wire.KindCommand:
			fields := frame.Command()
			if len(fields) == 0 || fields[0] == "" {
				continue
			}
			sess.dispatch(fields)
		default:
			log.Printf("unexpected frame kind %d from user %d, dropped", frame.Kind, sess.userID)
		}
	}
}

// handleFilePayload pairs a raw payload with the armed transfer slot.
func (sess *Session) handleFilePayload(data []byte) {
	slot := sess.pending
	sess.pending = nil

	if slot == nil {
		log.Printf("unsolicited file payload from user %d (%d bytes), dropped", sess.userID, len(data))
		return
	}

	ttl := time.Duration(sess.server.config.Limits.FileSlotTTL) * time.Second
	if time.Since(slot.armedAt) > ttl {
		log.Printf("file payload from user %d arrived after slot expiry, dropped", sess.userID)
		return
	}

	sess.server.handleFileComplete(sess, slot, data)
}
