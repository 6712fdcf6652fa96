package client

import (
	"bufio"
	"errors"
	"log"
	"net"
	"strconv"
	"time"

	"lanchat/models"
	"lanchat/wire"
)

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// readLoop is the single background reader: one frame at a time, classified
// by its kind tag and dispatched without blocking on consumer callbacks.
func (c *Client) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		frame, err := wire.ReadFrame(reader)
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.classify(frame)
	}
}

// handleReadError ends the loop. Stream corruption gets exactly one
// reconnect attempt; everything else stops the client quietly.
func (c *Client) handleReadError(err error) {
	if errors.Is(err, wire.ErrCorruptFrame) && !c.reconnected {
		c.reconnected = true
		if c.reconnect() == nil {
			return
		}
	}
	c.emit(c.callbacks.OnDisconnect != nil, func() { c.callbacks.OnDisconnect(err) })
}

func (c *Client) reconnect() error {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return err
	}
	// Swap under the write lock so an in-flight send never sees a
	// half-replaced connection.
	c.writeMu.Lock()
	old := c.conn
	c.conn = conn
	c.writeMu.Unlock()
	old.Close()

	go c.readLoop(conn)
	if c.userID > 0 {
		return c.sendCommand(wire.CmdResumeSession, formatID(c.userID))
	}
	return nil
}

func (c *Client) classify(frame *wire.Frame) {
	switch frame.Kind {
	case wire.KindBool:
		ok := frame.Bool()
		c.emit(c.callbacks.OnStatus != nil, func() { c.callbacks.OnStatus(ok) })

	case wire.KindIDList:
		var ids []int64
		if err := frame.DecodeJSON(&ids); err != nil {
			log.Printf("bad id list payload: %v", err)
			return
		}
		c.classifyIDList(ids)

	case wire.KindMessageList:
		var messages []models.Message
		if err := frame.DecodeJSON(&messages); err != nil {
			log.Printf("bad message list payload: %v", err)
			return
		}
		c.handleMessageList(messages)

	case wire.KindGroupList:
		var groups []models.Group
		if err := frame.DecodeJSON(&groups); err != nil {
			log.Printf("bad group list payload: %v", err)
			return
		}
		// From here on, id lists mean "online users".
		c.hasReceivedGroups = true
		c.emit(c.callbacks.OnGroups != nil, func() { c.callbacks.OnGroups(groups) })

	case wire.KindUserList:
		var users []models.User
		if err := frame.DecodeJSON(&users); err != nil {
			log.Printf("bad user list payload: %v", err)
			return
		}
		c.emit(c.callbacks.OnUsers != nil, func() { c.callbacks.OnUsers(users) })

	case wire.KindGroup:
		var group models.Group
		if err := frame.DecodeJSON(&group); err != nil {
			log.Printf("bad group payload: %v", err)
			return
		}
		c.emit(c.callbacks.OnGroup != nil, func() { c.callbacks.OnGroup(group) })

	case wire.KindUser:
		var user models.User
		if err := frame.DecodeJSON(&user); err != nil {
			log.Printf("bad user payload: %v", err)
			return
		}
		c.cacheMu.Lock()
		c.users[user.ID] = user
		c.cacheMu.Unlock()
		c.emit(c.callbacks.OnUser != nil, func() { c.callbacks.OnUser(user) })

	case wire.KindRecord:
		c.handleRecord(frame)

	case wire.KindCommand:
		fields := frame.Command()
		if len(fields) == 0 || fields[0] == "" {
			return
		}
		c.handleCommand(fields)

	case wire.KindBlob:
		c.resolveBlob(frame.Payload)

	default:
		log.Printf("frame kind %d not understood, dropped", frame.Kind)
	}
}

// classifyIDList gives ordinal meaning to the deliberately untyped id lists
// of the login burst: the first is the friend list, the second the pending
// requests, and once the group list has arrived every id list is the online
// set. Anything past the second before groups goes to all three callbacks.
func (c *Client) classifyIDList(ids []int64) {
	if c.hasReceivedGroups {
		c.emit(c.callbacks.OnOnlineUsers != nil, func() { c.callbacks.OnOnlineUsers(ids) })
		return
	}
	c.listCounter++
	switch c.listCounter {
	case 1:
		c.emit(c.callbacks.OnFriendIDs != nil, func() { c.callbacks.OnFriendIDs(ids) })
	case 2:
		c.emit(c.callbacks.OnPendingRequests != nil, func() { c.callbacks.OnPendingRequests(ids) })
	default:
		c.emit(c.callbacks.OnFriendIDs != nil, func() { c.callbacks.OnFriendIDs(ids) })
		c.emit(c.callbacks.OnPendingRequests != nil, func() { c.callbacks.OnPendingRequests(ids) })
		c.emit(c.callbacks.OnOnlineUsers != nil, func() { c.callbacks.OnOnlineUsers(ids) })
	}
}

// chatIDOf buckets a message under its conversation: the peer's id for
// direct messages, the negated group id for group messages.
func (c *Client) chatIDOf(m models.Message) int64 {
	if m.GroupID != 0 {
		return -m.GroupID
	}
	if m.SenderID == c.userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// handleMessageList caches a bulk batch per conversation and delivers the
// whole batch under the mixed-batch sentinel chat id 0.
func (c *Client) handleMessageList(messages []models.Message) {
	buckets := make(map[int64][]models.Message)
	for _, m := range messages {
		id := c.chatIDOf(m)
		buckets[id] = append(buckets[id], m)
	}

	c.cacheMu.Lock()
	for id, msgs := range buckets {
		c.history[id] = msgs
	}
	c.cacheMu.Unlock()

	c.emit(c.callbacks.OnMessages != nil, func() { c.callbacks.OnMessages(0, messages) })
}

func (c *Client) cacheMessage(m models.Message) {
	id := c.chatIDOf(m)
	c.cacheMu.Lock()
	c.history[id] = append(c.history[id], m)
	c.cacheMu.Unlock()
}

type recordEnvelope struct {
	Type     string                 `json:"type"`
	GroupID  int64                  `json:"groupId"`
	FriendID int64                  `json:"friendId"`
	Query    string                 `json:"query"`
	Messages []models.Message       `json:"messages"`
	Users    []models.User          `json:"users"`
	Incoming []models.FriendRequest `json:"incoming"`
	Outgoing []models.FriendRequest `json:"outgoing"`
}

// handleRecord routes a structured result by its type discriminator, or by
// the {incoming, outgoing} shape which carries none.
func (c *Client) handleRecord(frame *wire.Frame) {
	var rec recordEnvelope
	if err := frame.DecodeJSON(&rec); err != nil {
		log.Printf("bad record payload: %v", err)
		return
	}

	if rec.Type == "" {
		if rec.Incoming != nil || rec.Outgoing != nil {
			c.emit(c.callbacks.OnFriendRequests != nil, func() {
				c.callbacks.OnFriendRequests(rec.Incoming, rec.Outgoing)
			})
			return
		}
		log.Printf("record without type discriminator, dropped")
		return
	}

	switch rec.Type {
	case wire.RecordFriendsNotInGroup:
		c.emit(c.callbacks.OnFriendsNotInGroup != nil, func() {
			c.callbacks.OnFriendsNotInGroup(rec.GroupID, rec.Users)
		})
	case wire.RecordFriendsListFull:
		c.emit(c.callbacks.OnFriendsFull != nil, func() { c.callbacks.OnFriendsFull(rec.Users) })
	case wire.RecordConversationHistory:
		chatID := rec.FriendID
		if rec.GroupID != 0 {
			chatID = -rec.GroupID
		}
		c.cacheMu.Lock()
		c.history[chatID] = rec.Messages
		c.cacheMu.Unlock()
		c.emit(c.callbacks.OnConversation != nil, func() {
			c.callbacks.OnConversation(chatID, rec.Messages)
		})
	case wire.RecordSearchMessagesResult:
		c.emit(c.callbacks.OnSearchResults != nil, func() {
			c.callbacks.OnSearchResults(rec.Query, rec.Messages)
		})
	case wire.RecordPinnedMessagesResult:
		c.emit(c.callbacks.OnPinned != nil, func() { c.callbacks.OnPinned(rec.Messages) })
	default:
		log.Printf("record type %q not understood, dropped", rec.Type)
	}
}

// resetDispatchState re-arms the per-session classification state. Runs on
// every successful login so a re-login starts counting id lists from zero.
func (c *Client) resetDispatchState(userID int64) {
	c.userID = userID
	c.listCounter = 0
	c.hasReceivedGroups = false
	c.reconnected = false
	c.fileDataSlot = nil
	c.avatarSlotSet = false
	c.avatarSlot = 0
	c.fileMsgSlot = nil
}

func (c *Client) handleCommand(fields []string) {
	cmd := fields[0]

	// Failure replies all share the <COMMAND>|FAIL|reason shape.
	if len(fields) >= 2 && fields[1] == wire.StatusFail {
		reason := ""
		if len(fields) > 2 {
			reason = fields[2]
		}
		switch cmd {
		case wire.CmdLoginResponse:
			c.emit(c.callbacks.OnLoginFailure != nil, func() { c.callbacks.OnLoginFailure(reason) })
		case wire.CmdRegisterResponse:
			c.emit(c.callbacks.OnRegisterResult != nil, func() { c.callbacks.OnRegisterResult(false, reason) })
		default:
			c.emit(c.callbacks.OnError != nil, func() { c.callbacks.OnError(cmd, reason) })
		}
		return
	}

	switch cmd {
	case wire.CmdLoginResponse:
		if len(fields) < 3 || fields[1] != wire.StatusSuccess {
			return
		}
		userID, err := parseID(fields[2])
		if err != nil {
			return
		}
		c.resetDispatchState(userID)
		c.emit(c.callbacks.OnLoginSuccess != nil, func() { c.callbacks.OnLoginSuccess(userID) })

	case wire.CmdRegisterResponse:
		detail := ""
		if len(fields) > 2 {
			detail = fields[2]
		}
		c.emit(c.callbacks.OnRegisterResult != nil, func() { c.callbacks.OnRegisterResult(true, detail) })

	case wire.CmdResumeSession:
		c.reconnected = false
		c.emit(c.callbacks.OnResumed != nil, func() { c.callbacks.OnResumed() })

	case wire.CmdReadyForFile:
		data, ok := c.popUpload()
		if !ok {
			log.Printf("READY_FOR_FILE with no queued upload, ignored")
			return
		}
		if err := c.writeFrame(wire.NewBlob(data)); err != nil {
			log.Printf("file payload write failed: %v", err)
		}

	case wire.CmdMessageSent, wire.CmdGroupMessageSent:
		if len(fields) < 3 {
			return
		}
		realID, err := parseID(fields[2])
		if err != nil {
			return
		}
		tempID := ""
		if len(fields) > 3 {
			tempID = fields[3]
		}
		c.resolveOptimistic(realID, tempID)

	case wire.CmdNewMessage:
		c.handleNewMessage(fields)
	case wire.CmdNewGroupMessage:
		c.handleNewGroupMessage(fields)

	case wire.CmdNewFileMessage:
		// NEW_FILE_MESSAGE|id|senderId|receiverId|fileName|size, payload next
		if len(fields) < 6 {
			return
		}
		id, err1 := parseID(fields[1])
		senderID, err2 := parseID(fields[2])
		receiverID, err3 := parseID(fields[3])
		if err1 != nil || err2 != nil || err3 != nil {
			return
		}
		c.fileMsgSlot = &models.Message{
			ID:         id,
			SenderID:   senderID,
			ReceiverID: receiverID,
			FileName:   fields[4],
			CreatedAt:  time.Now(),
		}

	case wire.CmdNewGroupFileMessage:
		// NEW_GROUP_FILE_MESSAGE|id|groupId|senderId|fileName|size
		if len(fields) < 6 {
			return
		}
		id, err1 := parseID(fields[1])
		groupID, err2 := parseID(fields[2])
		senderID, err3 := parseID(fields[3])
		if err1 != nil || err2 != nil || err3 != nil {
			return
		}
		c.fileMsgSlot = &models.Message{
			ID:        id,
			SenderID:  senderID,
			GroupID:   groupID,
			FileName:  fields[4],
			CreatedAt: time.Now(),
		}

	case wire.CmdFileData:
		// FILE_DATA|messageId|fileName|size, payload next
		if len(fields) < 4 {
			return
		}
		messageID, err := parseID(fields[1])
		if err != nil {
			return
		}
		c.fileDataSlot = &fileMeta{messageID: messageID, fileName: fields[2]}

	case wire.CmdAvatarData:
		// AVATAR_DATA|userId|size, payload next
		if len(fields) < 3 {
			return
		}
		userID, err := parseID(fields[1])
		if err != nil {
			return
		}
		c.avatarSlot = userID
		c.avatarSlotSet = true

	case wire.CmdReadReceipt:
		if len(fields) < 3 {
			return
		}
		readerID, err1 := parseID(fields[1])
		peerID, err2 := parseID(fields[2])
		if err1 != nil || err2 != nil {
			return
		}
		group := len(fields) > 3 && fields[3] == wire.MarkerGroup
		c.emit(c.callbacks.OnReadReceipt != nil, func() { c.callbacks.OnReadReceipt(readerID, peerID, group) })

	case wire.CmdTypingIndicator, wire.CmdTypingStop:
		if len(fields) < 2 {
			return
		}
		userID, err := parseID(fields[1])
		if err != nil {
			return
		}
		var groupID int64
		if len(fields) > 3 && fields[2] == wire.MarkerGroup {
			groupID, _ = parseID(fields[3])
		}
		typing := cmd == wire.CmdTypingIndicator
		c.emit(c.callbacks.OnTyping != nil, func() { c.callbacks.OnTyping(userID, groupID, typing) })

	case wire.CmdUserOnline:
		if len(fields) < 2 {
			return
		}
		userID, err := parseID(fields[1])
		if err != nil {
			return
		}
		name := ""
		if len(fields) > 2 {
			name = fields[2]
		}
		c.emit(c.callbacks.OnPresence != nil, func() { c.callbacks.OnPresence(userID, true, name) })

	case wire.CmdUserOffline:
		if len(fields) < 2 {
			return
		}
		userID, err := parseID(fields[1])
		if err != nil {
			return
		}
		c.emit(c.callbacks.OnPresence != nil, func() { c.callbacks.OnPresence(userID, false, "") })

	case wire.CmdMessageDeleted:
		if id, err := parseIDField(fields, 1); err == nil {
			c.emit(c.callbacks.OnMessageDeleted != nil, func() { c.callbacks.OnMessageDeleted(id) })
		}
	case wire.CmdMessageRecalled:
		if id, err := parseIDField(fields, 1); err == nil {
			c.emit(c.callbacks.OnMessageRecalled != nil, func() { c.callbacks.OnMessageRecalled(id) })
		}
	case wire.CmdMessageEdited:
		if len(fields) < 3 {
			return
		}
		id, err := parseID(fields[1])
		if err != nil {
			return
		}
		content := fields[2]
		c.emit(c.callbacks.OnMessageEdited != nil, func() { c.callbacks.OnMessageEdited(id, content) })
	case wire.CmdMessagePinned:
		if len(fields) < 3 {
			return
		}
		id, err := parseID(fields[1])
		if err != nil {
			return
		}
		pinned, err := strconv.ParseBool(fields[2])
		if err != nil {
			return
		}
		c.emit(c.callbacks.OnMessagePinned != nil, func() { c.callbacks.OnMessagePinned(id, pinned) })

	case wire.CmdFriendRequest:
		// Inbound notification: FRIEND_REQUEST|fromId|name
		if len(fields) < 3 {
			return
		}
		fromID, err := parseID(fields[1])
		if err != nil {
			return
		}
		name := fields[2]
		c.emit(c.callbacks.OnFriendRequest != nil, func() { c.callbacks.OnFriendRequest(fromID, name) })
	case wire.CmdFriendAccepted:
		if id, err := parseIDField(fields, 1); err == nil {
			c.emit(c.callbacks.OnFriendAccepted != nil, func() { c.callbacks.OnFriendAccepted(id) })
		}
	case wire.CmdFriendRejected:
		if id, err := parseIDField(fields, 1); err == nil {
			c.emit(c.callbacks.OnFriendRejected != nil, func() { c.callbacks.OnFriendRejected(id) })
		}
	case wire.CmdFriendsUpdate:
		c.emit(c.callbacks.OnFriendsChanged != nil, func() { c.callbacks.OnFriendsChanged() })
	case wire.CmdGroupsUpdate:
		c.emit(c.callbacks.OnGroupsChanged != nil, func() { c.callbacks.OnGroupsChanged() })
	case wire.CmdGroupCreated:
		if len(fields) < 3 {
			return
		}
		groupID, err := parseID(fields[1])
		if err != nil {
			return
		}
		name := fields[2]
		c.emit(c.callbacks.OnGroupCreated != nil, func() { c.callbacks.OnGroupCreated(groupID, name) })

	case wire.CmdKicked:
		reason := ""
		if len(fields) > 1 {
			reason = fields[1]
		}
		c.emit(c.callbacks.OnKicked != nil, func() { c.callbacks.OnKicked(reason) })
	case wire.CmdSystemAnnouncement:
		text := ""
		if len(fields) > 1 {
			text = fields[1]
		}
		c.emit(c.callbacks.OnAnnouncement != nil, func() { c.callbacks.OnAnnouncement(text) })

	default:
		c.emit(c.callbacks.OnBroadcast != nil, func() { c.callbacks.OnBroadcast(fields) })
	}
}

func parseIDField(fields []string, i int) (int64, error) {
	if len(fields) <= i {
		return 0, strconv.ErrSyntax
	}
	return parseID(fields[i])
}

// resolveOptimistic retires a placeholder exactly once, whichever of the
// confirmation reply and the broadcast echo gets here first.
func (c *Client) resolveOptimistic(realID int64, tempID string) {
	if tempID == "" {
		// File sends carry no temp id; report the real id directly.
		c.emit(c.callbacks.OnMessageSent != nil, func() { c.callbacks.OnMessageSent(realID, "") })
		return
	}
	msg, ok := c.ledger.resolve(tempID, realID)
	if !ok {
		return
	}
	c.cacheMessage(*msg)
	c.emit(c.callbacks.OnMessageSent != nil, func() { c.callbacks.OnMessageSent(realID, tempID) })
}

// handleNewMessage parses NEW_MESSAGE|id|senderId|receiverId|content|ts with
// optional REPLY_TO and TEMP_ID suffixes.
func (c *Client) handleNewMessage(fields []string) {
	if len(fields) < 6 {
		return
	}
	id, err1 := parseID(fields[1])
	senderID, err2 := parseID(fields[2])
	receiverID, err3 := parseID(fields[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	msg := models.Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    fields[4],
	}
	msg.CreatedAt, _ = time.Parse(time.RFC3339, fields[5])
	parseNotificationOptions(fields[6:], &msg)
	c.deliverNewMessage(msg)
}

// handleNewGroupMessage parses NEW_GROUP_MESSAGE|id|groupId|senderId|content|ts.
func (c *Client) handleNewGroupMessage(fields []string) {
	if len(fields) < 6 {
		return
	}
	id, err1 := parseID(fields[1])
	groupID, err2 := parseID(fields[2])
	senderID, err3 := parseID(fields[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	msg := models.Message{
		ID:       id,
		SenderID: senderID,
		GroupID:  groupID,
		Content:  fields[4],
	}
	msg.CreatedAt, _ = time.Parse(time.RFC3339, fields[5])
	parseNotificationOptions(fields[6:], &msg)
	c.deliverNewMessage(msg)
}

func (c *Client) deliverNewMessage(msg models.Message) {
	// A group echo of our own send is a confirmation, not a new message:
	// OnMessageSent is the render update for own sends, and when the
	// confirmation reply already resolved the placeholder the echo must do
	// nothing at all.
	if msg.TempID != "" && msg.SenderID == c.userID {
		c.resolveOptimistic(msg.ID, msg.TempID)
		return
	}
	c.cacheMessage(msg)
	c.emit(c.callbacks.OnNewMessage != nil, func() { c.callbacks.OnNewMessage(msg) })
}

func parseNotificationOptions(fields []string, m *models.Message) {
	for i := 0; i < len(fields); {
		switch fields[i] {
		case wire.MarkerReplyTo:
			if i+2 >= len(fields) {
				return
			}
			m.ReplyToID, _ = parseID(fields[i+1])
			m.ReplyToContent = fields[i+2]
			i += 3
		case wire.MarkerTempID:
			if i+1 >= len(fields) {
				return
			}
			m.TempID = fields[i+1]
			i += 2
		default:
			return
		}
	}
}

// resolveBlob pairs a raw payload with exactly one armed slot, in fixed
// priority: file download, avatar fetch, inbound file message.
func (c *Client) resolveBlob(data []byte) {
	if slot := c.fileDataSlot; slot != nil {
		c.fileDataSlot = nil
		c.downloadsMu.Lock()
		done := c.downloads[slot.messageID]
		delete(c.downloads, slot.messageID)
		c.downloadsMu.Unlock()
		if done != nil {
			go done(slot.fileName, data)
		}
		c.emit(c.callbacks.OnFileData != nil, func() {
			c.callbacks.OnFileData(slot.messageID, slot.fileName, data)
		})
		return
	}

	if c.avatarSlotSet {
		userID := c.avatarSlot
		c.avatarSlotSet = false
		c.avatarSlot = 0
		c.cacheMu.Lock()
		c.avatars[userID] = data
		c.cacheMu.Unlock()
		c.emit(c.callbacks.OnAvatar != nil, func() { c.callbacks.OnAvatar(userID, data) })
		return
	}

	if msg := c.fileMsgSlot; msg != nil {
		c.fileMsgSlot = nil
		msg.FileData = data
		c.cacheMessage(*msg)
		delivered := *msg
		c.emit(c.callbacks.OnFileMessage != nil, func() { c.callbacks.OnFileMessage(delivered) })
		return
	}

	log.Printf("unsolicited binary payload (%d bytes), dropped", len(data))
}
