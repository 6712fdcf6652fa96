package server

import (
	"log"
	"strconv"
	"time"

	"lanchat/db"
	"lanchat/models"
	"lanchat/wire"
)

// dispatch routes one authenticated command by its tag. Unknown tags are
// logged and dropped, never answered with an error.
func (sess *Session) dispatch(fields []string) {
	s := sess.server
	switch fields[0] {
	case wire.CmdPing:
		// keep-alive no-op
	case wire.CmdSendMessage:
		s.handleSendMessage(sess, fields)
	case wire.CmdSendGroupMessage:
		s.handleSendGroupMessage(sess, fields)
	case wire.CmdSendFile:
		s.handleSendFile(sess, fields)
	case wire.CmdSendGroupFile:
		s.handleSendGroupFile(sess, fields)
	case wire.CmdGetFile:
		s.handleGetFile(sess, fields)
	case wire.CmdMarkAsRead:
		s.handleMarkAsRead(sess, fields)
	case wire.CmdDeleteMessage:
		s.handleMessageFlag(sess, fields, wire.CmdDeleteMessage)
	case wire.CmdRecallMessage:
		s.handleMessageFlag(sess, fields, wire.CmdRecallMessage)
	case wire.CmdEditMessage:
		s.handleEditMessage(sess, fields)
	case wire.CmdPinMessage:
		s.handlePinMessage(sess, fields)
	case wire.CmdFriendRequest:
		s.handleFriendRequest(sess, fields)
	case wire.CmdAcceptFriend:
		s.handleAcceptFriend(sess, fields)
	case wire.CmdRejectFriend:
		s.handleRejectFriend(sess, fields)
	case wire.CmdCreateGroup:
		s.handleCreateGroup(sess, fields)
	case wire.CmdAddGroupMember:
		s.handleAddGroupMember(sess, fields)
	case wire.CmdLeaveGroup:
		s.handleLeaveGroup(sess, fields)
	case wire.CmdTypingIndicator:
		s.handleTyping(sess, fields, wire.CmdTypingIndicator)
	case wire.CmdTypingStop:
		s.handleTyping(sess, fields, wire.CmdTypingStop)
	case wire.CmdGetConversation:
		s.handleGetConversation(sess, fields)
	case wire.CmdSearchUsers:
		s.handleSearchUsers(sess, fields)
	case wire.CmdSearchMessages:
		s.handleSearchMessages(sess, fields)
	case wire.CmdGetPinned:
		s.handleGetPinned(sess, fields)
	case wire.CmdGetFriendRequests:
		s.handleGetFriendRequests(sess, fields)
	case wire.CmdFriendsNotInGroup:
		s.handleFriendsNotInGroup(sess, fields)
	case wire.CmdGetFriendsFull:
		s.handleGetFriendsFull(sess, fields)
	case wire.CmdGetAvatar:
		s.handleGetAvatar(sess, fields)
	default:
		log.Printf("unknown command %q from user %d, dropped", fields[0], sess.userID)
	}
}

func (sess *Session) fail(cmd, reason string) {
	sess.sendCommand(cmd, wire.StatusFail, reason)
}

func (s *Server) recordActivity(typ string, actorID, subjectID int64, detail string) {
	err := s.store.RecordActivity(models.Activity{
		Type:      typ,
		ActorID:   actorID,
		SubjectID: subjectID,
		Detail:    detail,
	})
	if err != nil {
		log.Printf("activity record failed: %v", err)
	}
}

// parseSendOptions consumes the optional trailing REPLY_TO and TEMP_ID
// segments of a send command.
func parseSendOptions(fields []string, m *models.Message) bool {
	for i := 0; i < len(fields); {
		switch fields[i] {
		case wire.MarkerReplyTo:
			if i+2 >= len(fields) {
				return false
			}
			id, err := parseID(fields[i+1])
			if err != nil {
				return false
			}
			m.ReplyToID = id
			m.ReplyToContent = fields[i+2]
			i += 3
		case wire.MarkerTempID:
			if i+1 >= len(fields) {
				return false
			}
			m.TempID = fields[i+1]
			i += 2
		default:
			return false
		}
	}
	return true
}

func newMessageNotification(m *models.Message) *wire.Frame {
	fields := []string{
		wire.CmdNewMessage, formatID(m.ID), formatID(m.SenderID), formatID(m.ReceiverID),
		m.Content, m.CreatedAt.Format(time.RFC3339),
	}
	return wire.NewCommand(appendSendOptions(fields, m)...)
}

func newGroupMessageNotification(m *models.Message) *wire.Frame {
	fields := []string{
		wire.CmdNewGroupMessage, formatID(m.ID), formatID(m.GroupID), formatID(m.SenderID),
		m.Content, m.CreatedAt.Format(time.RFC3339),
	}
	return wire.NewCommand(appendSendOptions(fields, m)...)
}

func appendSendOptions(fields []string, m *models.Message) []string {
	if m.ReplyToID != 0 {
		fields = append(fields, wire.MarkerReplyTo, formatID(m.ReplyToID), m.ReplyToContent)
	}
	if m.TempID != "" {
		fields = append(fields, wire.MarkerTempID, m.TempID)
	}
	return fields
}

func (s *Server) handleSendMessage(sess *Session, fields []string) {
	if len(fields) < 4 {
		sess.fail(wire.CmdSendMessage, "invalid message format")
		return
	}
	receiverID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdSendMessage, "invalid receiver id")
		return
	}
	senderID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdSendMessage, "invalid sender id")
		return
	}
	if senderID != sess.userID {
		sess.fail(wire.CmdSendMessage, wire.ReasonPermissionDenied)
		return
	}

	exists, err := s.store.UserExists(receiverID)
	if err != nil {
		sess.fail(wire.CmdSendMessage, "internal error")
		return
	}
	if !exists {
		sess.fail(wire.CmdSendMessage, "receiver not found")
		return
	}

	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    fields[3],
	}
	if !parseSendOptions(fields[4:], msg) {
		sess.fail(wire.CmdSendMessage, "invalid message options")
		return
	}

	if err := s.store.SaveMessage(msg); err != nil {
		sess.fail(wire.CmdSendMessage, err.Error())
		return
	}
	s.recordActivity(models.ActivityMessageSent, senderID, msg.ID, "")

	sess.sendCommand(wire.CmdMessageSent, wire.StatusOK, formatID(msg.ID), msg.TempID)
	s.sendTo(receiverID, newMessageNotification(msg))
}

func (s *Server) handleSendGroupMessage(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdSendGroupMessage, "invalid message format")
		return
	}
	groupID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdSendGroupMessage, "invalid group id")
		return
	}

	member, err := s.store.IsGroupMember(groupID, sess.userID)
	if err != nil {
		sess.fail(wire.CmdSendGroupMessage, "internal error")
		return
	}
	if !member {
		sess.fail(wire.CmdSendGroupMessage, wire.ReasonPermissionDenied)
		return
	}

	msg := &models.Message{
		SenderID: sess.userID,
		GroupID:  groupID,
		Content:  fields[2],
	}
	if !parseSendOptions(fields[3:], msg) {
		sess.fail(wire.CmdSendGroupMessage, "invalid message options")
		return
	}

	if err := s.store.SaveMessage(msg); err != nil {
		sess.fail(wire.CmdSendGroupMessage, err.Error())
		return
	}
	s.recordActivity(models.ActivityMessageSent, sess.userID, msg.ID, "group")

	sess.sendCommand(wire.CmdGroupMessageSent, wire.StatusOK, formatID(msg.ID), msg.TempID)
	// The sender is a broadcast recipient too: the echo carries the temp id
	// and races the confirmation above on the sender's own channel.
	s.sendToGroup(groupID, 0, newGroupMessageNotification(msg))
}

func (s *Server) handleSendFile(sess *Session, fields []string) {
	if len(fields) < 4 {
		sess.fail(wire.CmdSendFile, "invalid file announce")
		return
	}
	receiverID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdSendFile, "invalid receiver id")
		return
	}
	if _, err := parseID(fields[3]); err != nil {
		sess.fail(wire.CmdSendFile, "invalid file size")
		return
	}

	exists, err := s.store.UserExists(receiverID)
	if err != nil || !exists {
		sess.fail(wire.CmdSendFile, "receiver not found")
		return
	}

	// Arming overwrites any stale slot from a previous announce.
	sess.pending = &pendingTransfer{
		receiverID: receiverID,
		fileName:   fields[2],
		armedAt:    time.Now(),
	}
	sess.sendCommand(wire.CmdReadyForFile)
}

func (s *Server) handleSendGroupFile(sess *Session, fields []string) {
	if len(fields) < 4 {
		sess.fail(wire.CmdSendGroupFile, "invalid file announce")
		return
	}
	groupID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdSendGroupFile, "invalid group id")
		return
	}
	if _, err := parseID(fields[3]); err != nil {
		sess.fail(wire.CmdSendGroupFile, "invalid file size")
		return
	}

	member, err := s.store.IsGroupMember(groupID, sess.userID)
	if err != nil {
		sess.fail(wire.CmdSendGroupFile, "internal error")
		return
	}
	if !member {
		sess.fail(wire.CmdSendGroupFile, wire.ReasonPermissionDenied)
		return
	}

	sess.pending = &pendingTransfer{
		groupID:  groupID,
		fileName: fields[2],
		armedAt:  time.Now(),
	}
	sess.sendCommand(wire.CmdReadyForFile)
}

// handleFileComplete persists a payload paired with its announce metadata and
// broadcasts the resulting file message.
func (s *Server) handleFileComplete(sess *Session, slot *pendingTransfer, data []byte) {
	msg := &models.Message{
		SenderID:   sess.userID,
		ReceiverID: slot.receiverID,
		GroupID:    slot.groupID,
		FileName:   slot.fileName,
		FileData:   data,
	}
	if err := s.store.SaveMessage(msg); err != nil {
		sess.fail(wire.CmdSendFile, err.Error())
		return
	}
	s.recordActivity(models.ActivityFileSent, sess.userID, msg.ID, slot.fileName)

	size := strconv.Itoa(len(data))
	if slot.groupID != 0 {
		sess.sendCommand(wire.CmdGroupMessageSent, wire.StatusOK, formatID(msg.ID), "")
		notice := wire.NewCommand(wire.CmdNewGroupFileMessage, formatID(msg.ID),
			formatID(slot.groupID), formatID(sess.userID), slot.fileName, size)
		s.sendToGroup(slot.groupID, sess.userID, notice, wire.NewBlob(data))
		return
	}

	sess.sendCommand(wire.CmdMessageSent, wire.StatusOK, formatID(msg.ID), "")
	notice := wire.NewCommand(wire.CmdNewFileMessage, formatID(msg.ID),
		formatID(sess.userID), formatID(slot.receiverID), slot.fileName, size)
	s.sendTo(slot.receiverID, notice, wire.NewBlob(data))
}

func (s *Server) handleGetFile(sess *Session, fields []string) {
	if len(fields) < 2 {
		sess.fail(wire.CmdFileData, "message id required")
		return
	}
	messageID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdFileData, "invalid message id")
		return
	}

	msg, err := s.store.GetMessage(messageID)
	if err != nil {
		sess.fail(wire.CmdFileData, "message not found")
		return
	}

	allowed := msg.SenderID == sess.userID || msg.ReceiverID == sess.userID
	if !allowed && msg.GroupID != 0 {
		allowed, err = s.store.IsGroupMember(msg.GroupID, sess.userID)
		if err != nil {
			sess.fail(wire.CmdFileData, "internal error")
			return
		}
	}
	if !allowed {
		sess.fail(wire.CmdFileData, wire.ReasonPermissionDenied)
		return
	}

	name, data, err := s.store.GetFileData(messageID)
	if err != nil {
		sess.fail(wire.CmdFileData, "no file attached")
		return
	}

	sess.sendCommand(wire.CmdFileData, formatID(messageID), name, strconv.Itoa(len(data)))
	sess.enqueue(wire.NewBlob(data))
}

func (s *Server) handleMarkAsRead(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdMarkAsRead, "invalid format")
		return
	}
	readerID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdMarkAsRead, "invalid user id")
		return
	}
	peerID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdMarkAsRead, "invalid peer id")
		return
	}
	if readerID != sess.userID {
		sess.fail(wire.CmdMarkAsRead, wire.ReasonPermissionDenied)
		return
	}

	if len(fields) > 3 && fields[3] == wire.MarkerGroup {
		if err := s.store.MarkGroupRead(readerID, peerID); err != nil {
			sess.fail(wire.CmdMarkAsRead, "internal error")
			return
		}
		s.sendToGroup(peerID, readerID, wire.NewCommand(
			wire.CmdReadReceipt, formatID(readerID), formatID(peerID), wire.MarkerGroup))
		return
	}

	if err := s.store.MarkConversationRead(readerID, peerID); err != nil {
		sess.fail(wire.CmdMarkAsRead, "internal error")
		return
	}
	s.sendTo(peerID, wire.NewCommand(wire.CmdReadReceipt, formatID(readerID), formatID(peerID)))
}

// handleMessageFlag covers DELETE_MESSAGE and RECALL_MESSAGE: same
// permission rule, different flag and notification.
func (s *Server) handleMessageFlag(sess *Session, fields []string, cmd string) {
	if len(fields) < 3 {
		sess.fail(cmd, "invalid format")
		return
	}
	messageID, err := parseID(fields[1])
	if err != nil {
		sess.fail(cmd, "invalid message id")
		return
	}
	requesterID, err := parseID(fields[2])
	if err != nil {
		sess.fail(cmd, "invalid user id")
		return
	}

	msg, err := s.store.GetMessage(messageID)
	if err != nil {
		sess.fail(cmd, "message not found")
		return
	}
	// Only the original sender may delete or recall, and the requester must
	// be who they claim to be.
	if requesterID != sess.userID || msg.SenderID != sess.userID {
		sess.fail(cmd, wire.ReasonPermissionDenied)
		return
	}

	var notification string
	if cmd == wire.CmdDeleteMessage {
		err = s.store.SetMessageDeleted(messageID)
		notification = wire.CmdMessageDeleted
		s.recordActivity(models.ActivityMessageDeleted, sess.userID, messageID, "")
	} else {
		err = s.store.SetMessageRecalled(messageID)
		notification = wire.CmdMessageRecalled
		s.recordActivity(models.ActivityMessageRecall, sess.userID, messageID, "")
	}
	if err != nil {
		sess.fail(cmd, "internal error")
		return
	}

	sess.sendCommand(cmd, wire.StatusOK, formatID(messageID))
	s.notifyConversation(msg, sess.userID, wire.NewCommand(notification, formatID(messageID)))
}

func (s *Server) handleEditMessage(sess *Session, fields []string) {
	if len(fields) < 4 {
		sess.fail(wire.CmdEditMessage, "invalid format")
		return
	}
	messageID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdEditMessage, "invalid message id")
		return
	}
	requesterID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdEditMessage, "invalid user id")
		return
	}
	content := fields[3]

	msg, err := s.store.GetMessage(messageID)
	if err != nil {
		sess.fail(wire.CmdEditMessage, "message not found")
		return
	}
	if requesterID != sess.userID || msg.SenderID != sess.userID {
		sess.fail(wire.CmdEditMessage, wire.ReasonPermissionDenied)
		return
	}

	if err := s.store.EditMessage(messageID, content); err != nil {
		sess.fail(wire.CmdEditMessage, "internal error")
		return
	}
	s.recordActivity(models.ActivityMessageEdited, sess.userID, messageID, "")

	sess.sendCommand(wire.CmdEditMessage, wire.StatusOK, formatID(messageID))
	s.notifyConversation(msg, sess.userID,
		wire.NewCommand(wire.CmdMessageEdited, formatID(messageID), content))
}

func (s *Server) handlePinMessage(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdPinMessage, "invalid format")
		return
	}
	messageID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdPinMessage, "invalid message id")
		return
	}
	pinned, err := strconv.ParseBool(fields[2])
	if err != nil {
		sess.fail(wire.CmdPinMessage, "invalid pin flag")
		return
	}

	msg, err := s.store.GetMessage(messageID)
	if err != nil {
		sess.fail(wire.CmdPinMessage, "message not found")
		return
	}

	// Any participant of the conversation may pin.
	allowed := msg.SenderID == sess.userID || msg.ReceiverID == sess.userID
	if !allowed && msg.GroupID != 0 {
		allowed, _ = s.store.IsGroupMember(msg.GroupID, sess.userID)
	}
	if !allowed {
		sess.fail(wire.CmdPinMessage, wire.ReasonPermissionDenied)
		return
	}

	if err := s.store.SetMessagePinned(messageID, pinned); err != nil {
		sess.fail(wire.CmdPinMessage, "internal error")
		return
	}

	sess.sendCommand(wire.CmdPinMessage, wire.StatusOK, formatID(messageID))
	s.notifyConversation(msg, sess.userID, wire.NewCommand(
		wire.CmdMessagePinned, formatID(messageID), strconv.FormatBool(pinned)))
}

// notifyConversation pushes a frame to the other parties of a message's
// conversation: the opposite peer for direct messages, the remaining members
// for group messages.
func (s *Server) notifyConversation(msg *models.Message, actorID int64, frame *wire.Frame) {
	if msg.GroupID != 0 {
		s.sendToGroup(msg.GroupID, actorID, frame)
		return
	}
	peerID := msg.ReceiverID
	if peerID == actorID {
		peerID = msg.SenderID
	}
	s.sendTo(peerID, frame)
}

func (s *Server) handleFriendRequest(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdFriendRequest, "invalid format")
		return
	}
	fromID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdFriendRequest, "invalid user id")
		return
	}
	toID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdFriendRequest, "invalid target id")
		return
	}
	if fromID != sess.userID {
		sess.fail(wire.CmdFriendRequest, wire.ReasonPermissionDenied)
		return
	}

	exists, err := s.store.UserExists(toID)
	if err != nil || !exists {
		sess.fail(wire.CmdFriendRequest, "user not found")
		return
	}
	already, err := s.store.AreFriends(fromID, toID)
	if err != nil {
		sess.fail(wire.CmdFriendRequest, "internal error")
		return
	}
	if already {
		sess.fail(wire.CmdFriendRequest, "already friends")
		return
	}

	if _, err := s.store.CreateFriendRequest(fromID, toID); err != nil {
		sess.fail(wire.CmdFriendRequest, "request already sent")
		return
	}
	s.recordActivity(models.ActivityFriendRequest, fromID, toID, "")

	sess.sendCommand(wire.CmdFriendRequest, wire.StatusOK)
	s.sendTo(toID, wire.NewCommand(wire.CmdFriendRequest, formatID(fromID), sess.name))
}

func (s *Server) handleAcceptFriend(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdAcceptFriend, "invalid format")
		return
	}
	userID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdAcceptFriend, "invalid user id")
		return
	}
	requesterID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdAcceptFriend, "invalid requester id")
		return
	}
	if userID != sess.userID {
		sess.fail(wire.CmdAcceptFriend, wire.ReasonPermissionDenied)
		return
	}

	if err := s.store.DeleteFriendRequest(requesterID, userID); err != nil {
		sess.fail(wire.CmdAcceptFriend, "no such request")
		return
	}
	if err := s.store.AddFriend(userID, requesterID); err != nil && err != db.ErrDuplicateFriend {
		sess.fail(wire.CmdAcceptFriend, "internal error")
		return
	}
	s.recordActivity(models.ActivityFriendAccepted, userID, requesterID, "")

	sess.sendCommand(wire.CmdAcceptFriend, wire.StatusOK)
	sess.sendCommand(wire.CmdFriendsUpdate)
	s.sendTo(requesterID,
		wire.NewCommand(wire.CmdFriendAccepted, formatID(userID)),
		wire.NewCommand(wire.CmdFriendsUpdate))
}

func (s *Server) handleRejectFriend(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdRejectFriend, "invalid format")
		return
	}
	userID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdRejectFriend, "invalid user id")
		return
	}
	requesterID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdRejectFriend, "invalid requester id")
		return
	}
	if userID != sess.userID {
		sess.fail(wire.CmdRejectFriend, wire.ReasonPermissionDenied)
		return
	}

	if err := s.store.DeleteFriendRequest(requesterID, userID); err != nil {
		sess.fail(wire.CmdRejectFriend, "no such request")
		return
	}

	sess.sendCommand(wire.CmdRejectFriend, wire.StatusOK)
	s.sendTo(requesterID, wire.NewCommand(wire.CmdFriendRejected, formatID(userID)))
}

func (s *Server) handleCreateGroup(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdCreateGroup, "invalid format")
		return
	}
	ownerID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdCreateGroup, "invalid owner id")
		return
	}
	if ownerID != sess.userID {
		sess.fail(wire.CmdCreateGroup, wire.ReasonPermissionDenied)
		return
	}
	name := fields[2]
	if name == "" {
		sess.fail(wire.CmdCreateGroup, "group name required")
		return
	}

	var memberIDs []int64
	if len(fields) > 3 && fields[3] != "" {
		for _, part := range wire.SplitList(fields[3]) {
			id, err := parseID(part)
			if err != nil {
				sess.fail(wire.CmdCreateGroup, "invalid member id")
				return
			}
			memberIDs = append(memberIDs, id)
		}
	}

	groupID, err := s.store.CreateGroup(ownerID, name, memberIDs)
	if err != nil {
		sess.fail(wire.CmdCreateGroup, "internal error")
		return
	}
	s.recordActivity(models.ActivityGroupCreated, ownerID, groupID, name)

	group, err := s.store.GetGroup(groupID)
	if err != nil {
		sess.fail(wire.CmdCreateGroup, "internal error")
		return
	}
	groupFrame, err := wire.NewJSON(wire.KindGroup, group)
	if err != nil {
		sess.fail(wire.CmdCreateGroup, "internal error")
		return
	}
	sess.enqueue(groupFrame)

	s.sendToGroup(groupID, ownerID,
		wire.NewCommand(wire.CmdGroupCreated, formatID(groupID), name),
		wire.NewCommand(wire.CmdGroupsUpdate))
}

func (s *Server) handleAddGroupMember(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdAddGroupMember, "invalid format")
		return
	}
	groupID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdAddGroupMember, "invalid group id")
		return
	}
	userID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdAddGroupMember, "invalid user id")
		return
	}

	member, err := s.store.IsGroupMember(groupID, sess.userID)
	if err != nil {
		sess.fail(wire.CmdAddGroupMember, "internal error")
		return
	}
	if !member {
		sess.fail(wire.CmdAddGroupMember, wire.ReasonPermissionDenied)
		return
	}
	exists, err := s.store.UserExists(userID)
	if err != nil || !exists {
		sess.fail(wire.CmdAddGroupMember, "user not found")
		return
	}

	if err := s.store.AddGroupMember(groupID, userID); err != nil {
		sess.fail(wire.CmdAddGroupMember, "internal error")
		return
	}

	sess.sendCommand(wire.CmdAddGroupMember, wire.StatusOK)
	s.sendToGroup(groupID, sess.userID, wire.NewCommand(wire.CmdGroupsUpdate))
}

func (s *Server) handleLeaveGroup(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdLeaveGroup, "invalid format")
		return
	}
	groupID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdLeaveGroup, "invalid group id")
		return
	}
	userID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdLeaveGroup, "invalid user id")
		return
	}
	if userID != sess.userID {
		sess.fail(wire.CmdLeaveGroup, wire.ReasonPermissionDenied)
		return
	}

	if err := s.store.RemoveGroupMember(groupID, userID); err != nil {
		sess.fail(wire.CmdLeaveGroup, "not a member")
		return
	}

	sess.sendCommand(wire.CmdLeaveGroup, wire.StatusOK)
	s.sendToGroup(groupID, 0, wire.NewCommand(wire.CmdGroupsUpdate))
}

// handleTyping relays a typing signal without persisting anything. Spoofed
// sender ids are silently ignored.
func (s *Server) handleTyping(sess *Session, fields []string, cmd string) {
	if len(fields) < 3 {
		return
	}
	fromID, err := parseID(fields[1])
	if err != nil || fromID != sess.userID {
		return
	}
	targetID, err := parseID(fields[2])
	if err != nil {
		return
	}

	if len(fields) > 3 && fields[3] == wire.MarkerGroup {
		s.sendToGroup(targetID, fromID, wire.NewCommand(
			cmd, formatID(fromID), wire.MarkerGroup, formatID(targetID)))
		return
	}
	s.sendTo(targetID, wire.NewCommand(cmd, formatID(fromID)))
}

func (s *Server) handleGetConversation(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdGetConversation, "invalid format")
		return
	}
	userID, err := parseID(fields[1])
	if err != nil || userID != sess.userID {
		sess.fail(wire.CmdGetConversation, wire.ReasonPermissionDenied)
		return
	}
	peerID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdGetConversation, "invalid peer id")
		return
	}

	record := map[string]interface{}{"type": wire.RecordConversationHistory}
	var messages []models.Message

	if len(fields) > 3 && fields[3] == wire.MarkerGroup {
		member, err := s.store.IsGroupMember(peerID, userID)
		if err != nil || !member {
			sess.fail(wire.CmdGetConversation, wire.ReasonPermissionDenied)
			return
		}
		messages, err = s.store.GetGroupConversation(peerID)
		if err != nil {
			sess.fail(wire.CmdGetConversation, "internal error")
			return
		}
		record["groupId"] = peerID
	} else {
		messages, err = s.store.GetConversation(userID, peerID)
		if err != nil {
			sess.fail(wire.CmdGetConversation, "internal error")
			return
		}
		record["friendId"] = peerID
	}

	if messages == nil {
		messages = []models.Message{}
	}
	record["messages"] = messages
	frame, err := wire.NewJSON(wire.KindRecord, record)
	if err != nil {
		sess.fail(wire.CmdGetConversation, "internal error")
		return
	}
	sess.enqueue(frame)
}

func (s *Server) handleSearchUsers(sess *Session, fields []string) {
	if len(fields) < 2 || fields[1] == "" {
		sess.fail(wire.CmdSearchUsers, "query required")
		return
	}

	users, err := s.store.SearchUsers(fields[1])
	if err != nil {
		sess.fail(wire.CmdSearchUsers, "internal error")
		return
	}
	for i := range users {
		users[i].Online = s.registry.IsOnline(users[i].ID)
	}
	if users == nil {
		users = []models.User{}
	}

	frame, err := wire.NewJSON(wire.KindUserList, users)
	if err != nil {
		sess.fail(wire.CmdSearchUsers, "internal error")
		return
	}
	sess.enqueue(frame)
}

func (s *Server) handleSearchMessages(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdSearchMessages, "invalid format")
		return
	}
	userID, err := parseID(fields[1])
	if err != nil || userID != sess.userID {
		sess.fail(wire.CmdSearchMessages, wire.ReasonPermissionDenied)
		return
	}

	messages, err := s.store.SearchMessages(userID, fields[2])
	if err != nil {
		sess.fail(wire.CmdSearchMessages, "internal error")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	frame, err := wire.NewJSON(wire.KindRecord, map[string]interface{}{
		"type":     wire.RecordSearchMessagesResult,
		"query":    fields[2],
		"messages": messages,
	})
	if err != nil {
		sess.fail(wire.CmdSearchMessages, "internal error")
		return
	}
	sess.enqueue(frame)
}

func (s *Server) handleGetPinned(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdGetPinned, "invalid format")
		return
	}
	userID, err := parseID(fields[1])
	if err != nil || userID != sess.userID {
		sess.fail(wire.CmdGetPinned, wire.ReasonPermissionDenied)
		return
	}
	peerID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdGetPinned, "invalid peer id")
		return
	}
	group := len(fields) > 3 && fields[3] == wire.MarkerGroup

	messages, err := s.store.GetPinnedMessages(userID, peerID, group)
	if err != nil {
		sess.fail(wire.CmdGetPinned, "internal error")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	record := map[string]interface{}{
		"type":     wire.RecordPinnedMessagesResult,
		"messages": messages,
	}
	if group {
		record["groupId"] = peerID
	} else {
		record["friendId"] = peerID
	}
	frame, err := wire.NewJSON(wire.KindRecord, record)
	if err != nil {
		sess.fail(wire.CmdGetPinned, "internal error")
		return
	}
	sess.enqueue(frame)
}

func (s *Server) handleGetFriendRequests(sess *Session, fields []string) {
	if len(fields) < 2 {
		sess.fail(wire.CmdGetFriendRequests, "invalid format")
		return
	}
	userID, err := parseID(fields[1])
	if err != nil || userID != sess.userID {
		sess.fail(wire.CmdGetFriendRequests, wire.ReasonPermissionDenied)
		return
	}

	incoming, outgoing, err := s.store.GetFriendRequests(userID)
	if err != nil {
		sess.fail(wire.CmdGetFriendRequests, "internal error")
		return
	}
	if incoming == nil {
		incoming = []models.FriendRequest{}
	}
	if outgoing == nil {
		outgoing = []models.FriendRequest{}
	}

	// This record is recognized by its {incoming, outgoing} shape rather
	// than a type discriminator.
	frame, err := wire.NewJSON(wire.KindRecord, map[string]interface{}{
		"incoming": incoming,
		"outgoing": outgoing,
	})
	if err != nil {
		sess.fail(wire.CmdGetFriendRequests, "internal error")
		return
	}
	sess.enqueue(frame)
}

func (s *Server) handleFriendsNotInGroup(sess *Session, fields []string) {
	if len(fields) < 3 {
		sess.fail(wire.CmdFriendsNotInGroup, "invalid format")
		return
	}
	userID, err := parseID(fields[1])
	if err != nil || userID != sess.userID {
		sess.fail(wire.CmdFriendsNotInGroup, wire.ReasonPermissionDenied)
		return
	}
	groupID, err := parseID(fields[2])
	if err != nil {
		sess.fail(wire.CmdFriendsNotInGroup, "invalid group id")
		return
	}

	users, err := s.store.GetFriendsNotInGroup(userID, groupID)
	if err != nil {
		sess.fail(wire.CmdFriendsNotInGroup, "internal error")
		return
	}
	if users == nil {
		users = []models.User{}
	}

	frame, err := wire.NewJSON(wire.KindRecord, map[string]interface{}{
		"type":    wire.RecordFriendsNotInGroup,
		"groupId": groupID,
		"users":   users,
	})
	if err != nil {
		sess.fail(wire.CmdFriendsNotInGroup, "internal error")
		return
	}
	sess.enqueue(frame)
}

func (s *Server) handleGetFriendsFull(sess *Session, fields []string) {
	if len(fields) < 2 {
		sess.fail(wire.CmdGetFriendsFull, "invalid format")
		return
	}
	userID, err := parseID(fields[1])
	if err != nil || userID != sess.userID {
		sess.fail(wire.CmdGetFriendsFull, wire.ReasonPermissionDenied)
		return
	}

	users, err := s.store.GetFriends(userID)
	if err != nil {
		sess.fail(wire.CmdGetFriendsFull, "internal error")
		return
	}
	for i := range users {
		users[i].Online = s.registry.IsOnline(users[i].ID)
	}
	if users == nil {
		users = []models.User{}
	}

	frame, err := wire.NewJSON(wire.KindRecord, map[string]interface{}{
		"type":  wire.RecordFriendsListFull,
		"users": users,
	})
	if err != nil {
		sess.fail(wire.CmdGetFriendsFull, "internal error")
		return
	}
	sess.enqueue(frame)
}

func (s *Server) handleGetAvatar(sess *Session, fields []string) {
	if len(fields) < 2 {
		sess.fail(wire.CmdAvatarData, "user id required")
		return
	}
	userID, err := parseID(fields[1])
	if err != nil {
		sess.fail(wire.CmdAvatarData, "invalid user id")
		return
	}

	data, err := s.store.GetAvatar(userID)
	if err != nil {
		sess.fail(wire.CmdAvatarData, "no avatar")
		return
	}

	sess.sendCommand(wire.CmdAvatarData, formatID(userID), strconv.Itoa(len(data)))
	sess.enqueue(wire.NewBlob(data))
}
