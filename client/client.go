// Package client implements the relay client: a single background reader
// classifies incoming frames and hands them to registered callbacks, while
// the send API can be called from any goroutine.
package client

import (
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"lanchat/models"
	"lanchat/wire"
)

// Callbacks receives classified events. Nil fields are skipped. Every
// callback runs on its own goroutine so a slow consumer never stalls the
// reader.
type Callbacks struct {
	OnStatus         func(ok bool)
	OnLoginSuccess   func(userID int64)
	OnLoginFailure   func(reason string)
	OnRegisterResult func(ok bool, detail string)
	OnResumed        func()

	OnFriendIDs       func(ids []int64)
	OnPendingRequests func(ids []int64)
	OnOnlineUsers     func(ids []int64)

	OnMessages     func(chatID int64, messages []models.Message)
	OnConversation func(chatID int64, messages []models.Message)
	OnGroups       func(groups []models.Group)
	OnUsers        func(users []models.User)
	OnGroup        func(group models.Group)
	OnUser         func(user models.User)

	OnFriendsNotInGroup func(groupID int64, users []models.User)
	OnFriendsFull       func(users []models.User)
	OnSearchResults     func(query string, messages []models.Message)
	OnPinned            func(messages []models.Message)
	OnFriendRequests    func(incoming, outgoing []models.FriendRequest)

	OnNewMessage  func(msg models.Message)
	OnFileMessage func(msg models.Message)
	OnMessageSent func(realID int64, tempID string)

	OnReadReceipt func(readerID, peerID int64, group bool)
	OnTyping      func(userID, groupID int64, typing bool)

	OnFriendRequest  func(fromID int64, name string)
	OnFriendAccepted func(userID int64)
	OnFriendRejected func(userID int64)
	OnFriendsChanged func()
	OnGroupsChanged  func()
	OnGroupCreated   func(groupID int64, name string)

	OnPresence        func(userID int64, online bool, name string)
	OnMessageDeleted  func(id int64)
	OnMessageRecalled func(id int64)
	OnMessageEdited   func(id int64, content string)
	OnMessagePinned   func(id int64, pinned bool)

	OnAvatar   func(userID int64, data []byte)
	OnFileData func(messageID int64, fileName string, data []byte)

	OnKicked       func(reason string)
	OnAnnouncement func(text string)

	// OnError receives every <COMMAND>|FAIL|reason reply.
	OnError func(cmd, reason string)
	// OnBroadcast is the fallback for unmatched command prefixes.
	OnBroadcast func(fields []string)
	// OnDisconnect fires when the reader stops and no reconnect succeeds.
	OnDisconnect func(err error)
}

// pendingUpload is a file payload queued behind its metadata announce,
// released by the matching READY_FOR_FILE.
type pendingUpload struct {
	data []byte
}

// Client is one relay session. All dispatch state (the list counter, the
// pending slots, the caches) belongs to the instance, so two clients in one
// process never bleed into each other.
type Client struct {
	addr      string
	callbacks Callbacks

	writeMu sync.Mutex
	conn    net.Conn

	userID int64

	// Reader-owned classification state. The list counter and groups flag
	// give ordinal meaning to id lists; both reset on every successful
	// login.
	listCounter       int
	hasReceivedGroups bool

	// Blob resolution slots, reader-owned, checked in fixed priority:
	// file download, then avatar, then inbound file message.
	fileDataSlot   *fileMeta
	avatarSlot     int64 // 0 when unarmed
	fileMsgSlot    *models.Message
	avatarSlotSet  bool
	downloads      map[int64]func(fileName string, data []byte)
	downloadsMu    sync.Mutex

	uploadsMu sync.Mutex
	uploads   []pendingUpload

	ledger *sendLedger

	cacheMu sync.Mutex
	history map[int64][]models.Message
	avatars map[int64][]byte
	users   map[int64]models.User

	reconnected bool
}

type fileMeta struct {
	messageID int64
	fileName  string
}

// New prepares a client for addr. Call Connect to open the stream.
func New(addr string, callbacks Callbacks) *Client {
	return &Client{
		addr:      addr,
		callbacks: callbacks,
		userID:    -1,
		downloads: make(map[int64]func(string, []byte)),
		ledger:    newSendLedger(),
		history:   make(map[int64][]models.Message),
		avatars:   make(map[int64][]byte),
		users:     make(map[int64]models.User),
	}
}

// Connect dials the server and starts the background reader.
func (c *Client) Connect() error {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return err
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

// Close tears the connection down; the reader loop ends on its next read.
func (c *Client) Close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) writeFrame(frame *wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.conn, frame)
}

func (c *Client) sendCommand(fields ...string) error {
	return c.writeFrame(wire.NewCommand(fields...))
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Login authenticates; the reply arrives via OnLoginSuccess/OnLoginFailure
// followed by the login burst.
func (c *Client) Login(username, password string) error {
	return c.sendCommand(wire.CmdLoginRequest, username, password)
}

// Register creates an account. The server closes the connection after
// replying, successful or not.
func (c *Client) Register(username, fullName, password, email, phone string) error {
	return c.sendCommand(wire.CmdRegisterRequest, username, fullName, password, email, phone)
}

// Resume re-attaches a previously issued identity without credentials.
func (c *Client) Resume(userID int64) error {
	c.userID = userID
	return c.sendCommand(wire.CmdResumeSession, formatID(userID))
}

// Reply references an earlier message in a send.
type Reply struct {
	MessageID int64
	Snippet   string
}

// SendMessage transmits a direct message tagged with a fresh temp id and
// records the placeholder in the ledger. Returns the temp id.
func (c *Client) SendMessage(receiverID int64, content string, reply *Reply) (string, error) {
	tempID := uuid.NewString()
	msg := &models.Message{
		TempID:     tempID,
		SenderID:   c.userID,
		ReceiverID: receiverID,
		Content:    content,
	}
	fields := []string{wire.CmdSendMessage, formatID(receiverID), formatID(c.userID), content}
	if reply != nil {
		msg.ReplyToID = reply.MessageID
		msg.ReplyToContent = reply.Snippet
		fields = append(fields, wire.MarkerReplyTo, formatID(reply.MessageID), reply.Snippet)
	}
	fields = append(fields, wire.MarkerTempID, tempID)

	c.ledger.add(tempID, msg)
	if err := c.sendCommand(fields...); err != nil {
		c.ledger.resolve(tempID, 0)
		return "", err
	}
	return tempID, nil
}

// SendGroupMessage transmits a group message with optimistic tracking.
func (c *Client) SendGroupMessage(groupID int64, content string, reply *Reply) (string, error) {
	tempID := uuid.NewString()
	msg := &models.Message{
		TempID:   tempID,
		SenderID: c.userID,
		GroupID:  groupID,
		Content:  content,
	}
	fields := []string{wire.CmdSendGroupMessage, formatID(groupID), content}
	if reply != nil {
		msg.ReplyToID = reply.MessageID
		msg.ReplyToContent = reply.Snippet
		fields = append(fields, wire.MarkerReplyTo, formatID(reply.MessageID), reply.Snippet)
	}
	fields = append(fields, wire.MarkerTempID, tempID)

	c.ledger.add(tempID, msg)
	if err := c.sendCommand(fields...); err != nil {
		c.ledger.resolve(tempID, 0)
		return "", err
	}
	return tempID, nil
}

// SendFile announces a direct file transfer and queues the payload; the
// bytes go out when the server answers READY_FOR_FILE.
func (c *Client) SendFile(receiverID int64, fileName string, data []byte) error {
	c.queueUpload(data)
	return c.sendCommand(wire.CmdSendFile, formatID(receiverID), fileName, strconv.Itoa(len(data)))
}

// SendGroupFile announces a group file transfer and queues the payload.
func (c *Client) SendGroupFile(groupID int64, fileName string, data []byte) error {
	c.queueUpload(data)
	return c.sendCommand(wire.CmdSendGroupFile, formatID(groupID), fileName, strconv.Itoa(len(data)))
}

func (c *Client) queueUpload(data []byte) {
	c.uploadsMu.Lock()
	c.uploads = append(c.uploads, pendingUpload{data: data})
	c.uploadsMu.Unlock()
}

func (c *Client) popUpload() ([]byte, bool) {
	c.uploadsMu.Lock()
	defer c.uploadsMu.Unlock()
	if len(c.uploads) == 0 {
		return nil, false
	}
	data := c.uploads[0].data
	c.uploads = c.uploads[1:]
	return data, true
}

// GetFile requests the stored bytes of a file message. The one-shot callback
// fires when the payload arrives.
func (c *Client) GetFile(messageID int64, done func(fileName string, data []byte)) error {
	c.downloadsMu.Lock()
	c.downloads[messageID] = done
	c.downloadsMu.Unlock()
	return c.sendCommand(wire.CmdGetFile, formatID(messageID))
}

// GetAvatar requests a user's avatar bytes, served from the local cache when
// already fetched.
func (c *Client) GetAvatar(userID int64) error {
	c.cacheMu.Lock()
	data, ok := c.avatars[userID]
	c.cacheMu.Unlock()
	if ok {
		c.emit(c.callbacks.OnAvatar != nil, func() { c.callbacks.OnAvatar(userID, data) })
		return nil
	}
	return c.sendCommand(wire.CmdGetAvatar, formatID(userID))
}

// MarkAsRead marks a direct or group conversation read.
func (c *Client) MarkAsRead(peerID int64, group bool) error {
	fields := []string{wire.CmdMarkAsRead, formatID(c.userID), formatID(peerID)}
	if group {
		fields = append(fields, wire.MarkerGroup)
	}
	return c.sendCommand(fields...)
}

func (c *Client) DeleteMessage(messageID int64) error {
	return c.sendCommand(wire.CmdDeleteMessage, formatID(messageID), formatID(c.userID))
}

func (c *Client) RecallMessage(messageID int64) error {
	return c.sendCommand(wire.CmdRecallMessage, formatID(messageID), formatID(c.userID))
}

func (c *Client) EditMessage(messageID int64, content string) error {
	return c.sendCommand(wire.CmdEditMessage, formatID(messageID), formatID(c.userID), content)
}

func (c *Client) PinMessage(messageID int64, pinned bool) error {
	return c.sendCommand(wire.CmdPinMessage, formatID(messageID), strconv.FormatBool(pinned))
}

func (c *Client) SendFriendRequest(toID int64) error {
	return c.sendCommand(wire.CmdFriendRequest, formatID(c.userID), formatID(toID))
}

func (c *Client) AcceptFriend(requesterID int64) error {
	return c.sendCommand(wire.CmdAcceptFriend, formatID(c.userID), formatID(requesterID))
}

func (c *Client) RejectFriend(requesterID int64) error {
	return c.sendCommand(wire.CmdRejectFriend, formatID(c.userID), formatID(requesterID))
}

// CreateGroup creates a group owned by the current user with the given
// initial members.
func (c *Client) CreateGroup(name string, memberIDs []int64) error {
	parts := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		parts[i] = formatID(id)
	}
	return c.sendCommand(wire.CmdCreateGroup, formatID(c.userID), name, wire.JoinList(parts))
}

func (c *Client) AddGroupMember(groupID, userID int64) error {
	return c.sendCommand(wire.CmdAddGroupMember, formatID(groupID), formatID(userID))
}

func (c *Client) LeaveGroup(groupID int64) error {
	return c.sendCommand(wire.CmdLeaveGroup, formatID(groupID), formatID(c.userID))
}

// Typing signals typing state to a peer or group, fire-and-forget.
func (c *Client) Typing(targetID int64, group, typing bool) error {
	cmd := wire.CmdTypingIndicator
	if !typing {
		cmd = wire.CmdTypingStop
	}
	fields := []string{cmd, formatID(c.userID), formatID(targetID)}
	if group {
		fields = append(fields, wire.MarkerGroup)
	}
	return c.sendCommand(fields...)
}

func (c *Client) GetConversation(peerID int64, group bool) error {
	fields := []string{wire.CmdGetConversation, formatID(c.userID), formatID(peerID)}
	if group {
		fields = append(fields, wire.MarkerGroup)
	}
	return c.sendCommand(fields...)
}

func (c *Client) SearchUsers(query string) error {
	return c.sendCommand(wire.CmdSearchUsers, query)
}

func (c *Client) SearchMessages(query string) error {
	return c.sendCommand(wire.CmdSearchMessages, formatID(c.userID), query)
}

func (c *Client) GetPinned(peerID int64, group bool) error {
	fields := []string{wire.CmdGetPinned, formatID(c.userID), formatID(peerID)}
	if group {
		fields = append(fields, wire.MarkerGroup)
	}
	return c.sendCommand(fields...)
}

func (c *Client) GetFriendRequests() error {
	return c.sendCommand(wire.CmdGetFriendRequests, formatID(c.userID))
}

func (c *Client) FriendsNotInGroup(groupID int64) error {
	return c.sendCommand(wire.CmdFriendsNotInGroup, formatID(c.userID), formatID(groupID))
}

func (c *Client) GetFriendsFull() error {
	return c.sendCommand(wire.CmdGetFriendsFull, formatID(c.userID))
}

func (c *Client) Ping() error {
	return c.sendCommand(wire.CmdPing)
}

// History returns the cached messages of a conversation. Group chats are
// keyed by negated group id.
func (c *Client) History(chatID int64) []models.Message {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	cached := c.history[chatID]
	out := make([]models.Message, len(cached))
	copy(out, cached)
	return out
}

// CachedUser returns a user previously seen on the stream.
func (c *Client) CachedUser(userID int64) (models.User, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	user, ok := c.users[userID]
	return user, ok
}

// emit fires a callback on its own goroutine so the reader never blocks on
// consumer work.
func (c *Client) emit(registered bool, f func()) {
	if registered {
		go f()
	}
}
