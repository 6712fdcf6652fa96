package models

import "time"

// User is an account record. The password hash never leaves the server.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"-"`
	Online   bool   `json:"online,omitempty"`
}

// Message is the canonical chat unit. Exactly one of ReceiverID/GroupID is
// non-zero, and a live message carries exactly one of Content/FileName.
// Messages are never physically removed; Deleted/Recalled are soft flags.
type Message struct {
	ID             int64     `json:"id"`
	TempID         string    `json:"tempId,omitempty"`
	SenderID       int64     `json:"senderId"`
	ReceiverID     int64     `json:"receiverId"`
	GroupID        int64     `json:"groupId"`
	Content        string    `json:"content,omitempty"`
	FileName       string    `json:"fileName,omitempty"`
	FileData       []byte    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`
	Deleted        bool      `json:"deleted"`
	Recalled       bool      `json:"recalled"`
	Edited         bool      `json:"edited"`
	Pinned         bool      `json:"pinned"`
	ReplyToID      int64     `json:"replyToId,omitempty"`
	ReplyToContent string    `json:"replyToContent,omitempty"`
}

// IsGroup reports whether the message is addressed to a group.
func (m *Message) IsGroup() bool {
	return m.GroupID != 0
}

// IsFile reports whether the message carries a file rather than text.
func (m *Message) IsFile() bool {
	return m.FileName != ""
}

// Group is a named chat group with a flat member list.
type Group struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	OwnerID   int64   `json:"ownerId"`
	MemberIDs []int64 `json:"memberIds"`
}

// FriendRequest is a pending friendship offer.
type FriendRequest struct {
	ID        int64     `json:"id"`
	FromID    int64     `json:"fromId"`
	ToID      int64     `json:"toId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Activity is an audit event handed to the activity sink.
type Activity struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	ActorID   int64     `json:"actorId"`
	SubjectID int64     `json:"subjectId"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Activity types recorded by the server.
const (
	ActivityMessageSent    = "message_sent"
	ActivityFileSent       = "file_sent"
	ActivityMessageDeleted = "message_deleted"
	ActivityMessageRecall  = "message_recalled"
	ActivityMessageEdited  = "message_edited"
	ActivityFriendRequest  = "friend_request"
	ActivityFriendAccepted = "friend_accepted"
	ActivityGroupCreated   = "group_created"
	ActivityUserKicked     = "user_kicked"
)
