package wire

// Command tags, client to server.
const (
	CmdLoginRequest      = "LOGIN_REQUEST"
	CmdRegisterRequest   = "REGISTER_REQUEST"
	CmdResumeSession     = "RESUME_SESSION"
	CmdSendMessage       = "SEND_MESSAGE"
	CmdSendGroupMessage  = "SEND_GROUP_MESSAGE"
	CmdSendFile          = "SEND_FILE"
	CmdSendGroupFile     = "SEND_GROUP_FILE"
	CmdGetFile           = "GET_FILE"
	CmdMarkAsRead        = "MARK_AS_READ"
	CmdDeleteMessage     = "DELETE_MESSAGE"
	CmdRecallMessage     = "RECALL_MESSAGE"
	CmdEditMessage       = "EDIT_MESSAGE"
	CmdPinMessage        = "PIN_MESSAGE"
	CmdFriendRequest     = "FRIEND_REQUEST"
	CmdAcceptFriend      = "ACCEPT_FRIEND"
	CmdRejectFriend      = "REJECT_FRIEND"
	CmdCreateGroup       = "CREATE_GROUP"
	CmdAddGroupMember    = "ADD_GROUP_MEMBER"
	CmdLeaveGroup        = "LEAVE_GROUP"
	CmdTypingIndicator   = "TYPING_INDICATOR"
	CmdTypingStop        = "TYPING_STOP"
	CmdGetConversation   = "GET_CONVERSATION"
	CmdSearchUsers       = "SEARCH_USERS"
	CmdSearchMessages    = "SEARCH_MESSAGES"
	CmdGetPinned         = "GET_PINNED"
	CmdGetFriendRequests = "GET_FRIEND_REQUESTS"
	CmdFriendsNotInGroup = "FRIENDS_NOT_IN_GROUP"
	CmdGetFriendsFull    = "GET_FRIENDS_FULL"
	CmdGetAvatar         = "GET_AVATAR"
	CmdPing              = "PING"
)

// Reply and notification tags, server to client.
const (
	CmdLoginResponse       = "LOGIN_RESPONSE"
	CmdRegisterResponse    = "REGISTER_RESPONSE"
	CmdReadyForFile        = "READY_FOR_FILE"
	CmdFileData            = "FILE_DATA"
	CmdAvatarData          = "AVATAR_DATA"
	CmdMessageSent         = "MESSAGE_SENT"
	CmdGroupMessageSent    = "GROUP_MESSAGE_SENT"
	CmdNewMessage          = "NEW_MESSAGE"
	CmdNewGroupMessage     = "NEW_GROUP_MESSAGE"
	CmdNewFileMessage      = "NEW_FILE_MESSAGE"
	CmdNewGroupFileMessage = "NEW_GROUP_FILE_MESSAGE"
	CmdReadReceipt         = "READ_RECEIPT"
	CmdUserOnline          = "USER_ONLINE"
	CmdUserOffline         = "USER_OFFLINE"
	CmdMessageDeleted      = "MESSAGE_DELETED"
	CmdMessageRecalled     = "MESSAGE_RECALLED"
	CmdMessageEdited       = "MESSAGE_EDITED"
	CmdMessagePinned       = "MESSAGE_PINNED"
	CmdFriendAccepted      = "FRIEND_ACCEPTED"
	CmdFriendRejected      = "FRIEND_REJECTED"
	CmdFriendsUpdate       = "FRIENDS_UPDATE"
	CmdGroupsUpdate        = "GROUPS_UPDATE"
	CmdGroupCreated        = "GROUP_CREATED"
	CmdKicked              = "KICKED"
	CmdSystemAnnouncement  = "SYSTEM_ANNOUNCEMENT"
)

// Markers and result values used inside command fields.
const (
	StatusSuccess = "SUCCESS"
	StatusFail    = "FAIL"
	StatusOK      = "OK"

	MarkerGroup   = "GROUP"
	MarkerReplyTo = "REPLY_TO"
	MarkerTempID  = "TEMP_ID"

	ReasonPermissionDenied = "PERMISSION_DENIED"
)

// Record discriminator values carried in the "type" field of KindRecord
// frames.
const (
	RecordFriendsNotInGroup    = "FRIENDS_NOT_IN_GROUP"
	RecordFriendsListFull      = "FRIENDS_LIST_FULL"
	RecordConversationHistory  = "CONVERSATION_HISTORY"
	RecordSearchMessagesResult = "SEARCH_MESSAGES_RESULT"
	RecordPinnedMessagesResult = "PINNED_MESSAGES_RESULT"
)
