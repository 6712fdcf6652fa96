package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/models"
)

func openTestDB(t *testing.T) *DB {
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestUser(t *testing.T, store *DB, username string) int64 {
	id, err := store.CreateUser(username, username+" Test", "secret123", "", "")
	require.NoError(t, err)
	return id
}

func TestCreateAndAuthenticateUser(t *testing.T) {
	store := openTestDB(t)
	id := createTestUser(t, store, "alice")

	user, err := store.AuthenticateUser("alice", "secret123")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, id, user.ID)
	assert.Empty(t, user.Password)

	user, err = store.AuthenticateUser("alice", "wrong")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = store.AuthenticateUser("nobody", "secret123")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestDuplicateUsername(t *testing.T) {
	store := openTestDB(t)
	createTestUser(t, store, "alice")

	_, err := store.CreateUser("alice", "Other", "pw", "", "")
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestSaveMessageExclusivity(t *testing.T) {
	store := openTestDB(t)

	// content and file at once
	err := store.SaveMessage(&models.Message{
		SenderID: 1, ReceiverID: 2, Content: "hi", FileName: "a.png",
	})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	// neither content nor file
	err = store.SaveMessage(&models.Message{SenderID: 1, ReceiverID: 2})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	// receiver and group at once
	err = store.SaveMessage(&models.Message{
		SenderID: 1, ReceiverID: 2, GroupID: 3, Content: "hi",
	})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	// neither receiver nor group
	err = store.SaveMessage(&models.Message{SenderID: 1, Content: "hi"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	msg := &models.Message{SenderID: 1, ReceiverID: 2, Content: "hi"}
	require.NoError(t, store.SaveMessage(msg))
	assert.NotZero(t, msg.ID)
}

func TestFriendRequestLifecycle(t *testing.T) {
	store := openTestDB(t)
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")

	_, err := store.CreateFriendRequest(alice, bob)
	require.NoError(t, err)

	ids, err := store.GetIncomingRequestIDs(bob)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice}, ids)

	incoming, outgoing, err := store.GetFriendRequests(alice)
	require.NoError(t, err)
	assert.Empty(t, incoming)
	require.Len(t, outgoing, 1)
	assert.Equal(t, bob, outgoing[0].ToID)

	// accept: delete the request, create the friendship
	require.NoError(t, store.DeleteFriendRequest(alice, bob))
	require.NoError(t, store.AddFriend(bob, alice))

	both, err := store.AreFriends(alice, bob)
	require.NoError(t, err)
	assert.True(t, both)
	both, err = store.AreFriends(bob, alice)
	require.NoError(t, err)
	assert.True(t, both)

	assert.ErrorIs(t, store.AddFriend(alice, bob), ErrDuplicateFriend)
	assert.ErrorIs(t, store.DeleteFriendRequest(alice, bob), ErrNoRows)
}

func TestGroupMembership(t *testing.T) {
	store := openTestDB(t)
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")
	carol := createTestUser(t, store, "carol")

	groupID, err := store.CreateGroup(alice, "team", []int64{bob})
	require.NoError(t, err)

	// the owner joins implicitly
	members, err := store.GetGroupMemberIDs(groupID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice, bob}, members)

	member, err := store.IsGroupMember(groupID, carol)
	require.NoError(t, err)
	assert.False(t, member)

	require.NoError(t, store.AddGroupMember(groupID, carol))
	member, err = store.IsGroupMember(groupID, carol)
	require.NoError(t, err)
	assert.True(t, member)

	require.NoError(t, store.RemoveGroupMember(groupID, carol))
	assert.ErrorIs(t, store.RemoveGroupMember(groupID, carol), ErrNoRows)

	groups, err := store.GetUserGroups(bob)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "team", groups[0].Name)
	assert.Equal(t, []int64{alice, bob}, groups[0].MemberIDs)
}

func TestFriendsNotInGroup(t *testing.T) {
	store := openTestDB(t)
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")
	carol := createTestUser(t, store, "carol")
	require.NoError(t, store.AddFriend(alice, bob))
	require.NoError(t, store.AddFriend(alice, carol))

	groupID, err := store.CreateGroup(alice, "team", []int64{bob})
	require.NoError(t, err)

	users, err := store.GetFriendsNotInGroup(alice, groupID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, carol, users[0].ID)
}

func TestMessageFlagsAndSearch(t *testing.T) {
	store := openTestDB(t)
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")

	first := &models.Message{SenderID: alice, ReceiverID: bob, Content: "keep me"}
	second := &models.Message{SenderID: alice, ReceiverID: bob, Content: "delete me"}
	require.NoError(t, store.SaveMessage(first))
	require.NoError(t, store.SaveMessage(second))

	require.NoError(t, store.SetMessageDeleted(second.ID))
	found, err := store.SearchMessages(alice, "me")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first.ID, found[0].ID)

	require.NoError(t, store.EditMessage(first.ID, "kept and edited"))
	require.NoError(t, store.SetMessagePinned(first.ID, true))

	got, err := store.GetMessage(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept and edited", got.Content)
	assert.True(t, got.Edited)
	assert.True(t, got.Pinned)

	pinned, err := store.GetPinnedMessages(bob, alice, false)
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, first.ID, pinned[0].ID)

	assert.ErrorIs(t, store.SetMessageDeleted(9999), ErrNoRows)
}

func TestMarkConversationRead(t *testing.T) {
	store := openTestDB(t)
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")

	msg := &models.Message{SenderID: bob, ReceiverID: alice, Content: "unread"}
	require.NoError(t, store.SaveMessage(msg))

	require.NoError(t, store.MarkConversationRead(alice, bob))
	got, err := store.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
}

func TestFileData(t *testing.T) {
	store := openTestDB(t)
	payload := []byte{1, 2, 3, 4, 5}

	msg := &models.Message{SenderID: 1, ReceiverID: 2, FileName: "cat.png", FileData: payload}
	require.NoError(t, store.SaveMessage(msg))

	name, data, err := store.GetFileData(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "cat.png", name)
	assert.Equal(t, payload, data)

	text := &models.Message{SenderID: 1, ReceiverID: 2, Content: "no file here"}
	require.NoError(t, store.SaveMessage(text))
	_, _, err = store.GetFileData(text.ID)
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestAvatarRoundTrip(t *testing.T) {
	store := openTestDB(t)
	alice := createTestUser(t, store, "alice")

	_, err := store.GetAvatar(alice)
	assert.ErrorIs(t, err, ErrNoRows)

	require.NoError(t, store.SetAvatar(alice, []byte("png-bytes")))
	data, err := store.GetAvatar(alice)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	// overwrite
	require.NoError(t, store.SetAvatar(alice, []byte("new-bytes")))
	data, err = store.GetAvatar(alice)
	require.NoError(t, err)
	assert.Equal(t, "new-bytes", string(data))
}

func TestGetUserMessagesSpansGroups(t *testing.T) {
	store := openTestDB(t)
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")
	carol := createTestUser(t, store, "carol")

	groupID, err := store.CreateGroup(alice, "team", []int64{bob})
	require.NoError(t, err)

	require.NoError(t, store.SaveMessage(&models.Message{SenderID: bob, ReceiverID: alice, Content: "direct"}))
	require.NoError(t, store.SaveMessage(&models.Message{SenderID: bob, GroupID: groupID, Content: "in group"}))
	require.NoError(t, store.SaveMessage(&models.Message{SenderID: bob, ReceiverID: carol, Content: "not for alice"}))

	history, err := store.GetUserMessages(alice)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "direct", history[0].Content)
	assert.Equal(t, "in group", history[1].Content)
}
