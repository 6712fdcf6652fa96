package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/models"
	"lanchat/wire"
)

// newTestClient wires a pipe into the reader loop and returns the server end
// for feeding frames.
func newTestClient(t *testing.T, callbacks Callbacks) (*Client, net.Conn) {
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	c := New("127.0.0.1:0", callbacks)
	c.conn = clientConn
	go c.readLoop(clientConn)
	return c, serverConn
}

func feed(t *testing.T, conn net.Conn, frame *wire.Frame) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, wire.WriteFrame(conn, frame))
}

func feedJSON(t *testing.T, conn net.Conn, kind uint8, v interface{}) {
	t.Helper()
	frame, err := wire.NewJSON(kind, v)
	require.NoError(t, err)
	feed(t, conn, frame)
}

func recvIDs(t *testing.T, ch chan []int64, what string) []int64 {
	t.Helper()
	select {
	case ids := <-ch:
		return ids
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

// TestLoginBurstClassification walks the full burst for a user with two
// friends, one pending request, one group and three online users: the id
// lists must land on the friends, pending and online callbacks in that
// order.
func TestLoginBurstClassification(t *testing.T) {
	friendsCh := make(chan []int64, 1)
	pendingCh := make(chan []int64, 1)
	onlineCh := make(chan []int64, 1)
	loginCh := make(chan int64, 1)

	_, server := newTestClient(t, Callbacks{
		OnLoginSuccess:    func(id int64) { loginCh <- id },
		OnFriendIDs:       func(ids []int64) { friendsCh <- ids },
		OnPendingRequests: func(ids []int64) { pendingCh <- ids },
		OnOnlineUsers:     func(ids []int64) { onlineCh <- ids },
	})

	feed(t, server, wire.NewCommand(wire.CmdLoginResponse, wire.StatusSuccess, "1"))
	feedJSON(t, server, wire.KindIDList, []int64{2, 3})
	feedJSON(t, server, wire.KindMessageList, []models.Message{})
	feedJSON(t, server, wire.KindIDList, []int64{9})
	feedJSON(t, server, wire.KindGroupList, []models.Group{{ID: 4, Name: "team"}})
	feedJSON(t, server, wire.KindIDList, []int64{1, 2, 3})

	select {
	case id := <-loginCh:
		assert.Equal(t, int64(1), id)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for login")
	}

	assert.Equal(t, []int64{2, 3}, recvIDs(t, friendsCh, "friends"))
	assert.Equal(t, []int64{9}, recvIDs(t, pendingCh, "pending requests"))
	assert.Equal(t, []int64{1, 2, 3}, recvIDs(t, onlineCh, "online users"))
}

// TestSecondIDListIsPendingRequests pins the ordering rule: before any group
// list arrives, the second id list is always the pending-requests list.
func TestSecondIDListIsPendingRequests(t *testing.T) {
	friendsCh := make(chan []int64, 1)
	pendingCh := make(chan []int64, 1)

	_, server := newTestClient(t, Callbacks{
		OnFriendIDs:       func(ids []int64) { friendsCh <- ids },
		OnPendingRequests: func(ids []int64) { pendingCh <- ids },
		OnOnlineUsers:     func(ids []int64) { t.Error("online callback fired before groups") },
	})

	feed(t, server, wire.NewCommand(wire.CmdLoginResponse, wire.StatusSuccess, "1"))
	feedJSON(t, server, wire.KindIDList, []int64{5})
	feedJSON(t, server, wire.KindIDList, []int64{7})

	recvIDs(t, friendsCh, "friends")
	assert.Equal(t, []int64{7}, recvIDs(t, pendingCh, "pending requests"))
}

func TestIDListAfterGroupsIsOnline(t *testing.T) {
	onlineCh := make(chan []int64, 1)

	_, server := newTestClient(t, Callbacks{
		OnFriendIDs:   func(ids []int64) { t.Error("friends callback fired after groups") },
		OnOnlineUsers: func(ids []int64) { onlineCh <- ids },
	})

	feedJSON(t, server, wire.KindGroupList, []models.Group{})
	feedJSON(t, server, wire.KindIDList, []int64{1, 4})

	assert.Equal(t, []int64{1, 4}, recvIDs(t, onlineCh, "online users"))
}

// TestCounterResetsOnRelogin: a second successful login starts the ordinal
// classification over from zero.
func TestCounterResetsOnRelogin(t *testing.T) {
	friendsCh := make(chan []int64, 2)

	_, server := newTestClient(t, Callbacks{
		OnFriendIDs: func(ids []int64) { friendsCh <- ids },
	})

	feed(t, server, wire.NewCommand(wire.CmdLoginResponse, wire.StatusSuccess, "1"))
	feedJSON(t, server, wire.KindIDList, []int64{2})
	recvIDs(t, friendsCh, "first session friends")

	feed(t, server, wire.NewCommand(wire.CmdLoginResponse, wire.StatusSuccess, "1"))
	feedJSON(t, server, wire.KindIDList, []int64{8})

	assert.Equal(t, []int64{8}, recvIDs(t, friendsCh, "second session friends"))
}

// TestOptimisticResolveIdempotent races the server confirmation against the
// broadcast echo for the same temp id: the placeholder resolves exactly
// once.
func TestOptimisticResolveIdempotent(t *testing.T) {
	sentCh := make(chan string, 2)
	loginCh := make(chan int64, 1)

	c, server := newTestClient(t, Callbacks{
		OnLoginSuccess: func(id int64) { loginCh <- id },
		OnMessageSent:  func(realID int64, tempID string) { sentCh <- tempID },
	})

	feed(t, server, wire.NewCommand(wire.CmdLoginResponse, wire.StatusSuccess, "5"))
	<-loginCh

	var tempID string
	done := make(chan struct{})
	go func() {
		tempID, _ = c.SendGroupMessage(4, "hello", nil)
		close(done)
	}()
	// drain the outgoing command so the pipe write completes
	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := wire.ReadFrame(server)
	require.NoError(t, err)
	<-done
	require.NotEmpty(t, tempID)
	assert.Equal(t, 1, c.ledger.size())

	// confirmation and echo, same temp id
	feed(t, server, wire.NewCommand(wire.CmdGroupMessageSent, wire.StatusOK, "42", tempID))
	feed(t, server, wire.NewCommand(wire.CmdNewGroupMessage,
		"42", "4", "5", "hello", time.Now().Format(time.RFC3339), wire.MarkerTempID, tempID))

	select {
	case got := <-sentCh:
		assert.Equal(t, tempID, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for resolution")
	}

	select {
	case <-sentCh:
		t.Fatal("placeholder resolved twice")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 0, c.ledger.size())
}

// TestOwnEchoAfterConfirmationNotRendered: once the confirmation has resolved
// the placeholder, the broadcast echo of our own group send must not reach
// OnNewMessage — the send is already rendered via OnMessageSent.
func TestOwnEchoAfterConfirmationNotRendered(t *testing.T) {
	sentCh := make(chan string, 2)
	newCh := make(chan models.Message, 2)
	loginCh := make(chan int64, 1)

	c, server := newTestClient(t, Callbacks{
		OnLoginSuccess: func(id int64) { loginCh <- id },
		OnMessageSent:  func(realID int64, tempID string) { sentCh <- tempID },
		OnNewMessage:   func(msg models.Message) { newCh <- msg },
	})

	feed(t, server, wire.NewCommand(wire.CmdLoginResponse, wire.StatusSuccess, "5"))
	<-loginCh

	var tempID string
	done := make(chan struct{})
	go func() {
		tempID, _ = c.SendGroupMessage(4, "hello", nil)
		close(done)
	}()
	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := wire.ReadFrame(server)
	require.NoError(t, err)
	<-done
	require.NotEmpty(t, tempID)

	feed(t, server, wire.NewCommand(wire.CmdGroupMessageSent, wire.StatusOK, "42", tempID))
	select {
	case got := <-sentCh:
		assert.Equal(t, tempID, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for confirmation")
	}

	// the echo arrives second; it must be a complete no-op
	feed(t, server, wire.NewCommand(wire.CmdNewGroupMessage,
		"42", "4", "5", "hello", time.Now().Format(time.RFC3339), wire.MarkerTempID, tempID))

	select {
	case msg := <-newCh:
		t.Fatalf("own echo rendered as new message: %+v", msg)
	case got := <-sentCh:
		t.Fatalf("own echo resolved again as %q", got)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 0, c.ledger.size())

	// a peer's message on the same group still comes through
	feed(t, server, wire.NewCommand(wire.CmdNewGroupMessage,
		"43", "4", "2", "from bob", time.Now().Format(time.RFC3339)))
	select {
	case msg := <-newCh:
		assert.Equal(t, "from bob", msg.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for peer message")
	}
}

// TestBlobResolvesFileDownload: FILE_DATA metadata arms the highest-priority
// slot; the next blob lands on the one-shot download callback.
func TestBlobResolvesFileDownload(t *testing.T) {
	type download struct {
		name string
		data []byte
	}
	gotCh := make(chan download, 1)

	c, server := newTestClient(t, Callbacks{})

	done := make(chan struct{})
	go func() {
		c.GetFile(7, func(name string, data []byte) {
			gotCh <- download{name, data}
		})
		close(done)
	}()
	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := wire.ReadFrame(server)
	require.NoError(t, err)
	<-done

	feed(t, server, wire.NewCommand(wire.CmdFileData, "7", "cat.png", "3"))
	feed(t, server, wire.NewBlob([]byte{1, 2, 3}))

	select {
	case got := <-gotCh:
		assert.Equal(t, "cat.png", got.name)
		assert.Equal(t, []byte{1, 2, 3}, got.data)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for download")
	}
}

func TestBlobResolvesAvatarAndCaches(t *testing.T) {
	avatarCh := make(chan []byte, 2)

	c, server := newTestClient(t, Callbacks{
		OnAvatar: func(userID int64, data []byte) { avatarCh <- data },
	})

	feed(t, server, wire.NewCommand(wire.CmdAvatarData, "4", "3"))
	feed(t, server, wire.NewBlob([]byte("png")))

	select {
	case data := <-avatarCh:
		assert.Equal(t, "png", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for avatar")
	}

	// a second fetch is served from the cache, nothing goes on the wire
	require.NoError(t, c.GetAvatar(4))
	select {
	case data := <-avatarCh:
		assert.Equal(t, "png", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cached avatar")
	}
}

func TestBlobResolvesInboundFileMessage(t *testing.T) {
	msgCh := make(chan models.Message, 1)

	_, server := newTestClient(t, Callbacks{
		OnFileMessage: func(msg models.Message) { msgCh <- msg },
	})

	feed(t, server, wire.NewCommand(wire.CmdNewFileMessage, "10", "2", "5", "doc.pdf", "3"))
	feed(t, server, wire.NewBlob([]byte("pdf")))

	select {
	case msg := <-msgCh:
		assert.Equal(t, int64(10), msg.ID)
		assert.Equal(t, "doc.pdf", msg.FileName)
		assert.Equal(t, "pdf", string(msg.FileData))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for file message")
	}
}

func TestFriendRequestsRecordShape(t *testing.T) {
	type result struct {
		incoming, outgoing []models.FriendRequest
	}
	gotCh := make(chan result, 1)

	_, server := newTestClient(t, Callbacks{
		OnFriendRequests: func(in, out []models.FriendRequest) { gotCh <- result{in, out} },
	})

	feedJSON(t, server, wire.KindRecord, map[string]interface{}{
		"incoming": []models.FriendRequest{{ID: 1, FromID: 9, ToID: 5}},
		"outgoing": []models.FriendRequest{},
	})

	select {
	case got := <-gotCh:
		require.Len(t, got.incoming, 1)
		assert.Equal(t, int64(9), got.incoming[0].FromID)
		assert.Empty(t, got.outgoing)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for friend requests")
	}
}

func TestConversationHistoryCachedByChatID(t *testing.T) {
	convCh := make(chan int64, 1)

	c, server := newTestClient(t, Callbacks{
		OnConversation: func(chatID int64, messages []models.Message) { convCh <- chatID },
	})

	feedJSON(t, server, wire.KindRecord, map[string]interface{}{
		"type":     wire.RecordConversationHistory,
		"groupId":  int64(4),
		"messages": []models.Message{{ID: 1, GroupID: 4, SenderID: 2, Content: "hi"}},
	})

	select {
	case chatID := <-convCh:
		assert.Equal(t, int64(-4), chatID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for conversation")
	}

	history := c.History(-4)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)
}

func TestGenericFailureRoutesToErrorCallback(t *testing.T) {
	errCh := make(chan string, 1)

	_, server := newTestClient(t, Callbacks{
		OnError: func(cmd, reason string) { errCh <- cmd + "/" + reason },
	})

	feed(t, server, wire.NewCommand(wire.CmdDeleteMessage, wire.StatusFail, wire.ReasonPermissionDenied))

	select {
	case got := <-errCh:
		assert.Equal(t, wire.CmdDeleteMessage+"/"+wire.ReasonPermissionDenied, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}
}

// TestReconnectOnCorruptFrame: an unknown kind byte is unrecoverable stream
// corruption, which triggers exactly one reconnect attempt.
func TestReconnectOnCorruptFrame(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	c := New(listener.Addr().String(), Callbacks{})
	require.NoError(t, c.Connect())
	defer c.Close()

	first, err := listener.Accept()
	require.NoError(t, err)

	// garbage kind byte
	_, err = first.Write([]byte{99, 0, 0, 0, 0})
	require.NoError(t, err)
	first.Close()

	second := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			second <- conn
		}
	}()

	select {
	case conn := <-second:
		conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("client did not reconnect after stream corruption")
	}
}

// TestConcurrentSendDuringReconnect hammers the write path while the reader
// swaps the connection; under the race detector this pins the conn handoff.
func TestConcurrentSendDuringReconnect(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	c := New(listener.Addr().String(), Callbacks{})
	require.NoError(t, c.Connect())
	defer c.Close()

	first, err := listener.Accept()
	require.NoError(t, err)

	sending := make(chan struct{})
	go func() {
		defer close(sending)
		// errors are expected while the connection is being replaced
		for i := 0; i < 100; i++ {
			_ = c.Ping()
			time.Sleep(time.Millisecond)
		}
	}()

	_, err = first.Write([]byte{99, 0, 0, 0, 0})
	require.NoError(t, err)
	first.Close()

	second := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			second <- conn
		}
	}()

	select {
	case conn := <-second:
		conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("client did not reconnect under concurrent sends")
	}
	<-sending
}

func TestUnsolicitedBlobDropped(t *testing.T) {
	msgCh := make(chan models.Message, 1)

	_, server := newTestClient(t, Callbacks{
		OnFileMessage: func(msg models.Message) { msgCh <- msg },
		OnNewMessage:  func(msg models.Message) { msgCh <- msg },
	})

	feed(t, server, wire.NewBlob([]byte("orphan")))
	// the reader keeps going afterwards
	feed(t, server, wire.NewCommand(wire.CmdNewMessage,
		"1", "2", "3", "still alive", time.Now().Format(time.RFC3339)))

	select {
	case msg := <-msgCh:
		assert.Equal(t, "still alive", msg.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("reader stopped after orphan blob")
	}
}
