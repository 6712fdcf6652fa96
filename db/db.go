package db

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"lanchat/models"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoRows          = errors.New("no rows found")
	ErrInvalidMessage  = errors.New("message must carry exactly one of content or file")
	ErrDuplicateUser   = errors.New("user already exists")
	ErrDuplicateFriend = errors.New("already friends")
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			user_id INTEGER NOT NULL,
			friend_id INTEGER NOT NULL,
			UNIQUE(user_id, friend_id)
		)`,
		`CREATE TABLE IF NOT EXISTS friend_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_id INTEGER NOT NULL,
			to_id INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(from_id, to_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL DEFAULT 0,
			group_id INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL DEFAULT '',
			file_data BLOB,
			created_at TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			recalled INTEGER NOT NULL DEFAULT 0,
			edited INTEGER NOT NULL DEFAULT 0,
			pinned INTEGER NOT NULL DEFAULT 0,
			reply_to_id INTEGER NOT NULL DEFAULT 0,
			reply_to_content TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			owner_id INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			UNIQUE(group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS avatars (
			user_id INTEGER PRIMARY KEY,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			actor_id INTEGER NOT NULL,
			subject_id INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_direct ON messages(sender_id, receiver_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_friends_user ON friends(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// User methods

func (db *DB) CreateUser(username, fullName, password, email, phone string) (int64, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	res, err := db.conn.Exec(
		"INSERT INTO users (username, full_name, password, email, phone) VALUES (?, ?, ?, ?, ?)",
		username, fullName, string(hashed), email, phone,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, ErrDuplicateUser
		}
		return 0, err
	}
	return res.LastInsertId()
}

// AuthenticateUser verifies credentials and returns the user on success,
// nil when the username is unknown or the password does not match.
func (db *DB) AuthenticateUser(username, password string) (*models.User, error) {
	var u models.User
	err := db.conn.QueryRow(
		"SELECT id, username, full_name, password, email, phone FROM users WHERE username = ?",
		username,
	).Scan(&u.ID, &u.Username, &u.FullName, &u.Password, &u.Email, &u.Phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return nil, nil
	}
	u.Password = ""
	return &u, nil
}

func (db *DB) GetUser(id int64) (*models.User, error) {
	var u models.User
	err := db.conn.QueryRow(
		"SELECT id, username, full_name, email, phone FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Phone)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) UserExists(id int64) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) SearchUsers(query string) ([]models.User, error) {
	pattern := "%" + query + "%"
	rows, err := db.conn.Query(
		"SELECT id, username, full_name, email, phone FROM users WHERE username LIKE ? OR full_name LIKE ? ORDER BY username",
		pattern, pattern,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// Friend methods

func (db *DB) AddFriend(userID, friendID int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, pair := range [][2]int64{{userID, friendID}, {friendID, userID}} {
		if _, err := tx.Exec(
			"INSERT INTO friends (user_id, friend_id) VALUES (?, ?)", pair[0], pair[1],
		); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return ErrDuplicateFriend
			}
			return err
		}
	}
	return tx.Commit()
}

func (db *DB) AreFriends(userID, friendID int64) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM friends WHERE user_id = ? AND friend_id = ?", userID, friendID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) GetFriendIDs(userID int64) ([]int64, error) {
	rows, err := db.conn.Query(
		"SELECT friend_id FROM friends WHERE user_id = ? ORDER BY friend_id", userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (db *DB) GetFriends(userID int64) ([]models.User, error) {
	rows, err := db.conn.Query(
		`SELECT u.id, u.username, u.full_name, u.email, u.phone
		 FROM users u JOIN friends f ON f.friend_id = u.id
		 WHERE f.user_id = ? ORDER BY u.username`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// Friend request methods

func (db *DB) CreateFriendRequest(fromID, toID int64) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO friend_requests (from_id, to_id, created_at) VALUES (?, ?, ?)",
		fromID, toID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) DeleteFriendRequest(fromID, toID int64) error {
	res, err := db.conn.Exec(
		"DELETE FROM friend_requests WHERE from_id = ? AND to_id = ?", fromID, toID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

// GetIncomingRequestIDs returns the requester ids of pending incoming
// requests, ordered oldest first. This is the pending list of the login burst.
func (db *DB) GetIncomingRequestIDs(userID int64) ([]int64, error) {
	rows, err := db.conn.Query(
		"SELECT from_id FROM friend_requests WHERE to_id = ? ORDER BY id", userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (db *DB) GetFriendRequests(userID int64) (incoming, outgoing []models.FriendRequest, err error) {
	rows, err := db.conn.Query(
		"SELECT id, from_id, to_id, created_at FROM friend_requests WHERE to_id = ? OR from_id = ? ORDER BY id",
		userID, userID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r models.FriendRequest
		var ts string
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &ts); err != nil {
			return nil, nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		if r.ToID == userID {
			incoming = append(incoming, r)
		} else {
			outgoing = append(outgoing, r)
		}
	}
	return incoming, outgoing, rows.Err()
}

// Message methods

const messageColumns = `id, sender_id, receiver_id, group_id, content, file_name,
	created_at, read, deleted, recalled, edited, pinned, reply_to_id, reply_to_content`

// SaveMessage persists m and stamps its assigned id. A message must address
// exactly one of receiver/group and carry exactly one of content/file.
func (db *DB) SaveMessage(m *models.Message) error {
	if (m.Content == "") == (m.FileName == "") {
		return ErrInvalidMessage
	}
	if (m.ReceiverID == 0) == (m.GroupID == 0) {
		return ErrInvalidMessage
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	res, err := db.conn.Exec(
		`INSERT INTO messages (sender_id, receiver_id, group_id, content, file_name, file_data,
			created_at, reply_to_id, reply_to_content)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SenderID, m.ReceiverID, m.GroupID, m.Content, m.FileName, m.FileData,
		m.CreatedAt.Format(time.RFC3339), m.ReplyToID, m.ReplyToContent,
	)
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (db *DB) GetMessage(id int64) (*models.Message, error) {
	row := db.conn.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	return m, err
}

// GetUserMessages returns the full history visible to a user: direct messages
// they sent or received plus messages of every group they belong to.
func (db *DB) GetUserMessages(userID int64) ([]models.Message, error) {
	rows, err := db.conn.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE sender_id = ? OR receiver_id = ?
		    OR group_id IN (SELECT group_id FROM group_members WHERE user_id = ?)
		 ORDER BY id`, userID, userID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (db *DB) GetConversation(userID, peerID int64) ([]models.Message, error) {
	rows, err := db.conn.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY id`, userID, peerID, peerID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (db *DB) GetGroupConversation(groupID int64) ([]models.Message, error) {
	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages WHERE group_id = ? ORDER BY id", groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkConversationRead flags every direct message from peer to reader as read.
func (db *DB) MarkConversationRead(readerID, peerID int64) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET read = 1 WHERE sender_id = ? AND receiver_id = ?",
		peerID, readerID,
	)
	return err
}

// MarkGroupRead flags every message of the group not sent by the reader.
func (db *DB) MarkGroupRead(readerID, groupID int64) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET read = 1 WHERE group_id = ? AND sender_id != ?",
		groupID, readerID,
	)
	return err
}

func (db *DB) SetMessageDeleted(id int64) error {
	return db.flagMessage(id, "deleted")
}

func (db *DB) SetMessageRecalled(id int64) error {
	return db.flagMessage(id, "recalled")
}

func (db *DB) flagMessage(id int64, column string) error {
	res, err := db.conn.Exec("UPDATE messages SET "+column+" = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

func (db *DB) EditMessage(id int64, content string) error {
	res, err := db.conn.Exec(
		"UPDATE messages SET content = ?, edited = 1 WHERE id = ?", content, id,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

func (db *DB) SetMessagePinned(id int64, pinned bool) error {
	val := 0
	if pinned {
		val = 1
	}
	res, err := db.conn.Exec("UPDATE messages SET pinned = ? WHERE id = ?", val, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

func (db *DB) SearchMessages(userID int64, query string) ([]models.Message, error) {
	pattern := "%" + query + "%"
	rows, err := db.conn.Query(
		`SELECT `+messageColumns+` FROM messages
		 WHERE content LIKE ? AND deleted = 0 AND recalled = 0
		   AND (sender_id = ? OR receiver_id = ?
		        OR group_id IN (SELECT group_id FROM group_members WHERE user_id = ?))
		 ORDER BY id`, pattern, userID, userID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (db *DB) GetPinnedMessages(userID, peerID int64, group bool) ([]models.Message, error) {
	var rows *sql.Rows
	var err error
	if group {
		rows, err = db.conn.Query(
			"SELECT "+messageColumns+" FROM messages WHERE group_id = ? AND pinned = 1 ORDER BY id",
			peerID,
		)
	} else {
		rows, err = db.conn.Query(
			`SELECT `+messageColumns+` FROM messages
			 WHERE pinned = 1 AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
			 ORDER BY id`, userID, peerID, peerID, userID,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetFileData returns the stored file name and bytes of a file message.
func (db *DB) GetFileData(id int64) (string, []byte, error) {
	var name string
	var data []byte
	err := db.conn.QueryRow(
		"SELECT file_name, file_data FROM messages WHERE id = ?", id,
	).Scan(&name, &data)
	if err == sql.ErrNoRows {
		return "", nil, ErrNoRows
	}
	if err != nil {
		return "", nil, err
	}
	if name == "" {
		return "", nil, ErrNoRows
	}
	return name, data, nil
}

// Group methods

func (db *DB) CreateGroup(ownerID int64, name string, memberIDs []int64) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO groups (name, owner_id) VALUES (?, ?)", name, ownerID)
	if err != nil {
		return 0, err
	}
	groupID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	members := append([]int64{ownerID}, memberIDs...)
	for _, id := range members {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)", groupID, id,
		); err != nil {
			return 0, err
		}
	}
	return groupID, tx.Commit()
}

func (db *DB) GetGroup(id int64) (*models.Group, error) {
	var g models.Group
	err := db.conn.QueryRow(
		"SELECT id, name, owner_id FROM groups WHERE id = ?", id,
	).Scan(&g.ID, &g.Name, &g.OwnerID)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	g.MemberIDs, err = db.GetGroupMemberIDs(id)
	return &g, err
}

func (db *DB) GetGroupMemberIDs(groupID int64) ([]int64, error) {
	rows, err := db.conn.Query(
		"SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id", groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (db *DB) IsGroupMember(groupID, userID int64) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) AddGroupMember(groupID, userID int64) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)", groupID, userID,
	)
	return err
}

func (db *DB) RemoveGroupMember(groupID, userID int64) error {
	res, err := db.conn.Exec(
		"DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

func (db *DB) GetUserGroups(userID int64) ([]models.Group, error) {
	rows, err := db.conn.Query(
		`SELECT g.id, g.name, g.owner_id FROM groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.user_id = ? ORDER BY g.id`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		groups[i].MemberIDs, err = db.GetGroupMemberIDs(groups[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (db *DB) GetFriendsNotInGroup(userID, groupID int64) ([]models.User, error) {
	rows, err := db.conn.Query(
		`SELECT u.id, u.username, u.full_name, u.email, u.phone
		 FROM users u JOIN friends f ON f.friend_id = u.id
		 WHERE f.user_id = ?
		   AND u.id NOT IN (SELECT user_id FROM group_members WHERE group_id = ?)
		 ORDER BY u.username`, userID, groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// Avatar methods

func (db *DB) SetAvatar(userID int64, data []byte) error {
	_, err := db.conn.Exec(
		"INSERT INTO avatars (user_id, data) VALUES (?, ?) ON CONFLICT(user_id) DO UPDATE SET data = excluded.data",
		userID, data,
	)
	return err
}

func (db *DB) GetAvatar(userID int64) ([]byte, error) {
	var data []byte
	err := db.conn.QueryRow("SELECT data FROM avatars WHERE user_id = ?", userID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	return data, err
}

// Activity sink

func (db *DB) RecordActivity(a models.Activity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(
		"INSERT INTO activities (type, actor_id, subject_id, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		a.Type, a.ActorID, a.SubjectID, a.Detail, a.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// scan helpers

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanUsers(rows *sql.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Phone); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var ts string
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content, &m.FileName,
		&ts, &m.Read, &m.Deleted, &m.Recalled, &m.Edited, &m.Pinned, &m.ReplyToID, &m.ReplyToContent)
	if err != nil {
		return nil, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	return &m, nil
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}
