package db

import (
	"database/sql"
	"fmt"
	"parley/models"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = time.RFC3339Nano

// DB is the SQLite-backed persistence gateway. It stores whole snapshots:
// Save rewrites every table in one transaction, Load rebuilds the snapshot.
type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// A single writer keeps snapshot rewrites serialized at the driver level too.
	conn.SetMaxOpenConns(1)

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
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL,
			phone_number TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			seq INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_messages (
			owner_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			recipient TEXT NOT NULL,
			kind TEXT NOT NULL,
			body TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (owner_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			seq INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (group_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS group_messages (
			group_id TEXT NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			body TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (group_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS message_requests (
			owner_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			from_user_id TEXT NOT NULL,
			from_name TEXT NOT NULL,
			from_username TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('pending','accepted','declined')),
			PRIMARY KEY (owner_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_bindings (
			user_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			peer_key TEXT NOT NULL,
			display_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			group_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_id, seq)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	// Auto-migration for new columns
	if err := db.migrate(); err != nil {
		return err
	}

	return nil
}

// migrate performs auto-migration for new columns
func (db *DB) migrate() error {
	now := time.Now().UTC().Format(timeLayout)

	if !db.columnExists("users", "created_at") {
		// SQLite doesn't support parameters in ALTER TABLE, use string concatenation
		alterQuery := "ALTER TABLE users ADD COLUMN created_at TEXT DEFAULT '" + now + "'"
		if _, err := db.conn.Exec(alterQuery); err != nil {
			return err
		}
	}

	for _, column := range []string{"last_online", "last_offline"} {
		if !db.columnExists("users", column) {
			if _, err := db.conn.Exec("ALTER TABLE users ADD COLUMN " + column + " TEXT NOT NULL DEFAULT ''"); err != nil {
				return err
			}
		}
	}

	if !db.columnExists("chat_bindings", "last_message") {
		if _, err := db.conn.Exec("ALTER TABLE chat_bindings ADD COLUMN last_message TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}

	return nil
}

// columnExists checks if a column exists in a table
func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// Save replaces the stored state with snap.
func (db *DB) Save(snap *models.Snapshot) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"group_members", "group_messages", "chat_groups", "user_messages", "message_requests", "chat_bindings", "users"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, u := range snap.Users {
		_, err := tx.Exec(
			`INSERT INTO users (id, name, display_name, phone_number, password, seq, created_at, last_online, last_offline)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Name, u.DisplayName, u.PhoneNumber, u.PasswordHash, i,
			formatTime(u.CreatedAt), formatTime(u.LastOnline), formatTime(u.LastOffline),
		)
		if err != nil {
			return fmt.Errorf("insert user %q: %w", u.Name, err)
		}
	}

	for owner, history := range snap.Histories {
		for i, m := range history {
			_, err := tx.Exec(
				`INSERT INTO user_messages (owner_id, seq, id, sender_id, sender_name, recipient, kind, body, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				owner, i, m.ID, m.SenderID, m.SenderDisplayName, m.Recipient, string(m.Kind), m.Body, formatTime(m.Timestamp),
			)
			if err != nil {
				return fmt.Errorf("insert message %q: %w", m.ID, err)
			}
		}
	}

	for i, g := range snap.Groups {
		if _, err := tx.Exec("INSERT INTO chat_groups (id, name, created_at, seq) VALUES (?, ?, ?, ?)", g.ID, g.Name, formatTime(g.CreatedAt), i); err != nil {
			return fmt.Errorf("insert group %q: %w", g.ID, err)
		}
		for pos, member := range g.Members {
			if _, err := tx.Exec("INSERT INTO group_members (group_id, position, user_id) VALUES (?, ?, ?)", g.ID, pos, member); err != nil {
				return fmt.Errorf("insert member of %q: %w", g.ID, err)
			}
		}
		for seq, m := range g.History {
			_, err := tx.Exec(
				"INSERT INTO group_messages (group_id, seq, id, sender_id, sender_name, body, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
				g.ID, seq, m.ID, m.SenderID, m.SenderDisplayName, m.Body, formatTime(m.Timestamp),
			)
			if err != nil {
				return fmt.Errorf("insert group message %q: %w", m.ID, err)
			}
		}
	}

	for owner, requests := range snap.Requests {
		for i, r := range requests {
			_, err := tx.Exec(
				`INSERT INTO message_requests (owner_id, seq, id, from_user_id, from_name, from_username, message, timestamp, status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				owner, i, r.ID, r.FromUserID, r.FromName, r.FromUsername, r.Message, formatTime(r.Timestamp), string(r.Status),
			)
			if err != nil {
				return fmt.Errorf("insert request %q: %w", r.ID, err)
			}
		}
	}

	for owner, bindings := range snap.Bindings {
		for i, b := range bindings {
			_, err := tx.Exec(
				`INSERT INTO chat_bindings (user_id, seq, peer_key, display_name, kind, group_id, last_message, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				owner, i, b.PeerKey, b.DisplayName, string(b.Kind), b.GroupID, b.LastMessage, formatTime(b.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert binding for %q: %w", owner, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load reads the stored state. An empty database yields an empty snapshot.
func (db *DB) Load() (*models.Snapshot, error) {
	snap := models.NewSnapshot()

	if err := db.loadUsers(snap); err != nil {
		return nil, err
	}
	if err := db.loadHistories(snap); err != nil {
		return nil, err
	}
	if err := db.loadGroups(snap); err != nil {
		return nil, err
	}
	if err := db.loadRequests(snap); err != nil {
		return nil, err
	}
	if err := db.loadBindings(snap); err != nil {
		return nil, err
	}

	return snap, nil
}

func (db *DB) loadUsers(snap *models.Snapshot) error {
	rows, err := db.conn.Query(`
		SELECT id, name, display_name, phone_number, password, COALESCE(created_at, ''), last_online, last_offline
		FROM users
		ORDER BY seq
	`)
	if err != nil {
		return fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		var createdAt, lastOnline, lastOffline string
		if err := rows.Scan(&u.ID, &u.Name, &u.DisplayName, &u.PhoneNumber, &u.PasswordHash, &createdAt, &lastOnline, &lastOffline); err != nil {
			return fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = parseTime(createdAt)
		u.LastOnline = parseTime(lastOnline)
		u.LastOffline = parseTime(lastOffline)
		snap.Users = append(snap.Users, &u)
	}

	return rows.Err()
}

func (db *DB) loadHistories(snap *models.Snapshot) error {
	rows, err := db.conn.Query(`
		SELECT owner_id, id, sender_id, sender_name, recipient, kind, body, timestamp
		FROM user_messages
		ORDER BY owner_id, seq
	`)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner, kind, ts string
		var m models.Message
		if err := rows.Scan(&owner, &m.ID, &m.SenderID, &m.SenderDisplayName, &m.Recipient, &kind, &m.Body, &ts); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		m.Kind = models.Kind(kind)
		m.Timestamp = parseTime(ts)
		snap.Histories[owner] = append(snap.Histories[owner], &m)
	}

	return rows.Err()
}

func (db *DB) loadGroups(snap *models.Snapshot) error {
	rows, err := db.conn.Query("SELECT id, name, created_at FROM chat_groups ORDER BY seq")
	if err != nil {
		return fmt.Errorf("query groups: %w", err)
	}

	byID := make(map[string]*models.Group)
	for rows.Next() {
		var g models.Group
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Name, &createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan group: %w", err)
		}
		g.CreatedAt = parseTime(createdAt)
		byID[g.ID] = &g
		snap.Groups = append(snap.Groups, &g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	members, err := db.conn.Query("SELECT group_id, user_id FROM group_members ORDER BY group_id, position")
	if err != nil {
		return fmt.Errorf("query group members: %w", err)
	}
	for members.Next() {
		var groupID, userID string
		if err := members.Scan(&groupID, &userID); err != nil {
			members.Close()
			return fmt.Errorf("scan group member: %w", err)
		}
		if g, ok := byID[groupID]; ok {
			g.Members = append(g.Members, userID)
		}
	}
	members.Close()
	if err := members.Err(); err != nil {
		return err
	}

	history, err := db.conn.Query(`
		SELECT group_id, id, sender_id, sender_name, body, timestamp
		FROM group_messages
		ORDER BY group_id, seq
	`)
	if err != nil {
		return fmt.Errorf("query group messages: %w", err)
	}
	defer history.Close()

	for history.Next() {
		var groupID, ts string
		var m models.Message
		if err := history.Scan(&groupID, &m.ID, &m.SenderID, &m.SenderDisplayName, &m.Body, &ts); err != nil {
			return fmt.Errorf("scan group message: %w", err)
		}
		m.Recipient = groupID
		m.Kind = models.KindGroup
		m.Timestamp = parseTime(ts)
		if g, ok := byID[groupID]; ok {
			g.History = append(g.History, &m)
		}
	}

	return history.Err()
}

func (db *DB) loadRequests(snap *models.Snapshot) error {
	rows, err := db.conn.Query(`
		SELECT owner_id, id, from_user_id, from_name, from_username, message, timestamp, status
		FROM message_requests
		ORDER BY owner_id, seq
	`)
	if err != nil {
		return fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts, status string
		var r models.MessageRequest
		if err := rows.Scan(&r.ToUserID, &r.ID, &r.FromUserID, &r.FromName, &r.FromUsername, &r.Message, &ts, &status); err != nil {
			return fmt.Errorf("scan request: %w", err)
		}
		r.Timestamp = parseTime(ts)
		r.Status = models.RequestStatus(status)
		snap.Requests[r.ToUserID] = append(snap.Requests[r.ToUserID], &r)
	}

	return rows.Err()
}

func (db *DB) loadBindings(snap *models.Snapshot) error {
	rows, err := db.conn.Query(`
		SELECT user_id, peer_key, display_name, kind, group_id, last_message, created_at
		FROM chat_bindings
		ORDER BY user_id, seq
	`)
	if err != nil {
		return fmt.Errorf("query bindings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner, kind, createdAt string
		var b models.ChatBinding
		if err := rows.Scan(&owner, &b.PeerKey, &b.DisplayName, &kind, &b.GroupID, &b.LastMessage, &createdAt); err != nil {
			return fmt.Errorf("scan binding: %w", err)
		}
		b.Kind = models.Kind(kind)
		b.CreatedAt = parseTime(createdAt)
		snap.Bindings[owner] = append(snap.Bindings[owner], &b)
	}

	return rows.Err()
}

// formatTime stores the zero time as an empty string.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
