package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/sensechat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/sensechat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/sensechat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'ja',
		style_preset TEXT NOT NULL DEFAULT 'casual',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_by TEXT NOT NULL REFERENCES users(id),
		title TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT REFERENCES threads(id) ON DELETE SET NULL,
		sender_id TEXT NOT NULL REFERENCES users(id),
		summary TEXT NOT NULL CHECK (summary <> ''),
		vector_id TEXT NOT NULL UNIQUE,
		slots TEXT NOT NULL DEFAULT '{}',
		lang_hint TEXT NOT NULL DEFAULT 'auto',
		created_at DATETIME NOT NULL,
		expires_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		message_id TEXT NOT NULL,
		thread_id TEXT REFERENCES threads(id) ON DELETE SET NULL,
		status TEXT NOT NULL DEFAULT 'unread' CHECK (status IN ('unread', 'read')),
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_expires ON messages(expires_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_user ON deliveries(user_id, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_deliveries_thread ON deliveries(thread_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser inserts a user or updates its profile fields.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, language, style_preset, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE
		SET name = excluded.name, language = excluded.language, style_preset = excluded.style_preset
	`, user.ID, user.Name, user.Language, user.StylePreset, time.Now().UTC())
	if err != nil {
		return err
	}

	stored, err := s.GetUser(ctx, user.ID)
	if err != nil {
		return err
	}
	user.CreatedAt = stored.CreatedAt
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, language, style_preset, created_at
		FROM users WHERE id = ?
	`, id).Scan(
		&user.ID,
		&user.Name,
		&user.Language,
		&user.StylePreset,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListUsers returns every user ordered by ID.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, language, style_preset, created_at
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Language, &u.StylePreset, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// EnsureThread returns the thread with id, creating it if missing.
func (s *SQLiteStore) EnsureThread(ctx context.Context, id, createdBy, title string) (*models.Thread, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO threads (id, created_by, title, created_at)
		VALUES (?, ?, ?, ?)
	`, id, createdBy, title, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if thread == nil {
		return nil, false, fmt.Errorf("thread %s not found after insert", id)
	}
	return thread, n > 0, nil
}

// GetThread retrieves a thread by ID.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	thread := &models.Thread{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_by, title, created_at
		FROM threads WHERE id = ?
	`, id).Scan(
		&thread.ID,
		&thread.CreatedBy,
		&thread.Title,
		&thread.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return thread, nil
}

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	var (
		msg       models.Message
		threadID  sql.NullString
		slots     string
		expiresAt sql.NullTime
	)
	if err := row.Scan(
		&msg.ID,
		&threadID,
		&msg.SenderID,
		&msg.Summary,
		&msg.VectorID,
		&slots,
		&msg.LangHint,
		&msg.CreatedAt,
		&expiresAt,
	); err != nil {
		return nil, err
	}
	if threadID.Valid {
		msg.ThreadID = &threadID.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		msg.ExpiresAt = &t
	}
	if err := decodeSlots([]byte(slots), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateMessage inserts a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	slots, err := encodeSlots(msg.Slots)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if msg.ExpiresAt != nil {
		t := msg.ExpiresAt.UTC()
		expiresAt = &t
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ThreadID, msg.SenderID, msg.Summary, msg.VectorID, string(slots), msg.LangHint, msg.CreatedAt.UTC(), expiresAt)
	return err
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListThreadMessages returns messages created in the thread or delivered
// into it, newest first, with the total count.
func (s *SQLiteStore) ListThreadMessages(ctx context.Context, threadID string, limit, offset int) ([]models.Message, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE thread_id = ?1 OR id IN (SELECT message_id FROM deliveries WHERE thread_id = ?1)
	`, threadID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ?1 OR id IN (SELECT message_id FROM deliveries WHERE thread_id = ?1)
		ORDER BY created_at DESC
		LIMIT ?2 OFFSET ?3
	`, threadID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs, err := collectSQLiteMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// ListExpiredMessages returns up to limit messages whose expiry is at or
// before now, oldest first.
func (s *SQLiteStore) ListExpiredMessages(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at
		LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLiteMessages(rows)
}

func collectSQLiteMessages(rows *sql.Rows) ([]models.Message, error) {
	msgs := []models.Message{}
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// DeleteMessages removes messages by ID.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountMessages returns the number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// CreateDelivery inserts a delivery record.
func (s *SQLiteStore) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, user_id, message_id, thread_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.UserID, d.MessageID, nullable(d.ThreadID), d.Status, d.CreatedAt.UTC())
	return err
}

// ListDeliveries returns a user's deliveries, newest first. An empty status
// matches every status.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, userID, status string, limit, offset int) ([]models.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message_id, thread_id, status, created_at
		FROM deliveries
		WHERE user_id = ?1 AND (?2 = '' OR status = ?2)
		ORDER BY created_at DESC
		LIMIT ?3 OFFSET ?4
	`, userID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := []models.Delivery{}
	for rows.Next() {
		var (
			d        models.Delivery
			threadID *string
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.MessageID, &threadID, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		if threadID != nil {
			d.ThreadID = *threadID
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// MarkDeliveryRead moves a delivery owned by userID to read.
func (s *SQLiteStore) MarkDeliveryRead(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deliveries SET status = 'read'
		WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountUnreadDeliveries returns the number of unread deliveries.
func (s *SQLiteStore) CountUnreadDeliveries(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE status = 'unread'`).Scan(&count)
	return count, err
}
