package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/eldtechnologies/sensechat/internal/metrics"
	"github.com/eldtechnologies/sensechat/internal/models"
	"github.com/eldtechnologies/sensechat/internal/store/migrations"
)

// pgxPool is the subset of *pgxpool.Pool the store uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func newPostgresStoreWithPool(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observePostgres(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

// UpsertUser inserts a user or updates its profile fields.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *models.User) error {
	defer observePostgres(time.Now())
	return s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, language, style_preset)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, language = EXCLUDED.language, style_preset = EXCLUDED.style_preset
		RETURNING created_at
	`, user.ID, user.Name, user.Language, user.StylePreset).Scan(&user.CreatedAt)
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	defer observePostgres(time.Now())
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, language, style_preset, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.Name,
		&user.Language,
		&user.StylePreset,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListUsers returns every user ordered by ID.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	defer observePostgres(time.Now())
	rows, err := s.pool.Query(ctx, `
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
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	defer observePostgres(time.Now())
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// EnsureThread returns the thread with id, creating it if missing. The
// boolean reports whether it was created.
func (s *PostgresStore) EnsureThread(ctx context.Context, id, createdBy, title string) (*models.Thread, bool, error) {
	defer observePostgres(time.Now())
	thread := &models.Thread{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO threads (id, created_by, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
		RETURNING id, created_by, title, created_at
	`, id, createdBy, title).Scan(
		&thread.ID,
		&thread.CreatedBy,
		&thread.Title,
		&thread.CreatedAt,
	)
	if err == nil {
		return thread, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	existing, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("thread %s vanished after conflict", id)
	}
	return existing, false, nil
}

// GetThread retrieves a thread by ID.
func (s *PostgresStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	thread := &models.Thread{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_by, title, created_at
		FROM threads WHERE id = $1
	`, id).Scan(
		&thread.ID,
		&thread.CreatedBy,
		&thread.Title,
		&thread.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return thread, nil
}

const messageColumns = `id, thread_id, sender_id, summary, vector_id, slots, lang_hint, created_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg   models.Message
		slots []byte
	)
	if err := row.Scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.SenderID,
		&msg.Summary,
		&msg.VectorID,
		&slots,
		&msg.LangHint,
		&msg.CreatedAt,
		&msg.ExpiresAt,
	); err != nil {
		return nil, err
	}
	if err := decodeSlots(slots, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func decodeSlots(data []byte, msg *models.Message) error {
	msg.Slots = map[string]any{}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &msg.Slots); err != nil {
		return fmt.Errorf("decode slots for message %s: %w", msg.ID, err)
	}
	return nil
}

func encodeSlots(slots map[string]any) ([]byte, error) {
	if slots == nil {
		slots = map[string]any{}
	}
	return json.Marshal(slots)
}

// CreateMessage inserts a message. CreatedAt is set by the caller.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer observePostgres(time.Now())
	slots, err := encodeSlots(msg.Slots)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.ThreadID, msg.SenderID, msg.Summary, msg.VectorID, slots, msg.LangHint, msg.CreatedAt, msg.ExpiresAt)
	return err
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer observePostgres(time.Now())
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListThreadMessages returns messages created in the thread or delivered
// into it, newest first, with the total count.
func (s *PostgresStore) ListThreadMessages(ctx context.Context, threadID string, limit, offset int) ([]models.Message, int, error) {
	defer observePostgres(time.Now())

	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE thread_id = $1 OR id IN (SELECT message_id FROM deliveries WHERE thread_id = $1)
	`, threadID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = $1 OR id IN (SELECT message_id FROM deliveries WHERE thread_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, threadID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// ListExpiredMessages returns up to limit messages whose expiry is at or
// before now, oldest first.
func (s *PostgresStore) ListExpiredMessages(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	defer observePostgres(time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	msgs := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// DeleteMessages removes messages by ID.
func (s *PostgresStore) DeleteMessages(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	defer observePostgres(time.Now())
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountMessages returns the number of stored messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	defer observePostgres(time.Now())
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// CreateDelivery inserts a delivery record.
func (s *PostgresStore) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	defer observePostgres(time.Now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deliveries (id, user_id, message_id, thread_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.UserID, d.MessageID, nullable(d.ThreadID), d.Status, d.CreatedAt)
	return err
}

// ListDeliveries returns a user's deliveries, newest first. An empty status
// matches every status.
func (s *PostgresStore) ListDeliveries(ctx context.Context, userID, status string, limit, offset int) ([]models.Delivery, error) {
	defer observePostgres(time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, message_id, thread_id, status, created_at
		FROM deliveries
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
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

// MarkDeliveryRead moves a delivery owned by userID to read. It reports
// false when no such delivery exists.
func (s *PostgresStore) MarkDeliveryRead(ctx context.Context, id, userID string) (bool, error) {
	defer observePostgres(time.Now())
	tag, err := s.pool.Exec(ctx, `
		UPDATE deliveries SET status = 'read'
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountUnreadDeliveries returns the number of unread deliveries.
func (s *PostgresStore) CountUnreadDeliveries(ctx context.Context) (int64, error) {
	defer observePostgres(time.Now())
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deliveries WHERE status = 'unread'`).Scan(&count)
	return count, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
