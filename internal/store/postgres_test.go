package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/sensechat/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresStoreWithPool(mock), mock
}

var messageCols = []string{"id", "thread_id", "sender_id", "summary", "vector_id", "slots", "lang_hint", "created_at", "expires_at"}

func TestPostgresGetUser(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, name, language, style_preset, created_at\s+FROM users WHERE id = \$1`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "language", "style_preset", "created_at"}).
			AddRow("alice", "Alice", "ja", "biz_formal", now))
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "language", "style_preset", "created_at"}))

	user, err := s.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "biz_formal", user.StylePreset)

	missing, err := s.GetUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertUser(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO users .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("bob", "Bob", "en", "casual").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

	u := &models.User{ID: "bob", Name: "Bob", Language: "en", StylePreset: "casual"}
	require.NoError(t, s.UpsertUser(context.Background(), u))
	assert.Equal(t, now, u.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnsureThread(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	threadCols := []string{"id", "created_by", "title", "created_at"}

	mock.ExpectQuery(`INSERT INTO threads`).
		WithArgs("t1", "alice", "default").
		WillReturnRows(pgxmock.NewRows(threadCols).AddRow("t1", "alice", "default", now))

	thread, created, err := s.EnsureThread(context.Background(), "t1", "alice", "default")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "t1", thread.ID)

	mock.ExpectQuery(`INSERT INTO threads`).
		WithArgs("t1", "bob", "other").
		WillReturnRows(pgxmock.NewRows(threadCols))
	mock.ExpectQuery(`FROM threads WHERE id = \$1`).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows(threadCols).AddRow("t1", "alice", "default", now))

	thread, created, err = s.EnsureThread(context.Background(), "t1", "bob", "other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice", thread.CreatedBy)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMessageRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	expires := now.Add(24 * time.Hour)
	thread := "t1"

	msg := &models.Message{
		ID:        "m1",
		ThreadID:  &thread,
		SenderID:  "alice",
		Summary:   "dinner at 7",
		VectorID:  "vec_01",
		Slots:     map[string]any{"intent": "request"},
		LangHint:  "en",
		CreatedAt: now,
		ExpiresAt: &expires,
	}

	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs("m1", &thread, "alice", "dinner at 7", "vec_01", pgxmock.AnyArg(), "en", now, &expires).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.CreateMessage(context.Background(), msg))

	mock.ExpectQuery(`SELECT id, thread_id, .* FROM messages WHERE id = \$1`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows(messageCols).
			AddRow("m1", &thread, "alice", "dinner at 7", "vec_01", []byte(`{"intent":"request"}`), "en", now, &expires))

	got, err := s.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "request", got.Slots["intent"])
	require.NotNil(t, got.ThreadID)
	assert.Equal(t, "t1", *got.ThreadID)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.Expired(expires))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListThreadMessages(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM messages\s+WHERE thread_id = \$1 OR id IN`).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`ORDER BY created_at DESC\s+LIMIT \$2 OFFSET \$3`).
		WithArgs("t1", 2, 0).
		WillReturnRows(pgxmock.NewRows(messageCols).
			AddRow("m2", nil, "bob", "second", "vec_2", []byte(`{}`), "ja", now, nil).
			AddRow("m1", nil, "alice", "first", "vec_1", []byte(nil), "ja", now.Add(-time.Minute), nil))

	msgs, total, err := s.ListThreadMessages(context.Background(), "t1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Nil(t, msgs[0].ThreadID)
	assert.NotNil(t, msgs[1].Slots)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteMessages(t *testing.T) {
	s, mock := newMockStore(t)

	n, err := s.DeleteMessages(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	mock.ExpectExec(`DELETE FROM messages WHERE id = ANY\(\$1\)`).
		WithArgs([]string{"m1", "m2"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err = s.DeleteMessages(context.Background(), []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkDeliveryRead(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE deliveries SET status = 'read'`).
		WithArgs("d1", "alice").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE deliveries SET status = 'read'`).
		WithArgs("d1", "mallory").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.MarkDeliveryRead(context.Background(), "d1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkDeliveryRead(context.Background(), "d1", "mallory")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListDeliveries(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	thread := "t1"

	mock.ExpectQuery(`FROM deliveries\s+WHERE user_id = \$1`).
		WithArgs("alice", "unread", 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "message_id", "thread_id", "status", "created_at"}).
			AddRow("d1", "alice", "m1", &thread, "unread", now).
			AddRow("d2", "alice", "m2", nil, "unread", now))

	ds, err := s.ListDeliveries(context.Background(), "alice", "unread", 50, 0)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "t1", ds[0].ThreadID)
	assert.Empty(t, ds[1].ThreadID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM messages`).WillReturnError(boom)

	_, err := s.CountMessages(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
