package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/sensechat/internal/models"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func seedUsers(t *testing.T, s DataStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.UpsertUser(context.Background(), &models.User{ID: id, Name: id, Language: "ja", StylePreset: "casual"}))
	}
}

func newMessage(sender string, thread *string, created time.Time, ttl time.Duration) *models.Message {
	id, _ := uuid.NewV7()
	expires := created.Add(ttl)
	return &models.Message{
		ID:        id.String(),
		ThreadID:  thread,
		SenderID:  sender,
		Summary:   "summary of " + id.String(),
		VectorID:  "vec_" + id.String(),
		Slots:     map[string]any{"intent": "general", "entities": []any{"12/24"}},
		LangHint:  "ja",
		CreatedAt: created,
		ExpiresAt: &expires,
	}
}

func TestSQLiteUsers(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	seedUsers(t, s, "bob", "alice")
	require.NoError(t, s.UpsertUser(ctx, &models.User{ID: "alice", Name: "Alice", Language: "en", StylePreset: "technical"}))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].ID)
	assert.Equal(t, "Alice", users[0].Name)
	assert.Equal(t, "technical", users[0].StylePreset)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	missing, err := s.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteMessageLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob")

	thread, created, err := s.EnsureThread(ctx, "t1", "alice", "default")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", thread.CreatedBy)

	_, created, err = s.EnsureThread(ctx, "t1", "bob", "again")
	require.NoError(t, err)
	assert.False(t, created)

	now := time.Now().UTC()
	threadID := "t1"
	inThread := newMessage("alice", &threadID, now.Add(-time.Minute), 24*time.Hour)
	delivered := newMessage("bob", nil, now, 24*time.Hour)
	unrelated := newMessage("bob", nil, now, 24*time.Hour)
	for _, m := range []*models.Message{inThread, delivered, unrelated} {
		require.NoError(t, s.CreateMessage(ctx, m))
	}

	got, err := s.GetMessage(ctx, inThread.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inThread.Summary, got.Summary)
	assert.Equal(t, "general", got.Slots["intent"])
	require.NotNil(t, got.ThreadID)
	assert.Equal(t, "t1", *got.ThreadID)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, *inThread.ExpiresAt, *got.ExpiresAt, time.Millisecond)

	require.NoError(t, s.CreateDelivery(ctx, &models.Delivery{
		ID: "d1", UserID: "alice", MessageID: delivered.ID, ThreadID: "t1",
		Status: models.DeliveryUnread, CreatedAt: now,
	}))

	msgs, total, err := s.ListThreadMessages(ctx, "t1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, msgs, 2)
	assert.Equal(t, delivered.ID, msgs[0].ID)
	assert.Equal(t, inThread.ID, msgs[1].ID)

	page, total, err := s.ListThreadMessages(ctx, "t1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, inThread.ID, page[0].ID)

	count, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestSQLiteExpiryAndPurge(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice")

	now := time.Now().UTC()
	old := newMessage("alice", nil, now.Add(-48*time.Hour), 24*time.Hour)
	fresh := newMessage("alice", nil, now, 24*time.Hour)
	require.NoError(t, s.CreateMessage(ctx, old))
	require.NoError(t, s.CreateMessage(ctx, fresh))

	expired, err := s.ListExpiredMessages(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	n, err := s.DeleteMessages(ctx, []string{old.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := s.GetMessage(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSQLiteDeliveries(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob")

	now := time.Now().UTC()
	for i, id := range []string{"d1", "d2"} {
		require.NoError(t, s.CreateDelivery(ctx, &models.Delivery{
			ID: id, UserID: "alice", MessageID: "m" + id, Status: models.DeliveryUnread,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	ok, err := s.MarkDeliveryRead(ctx, "d1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MarkDeliveryRead(ctx, "d1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	unread, err := s.ListDeliveries(ctx, "alice", models.DeliveryUnread, 10, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "d2", unread[0].ID)

	all, err := s.ListDeliveries(ctx, "alice", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "d2", all[0].ID)

	n, err := s.CountUnreadDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
