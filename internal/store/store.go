package store

import (
	"context"
	"time"

	"github.com/eldtechnologies/sensechat/internal/models"
)

// DataStore is the durable store for users, threads, messages and
// deliveries. PostgresStore and SQLiteStore implement it. Getters return
// nil, nil when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	UpsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Thread operations
	EnsureThread(ctx context.Context, id, createdBy, title string) (*models.Thread, bool, error)
	GetThread(ctx context.Context, id string) (*models.Thread, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListThreadMessages(ctx context.Context, threadID string, limit, offset int) ([]models.Message, int, error)
	ListExpiredMessages(ctx context.Context, now time.Time, limit int) ([]models.Message, error)
	DeleteMessages(ctx context.Context, ids []string) (int64, error)
	CountMessages(ctx context.Context) (int64, error)

	// Delivery operations
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	ListDeliveries(ctx context.Context, userID, status string, limit, offset int) ([]models.Delivery, error)
	MarkDeliveryRead(ctx context.Context, id, userID string) (bool, error)
	CountUnreadDeliveries(ctx context.Context) (int64, error)
}
