// Package retention deletes messages once their retention window has
// passed.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sensechat/internal/metrics"
	"github.com/eldtechnologies/sensechat/internal/models"
)

const (
	DefaultInterval  = 10 * time.Minute
	DefaultBatchSize = 500
)

// Store is the part of the data store the purger needs.
type Store interface {
	ListExpiredMessages(ctx context.Context, now time.Time, limit int) ([]models.Message, error)
	DeleteMessages(ctx context.Context, ids []string) (int64, error)
}

// Archiver keeps a copy of messages before deletion.
type Archiver interface {
	Archive(ctx context.Context, msgs []models.Message) (string, error)
}

// Purger removes expired messages in batches. Delivery records are left in
// place and may reference purged messages.
type Purger struct {
	store     Store
	archiver  Archiver
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPurger creates a purger. archiver may be nil.
func NewPurger(store Store, archiver Archiver, interval time.Duration, logger zerolog.Logger) *Purger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Purger{
		store:     store,
		archiver:  archiver,
		interval:  interval,
		batchSize: DefaultBatchSize,
		logger:    logger.With().Str("component", "retention").Logger(),
		now:       time.Now,
	}
}

// PurgeOnce deletes every message expired as of now and returns how many
// were removed. A batch whose archive write fails is kept for the next run.
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	now := p.now()
	var total int64

	for {
		msgs, err := p.store.ListExpiredMessages(ctx, now, p.batchSize)
		if err != nil {
			return total, fmt.Errorf("list expired: %w", err)
		}
		if len(msgs) == 0 {
			return total, nil
		}

		if p.archiver != nil {
			key, err := p.archiver.Archive(ctx, msgs)
			if err != nil {
				return total, fmt.Errorf("archive %d messages: %w", len(msgs), err)
			}
			metrics.MessagesArchived.Add(float64(len(msgs)))
			p.logger.Debug().Str("key", key).Int("count", len(msgs)).Msg("archived expired messages")
		}

		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		n, err := p.store.DeleteMessages(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("delete expired: %w", err)
		}
		total += n
		metrics.MessagesPurged.Add(float64(n))

		if len(msgs) < p.batchSize {
			return total, nil
		}
	}
}

// Run purges immediately and then every interval until ctx is cancelled.
// Failures are logged and retried on the next tick.
func (p *Purger) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		n, err := p.PurgeOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			p.logger.Error().Err(err).Int64("purged", n).Msg("purge failed")
		case n > 0:
			p.logger.Info().Int64("purged", n).Msg("expired messages purged")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
