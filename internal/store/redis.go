package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/sensechat/internal/metrics"
	"github.com/eldtechnologies/sensechat/internal/models"
	"github.com/eldtechnologies/sensechat/internal/semantic"
)

const (
	recentVectorsKey = "vec:recent"
	maxRecentVectors = 500
	minNeighborScore = 0.1
)

// RedisStore handles Redis operations: the vector index, pub/sub relay
// transport and the client shared with the rate limiter.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func observeRedis(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// vectorKey returns the key holding one embedding.
func vectorKey(id string) string {
	return fmt.Sprintf("vec:%s", id)
}

// SaveVector stores an embedding with a TTL and indexes it as recent.
func (s *RedisStore) SaveVector(ctx context.Context, rec models.VectorRecord, ttl time.Duration) error {
	defer observeRedis(time.Now())

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, vectorKey(rec.ID), data, ttl)
	pipe.ZAdd(ctx, recentVectorsKey, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: rec.ID,
	})
	pipe.ZRemRangeByRank(ctx, recentVectorsKey, 0, -(maxRecentVectors + 1))
	_, err = pipe.Exec(ctx)
	return err
}

// GetVector retrieves an embedding by vector ID.
func (s *RedisStore) GetVector(ctx context.Context, id string) (*models.VectorRecord, error) {
	defer observeRedis(time.Now())

	data, err := s.client.Get(ctx, vectorKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var rec models.VectorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Neighbors scores the recent vectors against query by cosine similarity
// and returns the best k, skipping excludeMessageID. Expired entries are
// pruned from the recent index as they are found.
func (s *RedisStore) Neighbors(ctx context.Context, query []float32, excludeMessageID string, k int) ([]models.Neighbor, error) {
	if k <= 0 || len(query) == 0 {
		return []models.Neighbor{}, nil
	}
	defer observeRedis(time.Now())

	ids, err := s.client.ZRevRange(ctx, recentVectorsKey, 0, maxRecentVectors-1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Neighbor{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = vectorKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var stale []any
	neighbors := make([]models.Neighbor, 0, k)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec models.VectorRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if rec.MessageID == excludeMessageID {
			continue
		}
		score := semantic.Cosine(query, rec.Values)
		if score < minNeighborScore {
			continue
		}
		neighbors = append(neighbors, models.Neighbor{
			MessageID: rec.MessageID,
			Summary:   rec.Summary,
			Score:     score,
		})
	}

	if len(stale) > 0 {
		s.client.ZRem(ctx, recentVectorsKey, stale...)
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Score > neighbors[j].Score
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// Publish sends payload to every subscriber of channel.
func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe streams payloads published on channel until ctx is cancelled.
// The returned channel is closed when the subscription ends.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	in := sub.Channel()
	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
