// Package history keeps a bounded, append-only log of completed scale
// conversions in Redis.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Record is one completed scale conversion.
type Record struct {
	ID           string    `json:"id"`
	Filename     string    `json:"original_filename"`
	SourceWidth  float64   `json:"original_width"`
	TargetWidth  float64   `json:"target_width"`
	Scale        float64   `json:"scale_factor"`
	OriginalSize int64     `json:"original_size"`
	OutputSize   int64     `json:"scaled_size"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	DefaultKey = "pagecomposer:history"
	DefaultMax = 1000
)

// RedisStore is a newest-first list trimmed to max entries.
type RedisStore struct {
	client *redis.Client
	key    string
	max    int64
}

func NewRedisStore(redisURL, key string, max int) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(c, key, max), nil
}

// NewRedisStoreWithClient wraps an existing client. The store takes ownership
// and closes it on Close.
func NewRedisStoreWithClient(c *redis.Client, key string, max int) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &RedisStore{client: c, key: key, max: int64(max)}
}

// Append stores rec, filling in ID and CreatedAt when unset.
func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, b)
	pipe.LTrim(ctx, s.key, 0, s.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history append: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first. Entries that fail to decode
// are skipped.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}
	raw, err := s.client.LRange(ctx, s.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for _, v := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.client.Close() }

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client { return s.client }
