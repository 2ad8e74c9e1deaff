package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "memflow:item:"

// RedisStore persists item snapshots as Redis hashes, one per item.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis store: %w", err)
	}
	return &RedisStore{
		client: client,
		logger: logger.With(zap.String("component", "redis_persister")),
	}, nil
}

// SaveItem implements Persister.
func (s *RedisStore) SaveItem(ctx context.Context, rec Record) error {
	key := redisKeyPrefix + rec.ID
	return s.client.HSet(ctx, key, map[string]any{
		"category":   rec.Category,
		"content":    rec.Content,
		"payload":    rec.Payload,
		"updated_at": rec.UpdatedAt.Format(time.RFC3339Nano),
	}).Err()
}

// DeleteItem implements Persister.
func (s *RedisStore) DeleteItem(ctx context.Context, id string) error {
	return s.client.Del(ctx, redisKeyPrefix+id).Err()
}

// LoadAll implements Persister.
func (s *RedisStore) LoadAll(ctx context.Context) ([]Record, error) {
	var out []Record
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		rec := Record{
			ID:       key[len(redisKeyPrefix):],
			Category: fields["category"],
			Content:  fields["content"],
			Payload:  []byte(fields["payload"]),
		}
		if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
			rec.UpdatedAt = ts
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close implements Persister.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
