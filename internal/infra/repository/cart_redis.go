package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	repo "commerce/internal/repository"

	"github.com/redis/go-redis/v9"
)

const DefaultCartTTL = 7 * 24 * time.Hour

// カートのJSONを Redis に置く KeyValueStore。
// 書き込みのたびに TTL を延ばす
type CartRedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewCartRedisStore(client *redis.Client, prefix string, ttl time.Duration) *CartRedisStore {
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &CartRedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *CartRedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (s *CartRedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *CartRedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *CartRedisStore) redisKey(key string) string {
	return s.prefix + key
}
