package offsetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const scanBatch = 100

// RedisStore is a Store shared between processes through Redis. Each source
// is one JSON-encoded key under the configured prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group
}

// NewRedisStore creates a RedisStore using client. The store owns client and
// closes it in Close.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, "timewarp:offset:", time.Hour)
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}

	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(source string) string {
	return s.prefix + source
}

// Record implements Store.
func (s *RedisStore) Record(ctx context.Context, source string, offset int64) error {
	data, err := json.Marshal(Entry{Source: source, Offset: offset, UpdatedAt: s.now()})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if err := s.client.Set(ctx, s.key(source), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

// Current implements Store. Concurrent lookups of the same source share one
// Redis round trip.
func (s *RedisStore) Current(ctx context.Context, source string) (Entry, bool, error) {
	key := s.key(source)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		val, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("redis get error: %w", err)
		}

		var entry Entry
		if err := json.Unmarshal(val, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
		}

		return entry, nil
	})
	if err != nil {
		return Entry{}, false, err
	}

	if v == nil {
		return Entry{}, false, nil
	}

	return v.(Entry), true, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, source string) error {
	if err := s.client.Del(ctx, s.key(source)).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}

	return nil
}

// Clear implements Store. Only keys under the store's prefix are removed.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.scan(ctx, func(keys []string) error {
		return s.client.Del(ctx, keys...).Err()
	})
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.scan(ctx, func(keys []string) error {
		count += len(keys)
		return nil
	})

	return count, err
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// scan calls fn with each non-empty batch of keys under the prefix.
func (s *RedisStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan error: %w", err)
		}

		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return fmt.Errorf("redis batch error: %w", err)
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}
