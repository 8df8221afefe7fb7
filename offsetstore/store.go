// Package offsetstore records the time offset most recently applied for each
// source, so other parts of a process (or other processes, with the Redis
// backend) can read the current warp without listening on the protocol.
package offsetstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrUnknownKind  = errors.New("offsetstore: unknown store kind")
	ErrMissingRedis = errors.New("offsetstore: redis address is required")
)

// Entry is one recorded offset.
type Entry struct {
	Source    string    `json:"source"`
	Offset    int64     `json:"offset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps the latest offset per source. Implementations are safe for
// concurrent use.
type Store interface {
	// Record stores offset as the current value for source, replacing any
	// previous value.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - source: Who the offset applies to (e.g. "current" or a peer name)
	//   - offset: The time offset
	Record(ctx context.Context, source string, offset int64) error

	// Current returns the entry for source.
	//
	// Returns:
	//   - The entry, and true if one is recorded and not expired
	//   - An error if the lookup fails
	Current(ctx context.Context, source string) (Entry, bool, error)

	// Delete removes the entry for source. Missing sources are not an error.
	Delete(ctx context.Context, source string) error

	// Clear removes every entry owned by this store.
	Clear(ctx context.Context) error

	// Count returns the number of live entries.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

const (
	KindMemory = "memory"
	KindRedis  = "redis"
)

// Config selects and configures a Store backend.
type Config struct {
	// Kind is KindMemory or KindRedis.
	Kind string
	// TTL expires entries that are not updated; 0 keeps them forever.
	TTL time.Duration
	// CleanupInterval is how often the memory backend purges expired entries.
	CleanupInterval time.Duration
	// RedisAddr is the "host:port" of the Redis server.
	RedisAddr string
	// RedisPassword is the Redis password, if any.
	RedisPassword string
	// RedisDB is the Redis database number.
	RedisDB int
	// Prefix namespaces Redis keys.
	Prefix string
}

// DefaultConfig returns an in-memory configuration without expiry.
func DefaultConfig() Config {
	return Config{
		Kind:            KindMemory,
		CleanupInterval: time.Minute,
		RedisAddr:       "localhost:6379",
		Prefix:          "timewarp:offset:",
	}
}

// New builds the Store described by cfg. The Redis backend is pinged so a
// bad address fails here rather than on the first Record.
//
// Parameters:
//   - ctx: Bounds the initial Redis ping
//   - cfg: Backend selection and settings
//
// Returns:
//   - The Store, or ErrUnknownKind / ErrMissingRedis / the ping error
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindMemory:
		return NewMemoryStore(cfg.TTL, cfg.CleanupInterval), nil
	case KindRedis:
		if cfg.RedisAddr == "" {
			return nil, ErrMissingRedis
		}

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("offsetstore: redis ping %s: %w", cfg.RedisAddr, err)
		}

		return NewRedisStore(client, cfg.Prefix, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
