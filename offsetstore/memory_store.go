package offsetstore

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store backed by go-cache.
type MemoryStore struct {
	cache *cache.Cache
	now   func() time.Time
}

// NewMemoryStore creates a MemoryStore.
//
// Parameters:
//   - ttl: Expiry for entries that are not updated; 0 keeps them forever
//   - cleanupInterval: How often expired entries are purged; 0 disables purging
//
// Returns:
//   - A new MemoryStore
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	expiration := ttl
	if ttl <= 0 {
		expiration = cache.NoExpiration
	}

	return &MemoryStore{
		cache: cache.New(expiration, cleanupInterval),
		now:   time.Now,
	}
}

// Record implements Store.
func (s *MemoryStore) Record(ctx context.Context, source string, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Set(source, Entry{Source: source, Offset: offset, UpdatedAt: s.now()}, cache.DefaultExpiration)
	return nil
}

// Current implements Store.
func (s *MemoryStore) Current(ctx context.Context, source string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	v, found := s.cache.Get(source)
	if !found {
		return Entry{}, false, nil
	}

	entry, ok := v.(Entry)
	return entry, ok, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Delete(source)
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Flush()
	return nil
}

// Count implements Store. Entries that expired but were not yet purged are
// included, matching go-cache's ItemCount.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return s.cache.ItemCount(), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
