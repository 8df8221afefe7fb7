// Package safemap provides a generic map guarded by a single mutex. Every read
// and write of keys or values goes through that one lock, and the batch
// removal helpers let callers take entries out under the lock and work on
// them after it is released.
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// Critical sections are limited to map operations; callbacks passed to Range
// and Extract run with the lock held and must not block.
//
// SafeMap must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]V
}

// NewSafeMap returns a new, empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{m: make(map[K]V)}
}

// Store sets the value for key k, overwriting any existing value.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[k] = v
}

// Load returns the value for key k and whether it was present.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[k]
	return v, ok
}

// Delete removes the entry for key k. Deleting a missing key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, k)
}

// Has reports whether key k is present.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, ok := m.Load(k)
	return ok
}

// Len returns the number of entries.
func (m *SafeMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}

// Range calls f for each entry until f returns false. f runs with the lock
// held and must not call back into the map.
//
// Parameters:
//   - f: Function called for each entry; return false to stop iteration
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		if !f(k, v) {
			return
		}
	}
}

// Extract removes every entry for which match returns true and returns the
// removed values. match runs with the lock held and must not block.
//
// Parameters:
//   - match: Predicate selecting the entries to remove
//
// Returns:
//   - The removed values, in no particular order
func (m *SafeMap[K, V]) Extract(match func(k K, v V) bool) []V {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []V
	for k, v := range m.m {
		if match(k, v) {
			out = append(out, v)
			delete(m.m, k)
		}
	}

	return out
}

// Drain removes and returns every value, leaving the map empty.
func (m *SafeMap[K, V]) Drain() []V {
	return m.Extract(func(K, V) bool { return true })
}
