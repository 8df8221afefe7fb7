package idgenerator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator(t *testing.T) {
	t.Run("returns non-nil generator", func(t *testing.T) {
		require.NotNil(t, NewIdGenerator(0))
	})

	t.Run("first Id returns 1 when starting from 0", func(t *testing.T) {
		gen := NewIdGenerator(0)
		assert.Equal(t, uint64(0), gen.Last())
		assert.Equal(t, uint64(1), gen.Id())
		assert.Equal(t, uint64(1), gen.Last())
	})

	t.Run("ids go past the 32-bit range", func(t *testing.T) {
		gen := NewIdGenerator(uint64(^uint32(0)))
		assert.Equal(t, uint64(1)<<32, gen.Id())
	})
}

func TestIdGenerator_Id_sequential(t *testing.T) {
	gen := NewIdGenerator(1000)
	for i := uint64(1); i <= 10; i++ {
		assert.Equal(t, 1000+i, gen.Id())
	}
}

func TestIdGenerator_Id_concurrent(t *testing.T) {
	gen := NewIdGenerator(0)
	const n = 500
	ids := make([]uint64, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			ids[idx] = gen.Id()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		assert.GreaterOrEqual(t, id, uint64(1))
		assert.LessOrEqual(t, id, uint64(n))
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, uint64(n), gen.Last())
}
