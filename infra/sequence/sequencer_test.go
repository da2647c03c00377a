package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencer_Monotonic(t *testing.T) {
	s := New(0)
	assert.Equal(t, uint64(0), s.Current())
	assert.Equal(t, uint64(1), s.Next())
	assert.Equal(t, uint64(2), s.Next())
	assert.Equal(t, uint64(2), s.Current())
}

func TestSequencer_ResetAfterReplay(t *testing.T) {
	s := New(0)
	s.Reset(41)
	assert.Equal(t, uint64(42), s.Next())

	// Rollback after a failed append.
	s.Reset(41)
	assert.Equal(t, uint64(42), s.Next())
}

func TestSequencer_ConcurrentNextIsUnique(t *testing.T) {
	s := New(0)
	const n = 1000
	seen := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = s.Next()
		}(i)
	}
	wg.Wait()

	unique := make(map[uint64]struct{}, n)
	for _, v := range seen {
		unique[v] = struct{}{}
	}
	assert.Len(t, unique, n)
	assert.Equal(t, uint64(n), s.Current())
}
