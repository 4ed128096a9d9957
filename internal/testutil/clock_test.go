package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtZero(t *testing.T) {
	assert.Equal(t, int64(0), NewDeterministicClock().Current())
}

func TestDeterministicClock_Next(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Next()
	clock.Next()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_ConcurrentNextIsUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const workers = 20
	const perWorker = 100

	results := make([][]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := range results {
		results[i] = make([]int64, perWorker)
		go func(idx int) {
			defer wg.Done()
			for j := range results[idx] {
				results[idx][j] = clock.Next()
			}
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, r := range results {
		for _, v := range r {
			require.False(t, seen[v], "duplicate value %d", v)
			seen[v] = true
		}
	}
	for i := int64(1); i <= workers*perWorker; i++ {
		assert.True(t, seen[i], "missing value %d", i)
	}
}
