package seq

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStartsAtOnePerRoom(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := m.Next(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := m.Next(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "rooms do not share a counter")
}

func TestMemorySeedsFromHighestPersisted(t *testing.T) {
	seeds := 0
	m := NewMemory(func(_ context.Context, roomID string) (int64, error) {
		seeds++
		if roomID == "r1" {
			return 41, nil
		}
		return 0, nil
	})
	ctx := context.Background()

	got, err := m.Next(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got, "continues past what the store already holds")

	_, err = m.Next(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, seeds, "seeded once per room")
}

func TestMemorySeedFailureIsNotCached(t *testing.T) {
	fail := true
	m := NewMemory(func(context.Context, string) (int64, error) {
		if fail {
			return 0, errors.New("store unavailable")
		}
		return 10, nil
	})
	ctx := context.Background()

	_, err := m.Next(ctx, "r1")
	require.Error(t, err)

	fail = false
	got, err := m.Next(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), got)
}

func TestMemoryConcurrentNextIsGapFree(t *testing.T) {
	m := NewMemory(nil)
	const n = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]bool, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			v, err := m.Next(context.Background(), "r1")
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n, "no duplicates")
	for want := int64(1); want <= n; want++ {
		assert.True(t, seen[want], "missing %d", want)
	}
}
