// Package seq assigns monotonically increasing per-room sequence numbers so
// recipients can detect gaps and reordering.
package seq

import (
	"context"
	"sync"
)

type Sequencer interface {
	Next(ctx context.Context, roomID string) (int64, error)
}

// SeedFn returns the highest sequence already persisted for a room, so a
// restarted allocator never reissues numbers. Nil means start from zero.
type SeedFn func(ctx context.Context, roomID string) (int64, error)

// Memory is the single-gateway allocator: a mutex-guarded counter per room,
// seeded lazily from the store.
type Memory struct {
	mu   sync.Mutex
	cur  map[string]int64
	seed SeedFn
}

func NewMemory(seed SeedFn) *Memory {
	return &Memory{cur: make(map[string]int64), seed: seed}
}

func (m *Memory) Next(ctx context.Context, roomID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cur[roomID]; !ok && m.seed != nil {
		s, err := m.seed(ctx, roomID)
		if err != nil {
			return 0, err
		}
		m.cur[roomID] = s
	}
	m.cur[roomID]++
	return m.cur[roomID], nil
}
