package seq

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"chatwire/tools/errs"
)

// Segment-based allocation for multi-gateway deployments: redis hands out
// numbers inside a leased segment; when a segment runs dry the allocator
// claims a fresh block from the durable source and reloads redis atomically.

// issue inside the current segment: KEYS[1]=key; ARGV[1]=need
// returns {0,start} on success; {1} when no segment is loaded; {3} exhausted
var luaInSegment = redis.NewScript(`
  local k = KEYS[1]
  local need = tonumber(ARGV[1])

  local curr = redis.call('HGET', k, 'curr')
  local endv = redis.call('HGET', k, 'end')
  if not curr or not endv then
    return {1}
  end
  curr = tonumber(curr); endv = tonumber(endv)

  local start = curr + 1
  local newv  = curr + need
  if newv > endv then
    return {3}
  end
  redis.call('HSET', k, 'curr', newv)
  return {0, start}
`)

// load/refresh a segment: curr=start-1, end=end, with a TTL so cold rooms age out
var luaSetSegment = redis.NewScript(`
  local k = KEYS[1]
  redis.call('HSET', k, 'curr', tonumber(ARGV[1]), 'end', tonumber(ARGV[2]))
  redis.call('PEXPIRE', k, 3600000)
  return 1
`)

// SegmentSource durably claims [start, end] blocks; backed by the store's
// counters collection.
type SegmentSource interface {
	AllocSegment(ctx context.Context, roomID string, block int64) (start, end int64, err error)
}

type RedisAllocator struct {
	Rdb       redis.Scripter
	Source    SegmentSource
	BlockSize int64
	MaxRetry  int
}

func (a *RedisAllocator) ensure() {
	if a.BlockSize <= 0 {
		a.BlockSize = 256
	}
	if a.MaxRetry <= 0 {
		a.MaxRetry = 10
	}
}

func segKey(roomID string) string { return "seq:blk:" + roomID }

func (a *RedisAllocator) Next(ctx context.Context, roomID string) (int64, error) {
	a.ensure()
	key := segKey(roomID)

	// fast path: issue inside the loaded segment
	if res, err := luaInSegment.Run(ctx, a.Rdb, []string{key}, 1).Result(); err == nil {
		arr := res.([]interface{})
		if arr[0].(int64) == 0 {
			return arr[1].(int64), nil
		}
		// not loaded / exhausted: fall through to claim a block
	}

	var lastErr error
	for i := 0; i < a.MaxRetry; i++ {
		segStart, segEnd, err := a.Source.AllocSegment(ctx, roomID, a.BlockSize)
		if err != nil {
			return 0, err
		}

		if _, err = luaSetSegment.Run(ctx, a.Rdb, []string{key}, segStart-1, segEnd).Result(); err != nil {
			lastErr = err
			time.Sleep(10 * time.Millisecond)
			continue
		}

		res, err := luaInSegment.Run(ctx, a.Rdb, []string{key}, 1).Result()
		if err != nil {
			lastErr = err
			time.Sleep(10 * time.Millisecond)
			continue
		}
		arr := res.([]interface{})
		if arr[0].(int64) == 0 {
			return arr[1].(int64), nil
		}
		// another gateway drained the block first; claim again
		time.Sleep(5 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errs.New("segment claim retries exceeded")
	}
	return 0, lastErr
}
