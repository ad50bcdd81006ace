package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// PresenceMirror keeps a redis copy of the in-process presence state so
// sibling services can answer "is this user online" without a gateway
// round-trip. The registry stays the source of truth; keys expire on TTL if
// a gateway dies without cleaning up.
type PresenceMirror struct {
	rdb       *redis.Client
	gatewayID string
	ttl       time.Duration
}

func NewPresenceMirror(rdb *redis.Client, gatewayID string, ttl time.Duration) *PresenceMirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &PresenceMirror{rdb: rdb, gatewayID: gatewayID, ttl: ttl}
}

// presence key: chat:presence:<user>
// value: gateway id, TTL bounds staleness
func presenceKey(user string) string { return "chat:presence:" + user }

func (m *PresenceMirror) Online(ctx context.Context, user string) error {
	if m.rdb == nil {
		return errors.New("redis not initialized")
	}
	return m.rdb.Set(ctx, presenceKey(user), m.gatewayID, m.ttl).Err()
}

func (m *PresenceMirror) Offline(ctx context.Context, user string) error {
	if m.rdb == nil {
		return errors.New("redis not initialized")
	}
	return m.rdb.Del(ctx, presenceKey(user)).Err()
}

// Lookup reports which gateway a user is online on, if any.
func (m *PresenceMirror) Lookup(ctx context.Context, user string) (gatewayID string, online bool, err error) {
	if m.rdb == nil {
		return "", false, errors.New("redis not initialized")
	}
	val, err := m.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
