package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config carries everything the gateway needs at startup. All values come
// from the environment with defaults usable for local development.
type Config struct {
	ListenAddr string
	GatewayID  string
	NodeID     int64

	// AllowedOrigins is the same allow-list the HTTP layer uses for CORS.
	// "*" allows every origin. An empty Origin header is always admitted
	// (non-browser clients).
	AllowedOrigins []string

	JWTSecret string

	MongoURI string
	MongoDB  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATSURL enables the cross-gateway relay when non-empty.
	NATSURL string

	// PresenceGrace is the debounce before an offline announcement.
	PresenceGrace time.Duration

	// HandshakeTimeout bounds session validation; PersistTimeout bounds
	// store writes and membership checks.
	HandshakeTimeout time.Duration
	PersistTimeout   time.Duration

	// Connection registry tuning.
	IdleTTL     time.Duration
	SweepEvery  time.Duration
	MaxPerUser  int
	EvictOldest bool
}

func Load() Config {
	return Config{
		ListenAddr:       envStr("LISTEN_ADDR", ":8080"),
		GatewayID:        envStr("GATEWAY_ID", "gw-"+uuid.NewString()[:8]),
		NodeID:           int64(envInt("NODE_ID", 1)),
		AllowedOrigins:   splitOrigins(envStr("ALLOWED_ORIGINS", "http://localhost:3000")),
		JWTSecret:        envStr("JWT_SECRET", "dev-secret"),
		MongoURI:         envStr("MONGO_URI", "mongodb://127.0.0.1:27017"),
		MongoDB:          envStr("MONGO_DB", "chatwire"),
		RedisAddr:        envStr("REDIS_ADDR", ""),
		RedisPassword:    envStr("REDIS_PASSWORD", ""),
		RedisDB:          envInt("REDIS_DB", 0),
		NATSURL:          envStr("NATS_URL", ""),
		PresenceGrace:    envDur("PRESENCE_GRACE", 5*time.Second),
		HandshakeTimeout: envDur("HANDSHAKE_TIMEOUT", 3*time.Second),
		PersistTimeout:   envDur("PERSIST_TIMEOUT", 5*time.Second),
		IdleTTL:          envDur("IDLE_TTL", 2*time.Hour),
		SweepEvery:       envDur("SWEEP_EVERY", 30*time.Second),
		MaxPerUser:       envInt("MAX_CONNS_PER_USER", 8),
		EvictOldest:      envBool("EVICT_OLDEST", true),
	}
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
