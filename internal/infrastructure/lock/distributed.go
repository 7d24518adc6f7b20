// Package lock implements the per-competitor capture lock (spec §5) on top
// of Redis SET NX, with an atomic compare-and-delete release so a lock can
// never be released by anyone other than the holder that acquired it.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

// releaseScript deletes key only if its value still matches the holder that
// set it, so a holder whose lock expired and was re-acquired by someone else
// can never release the new holder's lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Config configures a RedisLock.
type Config struct {
	// TTL bounds how long a lock survives if its holder crashes before
	// releasing it. The full capture procedure, including its database
	// transaction, must fit inside this window.
	TTL time.Duration
}

// DefaultConfig returns the §5 default: a capture holds its lock for the
// full procedure, so the TTL must comfortably exceed capture_timeout_ms.
func DefaultConfig() Config {
	return Config{TTL: 90 * time.Second}
}

// RedisLock implements core.DistributedLock. AcquireLock makes exactly one
// attempt and returns (false, nil) on contention — it never blocks or
// retries, per §5's non-blocking contract.
type RedisLock struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	values map[string]string // key -> the holder value this process set, for release
}

// New returns a RedisLock backed by client.
func New(client *redis.Client, cfg Config, logger *slog.Logger) *RedisLock {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLock{client: client, cfg: cfg, logger: logger, values: make(map[string]string)}
}

// AcquireLock implements core.DistributedLock.AcquireLock.
func (l *RedisLock) AcquireLock(ctx context.Context, key string) (bool, error) {
	value, err := randomValue()
	if err != nil {
		return false, core.NewCaptureError(core.ErrKindStoreUnavailable, "", err)
	}

	ok, err := l.client.SetNX(ctx, key, value, l.cfg.TTL).Result()
	if err != nil {
		return false, core.NewCaptureError(core.ErrKindStoreUnavailable, "", err)
	}
	if !ok {
		l.logger.Debug("capture lock already held", "key", key)
		return false, nil
	}

	l.mu.Lock()
	l.values[key] = value
	l.mu.Unlock()
	l.logger.Debug("capture lock acquired", "key", key)
	return true, nil
}

// ReleaseLock implements core.DistributedLock.ReleaseLock.
func (l *RedisLock) ReleaseLock(ctx context.Context, key string) error {
	l.mu.Lock()
	value, held := l.values[key]
	delete(l.values, key)
	l.mu.Unlock()

	if !held {
		l.logger.Warn("releasing a lock this process never acquired", "key", key)
		return nil
	}

	result, err := l.client.Eval(ctx, releaseScript, []string{key}, value).Result()
	if err != nil {
		return core.NewCaptureError(core.ErrKindStoreUnavailable, "", err)
	}
	if n, ok := result.(int64); !ok || n != 1 {
		l.logger.Warn("lock was not released by this process (expired or reclaimed)", "key", key)
	}
	return nil
}

func randomValue() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("watchtower_%d", time.Now().UnixNano()), nil
	}
	return "watchtower_" + hex.EncodeToString(b), nil
}
