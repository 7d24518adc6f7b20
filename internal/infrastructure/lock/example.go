package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ExampleRedisLock demonstrates the non-blocking capture lock contract: a
// single acquisition attempt, a bounded critical section, and release tied
// to a context that survives cancellation of the caller's own context.
func ExampleRedisLock() {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	logger := slog.Default()
	l := New(client, Config{TTL: 90 * time.Second}, logger)

	ctx := context.Background()
	key := "capture:competitor-123"

	acquired, err := l.AcquireLock(ctx, key)
	if err != nil {
		logger.Error("failed to acquire capture lock", "error", err)
		return
	}
	if !acquired {
		logger.Info("capture already in progress for this competitor")
		return
	}
	defer l.ReleaseLock(context.WithoutCancel(ctx), key)

	logger.Info("capture lock acquired, running capture procedure")
}
