package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements core.Cache directly against Redis, with no
// serialization opinion: callers own encoding and pass raw bytes.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache dials Redis per cfg and verifies the connection with a ping.
func NewRedisCache(cfg Config, logger *slog.Logger) (*RedisCache, error) {
	if cfg.Addr == "" {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, NewError("failed to connect to redis", "CONNECTION_ERROR", err)
	}

	logger.Info("connected to redis cache", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisCache{client: client, logger: logger}, nil
}

// Get implements core.Cache.Get.
func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := rc.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, NewError("failed to get cache value", "GET_ERROR", err)
	}
	return val, true, nil
}

// Set implements core.Cache.Set.
func (rc *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := rc.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return NewError("failed to set cache value", "SET_ERROR", err)
	}
	return nil
}

// Delete implements core.Cache.Delete.
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	if err := rc.client.Del(ctx, key).Err(); err != nil {
		return NewError("failed to delete cache value", "DELETE_ERROR", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
