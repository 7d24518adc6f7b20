package renderer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ramfiaogusto/watchtower/internal/core"
)

// CachingGateway wraps a core.RendererGateway with a short-lived cache keyed
// on URL and render options, so a capture retried within the same tick (or a
// scheduler backlog replaying the same competitor) doesn't pay for a second
// headless render of a page that hasn't had time to change.
type CachingGateway struct {
	next   core.RendererGateway
	cache  core.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachingGateway wraps next with cache, caching successful fetches for ttl.
func NewCachingGateway(next core.RendererGateway, cache core.Cache, ttl time.Duration, logger *slog.Logger) *CachingGateway {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingGateway{next: next, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(url string, options core.RenderOptions) string {
	h := sha256.New()
	h.Write([]byte(url))
	_ = json.NewEncoder(h).Encode(options)
	return "render:" + hex.EncodeToString(h.Sum(nil))
}

// Fetch implements core.RendererGateway.Fetch, serving a cached RenderResult
// when one exists for the same (url, options) pair.
func (g *CachingGateway) Fetch(ctx context.Context, url string, options core.RenderOptions) (*core.RenderResult, error) {
	key := cacheKey(url, options)

	if raw, found, err := g.cache.Get(ctx, key); err == nil && found {
		var result core.RenderResult
		if err := json.Unmarshal(raw, &result); err == nil {
			return &result, nil
		}
	}

	result, err := g.next.Fetch(ctx, url, options)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(result); err == nil {
		if err := g.cache.Set(ctx, key, raw, g.ttl); err != nil {
			g.logger.Warn("renderer cache write failed", "url", url, "error", err)
		}
	}

	return result, nil
}
