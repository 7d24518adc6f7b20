// Package renderer implements the Renderer Gateway (spec §4.1): it fetches
// rendered HTML for a competitor URL from a remote headless-browser service,
// tolerating both the header-metadata response shape and the JSON fallback
// shape, with bounded retry of transport failures and a hard per-call timeout.
package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/internal/core/resilience"
	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

// Config configures a Gateway.
type Config struct {
	BaseURL       string        // e.g. https://renderer.internal
	BearerToken   string
	DefaultWaitMS int           // default 3000
	TimeoutMS     int           // default 30000
	MaxRetries    int           // default 2, transport errors only
	RateLimitRPS  float64       // outbound requests per second, default 5
	HTTPClient    *http.Client  // optional override, mainly for tests
}

// DefaultConfig returns the §4.1 defaults.
func DefaultConfig() Config {
	return Config{
		DefaultWaitMS: 3000,
		TimeoutMS:     30000,
		MaxRetries:    2,
		RateLimitRPS:  5,
	}
}

// Gateway implements core.RendererGateway.
type Gateway struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.TechnicalMetrics
}

// New returns a Gateway built from cfg.
func New(cfg Config, logger *slog.Logger, m *metrics.TechnicalMetrics) *Gateway {
	if cfg.DefaultWaitMS <= 0 {
		cfg.DefaultWaitMS = DefaultConfig().DefaultWaitMS
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = DefaultConfig().TimeoutMS
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = DefaultConfig().RateLimitRPS
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Gateway{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1),
		logger:  logger,
		metrics: m,
	}
}

// Fetch implements core.RendererGateway.Fetch.
func (g *Gateway) Fetch(ctx context.Context, rawURL string, options core.RenderOptions) (*core.RenderResult, error) {
	if options.Simulate {
		g.logger.Debug("renderer fetch simulated", "url", rawURL)
		return &core.RenderResult{
			HTML:        options.SimulatedHTML,
			RenderedURL: normalizeScheme(rawURL),
			WasTimeout:  false,
		}, nil
	}

	normalizedURL := normalizeScheme(rawURL)

	waitMS := options.WaitMS
	if waitMS <= 0 {
		waitMS = g.cfg.DefaultWaitMS
	}
	timeoutMS := options.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = g.cfg.TimeoutMS
	}

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	if err := g.limiter.Wait(fetchCtx); err != nil {
		return nil, core.NewCaptureError(core.ErrKindRendererTimeout, "", err)
	}

	policy := &resilience.RetryPolicy{
		MaxRetries:    g.cfg.MaxRetries,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Multiplier:    2.0,
		Jitter:        true,
		Logger:        g.logger,
		OperationName: "renderer_fetch",
		ErrorChecker:  retryableChecker{},
	}
	if g.metrics != nil {
		policy.Metrics = g.metrics.Retry
	}

	result, err := resilience.WithRetryFunc(fetchCtx, policy, func() (*core.RenderResult, error) {
		return g.doFetch(fetchCtx, normalizedURL, waitMS, options.RemoveScripts)
	})

	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return nil, core.NewCaptureError(core.ErrKindRendererTimeout, "", err)
		}
		var ce *core.CaptureError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, core.NewCaptureError(core.ErrKindRendererUnavailable, "", err)
	}

	return result, nil
}

// retryableChecker classifies renderer errors for the retry loop: only
// transport-level failures are retried, never a permanent 4xx rejection.
type retryableChecker struct{}

func (retryableChecker) IsRetryable(err error) bool {
	var ce *core.CaptureError
	if errors.As(err, &ce) {
		return ce.Kind == core.ErrKindRendererUnavailable
	}
	return true
}

func (g *Gateway) doFetch(ctx context.Context, normalizedURL string, waitMS int, removeScripts bool) (*core.RenderResult, error) {
	reqURL := g.cfg.BaseURL + "/html"
	q := url.Values{}
	q.Set("url", normalizedURL)
	q.Set("waitFor", strconv.Itoa(waitMS))
	q.Set("removeScripts", strconv.FormatBool(removeScripts))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, core.NewCaptureError(core.ErrKindRendererUnavailable, "", err)
	}
	if g.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.BearerToken)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewCaptureError(core.ErrKindRendererTimeout, "", err)
		}
		return nil, core.NewCaptureError(core.ErrKindRendererUnavailable, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, core.NewCaptureError(core.ErrKindRendererRejected, "",
			fmt.Errorf("renderer rejected request: status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return nil, core.NewCaptureError(core.ErrKindRendererUnavailable, "",
			fmt.Errorf("renderer upstream error: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewCaptureError(core.ErrKindRendererUnavailable, "", err)
	}

	return parseResponse(resp.Header, body, normalizedURL)
}

// jsonRenderResponse is the alternative JSON response shape §6 requires the
// gateway to tolerate.
type jsonRenderResponse struct {
	HTML  string `json:"html"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func parseResponse(header http.Header, body []byte, fallbackURL string) (*core.RenderResult, error) {
	contentType := header.Get("Content-Type")
	wasTimeout := strings.EqualFold(header.Get("X-Was-Timeout"), "true")

	if strings.Contains(contentType, "application/json") {
		var parsed jsonRenderResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, core.NewCaptureError(core.ErrKindRendererUnavailable, "", err)
		}
		renderedURL := parsed.URL
		if renderedURL == "" {
			renderedURL = fallbackURL
		}
		return &core.RenderResult{
			HTML:        parsed.HTML,
			Title:       parsed.Title,
			RenderedURL: renderedURL,
			WasTimeout:  wasTimeout,
		}, nil
	}

	renderedURL := header.Get("X-Rendered-Url")
	if renderedURL == "" {
		renderedURL = fallbackURL
	}

	return &core.RenderResult{
		HTML:        string(body),
		Title:       header.Get("X-Page-Title"),
		RenderedURL: renderedURL,
		WasTimeout:  wasTimeout,
	}, nil
}

// normalizeScheme ensures rawURL carries an http(s) scheme before dispatch,
// per §4.1's "normalized to have an http(s) scheme" contract.
func normalizeScheme(rawURL string) string {
	if rawURL == "" {
		return rawURL
	}
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	return "https://" + rawURL
}
