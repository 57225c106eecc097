package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/talocan/hharvest/auth"
	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/internal/httpclient"
)

// safeBrowserUA replaces the product User-Agent after the upstream
// rejects it with a 400. Applied once per client.
const safeBrowserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Client is the transport under the fetcher: one upstream host, paced
// requests, identity headers, and the one-shot downgrades the upstream
// occasionally forces. A client serves a single goroutine; each task
// handler builds its own.
type Client struct {
	BaseURL string
	HTTP    *httpclient.SaferClient

	limiter *rate.Limiter
	auth    *auth.Registry
	logger  *zap.SugaredLogger

	userAgent      string
	uaFallbackUsed bool
	authDropUsed   bool
}

// NewClient builds a transport from the api config block. Zero values
// fall back to the production defaults.
func NewClient(cfg config.APIConfig, registry *auth.Registry, logger *zap.SugaredLogger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.hh.ru"
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "HH-Tool-v4/1.0 (+https://example.local)"
	}
	minDelay := time.Duration(cfg.MinDelaySec * float64(time.Second))
	if minDelay <= 0 {
		minDelay = time.Second
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		BaseURL:   strings.TrimRight(base, "/"),
		HTTP:      httpclient.NewSaferClient(timeout),
		limiter:   rate.NewLimiter(rate.Every(minDelay), 1),
		auth:      registry,
		logger:    logger,
		userAgent: ua,
	}
}

// get issues one paced GET against the upstream.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	req.Header.Set("User-Agent", c.currentUserAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "ru")
	if c.auth != nil && !c.authDropUsed {
		for k, v := range c.auth.Headers(auth.PurposeDownload) {
			req.Header.Set(k, v)
		}
	}

	return c.HTTP.Do(req)
}

func (c *Client) currentUserAgent() string {
	if c.uaFallbackUsed {
		return safeBrowserUA
	}
	return c.userAgent
}

// handleDowngrade reacts to a rejection status with the one-shot
// downgrades: 400 swaps in the safe browser User-Agent, 401/403 drop
// the Authorization header and report the provider to the registry.
// Returns true when the caller should retry immediately.
func (c *Client) handleDowngrade(status int) bool {
	switch {
	case status == http.StatusBadRequest && !c.uaFallbackUsed:
		c.uaFallbackUsed = true
		c.logger.Warnw("Switching to safe browser User-Agent after 400",
			"previous", c.userAgent)
		return true

	case (status == http.StatusUnauthorized || status == http.StatusForbidden) &&
		!c.authDropUsed && c.hasAuth():
		c.authDropUsed = true
		if c.auth != nil {
			c.auth.MarkProviderFailed(c.auth.CurrentProviderName(auth.PurposeDownload))
		}
		c.logger.Warnw("Dropping Authorization header, retrying unauthenticated",
			"status", status)
		return true
	}
	return false
}

func (c *Client) hasAuth() bool {
	return c.auth != nil && len(c.auth.Headers(auth.PurposeDownload)) > 0
}
