// Package goproxy downloads module files from a Go module proxy chain.
package goproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
	"golang.org/x/mod/module"
)

const (
	defaultProxy      = "https://proxy.golang.org,direct"
	httpClientTimeout = 30 * time.Second
	defaultUserAgent  = "apidelta/0.1.0"
	maxModFileSize    = 16 * 1024 * 1024
	maxZipSize        = 500 * 1024 * 1024
)

var (
	// ErrNotFound means every proxy in the chain reported the version missing.
	ErrNotFound = errors.New("module version not found")

	// ErrProxyDown means a proxy's circuit breaker is open.
	ErrProxyDown = errors.New("proxy unavailable")
)

// Client downloads module zips and go.mod files.
type Client struct {
	httpClient *http.Client
	userAgent  string
	proxies    []string
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithProxy sets the proxy chain using GOPROXY syntax. Empty keeps the
// GOPROXY environment variable or the default.
func WithProxy(list string) Option {
	return func(c *Client) {
		if strings.TrimSpace(list) != "" {
			c.proxies = parseProxyList(list)
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client. Without WithProxy it reads GOPROXY, falling
// back to "https://proxy.golang.org,direct".
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: httpClientTimeout},
		userAgent:  defaultUserAgent,
		proxies:    parseProxyList(os.Getenv("GOPROXY")),
		logger:     slog.Default(),
		breakers:   make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// parseProxyList splits a comma- or pipe-separated GOPROXY value.
func parseProxyList(goproxy string) []string {
	if strings.TrimSpace(goproxy) == "" {
		goproxy = defaultProxy
	}
	normalized := strings.NewReplacer("|", ",").Replace(goproxy)

	parts := strings.Split(normalized, ",")
	proxies := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimRight(strings.TrimSpace(p), "/"); trimmed != "" {
			proxies = append(proxies, trimmed)
		}
	}
	return proxies
}

// DownloadZip fetches the module zip for mod@version.
func (c *Client) DownloadZip(ctx context.Context, mod, version string) ([]byte, error) {
	return c.download(ctx, mod, version, ".zip", maxZipSize)
}

// DownloadMod fetches the go.mod file for mod@version.
func (c *Client) DownloadMod(ctx context.Context, mod, version string) ([]byte, error) {
	return c.download(ctx, mod, version, ".mod", maxModFileSize)
}

func (c *Client) download(ctx context.Context, mod, version, ext string, limit int64) ([]byte, error) {
	escapedMod, err := module.EscapePath(mod)
	if err != nil {
		return nil, fmt.Errorf("escaping module path %q: %w", mod, err)
	}
	escapedVer, err := module.EscapeVersion(version)
	if err != nil {
		return nil, fmt.Errorf("escaping version %q: %w", version, err)
	}

	var lastErr error
	for i, proxy := range c.proxies {
		switch proxy {
		case "direct":
			c.logger.Debug("goproxy: direct mode not supported, skipping")
			continue
		case "off":
			c.logger.Debug("goproxy: proxy chain contains 'off', stopping")
			return nil, fmt.Errorf("module %s@%s: %w", mod, version, ErrNotFound)
		}

		fileURL := fmt.Sprintf("%s/%s/@v/%s%s", proxy, escapedMod, escapedVer, ext)
		data, tryNext, fetchErr := c.fetch(ctx, proxy, fileURL, limit)
		if fetchErr == nil {
			return data, nil
		}
		lastErr = fetchErr

		if tryNext && i < len(c.proxies)-1 {
			continue
		}
		if errors.Is(fetchErr, ErrNotFound) {
			return nil, fmt.Errorf("module %s@%s: %w", mod, version, fetchErr)
		}
		return nil, fetchErr
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("module %s@%s: %w", mod, version, ErrNotFound)
}

// breaker returns the circuit breaker for one proxy, creating it on first
// use. A breaker trips after 5 consecutive upstream failures.
func (c *Client) breaker(proxy string) *circuit.Breaker {
	host := proxy
	if u, err := url.Parse(proxy); err == nil && u.Host != "" {
		host = u.Host
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	c.breakers[host] = b
	return b
}

// fetch performs a single GET through the proxy's breaker.
// It returns (data, tryNext, error); tryNext signals that the caller should
// attempt the next proxy in the chain. Missing versions do not count as
// breaker failures.
func (c *Client) fetch(ctx context.Context, proxy, fileURL string, limit int64) ([]byte, bool, error) {
	b := c.breaker(proxy)
	if !b.Ready() {
		return nil, true, fmt.Errorf("circuit breaker open for %s: %w", proxy, ErrProxyDown)
	}

	var (
		data    []byte
		tryNext bool
		reqErr  error
	)
	err := b.Call(func() error {
		data, tryNext, reqErr = c.get(ctx, fileURL, limit)
		if reqErr != nil && !errors.Is(reqErr, ErrNotFound) {
			return reqErr
		}
		return nil
	}, 0)
	if reqErr != nil {
		return nil, tryNext, reqErr
	}
	if err != nil {
		return nil, true, fmt.Errorf("fetching %s: %w", fileURL, err)
	}
	return data, false, nil
}

func (c *Client) get(ctx context.Context, fileURL string, limit int64) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building request for %s: %w", fileURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level error; let the caller decide whether to try the next proxy.
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, true, fmt.Errorf("proxy returned %d for %s: %w", resp.StatusCode, fileURL, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, fileURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, false, fmt.Errorf("reading response body from %s: %w", fileURL, err)
	}
	if int64(len(data)) > limit {
		return nil, false, fmt.Errorf("response from %s exceeds %d bytes", fileURL, limit)
	}
	return data, false, nil
}
