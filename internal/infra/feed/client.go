package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/ingest/metrics"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 32 << 20
)

// Config holds the upstream feed settings.
type Config struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// Client performs a single bounded GET of the feed document. It never
// retries; callers own the retry policy.
type Client struct {
	url          string
	maxBodyBytes int64
	httpClient   *http.Client
}

// NewClient creates a client with its own transport, so connection state is
// not shared with other clients.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Client{
		url:          cfg.URL,
		maxBodyBytes: maxBody,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConns:        2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Fetch downloads the feed. Every failure wraps domain.ErrFeedUnavailable.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	redacted := RedactURL(c.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		metrics.FeedFetchErrors.WithLabelValues("request").Inc()
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrFeedUnavailable, err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	slog.Debug("Fetching feed", "url", redacted)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, query string included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		metrics.FeedFetchErrors.WithLabelValues("transport").Inc()
		slog.Error("Feed request failed", "url", redacted, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrFeedUnavailable, redacted, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.FeedFetchErrors.WithLabelValues("status").Inc()
		slog.Error("Feed returned non-2xx status", "url", redacted, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s: http %d: %s",
			domain.ErrFeedUnavailable, redacted, resp.StatusCode, string(snippet))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		metrics.FeedFetchErrors.WithLabelValues("read").Inc()
		slog.Error("Failed to read feed body", "url", redacted, "error", err)
		return nil, fmt.Errorf("%w: %s: read body: %w", domain.ErrFeedUnavailable, redacted, err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		metrics.FeedFetchErrors.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: %s: body exceeds %d bytes",
			domain.ErrFeedUnavailable, redacted, c.maxBodyBytes)
	}

	metrics.FeedFetchBytes.Observe(float64(len(body)))
	slog.Info("Fetched feed", "url", redacted, "bytes", len(body))
	return body, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// RedactURL keeps scheme and host and hides path and query, which may carry
// credentials.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "feed://...(redacted)"
	}
	if u.Path == "" && u.RawQuery == "" {
		return u.Scheme + "://" + u.Host
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
