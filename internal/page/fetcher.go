package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMaxBytes  int64 = 5 << 20
	defaultTimeout         = 10 * time.Second
	defaultUserAgent       = "Mozilla/5.0"
)

// Fetcher retrieves page content. A false result means the fetch failed and
// has already been logged.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, bool)
}

// HTTPFetcher retrieves TestFlight pages over HTTP.
type HTTPFetcher struct {
	logger    zerolog.Logger
	client    *http.Client
	timeout   time.Duration
	userAgent string
	maxBytes  int64
}

// Option customizes HTTPFetcher behavior.
type Option func(*HTTPFetcher)

// WithUserAgent overrides the identification header.
func WithUserAgent(userAgent string) Option {
	return func(f *HTTPFetcher) {
		if userAgent != "" {
			f.userAgent = userAgent
		}
	}
}

// WithMaxBytes caps the accepted body size.
func WithMaxBytes(maxBytes int64) Option {
	return func(f *HTTPFetcher) {
		if maxBytes > 0 {
			f.maxBytes = maxBytes
		}
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// NewHTTPFetcher constructs an HTTPFetcher with the given per-request timeout.
func NewHTTPFetcher(logger zerolog.Logger, timeout time.Duration, opts ...Option) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	f := &HTTPFetcher{
		logger:    logger,
		client:    &http.Client{},
		timeout:   timeout,
		userAgent: defaultUserAgent,
		maxBytes:  defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads the page. Transport errors, non-2xx responses and oversize
// bodies are logged and reported as a failed fetch.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, bool) {
	body, err := f.fetch(ctx, url)
	if err != nil {
		f.logger.Error().Err(err).Str("url", url).Msg("fetch failed")
		return "", false
	}
	return body, true
}

func (f *HTTPFetcher) fetch(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := readWithLimit(resp.Body, f.maxBytes)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, errors.New("page body exceeds size limit")
	}
	return body, nil
}
