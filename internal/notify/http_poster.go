package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const httpErrorBodyLimit = 1024

type timingConfig struct {
	timeout      time.Duration
	rateInterval time.Duration
	rateBurst    int
	maxAttempts  int
	backoffStep  time.Duration
}

var defaultTiming = timingConfig{
	timeout:      10 * time.Second,
	rateInterval: 1 * time.Second,
	rateBurst:    1,
	maxAttempts:  3,
	backoffStep:  2 * time.Second,
}

// linearBackOff waits step, 2*step, 3*step... between attempts.
type linearBackOff struct {
	step    time.Duration
	retries int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.retries++
	return time.Duration(b.retries) * b.step
}

func (b *linearBackOff) Reset() {
	b.retries = 0
}

type httpPoster struct {
	logger      zerolog.Logger
	serviceName string
	endpoint    string
	contentType string
	client      *retryablehttp.Client
	timing      timingConfig
	// newTimer supplies the backoff timer; nil uses a real timer.
	newTimer  func() backoff.Timer
	limiters  map[string]*rate.Limiter
	limiterMu sync.Mutex
}

func newHTTPPoster(logger zerolog.Logger, serviceName, endpoint, contentType string, timing timingConfig) *httpPoster {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.timeout}

	return &httpPoster{
		logger:      logger,
		serviceName: serviceName,
		endpoint:    endpoint,
		contentType: contentType,
		client:      client,
		timing:      timing,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (n *httpPoster) waitForRateLimit(ctx context.Context, key string) error {
	limiter := n.getLimiter(key)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (n *httpPoster) getLimiter(key string) *rate.Limiter {
	if n.timing.rateInterval <= 0 {
		return nil
	}

	n.limiterMu.Lock()
	defer n.limiterMu.Unlock()

	limiter, ok := n.limiters[key]
	if ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Every(n.timing.rateInterval), n.timing.rateBurst)
	n.limiters[key] = limiter
	return limiter
}

// postWithRetry makes up to maxAttempts attempts, waiting attempt*backoffStep
// after each failed one. Every failure is retried.
func (n *httpPoster) postWithRetry(ctx context.Context, payload []byte) error {
	maxAttempts := n.timing.maxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		n.logger.Info().
			Str("service", n.serviceName).
			Int("attempt", attempt).
			Msg("sending notification")
		return n.postOnce(ctx, payload)
	}
	onRetry := func(err error, wait time.Duration) {
		n.logger.Warn().
			Err(err).
			Str("service", n.serviceName).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("notification attempt failed, retrying")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: n.timing.backoffStep}, uint64(maxAttempts-1)),
		ctx,
	)

	var timer backoff.Timer
	if n.newTimer != nil {
		timer = n.newTimer()
	}

	if err := backoff.RetryNotifyWithTimer(operation, policy, onRetry, timer); err != nil {
		return &DeliveryError{Attempts: attempt, Err: err}
	}
	return nil
}

func (n *httpPoster) postOnce(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, n.timing.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", n.serviceName, redactURL(err))
	}
	req.Header.Set("Content-Type", n.contentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", n.serviceName, redactURL(err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, httpErrorBodyLimit))
	bodyText := strings.TrimSpace(string(body))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if bodyText != "" {
		return fmt.Errorf("%s request failed: %s (%s)", n.serviceName, resp.Status, bodyText)
	}
	return fmt.Errorf("%s request failed: %s", n.serviceName, resp.Status)
}

// redactURL drops the request URL from transport errors; the endpoint path carries credentials.
func redactURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// DeliveryError reports a notification abandoned after its final attempt.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification not delivered after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
