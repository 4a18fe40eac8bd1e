package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hazyhaar/domfilter/wire"
)

// SessionHeader carries the reporting session id on every webhook POST.
const SessionHeader = "X-Cosmetic-Session"

// maxRetryAfter caps a server-provided Retry-After delay.
const maxRetryAfter = 30 * time.Second

// errPermanent marks a response that retrying cannot fix.
var errPermanent = errors.New("webhook: permanent failure")

// Webhook POSTs each report as JSON. Transport errors, 429 and 5xx are
// retried with exponential backoff, honouring Retry-After; other 4xx
// responses fail at once.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay, doubled on every retry.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, r wire.Report) error {
	body, err := json.Marshal(envelope{Type: r.Type, Data: r})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	delay := w.backoff
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		wait, err := w.post(ctx, r.SessionID, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		w.logger.Warn("webhook: delivery failed", "attempt", attempt+1, "session", r.SessionID, "error", err)
		if attempt == w.maxRetries {
			break
		}

		if wait <= 0 {
			wait = delay
			delay *= 2
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

// post makes one attempt. A positive wait is the delay the server asked
// for before the next one.
func (w *Webhook) post(ctx context.Context, session string, body []byte) (wait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: new request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return 0, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("webhook: status %d", resp.StatusCode)
	default:
		return 0, fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
}

// retryAfter parses a delay-seconds Retry-After value.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func (w *Webhook) Close() error { return nil }
