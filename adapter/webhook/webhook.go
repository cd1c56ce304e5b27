// Package webhook implements an HTTP POST adapter.
//
// Publishes target events as JSON to a configurable URL.
// Retries with exponential backoff on transient failures. Every request
// of one event carries the same Idempotency-Key so receivers can drop
// duplicates of an at-least-once delivery.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/imroc/req/v3"

	"github.com/justapithecus/backfill/adapter"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Headers set on every request.
const (
	HeaderEvent          = "X-Backfill-Event"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Backoff is the first retry delay, doubled per attempt (default 500ms).
	Backoff time.Duration
}

// Adapter publishes target events via HTTP POST.
type Adapter struct {
	config Config
	client *req.Client
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// New creates a webhook adapter from the given config.
// Returns an error if the URL is empty.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}

	c := req.C().
		SetTimeout(cfg.Timeout).
		SetCommonHeaders(cfg.Headers).
		SetCommonRetryCount(cfg.Retries).
		SetCommonRetryBackoffInterval(cfg.Backoff, cfg.Backoff<<cfg.Retries).
		// 4xx responses are non-retriable.
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return resp == nil || resp.Request == nil || resp.Request.Context().Err() == nil
			}
			return resp.StatusCode >= http.StatusInternalServerError
		})

	return &Adapter{config: cfg, client: c}, nil
}

// Publish sends the event as a JSON POST request.
func (a *Adapter) Publish(ctx context.Context, event *adapter.TargetSyncedEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("webhook: context canceled: %w", err)
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader(HeaderEvent, event.EventType).
		SetHeader(HeaderIdempotencyKey, IdempotencyKey(event)).
		SetBodyJsonMarshal(event).
		Post(a.config.URL)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("webhook: context canceled: %w", ctx.Err())
		}
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode}
		if resp.StatusCode < http.StatusInternalServerError {
			return fmt.Errorf("webhook: non-retriable error: %w", statusErr)
		}
		return fmt.Errorf("webhook: failed after %d attempts: %w", 1+a.config.Retries, statusErr)
	}
	return nil
}

// IdempotencyKey derives a stable key from the synced target and the
// time it was synced.
func IdempotencyKey(event *adapter.TargetSyncedEvent) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+event.Path+"#"+event.Timestamp)).String()
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	a.client.GetClient().CloseIdleConnections()
	return nil
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
