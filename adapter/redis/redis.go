// Package redis implements a Redis adapter.
//
// Each event is published as JSON on a pub/sub channel and recorded in a
// hash keyed by target path, so late subscribers can still see which
// targets were synced.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/backfill/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "backfill:target_synced"

// DefaultKey is the default hash recording the last event per target.
const DefaultKey = "backfill:synced_targets"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: backfill:target_synced).
	Channel string
	// Key is the hash holding the last event per target path
	// (default: backfill:synced_targets).
	Key string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Backoff is the first retry delay, doubled per attempt (default 500ms).
	Backoff time.Duration
}

// Adapter publishes target events via Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
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

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish records the event under its path and publishes it, in one
// transaction. Retries with exponential backoff on failures.
func (a *Adapter) Publish(ctx context.Context, event *adapter.TargetSyncedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := a.config.Backoff << (i - 1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		_, lastErr = a.client.TxPipelined(publishCtx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(publishCtx, a.config.Key, event.Path, body)
			pipe.Publish(publishCtx, a.config.Channel, body)
			return nil
		})
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Last returns the most recent event recorded for path, or nil if none.
func (a *Adapter) Last(ctx context.Context, path string) (*adapter.TargetSyncedEvent, error) {
	data, err := a.client.HGet(ctx, a.config.Key, path).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read %s: %w", path, err)
	}
	var event adapter.TargetSyncedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("redis: decode %s: %w", path, err)
	}
	return &event, nil
}

// Synced returns the last recorded event of every target, keyed by path.
// Entries that no longer decode are skipped.
func (a *Adapter) Synced(ctx context.Context) (map[string]*adapter.TargetSyncedEvent, error) {
	raw, err := a.client.HGetAll(ctx, a.config.Key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read %s: %w", a.config.Key, err)
	}
	events := make(map[string]*adapter.TargetSyncedEvent, len(raw))
	for path, data := range raw {
		var event adapter.TargetSyncedEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		events[path] = &event
	}
	return events, nil
}

// Forget drops the recorded event of path, so a re-sync is reported as new.
func (a *Adapter) Forget(ctx context.Context, path string) error {
	if err := a.client.HDel(ctx, a.config.Key, path).Err(); err != nil {
		return fmt.Errorf("redis: forget %s: %w", path, err)
	}
	return nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
