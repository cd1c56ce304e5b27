package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/justapithecus/backfill/adapter"
	"github.com/justapithecus/backfill/adapter/redis"
	"github.com/justapithecus/backfill/adapter/webhook"
	"github.com/justapithecus/backfill/cli/config"
	"github.com/justapithecus/backfill/foreign"
	"github.com/justapithecus/backfill/iox"
	"github.com/justapithecus/backfill/lode"
	"github.com/justapithecus/backfill/log"
	"github.com/justapithecus/backfill/metrics"
	"github.com/justapithecus/backfill/remote"
	"github.com/justapithecus/backfill/sender"
)

// defaultRetries is used for the remote client and adapters when the
// config leaves retries unset.
const defaultRetries = 3

// destination holds everything a sync writes to.
type destination struct {
	sink    sender.Sink
	viewer  foreign.Viewer
	adapter adapter.Adapter
}

// Close releases the sink and the adapter.
func (d destination) Close() error {
	return iox.CloseAll(d.sink, d.adapter)
}

// buildDestination creates the sink for s.backend, the viewer lookup when
// a remote is configured, and the notification adapter.
//
// The remote client doubles as the viewer for fs and s3 backends so that
// foreign runs can still resolve their entity.
func buildDestination(ctx context.Context, s settings, collector *metrics.Collector) (destination, error) {
	var d destination

	var client *remote.Client
	if s.remote.APIURL != "" {
		retries := defaultRetries
		if s.remote.Retries != nil {
			retries = *s.remote.Retries
		}
		c, err := remote.New(remote.Config{
			APIURL:  s.remote.APIURL,
			APIKey:  s.remote.APIKey,
			Timeout: s.remote.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return d, err
		}
		client = c
		d.viewer = client
	}

	var inner sender.Sink
	switch s.backend {
	case config.BackendRemote:
		if client == nil {
			return d, remote.ErrNoAPIURL
		}
		inner = client
	case config.BackendFS:
		c, err := lode.NewLodeClient(lode.Config{Dataset: s.storage.Dataset}, s.storage.Path)
		if err != nil {
			return d, err
		}
		inner = lode.NewSink(c)
	case config.BackendS3:
		bucket, prefix := lode.ParseS3Path(s.storage.Path)
		c, err := lode.NewLodeS3Client(ctx, lode.Config{Dataset: s.storage.Dataset}, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       s.storage.Region,
			Endpoint:     s.storage.Endpoint,
			UsePathStyle: s.storage.S3PathStyle,
		})
		if err != nil {
			return d, err
		}
		inner = lode.NewSink(c)
	default:
		return d, fmt.Errorf("unknown backend %q", s.backend)
	}
	d.sink = lode.NewInstrumentedSink(inner, collector)

	a, err := buildAdapter(s.adapter)
	if err != nil {
		_ = d.sink.Close()
		return destination{}, err
	}
	d.adapter = a
	return d, nil
}

// buildAdapter creates the configured notification adapter, or nil.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := defaultRetries
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case config.AdapterWebhook:
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case config.AdapterRedis:
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter %q", cfg.Type)
	}
}

// newLogger builds the CLI logger. The CLI defaults to console output at
// warn level so that progress lines stay readable.
func newLogger(w io.Writer, cfg config.LogConfig) *log.Logger {
	opts := log.Options{Format: log.FormatConsole, Level: "warn"}
	if cfg.Format != "" {
		opts.Format = log.Format(cfg.Format)
	}
	if cfg.Level != "" {
		opts.Level = cfg.Level
	}
	return log.NewLoggerWithOptions(w, opts)
}
