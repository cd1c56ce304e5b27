package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `app_url: https://app.example.com
project: vision
entity: team

sync:
  mark_synced: false
  include_tensorboard: true
  poll_interval: 250ms

storage:
  backend: s3
  dataset: backfill
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true

remote:
  api_url: https://api.example.com
  api_key: secret
  timeout: 45s
  retries: 4

sender:
  flush_count: 128

adapter:
  type: webhook
  url: https://hooks.example.com/backfill
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3

log:
  level: debug
  format: console
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "app_url", cfg.AppURL, "https://app.example.com")
	assertEqual(t, "project", cfg.Project, "vision")
	assertEqual(t, "entity", cfg.Entity, "team")

	if cfg.Sync.MarkSynced == nil || *cfg.Sync.MarkSynced {
		t.Error("expected sync.mark_synced=false")
	}
	if cfg.Sync.IncludeTensorboard == nil || !*cfg.Sync.IncludeTensorboard {
		t.Error("expected sync.include_tensorboard=true")
	}
	if cfg.Sync.PollInterval.Duration != 250*time.Millisecond {
		t.Errorf("expected poll_interval=250ms, got %v", cfg.Sync.PollInterval.Duration)
	}

	assertEqual(t, "storage.backend", cfg.Storage.Backend, BackendS3)
	assertEqual(t, "storage.dataset", cfg.Storage.Dataset, "backfill")
	assertEqual(t, "storage.path", cfg.Storage.Path, "my-bucket/prefix")
	assertEqual(t, "storage.region", cfg.Storage.Region, "us-east-1")
	assertEqual(t, "storage.endpoint", cfg.Storage.Endpoint, "https://example.com")
	if !cfg.Storage.S3PathStyle {
		t.Error("expected storage.s3_path_style=true")
	}

	assertEqual(t, "remote.api_url", cfg.Remote.APIURL, "https://api.example.com")
	assertEqual(t, "remote.api_key", cfg.Remote.APIKey, "secret")
	if cfg.Remote.Timeout.Duration != 45*time.Second {
		t.Errorf("expected remote.timeout=45s, got %v", cfg.Remote.Timeout.Duration)
	}
	if cfg.Remote.Retries == nil || *cfg.Remote.Retries != 4 {
		t.Error("expected remote.retries=4")
	}

	if cfg.Sender.FlushCount != 128 {
		t.Errorf("expected flush_count=128, got %d", cfg.Sender.FlushCount)
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, AdapterWebhook)
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/backfill")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("expected adapter.timeout=10s, got %v", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("expected adapter.retries=3")
	}
	if cfg.Adapter.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("expected Authorization header")
	}

	assertEqual(t, "log.level", cfg.Log.Level, "debug")
	assertEqual(t, "log.format", cfg.Log.Format, "console")
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Project != "" || cfg.Sync.MarkSynced != nil {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/backfill.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeTemp(t, "projcet: typo\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_API_KEY", "expanded-key")

	yaml := `remote:
  api_key: ${TEST_API_KEY}
  api_url: ${UNSET_API_URL_12345:-https://fallback.example.com}
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "remote.api_key", cfg.Remote.APIKey, "expanded-key")
	assertEqual(t, "remote.api_url", cfg.Remote.APIURL, "https://fallback.example.com")
}

func TestLoad_RequiredEnvMissing(t *testing.T) {
	path := writeTemp(t, "remote:\n  api_key: ${UNSET_API_KEY_12345:?export an api key}\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing required variable")
	}
	if !strings.Contains(err.Error(), "UNSET_API_KEY_12345") {
		t.Errorf("error %q does not name the variable", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeTemp(t, "sync:\n  poll_interval: soon\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected invalid duration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "zero", cfg: Config{}},
		{name: "fs backend", cfg: Config{Storage: StorageConfig{Backend: BackendFS, Path: "/data"}}},
		{name: "unknown backend", cfg: Config{Storage: StorageConfig{Backend: "ftp"}}, wantErr: "unknown backend"},
		{name: "redis adapter", cfg: Config{Adapter: AdapterConfig{Type: AdapterRedis, URL: "redis://localhost:6379"}}},
		{name: "adapter without url", cfg: Config{Adapter: AdapterConfig{Type: AdapterWebhook}}, wantErr: "adapter.url is required"},
		{name: "unknown adapter", cfg: Config{Adapter: AdapterConfig{Type: "kafka", URL: "x"}}, wantErr: "unknown adapter"},
		{name: "negative flush", cfg: Config{Sender: SenderConfig{FlushCount: -1}}, wantErr: "flush_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "backfill.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
