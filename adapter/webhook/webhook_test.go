package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/backfill/adapter"
	"github.com/justapithecus/backfill/iox"
)

func testEvent() *adapter.TargetSyncedEvent {
	return &adapter.TargetSyncedEvent{
		EventType:  adapter.EventTargetSynced,
		Version:    "0.3.0",
		Path:       "/data/.runs/offline-run-20260207_120000-abc123",
		LogPath:    "/data/.runs/offline-run-20260207_120000-abc123/run-abc123.tlog",
		Source:     adapter.SourceBinaryLog,
		RunID:      "abc123",
		Entity:     "team",
		Project:    "vision",
		URL:        "https://app.example.com/team/vision/runs/abc123",
		Records:    42,
		Marked:     true,
		Timestamp:  "2026-02-07T12:00:00Z",
		DurationMs: 1500,
	}
}

// hook is a test receiver that answers with a scripted status sequence.
// The last status repeats.
type hook struct {
	mu       sync.Mutex
	statuses []int
	requests []*http.Request
	bodies   []adapter.TargetSyncedEvent
	attempts atomic.Int32
}

func newHook(t *testing.T, statuses ...int) (*hook, *httptest.Server) {
	t.Helper()
	h := &hook{statuses: statuses}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return h, ts
}

func (h *hook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(h.attempts.Add(1))
	var ev adapter.TargetSyncedEvent
	_ = json.NewDecoder(r.Body).Decode(&ev)

	h.mu.Lock()
	h.requests = append(h.requests, r)
	h.bodies = append(h.bodies, ev)
	h.mu.Unlock()

	status := http.StatusOK
	if len(h.statuses) > 0 {
		status = h.statuses[min(n, len(h.statuses))-1]
	}
	w.WriteHeader(status)
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	if cfg.Backoff == 0 {
		cfg.Backoff = 10 * time.Millisecond
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))
	return a
}

func TestPublish_Payload(t *testing.T) {
	h, ts := newHook(t)
	a := newAdapter(t, Config{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
	})

	event := testEvent()
	if err := a.Publish(t.Context(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(h.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(h.requests))
	}
	r, got := h.requests[0], h.bodies[0]
	if r.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", r.Method)
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
		t.Errorf("Authorization = %q", auth)
	}
	if ev := r.Header.Get(HeaderEvent); ev != adapter.EventTargetSynced {
		t.Errorf("%s = %q", HeaderEvent, ev)
	}
	if key := r.Header.Get(HeaderIdempotencyKey); key != IdempotencyKey(event) {
		t.Errorf("%s = %q, want %q", HeaderIdempotencyKey, key, IdempotencyKey(event))
	}
	if got.RunID != "abc123" || got.Records != 42 || !got.Marked || got.Source != adapter.SourceBinaryLog {
		t.Errorf("payload = %+v", got)
	}
}

func TestPublish_StatusHandling(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		retries      int
		wantErr      bool
		wantAttempts int32
	}{
		{"200", []int{200}, 3, false, 1},
		{"201", []int{201}, 3, false, 1},
		{"204", []int{204}, 3, false, 1},
		{"recovers after 5xx", []int{500, 503, 200}, 3, false, 3},
		{"500 exhausts retries", []int{500}, 2, true, 3},
		{"502 exhausts retries", []int{502}, 2, true, 3},
		{"no retries", []int{500}, 0, true, 1},
		{"400 not retried", []int{400}, 3, true, 1},
		{"401 not retried", []int{401}, 3, true, 1},
		{"404 not retried", []int{404}, 3, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ts := newHook(t, tt.statuses...)
			a := newAdapter(t, Config{URL: ts.URL, Retries: tt.retries, Timeout: 5 * time.Second})

			err := a.Publish(t.Context(), testEvent())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Publish() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := h.attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestPublish_RetriesKeepIdempotencyKey(t *testing.T) {
	h, ts := newHook(t, 500, 200)
	a := newAdapter(t, Config{URL: ts.URL, Retries: 2})

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(h.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(h.requests))
	}
	first := h.requests[0].Header.Get(HeaderIdempotencyKey)
	if first == "" || h.requests[1].Header.Get(HeaderIdempotencyKey) != first {
		t.Error("retried request changed its idempotency key")
	}
}

func TestIdempotencyKey(t *testing.T) {
	a, b := testEvent(), testEvent()
	if IdempotencyKey(a) != IdempotencyKey(b) {
		t.Error("same target and time must give the same key")
	}
	b.Timestamp = "2026-02-08T12:00:00Z"
	if IdempotencyKey(a) == IdempotencyKey(b) {
		t.Error("a later sync of the same target must get a new key")
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)
	a := newAdapter(t, Config{URL: ts.URL, Retries: 3, Timeout: 10 * time.Second})

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("Publish kept retrying after cancel (%s)", elapsed)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing url", Config{}, true},
		{"negative retries", Config{URL: "http://example.com", Retries: -1}, true},
		{"defaults", Config{URL: "http://example.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if a.config.Timeout != DefaultTimeout {
				t.Errorf("Timeout = %v, want %v", a.config.Timeout, DefaultTimeout)
			}
			if a.config.Backoff <= 0 {
				t.Errorf("Backoff = %v, want a positive default", a.config.Backoff)
			}
		})
	}
}
