package lode

import (
	"errors"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o op" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"fs permission", errors.New("open /x: permission denied"), ErrPermissionDenied},
		{"s3 access denied", errors.New("operation error S3: PutObject, AccessDenied: Access Denied"), ErrAccessDenied},
		{"missing bucket", errors.New("NoSuchBucket: the bucket does not exist"), ErrNotFound},
		{"disk full", errors.New("write /x: no space left on device"), ErrDiskFull},
		{"slowdown", errors.New("SlowDown: reduce your request rate"), ErrThrottled},
		{"creds", errors.New("failed to refresh cached credentials"), ErrAuth},
		{"dial", errors.New("dial tcp 127.0.0.1:9000: connect: connection refused"), ErrNetwork},
		{"typed timeout", timeoutError{}, ErrTimeout},
		{"other", errors.New("something odd"), ErrUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError(%q) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapWriteError(t *testing.T) {
	if WrapWriteError(nil, "p") != nil {
		t.Error("WrapWriteError(nil) should be nil")
	}

	base := errors.New("dial tcp: connection refused")
	err := WrapWriteError(base, "datasets/backfill")

	if !errors.Is(err, ErrNetwork) {
		t.Error("expected errors.Is(err, ErrNetwork)")
	}
	if !errors.Is(err, base) {
		t.Error("underlying error should stay in the chain")
	}
	var storageErr *StorageError
	if !errors.As(err, &storageErr) || !storageErr.IsTransient() {
		t.Errorf("expected transient *StorageError, got %v", err)
	}
	if storageErr.Op != "write" || storageErr.Path != "datasets/backfill" {
		t.Errorf("unexpected op/path: %q %q", storageErr.Op, storageErr.Path)
	}
}
