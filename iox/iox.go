// Package iox holds small I/O helpers shared by the replay and ingestion
// paths: close helpers for defers and cleanups, and file copies.
package iox

import (
	"errors"
	"io"
)

// DiscardClose closes c and drops the error. For defers on read paths,
// where a failed close cannot change the outcome:
//
//	defer iox.DiscardClose(reader)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc adapts c for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(adapter))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops its error, e.g. a logger Sync on exit:
//
//	defer iox.DiscardErr(logger.Sync)
func DiscardErr(fn func() error) { _ = fn() }

// CloseAll closes every non-nil closer in order and joins the errors.
func CloseAll(closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
