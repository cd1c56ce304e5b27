package runlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/backfill/types"
)

// Magic starts every run log.
var Magic = []byte("TLOG")

// HeaderSize is the size of the file header: magic plus one version byte.
const HeaderSize = 5

// Reader reads records from a run log.
type Reader struct {
	file    *os.File
	decoder *FrameDecoder
	read    int64
}

// Open opens a run log and validates its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	r, err := newReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// NewReader reads a run log from an arbitrary stream.
func NewReader(src io.Reader) (*Reader, error) {
	return newReader(src)
}

func newReader(src io.Reader) (*Reader, error) {
	br := bufio.NewReader(src)
	if err := readHeader(br); err != nil {
		return nil, err
	}
	return &Reader{decoder: NewFrameDecoder(br)}, nil
}

func readHeader(r io.Reader) error {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return &FrameError{Kind: FrameErrorHeader, Msg: "failed to read run log header", Err: err}
	}
	if !bytes.Equal(hdr[:len(Magic)], Magic) {
		return &FrameError{Kind: FrameErrorHeader, Msg: fmt.Sprintf("bad magic %q", hdr[:len(Magic)])}
	}
	if v := hdr[len(Magic)]; v != types.LogFormatVersion {
		return &FrameError{Kind: FrameErrorHeader, Msg: fmt.Sprintf("unsupported run log version %d", v)}
	}
	return nil
}

// Next returns the next record. It returns io.EOF once the log is exhausted.
func (r *Reader) Next() (*types.Record, error) {
	payload, err := r.decoder.ReadFrame()
	if err != nil {
		return nil, err
	}
	rec, err := DecodeRecord(payload)
	if err != nil {
		return nil, err
	}
	r.read++
	return rec, nil
}

// Count returns the number of records decoded so far.
func (r *Reader) Count() int64 {
	return r.read
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Writer appends records to a run log.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	encoder *FrameEncoder
	num     int64
}

// Create creates (or truncates) a run log and writes its header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log: %w", err)
	}
	w, err := newWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// NewWriter writes a run log to an arbitrary stream.
func NewWriter(dst io.Writer) (*Writer, error) {
	return newWriter(dst)
}

func newWriter(dst io.Writer) (*Writer, error) {
	bw := bufio.NewWriter(dst)
	hdr := append(append([]byte(nil), Magic...), byte(types.LogFormatVersion))
	if _, err := bw.Write(hdr); err != nil {
		return nil, fmt.Errorf("failed to write run log header: %w", err)
	}
	return &Writer{buf: bw, encoder: NewFrameEncoder(bw)}, nil
}

// Write appends a record. Records without a number are numbered
// sequentially from 1.
func (w *Writer) Write(rec *types.Record) error {
	if rec == nil {
		return errors.New("nil record")
	}
	w.num++
	if rec.Num == 0 {
		rec.Num = w.num
	}
	payload, err := EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", rec.Kind, err)
	}
	return w.encoder.WriteFrame(payload)
}

// Flush writes buffered frames to the underlying stream.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Close flushes and closes the underlying file, if any.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		if w.file != nil {
			_ = w.file.Close()
		}
		return err
	}
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
