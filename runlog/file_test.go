package runlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/backfill/types"
)

func writeLog(t *testing.T, recs ...*types.Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run-abc.tlog")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func readAll(t *testing.T, path string) ([]*types.Record, error) {
	t.Helper()
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var out []*types.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func TestReader_RoundTrip(t *testing.T) {
	path := writeLog(t,
		types.NewRunRecord(&types.RunRecord{RunID: "abc", Entity: "team", Project: "proj", StartedAt: 1700000000000}),
		types.NewHistoryRecord(&types.HistoryRecord{
			Step:  types.HistoryStep{Num: 4},
			Items: []types.HistoryItem{{Key: "loss", ValueJSON: "0.25"}},
		}),
		types.NewFilesRecord(types.FileItem{Path: "model.bin", Policy: types.FilePolicyEnd}),
		&types.Record{Kind: types.KindExit, Exit: &types.ExitRecord{ExitCode: 3, RuntimeSeconds: 60}},
		&types.Record{Kind: types.KindFinal, Final: &types.FinalRecord{}},
	)

	recs, err := readAll(t, path)
	if err != nil {
		t.Fatalf("readAll failed: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("got %d records, want 5", len(recs))
	}

	if recs[0].Run == nil || recs[0].Run.RunID != "abc" || recs[0].Run.StartedAt != 1700000000000 {
		t.Errorf("run record = %+v", recs[0].Run)
	}
	if recs[1].History == nil || recs[1].History.Step.Num != 4 {
		t.Fatalf("history record = %+v", recs[1].History)
	}
	if v, _ := recs[1].History.Get("loss"); v != "0.25" {
		t.Errorf("loss = %q, want 0.25", v)
	}
	if recs[2].Files == nil || recs[2].Files.Files[0].Policy != types.FilePolicyEnd {
		t.Errorf("files record = %+v", recs[2].Files)
	}
	if recs[3].Exit == nil || recs[3].Exit.ExitCode != 3 {
		t.Errorf("exit record = %+v", recs[3].Exit)
	}
	if recs[4].Kind != types.KindFinal || recs[4].Final == nil {
		t.Errorf("final record = %+v", recs[4])
	}
	for i, rec := range recs {
		if rec.Num != int64(i+1) {
			t.Errorf("recs[%d].Num = %d, want %d", i, rec.Num, i+1)
		}
	}
}

func TestReader_UnknownKindPassthrough(t *testing.T) {
	raw, err := msgpack.Marshal(map[string]any{"gpu": 0.5})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	path := writeLog(t, &types.Record{
		Kind:    "telemetry",
		Control: types.Control{ReqResp: true, Mailbox: "m1"},
		Other:   raw,
	})

	recs, err := readAll(t, path)
	if err != nil {
		t.Fatalf("readAll failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if !bytes.Equal(recs[0].Other, raw) {
		t.Errorf("Other = %x, want %x", recs[0].Other, raw)
	}
	if !recs[0].Control.ReqResp || recs[0].Control.Mailbox != "m1" {
		t.Errorf("Control = %+v", recs[0].Control)
	}
}

func TestOpen_BadHeader(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"short", []byte("TL")},
		{"magic", []byte("XLOG\x01")},
		{"version", []byte("TLOG\x09")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.tlog")
			if err := os.WriteFile(path, tt.content, 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Open(path)
			var frameErr *FrameError
			if !errors.As(err, &frameErr) {
				t.Fatalf("expected *FrameError, got %v", err)
			}
			if frameErr.Kind != FrameErrorHeader {
				t.Errorf("Kind = %v, want header", frameErr.Kind)
			}
		})
	}
}

func TestReader_TruncatedTail(t *testing.T) {
	path := writeLog(t,
		types.NewRunRecord(&types.RunRecord{RunID: "abc"}),
		types.NewHistoryRecord(&types.HistoryRecord{Items: []types.HistoryItem{{Key: "a", ValueJSON: "1"}}}),
	)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0o644); err != nil {
		t.Fatal(err)
	}

	recs, err := readAll(t, path)
	if len(recs) != 1 {
		t.Errorf("got %d records before truncation, want 1", len(recs))
	}
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want partial", frameErr.Kind)
	}
}

func TestReader_MalformedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	buf.WriteByte(types.LogFormatVersion)
	garbage := []byte{0xFF, 0xFF, 0xFF}
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(garbage)))
	buf.Write(garbage)

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	_, err = r.Next()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %v", err)
	}
	if frameErr.Kind != FrameErrorDecode {
		t.Errorf("Kind = %v, want decode", frameErr.Kind)
	}
}

func TestFrameDecoder_OversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(MaxPayloadSize+1))

	_, err := NewFrameDecoder(&buf).ReadFrame()

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("Kind = %v, want too_large", frameErr.Kind)
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got: %v", err)
	}
}

func TestFrameError_Unwrap(t *testing.T) {
	err := &FrameError{Kind: FrameErrorPartial, Msg: "test", Err: io.ErrUnexpectedEOF}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Unwrap should allow errors.Is to find underlying error")
	}
}
