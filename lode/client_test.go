package lode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/backfill/types"
)

func testRun() *types.RunRecord {
	return &types.RunRecord{RunID: "abc123", Entity: "team", Project: "proj", StartedAt: 1706961600000}
}

func TestLodeClient_WriteRecords(t *testing.T) {
	client, err := NewLodeClientWithFactory(Config{}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory failed: %v", err)
	}

	recs := []*types.Record{
		types.NewRunRecord(testRun()),
		types.NewHistoryRecord(&types.HistoryRecord{
			Step:  types.HistoryStep{Num: 1},
			Items: []types.HistoryItem{{Key: "loss", ValueJSON: "NaN"}},
		}),
		{Kind: "telemetry", Other: []byte{0xc0}},
	}
	if err := client.WriteRecords(t.Context(), testRun(), recs); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}
}

func TestLodeClient_WriteRecordsEmpty(t *testing.T) {
	client, err := NewLodeClientWithFactory(Config{Dataset: "d"}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatal(err)
	}
	if err := client.WriteRecords(t.Context(), nil, nil); err != nil {
		t.Errorf("empty batch should be a no-op, got %v", err)
	}
}

func TestLodeClient_PutFileFS(t *testing.T) {
	root := t.TempDir()
	client, err := NewLodeClient(Config{Dataset: "backfill"}, root)
	if err != nil {
		t.Fatalf("NewLodeClient failed: %v", err)
	}

	err = client.PutFile(t.Context(), testRun(), "media/plot.json", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}

	want := filepath.Join(root, "datasets", "backfill", "partitions",
		"entity=team", "project=proj", "day=2024-02-03", "run_id=abc123", "files", "media", "plot.json")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("file not at %s: %v", want, err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("content = %q", data)
	}
}

func TestLodeClient_PutFileRejectsEscapes(t *testing.T) {
	client, err := NewLodeClientWithFactory(Config{}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"", "/abs", "../up", "a/../../b"} {
		if err := client.PutFile(t.Context(), testRun(), name, "", strings.NewReader("x")); err == nil {
			t.Errorf("PutFile(%q) should fail", name)
		}
	}
}

func TestDeriveDay(t *testing.T) {
	if got := DeriveDay(1706961600000); got != "2024-02-03" {
		t.Errorf("DeriveDay = %q, want 2024-02-03", got)
	}
	if got := DeriveDay(0); len(got) != len("2006-01-02") {
		t.Errorf("DeriveDay(0) = %q", got)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/a/b", "bucket", "a/b"},
		{"s3://bucket/runs", "bucket", "runs"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestS3Config(t *testing.T) {
	empty := S3Config{}
	if err := empty.Validate(); err == nil {
		t.Error("Validate() accepted a config without bucket")
	}

	cfg := S3Config{Bucket: "b", Endpoint: "http://minio:9000", UsePathStyle: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	var opts s3.Options
	cfg.apply(&opts)
	if opts.BaseEndpoint == nil || *opts.BaseEndpoint != "http://minio:9000" {
		t.Errorf("BaseEndpoint = %v", opts.BaseEndpoint)
	}
	if !opts.UsePathStyle {
		t.Error("UsePathStyle not set")
	}

	var plain s3.Options
	(&S3Config{Bucket: "b"}).apply(&plain)
	if plain.BaseEndpoint != nil || plain.UsePathStyle {
		t.Errorf("default config changed options: %+v", plain)
	}
}

func TestToRecordMap(t *testing.T) {
	rec := types.NewHistoryRecord(&types.HistoryRecord{
		Step:  types.HistoryStep{Num: 7},
		Items: []types.HistoryItem{{Key: "acc", ValueJSON: "0.9"}},
	})
	row := toRecordMap(testRun(), rec, "2024-02-03")

	for _, key := range partitionKeys {
		if _, ok := row[key]; !ok {
			t.Errorf("missing partition key %q", key)
		}
	}
	if row["kind"] != "history" || row["step"] != int64(7) {
		t.Errorf("unexpected row: %v", row)
	}
	items := row["items"].(map[string]string)
	if items["acc"] != "0.9" {
		t.Errorf("items = %v", items)
	}
}
