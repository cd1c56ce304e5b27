package lode

import (
	"strings"
	"testing"

	"github.com/justapithecus/backfill/types"
)

func TestSink_DelegatesToClient(t *testing.T) {
	client := NewStubClient()
	sink := NewSink(client)
	ctx := t.Context()

	recs := []*types.Record{types.NewRunRecord(testRun()), types.NewFilesRecord()}
	if err := sink.WriteRecords(ctx, testRun(), recs); err != nil {
		t.Fatalf("WriteRecords failed: %v", err)
	}
	if err := sink.PutFile(ctx, testRun(), "a.txt", strings.NewReader("hi"), 2, "text/plain"); err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	if len(client.Batches) != 1 || len(client.Batches[0].Records) != 2 || client.Batches[0].RunID != "abc123" {
		t.Errorf("unexpected batches: %+v", client.Batches)
	}
	if len(client.Files) != 1 || string(client.Files[0].Data) != "hi" || client.Files[0].ContentType != "text/plain" {
		t.Errorf("unexpected files: %+v", client.Files)
	}
	if !client.Closed {
		t.Error("client should be closed")
	}
}
