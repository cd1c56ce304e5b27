package lode

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/backfill/types"
)

// LodeClient is a real Lode-backed implementation of Client.
// Uses Lode's HiveLayout with partition keys: entity/project/day/run_id/kind.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error

	mu sync.Mutex // serializes dataset writes
}

// NewLodeClient creates a new Lode client with filesystem storage.
// The root parameter is the base directory for Hive-partitioned storage.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a new Lode client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newClient(ds, cfg, factory), nil
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	return &LodeClient{dataset: ds, config: cfg, storeFactory: factory}
}

// WriteRecords writes a batch of records to Lode.
// Each record lands in the partition of its kind.
func (c *LodeClient) WriteRecords(ctx context.Context, run *types.RunRecord, recs []*types.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if run == nil {
		return fmt.Errorf("lode: records written before run identity")
	}

	day := DeriveDay(run.StartedAt)
	rows := make([]any, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, toRecordMap(run, rec, day))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.dataset.Write(ctx, rows, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.partitionPath(run, day))
	}
	return nil
}

// PutFile writes a run file to the Lode store at the run's files/ prefix.
// Uses lazy store initialization via storeFactory.
func (c *LodeClient) PutFile(ctx context.Context, run *types.RunRecord, name, _ string, body io.Reader) error {
	if err := validateFileName(name); err != nil {
		return err
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(fmt.Errorf("file store init failed: %w", err), c.config.Dataset)
	}

	p := c.buildFilePath(run, name)
	if err := store.Put(ctx, p, body); err != nil {
		return WrapWriteError(err, p)
	}
	return nil
}

// Close releases client resources.
func (c *LodeClient) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

func (c *LodeClient) partitionPath(run *types.RunRecord, day string) string {
	return fmt.Sprintf("datasets/%s/partitions/entity=%s/project=%s/day=%s/run_id=%s",
		c.config.Dataset, run.Entity, run.Project, day, run.RunID)
}

// buildFilePath computes the store path of a run file.
// Format: datasets/<dataset>/partitions/entity=<e>/project=<p>/day=<d>/run_id=<r>/files/<name>
func (c *LodeClient) buildFilePath(run *types.RunRecord, name string) string {
	return c.partitionPath(run, DeriveDay(run.StartedAt)) + "/files/" + name
}

func validateFileName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") {
		return fmt.Errorf("invalid file name %q", name)
	}
	if clean := path.Clean(name); clean != name || strings.HasPrefix(clean, "../") || clean == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

// Verify LodeClient implements Client.
var _ Client = (*LodeClient)(nil)
