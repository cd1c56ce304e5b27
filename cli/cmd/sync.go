package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/backfill/cli/config"
	"github.com/justapithecus/backfill/cli/render"
	"github.com/justapithecus/backfill/cli/tui"
	"github.com/justapithecus/backfill/iox"
	"github.com/justapithecus/backfill/locate"
	"github.com/justapithecus/backfill/metrics"
	"github.com/justapithecus/backfill/session"
	"github.com/justapithecus/backfill/types"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitTargetFailed = 1
	exitUsage        = 2
)

// SyncCommand returns the sync command.
// This is the only command that writes to a remote or a dataset.
func SyncCommand() *cli.Command {
	flags := []cli.Flag{
		// Identity flags
		&cli.StringFlag{
			Name:    "project",
			Aliases: []string{"p"},
			Usage:   "Override the project of every synced run",
		},
		&cli.StringFlag{
			Name:    "entity",
			Aliases: []string{"e"},
			Usage:   "Override the entity of every synced run",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "Override the run id (single target only)",
		},
		// Behavior flags
		&cli.BoolFlag{
			Name:  "mark-synced",
			Usage: "Write a .synced marker after a successful sync",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "view",
			Usage: "Print records instead of sending them",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "With --view, print full records",
		},
		&cli.BoolFlag{
			Name:  "include-tensorboard",
			Usage: "Also sync TensorBoard event files",
		},
		&cli.BoolFlag{
			Name:  "sync-all",
			Usage: "Sync every discovered run when no path is given",
		},
		// Destination flags
		&cli.StringFlag{
			Name:    "app-url",
			Usage:   "Base URL used to print run links",
			EnvVars: []string{"BACKFILL_APP_URL"},
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Destination: remote, fs, or s3",
		},
		&cli.StringFlag{
			Name:  "storage-path",
			Usage: "Dataset location (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "s3-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "s3-endpoint",
			Usage: "Custom S3 endpoint for S3-compatible providers",
		},
		&cli.StringFlag{
			Name:    "api-url",
			Usage:   "Ingestion service URL",
			EnvVars: []string{"BACKFILL_API_URL"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "Ingestion service API key",
			EnvVars: []string{"BACKFILL_API_KEY"},
		},
		ConfigFlag,
		TUIFlag,
	}

	return &cli.Command{
		Name:      "sync",
		Usage:     "Replay local runs to the configured destination",
		ArgsUsage: "[path or glob...]",
		Flags:     append(flags, DiscoveryFlags()...),
		Action:    syncAction,
	}
}

func syncAction(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	s, err := resolveSettings(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	out := c.App.Writer
	targets, err := collectTargets(c, s)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if len(targets) == 0 {
		return nil
	}
	if s.overrides.RunID != "" && len(targets) > 1 {
		return cli.Exit("--id can only be used with a single target", exitUsage)
	}

	logger := newLogger(c.App.ErrWriter, cfg.Log)
	defer iox.DiscardErr(logger.Sync)

	mode := "sync"
	if s.view {
		mode = "view"
	}
	collector := metrics.NewCollector(s.backend, mode)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dest destination
	if !s.view {
		dest, err = buildDestination(ctx, s, collector)
		if err != nil {
			return fmt.Errorf("failed to set up %s backend: %w", s.backend, err)
		}
		defer iox.DiscardErr(dest.Close)
	}

	progress := out
	if s.tui {
		progress = io.Discard
	}
	manager, err := session.New(session.Config{
		Sink:               dest.sink,
		Viewer:             dest.viewer,
		Adapter:            dest.adapter,
		Overrides:          s.overrides,
		Entity:             s.entity,
		Project:            s.project,
		AppURL:             s.appURL,
		MarkSynced:         s.markSynced,
		View:               s.view,
		Verbose:            s.verbose,
		IncludeTensorboard: s.includeTensorboard,
		FlushCount:         s.flushCount,
		PollInterval:       s.pollInterval,
		Out:                progress,
		Logger:             logger,
		Collector:          collector,
	})
	if err != nil {
		return err
	}
	for _, target := range targets {
		if err := manager.Add(target); err != nil {
			return err
		}
	}

	start := time.Now()
	if err := manager.Start(ctx); err != nil {
		return err
	}
	if s.tui {
		if err := tui.RunProgress(manager, out); err != nil {
			logger.Warn("progress view failed", map[string]any{"error": err.Error()})
		}
	}
	manager.Wait()

	printSummary(out, manager.Outcomes(), collector.Snapshot(), time.Since(start))

	if manager.Failed() > 0 {
		return cli.Exit("", exitTargetFailed)
	}
	return nil
}

// collectTargets returns the sync targets in order.
//
// Arguments are paths or doublestar globs. A glob that matches nothing is
// kept so the session reports it as skipped. Without arguments, runs are
// discovered under the base directory; unless --sync-all is set they are
// only listed.
func collectTargets(c *cli.Context, s settings) ([]string, error) {
	out := c.App.Writer

	if c.NArg() > 0 {
		var targets []string
		for _, arg := range c.Args().Slice() {
			matches, err := expandGlob(arg)
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				targets = append(targets, namedTarget(m))
			}
		}
		return targets, nil
	}

	opts := discoveryOptions(c)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	base, err := discoveryBase(c)
	if err != nil {
		return nil, err
	}
	runs, err := locate.Discover(base, opts)
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		_, _ = fmt.Fprintf(out, "No runs to sync under %s.\n", base)
		return nil, nil
	}
	if !s.syncAll {
		_, _ = fmt.Fprintf(out, "Found %d runs:\n", len(runs))
		for _, run := range runs {
			_, _ = fmt.Fprintf(out, "  %s\n", run.Path)
		}
		_, _ = fmt.Fprintln(out, "Pass --sync-all to sync them, or name runs as arguments.")
		return nil, nil
	}

	targets := make([]string, 0, len(runs))
	for _, run := range runs {
		if run.LogPath != "" {
			targets = append(targets, run.LogPath)
		} else {
			targets = append(targets, run.Path)
		}
	}
	return targets, nil
}

// namedTarget returns the run log of a named run directory. Anything else,
// including paths that do not exist, is kept for the resolver to judge.
func namedTarget(path string) string {
	run, err := locate.FromPath(path)
	if err != nil || run.LogPath == "" {
		return path
	}
	return run.LogPath
}

func expandGlob(arg string) ([]string, error) {
	if !hasMeta(arg) {
		return []string{arg}, nil
	}
	if !doublestar.ValidatePattern(filepath.ToSlash(arg)) {
		return nil, fmt.Errorf("invalid glob pattern %q", arg)
	}
	matches, err := doublestar.FilepathGlob(arg)
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", arg, err)
	}
	if len(matches) == 0 {
		return []string{arg}, nil
	}
	return matches, nil
}

func hasMeta(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

func printSummary(out io.Writer, outcomes []session.Outcome, snap metrics.Snapshot, elapsed time.Duration) {
	if len(outcomes) == 0 {
		return
	}

	for _, o := range outcomes {
		if o.Status == session.StatusFailed && o.Err != nil {
			_, _ = fmt.Fprintf(out, "Failed: %s: %v\n", o.Path, o.Err)
		}
	}

	_, _ = fmt.Fprintf(out, "\n%s synced, %s skipped, %s failed in %s\n",
		humanize.Comma(snap.TargetsSynced),
		humanize.Comma(snap.TargetsSkipped),
		humanize.Comma(snap.TargetsFailed),
		elapsed.Round(time.Millisecond),
	)
	if snap.Mode == "view" {
		_, _ = fmt.Fprintf(out, "%s records read\n", humanize.Comma(snap.RecordsRead))
		return
	}
	_, _ = fmt.Fprintf(out, "%s records sent (%s generated), %s files (%s) uploaded\n",
		humanize.Comma(snap.RecordsSent),
		humanize.Comma(snap.RecordsSideEffect),
		humanize.Comma(snap.FilesUploaded),
		humanize.Bytes(uint64(max(snap.BytesUploaded, 0))),
	)
	if snap.DecodeErrors > 0 || snap.SinkWriteFailure > 0 {
		_, _ = fmt.Fprintf(out, "%s decode errors, %s failed writes\n",
			humanize.Comma(snap.DecodeErrors),
			humanize.Comma(snap.SinkWriteFailure),
		)
	}
}

// settings is the merged view of config file and flags for one sync.
type settings struct {
	overrides types.Overrides
	entity    string
	project   string
	appURL    string

	markSynced         bool
	view               bool
	verbose            bool
	includeTensorboard bool
	syncAll            bool
	tui                bool

	pollInterval time.Duration
	flushCount   int

	backend string
	storage config.StorageConfig
	remote  config.RemoteConfig
	adapter config.AdapterConfig
}

// resolveSettings merges cfg with flags. Flags always win.
func resolveSettings(c *cli.Context, cfg *config.Config) (settings, error) {
	s := settings{
		overrides: types.Overrides{
			Project: c.String("project"),
			Entity:  c.String("entity"),
			RunID:   c.String("id"),
		},
		entity:             cfg.Entity,
		project:            cfg.Project,
		appURL:             cfg.AppURL,
		markSynced:         true,
		view:               c.Bool("view"),
		verbose:            c.Bool("verbose"),
		includeTensorboard: c.Bool("include-tensorboard"),
		syncAll:            c.Bool("sync-all"),
		tui:                c.Bool("tui"),
		pollInterval:       cfg.Sync.PollInterval.Duration,
		flushCount:         cfg.Sender.FlushCount,
		backend:            cfg.Storage.Backend,
		storage:            cfg.Storage,
		remote:             cfg.Remote,
		adapter:            cfg.Adapter,
	}

	if cfg.Sync.MarkSynced != nil {
		s.markSynced = *cfg.Sync.MarkSynced
	}
	if c.IsSet("mark-synced") {
		s.markSynced = c.Bool("mark-synced")
	}
	if !c.IsSet("include-tensorboard") && cfg.Sync.IncludeTensorboard != nil {
		s.includeTensorboard = *cfg.Sync.IncludeTensorboard
	}

	if v := c.String("app-url"); v != "" {
		s.appURL = v
	}
	if v := c.String("backend"); v != "" {
		s.backend = v
	}
	if v := c.String("storage-path"); v != "" {
		s.storage.Path = v
	}
	if v := c.String("s3-region"); v != "" {
		s.storage.Region = v
	}
	if v := c.String("s3-endpoint"); v != "" {
		s.storage.Endpoint = v
	}
	if v := c.String("api-url"); v != "" {
		s.remote.APIURL = v
	}
	if v := c.String("api-key"); v != "" {
		s.remote.APIKey = v
	}
	if s.backend == "" {
		s.backend = config.BackendRemote
	}
	if s.appURL == "" {
		s.appURL = s.remote.APIURL
	}

	if s.verbose && !s.view {
		return s, fmt.Errorf("--verbose requires --view")
	}
	if s.tui && !render.IsTTY(os.Stdout) {
		return s, fmt.Errorf("--tui requires a terminal")
	}
	if s.view {
		return s, nil
	}

	switch s.backend {
	case config.BackendRemote:
		if s.remote.APIURL == "" {
			return s, fmt.Errorf("remote backend requires --api-url or remote.api_url")
		}
	case config.BackendFS, config.BackendS3:
		if s.storage.Path == "" {
			return s, fmt.Errorf("%s backend requires --storage-path or storage.path", s.backend)
		}
	default:
		return s, fmt.Errorf("unknown backend %q (want remote, fs, or s3)", s.backend)
	}
	return s, nil
}

// loadConfig loads path, or returns an empty config when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
