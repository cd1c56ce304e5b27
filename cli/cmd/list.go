package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/backfill/cli/render"
	"github.com/justapithecus/backfill/locate"
	"github.com/justapithecus/backfill/types"
)

// listWarningThreshold is the number of runs above which list suggests
// narrowing the filters.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	return render.IsTTY(os.Stderr)
}

// RunRow is one discovered run as shown by list.
type RunRow struct {
	ID        string    `json:"id" table:"ID"`
	Path      string    `json:"path" table:"PATH"`
	LogPath   string    `json:"log_path" table:"-"`
	Offline   bool      `json:"offline" table:"OFFLINE"`
	Synced    bool      `json:"synced" table:"SYNCED"`
	StartedAt time.Time `json:"started_at" table:"STARTED,ago"`
}

// ListCommand returns the list command.
// List shows what sync would pick up with the same filters.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List local runs and their sync state",
		ArgsUsage: "[run dirs or logs...]",
		Flags:     append(ReadOnlyFlags(), DiscoveryFlags()...),
		Action:    listAction,
	}
}

func listAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	// TUI not supported for list
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list command", exitUsage)
	}

	var runs []types.RunLocation
	if c.NArg() > 0 {
		// Named runs are shown as they are, without discovery filters.
		for _, arg := range c.Args().Slice() {
			run, err := locate.FromPath(arg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("cannot read run %s: %v", arg, err), exitUsage)
			}
			runs = append(runs, run)
		}
	} else {
		opts := discoveryOptions(c)
		if err := opts.Validate(); err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		base, err := discoveryBase(c)
		if err != nil {
			return err
		}
		if runs, err = locate.Discover(base, opts); err != nil {
			return err
		}
	}

	rows := make([]RunRow, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, newRunRow(run))
	}

	// Large listings are usually a missing filter (TTY only to avoid noise in pipelines)
	if len(rows) > listWarningThreshold && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: %d runs found. Use --include-globs or --dir to narrow the listing.\n\n", len(rows))
	}

	return r.Render(rows)
}

func newRunRow(run types.RunLocation) RunRow {
	row := RunRow{
		ID:      run.ID(),
		Path:    run.Path,
		LogPath: run.LogPath,
		Offline: run.Offline,
		Synced:  run.Synced,
	}
	if run.HasStart {
		row.StartedAt = run.StartedAt
	}
	return row
}

// discoveryOptions builds locator options from the discovery flags.
func discoveryOptions(c *cli.Context) locate.Options {
	return locate.Options{
		IncludeOffline:  c.Bool("include-offline"),
		IncludeOnline:   c.Bool("include-online"),
		IncludeSynced:   c.Bool("include-synced"),
		IncludeUnsynced: c.Bool("include-unsynced"),
		ExcludeGlobs:    c.StringSlice("exclude-globs"),
		IncludeGlobs:    c.StringSlice("include-globs"),
	}
}

// discoveryBase returns --dir, or the default base under the working
// directory.
func discoveryBase(c *cli.Context) (string, error) {
	if dir := c.String("dir"); dir != "" {
		return dir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return locate.BaseDir(wd), nil
}
