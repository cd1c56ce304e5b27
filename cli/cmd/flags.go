// Package cmd provides CLI commands for the backfill binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea progress view.
	// Only valid for sync.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show an interactive progress view (sync only)",
	}

	// ConfigFlag points at a backfill.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a backfill.yaml config file",
		EnvVars: []string{"BACKFILL_CONFIG"},
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// DiscoveryFlags returns the run discovery filters shared by sync and list.
func DiscoveryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "dir",
			Usage: "Directory holding run directories (default: ./.runs, else ./runs)",
		},
		&cli.BoolFlag{
			Name:  "include-offline",
			Usage: "Include offline runs",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "include-online",
			Usage: "Include online runs",
		},
		&cli.BoolFlag{
			Name:  "include-synced",
			Usage: "Include runs that were already synced",
		},
		&cli.BoolFlag{
			Name:  "include-unsynced",
			Usage: "Include runs that were not synced yet",
			Value: true,
		},
		&cli.StringSliceFlag{
			Name:  "exclude-globs",
			Usage: "File name globs to ignore inside run directories",
		},
		&cli.StringSliceFlag{
			Name:  "include-globs",
			Usage: "File name globs to keep inside run directories",
		},
	}
}
