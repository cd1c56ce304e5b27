package cmd

import (
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/backfill/cli/render"
	"github.com/justapithecus/backfill/types"
)

// VersionResponse describes the binary and the newest run-log format it reads.
type VersionResponse struct {
	Version   string `json:"version" yaml:"version"`
	LogFormat int    `json:"log_format" yaml:"log_format"`
	Commit    string `json:"commit" yaml:"commit"`
	Go        string `json:"go" yaml:"go"`
}

// VersionCommand reports build information. It reads no config.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for version", exitUsage)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), exitUsage)
			}
			return r.Render(VersionResponse{
				Version:   types.Version,
				LogFormat: types.LogFormatVersion,
				Commit:    commit,
				Go:        runtime.Version(),
			})
		},
	}
}
