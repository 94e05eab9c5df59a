package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/openfroyo/skyrun/pkg/plan"
)

type versionInfo struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	BuildDate  string `json:"build_date"`
	PlanFormat string `json:"plan_format"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version:    version,
				Commit:     commit,
				BuildDate:  buildDate,
				PlanFormat: plan.FormatVersion,
				GoVersion:  runtime.Version(),
				Platform:   runtime.GOOS + "/" + runtime.GOARCH,
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, info)
			}
			fmt.Fprintf(out, "skyrun %s (commit: %s, built: %s)\n", info.Version, info.Commit, info.BuildDate)
			fmt.Fprintf(out, "plan format %s, %s %s\n", info.PlanFormat, info.GoVersion, info.Platform)
			return nil
		},
	}
}
