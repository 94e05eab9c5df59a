package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "policies",
		Aliases: []string{"policy"},
		Short:   "Inspect plan policies",
		Long: `Policies are rego modules evaluated against a plan before it runs. The
built-in policies are always loaded; policies.paths in the configuration adds
files or directories of .rego files.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			list := a.policies.ListPolicies()
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, list)
			}
			tw := newTable(out, "NAME", "SEVERITY", "ENABLED", "TAGS", "SOURCE")
			for _, p := range list {
				source := p.Source
				if source == "" {
					source = "builtin"
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
					p.Name, p.Severity, p.Enabled, orDash(strings.Join(p.Tags, ",")), source)
			}
			return tw.Flush()
		},
	})

	return cmd
}
