package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/skyrun/pkg/plan"
	"github.com/openfroyo/skyrun/pkg/templates"
)

func newTemplatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template", "tpl"},
		Short:   "Manage the template library",
		Long: `Templates are reusable plan fragments kept in the template directory
(templates.dir in the configuration). A template holding a single instruction
expands to that instruction; anything else expands to a sequential container.`,
	}

	cmd.AddCommand(newTemplatesListCommand())
	cmd.AddCommand(newTemplatesShowCommand())
	cmd.AddCommand(newTemplatesInsertCommand())
	cmd.AddCommand(newTemplatesSaveCommand())

	return cmd
}

func newTemplatesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			list := a.templates.List()
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintf(out, "No templates in %s\n", a.templates.Dir())
				return nil
			}
			tw := newTable(out, "NAME", "DESCRIPTION", "PATH")
			for _, t := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, orDash(t.Description), t.Path)
			}
			return tw.Flush()
		},
	}
}

func newTemplatesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a template document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			tpl, ok := a.templates.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", templates.ErrNotFound, args[0])
			}
			format := plan.FormatYAML
			if jsonOutput {
				format = plan.FormatJSON
			}
			data, err := plan.Marshal(tpl.Document, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newTemplatesInsertCommand() *cobra.Command {
	var index int

	cmd := &cobra.Command{
		Use:   "insert <name> <plan>",
		Short: "Insert a template into a plan",
		Long: `Insert a fresh copy of a template into the top level of a plan and write
the plan back. --at selects the position; out of range values append.`,
		Example: `  # Append the flats template to a plan
  skyrun templates insert flats night.yaml

  # Insert it first
  skyrun templates insert flats night.yaml --at 0`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			name, path := args[0], args[1]
			doc, root, err := a.loadPlan(path)
			if err != nil {
				return err
			}
			at := index
			if at < 0 {
				at = len(root.Items())
			}
			item, err := a.templates.Insert(root.Container, name, at)
			if err != nil {
				return err
			}

			updated, err := plan.Encode(root, doc.Name)
			if err != nil {
				return err
			}
			updated.Description = doc.Description
			if err := plan.WriteFile(path, updated); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Inserted %s into %s as %q\n", name, path, item.Name())
			return nil
		},
	}

	cmd.Flags().IntVar(&index, "at", -1, "position among the top level items")

	return cmd
}

func newTemplatesSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save <plan> <name>",
		Short: "Save the body of a plan as a template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			_, root, err := a.loadPlan(args[0])
			if err != nil {
				return err
			}
			tpl, err := a.templates.Save(args[1], root.Container.CloneContainer())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved template %s to %s\n", tpl.Name, tpl.Path)
			return nil
		},
	}
}
