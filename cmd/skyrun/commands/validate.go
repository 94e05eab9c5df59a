package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/skyrun/pkg/plan"
	"github.com/openfroyo/skyrun/pkg/policy"
	"github.com/openfroyo/skyrun/pkg/sequencer"
)

// validationReport is the outcome of validating one plan file.
type validationReport struct {
	File   string             `json:"file"`
	Valid  bool               `json:"valid"`
	Errors []string           `json:"errors,omitempty"`
	Schema []plan.SchemaIssue `json:"schema,omitempty"`
	Issues []sequencer.Issue  `json:"issues,omitempty"`
	Policy *policy.Result     `json:"policy,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		strict   bool
		noPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "validate <plan>...",
		Short: "Validate sequence plans",
		Long: `Validate plan files without running them.

This command checks:
  - Document structure against the plan schema
  - That every node type is known and its properties decode
  - Instruction preconditions such as connected equipment
  - Policy compliance (OPA/rego)

Instructions with unmet preconditions are skipped at run time, so they are
reported as issues; --strict turns them into failures.`,
		Example: `  # Validate a plan
  skyrun validate night.yaml

  # Validate several plans and fail on any issue
  skyrun validate --strict plans/*.yaml

  # Machine readable report
  skyrun validate --json night.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			schema, err := plan.NewSchema()
			if err != nil {
				return err
			}

			reports := make([]validationReport, 0, len(args))
			failed := 0
			for _, path := range args {
				report := validatePlan(cmd, a, schema, path, noPolicy)
				if !report.Valid || (strict && len(report.Issues) > 0) {
					failed++
				}
				reports = append(reports, report)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := printJSON(out, reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					printReport(out, r)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d plans failed validation", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat instruction issues as failures")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy check")

	return cmd
}

func validatePlan(cmd *cobra.Command, a *app, schema *plan.Schema, path string, noPolicy bool) validationReport {
	report := validationReport{File: path, Valid: true}
	fail := func(err error) validationReport {
		report.Valid = false
		report.Errors = append(report.Errors, err.Error())
		return report
	}

	doc, err := plan.ReadFile(path)
	if err != nil {
		return fail(err)
	}
	if err := schema.Validate(doc); err != nil {
		var schemaErr *plan.SchemaError
		if errors.As(err, &schemaErr) {
			report.Valid = false
			report.Schema = schemaErr.Issues
			return report
		}
		return fail(err)
	}

	root, err := a.decoder.Decode(doc)
	if err != nil {
		return fail(err)
	}
	report.Issues = sequencer.ValidateTree(root)

	if !noPolicy {
		result, err := a.policies.Evaluate(cmd.Context(), doc, "validate")
		if err != nil {
			return fail(err)
		}
		report.Policy = result
		if !result.Allowed {
			report.Valid = false
		}
	}
	return report
}

func printReport(w io.Writer, r validationReport) {
	state := "ok"
	if !r.Valid {
		state = "FAILED"
	}
	fmt.Fprintf(w, "%s: %s\n", r.File, state)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	for _, issue := range r.Schema {
		fmt.Fprintf(w, "  schema: %s\n", issue)
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(w, "  issue: %s: %s\n", issue.Path, issue.Message)
	}
	if r.Policy != nil {
		printViolations(w, r.Policy.Violations)
		printViolations(w, r.Policy.Warnings)
		for _, e := range r.Policy.Errors {
			fmt.Fprintf(w, "  policy error: %s\n", e)
		}
	}
}

func printViolations(w io.Writer, violations []policy.Violation) {
	for _, v := range violations {
		where := ""
		if v.Path != "" {
			where = " at " + v.Path
		}
		fmt.Fprintf(w, "  [%s] %s%s: %s\n", v.Severity, v.Policy, where, v.Message)
	}
}
