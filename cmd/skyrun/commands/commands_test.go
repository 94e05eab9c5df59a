package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/skyrun/pkg/engine"
	"github.com/openfroyo/skyrun/pkg/plan"
	"github.com/openfroyo/skyrun/pkg/stores"
)

func TestMain(m *testing.M) {
	logWriter = io.Discard
	os.Exit(m.Run())
}

// execute runs the CLI with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "abc123", "today")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String() + errOut.String(), err
}

// initWorkspace runs init into a temp dir and returns the dir and its config path.
func initWorkspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	out, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "create")
	return dir, filepath.Join(dir, "skyrun.yaml")
}

func TestInitSkipsExistingFiles(t *testing.T) {
	dir, _ := initWorkspace(t)

	out, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "skip"))

	out, err = execute(t, "init", "--force", dir)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "create"))
}

func TestValidateSamplePlan(t *testing.T) {
	dir, cfg := initWorkspace(t)

	out, err := execute(t, "-c", cfg, "validate", filepath.Join(dir, "night.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "night.yaml: ok")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, plan.WriteFile(broken, &plan.Document{
		Version: plan.FormatVersion,
		Name:    "broken",
		Root: &plan.Node{
			Type:  plan.TypeRootContainer,
			Name:  "broken",
			Items: []*plan.Node{{Type: "take_exposure", Name: "bad", Attempts: -1}},
		},
	}))

	out, err = execute(t, "-c", cfg, "--json", "validate", filepath.Join(dir, "night.yaml"), broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 plans failed")

	var reports []validationReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Valid)
	assert.False(t, reports[1].Valid)
	assert.NotEmpty(t, reports[1].Schema)
}

func TestValidateStrictReportsIssues(t *testing.T) {
	dir, cfg := initWorkspace(t)
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, plan.WriteFile(path, &plan.Document{
		Version: plan.FormatVersion,
		Name:    "filter",
		Root: &plan.Node{
			Type:  plan.TypeRootContainer,
			Name:  "filter",
			Items: []*plan.Node{{Type: "switch_filter", Name: "no filter"}},
		},
	}))

	out, err := execute(t, "-c", cfg, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "issue: ")

	_, err = execute(t, "-c", cfg, "validate", "--strict", path)
	require.Error(t, err)
}

func TestRunSamplePlanAndHistory(t *testing.T) {
	dir, cfg := initWorkspace(t)

	out, err := execute(t, "-c", cfg, "run", filepath.Join(dir, "night.yaml"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "Status:   succeeded")
	assert.Contains(t, out, "Lights")

	out, err = execute(t, "-c", cfg, "--json", "history", "list")
	require.NoError(t, err)
	var runs []*stores.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "succeeded", runs[0].Status)
	assert.Equal(t, "Sample night", runs[0].Sequence)

	out, err = execute(t, "-c", cfg, "--json", "history", "show", "--events", runs[0].ID)
	require.NoError(t, err)
	var details runDetails
	require.NoError(t, json.Unmarshal([]byte(out), &details))
	assert.Equal(t, runs[0].ID, details.Run.ID)
	assert.NotZero(t, details.Summary.Statuses["finished"])
	assert.NotEmpty(t, details.Events)

	out, err = execute(t, "-c", cfg, "history", "audit", "--action", engine.AuditActionStart)
	require.NoError(t, err)
	assert.Contains(t, out, "cli")
	assert.Contains(t, out, runs[0].ID)

	_, err = execute(t, "-c", cfg, "history", "show", "missing")
	require.Error(t, err)
}

func TestRunDeniedByPolicy(t *testing.T) {
	dir, cfg := initWorkspace(t)
	rego := filepath.Join(dir, "no-slew.rego")
	require.NoError(t, os.WriteFile(rego, []byte(`# Forbids slewing
package skyrun.test.noslew

import rego.v1

deny contains violation if {
	some node in input.nodes
	node.type == "slew_to_target"
	violation := {"message": "slewing is not allowed here", "path": node.path, "severity": "error"}
}
`), 0o644))
	override := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(override, []byte("policies:\n  paths: ["+rego+"]\n"), 0o644))

	out, err := execute(t, "-c", cfg, "-c", override, "run", filepath.Join(dir, "night.yaml"))
	require.Error(t, err)
	assert.True(t, engine.IsPolicyDenied(err), "error = %v", err)
	assert.Contains(t, out, "slewing is not allowed here")

	out, err = execute(t, "-c", cfg, "-c", override, "run", "--no-policy", "--quiet", filepath.Join(dir, "night.yaml"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "succeeded")

	out, err = execute(t, "-c", cfg, "-c", override, "policies", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no-slew")
	assert.Contains(t, out, "builtin")
}

func TestTemplates(t *testing.T) {
	dir, cfg := initWorkspace(t)
	night := filepath.Join(dir, "night.yaml")

	out, err := execute(t, "-c", cfg, "templates", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "flats")

	out, err = execute(t, "-c", cfg, "templates", "show", "flats")
	require.NoError(t, err)
	assert.Contains(t, out, "toggle_flat_light")

	_, err = execute(t, "-c", cfg, "templates", "show", "darks")
	require.Error(t, err)

	_, err = execute(t, "-c", cfg, "templates", "insert", "flats", night, "--at", "0")
	require.NoError(t, err)
	doc, err := plan.ReadFile(night)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Root.Items)
	assert.Equal(t, "flats", doc.Root.Items[0].Name)
	assert.Len(t, doc.Root.Items[0].Items, 3)
	assert.Len(t, doc.Root.End, 2, "end area must survive the rewrite")

	out, err = execute(t, "-c", cfg, "templates", "save", night, "whole-night")
	require.NoError(t, err)
	assert.Contains(t, out, "whole-night")

	out, err = execute(t, "-c", cfg, "--json", "templates", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"whole-night"`)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--json", "version")
	require.NoError(t, err)
	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, plan.FormatVersion, info.PlanFormat)
}

func TestConfigErrorsSurface(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("telescope:\n  port: 1\n"), 0o644))
	_, err := execute(t, "-c", bad, "templates", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telescope")
}
