package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/plan"
)

const flatsRego = `package site.flats

# Flats need the panel.
# Checked before every run.

import rego.v1

deny contains "no flat panel step" if {
	some node in input.nodes
	node.name == "flats"
	count([n | some n in input.nodes; n.type == "toggle_flat_light"]) == 0
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "flats.rego")
	writeFile(t, path, flatsRego)

	policies, err := loader.LoadFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "flats" {
		t.Errorf("Expected name 'flats', got %q", p.Name)
	}
	if p.Description != "Flats need the panel. Checked before every run." {
		t.Errorf("Unexpected description %q", p.Description)
	}
	if !p.Enabled || p.Severity != SeverityWarning || p.Source != path {
		t.Errorf("Unexpected defaults: %+v", p)
	}
}

func TestLoadFile_JSONAndBundle(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	single := filepath.Join(dir, "single.json")
	writeFile(t, single, `{"name": "one", "rego": "package one\n", "enabled": true}`)
	policies, err := loader.LoadFile(single)
	if err != nil {
		t.Fatalf("Failed to load JSON policy: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "one" || policies[0].Severity != SeverityWarning {
		t.Errorf("Unexpected policies: %+v", policies)
	}

	bundle := filepath.Join(dir, "bundle.json")
	writeFile(t, bundle, `{"name": "site", "version": "1.0.0", "policies": [
		{"name": "a", "rego": "package a\n", "severity": "error", "enabled": true},
		{"name": "b", "rego": "package b\n", "enabled": false}
	]}`)
	policies, err = loader.LoadFile(bundle)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	if policies[0].Severity != SeverityError || policies[1].Enabled {
		t.Errorf("Unexpected bundle content: %+v", policies)
	}

	nameless := filepath.Join(dir, "nameless.json")
	writeFile(t, nameless, `{"rego": "package x\n"}`)
	if _, err := loader.LoadFile(nameless); err == nil {
		t.Error("Expected error for policy without a name")
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "flats.rego"), flatsRego)
	writeFile(t, filepath.Join(dir, "nested", "two.json"), `{"name": "two", "rego": "package two\n"}`)
	writeFile(t, filepath.Join(dir, "broken.json"), `{`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d: %+v", len(policies), policies)
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestEngine_LoadPoliciesAndWatch(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "flats.rego"), flatsRego)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	doc := &plan.Document{Version: plan.FormatVersion, Name: "n", Root: &plan.Node{
		Type: plan.TypeRootContainer, Name: "n",
		Items: []*plan.Node{{Type: "container.sequential", Name: "flats"}},
	}}
	result, err := eng.Evaluate(context.Background(), doc, "validate")
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Message != "no flat panel step" {
		t.Fatalf("Expected the flats warning, got %+v", result.Warnings)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Watch(ctx); err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}
	writeFile(t, filepath.Join(dir, "flats.rego"), `package site.flats

import rego.v1

deny contains {"message": "flats disabled tonight", "severity": "error"} if {
	some node in input.nodes
	node.name == "flats"
}
`)

	deadline := time.Now().Add(5 * time.Second)
	for {
		result, err = eng.Evaluate(context.Background(), doc, "validate")
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if !result.Allowed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Policy was not reloaded")
		}
		time.Sleep(50 * time.Millisecond)
	}
	if result.Violations[0].Message != "flats disabled tonight" {
		t.Errorf("Unexpected violation %+v", result.Violations[0])
	}
}
