// Package plan persists sequence trees. A Document is a tree of Nodes; every node carries
// a type discriminator resolved against a Registry, plus the properties of that type.
// Types missing from the registry decode into placeholder nodes that keep the raw node
// and always fail validation, so the rest of the plan stays loadable and round trips.
package plan

import (
	"github.com/openfroyo/skyrun/pkg/astro"
)

// FormatVersion is written into every encoded document.
const FormatVersion = "1.0.0"

// TypeRootContainer is the discriminator of the document root.
const TypeRootContainer = "container.root"

// Document is the persisted form of a sequence.
type Document struct {
	// Version is the format version, a semantic version compatible with FormatVersion.
	Version string `json:"version" yaml:"version"`

	// Name is the display name of the sequence.
	Name string `json:"name" yaml:"name"`

	// Description is a free-form explanation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Root is the root container.
	Root *Node `json:"root" yaml:"root"`
}

// Node is one persisted entity. Which fields apply depends on the kind of Type:
// containers use Items, Conditions, Triggers and Target; the root also uses End; triggers
// use Steps for their sub-plan.
type Node struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Type        string `json:"type" yaml:"type"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Disabled    bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	ErrorBehavior string `json:"error_behavior,omitempty" yaml:"error_behavior,omitempty"`
	Attempts      int    `json:"attempts,omitempty" yaml:"attempts,omitempty"`

	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`

	Target              *astro.Target `json:"target,omitempty" yaml:"target,omitempty"`
	TriggerFailureFatal bool          `json:"trigger_failure_fatal,omitempty" yaml:"trigger_failure_fatal,omitempty"`

	Items      []*Node `json:"items,omitempty" yaml:"items,omitempty"`
	Conditions []*Node `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Triggers   []*Node `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Steps      []*Node `json:"steps,omitempty" yaml:"steps,omitempty"`
	End        []*Node `json:"end,omitempty" yaml:"end,omitempty"`
}

// Walk calls fn for n and every descendant in document order. fn returning false stops
// the descent below that node.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, group := range [][]*Node{n.Conditions, n.Triggers, n.Steps, n.Items, n.End} {
		for _, child := range group {
			child.Walk(fn)
		}
	}
}
