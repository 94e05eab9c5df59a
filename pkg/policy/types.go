package policy

import (
	"time"

	"github.com/openfroyo/skyrun/pkg/plan"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed before the night starts.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the plan from starting.
	SeverityError Severity = "error"

	// SeverityCritical blocks the plan from starting and points at equipment risk.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity stop a plan from running.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module producing a deny set over plan documents.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego module. Its package must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity of violations that do not carry one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is a single deny result.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Node is the ID of the offending plan node, if the rule named one.
	Node string `json:"node,omitempty"`

	// Path is the slash separated name path of the offending node.
	Path string `json:"path,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against one document.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedPolicies lists the names of the policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is what rules see as input.
type Input struct {
	// Document is the plan as persisted.
	Document *plan.Document `json:"document"`

	// Nodes flattens the document in document order.
	Nodes []NodeInfo `json:"nodes"`

	// Context describes the evaluation.
	Context Context `json:"context"`
}

// NodeInfo is one node of the flattened document.
type NodeInfo struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Depth    int    `json:"depth"`
	Disabled bool   `json:"disabled"`

	// Slot is where the node sits in its parent: root, item, condition, trigger, step or end.
	Slot string `json:"slot"`

	Attempts   int            `json:"attempts"`
	Properties map[string]any `json:"properties,omitempty"`

	// Conditions lists the condition types of a container.
	Conditions []string `json:"conditions,omitempty"`
}

// Context provides information about the evaluation.
type Context struct {
	// Operation is what the plan is evaluated for, e.g. "validate" or "run".
	Operation string `json:"operation"`

	// Timestamp is when the evaluation started.
	Timestamp time.Time `json:"timestamp"`

	// Metadata contains caller supplied values.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Bundle is a named collection of policies shipped as one JSON file.
type Bundle struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Policies    []Policy `json:"policies"`
}

// NewInput flattens doc for evaluation.
func NewInput(doc *plan.Document, ctx Context) *Input {
	in := &Input{Document: doc, Context: ctx}
	if doc != nil && doc.Root != nil {
		flatten(doc.Root, "", "root", 0, &in.Nodes)
	}
	return in
}

func flatten(n *plan.Node, parent, slot string, depth int, out *[]NodeInfo) {
	if n == nil {
		return
	}
	path := parent + "/" + n.Name
	attempts := n.Attempts
	if attempts == 0 {
		attempts = 1
	}
	info := NodeInfo{
		ID:         n.ID,
		Type:       n.Type,
		Name:       n.Name,
		Path:       path,
		Depth:      depth,
		Disabled:   n.Disabled,
		Slot:       slot,
		Attempts:   attempts,
		Properties: n.Properties,
	}
	for _, c := range n.Conditions {
		info.Conditions = append(info.Conditions, c.Type)
	}
	*out = append(*out, info)

	groups := []struct {
		slot  string
		nodes []*plan.Node
	}{
		{"condition", n.Conditions},
		{"trigger", n.Triggers},
		{"step", n.Steps},
		{"item", n.Items},
		{"end", n.End},
	}
	for _, g := range groups {
		for _, child := range g.nodes {
			flatten(child, path, g.slot, depth+1, out)
		}
	}
}
