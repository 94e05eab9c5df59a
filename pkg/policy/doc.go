// Package policy checks plan documents against Rego rules before they run.
//
// Every policy is a Rego module whose package defines a deny set. Rules see an Input
// holding the document and a flattened node list:
//
//	input.document          the plan as persisted
//	input.nodes[_].path     slash separated names from the root
//	input.nodes[_].slot     root, item, condition, trigger, step or end
//	input.nodes[_].depth    nesting depth, 0 for the root
//	input.context.operation "validate" or "run"
//
// A deny entry is either a string or an object with message, and optionally node,
// path and severity. Violations with severity error or critical make the result
// disallowed; the rest are reported as warnings.
//
// Built-in policies limit nesting depth and retry budgets, flag unbounded loops and
// overly long exposures, and require the end of sequence area to secure the
// observatory. More policies load from .rego files, JSON policy files and JSON bundles,
// and can be reloaded when their files change.
package policy
