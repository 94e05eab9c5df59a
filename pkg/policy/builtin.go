package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		nestingDepthPolicy(),
		retryBudgetPolicy(),
		loopExitPolicy(),
		endOfSequencePolicy(),
		exposureLengthPolicy(),
	}
}

func nestingDepthPolicy() Policy {
	return Policy{
		Name:        "nesting-depth",
		Description: "Limits how deep containers may be nested",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"structure"},
		Rego: `package skyrun.policies.depth

import rego.v1

max_depth := 12

deny contains violation if {
	some node in input.nodes
	node.depth > max_depth
	violation := {
		"message": sprintf("%s is nested %d levels deep, the limit is %d", [node.path, node.depth, max_depth]),
		"node": node.id,
		"path": node.path,
	}
}
`,
	}
}

func retryBudgetPolicy() Policy {
	return Policy{
		Name:        "retry-budget",
		Description: "Flags instructions that retry so often they can stall the night",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"retries"},
		Rego: `package skyrun.policies.retries

import rego.v1

max_attempts := 10

deny contains violation if {
	some node in input.nodes
	node.attempts > max_attempts
	violation := {
		"message": sprintf("%s retries up to %d times, more than %d", [node.path, node.attempts, max_attempts]),
		"node": node.id,
		"path": node.path,
	}
}
`,
	}
}

func loopExitPolicy() Policy {
	return Policy{
		Name:        "loop-exit",
		Description: "Flags loops without a bounded exit",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"loops"},
		Rego: `package skyrun.policies.loops

import rego.v1

bounded := {"loop_for_iterations", "loop_until_time", "loop_while_altitude_above"}

has_bounded(node) if {
	some c in node.conditions
	c in bounded
}

deny contains violation if {
	some node in input.nodes
	"script" in node.conditions
	not has_bounded(node)
	violation := {
		"message": sprintf("%s loops on a script condition only and may never end", [node.path]),
		"node": node.id,
		"path": node.path,
	}
}

deny contains violation if {
	some node in input.nodes
	node.type == "loop_for_iterations"
	node.properties.iterations > 1000
	violation := {
		"message": sprintf("%s repeats %d times", [node.path, node.properties.iterations]),
		"node": node.id,
		"path": node.path,
	}
}
`,
	}
}

func endOfSequencePolicy() Policy {
	return Policy{
		Name:        "end-of-sequence",
		Description: "Requires plans that move the mount or open the dome to park or close at the end",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety"},
		Rego: `package skyrun.policies.end

import rego.v1

moving := {"slew_to_target", "open_dome"}

securing := {"park_telescope", "close_dome"}

moves if {
	some node in input.nodes
	node.type in moving
	not node.disabled
}

secures if {
	some node in input.nodes
	node.slot == "end"
	node.type in securing
	not node.disabled
}

deny contains violation if {
	moves
	not secures
	violation := {
		"message": "the end of sequence area neither parks the telescope nor closes the dome",
	}
}
`,
	}
}

func exposureLengthPolicy() Policy {
	return Policy{
		Name:        "exposure-length",
		Description: "Flags exposures longer than half an hour",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"camera"},
		Rego: `package skyrun.policies.exposure

import rego.v1

max_seconds := 1800

deny contains violation if {
	some node in input.nodes
	node.type == "take_exposure"
	node.properties.exposure_time > max_seconds
	violation := {
		"message": sprintf("%s exposes for %vs, more than %ds", [node.path, node.properties.exposure_time, max_seconds]),
		"node": node.id,
		"path": node.path,
	}
}
`,
	}
}
