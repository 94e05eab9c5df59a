// Package script evaluates small Starlark programs and expressions for plan conditions.
// Scripts run without print output, with a wall clock budget, and see only the variables
// they are given.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// DefaultTimeout bounds a single evaluation when no timeout is configured.
const DefaultTimeout = 2 * time.Second

// ErrTimeout is returned when an evaluation exceeds its budget.
var ErrTimeout = errors.New("script execution timeout")

// Result is the outcome of running a script file.
type Result struct {
	// Globals holds every exported global the script defined.
	Globals map[string]any `json:"globals,omitempty"`

	// ExecutionTime is how long the script took.
	ExecutionTime time.Duration `json:"execution_time"`
}

// Evaluator executes Starlark with a timeout.
type Evaluator struct {
	timeout time.Duration
}

// NewEvaluator creates an evaluator. A non-positive timeout selects DefaultTimeout.
func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{timeout: timeout}
}

// Timeout returns the per-evaluation budget.
func (e *Evaluator) Timeout() time.Duration {
	return e.timeout
}

// Compile checks that expr is a syntactically valid expression.
func (e *Evaluator) Compile(expr string) error {
	if _, err := syntax.ParseExpr("condition", expr, 0); err != nil {
		return fmt.Errorf("invalid expression: %w", err)
	}
	return nil
}

// Run executes a script file and returns its exported globals. Names starting with an
// underscore are private to the script.
func (e *Evaluator) Run(ctx context.Context, src string, vars map[string]any) (*Result, error) {
	start := time.Now()

	thread, env, stop, err := e.prepare(ctx, "script", vars)
	if err != nil {
		return nil, err
	}
	defer stop()

	globals, err := starlark.ExecFile(thread, "script.star", src, env)
	if err != nil {
		return nil, e.wrap(ctx, err)
	}

	out := make(map[string]any, len(globals))
	for name, val := range globals {
		if name == "" || name[0] == '_' {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert global %s: %w", name, err)
		}
		out[name] = goVal
	}
	return &Result{Globals: out, ExecutionTime: time.Since(start)}, nil
}

// EvaluateBool evaluates a single expression and returns its truth value.
func (e *Evaluator) EvaluateBool(ctx context.Context, expr string, vars map[string]any) (bool, error) {
	thread, env, stop, err := e.prepare(ctx, "condition", vars)
	if err != nil {
		return false, err
	}
	defer stop()

	val, err := starlark.Eval(thread, "condition", expr, env)
	if err != nil {
		return false, e.wrap(ctx, err)
	}
	return bool(val.Truth()), nil
}

// prepare builds a thread bound to ctx and the evaluator's timeout. stop releases the
// timeout and must always be called.
func (e *Evaluator) prepare(ctx context.Context, name string, vars map[string]any) (*starlark.Thread, starlark.StringDict, func(), error) {
	env := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for key, val := range vars {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to convert variable %s: %w", key, err)
		}
		env[key] = sv
	}

	thread := &starlark.Thread{
		Name:  name,
		Print: func(*starlark.Thread, string) {},
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	release := context.AfterFunc(evalCtx, func() {
		thread.Cancel(context.Cause(evalCtx).Error())
	})
	stop := func() {
		release()
		cancel()
	}
	return thread, env, stop, nil
}

// wrap maps a cancelled thread to ErrTimeout or the caller's context error.
func (e *Evaluator) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if strings.Contains(err.Error(), "Starlark computation cancelled") {
		return fmt.Errorf("%w after %v", ErrTimeout, e.timeout)
	}
	return fmt.Errorf("starlark execution failed: %w", err)
}
