package script

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEvaluator_Run(t *testing.T) {
	evaluator := NewEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		vars      map[string]any
		checkFunc func(*testing.T, *Result)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: "result = 2 + 2\n",
			checkFunc: func(t *testing.T, r *Result) {
				if r.Globals["result"] != int64(4) {
					t.Errorf("expected result=4, got %v", r.Globals["result"])
				}
			},
		},
		{
			name:   "use variables",
			script: "remaining = total - done\n",
			vars:   map[string]any{"total": 20, "done": 5},
			checkFunc: func(t *testing.T, r *Result) {
				if r.Globals["remaining"] != int64(15) {
					t.Errorf("expected remaining=15, got %v", r.Globals["remaining"])
				}
			},
		},
		{
			name: "function and list",
			script: `
def frames(n):
    return ["frame_" + str(i) for i in range(n)]

names = frames(3)
_private = 1
`,
			checkFunc: func(t *testing.T, r *Result) {
				names, ok := r.Globals["names"].([]any)
				if !ok {
					t.Fatalf("expected names to be a list, got %T", r.Globals["names"])
				}
				if len(names) != 3 || names[2] != "frame_2" {
					t.Errorf("unexpected names: %v", names)
				}
				if _, ok := r.Globals["_private"]; ok {
					t.Error("expected private globals to be hidden")
				}
			},
		},
		{
			name:   "struct builtin",
			script: "s = struct(filter = \"Ha\", count = 2)\n",
			checkFunc: func(t *testing.T, r *Result) {
				s, ok := r.Globals["s"].(map[string]any)
				if !ok {
					t.Fatalf("expected s to be a dict, got %T", r.Globals["s"])
				}
				if s["filter"] != "Ha" {
					t.Errorf("expected filter=Ha, got %v", s["filter"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  "invalid syntax here\n",
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  "result = undefined_variable\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Run(ctx, tt.script, tt.vars)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.ExecutionTime == 0 {
				t.Error("expected non-zero execution time")
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestEvaluator_EvaluateBool(t *testing.T) {
	evaluator := NewEvaluator(time.Second)
	ctx := context.Background()

	tests := []struct {
		name    string
		expr    string
		vars    map[string]any
		want    bool
		wantErr bool
	}{
		{name: "comparison", expr: "altitude > 30", vars: map[string]any{"altitude": 42.5}, want: true},
		{name: "false comparison", expr: "iterations < 3", vars: map[string]any{"iterations": 3}, want: false},
		{name: "boolean logic", expr: "safe and moon_altitude < 0", vars: map[string]any{"safe": true, "moon_altitude": -12.0}, want: true},
		{name: "truthiness of list", expr: "filters", vars: map[string]any{"filters": []string{"L"}}, want: true},
		{name: "membership", expr: "\"Ha\" in filters", vars: map[string]any{"filters": []string{"L", "R"}}, want: false},
		{name: "unknown variable", expr: "missing > 1", wantErr: true},
		{name: "unsupported variable", expr: "x", vars: map[string]any{"x": struct{}{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluator.EvaluateBool(ctx, tt.expr, tt.vars)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluator_Compile(t *testing.T) {
	evaluator := NewEvaluator(0)
	if evaluator.Timeout() != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", evaluator.Timeout())
	}
	if err := evaluator.Compile("altitude > 30 and safe"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := evaluator.Compile("altitude >"); err == nil {
		t.Error("expected syntax error")
	}
}

func TestEvaluator_Timeout(t *testing.T) {
	evaluator := NewEvaluator(50 * time.Millisecond)

	script := `
def spin():
    total = 0
    for i in range(100000000):
        total = total + i
    return total

output = spin()
`
	_, err := evaluator.Run(context.Background(), script, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestEvaluator_CanceledContext(t *testing.T) {
	evaluator := NewEvaluator(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := evaluator.EvaluateBool(ctx, "[i for i in range(100000000)]", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEvaluator_PrintIsSuppressed(t *testing.T) {
	evaluator := NewEvaluator(time.Second)
	result, err := evaluator.Run(context.Background(), "print(\"hidden\")\nresult = \"done\"\n", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Globals["result"] != "done" {
		t.Errorf("expected result=done, got %v", result.Globals["result"])
	}
}
