package conditions

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/skyrun/pkg/equipment"
	"github.com/openfroyo/skyrun/pkg/script"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/sequencer/props"
)

// ScriptProps configures ScriptCondition. Loop makes the condition repeat its container
// while the expression holds.
type ScriptProps struct {
	Expression string `json:"expression" validate:"required"`
	Loop       bool   `json:"loop,omitempty"`
}

// ScriptCondition evaluates a Starlark expression before each item. The expression sees
// these variables:
//
//	iterations     passes completed since the last reset
//	now            current time as RFC3339
//	hour           current hour of day as a float
//	target         name of the nearest target, or ""
//	altitude       altitude of the nearest target, when an ephemeris is configured
//	moon_altitude  altitude of the moon, when an ephemeris is configured
//	safe           safety monitor state, when one is connected
//	previous, next names of the surrounding items, or ""
type ScriptCondition struct {
	*sequencer.ConditionBase
	props      props.Value[ScriptProps]
	mediators  *equipment.Mediators
	evaluator  *script.Evaluator
	iterations atomic.Int32
}

// NewScript creates the condition. A nil evaluator selects one with the default timeout.
func NewScript(meta sequencer.Metadata, p ScriptProps, m *equipment.Mediators, evaluator *script.Evaluator) *ScriptCondition {
	if evaluator == nil {
		evaluator = script.NewEvaluator(0)
	}
	c := &ScriptCondition{
		ConditionBase: sequencer.NewConditionBase(withDefaultCategory(meta, categoryLoop)),
		mediators:     m,
		evaluator:     evaluator,
	}
	c.props.Set(p)
	return c
}

func (c *ScriptCondition) TypeID() string  { return TypeScript }
func (c *ScriptCondition) Properties() any { return c.props.Ptr() }
func (c *ScriptCondition) Loops() bool     { return c.props.Get().Loop }

// Validate implements sequencer.Validatable.
func (c *ScriptCondition) Validate() []string {
	p := c.props.Get()
	if issues := props.Validate(p); len(issues) > 0 {
		return issues
	}
	if err := c.evaluator.Compile(p.Expression); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// Check evaluates the expression. Evaluation errors count as false.
func (c *ScriptCondition) Check(previous, next sequencer.Item) bool {
	ctx, cancel := checkContext()
	defer cancel()

	expr := c.props.Get().Expression
	ok, err := c.evaluator.EvaluateBool(ctx, expr, c.Variables(ctx, previous, next))
	if err != nil {
		log.Warn().Err(err).Str("condition", c.Name()).Str("expression", expr).Msg("Script condition failed")
		return false
	}
	return ok
}

// Variables returns the values exposed to the expression.
func (c *ScriptCondition) Variables(ctx context.Context, previous, next sequencer.Item) map[string]any {
	now := c.mediators.Now()
	vars := map[string]any{
		"iterations": int(c.iterations.Load()),
		"now":        now.Format(time.RFC3339),
		"hour":       float64(now.Hour()) + float64(now.Minute())/60,
		"target":     "",
		"previous":   nameOf(previous),
		"next":       nameOf(next),
	}

	target, hasTarget := sequencer.NearestTarget(c)
	if hasTarget {
		vars["target"] = target.Name
	}
	if c.mediators != nil && c.mediators.Ephemeris != nil {
		if hasTarget {
			if alt, err := c.mediators.Ephemeris.Altitude(ctx, target.Coordinates, now); err == nil {
				vars["altitude"] = alt
			}
		}
		if alt, err := c.mediators.Ephemeris.MoonAltitude(ctx, now); err == nil {
			vars["moon_altitude"] = alt
		}
	}
	if len(c.mediators.Require(equipment.RoleSafetyMonitor)) == 0 {
		if safe, err := c.mediators.SafetyMonitor.IsSafe(ctx); err == nil {
			vars["safe"] = safe
		}
	}
	return vars
}

// IterationFinished implements sequencer.IterationObserver.
func (c *ScriptCondition) IterationFinished() { c.iterations.Add(1) }

// ResetProgress clears the iteration counter.
func (c *ScriptCondition) ResetProgress() { c.iterations.Store(0) }

// Clone implements sequencer.Condition.
func (c *ScriptCondition) Clone() sequencer.Condition {
	clone := &ScriptCondition{
		ConditionBase: c.CloneConditionBase(),
		mediators:     c.mediators,
		evaluator:     c.evaluator,
	}
	clone.props.Set(c.props.Clone())
	return clone
}

func nameOf(it sequencer.Item) string {
	if it == nil {
		return ""
	}
	return it.Name()
}
