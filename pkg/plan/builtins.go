package plan

import (
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/sequencer/conditions"
	"github.com/openfroyo/skyrun/pkg/sequencer/items"
	"github.com/openfroyo/skyrun/pkg/sequencer/triggers"
)

// RegisterBuiltins registers the container types and every built-in instruction,
// condition and trigger.
func RegisterBuiltins(r *Registry) error {
	for _, f := range builtinFactories() {
		if err := r.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry holding the built-ins.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}

func item(typ, desc string, fn func(sequencer.Metadata, Deps) sequencer.Entity) Factory {
	return Factory{Type: typ, Kind: KindItem, Description: desc, New: fn}
}

func builtinFactories() []Factory {
	return []Factory{
		{
			Type: sequencer.TypeSequentialContainer, Kind: KindContainer,
			Description: "Runs its items one after another",
			New: func(meta sequencer.Metadata, _ Deps) sequencer.Entity {
				return sequencer.NewContainer(meta, sequencer.Sequential{})
			},
		},
		{
			Type: sequencer.TypeParallelContainer, Kind: KindContainer,
			Description: "Runs its items concurrently",
			New: func(meta sequencer.Metadata, _ Deps) sequencer.Entity {
				return sequencer.NewContainer(meta, sequencer.Parallel{})
			},
		},
		{
			Type: sequencer.TypeTargetContainer, Kind: KindContainer,
			Description: "Runs its items one after another against a sky target",
			New: func(meta sequencer.Metadata, _ Deps) sequencer.Entity {
				return sequencer.NewContainer(meta, sequencer.Sequential{})
			},
		},

		item(items.TypeWaitForTimeSpan, "Waits for a fixed time", func(meta sequencer.Metadata, _ Deps) sequencer.Entity {
			return items.NewWaitForTimeSpan(meta, items.WaitForTimeSpanProps{})
		}),
		item(items.TypeWaitUntil, "Waits until a time of day", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewWaitUntil(meta, items.WaitUntilProps{}, d.Mediators)
		}),
		item(items.TypeAnnotation, "Writes a note to the log", func(meta sequencer.Metadata, _ Deps) sequencer.Entity {
			return items.NewAnnotation(meta, items.AnnotationProps{})
		}),
		item(items.TypeFailInstruction, "Always fails", func(meta sequencer.Metadata, _ Deps) sequencer.Entity {
			return items.NewFailInstruction(meta, items.FailInstructionProps{})
		}),
		item(items.TypeTakeExposure, "Takes one or more exposures", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewTakeExposure(meta, items.TakeExposureProps{Count: 1}, d.Mediators)
		}),
		item(items.TypeSlewToTarget, "Slews the mount to the nearest target", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewSlewToTarget(meta, items.SlewToTargetProps{}, d.Mediators)
		}),
		item(items.TypeSwitchFilter, "Changes the filter", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewSwitchFilter(meta, items.SwitchFilterProps{}, d.Mediators)
		}),
		item(items.TypeMoveFocuser, "Moves the focuser to a position", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewMoveFocuser(meta, items.MoveFocuserProps{}, d.Mediators)
		}),
		item(items.TypeToggleFlatLight, "Switches the flat panel", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewToggleFlatLight(meta, items.ToggleFlatLightProps{}, d.Mediators)
		}),
		item(items.TypeOpenDome, "Opens the dome shutter", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewOpenDome(meta, d.Mediators)
		}),
		item(items.TypeCloseDome, "Closes the dome shutter", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewCloseDome(meta, d.Mediators)
		}),
		item(items.TypeParkTelescope, "Parks the mount", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewParkTelescope(meta, d.Mediators)
		}),
		item(items.TypeStartGuiding, "Starts guiding", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewStartGuiding(meta, d.Mediators)
		}),
		item(items.TypeStopGuiding, "Stops guiding", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewStopGuiding(meta, d.Mediators)
		}),
		item(items.TypeDither, "Dithers the guide star", func(meta sequencer.Metadata, d Deps) sequencer.Entity {
			return items.NewDither(meta, d.Mediators)
		}),

		{
			Type: conditions.TypeLoopForIterations, Kind: KindCondition,
			Description: "Repeats the container a number of times",
			New: func(meta sequencer.Metadata, _ Deps) sequencer.Entity {
				return conditions.NewLoopForIterations(meta, conditions.LoopForIterationsProps{Iterations: 1})
			},
		},
		{
			Type: conditions.TypeLoopUntilTime, Kind: KindCondition,
			Description: "Repeats the container until a time",
			New: func(meta sequencer.Metadata, d Deps) sequencer.Entity {
				return conditions.NewLoopUntilTime(meta, conditions.LoopUntilTimeProps{}, d.Mediators)
			},
		},
		{
			Type: conditions.TypeLoopWhileAltitudeAbove, Kind: KindCondition,
			Description: "Repeats the container while the target is above an altitude",
			New: func(meta sequencer.Metadata, d Deps) sequencer.Entity {
				return conditions.NewLoopWhileAltitudeAbove(meta, conditions.LoopWhileAltitudeAboveProps{}, d.Mediators)
			},
		},
		{
			Type: conditions.TypeSafetyMonitor, Kind: KindCondition,
			Description: "Interrupts the container when conditions turn unsafe",
			New: func(meta sequencer.Metadata, d Deps) sequencer.Entity {
				return conditions.NewSafetyMonitor(meta, conditions.SafetyMonitorProps{}, d.Mediators)
			},
		},
		{
			Type: conditions.TypeMoonAltitudeBelow, Kind: KindCondition,
			Description: "Interrupts the container when the moon rises above an altitude",
			New: func(meta sequencer.Metadata, d Deps) sequencer.Entity {
				return conditions.NewMoonAltitudeBelow(meta, conditions.MoonAltitudeBelowProps{}, d.Mediators)
			},
		},
		{
			Type: conditions.TypeScript, Kind: KindCondition,
			Description: "Evaluates a Starlark expression",
			New: func(meta sequencer.Metadata, d Deps) sequencer.Entity {
				return conditions.NewScript(meta, conditions.ScriptProps{}, d.Mediators, d.Scripts)
			},
		},

		{
			Type: triggers.TypeAfterExposures, Kind: KindTrigger,
			Description: "Runs its steps every N exposures",
			New: func(meta sequencer.Metadata, _ Deps) sequencer.Entity {
				return triggers.NewAfterExposures(meta, triggers.AfterExposuresProps{AfterExposures: 1})
			},
		},
		{
			Type: triggers.TypeTimeInterval, Kind: KindTrigger,
			Description: "Runs its steps at a fixed interval",
			New: func(meta sequencer.Metadata, d Deps) sequencer.Entity {
				return triggers.NewTimeInterval(meta, triggers.TimeIntervalProps{}, d.Mediators)
			},
		},
		{
			Type: triggers.TypeOnFilterChange, Kind: KindTrigger,
			Description: "Runs its steps before an item that needs another filter",
			New: func(meta sequencer.Metadata, d Deps) sequencer.Entity {
				return triggers.NewOnFilterChange(meta, d.Mediators)
			},
		},
	}
}
