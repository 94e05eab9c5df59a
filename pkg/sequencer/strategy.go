package sequencer

import "fmt"

// Strategy decides which child items run next.
type Strategy interface {
	// Name identifies the strategy in persisted plans.
	Name() string

	// Next returns the items to run next. An empty result ends the current pass.
	Next(items []Item) []Item
}

// Sequential runs items one at a time in declared order.
type Sequential struct{}

// Name implements Strategy.
func (Sequential) Name() string { return "sequential" }

// Next returns the first item still in status created.
func (Sequential) Next(items []Item) []Item {
	for _, it := range items {
		if it.Status() == StatusCreated {
			return []Item{it}
		}
	}
	return nil
}

// Parallel runs every remaining item concurrently as one batch.
type Parallel struct{}

// Name implements Strategy.
func (Parallel) Name() string { return "parallel" }

// Next returns all items still in status created.
func (Parallel) Next(items []Item) []Item {
	var batch []Item
	for _, it := range items {
		if it.Status() == StatusCreated {
			batch = append(batch, it)
		}
	}
	return batch
}

// StrategyByName resolves a persisted strategy name.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", "sequential":
		return Sequential{}, nil
	case "parallel":
		return Parallel{}, nil
	default:
		return nil, fmt.Errorf("unknown execution strategy: %s", name)
	}
}
