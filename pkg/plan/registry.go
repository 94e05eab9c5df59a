package plan

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/equipment"
	"github.com/openfroyo/skyrun/pkg/script"
	"github.com/openfroyo/skyrun/pkg/sequencer"
)

// Kind says which slot of a container a node type fits.
type Kind string

const (
	KindItem      Kind = "item"
	KindContainer Kind = "container"
	KindCondition Kind = "condition"
	KindTrigger   Kind = "trigger"
)

// Deps are the collaborators factories hand to the nodes they build.
type Deps struct {
	Mediators *equipment.Mediators
	Scripts   *script.Evaluator
	Logger    zerolog.Logger
}

// Factory builds a node of one type with default properties.
type Factory struct {
	Type        string
	Kind        Kind
	Description string
	New         func(meta sequencer.Metadata, deps Deps) sequencer.Entity
}

// Registry maps type discriminators to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Types are unique.
func (r *Registry) Register(f Factory) error {
	if f.Type == "" {
		return fmt.Errorf("factory type is required")
	}
	if f.New == nil {
		return fmt.Errorf("factory %s has no constructor", f.Type)
	}
	switch f.Kind {
	case KindItem, KindContainer, KindCondition, KindTrigger:
	default:
		return fmt.Errorf("factory %s has invalid kind %q", f.Type, f.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[f.Type]; exists {
		return fmt.Errorf("type %s is already registered", f.Type)
	}
	r.factories[f.Type] = f
	return nil
}

// MustRegister is Register that panics, for static registration.
func (r *Registry) MustRegister(f Factory) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for a type.
func (r *Registry) Lookup(typ string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	return f, ok
}

// Types returns every registered factory sorted by kind and type.
func (r *Registry) Types() []Factory {
	r.mu.RLock()
	out := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Type < out[j].Type
	})
	return out
}
