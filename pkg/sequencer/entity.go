package sequencer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/openfroyo/skyrun/pkg/astro"
)

// Metadata is the descriptive part of every node in the plan tree.
type Metadata struct {
	// Name is the display name of the node.
	Name string `json:"name" yaml:"name"`

	// Description is a free-form explanation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Category groups node types for pickers and listings.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	// Icon is an opaque UI handle. The engine never interprets it.
	Icon string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// Entity is the contract shared by items, conditions, triggers and containers.
type Entity interface {
	// ID returns the unique identifier of this node instance.
	ID() string

	Name() string
	Description() string
	Category() string
	Icon() string

	// Metadata returns a copy of the descriptive fields.
	Metadata() Metadata

	// SetMetadata replaces the descriptive fields.
	SetMetadata(Metadata)

	// Status returns the current execution status.
	Status() Status

	// Parent returns the owning container, or nil when detached.
	Parent() *Container

	// AttachNewParent sets the non-owning back reference to the owning container.
	AttachNewParent(parent *Container)

	// OnStatusChanged registers a listener for status changes of this node and its
	// descendants. The returned function removes the listener.
	OnStatusChanged(fn func(StatusEvent)) (unsubscribe func())

	core() *Base
}

// Typed is implemented by nodes that carry a registry type identifier.
type Typed interface {
	TypeID() string
}

// TypeOf returns the registry type identifier of an entity, falling back to its Go type.
func TypeOf(e Entity) string {
	if t, ok := e.(Typed); ok {
		return t.TypeID()
	}
	return fmt.Sprintf("%T", e)
}

// StatusEvent describes a single status transition.
type StatusEvent struct {
	Entity Entity
	From   Status
	To     Status
	At     time.Time
}

// Base carries identity, metadata, parent link, status machine and listeners.
// Every concrete node embeds it through ItemBase, ConditionBase, TriggerBase or Container.
type Base struct {
	mu        sync.RWMutex
	id        string
	meta      Metadata
	parent    *Container
	machine   *fsm.FSM
	listeners *listeners
}

// NewBase creates a Base in status created with a fresh ID.
func NewBase(meta Metadata) *Base {
	b := &Base{
		id:        uuid.New().String(),
		meta:      meta,
		listeners: newListeners(),
	}
	b.machine = newStatusMachine(b)
	return b
}

// cloneBase returns a fresh Base with the same metadata. Disabled nodes stay disabled.
func (b *Base) cloneBase() *Base {
	clone := NewBase(b.Metadata())
	if b.Status() == StatusDisabled {
		clone.machine.SetState(string(StatusDisabled))
	}
	return clone
}

func (b *Base) core() *Base { return b }

// ID returns the node ID.
func (b *Base) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// SetID overrides the generated ID, used when restoring a persisted plan.
func (b *Base) SetID(id string) {
	if id == "" {
		return
	}
	b.mu.Lock()
	b.id = id
	b.mu.Unlock()
}

// Name returns the display name.
func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta.Name
}

// Description returns the description.
func (b *Base) Description() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta.Description
}

// Category returns the category.
func (b *Base) Category() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta.Category
}

// Icon returns the icon handle.
func (b *Base) Icon() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta.Icon
}

// Metadata returns a copy of the descriptive fields.
func (b *Base) Metadata() Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta
}

// SetMetadata replaces the descriptive fields.
func (b *Base) SetMetadata(meta Metadata) {
	b.mu.Lock()
	b.meta = meta
	b.mu.Unlock()
}

// Status returns the current status.
func (b *Base) Status() Status {
	return Status(b.machine.Current())
}

// Parent returns the owning container.
func (b *Base) Parent() *Container {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.parent
}

// AttachNewParent sets the owning container. Passing nil detaches the node.
func (b *Base) AttachNewParent(parent *Container) {
	b.mu.Lock()
	b.parent = parent
	b.mu.Unlock()
}

// OnStatusChanged registers a status listener.
func (b *Base) OnStatusChanged(fn func(StatusEvent)) func() {
	return b.listeners.add(fn)
}

// emit delivers a transition to this node's listeners and then to every ancestor's.
func (b *Base) emit(entity Entity, from, to Status) {
	ev := StatusEvent{Entity: entity, From: from, To: to, At: time.Now()}
	b.listeners.notify(ev)
	for p := b.Parent(); p != nil; p = p.Parent() {
		p.core().listeners.notify(ev)
	}
}

type listeners struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(StatusEvent)
}

func newListeners() *listeners {
	return &listeners{fns: make(map[int]func(StatusEvent))}
}

func (l *listeners) add(fn func(StatusEvent)) func() {
	l.mu.Lock()
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners) notify(ev StatusEvent) {
	l.mu.RLock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(StatusEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// RootOf returns the root container the entity belongs to, or nil.
func RootOf(e Entity) *RootContainer {
	var top *Container
	if c, ok := e.(*Container); ok {
		top = c
	}
	for p := e.Parent(); p != nil; p = p.Parent() {
		top = p
	}
	if top == nil {
		return nil
	}
	return top.rootOwner()
}

// NearestTarget walks up from e and returns the first container target found.
func NearestTarget(e Entity) (astro.Target, bool) {
	if c, ok := e.(*Container); ok {
		if t, ok := c.Target(); ok {
			return t, true
		}
	}
	for p := e.Parent(); p != nil; p = p.Parent() {
		if t, ok := p.Target(); ok {
			return t, true
		}
	}
	return astro.Target{}, false
}

// Path returns the slash separated names from the topmost container down to e.
func Path(e Entity) string {
	names := []string{e.Name()}
	for p := e.Parent(); p != nil; p = p.Parent() {
		names = append(names, p.Name())
	}
	path := ""
	for i := len(names) - 1; i >= 0; i-- {
		path += "/" + names[i]
	}
	return path
}
