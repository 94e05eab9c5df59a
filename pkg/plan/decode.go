package plan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openfroyo/skyrun/pkg/sequencer"
)

type idSetter interface {
	SetID(string)
}

var defaultSchema = sync.OnceValues(NewSchema)

// Decoder turns documents into runnable trees.
type Decoder struct {
	registry *Registry
	deps     Deps
}

// NewDecoder creates a decoder. A nil registry means the built-ins.
func NewDecoder(registry *Registry, deps Deps) *Decoder {
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	return &Decoder{registry: registry, deps: deps}
}

// Decode builds the root container of doc. Nodes of unregistered types decode into
// placeholders; every other problem is an error naming the node path.
func (d *Decoder) Decode(doc *Document) (*sequencer.RootContainer, error) {
	if doc == nil || doc.Root == nil {
		return nil, errors.New("document has no root")
	}
	if err := CheckVersion(doc.Version); err != nil {
		return nil, err
	}
	schema, err := defaultSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, err
	}
	rn := doc.Root

	meta := metadataOf(rn)
	if meta.Name == "" {
		meta.Name = doc.Name
	}
	root := sequencer.NewRootContainer(meta)
	root.SetID(rn.ID)
	if err := d.fillContainer(root.Container, rn, meta.Name); err != nil {
		return nil, err
	}
	for i, n := range rn.End {
		it, err := d.decodeItem(n, fmt.Sprintf("%s/end[%d]", meta.Name, i))
		if err != nil {
			return nil, err
		}
		if err := root.EndArea().Add(it); err != nil {
			return nil, err
		}
	}
	if rn.Disabled {
		if err := sequencer.Disable(root); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// DecodeItem builds a single item or container, for inserting templates into a tree.
func (d *Decoder) DecodeItem(n *Node) (sequencer.Item, error) {
	return d.decodeItem(n, n.Name)
}

func (d *Decoder) fillContainer(c *sequencer.Container, n *Node, path string) error {
	c.SetTarget(n.Target)
	c.SetTriggerFailureFatal(n.TriggerFailureFatal)
	for i, cn := range n.Conditions {
		cond, err := d.decodeCondition(cn, fmt.Sprintf("%s/conditions[%d]", path, i))
		if err != nil {
			return err
		}
		if err := c.AddCondition(cond); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	for i, tn := range n.Triggers {
		t, err := d.decodeTrigger(tn, fmt.Sprintf("%s/triggers[%d]", path, i))
		if err != nil {
			return err
		}
		if err := c.AddTrigger(t); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	for i, in := range n.Items {
		it, err := d.decodeItem(in, fmt.Sprintf("%s/items[%d]", path, i))
		if err != nil {
			return err
		}
		if err := c.Add(it); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func (d *Decoder) decodeItem(n *Node, path string) (sequencer.Item, error) {
	e, err := d.build(n, path, KindItem, KindContainer)
	if err != nil {
		return nil, err
	}
	var it sequencer.Item
	switch v := e.(type) {
	case nil:
		it = NewUnknownItem(n)
	case sequencer.Item:
		it = v
	default:
		return nil, fmt.Errorf("%s: type %s does not build an item", path, n.Type)
	}

	if n.ErrorBehavior != "" {
		eb := sequencer.ErrorBehavior(n.ErrorBehavior)
		if err := eb.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		it.SetErrorBehavior(eb)
	}
	if n.Attempts != 0 {
		it.SetAttempts(n.Attempts)
	}
	if c, ok := it.(*sequencer.Container); ok {
		if err := d.fillContainer(c, n, path); err != nil {
			return nil, err
		}
	} else if len(n.Items)+len(n.Conditions)+len(n.Triggers) > 0 && e != nil {
		return nil, fmt.Errorf("%s: %s cannot hold child nodes", path, n.Type)
	}
	return it, d.finish(it, n, path)
}

func (d *Decoder) decodeCondition(n *Node, path string) (sequencer.Condition, error) {
	e, err := d.build(n, path, KindCondition)
	if err != nil {
		return nil, err
	}
	var cond sequencer.Condition
	switch v := e.(type) {
	case nil:
		cond = NewUnknownCondition(n)
	case sequencer.Condition:
		cond = v
	default:
		return nil, fmt.Errorf("%s: type %s does not build a condition", path, n.Type)
	}
	return cond, d.finish(cond, n, path)
}

func (d *Decoder) decodeTrigger(n *Node, path string) (sequencer.Trigger, error) {
	e, err := d.build(n, path, KindTrigger)
	if err != nil {
		return nil, err
	}
	var t sequencer.Trigger
	switch v := e.(type) {
	case nil:
		t = NewUnknownTrigger(n)
	case sequencer.Trigger:
		t = v
	default:
		return nil, fmt.Errorf("%s: type %s does not build a trigger", path, n.Type)
	}
	if e != nil {
		runner := t.TriggerRunner()
		for i, sn := range n.Steps {
			step, err := d.decodeItem(sn, fmt.Sprintf("%s/steps[%d]", path, i))
			if err != nil {
				return nil, err
			}
			if err := runner.Add(step); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	return t, d.finish(t, n, path)
}

// build returns nil without an error for unregistered types.
func (d *Decoder) build(n *Node, path string, kinds ...Kind) (sequencer.Entity, error) {
	if n == nil {
		return nil, fmt.Errorf("%s: empty node", path)
	}
	if n.Type == "" {
		return nil, fmt.Errorf("%s: node has no type", path)
	}
	f, ok := d.registry.Lookup(n.Type)
	if !ok {
		d.deps.Logger.Warn().Str("type", n.Type).Str("path", path).Msg("Unknown node type, keeping placeholder")
		return nil, nil
	}
	if !kindIn(f.Kind, kinds) {
		return nil, fmt.Errorf("%s: %s is a %s and cannot be used here", path, n.Type, f.Kind)
	}

	e := f.New(metadataOf(n), d.deps)
	if cfg, ok := e.(sequencer.Configurable); ok {
		if err := DecodeProperties(n.Properties, cfg.Properties()); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else if len(n.Properties) > 0 {
		return nil, fmt.Errorf("%s: %s takes no properties", path, n.Type)
	}
	return e, nil
}

func (d *Decoder) finish(e sequencer.Entity, n *Node, path string) error {
	if s, ok := e.(idSetter); ok {
		s.SetID(n.ID)
	}
	if n.Disabled {
		if err := sequencer.Disable(e); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func kindIn(k Kind, kinds []Kind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// LoadFile reads and decodes a plan file.
func (d *Decoder) LoadFile(path string) (*Document, *sequencer.RootContainer, error) {
	doc, err := ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	root, err := d.Decode(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, root, nil
}

// Decode builds a runnable tree from doc with the built-in registry.
func Decode(doc *Document, deps Deps) (*sequencer.RootContainer, error) {
	return NewDecoder(nil, deps).Decode(doc)
}
