package plan

import (
	"fmt"

	"github.com/openfroyo/skyrun/pkg/sequencer"
)

// Encode converts a tree into a document. Placeholders of unknown types are written
// back exactly as they were read.
func Encode(root *sequencer.RootContainer, name string) (*Document, error) {
	rn, err := encodeContainer(root.Container, TypeRootContainer)
	if err != nil {
		return nil, err
	}
	for _, it := range root.EndArea().Items() {
		n, err := EncodeNode(it)
		if err != nil {
			return nil, err
		}
		rn.End = append(rn.End, n)
	}
	if name == "" {
		name = root.Name()
	}
	return &Document{
		Version:     FormatVersion,
		Name:        name,
		Description: root.Description(),
		Root:        rn,
	}, nil
}

// EncodeNode converts one entity and its descendants.
func EncodeNode(e sequencer.Entity) (*Node, error) {
	if u, ok := e.(Unknown); ok {
		return u.RawNode(), nil
	}
	if c, ok := e.(*sequencer.Container); ok {
		return encodeContainer(c, c.TypeID())
	}

	n, err := baseNode(e, sequencer.TypeOf(e))
	if err != nil {
		return nil, err
	}
	if t, ok := e.(sequencer.Trigger); ok {
		for _, step := range t.TriggerRunner().Items() {
			sn, err := EncodeNode(step)
			if err != nil {
				return nil, err
			}
			n.Steps = append(n.Steps, sn)
		}
	}
	return n, nil
}

func encodeContainer(c *sequencer.Container, typ string) (*Node, error) {
	n, err := baseNode(c, typ)
	if err != nil {
		return nil, err
	}
	if t, ok := c.Target(); ok {
		n.Target = &t
	}
	n.TriggerFailureFatal = c.TriggerFailureFatal()
	for _, cond := range c.Conditions() {
		cn, err := EncodeNode(cond)
		if err != nil {
			return nil, err
		}
		n.Conditions = append(n.Conditions, cn)
	}
	for _, t := range c.Triggers() {
		tn, err := EncodeNode(t)
		if err != nil {
			return nil, err
		}
		n.Triggers = append(n.Triggers, tn)
	}
	for _, it := range c.Items() {
		in, err := EncodeNode(it)
		if err != nil {
			return nil, err
		}
		n.Items = append(n.Items, in)
	}
	return n, nil
}

func baseNode(e sequencer.Entity, typ string) (*Node, error) {
	meta := e.Metadata()
	n := &Node{
		ID:          e.ID(),
		Type:        typ,
		Name:        meta.Name,
		Description: meta.Description,
		Category:    meta.Category,
		Icon:        meta.Icon,
		Disabled:    e.Status() == sequencer.StatusDisabled,
	}
	if it, ok := e.(sequencer.Item); ok {
		if eb := it.ErrorBehavior(); eb != sequencer.ContinueOnError {
			n.ErrorBehavior = string(eb)
		}
		if a := it.Attempts(); a > 1 {
			n.Attempts = a
		}
	}
	if cfg, ok := e.(sequencer.Configurable); ok {
		props, err := EncodeProperties(cfg.Properties())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sequencer.Path(e), err)
		}
		n.Properties = props
	}
	return n, nil
}
