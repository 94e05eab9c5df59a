package plan

import (
	"context"
	"fmt"

	"github.com/openfroyo/skyrun/pkg/sequencer"
)

func unknownIssue(typ string) string {
	return fmt.Sprintf("unknown instruction %q", typ)
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := sequencer.CloneValue(*n)
	return &c
}

// Unknown is implemented by the placeholders of unregistered node types.
type Unknown interface {
	RawNode() *Node
}

// UnknownItem stands in for an item of an unregistered type.
type UnknownItem struct {
	*sequencer.ItemBase
	raw *Node
}

// NewUnknownItem creates the placeholder for raw.
func NewUnknownItem(raw *Node) *UnknownItem {
	return &UnknownItem{ItemBase: sequencer.NewItemBase(metadataOf(raw)), raw: raw}
}

func (u *UnknownItem) TypeID() string     { return u.raw.Type }
func (u *UnknownItem) RawNode() *Node     { return u.raw }
func (u *UnknownItem) Validate() []string { return []string{unknownIssue(u.raw.Type)} }

// Execute always fails validation.
func (u *UnknownItem) Execute(context.Context, sequencer.ProgressSink) error {
	return sequencer.NewValidationError(unknownIssue(u.raw.Type), u.Validate())
}

// Clone implements sequencer.Item.
func (u *UnknownItem) Clone() sequencer.Item {
	return &UnknownItem{ItemBase: u.CloneItemBase(), raw: cloneNode(u.raw)}
}

// UnknownCondition stands in for a condition of an unregistered type. It never holds.
type UnknownCondition struct {
	*sequencer.ConditionBase
	raw *Node
}

// NewUnknownCondition creates the placeholder for raw.
func NewUnknownCondition(raw *Node) *UnknownCondition {
	return &UnknownCondition{ConditionBase: sequencer.NewConditionBase(metadataOf(raw)), raw: raw}
}

func (u *UnknownCondition) TypeID() string                 { return u.raw.Type }
func (u *UnknownCondition) RawNode() *Node                 { return u.raw }
func (u *UnknownCondition) Validate() []string             { return []string{unknownIssue(u.raw.Type)} }
func (u *UnknownCondition) Check(_, _ sequencer.Item) bool { return false }

// Clone implements sequencer.Condition.
func (u *UnknownCondition) Clone() sequencer.Condition {
	return &UnknownCondition{ConditionBase: u.CloneConditionBase(), raw: cloneNode(u.raw)}
}

// UnknownTrigger stands in for a trigger of an unregistered type. It never fires.
type UnknownTrigger struct {
	*sequencer.TriggerBase
	raw *Node
}

// NewUnknownTrigger creates the placeholder for raw.
func NewUnknownTrigger(raw *Node) *UnknownTrigger {
	return &UnknownTrigger{TriggerBase: sequencer.NewTriggerBase(metadataOf(raw)), raw: raw}
}

func (u *UnknownTrigger) TypeID() string                              { return u.raw.Type }
func (u *UnknownTrigger) RawNode() *Node                              { return u.raw }
func (u *UnknownTrigger) Validate() []string                          { return []string{unknownIssue(u.raw.Type)} }
func (u *UnknownTrigger) ShouldTrigger(_, _ sequencer.Item) bool      { return false }
func (u *UnknownTrigger) ShouldTriggerAfter(_, _ sequencer.Item) bool { return false }

// Clone implements sequencer.Trigger.
func (u *UnknownTrigger) Clone() sequencer.Trigger {
	return &UnknownTrigger{TriggerBase: u.CloneTriggerBase(), raw: cloneNode(u.raw)}
}

func metadataOf(n *Node) sequencer.Metadata {
	return sequencer.Metadata{
		Name:        n.Name,
		Description: n.Description,
		Category:    n.Category,
		Icon:        n.Icon,
	}
}
