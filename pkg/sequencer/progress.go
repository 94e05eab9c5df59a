package sequencer

import (
	"sync/atomic"
	"time"
)

// Progress is a status report pushed by items and containers.
type Progress struct {
	EntityID string    `json:"entity_id"`
	Entity   string    `json:"entity"`
	Status   Status    `json:"status"`
	Message  string    `json:"message,omitempty"`
	Current  int       `json:"current,omitempty"`
	Total    int       `json:"total,omitempty"`
	At       time.Time `json:"at"`
}

// ProgressSink accepts progress reports. Implementations must never block indefinitely.
type ProgressSink interface {
	Report(p Progress)
}

// NopSink discards every report.
type NopSink struct{}

// Report implements ProgressSink.
func (NopSink) Report(Progress) {}

// FuncSink adapts a function to ProgressSink.
type FuncSink func(Progress)

// Report implements ProgressSink.
func (f FuncSink) Report(p Progress) { f(p) }

// ChannelSink forwards reports to a buffered channel and drops them when it is full.
type ChannelSink struct {
	ch      chan Progress
	dropped atomic.Int64
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan Progress, size)}
}

// Report implements ProgressSink.
func (s *ChannelSink) Report(p Progress) {
	select {
	case s.ch <- p:
	default:
		s.dropped.Add(1)
	}
}

// C returns the receive side of the sink.
func (s *ChannelSink) C() <-chan Progress {
	return s.ch
}

// Dropped returns how many reports were discarded.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Report sends a progress value for an entity, filling identity and time.
func Report(sink ProgressSink, e Entity, message string, current, total int) {
	if sink == nil {
		return
	}
	sink.Report(Progress{
		EntityID: e.ID(),
		Entity:   e.Name(),
		Status:   e.Status(),
		Message:  message,
		Current:  current,
		Total:    total,
		At:       time.Now(),
	})
}
