package api

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/openfroyo/skyrun/pkg/telemetry"
)

const streamBuffer = 64

// StreamManager fans telemetry events out to server-sent event clients.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan telemetry.Event]struct{}
	closed      bool
}

// NewStreamManager creates an empty manager.
func NewStreamManager() *StreamManager {
	return &StreamManager{subscribers: make(map[chan telemetry.Event]struct{})}
}

// Subscribe registers a client. The returned function unregisters it and closes the
// channel.
func (sm *StreamManager) Subscribe() (<-chan telemetry.Event, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan telemetry.Event, streamBuffer)
	if sm.closed {
		close(ch)
		return ch, func() {}
	}
	sm.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if _, ok := sm.subscribers[ch]; ok {
				delete(sm.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers an event to every client. Slow clients lose events.
func (sm *StreamManager) Publish(event telemetry.Event) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for ch := range sm.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close disconnects every client.
func (sm *StreamManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closed = true
	for ch := range sm.subscribers {
		close(ch)
		delete(sm.subscribers, ch)
	}
}

// Count returns the number of connected clients.
func (sm *StreamManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers)
}

// events streams telemetry events as server-sent events. The optional "types" query
// parameter is a comma separated list of event types to keep.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming not supported"})
		return
	}

	var filter telemetry.EventFilter
	if types := r.URL.Query().Get("types"); types != "" {
		filter = telemetry.FilterByType(strings.Split(types, ",")...)
	}

	ch, unsubscribe := s.streams.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if filter != nil && !filter(event) {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn().Err(err).Str("event", event.Type).Msg("Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
