package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Sink receives turn events in emission order. Implementations must be safe
// for concurrent use; writes from multiple producers are serialized so the
// client observes one total order.
type Sink interface {
	Write(event Event) error
}

// SSESink streams events to an HTTP client as Server-Sent Events.
// Each event is one JSON object in a data frame, flushed immediately so
// deltas reach the client mid-generation.
type SSESink struct {
	mu      sync.Mutex
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewSSESink prepares the response for event streaming and returns the sink.
// The context is the request's: once the client disconnects, every
// subsequent Write fails so producers stop emitting. Fails if the
// underlying writer cannot flush.
func NewSSESink(ctx context.Context, w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &SSESink{ctx: ctx, w: w, flusher: flusher}, nil
}

// Write serializes the event and flushes it to the client.
// Fails once the request context is done; already-issued persistence
// writes are unaffected, only emission stops.
func (s *SSESink) Write(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("client disconnected: %w", err)
	}

	s.started = true
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing event frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Started reports whether any event has been written to the response.
func (s *SSESink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// MemorySink records events in order. Intended for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty recording sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the event to the recorded sequence.
func (s *MemorySink) Write(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the recorded sequence.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns just the event types, in order.
func (s *MemorySink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.events))
	for i, e := range s.events {
		types[i] = e.Type
	}
	return types
}
