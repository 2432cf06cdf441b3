// Package eventstest provides a Publisher that records what was published.
package eventstest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/mcdev12/scoreboard/go/internal/events"
)

// Recorder is a thread-safe events.Publisher for tests.
type Recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *Recorder) Publish(_ context.Context, ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.Event(nil), r.events...)
}

// InRoom returns the events published to room.
func (r *Recorder) InRoom(room string) []*events.Event {
	var out []*events.Event
	for _, ev := range r.Events() {
		if ev.Room == room {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Decode unmarshals an event payload or fails the test.
func Decode[T any](t testing.TB, ev *events.Event) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(ev.Data, &out); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Type, err)
	}
	return out
}
