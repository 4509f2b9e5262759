// Package events keeps a bounded, in-order record of what the dispatch loop did.
package events

import (
	"time"
)

// Event types recorded by the dispatch loop.
const (
	UnitSucceeded  = "unit.succeeded"
	UnitFailed     = "unit.failed"
	FailureHandled = "failure.handled"
	FailureDropped = "failure.dropped"
	QueueDrained   = "queue.drained"
)

type Event struct {
	ID      int64     `json:"id"`
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Unit    string    `json:"unit,omitempty"`
	Failure string    `json:"failure,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Trail is a ring buffer of events. It is written from the dispatch goroutine
// only and is not safe for concurrent use.
type Trail struct {
	nextID int64
	ring   []Event
	start  int
	size   int
}

func NewTrail(capacity int) *Trail {
	if capacity <= 0 {
		capacity = 256
	}
	return &Trail{ring: make([]Event, capacity)}
}

// Record appends an event, overwriting the oldest one when full.
func (t *Trail) Record(ev Event) Event {
	t.nextID++
	ev.ID = t.nextID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	t.push(ev)
	return ev
}

// Since returns buffered events with ID > lastID, oldest first.
func (t *Trail) Since(lastID int64) []Event {
	out := make([]Event, 0, t.size)
	for i := 0; i < t.size; i++ {
		ev := t.ring[(t.start+i)%len(t.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Types returns the recorded event types, oldest first.
func (t *Trail) Types() []string {
	evs := t.Since(0)
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func (t *Trail) push(ev Event) {
	capacity := len(t.ring)
	if t.size < capacity {
		t.ring[(t.start+t.size)%capacity] = ev
		t.size++
		return
	}

	// Overwrite oldest.
	t.ring[t.start] = ev
	t.start = (t.start + 1) % capacity
}
