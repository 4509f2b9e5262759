// Package queue holds the work queue drained by the dispatch loop.
//
// Host units are normally pushed to the back; recovery units are pushed to the
// front so that a failing unit's recovery resolves before earlier-queued siblings.
// A Queue is owned by one dispatch session and is not safe for concurrent use.
package queue

import (
	list "github.com/bahlo/generic-list-go"

	"github.com/mattjoyce/redispatch/internal/unit"
)

// Queue is a double-ended sequence of units.
type Queue struct {
	items *list.List[unit.Unit]
}

var _ unit.FrontPusher = (*Queue)(nil)

// New returns a queue seeded with units in order.
func New(units ...unit.Unit) *Queue {
	q := &Queue{items: list.New[unit.Unit]()}
	for _, u := range units {
		q.PushBack(u)
	}
	return q
}

// PushFront inserts u ahead of every queued unit.
func (q *Queue) PushFront(u unit.Unit) {
	if u == nil {
		return
	}
	q.items.PushFront(u)
}

// PushBack appends u behind every queued unit.
func (q *Queue) PushBack(u unit.Unit) {
	if u == nil {
		return
	}
	q.items.PushBack(u)
}

// PopFront removes and returns the front unit. ok is false when the queue is empty.
func (q *Queue) PopFront() (u unit.Unit, ok bool) {
	front := q.items.Front()
	if front == nil {
		return nil, false
	}
	return q.items.Remove(front), true
}

func (q *Queue) Len() int {
	return q.items.Len()
}

// Kinds returns the kinds of queued units, front first.
func (q *Queue) Kinds() []unit.Kind {
	out := make([]unit.Kind, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.Kind())
	}
	return out
}
