// Package dispatch drains a work queue and routes unit failures to a recovery handler.
//
// The dispatcher pops units from the front of the queue and runs them one at a time.
// It never retries a unit itself: every failure becomes a recovery.Pair handed to
// the handler, whose strategies push follow-up units back onto the queue front.
//
// Key features:
//   - Serial drain, one unit at a time, until the queue is empty
//   - Front-inserted recovery units run before earlier-queued siblings
//   - Panicking units are recovered and reported as unit.FailurePanic
//   - Unit failures never escape Run; only context cancellation does
//
// Error handling:
//   - Unit succeeds → next unit
//   - Unit fails → Pair built from (unit kind, failure kind) → handler
//   - No strategy and no default → failure dropped, drain continues
package dispatch
