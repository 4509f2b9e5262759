// Package unit defines the executable units drained by the dispatch loop and the
// failure kinds they report.
//
// Every unit self-reports a stable Kind and every failure that wants to be matched
// by the recovery registry self-reports a FailureKind. Kinds are plain string tags;
// no reflection is involved in matching.
//
// Built-in units:
//   - RetryOnce / RetryTwice: run a wrapped unit once more and re-kind its failure
//     to retry_escalation so the next stage can be matched separately
//   - Log: hand a captured failure to a logging callback
//   - EnqueueFront: push another unit to the front of the queue
//
// RetryOnce and RetryTwice behave identically. They differ only in kind, which lets
// a caller build an escalation ladder out of single-attempt wrappers.
package unit
