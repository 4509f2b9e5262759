// Package recovery maps (unit kind, failure kind) pairs to the strategies that
// react to a failed unit, usually by pushing a follow-up unit to the queue front.
package recovery
