package recovery

import (
	"log/slog"
	"sort"

	"github.com/mattjoyce/redispatch/internal/log"
	"github.com/mattjoyce/redispatch/internal/unit"
)

//go:generate mockgen -destination=mocks/mock_strategy.go -package=mocks github.com/mattjoyce/redispatch/internal/recovery Strategy

// Strategy decides which units, if any, to enqueue in response to a failure.
type Strategy interface {
	Handle(p Pair)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(p Pair)

func (f StrategyFunc) Handle(p Pair) { f(p) }

// Registry maps failure kind pairs to strategies, with an optional default.
//
// Failures that match no entry and no default are dropped. Callers that need
// them surfaced must configure a default strategy.
type Registry struct {
	strategies map[Key]Strategy
	fallback   Strategy
	logger     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefault sets the strategy used when no exact entry matches.
func WithDefault(s Strategy) Option {
	return func(r *Registry) { r.fallback = s }
}

// WithLogger overrides the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		strategies: make(map[Key]Strategy),
		logger:     log.WithComponent("recovery"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds s to the (unitKind, failureKind) pair, replacing any previous
// entry. A nil s removes the entry.
func (r *Registry) Register(unitKind unit.Kind, failureKind unit.FailureKind, s Strategy) {
	key := Key{Unit: unitKind, Failure: failureKind}
	if s == nil {
		delete(r.strategies, key)
		return
	}
	r.strategies[key] = s
}

// Lookup returns the strategy registered for key, ignoring the default.
func (r *Registry) Lookup(key Key) (Strategy, bool) {
	s, ok := r.strategies[key]
	return s, ok
}

// Keys returns the registered keys in a stable order.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.strategies))
	for k := range r.strategies {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Unit != keys[j].Unit {
			return keys[i].Unit < keys[j].Unit
		}
		return keys[i].Failure < keys[j].Failure
	})
	return keys
}

// HasDefault reports whether a default strategy is configured.
func (r *Registry) HasDefault() bool {
	return r.fallback != nil
}

// Default returns the fallback strategy, or nil when none is configured.
func (r *Registry) Default() Strategy {
	return r.fallback
}

// Handle routes p to its strategy. It reports false when the failure was dropped.
func (r *Registry) Handle(p Pair) bool {
	key := p.Key()
	if s, ok := r.strategies[key]; ok {
		r.logger.Debug("strategy matched", "key", key.String())
		s.Handle(p)
		return true
	}
	if r.fallback != nil {
		r.logger.Debug("default strategy applied", "key", key.String())
		r.fallback.Handle(p)
		return true
	}
	r.logger.Debug("no strategy for failure", "key", key.String(), "error", p.Err())
	return false
}
