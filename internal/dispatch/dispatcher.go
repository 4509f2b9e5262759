package dispatch

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/redispatch/internal/events"
	"github.com/mattjoyce/redispatch/internal/log"
	"github.com/mattjoyce/redispatch/internal/queue"
	"github.com/mattjoyce/redispatch/internal/recovery"
	"github.com/mattjoyce/redispatch/internal/unit"
)

// Handler receives failure pairs. It reports false when the failure was dropped.
// *recovery.Registry implements it.
type Handler interface {
	Handle(p recovery.Pair) bool
}

var _ Handler = (*recovery.Registry)(nil)

// Stats summarizes one drain.
type Stats struct {
	Executed  int `json:"executed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Handled   int `json:"handled"`
	Dropped   int `json:"dropped"`
}

// Dispatcher runs units from a queue and delegates failures to a Handler.
type Dispatcher struct {
	logger *slog.Logger
	trail  *events.Trail
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTrail records dispatch events into t.
func WithTrail(t *events.Trail) Option {
	return func(d *Dispatcher) { d.trail = t }
}

// New creates a new Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{logger: log.WithComponent("dispatch")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute drains q with a default Dispatcher.
func Execute(ctx context.Context, q *queue.Queue, h Handler) (Stats, error) {
	return New().Run(ctx, q, h)
}

// Run drains q until it is empty. It returns a non-nil error only when ctx is
// cancelled; unit failures are always routed to h.
func (d *Dispatcher) Run(ctx context.Context, q *queue.Queue, h Handler) (Stats, error) {
	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("drain interrupted", "remaining", q.Len(), "error", err)
			return stats, err
		}

		u, ok := q.PopFront()
		if !ok {
			break
		}
		stats.Executed++

		err := runUnit(ctx, u)
		if err == nil {
			stats.Succeeded++
			d.logger.Debug("unit succeeded", "unit", u.Kind())
			d.record(events.Event{Type: events.UnitSucceeded, Unit: string(u.Kind())})
			continue
		}

		stats.Failed++
		pair := recovery.NewPair(u, err)
		key := pair.Key()
		d.logger.Debug("unit failed", "unit", key.Unit, "failure", key.Failure, "error", err)
		d.record(events.Event{
			Type:    events.UnitFailed,
			Unit:    string(key.Unit),
			Failure: string(key.Failure),
			Error:   err.Error(),
		})

		if h != nil && h.Handle(pair) {
			stats.Handled++
			d.record(events.Event{Type: events.FailureHandled, Unit: string(key.Unit), Failure: string(key.Failure)})
			continue
		}

		stats.Dropped++
		d.logger.Warn("failure dropped", "unit", key.Unit, "failure", key.Failure, "error", err)
		d.record(events.Event{Type: events.FailureDropped, Unit: string(key.Unit), Failure: string(key.Failure)})
	}

	d.logger.Info("queue drained",
		"executed", stats.Executed,
		"failed", stats.Failed,
		"handled", stats.Handled,
		"dropped", stats.Dropped,
	)
	d.record(events.Event{Type: events.QueueDrained})
	return stats, nil
}

// runUnit runs u and converts a panic into a *unit.PanicError.
func runUnit(ctx context.Context, u unit.Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &unit.PanicError{Value: r}
		}
	}()
	return u.Run(ctx)
}

func (d *Dispatcher) record(ev events.Event) {
	if d.trail != nil {
		d.trail.Record(ev)
	}
}
