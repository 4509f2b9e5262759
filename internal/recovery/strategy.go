package recovery

import "github.com/mattjoyce/redispatch/internal/unit"

// Name identifies a built-in strategy in configuration.
type Name string

const (
	NameLog        Name = "log"
	NameRetryOnce  Name = "retry_once"
	NameRetryTwice Name = "retry_twice"
)

// LogStrategy queues a Log unit carrying the failure.
type LogStrategy struct {
	q  unit.FrontPusher
	fn unit.LogFunc
}

func NewLogStrategy(q unit.FrontPusher, fn unit.LogFunc) *LogStrategy {
	return &LogStrategy{q: q, fn: fn}
}

func (s *LogStrategy) Name() Name { return NameLog }

func (s *LogStrategy) Handle(p Pair) {
	s.q.PushFront(unit.NewLog(p.Err(), s.fn))
}

// RetryOnceStrategy queues the failed unit wrapped in RetryOnce.
type RetryOnceStrategy struct {
	q unit.FrontPusher
}

func NewRetryOnceStrategy(q unit.FrontPusher) *RetryOnceStrategy {
	return &RetryOnceStrategy{q: q}
}

func (s *RetryOnceStrategy) Name() Name { return NameRetryOnce }

func (s *RetryOnceStrategy) Handle(p Pair) {
	s.q.PushFront(unit.NewRetryOnce(p.Source()))
}

// RetryTwiceStrategy queues the failed unit wrapped in RetryTwice.
type RetryTwiceStrategy struct {
	q unit.FrontPusher
}

func NewRetryTwiceStrategy(q unit.FrontPusher) *RetryTwiceStrategy {
	return &RetryTwiceStrategy{q: q}
}

func (s *RetryTwiceStrategy) Name() Name { return NameRetryTwice }

func (s *RetryTwiceStrategy) Handle(p Pair) {
	s.q.PushFront(unit.NewRetryTwice(p.Source()))
}

// Builtin returns the named built-in strategy bound to q. fn is only used by NameLog.
func Builtin(name Name, q unit.FrontPusher, fn unit.LogFunc) (Strategy, bool) {
	switch name {
	case NameLog:
		return NewLogStrategy(q, fn), true
	case NameRetryOnce:
		return NewRetryOnceStrategy(q), true
	case NameRetryTwice:
		return NewRetryTwiceStrategy(q), true
	default:
		return nil, false
	}
}
