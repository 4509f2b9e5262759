package unit

import "context"

// Func is a plain unit backed by a function.
type Func struct {
	kind Kind
	fn   func(ctx context.Context) error
}

// New returns a unit of the given kind that runs fn.
func New(kind Kind, fn func(ctx context.Context) error) *Func {
	return &Func{kind: kind, fn: fn}
}

func (f *Func) Kind() Kind { return f.kind }

func (f *Func) Run(ctx context.Context) error {
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx)
}

// RetryOnce runs its inner unit one more time.
type RetryOnce struct {
	inner Unit
}

func NewRetryOnce(inner Unit) *RetryOnce {
	return &RetryOnce{inner: inner}
}

func (r *RetryOnce) Kind() Kind { return KindRetryOnce }
func (r *RetryOnce) Inner() Unit { return r.inner }

func (r *RetryOnce) Run(ctx context.Context) error {
	return runAttempt(ctx, KindRetryOnce, r.inner)
}

// RetryTwice is RetryOnce under a different kind. It still makes a single
// attempt; "twice" names its rung in an escalation ladder.
type RetryTwice struct {
	inner Unit
}

func NewRetryTwice(inner Unit) *RetryTwice {
	return &RetryTwice{inner: inner}
}

func (r *RetryTwice) Kind() Kind { return KindRetryTwice }
func (r *RetryTwice) Inner() Unit { return r.inner }

func (r *RetryTwice) Run(ctx context.Context) error {
	return runAttempt(ctx, KindRetryTwice, r.inner)
}

// runAttempt runs inner once and re-kinds any failure as an escalation raised by wrapper.
// A panic in inner is a failure too.
func runAttempt(ctx context.Context, wrapper Kind, inner Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EscalationError{Wrapper: wrapper, Err: &PanicError{Value: r}}
		}
	}()
	if err := inner.Run(ctx); err != nil {
		return &EscalationError{Wrapper: wrapper, Err: err}
	}
	return nil
}

// Log hands a captured failure to a logging callback.
type Log struct {
	err error
	fn  LogFunc
}

func NewLog(err error, fn LogFunc) *Log {
	return &Log{err: err, fn: fn}
}

func (l *Log) Kind() Kind { return KindLog }
func (l *Log) Err() error { return l.err }

func (l *Log) Run(context.Context) error {
	if l.fn != nil {
		l.fn(l.err)
	}
	return nil
}

// EnqueueFront pushes another unit to the front of the queue when run.
type EnqueueFront struct {
	q    FrontPusher
	next Unit
}

func NewEnqueueFront(q FrontPusher, next Unit) *EnqueueFront {
	return &EnqueueFront{q: q, next: next}
}

func (e *EnqueueFront) Kind() Kind { return KindEnqueueFront }

func (e *EnqueueFront) Run(context.Context) error {
	e.q.PushFront(e.next)
	return nil
}
