package coalesce

import (
	"context"
	"fmt"
	"sync"
)

// Handler processes one delivered value. The context is cancelled when the
// dispatcher stops.
type Handler[T any] func(ctx context.Context, v T)

// Logger defines the logging interface used by the Dispatcher.
// This allows the dispatcher to work with any logger implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher delivers the most recent value passed to Send to its handler,
// on a dedicated worker goroutine.
//
// Thread Safety:
//   - Send, Pending and Stop are safe for concurrent use.
type Dispatcher[T any] struct {
	name    string
	handler Handler[T]
	logger  Logger

	mu      sync.Mutex
	value   T
	pending bool
	started bool
	stopped bool

	// wake holds at most one token; a token means "look at the slot".
	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Dispatcher. The name appears in log entries.
func New[T any](name string, handler Handler[T]) *Dispatcher[T] {
	return &Dispatcher[T]{
		name:    name,
		handler: handler,
		logger:  noopLogger{},
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for the dispatcher. Call before Start.
func (d *Dispatcher[T]) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// Start launches the worker. It returns immediately. Cancelling ctx stops
// the worker the same way Stop does. Calling Start more than once, or after
// Stop, has no effect.
func (d *Dispatcher[T]) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.run(workerCtx)
}

// Send deposits v, replacing any value not yet delivered.
func (d *Dispatcher[T]) Send(v T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.value = v
	d.pending = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
		// A wake-up is already queued; the worker will see the new value.
	}
}

// Pending reports whether a value is waiting for delivery.
func (d *Dispatcher[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop halts the worker, waits for any in-flight handler to return and drops
// a pending value. Safe to call multiple times.
func (d *Dispatcher[T]) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.pending = false
		var zero T
		d.value = zero
		started := d.started
		d.mu.Unlock()

		if !started {
			close(d.done)
			return
		}
		d.cancel()
		<-d.done
	})
}

// run is the worker loop: take whatever is in the slot, deliver it, then
// sleep until the next Send.
func (d *Dispatcher[T]) run(ctx context.Context) {
	defer close(d.done)

	for {
		if ctx.Err() != nil {
			return
		}

		if v, ok := d.take(); ok {
			d.deliver(ctx, v)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
	}
}

// take atomically removes the pending value, if any.
func (d *Dispatcher[T]) take() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var zero T
	if !d.pending || d.stopped {
		return zero, false
	}
	v := d.value
	d.value = zero
	d.pending = false
	return v, true
}

// deliver invokes the handler, recovering from panics so that one bad value
// does not kill the worker.
func (d *Dispatcher[T]) deliver(ctx context.Context, v T) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("coalesced handler panicked",
				"dispatcher", d.name,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	d.handler(ctx, v)
}
