// Package eventloop provides the single logical thread of control that owns
// command dispatch and preview state. Chat messages, timer expirations and the
// continuations of off-loop work are all posted to one goroutine, so state
// touched only from that goroutine needs no locking.
package eventloop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled before it fires.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// callback was still pending.
	Stop() bool
}

// Scheduler is the subset of the loop used by components that schedule work.
// Tests substitute a manual implementation.
type Scheduler interface {
	// Post queues fn to run on the loop.
	Post(fn func())
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Async runs work off the loop and posts the continuation it returns
	// (if non-nil) back onto the loop.
	Async(work func() func())
}

// Loop is a FIFO event loop backed by a buffered channel.
type Loop struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// New returns a loop with room for size queued events before Post blocks.
func New(size int) *Loop {
	if size <= 0 {
		size = 256
	}
	return &Loop{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Post queues fn. Events posted before Run starts are kept and processed in
// order once it does. Posting after the loop stopped drops fn.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

// Run processes events until ctx is cancelled. Panics inside an event are
// recovered and logged so one bad handler cannot stop the loop.
func (l *Loop) Run(ctx context.Context) {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event loop handler panicked", slog.Any("panic", r), slog.String("component", "eventloop"))
		}
	}()
	fn()
}

func (l *Loop) stop() {
	l.once.Do(func() { close(l.done) })
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Wait blocks until all Async work started on this loop has finished.
func (l *Loop) Wait() { l.wg.Wait() }

// AfterFunc schedules fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Async runs work on its own goroutine and posts the returned continuation.
func (l *Loop) Async(work func() func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if then := work(); then != nil {
			l.Post(then)
		}
	}()
}

var _ Scheduler = (*Loop)(nil)
