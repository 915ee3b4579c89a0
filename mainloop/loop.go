// Package mainloop provides the single cooperative execution context that
// owns the scene. Session goroutines enqueue work with Submit and never
// block; exactly one goroutine, the one inside Run, drains the queue.
package mainloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CommonSenseMachines/blender-mcp/logger"
)

// ErrStopped is returned when work is submitted to a stopped loop.
var ErrStopped = errors.New("main loop stopped")

// Scheduler runs scene work on the scene-owning context and waits for it.
type Scheduler interface {
	Do(ctx context.Context, fn func() error) error
}

// Inline is a Scheduler that runs work on the calling goroutine. It is used
// when the caller already owns the scene, such as in tests.
type Inline struct{}

func (Inline) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// Loop is an unbounded FIFO work queue drained by one goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	running bool

	wake chan struct{} // capacity 1, signalled on Submit and Stop
	done chan struct{} // closed when Run returns
	log  *slog.Logger
}

// New creates a loop. Call Run to start draining it.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  logger.WithComponent("mainloop"),
	}
}

// Submit enqueues task without blocking. Tasks run in submission order.
func (l *Loop) Submit(task func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	l.signal()
	return nil
}

// Do enqueues fn and waits for it to finish, or for ctx to be done. It must
// not be called from a task running on the loop.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	err := l.Submit(func() {
		if ctx.Err() != nil {
			errCh <- ctx.Err()
			return
		}
		errCh <- call(fn)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// Run may have exited after executing our task
		select {
		case err := <-errCh:
			return err
		default:
			return ErrStopped
		}
	}
}

// Run drains the queue until ctx is done or Stop is called. Tasks still
// queued at that point are dropped. A panicking task is logged and does not
// stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("main loop already running")
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	l.log.Debug("main loop started")
	for {
		task, ok := l.next()
		if ok {
			l.run(task)
			continue
		}

		l.mu.Lock()
		stopped := l.stopped
		l.mu.Unlock()
		if stopped {
			l.drop()
			l.log.Debug("main loop stopped")
			return nil
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.Stop()
			l.drop()
			l.log.Debug("main loop context done")
			return ctx.Err()
		}
	}
}

// Stop prevents further submissions and makes Run return once the current
// task finishes. Safe to call multiple times.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.signal()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) drop() {
	l.mu.Lock()
	n := len(l.queue)
	l.queue = nil
	l.mu.Unlock()
	if n > 0 {
		l.log.Warn("dropping queued tasks on shutdown", "count", n)
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}

// call runs fn, reporting a panic as an error so Do callers are released.
func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
