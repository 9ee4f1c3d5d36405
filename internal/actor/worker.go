// Package actor provides the generic worker scaffold used by every
// long-lived component in camctl: a mailbox-owning goroutine with an
// initialize → receive-loop → shutdown lifecycle.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bmitc/camctl/internal/mailbox"
)

// Handler is the behavior a Worker runs. Implementations own whatever state
// the worker manages; the worker guarantees all four methods are invoked from
// the single goroutine running Run, so handler state needs no locking.
type Handler[M, R any] interface {
	// Initialize performs any setup that does real work (opening
	// connections and the like). It runs before any message is received.
	Initialize(ctx context.Context) error

	// HandleMessage processes one fire-and-forget message. Returning a
	// non-nil error is fatal: the worker's loop ends and Shutdown runs.
	HandleMessage(ctx context.Context, msg M) error

	// HandleSyncMessage processes one synchronous message. It is
	// responsible for depositing exactly one reply into the channel, even
	// on failure paths, so the sender is never left waiting by a handler
	// that accepted the message.
	HandleSyncMessage(ctx context.Context, msg M, reply *mailbox.ReplyChannel[R]) error

	// Shutdown releases the handler's resources. The worker guarantees it
	// runs exactly once, whether the loop ended cooperatively, through a
	// handler error, or through a panic.
	Shutdown(ctx context.Context) error
}

// Worker owns a mailbox and drives a Handler through its lifecycle. Sends are
// the only safe way to interact with a running worker from other goroutines.
//
// A worker is terminal after Run returns: it does not restart itself. The
// owner observes Run's result and decides whether to build a replacement,
// surface the error, or shut the system down.
type Worker[M, R any] struct {
	name    string
	handler Handler[M, R]
	inbox   *mailbox.Mailbox[M, R]

	running     atomic.Bool
	initialized atomic.Bool
	shutdown    atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a worker for the given handler. Run must be called exactly once
// to bring it to life.
func New[M, R any](name string, handler Handler[M, R]) *Worker[M, R] {
	w := &Worker[M, R]{
		name:    name,
		handler: handler,
		inbox:   mailbox.New[M, R](name),
		stopCh:  make(chan struct{}),
	}
	w.running.Store(true)
	return w
}

// Name returns the worker's identifier, used in logs.
func (w *Worker[M, R]) Name() string { return w.name }

// Inbox exposes the worker's mailbox for callers that need to hold it
// directly. Most callers should use Send and SendSync instead.
func (w *Worker[M, R]) Inbox() *mailbox.Mailbox[M, R] { return w.inbox }

// Send enqueues a fire-and-forget message for the worker.
func (w *Worker[M, R]) Send(msg M) { w.inbox.Send(msg) }

// SendSync enqueues a message and blocks until the worker replies or ctx is
// done. Callers that need bounded waiting put a deadline on ctx.
func (w *Worker[M, R]) SendSync(ctx context.Context, msg M) (R, error) {
	return w.inbox.SendSync(ctx, msg)
}

// IsInitialized reports whether the Initialize hook has completed.
func (w *Worker[M, R]) IsInitialized() bool { return w.initialized.Load() }

// IsShutdown reports whether the Shutdown hook has completed.
func (w *Worker[M, R]) IsShutdown() bool { return w.shutdown.Load() }

// ScheduleShutdown requests cooperative termination. The receive loop
// observes the request at the top of its next iteration, so a message already
// being processed finishes first. Idempotent: calling it any number of times
// has the effect of calling it once.
func (w *Worker[M, R]) ScheduleShutdown() {
	w.stopOnce.Do(func() {
		w.running.Store(false)
		close(w.stopCh)
		slog.Debug("worker shutdown scheduled", "worker", w.name)
	})
}

// Run executes the worker lifecycle and blocks until it ends. It returns nil
// when the worker stopped cooperatively (ScheduleShutdown or ctx
// cancellation) and the fatal error otherwise. The handler's Shutdown hook
// runs exactly once on every exit path, including a panicking handler.
func (w *Worker[M, R]) Run(ctx context.Context) (err error) {
	// Only the blocking mailbox read is tied to the shutdown request, so a
	// scheduled shutdown wakes an idle worker. The handlers keep the
	// caller's context: a message already being processed runs to
	// completion before the loop observes the flag.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		select {
		case <-w.stopCh:
			cancelRead()
		case <-readCtx.Done():
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s: handler panic: %v", w.name, r)
		}
		// Cleanup must run even when the surrounding context is the
		// reason the loop ended.
		sdCtx := context.WithoutCancel(ctx)
		if sdErr := w.handler.Shutdown(sdCtx); sdErr != nil {
			slog.Error("worker shutdown hook failed", "worker", w.name, "error", sdErr)
			if err == nil {
				err = fmt.Errorf("worker %s: shutdown: %w", w.name, sdErr)
			}
		}
		w.shutdown.Store(true)
		slog.Debug("worker shut down", "worker", w.name)
	}()

	if initErr := w.handler.Initialize(ctx); initErr != nil {
		return fmt.Errorf("worker %s: initialize: %w", w.name, initErr)
	}
	w.initialized.Store(true)
	slog.Debug("worker initialized", "worker", w.name)

	for w.running.Load() {
		env, readErr := w.inbox.Read(readCtx)
		if readErr != nil {
			if !w.running.Load() || errors.Is(readErr, context.Canceled) {
				// Cooperative stop, requested by ScheduleShutdown
				// or by the owner cancelling the context.
				return nil
			}
			return fmt.Errorf("worker %s: read: %w", w.name, readErr)
		}

		var handleErr error
		if env.Reply != nil {
			handleErr = w.handler.HandleSyncMessage(ctx, env.Msg, env.Reply)
		} else {
			handleErr = w.handler.HandleMessage(ctx, env.Msg)
		}
		if handleErr != nil {
			if errors.Is(handleErr, context.Canceled) && ctx.Err() != nil {
				// The owner cancelled the context mid-message: a
				// cooperative stop, same as a cancelled read.
				return nil
			}
			return fmt.Errorf("worker %s: %w", w.name, handleErr)
		}
	}
	return nil
}
