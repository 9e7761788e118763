package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chiselcad/chisel/internal/task"
)

// State is the executor's observable state.
type State int

const (
	// Idle means no user command is running. The default command (if
	// configured) may be active; it does not count as user work.
	Idle State = iota
	// Active means a user command is running.
	Active
	// Draining means Stop was called: no new submissions, queued
	// commands still run to completion.
	Draining
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("executor stopped")

// Executor runs commands one at a time in submission order.
//
// All command bodies execute in the single Run goroutine, so command
// code touches the scene without further synchronization. Submitting
// while a command is active enqueues; the queue is unbounded.
//
// When no user command is pending the executor runs the default command
// (typically selection). A new submission preempts the default, which is
// restarted once the queue drains again.
type Executor struct {
	queue      *commandQueue
	log        *slog.Logger
	defaultCmd func() Command

	mu      sync.Mutex
	running State // Idle or Active; Draining derived from stopped
	active  *Handle
	stopped bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaultCommand installs a factory for the command run whenever the
// queue is empty. The command must block on its context; it is cancelled
// to make way for submissions.
func WithDefaultCommand(fn func() Command) Option {
	return func(e *Executor) { e.defaultCmd = fn }
}

// WithLogger overrides the executor's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// NewExecutor creates an executor. Call Run to start processing.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		queue: newCommandQueue(),
		log:   slog.Default().With("component", "executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit enqueues a command and returns its handle. If the default
// command is active it is preempted so the submission starts promptly.
// Fails with ErrStopped after Stop.
func (e *Executor) Submit(cmd Command) (*Handle, error) {
	h := &Handle{cmd: cmd, done: make(chan struct{})}
	if !e.queue.Enqueue(h) {
		return nil, ErrStopped
	}

	e.mu.Lock()
	if e.active != nil && e.active.isDefault && e.active.cancel != nil {
		e.active.cancel()
	}
	e.mu.Unlock()

	e.log.Debug("command submitted", "command", cmd.Name(), "queued", e.queue.Len())
	return h, nil
}

// CancelActive cancels the currently running command, if any. The
// command's node cancels its resources before the handle completes.
// Returns false when nothing was running.
func (e *Executor) CancelActive() bool {
	e.mu.Lock()
	h := e.active
	e.mu.Unlock()

	if h == nil || h.cancel == nil {
		return false
	}
	h.cancel()
	return true
}

// State returns the executor's observable state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return Draining
	}
	return e.running
}

// QueueLen returns the number of commands waiting to run.
func (e *Executor) QueueLen() int {
	return e.queue.Len()
}

// Stop rejects further submissions and lets queued commands drain.
// Run returns once the queue is empty.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopped = true
	if e.active != nil && e.active.isDefault && e.active.cancel != nil {
		e.active.cancel()
	}
	e.mu.Unlock()
	e.queue.Close()
}

// Run is the executor loop. It must be called from exactly one
// goroutine; all command bodies execute here. Blocks until ctx is
// cancelled or Stop drains the queue.
func (e *Executor) Run(ctx context.Context) error {
	e.log.Info("executor starting")

	for {
		if err := ctx.Err(); err != nil {
			return e.shutdown(err)
		}

		h, ok := e.queue.TryDequeue()
		if ok {
			e.runCommand(ctx, h)
			continue
		}

		e.mu.Lock()
		stopped := e.stopped
		e.mu.Unlock()
		if stopped && e.queue.Len() == 0 {
			e.log.Info("executor stopping: queue drained")
			return nil
		}

		// Queue empty: hold the default command until preempted.
		if e.defaultCmd != nil && !stopped {
			d := &Handle{cmd: e.defaultCmd(), isDefault: true, done: make(chan struct{})}
			e.runCommand(ctx, d)
			continue
		}

		select {
		case <-ctx.Done():
			return e.shutdown(ctx.Err())
		case <-e.queue.Wait():
			// Loop back to TryDequeue. A closed signal channel fires
			// immediately, which drives the drain path above.
		}
	}
}

// runCommand executes one command under a fresh task node. The node is
// finished on success and cancelled on error, so every resource the
// command adopted is released exactly once before the handle completes.
func (e *Executor) runCommand(ctx context.Context, h *Handle) {
	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	node := task.NewNode(h.Name())

	e.mu.Lock()
	h.cancel = cancel
	e.active = h
	if !h.isDefault {
		e.running = Active
	}
	e.mu.Unlock()

	if !h.isDefault {
		e.log.Info("command starting", "command", h.Name())
	}

	err := h.cmd.Execute(cmdCtx, node)
	if errors.Is(err, context.Canceled) {
		err = task.ErrCancelled
	}

	// Release the command's resources before reporting completion.
	if err != nil {
		if cerr := node.Cancel(context.Background()); cerr != nil && !errors.Is(cerr, task.ErrCancelled) {
			e.log.Warn("node cancel failed", "command", h.Name(), "error", cerr)
		}
	} else if ferr := node.Finish(context.Background()); ferr != nil {
		err = fmt.Errorf("releasing resources: %w", ferr)
	}

	e.mu.Lock()
	e.active = nil
	e.running = Idle
	e.mu.Unlock()

	h.finish(err)

	if !h.isDefault {
		e.log.Info("command finished", "command", h.Name(), "error", err)
	}
}

// shutdown cancels all pending handles and closes the queue.
func (e *Executor) shutdown(cause error) error {
	e.queue.Close()
	for _, h := range e.queue.drain() {
		h.finish(task.ErrCancelled)
	}
	e.log.Info("executor stopping: context cancelled")
	return cause
}

// Idle returns a command that blocks until preempted. It is the stock
// default command body: a selection tool that owns no resources.
func IdleCommand(name string) Command {
	return Func{
		CommandName: name,
		Body: func(ctx context.Context, _ *task.Node) error {
			<-ctx.Done()
			return task.ErrCancelled
		},
	}
}
