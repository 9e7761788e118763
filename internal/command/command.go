// Package command serializes editor commands through a single executor
// loop. At most one command runs at a time; submissions made while one
// is active wait in FIFO order. Every command runs under its own task
// node, so resources it acquires (factories, previews, interactions) are
// released exactly once on any exit path.
package command

import (
	"context"

	"github.com/chiselcad/chisel/internal/task"
)

// Command is one unit of editor work. Execute runs in the executor
// goroutine and must return promptly once ctx is cancelled; blocking
// waits inside a command select on ctx.
//
// Resources the command acquires should be adopted into node so they are
// released when the command ends, however it ends.
type Command interface {
	// Name identifies the command in logs and handles.
	Name() string

	// Execute runs the command body. Returning nil finishes the node and
	// its resources; returning an error (including task.ErrCancelled)
	// cancels them.
	Execute(ctx context.Context, node *task.Node) error
}

// Func adapts a function to the Command interface.
type Func struct {
	CommandName string
	Body        func(ctx context.Context, node *task.Node) error
}

// Name implements Command.
func (f Func) Name() string { return f.CommandName }

// Execute implements Command.
func (f Func) Execute(ctx context.Context, node *task.Node) error {
	if f.Body == nil {
		return nil
	}
	return f.Body(ctx, node)
}

// Handle tracks one submitted command through its lifetime.
type Handle struct {
	cmd       Command
	isDefault bool
	done      chan struct{}
	err       error // set before done closes
	cancel    context.CancelFunc
}

// Name returns the command's name.
func (h *Handle) Name() string { return h.cmd.Name() }

// Done returns a channel closed when the command has finished or been
// cancelled and all its resources are released.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the command's result after Done is closed. Cancelled
// commands report task.ErrCancelled.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the command completes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}
