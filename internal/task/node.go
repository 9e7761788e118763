// Package task implements the cancellable resource tree that underpins
// interactive commands.
//
// A Resource is anything acquired during an interaction - a preview item, a
// running sub-computation, a gizmo session - that must receive exactly one
// of Finish or Cancel before it is released. A Node composes resources:
// finishing or cancelling a node propagates to every registered child,
// youngest first, each child exactly once no matter how many times the
// node's methods are invoked.
//
// Cleanup is total: a child that fails (or panics) during propagation is
// logged and never prevents its siblings from being released.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrCancelled is the distinguished cancellation signal. A node's outcome
// carries it when Cancel won the race against Finish; callers awaiting
// Done() use Err() to tell the two apart.
var ErrCancelled = errors.New("task cancelled")

// State is the lifecycle state of a node.
type State int

const (
	// StateActive means neither Finish nor Cancel has been invoked.
	StateActive State = iota
	// StateFinished means Finish completed first.
	StateFinished
	// StateCancelled means Cancel completed first.
	StateCancelled
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Resource is an acquired thing guaranteed to receive exactly one of
// Finish or Cancel.
type Resource interface {
	// Finish releases the resource on the success path.
	Finish(ctx context.Context) error

	// Cancel releases the resource discarding its effects.
	Cancel(ctx context.Context) error
}

// Node is a composable owner of resources. The zero value is not usable;
// construct with NewNode.
//
// Transitions are one-way: Active -> Finished or Active -> Cancelled, at
// most once. After the transition every owned child has also transitioned.
type Node struct {
	mu       sync.Mutex
	name     string
	state    State
	children []Resource // registration order; released youngest-first
	done     chan struct{}
	err      error
}

// NewNode creates an active node. The name appears in cleanup logs.
func NewNode(name string) *Node {
	return &Node{
		name: name,
		done: make(chan struct{}),
	}
}

// Adopt registers r as a child of n and returns r for chaining.
// Children registered after the node has transitioned are released
// immediately with the node's terminal method, preserving the
// exactly-once guarantee for late registrations.
func (n *Node) Adopt(r Resource) Resource {
	n.mu.Lock()
	state := n.state
	if state == StateActive {
		n.children = append(n.children, r)
	}
	n.mu.Unlock()

	if state != StateActive {
		// Node already terminal - release the latecomer the same way.
		ctx := context.Background()
		if state == StateCancelled {
			releaseChild(ctx, n.name, r, false)
		} else {
			releaseChild(ctx, n.name, r, true)
		}
	}
	return r
}

// Finish transitions the node to Finished and finishes every child,
// youngest first. Idempotent: second and later calls (and any Cancel after
// a Finish) are no-ops.
func (n *Node) Finish(ctx context.Context) error {
	return n.transition(ctx, StateFinished)
}

// Cancel transitions the node to Cancelled and cancels every child,
// youngest first. Idempotent.
func (n *Node) Cancel(ctx context.Context) error {
	return n.transition(ctx, StateCancelled)
}

func (n *Node) transition(ctx context.Context, target State) error {
	n.mu.Lock()
	if n.state != StateActive {
		n.mu.Unlock()
		return nil
	}
	n.state = target
	if target == StateCancelled {
		n.err = ErrCancelled
	}
	children := n.children
	n.children = nil
	n.mu.Unlock()

	// Depth-first, youngest-registered first. A resource that is itself a
	// Node recurses into its own children before its siblings run.
	finish := target == StateFinished
	for i := len(children) - 1; i >= 0; i-- {
		releaseChild(ctx, n.name, children[i], finish)
	}

	close(n.done)
	return nil
}

// releaseChild invokes Finish or Cancel on one child, catching errors and
// panics so sibling cleanup always runs.
func releaseChild(ctx context.Context, owner string, r Resource, finish bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("resource cleanup panicked",
				"node", owner,
				"panic", rec,
			)
		}
	}()

	var err error
	if finish {
		err = r.Finish(ctx)
	} else {
		err = r.Cancel(ctx)
	}
	if err != nil {
		slog.Error("resource cleanup failed",
			"node", owner,
			"finish", finish,
			"error", err,
		)
	}
}

// Done returns a channel that is closed once the node has transitioned.
// This is the awaitable a step uses to wait for a later step's decision.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Err reports the node's outcome: nil after Finish, ErrCancelled after
// Cancel, nil while still active.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// State returns the current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Wait blocks until the node transitions or ctx expires. Returns nil after
// Finish, ErrCancelled after Cancel, or the context error. A cancelled
// node's pending waits return promptly rather than hang.
func (n *Node) Wait(ctx context.Context) error {
	select {
	case <-n.done:
		return n.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FuncResource adapts a pair of functions to the Resource interface.
// Either function may be nil.
type FuncResource struct {
	OnFinish func(ctx context.Context) error
	OnCancel func(ctx context.Context) error

	mu   sync.Mutex
	done bool
}

// Finish invokes OnFinish at most once.
func (f *FuncResource) Finish(ctx context.Context) error {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return nil
	}
	f.done = true
	f.mu.Unlock()

	if f.OnFinish == nil {
		return nil
	}
	return f.OnFinish(ctx)
}

// Cancel invokes OnCancel at most once.
func (f *FuncResource) Cancel(ctx context.Context) error {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return nil
	}
	f.done = true
	f.mu.Unlock()

	if f.OnCancel == nil {
		return nil
	}
	return f.OnCancel(ctx)
}
