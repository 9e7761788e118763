// Package interact models user-input sessions: a point pick, a gizmo
// drag. An Interaction blocks inside Execute and streams intermediate
// values to its observer until the input resolves into a final value or
// is dismissed. Real input devices are out of scope; the Scripted
// implementation replays a predetermined sequence, which is what
// commands and tests drive.
package interact

import (
	"context"
	"errors"

	"github.com/chiselcad/chisel/internal/factory"
	"github.com/chiselcad/chisel/internal/geom"
	"github.com/chiselcad/chisel/internal/task"
)

// ErrDismissed reports that the user abandoned the interaction without
// producing a value. Distinct from cancellation of the owning command.
var ErrDismissed = errors.New("interaction dismissed")

// An Interaction is one blocking input session. Execute calls onChange
// for every intermediate value, in order, and returns the final value.
// It returns ErrDismissed when the user backs out and the context error
// when the session is torn down from outside.
type Interaction interface {
	Execute(ctx context.Context, onChange func(geom.Value)) (geom.Value, error)
}

// Run executes an interaction under node ownership. The node adopts a
// resource that tears the session down, so cancelling the owning
// command unblocks Execute promptly. Teardown through the node reports
// task.ErrCancelled rather than the raw context error.
func Run(ctx context.Context, node *task.Node, in Interaction, onChange func(geom.Value)) (geom.Value, error) {
	ictx, stop := context.WithCancel(ctx)
	defer stop()

	node.Adopt(&task.FuncResource{
		OnFinish: func(context.Context) error { stop(); return nil },
		OnCancel: func(context.Context) error { stop(); return nil },
	})

	v, err := in.Execute(ictx, onChange)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return nil, task.ErrCancelled
	}
	return v, err
}

// BindParam returns an observer that writes each intermediate value
// into one factory parameter and refreshes the preview. Schema
// rejections and kernel failures drop the glitchy value and keep the
// prior preview, matching the factory's update contract.
func BindParam(ctx context.Context, f factory.Factory, name string) func(geom.Value) {
	return func(v geom.Value) {
		if err := f.Set(name, v); err != nil {
			return
		}
		_ = f.Update(ctx)
	}
}

// Scripted is a deterministic Interaction: it emits its steps, then
// resolves. Use NewScripted for a confirming session, Dismissed for one
// the user backs out of, and Pending for one that never resolves on its
// own (it blocks until torn down).
type Scripted struct {
	steps   []geom.Value
	final   geom.Value
	dismiss bool
	pending bool
}

// NewScripted returns an interaction that emits steps and confirms
// with final.
func NewScripted(final geom.Value, steps ...geom.Value) *Scripted {
	return &Scripted{steps: steps, final: final}
}

// Dismissed returns an interaction that emits steps and then reports
// ErrDismissed.
func Dismissed(steps ...geom.Value) *Scripted {
	return &Scripted{steps: steps, dismiss: true}
}

// Pending returns an interaction that emits steps and then blocks until
// the context is cancelled.
func Pending(steps ...geom.Value) *Scripted {
	return &Scripted{steps: steps, pending: true}
}

// Execute implements Interaction.
func (s *Scripted) Execute(ctx context.Context, onChange func(geom.Value)) (geom.Value, error) {
	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if onChange != nil {
			onChange(step)
		}
	}
	switch {
	case s.pending:
		<-ctx.Done()
		return nil, ctx.Err()
	case s.dismiss:
		return nil, ErrDismissed
	default:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return s.final, nil
	}
}
