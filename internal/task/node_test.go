package task

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingResource counts Finish/Cancel invocations and can be scripted
// to fail or panic during cleanup.
type recordingResource struct {
	finished  int
	cancelled int
	fail      error
	panics    bool
	order     *[]string
	name      string
}

func (r *recordingResource) Finish(ctx context.Context) error {
	r.finished++
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
	if r.panics {
		panic("cleanup panic")
	}
	return r.fail
}

func (r *recordingResource) Cancel(ctx context.Context) error {
	r.cancelled++
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
	if r.panics {
		panic("cleanup panic")
	}
	return r.fail
}

func TestNode_FinishPropagatesOnce(t *testing.T) {
	ctx := context.Background()
	n := NewNode("cmd")
	a := &recordingResource{}
	b := &recordingResource{}
	n.Adopt(a)
	n.Adopt(b)

	require.NoError(t, n.Finish(ctx))
	require.NoError(t, n.Finish(ctx)) // idempotent
	require.NoError(t, n.Cancel(ctx)) // terminal - no further effect

	assert.Equal(t, 1, a.finished)
	assert.Equal(t, 1, b.finished)
	assert.Equal(t, 0, a.cancelled)
	assert.Equal(t, 0, b.cancelled)
	assert.Equal(t, StateFinished, n.State())
	assert.NoError(t, n.Err())
}

func TestNode_CancelAllExactlyOnceDespiteFailures(t *testing.T) {
	// Cancelling a node with N children invokes cancel on all N exactly
	// once, even when some throw or panic during cleanup.
	ctx := context.Background()
	n := NewNode("cmd")

	resources := []*recordingResource{
		{fail: errors.New("boom")},
		{panics: true},
		{},
		{fail: errors.New("boom 2")},
		{},
	}
	for _, r := range resources {
		n.Adopt(r)
	}

	require.NoError(t, n.Cancel(ctx))
	require.NoError(t, n.Cancel(ctx))

	for i, r := range resources {
		assert.Equal(t, 1, r.cancelled, "resource %d", i)
		assert.Equal(t, 0, r.finished, "resource %d", i)
	}
	assert.ErrorIs(t, n.Err(), ErrCancelled)
}

func TestNode_YoungestFirstOrder(t *testing.T) {
	ctx := context.Background()
	var order []string
	n := NewNode("cmd")
	n.Adopt(&recordingResource{name: "first", order: &order})
	n.Adopt(&recordingResource{name: "second", order: &order})
	n.Adopt(&recordingResource{name: "third", order: &order})

	require.NoError(t, n.Cancel(ctx))
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestNode_NestedPropagation(t *testing.T) {
	ctx := context.Background()
	var order []string

	root := NewNode("root")
	root.Adopt(&recordingResource{name: "older-sibling", order: &order})
	child := NewNode("child")
	root.Adopt(child)
	child.Adopt(&recordingResource{name: "grandchild", order: &order})

	require.NoError(t, root.Cancel(ctx))

	// Depth-first: the child node (youngest) releases its own children
	// before the older sibling runs.
	assert.Equal(t, []string{"grandchild", "older-sibling"}, order)
	assert.Equal(t, StateCancelled, child.State())
}

func TestNode_WaitResolvesOnFinish(t *testing.T) {
	ctx := context.Background()
	n := NewNode("cmd")

	go func() { _ = n.Finish(ctx) }()

	assert.NoError(t, n.Wait(ctx))
}

func TestNode_WaitRejectsOnCancel(t *testing.T) {
	ctx := context.Background()
	n := NewNode("cmd")

	go func() { _ = n.Cancel(ctx) }()

	err := n.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestNode_AdoptAfterTerminalReleasesImmediately(t *testing.T) {
	ctx := context.Background()
	n := NewNode("cmd")
	require.NoError(t, n.Cancel(ctx))

	late := &recordingResource{}
	n.Adopt(late)

	assert.Equal(t, 1, late.cancelled)
	assert.Equal(t, 0, late.finished)
}

func TestNode_ErrSafeDuringCancellation(t *testing.T) {
	ctx := context.Background()
	n := NewNode("cmd")
	// A slow child keeps the transition in flight while Err is polled.
	n.Adopt(&FuncResource{
		OnCancel: func(context.Context) error {
			for i := 0; i < 100; i++ {
				runtime.Gosched()
			}
			return nil
		},
	})

	go func() { _ = n.Cancel(ctx) }()

	// Outcome and state must stay mutually consistent at every poll.
	for {
		err := n.Err()
		if n.State() == StateCancelled {
			assert.ErrorIs(t, n.Err(), ErrCancelled)
			break
		}
		if err != nil {
			assert.ErrorIs(t, err, ErrCancelled)
		}
	}
	<-n.Done()
	assert.ErrorIs(t, n.Err(), ErrCancelled)
}

func TestFuncResource_ExactlyOnce(t *testing.T) {
	ctx := context.Background()
	finishes, cancels := 0, 0
	f := &FuncResource{
		OnFinish: func(context.Context) error { finishes++; return nil },
		OnCancel: func(context.Context) error { cancels++; return nil },
	}

	require.NoError(t, f.Finish(ctx))
	require.NoError(t, f.Finish(ctx))
	require.NoError(t, f.Cancel(ctx))

	assert.Equal(t, 1, finishes)
	assert.Equal(t, 0, cancels)
}
