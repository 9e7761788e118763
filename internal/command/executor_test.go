package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiselcad/chisel/internal/task"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

// startExecutor runs the executor in the background and returns its exit
// error channel.
func startExecutor(t *testing.T, e *Executor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- e.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errs
}

func TestExecutor_FIFOOrder(t *testing.T) {
	e := NewExecutor()
	startExecutor(t, e)

	var mu sync.Mutex
	var order []string

	var handles []*Handle
	for _, name := range []string{"a", "b", "c"} {
		name := name
		h, err := e.Submit(Func{
			CommandName: name,
			Body: func(ctx context.Context, _ *task.Node) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			},
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	ctx := context.Background()
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestExecutor_OneCommandAtATime(t *testing.T) {
	e := NewExecutor()
	startExecutor(t, e)

	gate := make(chan struct{})
	started := make(chan struct{})

	first, err := e.Submit(Func{
		CommandName: "blocker",
		Body: func(ctx context.Context, _ *task.Node) error {
			close(started)
			<-gate
			return nil
		},
	})
	require.NoError(t, err)
	<-started

	secondRan := make(chan struct{})
	second, err := e.Submit(Func{
		CommandName: "waiter",
		Body: func(ctx context.Context, _ *task.Node) error {
			close(secondRan)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, Active, e.State())
	select {
	case <-secondRan:
		t.Fatal("second command ran while first was active")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	ctx := context.Background()
	require.NoError(t, first.Wait(ctx))
	require.NoError(t, second.Wait(ctx))

	assert.Eventually(t, func() bool { return e.State() == Idle }, waitFor, tick)
}

func TestExecutor_CancelActive(t *testing.T) {
	e := NewExecutor()
	startExecutor(t, e)

	released := make(chan string, 2)
	started := make(chan struct{})

	h, err := e.Submit(Func{
		CommandName: "interactive",
		Body: func(ctx context.Context, node *task.Node) error {
			node.Adopt(&task.FuncResource{
				OnFinish: func(context.Context) error { released <- "finish"; return nil },
				OnCancel: func(context.Context) error { released <- "cancel"; return nil },
			})
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	<-started

	require.True(t, e.CancelActive())

	err = h.Wait(context.Background())
	require.ErrorIs(t, err, task.ErrCancelled)
	assert.Equal(t, "cancel", <-released)
}

func TestExecutor_FinishReleasesResources(t *testing.T) {
	e := NewExecutor()
	startExecutor(t, e)

	var finished bool
	h, err := e.Submit(Func{
		CommandName: "worker",
		Body: func(ctx context.Context, node *task.Node) error {
			node.Adopt(&task.FuncResource{
				OnFinish: func(context.Context) error { finished = true; return nil },
			})
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, h.Wait(context.Background()))
	assert.True(t, finished)
}

func TestExecutor_DefaultCommandPreempted(t *testing.T) {
	var mu sync.Mutex
	defaults := 0

	e := NewExecutor(WithDefaultCommand(func() Command {
		mu.Lock()
		defaults++
		mu.Unlock()
		return IdleCommand("selection")
	}))
	startExecutor(t, e)

	// The default command occupies the executor while the queue is empty.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return defaults >= 1
	}, waitFor, tick)
	assert.Equal(t, Idle, e.State())

	// A submission preempts it and runs.
	h, err := e.Submit(Func{
		CommandName: "draw",
		Body:        func(ctx context.Context, _ *task.Node) error { return nil },
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	// The default command is restarted once the queue drains.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return defaults >= 2
	}, waitFor, tick)
}

func TestExecutor_StopDrainsQueue(t *testing.T) {
	e := NewExecutor()
	_, errs := startExecutor(t, e)

	gate := make(chan struct{})
	started := make(chan struct{})
	first, err := e.Submit(Func{
		CommandName: "slow",
		Body: func(ctx context.Context, _ *task.Node) error {
			close(started)
			<-gate
			return nil
		},
	})
	require.NoError(t, err)
	<-started

	var ran bool
	second, err := e.Submit(Func{
		CommandName: "queued",
		Body:        func(ctx context.Context, _ *task.Node) error { ran = true; return nil },
	})
	require.NoError(t, err)

	e.Stop()
	assert.Equal(t, Draining, e.State())

	_, err = e.Submit(IdleCommand("late"))
	require.ErrorIs(t, err, ErrStopped)

	close(gate)
	ctx := context.Background()
	require.NoError(t, first.Wait(ctx))
	require.NoError(t, second.Wait(ctx))
	assert.True(t, ran)

	require.NoError(t, <-errs)
}

func TestExecutor_ContextCancellation(t *testing.T) {
	e := NewExecutor()
	cancel, errs := startExecutor(t, e)

	started := make(chan struct{})
	running, err := e.Submit(Func{
		CommandName: "running",
		Body: func(ctx context.Context, _ *task.Node) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	<-started

	pending, err := e.Submit(IdleCommand("pending"))
	require.NoError(t, err)

	cancel()

	require.ErrorIs(t, running.Wait(context.Background()), task.ErrCancelled)
	require.ErrorIs(t, pending.Wait(context.Background()), task.ErrCancelled)
	require.ErrorIs(t, <-errs, context.Canceled)
}

func TestHandle_ErrBeforeCompletion(t *testing.T) {
	h := &Handle{cmd: IdleCommand("x"), done: make(chan struct{})}
	assert.NoError(t, h.Err())
	h.finish(task.ErrCancelled)
	assert.ErrorIs(t, h.Err(), task.ErrCancelled)
}
