package factory

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiselcad/chisel/internal/geom"
	"github.com/chiselcad/chisel/internal/opspec"
	"github.com/chiselcad/chisel/internal/scene"
	"github.com/chiselcad/chisel/internal/testutil"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

func newTestFactory(t *testing.T, kind string) (*KernelFactory, *scene.Store, *testutil.StubKernel) {
	t.Helper()
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	store := scene.NewStore(scene.NewSequenceGenerator("item"))
	kernel := testutil.NewStubKernel()
	f, err := reg.New(kind, kernel, store)
	require.NoError(t, err)
	return f, store, kernel
}

func setLine(t *testing.T, f *KernelFactory) {
	t.Helper()
	require.NoError(t, f.Set("start", geom.Vec{X: 0, Y: 0, Z: 0}))
	require.NoError(t, f.Set("end", geom.Vec{X: 1, Y: 0, Z: 0}))
}

func TestUpdate_IncompleteParamsIsNoop(t *testing.T) {
	f, store, kernel := newTestFactory(t, "line")
	ctx := context.Background()

	require.NoError(t, f.Set("start", geom.Vec{X: 0, Y: 0, Z: 0}))
	require.NoError(t, f.Update(ctx))

	assert.Equal(t, 0, kernel.Calls())
	assert.Equal(t, 0, store.TemporaryCount())
	assert.Equal(t, Idle, f.State())
}

func TestUpdate_CreatesPreviewThenReplacesInPlace(t *testing.T) {
	f, store, _ := newTestFactory(t, "line")
	ctx := context.Background()

	setLine(t, f)
	require.NoError(t, f.Update(ctx))

	assert.Equal(t, Previewing, f.State())
	assert.Equal(t, 1, store.TemporaryCount())
	assert.Equal(t, 0, store.PermanentCount())
	firstID := f.PreviewID()
	require.NotEmpty(t, firstID)

	// Second update reuses the same item identity.
	require.NoError(t, f.Set("end", geom.Vec{X: 2, Y: 0, Z: 0}))
	require.NoError(t, f.Update(ctx))

	assert.Equal(t, firstID, f.PreviewID())
	assert.Equal(t, 1, store.TemporaryCount())
}

func TestUpdate_KernelFailureKeepsPriorPreview(t *testing.T) {
	f, store, kernel := newTestFactory(t, "line")
	ctx := context.Background()

	setLine(t, f)
	require.NoError(t, f.Update(ctx))
	it, ok := store.Item(f.PreviewID())
	require.True(t, ok)
	before := it.Version

	kernel.FailKind("line", errors.New("degenerate segment"))
	require.NoError(t, f.Set("end", geom.Vec{X: 0, Y: 0, Z: 0}))
	require.NoError(t, f.Update(ctx))

	// Same preview, untouched.
	it, ok = store.Item(f.PreviewID())
	require.True(t, ok)
	assert.Equal(t, before, it.Version)
	assert.Equal(t, Previewing, f.State())
}

func TestUpdate_StaleResultDiscarded(t *testing.T) {
	f, store, kernel := newTestFactory(t, "line")
	ctx := context.Background()
	setLine(t, f)

	// First update blocks on a gate; the second completes immediately.
	gate := kernel.Gate()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.Update(ctx)
	}()

	// Wait for the gated call to be issued before racing the second one.
	require.Eventually(t, func() bool { return kernel.Calls() == 1 },
		waitFor, tick)

	require.NoError(t, f.Set("end", geom.Vec{X: 5, Y: 0, Z: 0}))
	require.NoError(t, f.Update(ctx))

	it, ok := store.Item(f.PreviewID())
	require.True(t, ok)
	winner := it.Version

	// Release the first call; its result must not overwrite the newer one.
	close(gate)
	wg.Wait()

	it, ok = store.Item(f.PreviewID())
	require.True(t, ok)
	assert.Equal(t, winner, it.Version)
	end, ok := it.Kernel["params"].(geom.Object)["end"]
	require.True(t, ok)
	v, err := geom.AsVec(end)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v.X)
}

func TestUpdate_StaleResultDiscardedAfterNewerFailure(t *testing.T) {
	f, store, kernel := newTestFactory(t, "line")
	ctx := context.Background()
	setLine(t, f)

	// First update blocks on a gate; the second is issued afterwards and
	// is rejected by the kernel.
	gate := kernel.Gate()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.Update(ctx)
	}()

	require.Eventually(t, func() bool { return kernel.Calls() == 1 },
		waitFor, tick)

	kernel.FailKind("line", errors.New("degenerate segment"))
	require.NoError(t, f.Set("end", geom.Vec{X: 5, Y: 0, Z: 0}))
	require.NoError(t, f.Update(ctx))

	// Release the first call; its result is superseded even though the
	// newer call produced no preview, so nothing may appear.
	close(gate)
	wg.Wait()

	assert.Equal(t, 0, store.TemporaryCount())
	assert.Equal(t, "", f.PreviewID())

	// The factory recovers once the kernel accepts the parameters again.
	kernel.FailKind("line", nil)
	require.NoError(t, f.Update(ctx))
	it, ok := store.Item(f.PreviewID())
	require.True(t, ok)
	end, ok := it.Kernel["params"].(geom.Object)["end"]
	require.True(t, ok)
	v, err := geom.AsVec(end)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v.X)
}

func TestCommit_MissingParams(t *testing.T) {
	f, store, _ := newTestFactory(t, "line")

	_, err := f.Commit(context.Background())
	require.Error(t, err)
	assert.True(t, IsInvalidParameters(err))

	var oe *OpError
	require.ErrorAs(t, err, &oe)
	assert.ElementsMatch(t, []string{"start", "end"}, oe.Missing)

	// Still committable after the failure.
	assert.Equal(t, Idle, f.State())
	assert.Equal(t, 0, store.PermanentCount())
}

func TestCommit_PromotesPreviewWithoutRecompute(t *testing.T) {
	f, store, kernel := newTestFactory(t, "line")
	ctx := context.Background()

	setLine(t, f)
	require.NoError(t, f.Update(ctx))
	previewID := f.PreviewID()
	require.Equal(t, 1, kernel.Calls())

	items, err := f.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Parameters unchanged since the preview: reuse, same identity.
	assert.Equal(t, 1, kernel.Calls())
	assert.Equal(t, previewID, items[0].ID)
	assert.False(t, items[0].Temporary)
	assert.Equal(t, 1, store.PermanentCount())
	assert.Equal(t, 0, store.TemporaryCount())
	assert.Equal(t, Committed, f.State())
}

func TestCommit_RecomputesWhenParamsChangedSincePreview(t *testing.T) {
	f, store, kernel := newTestFactory(t, "line")
	ctx := context.Background()

	setLine(t, f)
	require.NoError(t, f.Update(ctx))
	previewID := f.PreviewID()

	require.NoError(t, f.Set("end", geom.Vec{X: 9, Y: 0, Z: 0}))
	items, err := f.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, 2, kernel.Calls())
	assert.Equal(t, previewID, items[0].ID)

	end, _ := geom.AsVec(items[0].Kernel["params"].(geom.Object)["end"])
	assert.Equal(t, 9.0, end.X)
	assert.Equal(t, 1, store.PermanentCount())
}

func TestCommit_WithoutPriorUpdate(t *testing.T) {
	f, store, _ := newTestFactory(t, "line")

	setLine(t, f)
	items, err := f.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, store.PermanentCount())
}

func TestCommit_KernelFailureLeavesStoreUntouched(t *testing.T) {
	f, store, kernel := newTestFactory(t, "line")
	ctx := context.Background()

	setLine(t, f)
	require.NoError(t, f.Update(ctx))
	require.NoError(t, f.Set("end", geom.Vec{X: 0, Y: 0, Z: 0}))
	kernel.FailKind("line", errors.New("degenerate segment"))

	_, err := f.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsKernelFailed(err))
	assert.True(t, geom.IsKernelError(err))

	// Preview still live, nothing permanent, factory not terminal.
	assert.Equal(t, 1, store.TemporaryCount())
	assert.Equal(t, 0, store.PermanentCount())
	assert.Equal(t, Previewing, f.State())

	// Fixing the parameters makes commit succeed.
	kernel.FailKind("line", nil)
	require.NoError(t, f.Set("end", geom.Vec{X: 1, Y: 1, Z: 0}))
	_, err = f.Commit(ctx)
	require.NoError(t, err)
}

func TestCommit_MultiOutput(t *testing.T) {
	f, store, kernel := newTestFactory(t, "boolean")
	ctx := context.Background()

	kernel.Result("boolean", geom.Object{
		"outputs": geom.Array{
			geom.Object{"solid": geom.Str("result")},
			geom.Object{"solid": geom.Str("tool-remnant")},
		},
	})

	require.NoError(t, f.SetParams(geom.Object{
		"target": geom.Str("item-1"),
		"tool":   geom.Str("item-2"),
		"mode":   geom.Str("subtract"),
	}))
	require.NoError(t, f.Update(ctx))
	require.Equal(t, 1, store.TemporaryCount())

	items, err := f.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, store.PermanentCount())
	assert.Equal(t, 0, store.TemporaryCount())
}

func TestCommit_MultiOutputPartialFailureRollsBack(t *testing.T) {
	f, store, kernel := newTestFactory(t, "boolean")
	ctx := context.Background()

	// The second part cannot be placed: its kernel object has no
	// canonical serialization.
	kernel.Result("boolean", geom.Object{
		"outputs": geom.Array{
			geom.Object{"solid": geom.Str("result")},
			geom.Object{"volume": geom.Num(math.NaN())},
		},
	})

	require.NoError(t, f.SetParams(geom.Object{
		"target": geom.Str("item-1"),
		"tool":   geom.Str("item-2"),
		"mode":   geom.Str("subtract"),
	}))

	_, err := f.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, store.PermanentCount())
	assert.Equal(t, 0, store.TemporaryCount())

	// The factory stays committable once the kernel result is placeable.
	kernel.Result("boolean", geom.Object{
		"outputs": geom.Array{
			geom.Object{"solid": geom.Str("result")},
			geom.Object{"solid": geom.Str("tool-remnant")},
		},
	})
	items, err := f.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, store.PermanentCount())
}

func TestCommit_ReplaceTarget(t *testing.T) {
	f, store, _ := newTestFactory(t, "transform")
	ctx := context.Background()

	existing, err := store.Add(geom.Object{"solid": geom.Str("box")})
	require.NoError(t, err)

	require.NoError(t, f.Set("item", geom.Str(existing.ID)))
	require.NoError(t, f.Set("translation", geom.Vec{X: 1, Y: 0, Z: 0}))
	f.SetTarget(existing.ID)

	require.NoError(t, f.Update(ctx))
	items, err := f.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Identity preserved, no new item, preview gone.
	assert.Equal(t, existing.ID, items[0].ID)
	assert.Equal(t, 1, store.PermanentCount())
	assert.Equal(t, 0, store.TemporaryCount())
}

func TestCancel_RemovesEveryTrace(t *testing.T) {
	f, store, _ := newTestFactory(t, "line")
	ctx := context.Background()

	setLine(t, f)
	require.NoError(t, f.Update(ctx))
	require.Equal(t, 1, store.TemporaryCount())

	require.NoError(t, f.Cancel(ctx))
	assert.Equal(t, 0, store.TemporaryCount())
	assert.Equal(t, 0, store.PermanentCount())
	assert.Equal(t, Cancelled, f.State())

	// Idempotent.
	require.NoError(t, f.Cancel(ctx))

	// No operations accepted past the terminal transition.
	err := f.Set("end", geom.Vec{X: 3, Y: 0, Z: 0})
	assert.True(t, IsTerminal(err))
	_, err = f.Commit(ctx)
	assert.True(t, IsTerminal(err))
}

func TestCancel_AfterCommitIsNoop(t *testing.T) {
	f, store, _ := newTestFactory(t, "line")
	ctx := context.Background()

	setLine(t, f)
	items, err := f.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, f.Cancel(ctx))
	assert.Equal(t, Committed, f.State())
	assert.Equal(t, 1, store.PermanentCount())

	// Second commit returns the same results.
	again, err := f.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, items, again)
}

func TestUpdate_AfterCancelNeverResurrectsPreview(t *testing.T) {
	f, store, kernel := newTestFactory(t, "line")
	ctx := context.Background()
	setLine(t, f)

	gate := kernel.Gate()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.Update(ctx)
	}()
	require.Eventually(t, func() bool { return kernel.Calls() == 1 },
		waitFor, tick)

	require.NoError(t, f.Cancel(ctx))
	close(gate)
	wg.Wait()

	assert.Equal(t, 0, store.TemporaryCount())
	assert.Equal(t, Cancelled, f.State())
}

func TestFinish_DiscardsUncommittedPreview(t *testing.T) {
	f, store, _ := newTestFactory(t, "line")
	ctx := context.Background()

	setLine(t, f)
	require.NoError(t, f.Update(ctx))
	require.NoError(t, f.Finish(ctx))

	assert.Equal(t, 0, store.TemporaryCount())
	assert.Equal(t, Cancelled, f.State())
}

func TestFinish_AfterCommitKeepsResults(t *testing.T) {
	f, store, _ := newTestFactory(t, "line")
	ctx := context.Background()

	setLine(t, f)
	_, err := f.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, f.Finish(ctx))

	assert.Equal(t, Committed, f.State())
	assert.Equal(t, 1, store.PermanentCount())
}

func TestSet_RejectsSchemaViolations(t *testing.T) {
	f, _, _ := newTestFactory(t, "line")

	err := f.Set("start", geom.Str("not a vec"))
	require.Error(t, err)
	assert.True(t, IsInvalidParameters(err))

	err = f.Set("ghost", geom.Int(1))
	require.Error(t, err)
	assert.True(t, IsInvalidParameters(err))
}

func TestRegistry(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	_, ok := reg.Spec("fillet")
	assert.True(t, ok)
	_, ok = reg.Spec("nope")
	assert.False(t, ok)

	_, err = reg.New("nope", testutil.NewStubKernel(), scene.NewStore(scene.NewSequenceGenerator("x")))
	assert.Error(t, err)

	_, err = NewRegistry([]opspec.OpSpec{{Kind: "dup"}, {Kind: "dup"}})
	assert.Error(t, err)
}
