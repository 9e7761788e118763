// Package factory implements the operation lifecycle: a factory is
// configured with parameters, previews its result as a temporary item
// through repeated updates, and ends in exactly one of commit (results
// become permanent) or cancel (every trace removed).
//
// Updates are last-write-wins: each call takes a sequence number, and a
// result is applied only if no later result has been applied already.
// A superseded result completing late is discarded without surfacing an
// error, so rapid slider drags never flicker backwards.
package factory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chiselcad/chisel/internal/geom"
	"github.com/chiselcad/chisel/internal/opspec"
	"github.com/chiselcad/chisel/internal/scene"
)

// State is the factory lifecycle state.
type State int

const (
	// Idle means no preview has been produced yet.
	Idle State = iota
	// Previewing means a temporary preview item is live in the store.
	Previewing
	// Committed is terminal: results were made permanent.
	Committed
	// Cancelled is terminal: all traces were removed.
	Cancelled
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Previewing:
		return "previewing"
	case Committed:
		return "committed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Factory is the operation lifecycle contract. Implementations must
// guarantee that after Cancel no trace of the operation remains in the
// store, and that Commit and Cancel are mutually exclusive terminal
// transitions.
type Factory interface {
	// Set assigns one parameter, validated against the operation schema.
	Set(name string, value geom.Value) error

	// Update recomputes the preview from the current parameters. With an
	// incomplete parameter set it returns without side effects. Kernel
	// rejections leave the previous preview intact and do not surface.
	Update(ctx context.Context) error

	// Commit makes the result permanent and returns the created items.
	Commit(ctx context.Context) ([]*scene.Item, error)

	// Cancel removes every trace of the operation. Idempotent; a no-op
	// after Commit.
	Cancel(ctx context.Context) error
}

// KernelFactory is the standard Factory backed by a geometry kernel and
// an operation schema. It also implements task.Resource so an owning
// command node releases it on any exit path: Finish after commit keeps
// the results, any other release discards the preview.
type KernelFactory struct {
	spec   *opspec.OpSpec
	kernel geom.Kernel
	store  *scene.Store
	log    *slog.Logger

	mu       sync.Mutex
	state    State
	params   geom.Object
	paramRev int64 // bumped on every parameter assignment
	target   string

	seq        int64 // last issued update sequence
	applied    int64 // sequence of the last applied result
	previewRev int64 // paramRev the live preview was computed from
	preview    *scene.TempItem
	results    []*scene.Item
}

// New creates a factory for one operation.
func New(spec *opspec.OpSpec, kernel geom.Kernel, store *scene.Store) *KernelFactory {
	return &KernelFactory{
		spec:   spec,
		kernel: kernel,
		store:  store,
		log:    slog.Default().With("factory", spec.Kind),
		params: geom.Object{},
	}
}

// Kind returns the operation kind.
func (f *KernelFactory) Kind() string {
	return f.spec.Kind
}

// State returns the current lifecycle state.
func (f *KernelFactory) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Set assigns one parameter after schema validation. Assignments after
// a terminal transition fail.
func (f *KernelFactory) Set(name string, value geom.Value) error {
	if err := f.spec.ValidateParams(geom.Object{name: value}); err != nil {
		return &OpError{Code: CodeInvalidParameters, Kind: f.spec.Kind, Message: err.Error()}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Committed || f.state == Cancelled {
		return NewTerminal(f.spec.Kind, f.state)
	}
	f.params[name] = value
	f.paramRev++
	return nil
}

// SetParams assigns several parameters at once.
func (f *KernelFactory) SetParams(params geom.Object) error {
	if err := f.spec.ValidateParams(params); err != nil {
		return &OpError{Code: CodeInvalidParameters, Kind: f.spec.Kind, Message: err.Error()}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Committed || f.state == Cancelled {
		return NewTerminal(f.spec.Kind, f.state)
	}
	for name, value := range params {
		f.params[name] = value
	}
	f.paramRev++
	return nil
}

// Params returns a copy of the current parameter set.
func (f *KernelFactory) Params() geom.Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params.Clone()
}

// SetTarget marks an existing permanent item to be replaced on commit
// instead of adding a new one. Used by mutating operations (transform).
func (f *KernelFactory) SetTarget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = id
}

// PreviewID returns the identifier of the live preview item, or "".
func (f *KernelFactory) PreviewID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.preview == nil {
		return ""
	}
	return f.preview.Item().ID
}

// Update recomputes the preview from the current parameters. The kernel
// runs outside the factory lock, so overlapping calls race; the sequence
// check on re-entry guarantees a superseded result is discarded even when
// it completes after its successor.
func (f *KernelFactory) Update(ctx context.Context) error {
	f.mu.Lock()
	if f.state == Committed || f.state == Cancelled {
		f.mu.Unlock()
		f.log.Debug("update after terminal transition ignored", "state", f.state)
		return nil
	}
	if !f.spec.Complete(f.params) {
		f.mu.Unlock()
		return nil
	}
	f.seq++
	seq := f.seq
	rev := f.paramRev
	params := f.params.Clone()
	f.mu.Unlock()

	result, err := f.kernel.ComputeResult(ctx, f.spec.Kind, params)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Committed || f.state == Cancelled {
		// The factory ended while we were computing; never resurrect a
		// preview past a terminal transition.
		return nil
	}
	if seq <= f.applied {
		f.log.Debug("stale preview result discarded",
			"code", CodeStale, "seq", seq, "applied", f.applied)
		return nil
	}
	if err != nil {
		// Previous preview stays live; the kernel rejection is expected
		// during interactive editing and does not surface. The failed
		// call still claims its sequence slot so an older in-flight
		// result completing later stays superseded.
		f.applied = seq
		f.log.Warn("preview computation rejected",
			"code", CodeKernelFailed, "error", err)
		return nil
	}

	if f.preview == nil {
		preview, aerr := f.store.AddTemporary(result)
		if aerr != nil {
			return aerr
		}
		f.preview = preview
	} else if rerr := f.preview.ReplaceKernel(result); rerr != nil {
		return rerr
	}
	f.applied = seq
	f.previewRev = rev
	f.state = Previewing
	return nil
}

// Commit makes the operation result permanent. When the live preview was
// computed from the current parameters it is reused without touching the
// kernel again; otherwise the result is recomputed synchronously. On any
// failure the store is left unchanged and the factory stays committable.
func (f *KernelFactory) Commit(ctx context.Context) ([]*scene.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case Committed:
		return f.results, nil
	case Cancelled:
		return nil, NewTerminal(f.spec.Kind, f.state)
	}

	if missing := f.spec.MissingParams(f.params); len(missing) > 0 {
		return nil, NewInvalidParameters(f.spec.Kind, missing)
	}

	result, fresh, err := f.commitResult(ctx)
	if err != nil {
		return nil, err
	}

	items, err := f.placeResult(ctx, result, fresh)
	if err != nil {
		return nil, err
	}

	// Advance the sequence so any in-flight update result is stale.
	f.seq++
	f.applied = f.seq
	f.results = items
	f.preview = nil
	f.state = Committed
	f.log.Info("operation committed", "items", len(items))
	return items, nil
}

// commitResult returns the kernel object to commit and whether it was
// freshly computed (as opposed to reusing the live preview).
func (f *KernelFactory) commitResult(ctx context.Context) (geom.Object, bool, error) {
	if f.preview != nil && f.previewRev == f.paramRev {
		return f.preview.Item().Kernel, false, nil
	}
	result, err := f.kernel.ComputeResult(ctx, f.spec.Kind, f.params.Clone())
	if err != nil {
		return nil, false, NewKernelFailed(f.spec.Kind, err)
	}
	return result, true, nil
}

// placeResult turns the kernel object into permanent store items.
func (f *KernelFactory) placeResult(ctx context.Context, result geom.Object, fresh bool) ([]*scene.Item, error) {
	// Mutating operations replace their target in place.
	if f.target != "" {
		it, err := f.store.Replace(f.target, result)
		if err != nil {
			return nil, err
		}
		f.discardPreviewLocked(ctx)
		return []*scene.Item{it}, nil
	}

	// Multi-output operations return their parts under "outputs". A part
	// failing to place removes the parts placed before it, keeping the
	// store unchanged on any commit failure.
	if parts, ok := splitOutputs(result, f.spec.Outputs); ok {
		items := make([]*scene.Item, 0, len(parts))
		for _, part := range parts {
			it, err := f.store.Add(part)
			if err != nil {
				for _, placed := range items {
					if rerr := f.store.Remove(placed.ID); rerr != nil {
						f.log.Warn("partial commit rollback failed",
							"id", placed.ID, "error", rerr)
					}
				}
				return nil, err
			}
			items = append(items, it)
		}
		f.discardPreviewLocked(ctx)
		return items, nil
	}

	// Single output. Reuse the preview's identity when we have one.
	if f.preview != nil {
		if fresh {
			if err := f.preview.ReplaceKernel(result); err != nil {
				return nil, err
			}
		}
		it, err := f.preview.Promote()
		if err != nil {
			return nil, err
		}
		return []*scene.Item{it}, nil
	}
	it, err := f.store.Add(result)
	if err != nil {
		return nil, err
	}
	return []*scene.Item{it}, nil
}

// splitOutputs extracts the per-item kernel objects of a multi-output
// result. A factory declaring a single output always takes the whole
// result as one item.
func splitOutputs(result geom.Object, declared int) ([]geom.Object, bool) {
	if declared <= 1 {
		return nil, false
	}
	arr, ok := result["outputs"].(geom.Array)
	if !ok {
		return nil, false
	}
	parts := make([]geom.Object, 0, len(arr))
	for _, v := range arr {
		obj, ok := v.(geom.Object)
		if !ok {
			return nil, false
		}
		parts = append(parts, obj)
	}
	return parts, len(parts) > 0
}

// Cancel removes every trace of the operation. Idempotent, and a no-op
// after Commit: committed results survive.
func (f *KernelFactory) Cancel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case Committed, Cancelled:
		return nil
	}
	f.discardPreviewLocked(ctx)
	f.seq++
	f.applied = f.seq
	f.state = Cancelled
	f.log.Debug("operation cancelled")
	return nil
}

// Finish implements task.Resource. A factory released without a commit
// has produced nothing permanent, so its preview is discarded.
func (f *KernelFactory) Finish(ctx context.Context) error {
	f.mu.Lock()
	if f.state == Committed {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()
	return f.Cancel(ctx)
}

func (f *KernelFactory) discardPreviewLocked(ctx context.Context) {
	if f.preview == nil {
		return
	}
	if err := f.preview.Cancel(ctx); err != nil {
		f.log.Warn("preview discard failed", "error", err)
	}
	f.preview = nil
}
