// Package testutil provides deterministic test doubles for the editor
// core: a scriptable geometry kernel and a resettable logical clock.
// Deterministic doubles make scenario runs byte-identical, which the
// golden-file tests depend on.
package testutil

import (
	"context"
	"sync"

	"github.com/chiselcad/chisel/internal/geom"
)

// StubKernel implements geom.Kernel for tests. By default it echoes the
// operation kind and parameters into the result object together with a
// per-call counter, so successive results are distinguishable. Calls can
// be scripted to fail per kind, given a fixed result per kind, or gated
// so a test controls the order in which in-flight computations complete.
//
// Thread-safety: all methods are safe for concurrent use.
type StubKernel struct {
	mu      sync.Mutex
	calls   int
	fail    map[string]error
	results map[string]geom.Object
	gates   []chan struct{}
}

// NewStubKernel creates a stub kernel with no scripted behavior.
func NewStubKernel() *StubKernel {
	return &StubKernel{
		fail:    make(map[string]error),
		results: make(map[string]geom.Object),
	}
}

// FailKind makes every computation of the given kind fail with err.
// Passing nil clears the failure.
func (k *StubKernel) FailKind(kind string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err == nil {
		delete(k.fail, kind)
		return
	}
	k.fail[kind] = err
}

// Result fixes the result object returned for a kind. The object is
// cloned on every call so callers cannot alias scripted state.
func (k *StubKernel) Result(kind string, result geom.Object) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.results[kind] = result
}

// Gate registers a gate for an upcoming computation. Gates are consumed
// in call order: the first gated call blocks until the first returned
// channel is closed, and so on. Calls beyond the registered gates run
// ungated.
func (k *StubKernel) Gate() chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	gate := make(chan struct{})
	k.gates = append(k.gates, gate)
	return gate
}

// Calls returns how many computations were requested so far.
func (k *StubKernel) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

// ComputeResult implements geom.Kernel.
func (k *StubKernel) ComputeResult(ctx context.Context, kind string, params geom.Object) (geom.Object, error) {
	k.mu.Lock()
	k.calls++
	call := k.calls
	var gate chan struct{}
	if len(k.gates) > 0 {
		gate = k.gates[0]
		k.gates = k.gates[1:]
	}
	failErr := k.fail[kind]
	scripted, hasScript := k.results[kind]
	k.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failErr != nil {
		return nil, geom.NewKernelError(kind, failErr.Error())
	}
	if hasScript {
		return scripted.Clone(), nil
	}
	return geom.Object{
		"op":     geom.Str(kind),
		"params": params.Clone(),
		"rev":    geom.Int(call),
	}, nil
}
