package harness

import (
	"sync"

	"github.com/chiselcad/chisel/internal/scene"
)

// TraceEvent is one entry of a scenario trace. Item events come from the
// scene listener (permanent items only, so previews never perturb a
// golden trace); step events are appended by the runner.
type TraceEvent struct {
	// Type is one of: item_added, item_changed, item_removed, commit,
	// cancel, undo, redo, select.
	Type string

	// ID is the item id (item events).
	ID string

	// Op is the operation kind (commit/cancel events).
	Op string

	// Items lists result item ids (commit) or selected ids (select).
	Items []string
}

// toCanonicalMap renders the event for canonical JSON, omitting empty
// fields.
func (e TraceEvent) toCanonicalMap() map[string]any {
	m := map[string]any{"type": e.Type}
	if e.ID != "" {
		m["id"] = e.ID
	}
	if e.Op != "" {
		m["op"] = e.Op
	}
	if e.Items != nil {
		items := make([]any, len(e.Items))
		for i, id := range e.Items {
			items[i] = id
		}
		m["items"] = items
	}
	return m
}

// Result is the outcome of one scenario run.
type Result struct {
	// ScenarioName echoes the scenario.
	ScenarioName string

	// Trace is the ordered event log.
	Trace []TraceEvent

	// FinalState is the scene snapshot after all steps.
	FinalState *scene.Snapshot

	// CanUndo / CanRedo report the final history cursor position.
	CanUndo bool
	CanRedo bool

	// Errors collects expectation failures. Empty means the run passed.
	Errors []string
}

// Passed reports whether the run had no expectation failures.
func (r *Result) Passed() bool {
	return len(r.Errors) == 0
}

// AddError records an expectation failure.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// traceRecorder collects permanent item transitions as trace events.
type traceRecorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (r *traceRecorder) append(e TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// ItemAdded implements scene.Listener.
func (r *traceRecorder) ItemAdded(it *scene.Item) {
	r.append(TraceEvent{Type: "item_added", ID: it.ID})
}

// ItemChanged implements scene.Listener.
func (r *traceRecorder) ItemChanged(it *scene.Item) {
	r.append(TraceEvent{Type: "item_changed", ID: it.ID})
}

// ItemRemoved implements scene.Listener.
func (r *traceRecorder) ItemRemoved(it *scene.Item) {
	r.append(TraceEvent{Type: "item_removed", ID: it.ID})
}

func (r *traceRecorder) snapshot() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}
