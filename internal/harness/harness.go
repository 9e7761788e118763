// Package harness runs scripted editing sessions for conformance
// testing. A scenario builds a fresh session over the scripted kernel, a
// sequential id generator and an in-memory snapshot log, so two runs of
// the same scenario produce byte-identical traces - the property the
// golden-file tests depend on.
package harness

import (
	"context"
	"fmt"
	"slices"

	"github.com/chiselcad/chisel/internal/factory"
	"github.com/chiselcad/chisel/internal/geom"
	"github.com/chiselcad/chisel/internal/opspec"
	"github.com/chiselcad/chisel/internal/store"
)

// RunOption configures a scenario run.
type RunOption func(*runConfig)

type runConfig struct {
	dbPath string
}

// WithSnapshotDB persists the run's snapshot log to the given SQLite
// file instead of the default in-memory database.
func WithSnapshotDB(path string) RunOption {
	return func(c *runConfig) { c.dbPath = path }
}

// Run executes a scenario in a fresh session and returns the result.
// Step failures abort the run with an error; expectation mismatches are
// collected in the result instead.
func Run(scenario *Scenario, opts ...RunOption) (*Result, error) {
	ctx := context.Background()

	cfg := &runConfig{dbPath: ":memory:"}
	for _, opt := range opts {
		opt(cfg)
	}

	// Fresh snapshot log per run, in-memory by default for isolation.
	st, err := store.Open(cfg.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot log: %w", err)
	}
	defer st.Close()

	sessionLog, err := st.SessionLog(ctx, scenario.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create session log: %w", err)
	}

	registry, err := buildRegistry(scenario.Specs)
	if err != nil {
		return nil, err
	}

	session, err := NewSession(
		WithRegistry(registry),
		WithHistoryLog(sessionLog),
	)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	recorder := &traceRecorder{}
	session.Store.Subscribe(recorder)

	for i, step := range scenario.Steps {
		if err := runStep(ctx, session, recorder, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	result := &Result{
		ScenarioName: scenario.Name,
		Trace:        recorder.snapshot(),
		CanUndo:      session.History.CanUndo(),
		CanRedo:      session.History.CanRedo(),
	}
	result.FinalState, err = session.Store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("final snapshot: %w", err)
	}

	evaluateExpect(scenario.Expect, session, result)
	return result, nil
}

// runStep executes one step and appends its trace event.
func runStep(ctx context.Context, session *Session, recorder *traceRecorder, step Step) error {
	switch {
	case step.Op != "":
		params, err := paramsToObject(step.Params)
		if err != nil {
			return fmt.Errorf("op %s: %w", step.Op, err)
		}
		res, err := session.RunOperation(ctx, OpRequest{
			Kind:    step.Op,
			Params:  params,
			Updates: step.Updates,
			Action:  step.Action,
			Target:  step.Target,
		})
		if err != nil {
			return fmt.Errorf("op %s: %w", step.Op, err)
		}
		if res.Committed {
			recorder.append(TraceEvent{Type: "commit", Op: step.Op, Items: res.Items})
		} else {
			recorder.append(TraceEvent{Type: "cancel", Op: step.Op})
		}

	case step.Undo > 0:
		for i := 0; i < step.Undo; i++ {
			if err := session.Undo(ctx); err != nil {
				return fmt.Errorf("undo: %w", err)
			}
			recorder.append(TraceEvent{Type: "undo"})
		}

	case step.Redo > 0:
		for i := 0; i < step.Redo; i++ {
			if err := session.Redo(ctx); err != nil {
				return fmt.Errorf("redo: %w", err)
			}
			recorder.append(TraceEvent{Type: "redo"})
		}

	case len(step.Select) > 0:
		if err := session.Select(ctx, step.Select); err != nil {
			return fmt.Errorf("select: %w", err)
		}
		recorder.append(TraceEvent{Type: "select", Items: step.Select})

	case step.ClearSelection:
		if err := session.ClearSelection(ctx); err != nil {
			return fmt.Errorf("clear selection: %w", err)
		}
		recorder.append(TraceEvent{Type: "select", Items: []string{}})
	}
	return nil
}

// buildRegistry merges the built-in operation set with any extra spec
// directories the scenario names.
func buildRegistry(dirs []string) (*factory.Registry, error) {
	specs, err := opspec.Builtin()
	if err != nil {
		return nil, fmt.Errorf("builtin operations: %w", err)
	}
	merged := slices.Clone(specs)
	for _, dir := range dirs {
		extra, err := opspec.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", dir, err)
		}
		merged = append(merged, extra...)
	}
	return factory.NewRegistry(merged)
}

// paramsToObject converts decoded YAML parameters to geometry values.
func paramsToObject(params map[string]any) (geom.Object, error) {
	if params == nil {
		return nil, nil
	}
	v, err := geom.FromAny(params)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(geom.Object)
	if !ok {
		return nil, fmt.Errorf("params must be a mapping, got %T", v)
	}
	return obj, nil
}

// evaluateExpect checks the scenario's final-state expectations.
func evaluateExpect(expect *Expect, session *Session, result *Result) {
	if expect == nil {
		return
	}
	if expect.Items != nil {
		if got := session.Store.PermanentCount(); got != *expect.Items {
			result.AddError(fmt.Sprintf("expected %d items, got %d", *expect.Items, got))
		}
	}
	if expect.Temporaries != nil {
		if got := session.Store.TemporaryCount(); got != *expect.Temporaries {
			result.AddError(fmt.Sprintf("expected %d temporaries, got %d", *expect.Temporaries, got))
		}
	}
	if expect.Selection != nil {
		got := session.Store.Selection()
		if !slices.Equal(got, expect.Selection) {
			result.AddError(fmt.Sprintf("expected selection %v, got %v", expect.Selection, got))
		}
	}
	if expect.CanUndo != nil && result.CanUndo != *expect.CanUndo {
		result.AddError(fmt.Sprintf("expected can_undo=%v, got %v", *expect.CanUndo, result.CanUndo))
	}
	if expect.CanRedo != nil && result.CanRedo != *expect.CanRedo {
		result.AddError(fmt.Sprintf("expected can_redo=%v, got %v", *expect.CanRedo, result.CanRedo))
	}
}
