// Package history implements linear snapshot-based undo. A snapshot of
// the permanent scene is recorded after every committed command; undo
// and redo move a cursor over the recorded snapshots and restore the
// target state as a diff. Recording after an undo truncates the redo
// tail, so the history is always a single line.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chiselcad/chisel/internal/command"
	"github.com/chiselcad/chisel/internal/scene"
	"github.com/chiselcad/chisel/internal/task"
)

// ErrNoUndo is returned when the cursor is at the baseline.
var ErrNoUndo = errors.New("nothing to undo")

// ErrNoRedo is returned when the cursor is at the newest entry.
var ErrNoRedo = errors.New("nothing to redo")

// Entry is one recorded state.
type Entry struct {
	// Label names the command that produced this state. The baseline
	// entry is labeled "baseline".
	Label string

	// Snapshot is the captured state.
	Snapshot *scene.Snapshot
}

// Log receives recorded snapshots for persistence. Implemented by the
// sqlite snapshot log; a nil Log keeps history in memory only.
type Log interface {
	AppendSnapshot(label string, seq int, data []byte) error
}

// History is the undo stack for one editing session.
type History struct {
	store *scene.Store
	log   *slog.Logger
	plog  Log

	mu      sync.Mutex
	entries []Entry
	cursor  int // index of the entry matching the current scene state
}

// Option configures a History.
type Option func(*History)

// WithLog persists every recorded snapshot to the given log.
func WithLog(l Log) Option {
	return func(h *History) { h.plog = l }
}

// New creates a history whose baseline is the store's current state.
func New(store *scene.Store, opts ...Option) (*History, error) {
	base, err := store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("baseline snapshot: %w", err)
	}
	h := &History{
		store:   store,
		log:     slog.Default().With("component", "history"),
		entries: []Entry{{Label: "baseline", Snapshot: base}},
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.persist(h.entries[0], 0); err != nil {
		return nil, err
	}
	return h, nil
}

// Record captures the current state after a committed command. Any redo
// tail beyond the cursor is discarded.
func (h *History) Record(label string) error {
	snap, err := h.store.Snapshot()
	if err != nil {
		return fmt.Errorf("record %q: %w", label, err)
	}

	h.mu.Lock()
	h.entries = h.entries[:h.cursor+1]
	h.entries = append(h.entries, Entry{Label: label, Snapshot: snap})
	h.cursor++
	entry := h.entries[h.cursor]
	seq := h.cursor
	h.mu.Unlock()

	h.log.Debug("state recorded", "label", label, "cursor", seq)
	return h.persist(entry, seq)
}

func (h *History) persist(e Entry, seq int) error {
	if h.plog == nil {
		return nil
	}
	data, err := e.Snapshot.CanonicalBytes()
	if err != nil {
		return fmt.Errorf("persist %q: %w", e.Label, err)
	}
	if err := h.plog.AppendSnapshot(e.Label, seq, data); err != nil {
		return fmt.Errorf("persist %q: %w", e.Label, err)
	}
	return nil
}

// CanUndo reports whether an older state exists.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor > 0
}

// CanRedo reports whether a newer state exists.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor < len(h.entries)-1
}

// Undo restores the previous recorded state. Fails with ErrNoUndo at the
// baseline; the scene is untouched on any failure.
func (h *History) Undo() error {
	h.mu.Lock()
	if h.cursor == 0 {
		h.mu.Unlock()
		return ErrNoUndo
	}
	target := h.entries[h.cursor-1]
	h.mu.Unlock()

	if err := h.store.Restore(target.Snapshot); err != nil {
		return fmt.Errorf("undo to %q: %w", target.Label, err)
	}

	h.mu.Lock()
	h.cursor--
	cursor := h.cursor
	h.mu.Unlock()

	h.log.Info("undo", "restored", target.Label, "cursor", cursor)
	return nil
}

// Redo restores the next recorded state. Fails with ErrNoRedo at the
// newest entry.
func (h *History) Redo() error {
	h.mu.Lock()
	if h.cursor >= len(h.entries)-1 {
		h.mu.Unlock()
		return ErrNoRedo
	}
	target := h.entries[h.cursor+1]
	h.mu.Unlock()

	if err := h.store.Restore(target.Snapshot); err != nil {
		return fmt.Errorf("redo to %q: %w", target.Label, err)
	}

	h.mu.Lock()
	h.cursor++
	cursor := h.cursor
	h.mu.Unlock()

	h.log.Info("redo", "restored", target.Label, "cursor", cursor)
	return nil
}

// Cursor returns the index of the entry matching the current state.
func (h *History) Cursor() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// Len returns the number of recorded entries, baseline included.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Labels returns the entry labels in order.
func (h *History) Labels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.Label
	}
	return out
}

// Current returns the entry at the cursor.
func (h *History) Current() Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.cursor]
}

// UndoCommand wraps Undo as an executor command, so a restore is
// serialized behind whatever command is draining. The caller cancels the
// active command first; by the time this body runs, its previews are
// gone.
func UndoCommand(h *History) command.Command {
	return command.Func{
		CommandName: "undo",
		Body: func(ctx context.Context, _ *task.Node) error {
			return h.Undo()
		},
	}
}

// RedoCommand wraps Redo as an executor command.
func RedoCommand(h *History) command.Command {
	return command.Func{
		CommandName: "redo",
		Body: func(ctx context.Context, _ *task.Node) error {
			return h.Redo()
		},
	}
}
