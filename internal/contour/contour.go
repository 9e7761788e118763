// Package contour maintains derived curve networks: secondary geometry
// (outlines, section curves) computed from permanent scene items. The
// manager listens to the scene and keeps one entry set per owning item.
//
// Mutations run inside transactions. A transaction captures the derived
// state on entry and restores it wholesale if the body fails, so a batch
// that dies halfway never leaves a partial curve network behind. Only
// the DERIVED state rolls back: primary items the body touched stay as
// they are, which is the documented contract - callers sequence primary
// edits so a failed derivation cannot invalidate them.
package contour

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/chiselcad/chisel/internal/geom"
	"github.com/chiselcad/chisel/internal/scene"
)

// TransactionError wraps a failed transaction body.
type TransactionError struct {
	Err error
}

// Error implements the error interface.
func (e *TransactionError) Error() string {
	return fmt.Sprintf("contour transaction failed: %v", e.Err)
}

// Unwrap returns the body's error.
func (e *TransactionError) Unwrap() error { return e.Err }

// IsTransactionFailed reports whether err is (or wraps) a TransactionError.
func IsTransactionFailed(err error) bool {
	var te *TransactionError
	return errors.As(err, &te)
}

// Entry is one derived curve.
type Entry struct {
	// Key uniquely identifies the entry, conventionally "<owner>/<name>".
	Key string

	// Owner is the primary item id this entry derives from.
	Owner string

	// Data is the derived geometry.
	Data geom.Object
}

// DeriveFunc computes the derived entries of a primary item.
type DeriveFunc func(it *scene.Item) ([]Entry, error)

// OutlineDerive is the stock derivation: one outline entry per item,
// carrying the item's display digest so staleness is detectable.
func OutlineDerive(it *scene.Item) ([]Entry, error) {
	return []Entry{{
		Key:   it.ID + "/outline",
		Owner: it.ID,
		Data: geom.Object{
			"source": geom.Str(it.ID),
			"digest": geom.Str(it.Display.Digest),
		},
	}}, nil
}

// Manager owns the derived entry set.
type Manager struct {
	derive DeriveFunc
	log    *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	depth   int              // transaction nesting
	before  map[string]Entry // before-image, captured at outermost begin
}

// NewManager creates a manager using the given derivation.
func NewManager(derive DeriveFunc) *Manager {
	if derive == nil {
		derive = OutlineDerive
	}
	return &Manager{
		derive:  derive,
		log:     slog.Default().With("component", "contour"),
		entries: make(map[string]Entry),
	}
}

// Attach subscribes the manager to a scene store. Temporary previews
// never reach it: derived data follows committed state only.
func (m *Manager) Attach(s *scene.Store) {
	s.Subscribe(m)
}

// Transaction runs body atomically with respect to the derived state.
// Nested calls join the enclosing transaction: only the outermost
// capture rolls back, and it rolls back everything, so an inner failure
// undoes the outer batch's derived writes too.
func (m *Manager) Transaction(body func() error) error {
	m.mu.Lock()
	if m.depth == 0 {
		m.before = make(map[string]Entry, len(m.entries))
		for k, e := range m.entries {
			m.before[k] = e
		}
	}
	m.depth++
	m.mu.Unlock()

	err := body()

	m.mu.Lock()
	m.depth--
	outermost := m.depth == 0
	if err != nil && outermost {
		m.entries = m.before
		m.before = nil
		m.mu.Unlock()
		m.log.Warn("transaction rolled back", "error", err)
		return &TransactionError{Err: err}
	}
	if outermost {
		m.before = nil
	}
	m.mu.Unlock()

	if err != nil {
		// Inner failure: the join propagates it so the outermost capture
		// rolls back.
		return err
	}
	return nil
}

// Put inserts or replaces a derived entry.
func (m *Manager) Put(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
}

// Delete removes a derived entry. Unknown keys are a no-op.
func (m *Manager) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Get returns a derived entry by key.
func (m *Manager) Get(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok
}

// Entries returns all derived entries sorted by key.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Count returns the number of derived entries.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// OwnerEntries returns the entries derived from one primary item.
func (m *Manager) OwnerEntries(owner string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Owner == owner {
			out = append(out, e)
		}
	}
	return out
}

// ItemAdded implements scene.Listener: derive entries for the new item.
func (m *Manager) ItemAdded(it *scene.Item) {
	m.refresh(it)
}

// ItemChanged implements scene.Listener: rederive the item's entries.
func (m *Manager) ItemChanged(it *scene.Item) {
	m.refresh(it)
}

// ItemRemoved implements scene.Listener: drop the item's entries.
func (m *Manager) ItemRemoved(it *scene.Item) {
	err := m.Transaction(func() error {
		for _, e := range m.OwnerEntries(it.ID) {
			m.Delete(e.Key)
		}
		return nil
	})
	if err != nil {
		m.log.Warn("derived cleanup failed", "item", it.ID, "error", err)
	}
}

// refresh replaces an item's derived entries with a fresh derivation
// inside an implicit transaction.
func (m *Manager) refresh(it *scene.Item) {
	err := m.Transaction(func() error {
		derived, derr := m.derive(it)
		if derr != nil {
			return derr
		}
		for _, e := range m.OwnerEntries(it.ID) {
			m.Delete(e.Key)
		}
		for _, e := range derived {
			m.Put(e)
		}
		return nil
	})
	if err != nil {
		m.log.Warn("derivation failed, derived state unchanged", "item", it.ID, "error", err)
	}
}
