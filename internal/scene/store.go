// Package scene implements the persistent object store of the editor: the
// set of geometric items currently in the model, their selection state,
// and the snapshot machinery undo/redo is built on.
//
// The store is the only shared mutable resource in the core. All mutation
// goes through its narrow add/remove/replace contract; kernel objects are
// never mutated in place from outside. Every permanent mutation is
// observable through exactly one listener notification, consumed by the
// undo history, the derived-data manager, and the rendering collaborator.
package scene

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/chiselcad/chisel/internal/geom"
)

// Listener observes permanent item mutations. Temporary (preview) items
// are invisible here so previews never pollute undo history or derived
// data.
type Listener interface {
	// ItemAdded fires after a permanent item enters the store.
	ItemAdded(it *Item)

	// ItemChanged fires after a permanent item's kernel object is
	// replaced. Exactly one notification per Replace call - observers see
	// one transition, not a remove/add pair.
	ItemChanged(it *Item)

	// ItemRemoved fires after a permanent item leaves the store.
	ItemRemoved(it *Item)
}

// DisplayObserver observes display representation changes for ALL items,
// temporary included. This is the rendering collaborator's feed; it has no
// write access to the store.
type DisplayObserver interface {
	// DisplayUpdated fires when an item (re)builds its display.
	DisplayUpdated(it *Item)

	// DisplayRemoved fires when an item's display should be torn down.
	DisplayRemoved(id string)
}

// Store is the scene database.
//
// Invariants:
//   - exactly one item per identifier at any time
//   - every permanent mutation produces exactly one Listener notification
//   - temporary items never appear in snapshots
//
// Thread-safety: all methods are safe for concurrent use. Notifications
// fire outside the internal lock, in mutation order.
type Store struct {
	mu        sync.Mutex
	ids       IDGenerator
	clock     *RevisionClock
	items     map[string]*Item
	order     []string // insertion order, for deterministic snapshots
	selection map[string]struct{}
	listeners []Listener
	observers []DisplayObserver
}

// NewStore creates an empty store using the given identifier generator.
func NewStore(ids IDGenerator) *Store {
	return &Store{
		ids:       ids,
		clock:     NewRevisionClock(),
		items:     make(map[string]*Item),
		selection: make(map[string]struct{}),
	}
}

// Subscribe registers a listener for permanent item mutations.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Observe registers a display observer (rendering collaborator).
func (s *Store) Observe(o DisplayObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// event is a deferred notification, fired after the store lock is
// released so listeners may call back into the store.
type event struct {
	added     *Item
	changed   *Item
	removed   *Item
	display   *Item
	displayID string // removal
}

func (s *Store) fire(events []event) {
	for _, ev := range events {
		for _, l := range s.listeners {
			switch {
			case ev.added != nil:
				l.ItemAdded(ev.added)
			case ev.changed != nil:
				l.ItemChanged(ev.changed)
			case ev.removed != nil:
				l.ItemRemoved(ev.removed)
			}
		}
		for _, o := range s.observers {
			if ev.display != nil {
				o.DisplayUpdated(ev.display)
			}
			if ev.displayID != "" {
				o.DisplayRemoved(ev.displayID)
			}
		}
	}
}

// AddTemporary creates a temporary (preview) item backed by the given
// kernel object and returns its handle. The handle is a task resource:
// cancelling or finishing it without promotion removes the item and
// releases the kernel object. Persistence/undo listeners are NOT notified;
// display observers are, so previews render.
func (s *Store) AddTemporary(kernel geom.Object) (*TempItem, error) {
	s.mu.Lock()
	rev := s.clock.Next()
	display, err := buildDisplay(kernel, rev)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	it := &Item{
		ID:        s.ids.Generate(),
		Kernel:    kernel,
		Temporary: true,
		Version:   rev,
		Display:   display,
	}
	s.items[it.ID] = it
	s.order = append(s.order, it.ID)
	s.mu.Unlock()

	s.fire([]event{{display: it}})
	slog.Debug("temporary item added", "id", it.ID, "version", it.Version)

	return &TempItem{store: s, item: it}, nil
}

// Add creates a permanent item and notifies listeners.
func (s *Store) Add(kernel geom.Object) (*Item, error) {
	s.mu.Lock()
	rev := s.clock.Next()
	display, err := buildDisplay(kernel, rev)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	it := &Item{
		ID:      s.ids.Generate(),
		Kernel:  kernel,
		Version: rev,
		Display: display,
	}
	s.items[it.ID] = it
	s.order = append(s.order, it.ID)
	s.mu.Unlock()

	s.fire([]event{{added: it, display: it}})
	slog.Debug("item added", "id", it.ID, "version", it.Version)

	return it, nil
}

// Remove removes a permanent item and notifies listeners.
// Fails with NotFoundError if the item is absent (or temporary - temporary
// items are removed through their handle, not this method).
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	it, ok := s.items[id]
	if !ok || it.Temporary {
		s.mu.Unlock()
		return NewNotFoundError(id)
	}
	s.deleteLocked(id)
	s.mu.Unlock()

	s.fire([]event{{removed: it, displayID: id}})
	slog.Debug("item removed", "id", id)

	return nil
}

// Replace atomically swaps a permanent item's kernel object, bumping its
// version and rebuilding its display. Observers see a single ItemChanged
// transition, not a remove/add pair. The item's identity is preserved.
func (s *Store) Replace(id string, kernel geom.Object) (*Item, error) {
	s.mu.Lock()
	it, ok := s.items[id]
	if !ok || it.Temporary {
		s.mu.Unlock()
		return nil, NewNotFoundError(id)
	}

	rev := s.clock.Next()
	display, err := buildDisplay(kernel, rev)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	it.Kernel = kernel
	it.Version = rev
	it.Display = display
	s.mu.Unlock()

	s.fire([]event{{changed: it, display: it}})
	slog.Debug("item replaced", "id", id, "version", rev)

	return it, nil
}

// deleteLocked removes an item from the maps. Caller holds the lock.
func (s *Store) deleteLocked(id string) {
	delete(s.items, id)
	delete(s.selection, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Item returns the item with the given id. The returned item is owned by
// the store; callers must not mutate it.
func (s *Store) Item(id string) (*Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}

// Items returns all items (temporary included) in insertion order.
func (s *Store) Items() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// PermanentItems returns the permanent items in insertion order.
func (s *Store) PermanentItems() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		if it := s.items[id]; !it.Temporary {
			out = append(out, it)
		}
	}
	return out
}

// TemporaryCount returns the number of live temporary items.
func (s *Store) TemporaryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.Temporary {
			n++
		}
	}
	return n
}

// PermanentCount returns the number of permanent items.
func (s *Store) PermanentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if !it.Temporary {
			n++
		}
	}
	return n
}

// TempItem is the handle to a temporary item. It implements task.Resource:
// a preview that was neither promoted nor explicitly cancelled is removed
// when its owning node finishes or cancels, so no exit path leaks it.
type TempItem struct {
	store    *Store
	mu       sync.Mutex
	released bool
	item     *Item
}

// Item returns the underlying temporary item.
func (t *TempItem) Item() *Item {
	return t.item
}

// Cancel removes the temporary item from the store. Idempotent; a no-op
// after promotion.
func (t *TempItem) Cancel(ctx context.Context) error {
	return t.discard()
}

// Finish removes the temporary item unless it was promoted. A preview is
// never a success result by itself - commit promotes it first.
func (t *TempItem) Finish(ctx context.Context) error {
	return t.discard()
}

func (t *TempItem) discard() error {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return nil
	}
	t.released = true
	t.mu.Unlock()

	s := t.store
	s.mu.Lock()
	if _, ok := s.items[t.item.ID]; !ok {
		s.mu.Unlock()
		return nil
	}
	s.deleteLocked(t.item.ID)
	s.mu.Unlock()

	s.fire([]event{{displayID: t.item.ID}})
	slog.Debug("temporary item discarded", "id", t.item.ID)

	return nil
}

// Promote flips the temporary item to permanent in place, preserving its
// identity and kernel object, and fires ItemAdded. The handle is released;
// later Cancel/Finish calls are no-ops. Fails with NotFoundError if the
// item was already discarded.
func (t *TempItem) Promote() (*Item, error) {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return nil, NewNotFoundError(t.item.ID)
	}
	t.released = true
	t.mu.Unlock()

	s := t.store
	s.mu.Lock()
	it, ok := s.items[t.item.ID]
	if !ok || !it.Temporary {
		s.mu.Unlock()
		return nil, NewNotFoundError(t.item.ID)
	}
	it.Temporary = false
	s.mu.Unlock()

	s.fire([]event{{added: it}})
	slog.Debug("temporary item promoted", "id", it.ID)

	return it, nil
}

// ReplaceKernel swaps the temporary item's kernel object, bumping its
// version and display. This is the preview-update path: the item identity
// is stable across rapid repeated updates. Only display observers are
// notified.
func (t *TempItem) ReplaceKernel(kernel geom.Object) error {
	t.mu.Lock()
	released := t.released
	t.mu.Unlock()
	if released {
		return NewNotFoundError(t.item.ID)
	}

	s := t.store
	s.mu.Lock()
	it, ok := s.items[t.item.ID]
	if !ok {
		s.mu.Unlock()
		return NewNotFoundError(t.item.ID)
	}

	rev := s.clock.Next()
	display, err := buildDisplay(kernel, rev)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	it.Kernel = kernel
	it.Version = rev
	it.Display = display
	s.mu.Unlock()

	s.fire([]event{{display: it}})
	return nil
}

// Select adds an item to the selection set.
// Fails with NotFoundError for unknown items.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return NewNotFoundError(id)
	}
	s.selection[id] = struct{}{}
	return nil
}

// Deselect removes an item from the selection set. Unknown ids are
// ignored - deselecting is always safe.
func (s *Store) Deselect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selection, id)
}

// ClearSelection empties the selection set.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = make(map[string]struct{})
}

// Selection returns the selected item ids in canonical (sorted) order.
func (s *Store) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectionLocked()
}

func (s *Store) selectionLocked() []string {
	out := make([]string, 0, len(s.selection))
	for id := range s.selection {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// kernelEqual compares two kernel objects by canonical bytes.
func kernelEqual(a, b geom.Object) bool {
	ab, errA := geom.MarshalCanonical(a)
	bb, errB := geom.MarshalCanonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
