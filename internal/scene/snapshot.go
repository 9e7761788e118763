package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chiselcad/chisel/internal/geom"
)

// Snapshot is an immutable capture of the editable state: every permanent
// item (identifier plus serialized kernel object, sufficient for exact
// reconstruction) and the selection set. Temporary items are excluded.
//
// Snapshots are independent of live objects - kernel objects are deep
// copied at capture time - so restoring one later cannot be corrupted by
// mutations that happened in between.
type Snapshot struct {
	// Items holds permanent items in scene insertion order.
	Items []ItemRecord `json:"items"`

	// Selection holds selected item ids in canonical (sorted) order.
	Selection []string `json:"selection"`
}

// ItemRecord is one item in a snapshot.
type ItemRecord struct {
	// ID is the item identifier.
	ID string `json:"id"`

	// Kernel is the canonical JSON serialization of the kernel object.
	Kernel json.RawMessage `json:"kernel"`
}

// Snapshot captures the current editable state.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{Selection: []string{}}
	for _, id := range s.selectionLocked() {
		if it, ok := s.items[id]; ok && !it.Temporary {
			snap.Selection = append(snap.Selection, id)
		}
	}
	for _, id := range s.order {
		it := s.items[id]
		if it.Temporary {
			continue
		}
		data, err := geom.MarshalCanonical(it.Kernel)
		if err != nil {
			return nil, fmt.Errorf("snapshot item %s: %w", id, err)
		}
		snap.Items = append(snap.Items, ItemRecord{ID: id, Kernel: data})
	}
	return snap, nil
}

// CanonicalBytes serializes the snapshot deterministically. Two snapshots
// of equal state always produce identical bytes; this is the format the
// undo history, the sqlite snapshot log, and golden files all share.
func (snap *Snapshot) CanonicalBytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"items":[`)
	for i, rec := range snap.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		idBytes, err := geom.MarshalCanonical(rec.ID)
		if err != nil {
			return nil, fmt.Errorf("item id %q: %w", rec.ID, err)
		}
		buf.WriteString(`{"id":`)
		buf.Write(idBytes)
		buf.WriteString(`,"kernel":`)
		buf.Write(rec.Kernel) // already canonical
		buf.WriteByte('}')
	}
	buf.WriteString(`],"selection":[`)
	for i, id := range snap.Selection {
		if i > 0 {
			buf.WriteByte(',')
		}
		idBytes, err := geom.MarshalCanonical(id)
		if err != nil {
			return nil, fmt.Errorf("selection id %q: %w", id, err)
		}
		buf.Write(idBytes)
	}
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}

// ParseSnapshot decodes the canonical snapshot format.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Selection == nil {
		snap.Selection = []string{}
	}
	return &snap, nil
}

// Equal reports whether two snapshots capture the same state.
func (snap *Snapshot) Equal(other *Snapshot) bool {
	a, errA := snap.CanonicalBytes()
	b, errB := other.CanonicalBytes()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// Restore applies a snapshot to the store as a diff: items absent from the
// target are removed, items present are re-added or have their kernel
// objects restored from the serialized form. Listeners observe the
// individual transitions, so derived data stays consistent. Temporary
// items are untouched - the executor cancels the active command (and with
// it all previews) before history restores a snapshot.
func (s *Store) Restore(snap *Snapshot) error {
	// Decode first so a malformed snapshot cannot half-apply.
	restored := make(map[string]geom.Object, len(snap.Items))
	for _, rec := range snap.Items {
		v, err := geom.UnmarshalValue(rec.Kernel)
		if err != nil {
			return fmt.Errorf("restore item %s: %w", rec.ID, err)
		}
		obj, ok := v.(geom.Object)
		if !ok {
			return fmt.Errorf("restore item %s: kernel is %T, want object", rec.ID, v)
		}
		restored[rec.ID] = obj
	}

	s.mu.Lock()

	var events []event

	// Remove permanent items absent from the target.
	for _, id := range append([]string(nil), s.order...) {
		it := s.items[id]
		if it.Temporary {
			continue
		}
		if _, keep := restored[id]; !keep {
			s.deleteLocked(id)
			events = append(events, event{removed: it, displayID: id})
		}
	}

	// Re-add or restore items present in the target, rebuilding insertion
	// order to match the snapshot. Surviving temporaries stay at the end.
	var tempOrder []string
	for _, id := range s.order {
		if s.items[id].Temporary {
			tempOrder = append(tempOrder, id)
		}
	}
	newOrder := make([]string, 0, len(snap.Items)+len(tempOrder))

	for _, rec := range snap.Items {
		kernel := restored[rec.ID]
		if existing, ok := s.items[rec.ID]; ok {
			newOrder = append(newOrder, rec.ID)
			if kernelEqual(existing.Kernel, kernel) {
				continue
			}
			rev := s.clock.Next()
			display, err := buildDisplay(kernel, rev)
			if err != nil {
				s.mu.Unlock()
				s.fire(events)
				return err
			}
			existing.Kernel = kernel
			existing.Version = rev
			existing.Display = display
			events = append(events, event{changed: existing, display: existing})
			continue
		}

		rev := s.clock.Next()
		display, err := buildDisplay(kernel, rev)
		if err != nil {
			s.mu.Unlock()
			s.fire(events)
			return err
		}
		it := &Item{
			ID:      rec.ID,
			Kernel:  kernel,
			Version: rev,
			Display: display,
		}
		s.items[it.ID] = it
		newOrder = append(newOrder, it.ID)
		events = append(events, event{added: it, display: it})
	}

	s.order = append(newOrder, tempOrder...)

	// Restore selection, dropping ids the snapshot knows but the store
	// somehow lost (defunct selections must not resurrect items).
	s.selection = make(map[string]struct{}, len(snap.Selection))
	for _, id := range snap.Selection {
		if _, ok := s.items[id]; ok {
			s.selection[id] = struct{}{}
		}
	}

	s.mu.Unlock()
	s.fire(events)

	slog.Debug("snapshot restored",
		"items", len(snap.Items),
		"selection", len(snap.Selection),
	)
	return nil
}
