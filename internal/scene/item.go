package scene

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chiselcad/chisel/internal/geom"
)

// Item is a geometric entity tracked by the Store.
//
// The store exclusively owns every item and its kernel object. Factories
// hold non-owning references to their preview items and must go through
// the store's add/remove/replace contract to mutate them.
type Item struct {
	// ID is the item's identity, stable across its lifetime (including
	// in-place kernel-object replacement).
	ID string

	// Kernel is the owned kernel object. Never mutated in place - a
	// geometric change goes through Store.Replace, which swaps the whole
	// object and bumps the version.
	Kernel geom.Object

	// Temporary marks preview items. Temporary items are invisible to
	// snapshots and undo machinery.
	Temporary bool

	// Version is the revision at which the kernel object last changed.
	// Monotonic per store; remembered versions detect stale references.
	Version int64

	// Display is the owned display representation, rebuilt whenever the
	// kernel object changes.
	Display Display
}

// Display is the item's renderable representation. Actual tessellation is
// the rendering collaborator's business; the core tracks only a content
// digest so observers can tell whether a rebuild is needed.
type Display struct {
	// Revision matches Item.Version at the time the display was built.
	Revision int64

	// Digest is the canonical-content hash of the kernel object.
	Digest string
}

// buildDisplay derives a display representation from a kernel object.
func buildDisplay(kernel geom.Object, revision int64) (Display, error) {
	data, err := geom.MarshalCanonical(kernel)
	if err != nil {
		return Display{}, fmt.Errorf("serialize kernel object: %w", err)
	}
	sum := sha256.Sum256(data)
	return Display{
		Revision: revision,
		Digest:   hex.EncodeToString(sum[:]),
	}, nil
}

// clone returns an independent copy of the item. Snapshots rely on this so
// restored state never aliases live objects.
func (it *Item) clone() *Item {
	return &Item{
		ID:        it.ID,
		Kernel:    it.Kernel.Clone(),
		Temporary: it.Temporary,
		Version:   it.Version,
		Display:   it.Display,
	}
}
