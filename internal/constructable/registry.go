// Package constructable implements the process-wide class-ID → constructor
// registry that backs polymorphic deserialization. Registration happens once
// during initialization (mirroring the way the teacher's store.Manager
// hands out a single shared *DB rather than reopening per call); after
// Freeze no further registration is accepted, so lookups only ever take the
// read lock and never contend with a writer.
package constructable

import (
	"fmt"
	"sync"

	"github.com/hashgraph/merkleruntime/internal/merkleerr"
)

// NullClassID is the reserved class ID meaning "this position holds a null
// serializable" (spec §3.2). It is also used by merkle/merkleio as the
// sentinel for a missing child slot, and is guaranteed disjoint from every
// class ID a caller registers.
const NullClassID int64 = 0

// NullVersion is the companion version marker for a null serializable.
const NullVersion int32 = -1

// Constructable is anything identifiable by a stable class ID and
// constructible with no arguments, ready to have its state populated by a
// deserializer.
type Constructable interface {
	ClassID() int64
}

// Constructor produces a zero-valued instance of a registered class.
type Constructor func() Constructable

// Registry is a class-ID → constructor map. The zero Registry is usable.
type Registry struct {
	mu     sync.RWMutex
	ctors  map[int64]Constructor
	frozen bool
}

// New returns an empty, writable Registry.
func New() *Registry {
	return &Registry{ctors: make(map[int64]Constructor)}
}

// Register associates classID with constructor. Register panics if classID
// is NullClassID (reserved) or if the registry has been frozen — this is a
// programmer error, not a runtime condition, matching the spec's
// "registration occurs once during initialization" contract.
func (r *Registry) Register(classID int64, ctor Constructor) {
	if classID == NullClassID {
		panic("constructable: class id 0 is reserved for NullClassID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctors == nil {
		r.ctors = make(map[int64]Constructor)
	}
	if r.frozen {
		panic("constructable: Register called after Freeze")
	}
	if _, exists := r.ctors[classID]; exists {
		panic(fmt.Sprintf("constructable: class id %#x already registered", classID))
	}
	r.ctors[classID] = ctor
}

// Freeze marks the registry read-only. Lookup takes the read lock before and
// after Freeze; once frozen, no Register call contends for the lock.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the constructor registered for classID, or
// merkleerr.ErrClassNotFound if none was registered.
func (r *Registry) Lookup(classID int64) (Constructor, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[classID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: class id %#x", merkleerr.ErrClassNotFound, classID)
	}
	return ctor, nil
}

// New constructs a fresh instance of classID via its registered constructor.
func (r *Registry) New(classID int64) (Constructable, error) {
	ctor, err := r.Lookup(classID)
	if err != nil {
		return nil, err
	}
	return ctor(), nil
}
