// Package merkleio implements whole-tree serialization of the Merkle model
// in internal/merkle (spec §4.4): a class-ID/version-tagged node stream read
// back through a stack of partially constructed internals rather than
// recursion, so a corrupt or hostile stream cannot exhaust the reader's
// stack. Grounded on fsmerkle.parseTreeCanonical's canonical encode/parse
// shape, restructured from that file's recursive reader into the explicit
// stack this package's Deserialize needs to bound memory via max_nodes.
package merkleio

import (
	"fmt"

	"github.com/hashgraph/merkleruntime/internal/constructable"
	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/merkleerr"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

// LeafPayload is the payload contract a leaf's application value must
// satisfy to take part in tree serialization: it already implements
// merkle.LeafValue for hashing, and additionally knows how to frame and
// restore its own wire payload, mirroring serialize.Serializable's
// WriteTo/ReadFrom pair but without the class-ID/version framing (merkleio
// writes that framing itself as part of the node record).
type LeafPayload interface {
	merkle.LeafValue
	MinimumSupportedVersion() int32
	WriteTo(w *streamio.Writer) error
	ReadFrom(r *streamio.Reader, version int32) error
}

// ExternalLeafPayload is a LeafPayload whose bulk content is stored outside
// the tree stream, addressed by content hash (the spec's "external
// serializable" form). ExternalBytes returns the bytes to store and hash;
// LoadExternal restores state from bytes resolved by that hash.
type ExternalLeafPayload interface {
	LeafPayload
	ExternalBytes() ([]byte, error)
	LoadExternal(data []byte) error
}

type leafConstructor func() LeafPayload

// internalShape carries a class's per-version child-count contract, the
// same signature merkle.NewInternal expects.
type internalShape struct {
	minChildren func(version int32) int
	maxChildren func(version int32) int
}

// Registry maps class IDs to leaf/internal constructors for Deserialize.
// Unlike constructable.Registry it has no Freeze and no lock, and it is
// keyed into two disjoint spaces (leaves vs internals) since a node
// record's shape (payload vs child_count) depends on knowing which before
// any bytes are read.
type Registry struct {
	leaves    map[int64]leafRegistration
	internals map[int64]internalShape
}

type leafRegistration struct {
	ctor         leafConstructor
	selfHashing  bool
	external     bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		leaves:    make(map[int64]leafRegistration),
		internals: make(map[int64]internalShape),
	}
}

// RegisterLeaf associates classID with a leaf payload constructor.
// selfHashing marks a leaf class whose hash is always supplied externally
// (never recomputed from CanonicalBytes); external marks a class whose
// payload implements ExternalLeafPayload and should be resolved through the
// ExternalSource/ExternalSink supplied to Deserialize/Serialize rather than
// framed inline.
func (reg *Registry) RegisterLeaf(classID int64, ctor func() LeafPayload, selfHashing, external bool) {
	if classID == constructable.NullClassID {
		panic("merkleio: class id 0 is reserved for NullClassID")
	}
	if _, exists := reg.leaves[classID]; exists {
		panic(fmt.Sprintf("merkleio: leaf class id %#x already registered", classID))
	}
	if _, exists := reg.internals[classID]; exists {
		panic(fmt.Sprintf("merkleio: class id %#x already registered as internal", classID))
	}
	reg.leaves[classID] = leafRegistration{ctor: ctor, selfHashing: selfHashing, external: external}
}

// RegisterInternal associates classID with the min/max child-count
// functions used both to construct merkle.Internal nodes on decode and to
// validate declared child counts.
func (reg *Registry) RegisterInternal(classID int64, minChildren, maxChildren func(version int32) int) {
	if classID == constructable.NullClassID {
		panic("merkleio: class id 0 is reserved for NullClassID")
	}
	if _, exists := reg.internals[classID]; exists {
		panic(fmt.Sprintf("merkleio: internal class id %#x already registered", classID))
	}
	if _, exists := reg.leaves[classID]; exists {
		panic(fmt.Sprintf("merkleio: class id %#x already registered as leaf", classID))
	}
	reg.internals[classID] = internalShape{minChildren: minChildren, maxChildren: maxChildren}
}

// NewLeafPayload constructs a fresh, empty leaf payload for classID along
// with its registered self-hashing flag, for callers (sync2) that need to
// build a payload outside of a full Deserialize call.
func (reg *Registry) NewLeafPayload(classID int64) (payload LeafPayload, selfHashing bool, err error) {
	l, ok := reg.leaves[classID]
	if !ok {
		return nil, false, fmt.Errorf("%w: leaf class id %#x", merkleerr.ErrClassNotFound, classID)
	}
	return l.ctor(), l.selfHashing, nil
}

// InternalShape returns the registered min/max child-count functions for
// classID, for callers that need to construct a merkle.Internal outside of
// a full Deserialize call.
func (reg *Registry) InternalShape(classID int64) (minChildren, maxChildren func(version int32) int, ok bool) {
	s, ok := reg.internals[classID]
	if !ok {
		return nil, nil, false
	}
	return s.minChildren, s.maxChildren, true
}

func (reg *Registry) lookup(classID int64) (leafRegistration, internalShape, bool, error) {
	if l, ok := reg.leaves[classID]; ok {
		return l, internalShape{}, true, nil
	}
	if s, ok := reg.internals[classID]; ok {
		return leafRegistration{}, s, false, nil
	}
	return leafRegistration{}, internalShape{}, false, fmt.Errorf("%w: class id %#x", merkleerr.ErrClassNotFound, classID)
}
