// Package merkle implements the Merkle tree model of spec §3.3/§3.4: leaf
// and internal nodes addressed by route, reference-counted, lazily hashed.
// Nodes are linked by direct pointers rather than an arena+index table —
// the teacher's fsmerkle.TreeNode/Entry already models a DAG this way, and
// a pointer tree keeps the release/reference-count bookkeeping close to the
// node it describes instead of behind a side table.
package merkle

import (
	"fmt"
	"sync"

	"lukechampine.com/blake3"

	"github.com/hashgraph/merkleruntime/internal/merkleerr"
)

// HashSize is the digest length used for Merkle node hashes (spec §4.4:
// "hash : 48-byte digest"). blake3's extendable output lets a single
// hash family serve both the 32-byte content-addressing hashes elsewhere in
// this module and this 48-byte node hash, rather than mixing hash
// algorithms.
const HashSize = 48

// Hash is a node digest.
type Hash [HashSize]byte

// IsZero reports whether h is the zero hash (used as a "no child"/"empty
// subtree" sentinel in diffing and synchronization, never a real digest
// since digesting any input yields an essentially-never-zero output).
func (h Hash) IsZero() bool { return h == Hash{} }

func sumNode(data []byte) Hash {
	var h Hash
	d := blake3.New(HashSize, nil)
	d.Write(data)
	copy(h[:], d.Sum(nil))
	return h
}

// LeafValue is the application payload carried by a Leaf. CanonicalBytes
// must be deterministic: equal logical values must produce identical bytes.
type LeafValue interface {
	ClassID() int64
	Version() int32
	CanonicalBytes() ([]byte, error)
}

// lifecycle is the shared mutable state of every node: route, refcount,
// hash, and the immutable/released flags. It is embedded by Leaf and
// Internal rather than duplicated, mirroring how the teacher's
// store.SharedDB embeds refcounting once and reuses it.
type lifecycle struct {
	mu        sync.Mutex
	route     Route
	hash      *Hash
	refCount  int32
	immutable bool
	released  bool
}

func newLifecycle() *lifecycle {
	return &lifecycle{refCount: 1}
}

func (l *lifecycle) Route() Route {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.route
}

func (l *lifecycle) setRoute(r Route) {
	l.mu.Lock()
	l.route = r
	l.mu.Unlock()
}

func (l *lifecycle) checkMutable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return fmt.Errorf("%w: node is released", merkleerr.ErrMerkleSerialization)
	}
	if l.immutable {
		return fmt.Errorf("%w: node is immutable", merkleerr.ErrMerkleSerialization)
	}
	return nil
}

func (l *lifecycle) IsImmutable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.immutable
}

func (l *lifecycle) SetImmutable() {
	l.mu.Lock()
	l.immutable = true
	l.mu.Unlock()
}

func (l *lifecycle) IsReleased() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

func (l *lifecycle) ReferenceCount() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refCount
}

// Retain bumps the reference count, used when a subtree is shared across
// more than one owning tree (spec §3.3 invariant: shared subtrees MUST bump
// reference counts).
func (l *lifecycle) Retain() {
	l.mu.Lock()
	l.refCount++
	l.mu.Unlock()
}

// release decrements the reference count and marks the node released,
// rejecting further mutation regardless of the resulting count; it reports
// whether the count reached zero (storage may now be reclaimed).
func (l *lifecycle) release() (reachedZero bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released && l.refCount <= 0 {
		return false, fmt.Errorf("%w: node already fully released", merkleerr.ErrMerkleSerialization)
	}
	l.released = true
	l.refCount--
	return l.refCount <= 0, nil
}

func (l *lifecycle) getHash() (Hash, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hash == nil {
		return Hash{}, false
	}
	return *l.hash, true
}

func (l *lifecycle) setHash(h Hash) {
	l.mu.Lock()
	l.hash = &h
	l.mu.Unlock()
}

func (l *lifecycle) clearHash() {
	l.mu.Lock()
	l.hash = nil
	l.mu.Unlock()
}

// Node is the common interface implemented by Leaf and Internal.
type Node interface {
	ClassID() int64
	Version() int32
	Route() Route
	IsLeaf() bool
	Hash() (Hash, bool)
	CachedHash() (Hash, bool)
	ReferenceCount() int32
	Retain()
	Release() (reachedZero bool, err error)
	IsImmutable() bool
	SetImmutable()
	IsReleased() bool
}

// Leaf carries an application value (spec §3.3).
type Leaf struct {
	*lifecycle
	classID     int64
	version     int32
	value       LeafValue
	selfHashing bool
}

// NewLeaf constructs a mutable Leaf wrapping value. selfHashing marks a leaf
// whose hash is supplied externally (e.g. content-addressed payload stored
// out of band) rather than computed from CanonicalBytes; such a leaf's hash
// must never be overwritten once set via SetExternalHash.
func NewLeaf(classID int64, version int32, value LeafValue, selfHashing bool) *Leaf {
	return &Leaf{
		lifecycle: newLifecycle(),
		classID:   classID,
		version:   version,
		value:     value,
		selfHashing: selfHashing,
	}
}

func (n *Leaf) ClassID() int64 { return n.classID }
func (n *Leaf) Version() int32 { return n.version }
func (n *Leaf) IsLeaf() bool    { return true }

// Value returns the leaf's application payload.
func (n *Leaf) Value() LeafValue { return n.value }

// IsSelfHashing reports whether this leaf's hash is supplied externally.
func (n *Leaf) IsSelfHashing() bool { return n.selfHashing }

// SetExternalHash sets the hash of a self-hashing leaf. It is a programmer
// error to call this on a non-self-hashing leaf.
func (n *Leaf) SetExternalHash(h Hash) {
	if !n.selfHashing {
		panic("merkle: SetExternalHash called on a non-self-hashing leaf")
	}
	n.setHash(h)
}

// Hash returns the leaf's hash, computing and caching it lazily from
// CanonicalBytes unless the leaf is self-hashing (in which case the hash
// must already have been supplied via SetExternalHash; a self-hashing leaf
// with no hash is a fatal invariant violation per spec §4.5).
func (n *Leaf) Hash() (Hash, bool) {
	if h, ok := n.getHash(); ok {
		return h, true
	}
	if n.selfHashing {
		return Hash{}, false
	}
	raw, err := n.value.CanonicalBytes()
	if err != nil {
		return Hash{}, false
	}
	h := sumNode(raw)
	n.setHash(h)
	return h, true
}

// Release implements Node.Release.
func (n *Leaf) Release() (bool, error) { return n.release() }

// PrimeHash sets the leaf's cached hash directly, bypassing both
// CanonicalBytes recomputation and the self-hashing-only restriction of
// SetExternalHash. It exists for a trusted deserializer (merkleio) that
// already read the authoritative hash off the wire for a freshly
// constructed leaf.
func (n *Leaf) PrimeHash(h Hash) { n.setHash(h) }

// SetRoute sets the leaf's route (called by the owning Internal when the
// leaf is attached as a child).
func (n *Leaf) SetRoute(r Route) { n.setRoute(r) }

// Internal is the N-ary (commonly binary) node of the tree (spec §3.3).
// Its hash is a function of the ordered child hashes plus its class ID and
// version.
type Internal struct {
	*lifecycle
	classID     int64
	version     int32
	minChildren func(version int32) int
	maxChildren func(version int32) int
	children    []Node
}

// NewInternal constructs a mutable Internal node. minChildren/maxChildren
// implement the class's per-version child-count contract (spec §4.4); pass
// nil for either to accept any non-negative count.
func NewInternal(classID int64, version int32, minChildren, maxChildren func(version int32) int) *Internal {
	return &Internal{
		lifecycle:   newLifecycle(),
		classID:     classID,
		version:     version,
		minChildren: minChildren,
		maxChildren: maxChildren,
	}
}

func (n *Internal) ClassID() int64 { return n.classID }
func (n *Internal) Version() int32 { return n.version }
func (n *Internal) IsLeaf() bool    { return false }

// ChildCount returns the number of children currently set.
func (n *Internal) ChildCount() int { return len(n.children) }

// Child returns the child at index i, or nil if unset.
func (n *Internal) Child(i int) Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.children[i]
}

// Children returns a defensive copy of the child slice.
func (n *Internal) Children() []Node {
	out := make([]Node, len(n.children))
	copy(out, n.children)
	return out
}

// MinChildren reports the minimum legal child count for this node's version.
func (n *Internal) MinChildren() int {
	if n.minChildren == nil {
		return 0
	}
	return n.minChildren(n.version)
}

// MaxChildren reports the maximum legal child count for this node's version.
// A negative result means unbounded.
func (n *Internal) MaxChildren() int {
	if n.maxChildren == nil {
		return -1
	}
	return n.maxChildren(n.version)
}

// ValidateChildCount checks count against [MinChildren, MaxChildren],
// returning merkleerr.ErrIllegalChildCount if it falls outside.
func (n *Internal) ValidateChildCount(count int) error {
	min := n.MinChildren()
	max := n.MaxChildren()
	if count < min || (max >= 0 && count > max) {
		return fmt.Errorf("%w: class %#x version %d got %d children, want [%d, %d]",
			merkleerr.ErrIllegalChildCount, n.classID, n.version, count, min, max)
	}
	return nil
}

// SetChild sets the child at index i, updating the child's route to the
// parent's route extended by i (spec §3.3 invariant). SetChild does not
// change the child's reference count: a caller reusing a child from
// elsewhere Retain()s it first; SetChild only wires the route and storage
// slot. Setting a child invalidates this node's cached hash.
func (n *Internal) SetChild(i int, child Node) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	if i < 0 {
		return fmt.Errorf("%w: negative child index %d", merkleerr.ErrBadIO, i)
	}
	for len(n.children) <= i {
		n.children = append(n.children, nil)
	}
	n.children[i] = child
	if child != nil {
		childRoute := n.route.Extend(int32(i))
		switch c := child.(type) {
		case *Leaf:
			c.SetRoute(childRoute)
		case *Internal:
			c.setRoute(childRoute)
			c.propagateRoute()
		}
	}
	n.clearHash()
	return nil
}

// propagateRoute refreshes the routes of all descendants after this node's
// own route changed (e.g. it was attached under a new parent).
func (n *Internal) propagateRoute() {
	for i, child := range n.children {
		if child == nil {
			continue
		}
		childRoute := n.route.Extend(int32(i))
		switch c := child.(type) {
		case *Leaf:
			c.SetRoute(childRoute)
		case *Internal:
			c.setRoute(childRoute)
			c.propagateRoute()
		}
	}
}

// Hash returns the internal node's hash, computing it lazily as a function
// of the ordered child hashes plus class ID and version (spec §3.3). Child
// hashes are obtained by calling each child's Hash, which computes them
// recursively when not cached; Hash returns (zero, false) if any child
// cannot produce a hash.
func (n *Internal) Hash() (Hash, bool) {
	if h, ok := n.getHash(); ok {
		return h, true
	}

	childHashes := make([]*Hash, len(n.children))
	for i, child := range n.children {
		if child == nil {
			continue
		}
		ch, ok := child.Hash()
		if !ok {
			return Hash{}, false
		}
		childHashes[i] = &ch
	}
	h := HashInternal(n.classID, n.version, childHashes)
	n.setHash(h)
	return h, true
}

// HashInternal computes the hash an Internal node with the given class ID,
// version, and ordered child hashes would produce, without requiring actual
// child Node instances — used by the synchronizer to verify a just-received
// internal's advertised child hashes before any of its children have
// arrived (spec §4.6 property 10: subtrees whose hash matches at both ends
// are not transmitted in full).
func HashInternal(classID int64, version int32, childHashes []*Hash) Hash {
	var buf []byte
	buf = appendInt64(buf, classID)
	buf = appendInt32(buf, version)
	for _, ch := range childHashes {
		if ch == nil {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		buf = append(buf, ch[:]...)
	}
	return sumNode(buf)
}

// Release implements Node.Release. When this node's own reference count
// reaches zero, each child is released in turn; a child's own reference
// count governs whether it is actually reclaimed (spec §3.3: a node
// reachable from more than one tree bumps its reference count, so release
// of one parent need not reclaim a shared child). While this node's count
// stays above zero its children are left untouched.
func (n *Internal) Release() (bool, error) {
	reachedZero, err := n.release()
	if err != nil {
		return false, err
	}
	if reachedZero {
		for _, child := range n.children {
			if child != nil {
				if _, err := child.Release(); err != nil {
					return reachedZero, err
				}
			}
		}
	}
	return reachedZero, nil
}

// PrimeHash sets the internal node's cached hash directly, the Internal
// counterpart of Leaf.PrimeHash for a trusted deserializer.
func (n *Internal) PrimeHash(h Hash) { n.setHash(h) }

// Clone returns a new, mutable Internal with the same children as n, each
// child's reference count bumped rather than copied. Used by a virtual-map
// fast-copy to derive its next mutable generation without mutating the
// immutable predecessor it is copied from: the clone's own children slice
// is independent, so SetChild on the clone never affects n, while unchanged
// subtrees are shared by reference rather than deep-copied.
func (n *Internal) Clone() *Internal {
	clone := NewInternal(n.classID, n.version, n.minChildren, n.maxChildren)
	clone.children = make([]Node, len(n.children))
	for i, child := range n.children {
		if child == nil {
			continue
		}
		child.Retain()
		clone.children[i] = child
	}
	clone.setRoute(n.Route())
	return clone
}

func appendInt64(buf []byte, v int64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendInt32(buf []byte, v int32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
