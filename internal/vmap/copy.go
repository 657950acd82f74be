// Package vmap implements the virtual-map fast-copy lifecycle pipeline
// (spec §3.5/§4.7): an ordered chain of copy-on-write snapshots that are
// hashed, flushed to durable storage, and merged forward into their
// immediate successor by a single background worker, with back-pressure on
// the registering caller when the flush backlog grows.
package vmap

import (
	"sync"

	"github.com/hashgraph/merkleruntime/internal/merkle"
)

// VirtualRoot is one fast-copy generation: a root node plus the lifecycle
// flags the pipeline drives it through (spec §4.7 state machine:
// mutable → immutable → (hashed) → (flushed | merged) → released →
// removed, with detached an orthogonal flag settable any time after
// immutable).
type VirtualRoot struct {
	mu sync.Mutex

	root merkle.Node
	seq  uint64

	immutable       bool
	hashed          bool
	flushed         bool
	merged          bool
	released        bool
	detached        bool
	shouldBeFlushed bool
	shouldBeMerged  bool

	onShutdown func(immediately bool)
}

func newVirtualRoot(root merkle.Node, seq uint64) *VirtualRoot {
	return &VirtualRoot{root: root, seq: seq}
}

// Root returns the copy's current root node.
func (c *VirtualRoot) Root() merkle.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// Copy derives the next mutable generation from c: c is marked immutable
// (rejecting further structural mutation of its root) and a new VirtualRoot
// wrapping a shallow clone of c's root is returned, ready for the caller to
// mutate independently. Calling Copy on an already-immutable c is a
// programmer error — only the newest (mutable) copy may be copied forward.
func (c *VirtualRoot) Copy(nextSeq uint64) (*VirtualRoot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.immutable {
		return nil, errAlreadyImmutable
	}
	c.immutable = true

	internal, ok := c.root.(*merkle.Internal)
	if !ok {
		return nil, errRootNotInternal
	}
	internal.SetImmutable()
	return newVirtualRoot(internal.Clone(), nextSeq), nil
}

// MarkShouldBeFlushed requests that the pipeline flush this copy to durable
// storage on a future pass.
func (c *VirtualRoot) MarkShouldBeFlushed() {
	c.mu.Lock()
	c.shouldBeFlushed = true
	c.mu.Unlock()
}

// MarkShouldBeMerged requests that the pipeline fold this copy forward into
// its immediate (immutable) successor on a future pass.
func (c *VirtualRoot) MarkShouldBeMerged() {
	c.mu.Lock()
	c.shouldBeMerged = true
	c.mu.Unlock()
}

// Release marks the copy released: once also flushed or merged, the
// pipeline removes it from the chain on its next pass.
func (c *VirtualRoot) Release() {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
}

// Detach splits the copy off from the normal chain so it no longer blocks
// merges or flushes of its neighbors. Detaching does not itself run any
// hash/flush/merge work; use Pipeline.DetachCopy to pause the worker for
// the duration of out-of-band detachment.
func (c *VirtualRoot) Detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// SetOnShutdown registers a callback invoked by Pipeline.shutdownNow's
// immediate-shutdown path when this is the most recently registered copy.
func (c *VirtualRoot) SetOnShutdown(fn func(immediately bool)) {
	c.mu.Lock()
	c.onShutdown = fn
	c.mu.Unlock()
}

func (c *VirtualRoot) isImmutable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.immutable
}

func (c *VirtualRoot) isHashed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hashed
}

func (c *VirtualRoot) isFlushed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushed
}

func (c *VirtualRoot) isMerged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merged
}

func (c *VirtualRoot) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *VirtualRoot) isDetached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

func (c *VirtualRoot) shouldFlush() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldBeFlushed && c.immutable && !c.flushed
}

func (c *VirtualRoot) shouldMerge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldBeMerged && (c.released || c.detached) && !c.merged
}

func (c *VirtualRoot) markHashed() {
	c.mu.Lock()
	c.hashed = true
	c.mu.Unlock()
}

func (c *VirtualRoot) markFlushed() {
	c.mu.Lock()
	c.flushed = true
	c.mu.Unlock()
}

func (c *VirtualRoot) markMerged() {
	c.mu.Lock()
	c.merged = true
	c.mu.Unlock()
}

func (c *VirtualRoot) runShutdown(immediately bool) {
	c.mu.Lock()
	fn := c.onShutdown
	c.mu.Unlock()
	if fn != nil {
		fn(immediately)
	}
}

// flushBlockedContribution implements the per-pass flush_blocked update of
// spec §4.7 step 4 for this copy.
func (c *VirtualRoot) flushBlockedContribution() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !(c.released || c.detached) ||
		(c.shouldBeMerged && !c.merged) ||
		(c.shouldBeFlushed && !c.flushed)
}
