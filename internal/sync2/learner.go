package sync2

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/merkleerr"
	"github.com/hashgraph/merkleruntime/internal/merkleio"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

// LocalTree resolves a previously-held subtree by its hash, letting a
// reconnecting learner reattach a subtree it already has rather than
// rebuilding it from scratch. A learner with no prior state can supply an
// implementation that always misses.
type LocalTree interface {
	FindByHash(h merkle.Hash) (merkle.Node, bool)
}

// verifyEntry defers an internal node's hash check until its children have
// had a chance to attach (an internal's hash is a function of its children,
// which may still be arriving when the internal itself is built).
type verifyEntry struct {
	node merkle.Node
	want merkle.Hash
}

// Learner is the receiving side of the synchronizer: it answers the
// teacher's node offers in arrival order and reconstructs the tree being
// advertised.
type Learner struct {
	w        *streamio.Writer
	r        *streamio.Reader
	registry *merkleio.Registry
	local    LocalTree

	expected    *fifo[expectedChild]
	builtByHash map[merkle.Hash]merkle.Node
	verify      []verifyEntry
}

// NewLearner constructs a Learner reading/writing conn's framed streams,
// resolving class shapes from registry and reusing subtrees local already
// holds when the teacher reports them already known.
func NewLearner(conn io.ReadWriter, registry *merkleio.Registry, local LocalTree) *Learner {
	return &Learner{
		w:           streamio.NewWriter(conn),
		r:           streamio.NewReader(conn),
		registry:    registry,
		local:       local,
		expected:    newFifo[expectedChild](),
		builtByHash: make(map[merkle.Hash]merkle.Node),
	}
}

// Run drives the learner until the teacher's side closes the connection
// after its last offer is acked, returning the reconstructed root (nil for
// a null tree).
func (l *Learner) Run(ctx context.Context) (merkle.Node, error) {
	var root merkle.Node
	first := true

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		msg, err := readNodeDataMessage(l.r, l.registry)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if l.expected.len() != 0 {
					return nil, fmt.Errorf("%w: connection closed with nodes still outstanding", merkleerr.ErrMerkleSynchronization)
				}
				if err := l.verifyAll(); err != nil {
					return nil, err
				}
				return root, nil
			}
			return nil, fmt.Errorf("%w: %v", merkleerr.ErrMerkleSynchronization, err)
		}

		var exp expectedChild
		isRoot := first
		if !first {
			exp, err = l.expected.pop(0)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", merkleerr.ErrMerkleSynchronization, err)
			}
		}
		first = false

		node, affirmative, err := l.resolve(msg, exp)
		if err != nil {
			return nil, err
		}
		if err := writeAck(l.w, affirmative); err != nil {
			return nil, fmt.Errorf("%w: %v", merkleerr.ErrMerkleSynchronization, err)
		}

		if isRoot {
			root = node
			continue
		}
		if node == nil {
			continue
		}
		if err := exp.parent.SetChild(exp.index, node); err != nil {
			return nil, err
		}
	}
}

// resolve builds (or reuses) the node msg describes, returning it along
// with the ack to send: true when nothing further is needed for this node,
// false when the teacher should follow up with its children (the only
// case, for a well-behaved teacher, is a freshly-offered internal).
func (l *Learner) resolve(msg *nodeDataMessage, exp expectedChild) (merkle.Node, bool, error) {
	if msg.empty {
		if exp.parent == nil {
			return nil, true, nil
		}
		node, ok := l.lookupByHash(exp.hash)
		if !ok {
			return nil, false, fmt.Errorf("%w: teacher reports hash %x already known, but it is not", merkleerr.ErrMerkleSynchronization, exp.hash)
		}
		node.Retain()
		return node, true, nil
	}

	if msg.isLeaf {
		leaf := merkle.NewLeaf(msg.classID, msg.version, msg.leaf, msg.isLeafSelfHashing)
		if msg.isLeafSelfHashing {
			leaf.SetExternalHash(msg.externalHash)
		}
		h, ok := leaf.Hash()
		if !ok {
			return nil, false, fmt.Errorf("%w: leaf class %#x produced no hash", merkleerr.ErrMerkleSynchronization, msg.classID)
		}
		if exp.parent != nil && h != exp.hash {
			return nil, false, fmt.Errorf("%w: leaf class %#x hash does not match parent's advertised hash", merkleerr.ErrMerkleSynchronization, msg.classID)
		}
		if existing, ok := l.lookupByHash(h); ok {
			existing.Retain()
			return existing, true, nil
		}
		l.builtByHash[h] = leaf
		return leaf, true, nil
	}

	minChildren, maxChildren, ok := l.registry.InternalShape(msg.classID)
	if !ok {
		return nil, false, fmt.Errorf("%w: internal class id %#x", merkleerr.ErrClassNotFound, msg.classID)
	}

	advertised := make([]*merkle.Hash, len(msg.children))
	for i, c := range msg.children {
		if !c.present {
			continue
		}
		h := c.hash
		advertised[i] = &h
	}
	want := merkle.HashInternal(msg.classID, msg.version, advertised)
	if exp.parent != nil && want != exp.hash {
		return nil, false, fmt.Errorf("%w: internal class %#x hash does not match parent's advertised hash", merkleerr.ErrMerkleSynchronization, msg.classID)
	}

	// The learner's local mirror may already hold this exact subtree (by
	// content hash) even though the teacher is offering it in full — the
	// teacher always offers the root in full on the first exchange and only
	// learns of a match once the learner acks. Checking here, before
	// enqueuing any children, is what lets a reconnecting learner with an
	// identical tree finish in one exchange instead of re-descending.
	if existing, ok := l.lookupByHash(want); ok {
		existing.Retain()
		return existing, true, nil
	}

	internal := merkle.NewInternal(msg.classID, msg.version, minChildren, maxChildren)
	if err := internal.ValidateChildCount(len(msg.children)); err != nil {
		return nil, false, err
	}
	for i, c := range msg.children {
		if !c.present {
			continue
		}
		if err := l.expected.push(expectedChild{parent: internal, index: i, hash: c.hash}); err != nil {
			return nil, false, err
		}
	}
	l.verify = append(l.verify, verifyEntry{node: internal, want: want})
	return internal, false, nil
}

// lookupByHash checks nodes built earlier in this session before falling
// back to the caller's persisted mirror, so a subtree referenced twice in
// one exchange is never rebuilt from the second offer.
func (l *Learner) lookupByHash(h merkle.Hash) (merkle.Node, bool) {
	if node, ok := l.builtByHash[h]; ok {
		return node, true
	}
	return l.local.FindByHash(h)
}

// verifyAll checks every internal built during Run against the hash its
// parent's message advertised for it, now that every child has had a chance
// to attach. This is the learner-side half of spec property 10: a mismatch
// here means the teacher's advertised child hashes and the actual delivered
// subtree disagree, which is always a protocol violation rather than a
// legitimate partial state.
func (l *Learner) verifyAll() error {
	for _, v := range l.verify {
		got, ok := v.node.Hash()
		if !ok || got != v.want {
			return fmt.Errorf("%w: internal class %#x hash mismatch after reconstruction", merkleerr.ErrMerkleSynchronization, v.node.ClassID())
		}
	}
	return nil
}
