// Package sync2 implements the bidirectional teacher/learner Merkle
// synchronizer of spec §4.6: a pipelined protocol where the teacher keeps
// many outstanding node offers in flight while the learner answers them in
// FIFO order. Grounded on the teacher's butterfly.Syncer two-directional
// reconciliation shape, generalized from a local fast-forward merge to a
// network protocol, and on the ethereum trie/sync.go reference file's
// request/parents/deps bookkeeping idiom for tracking outstanding work.
package sync2

import (
	"fmt"

	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/merkleerr"
	"github.com/hashgraph/merkleruntime/internal/merkleio"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

// childRef is one entry of an internal node's advertised child list: the
// child's hash if present, or absent entirely for a nil child slot.
type childRef struct {
	present bool
	hash    merkle.Hash
}

// nodeDataMessage is the teacher's per-node offer (spec §4.6). An empty
// message tells the learner it already has this subtree and the teacher
// will not descend into it; a full message carries everything the learner
// needs to reconstruct (and hash-check) the node itself.
type nodeDataMessage struct {
	empty             bool
	classID           int64
	version           int32
	isLeaf            bool
	leaf              merkleio.LeafPayload
	isLeafSelfHashing bool
	externalHash      merkle.Hash
	children          []childRef
}

func writeNodeDataMessage(w *streamio.Writer, msg *nodeDataMessage) error {
	if err := w.WriteBool(msg.empty); err != nil {
		return err
	}
	if msg.empty {
		return nil
	}
	if err := w.WriteInt64(msg.classID); err != nil {
		return err
	}
	if err := w.WriteInt32(msg.version); err != nil {
		return err
	}
	if err := w.WriteBool(msg.isLeaf); err != nil {
		return err
	}
	if msg.isLeaf {
		if err := w.WriteBool(msg.isLeafSelfHashing); err != nil {
			return err
		}
		if msg.isLeafSelfHashing {
			if err := w.WriteRaw(msg.externalHash[:]); err != nil {
				return err
			}
		}
		return msg.leaf.WriteTo(w)
	}
	if err := w.WriteInt32(int32(len(msg.children))); err != nil {
		return err
	}
	for _, c := range msg.children {
		if err := w.WriteBool(c.present); err != nil {
			return err
		}
		if c.present {
			if err := w.WriteRaw(c.hash[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func readNodeDataMessage(r *streamio.Reader, registry *merkleio.Registry) (*nodeDataMessage, error) {
	empty, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if empty {
		return &nodeDataMessage{empty: true}, nil
	}

	classID, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	version, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	isLeaf, err := r.ReadBool()
	if err != nil {
		return nil, err
	}

	msg := &nodeDataMessage{classID: classID, version: version, isLeaf: isLeaf}

	if isLeaf {
		payload, selfHashing, err := registry.NewLeafPayload(classID)
		if err != nil {
			return nil, err
		}
		if version < payload.MinimumSupportedVersion() || version > payload.Version() {
			return nil, &merkleerr.IllegalVersionError{ClassID: classID, Got: version, Min: payload.MinimumSupportedVersion(), Max: payload.Version()}
		}
		declaredSelfHashing, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		if declaredSelfHashing {
			if err := streamio.ReadRaw(r, msg.externalHash[:]); err != nil {
				return nil, err
			}
		}
		if err := payload.ReadFrom(r, version); err != nil {
			return nil, err
		}
		msg.leaf = payload
		msg.isLeafSelfHashing = selfHashing && declaredSelfHashing
		return msg, nil
	}

	count, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative child count %d in node data message", merkleerr.ErrBadIO, count)
	}
	children := make([]childRef, count)
	for i := range children {
		present, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		children[i].present = present
		if present {
			if err := streamio.ReadRaw(r, children[i].hash[:]); err != nil {
				return nil, err
			}
		}
	}
	msg.children = children
	return msg, nil
}

func writeAck(w *streamio.Writer, affirmative bool) error { return w.WriteBool(affirmative) }

func readAck(r *streamio.Reader) (bool, error) { return r.ReadBool() }
