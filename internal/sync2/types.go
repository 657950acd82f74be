package sync2

import "github.com/hashgraph/merkleruntime/internal/merkle"

// AckStatus tracks what the teacher believes the learner knows about a node
// it is about to send, per spec §4.6.
type AckStatus int

const (
	// AckUnknown is the status of a node the very first time it is popped
	// for sending in a session: the teacher always sends a full message and,
	// for an internal, enqueues its children if the learner acks negatively.
	AckUnknown AckStatus = iota
	// AckLearnerHasIt marks a node re-encountered later in the same session
	// (a shared or duplicated subtree reference) whose hash the learner has
	// already confirmed; the teacher sends an empty message and does not
	// descend.
	AckLearnerHasIt
	// AckLearnerNeedsIt names the state of a node the learner has rejected
	// with a negative ack. This package never assigns it: readAck reports an
	// ack as a plain bool.
	AckLearnerNeedsIt
)

// nodeToSend is one entry of the teacher's outstanding-offer queue: the node
// to offer and what the teacher currently believes the learner knows about
// it at the moment it is popped for sending.
type nodeToSend struct {
	node   merkle.Node
	status AckStatus
}

// expectedChild is one entry of the learner's FIFO of outstanding child
// slots: which parent/index this reply fills, and the hash the teacher
// advertised for it, carried alongside the slot position so an empty reply
// can be resolved to the already-known local node by that hash, and a full
// reply's freshly built node can be checked against it.
type expectedChild struct {
	parent *merkle.Internal
	index  int
	hash   merkle.Hash
}
