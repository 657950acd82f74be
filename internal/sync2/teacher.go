package sync2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hashgraph/merkleruntime/internal/merkle"
	"github.com/hashgraph/merkleruntime/internal/merkleerr"
	"github.com/hashgraph/merkleruntime/internal/merkleio"
	"github.com/hashgraph/merkleruntime/internal/streamext"
	"github.com/hashgraph/merkleruntime/internal/streamio"
)

// DefaultAckTimeout is the spec §4.6 reconciliation ack timeout: a node
// offer that receives no ack within this window is treated as a fatal
// synchronization failure.
const DefaultAckTimeout = 10 * time.Second

// pollInterval bounds how long sendLoop blocks on an empty toSend queue
// before re-checking ctx.Done(), so cancellation is observed promptly even
// when no more nodes are queued.
const pollInterval = 200 * time.Millisecond

// Teacher is the offering side of the synchronizer (spec §4.6). It keeps an
// unbounded pipeline of outstanding node offers (toSend) and matches acks
// back to them in strict FIFO order (awaiting), rather than waiting for
// each ack before sending the next offer.
type Teacher struct {
	w    *streamio.Writer
	conn io.Reader

	toSend   *fifo[nodeToSend]
	awaiting *fifo[nodeToSend]

	mu         sync.Mutex
	confirmed  map[merkle.Hash]bool
	pending    int64
	ackTimeout time.Duration

	log zerolog.Logger
}

// SetLogger attaches a logger for ack-timeout and session-lifecycle events.
// The zero value logs nothing.
func (t *Teacher) SetLogger(log zerolog.Logger) { t.log = log }

// NewTeacher constructs a Teacher that will offer root (and, on request,
// its descendants) to the learner over conn. ackTimeout of zero or less
// uses DefaultAckTimeout.
func NewTeacher(conn io.ReadWriter, root merkle.Node, ackTimeout time.Duration) *Teacher {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	t := &Teacher{
		w:          streamio.NewWriter(conn),
		conn:       conn,
		toSend:     newFifo[nodeToSend](),
		awaiting:   newFifo[nodeToSend](),
		confirmed:  make(map[merkle.Hash]bool),
		ackTimeout: ackTimeout,
	}
	t.pending = 1
	if root == nil {
		// A null tree is represented as a single empty offer the learner
		// resolves to "no root"; seed it with AckUnknown since there is
		// nothing to look up a confirmed hash for.
		_ = t.toSend.push(nodeToSend{node: nil, status: AckUnknown})
		return t
	}
	_ = t.toSend.push(nodeToSend{node: root, status: t.statusFor(root)})
	return t
}

// Run drives the teacher's send/receive goroutines to completion: it
// returns once every offered node (and everything it transitively required)
// has been acked, or the first hard failure (ack timeout, I/O error, or
// context cancellation) occurs.
func (t *Teacher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.sendLoop(ctx) })
	g.Go(func() error { return t.recvLoop(ctx) })
	err := g.Wait()
	t.toSend.close()
	t.awaiting.close()
	return err
}

func (t *Teacher) statusFor(node merkle.Node) AckStatus {
	if node == nil {
		return AckUnknown
	}
	h, ok := node.Hash()
	if !ok {
		return AckUnknown
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.confirmed[h] {
		return AckLearnerHasIt
	}
	return AckUnknown
}

func (t *Teacher) sendLoop(ctx context.Context) error {
	for {
		item, err := t.toSend.pop(pollInterval)
		if err != nil {
			if err == errFifoTimeout {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					continue
				}
			}
			if err == errFifoClosed {
				return nil
			}
			return err
		}

		msg, err := t.buildMessage(item)
		if err != nil {
			return err
		}
		if err := writeNodeDataMessage(t.w, msg); err != nil {
			return fmt.Errorf("%w: %v", merkleerr.ErrMerkleSynchronization, err)
		}
		if err := t.awaiting.push(item); err != nil {
			return err
		}
	}
}

func (t *Teacher) buildMessage(item nodeToSend) (*nodeDataMessage, error) {
	if item.node == nil || item.status == AckLearnerHasIt {
		return &nodeDataMessage{empty: true}, nil
	}

	if item.node.IsLeaf() {
		leaf, ok := item.node.(*merkle.Leaf)
		if !ok {
			return nil, fmt.Errorf("%w: leaf node of unexpected type %T", merkleerr.ErrMerkleSynchronization, item.node)
		}
		payload, ok := leaf.Value().(merkleio.LeafPayload)
		if !ok {
			return nil, fmt.Errorf("%w: leaf value does not implement merkleio.LeafPayload", merkleerr.ErrMerkleSynchronization)
		}
		msg := &nodeDataMessage{
			classID:           leaf.ClassID(),
			version:           leaf.Version(),
			isLeaf:            true,
			leaf:              payload,
			isLeafSelfHashing: leaf.IsSelfHashing(),
		}
		if leaf.IsSelfHashing() {
			h, ok := leaf.Hash()
			if !ok {
				return nil, fmt.Errorf("%w: self-hashing leaf class %#x has no hash to offer", merkleerr.ErrMerkleSynchronization, leaf.ClassID())
			}
			msg.externalHash = h
		}
		return msg, nil
	}

	internal, ok := item.node.(*merkle.Internal)
	if !ok {
		return nil, fmt.Errorf("%w: internal node of unexpected type %T", merkleerr.ErrMerkleSynchronization, item.node)
	}
	children := make([]childRef, internal.ChildCount())
	for i := range children {
		child := internal.Child(i)
		if child == nil {
			continue
		}
		h, ok := child.Hash()
		if !ok {
			return nil, fmt.Errorf("%w: child %d of class %#x has no computed hash", merkleerr.ErrMerkleSynchronization, i, internal.ClassID())
		}
		children[i] = childRef{present: true, hash: h}
	}
	return &nodeDataMessage{
		classID:  internal.ClassID(),
		version:  internal.Version(),
		isLeaf:   false,
		children: children,
	}, nil
}

func (t *Teacher) recvLoop(ctx context.Context) error {
	for {
		item, err := t.awaiting.pop(t.ackTimeout)
		if err != nil {
			if err == errFifoClosed {
				return nil
			}
			if err == errFifoTimeout {
				t.log.Warn().Dur("ack_timeout", t.ackTimeout).Msg("sync2: no ack within timeout, aborting session")
				return fmt.Errorf("%w: no ack within %s", merkleerr.ErrMerkleSynchronization, t.ackTimeout)
			}
			return err
		}

		affirmative, err := t.readAckWithDeadline(ctx)
		if err != nil {
			if errors.Is(err, merkleerr.ErrInterruptedDuringIO) {
				t.log.Warn().Dur("ack_timeout", t.ackTimeout).Msg("sync2: no ack within timeout, aborting session")
				return fmt.Errorf("%w: no ack within %s", merkleerr.ErrMerkleSynchronization, t.ackTimeout)
			}
			return fmt.Errorf("%w: %v", merkleerr.ErrMerkleSynchronization, err)
		}
		if err := t.handleAck(item, affirmative); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// readAckWithDeadline bounds the blocking ack read itself to ackTimeout
// (awaiting.pop only bounds how long the read waited to become relevant, not
// the read call). When conn is a net.Conn this applies SetDeadline directly;
// otherwise the read races against a timeout context in a helper goroutine.
func (t *Teacher) readAckWithDeadline(ctx context.Context) (bool, error) {
	ackCtx, cancel := context.WithTimeout(ctx, t.ackTimeout)
	defer cancel()
	r := streamio.NewReader(streamext.NewTimeoutReader(ackCtx, t.conn, t.ackTimeout))
	affirmative, err := readAck(r)
	if err != nil && errors.Is(ackCtx.Err(), context.DeadlineExceeded) {
		return false, fmt.Errorf("%w: %v", merkleerr.ErrInterruptedDuringIO, ackCtx.Err())
	}
	return affirmative, err
}

// handleAck applies one ack to item, enqueuing its children on a negative
// ack for an internal (the only case in this protocol where a negative ack
// is expected rather than a corruption signal), and records an affirmative
// ack's hash as confirmed so a later duplicate reference to the same
// subtree is offered empty instead of retransmitted.
//
// An internal always acks negative on first receipt (the learner cannot
// have the whole subtree before its children arrive) unless the learner's
// local tree already holds it. The learner records only leaves it built
// during the session, so this implementation's session-local dedup (spec
// property 10) applies to repeated leaf references; a repeated internal
// reference is offered in full and rebuilt each time, with the leaves
// beneath it still offered empty once confirmed.
func (t *Teacher) handleAck(item nodeToSend, affirmative bool) error {
	t.mu.Lock()
	t.pending--
	t.mu.Unlock()

	if item.node == nil {
		return t.maybeFinish()
	}

	if affirmative {
		if h, ok := item.node.Hash(); ok {
			t.mu.Lock()
			t.confirmed[h] = true
			t.mu.Unlock()
		}
		return t.maybeFinish()
	}

	if item.node.IsLeaf() {
		return fmt.Errorf("%w: leaf class %#x rejected by learner", merkleerr.ErrMerkleSynchronization, item.node.ClassID())
	}

	internal, ok := item.node.(*merkle.Internal)
	if !ok {
		return fmt.Errorf("%w: internal node of unexpected type %T", merkleerr.ErrMerkleSynchronization, item.node)
	}
	for i := 0; i < internal.ChildCount(); i++ {
		child := internal.Child(i)
		if child == nil {
			continue
		}
		status := t.statusFor(child)
		t.mu.Lock()
		t.pending++
		t.mu.Unlock()
		if err := t.toSend.push(nodeToSend{node: child, status: status}); err != nil {
			return err
		}
	}
	return t.maybeFinish()
}

func (t *Teacher) maybeFinish() error {
	t.mu.Lock()
	done := t.pending == 0
	t.mu.Unlock()
	if done {
		t.toSend.close()
		t.awaiting.close()
	}
	return nil
}
