package vmap

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hashgraph/merkleruntime/internal/merkle"
)

// Config carries the pipeline's tunable parameters (spec §4.7). There are
// no mandated defaults; the host supplies values appropriate to its own
// storage and latency budget.
type Config struct {
	// PreferredQueueSize is the flush backlog depth above which back-pressure
	// begins to apply.
	PreferredQueueSize int
	// Step is the back-pressure quadratic coefficient.
	Step time.Duration
	// MaxBackpressure clamps the computed sleep duration.
	MaxBackpressure time.Duration
}

// FlushTarget persists a copy's content to durable storage.
type FlushTarget interface {
	FlushCopy(root merkle.Node, seq uint64) error
}

// pollInterval bounds how long the worker can go without re-examining the
// copy chain, satisfying spec §5's "every queue poll (bounded ≤ 10 ms)"
// suspension point even when nothing has explicitly woken it.
const pollInterval = 10 * time.Millisecond

// Pipeline drives the ordered hash/flush/merge lifecycle (spec §4.7) of a
// chain of VirtualRoot fast-copies with a single background worker.
// Grounded on store.Manager/SharedDB's refcounted-singleton-with-mutex
// shape, generalized from one shared resource with a reference count to an
// ordered list of resources each independently progressing through a
// lifecycle, and on butterfly.Manager's divergence/lifecycle bookkeeping
// for the per-copy state fields (modeled here as VirtualRoot's flags).
type Pipeline struct {
	cfg    Config
	target FlushTarget

	listMu sync.Mutex
	copies *list.List // oldest (Front) → newest (Back); Value is *VirtualRoot

	passMu   sync.Mutex // serializes hash_flush_merge passes; doubles as the detach barrier
	hashLock sync.Mutex // spec §4.7: hashing is serialized via a single hash_lock

	flushBacklog int64 // atomic, spec §5: counters are atomic
	nextSeq      uint64

	wake chan struct{}

	terminateOnce sync.Once
	terminated    chan struct{}
	workerDone    chan struct{}

	mu          sync.Mutex
	shutdownErr error

	log zerolog.Logger
}

// SetLogger attaches a logger for flush/merge/shutdown events. The zero
// value logs nothing.
func (p *Pipeline) SetLogger(log zerolog.Logger) { p.log = log }

// NewPipeline constructs a Pipeline and starts its background worker.
func NewPipeline(cfg Config, target FlushTarget) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		target:     target,
		copies:     list.New(),
		wake:       make(chan struct{}, 1),
		terminated: make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) run() {
	defer close(p.workerDone)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.terminated:
			// Drain remaining work to completion before stopping (spec
			// §4.7: terminate blocks until pending flush/merge complete).
			for p.runPass() {
			}
			return
		case <-p.wake:
			if !p.runPassOrShutdown() {
				return
			}
		case <-ticker.C:
			if !p.runPassOrShutdown() {
				return
			}
		}
	}
}

// runPassOrShutdown runs one pass, triggering an immediate shutdown and
// returning false if the flush/merge target reports an error.
func (p *Pipeline) runPassOrShutdown() bool {
	if p.runPass() {
		return true
	}
	return p.shutdownErr == nil
}

// RegisterCopy appends a new fast-copy to the chain, assigns it a
// registration sequence number, wakes the worker, and applies back-pressure
// to the caller (spec §4.7): the caller blocks for step × excess², clamped
// to max_backpressure, where excess = flush_backlog − preferred_queue_size.
func (p *Pipeline) RegisterCopy(copy *VirtualRoot) (uint64, error) {
	select {
	case <-p.terminated:
		return 0, errPipelineTerminated
	default:
	}

	p.nextSeq++
	copy.seq = p.nextSeq

	p.listMu.Lock()
	p.copies.PushBack(copy)
	p.listMu.Unlock()

	if copy.shouldBeFlushed {
		atomic.AddInt64(&p.flushBacklog, 1)
	}
	p.signal()

	p.applyBackpressure()
	return copy.seq, nil
}

func (p *Pipeline) applyBackpressure() {
	if p.cfg.Step <= 0 {
		return
	}
	backlog := atomic.LoadInt64(&p.flushBacklog)
	excess := backlog - int64(p.cfg.PreferredQueueSize)
	if excess <= 0 {
		return
	}
	sleep := p.cfg.Step * time.Duration(excess*excess)
	if p.cfg.MaxBackpressure > 0 && sleep > p.cfg.MaxBackpressure {
		sleep = p.cfg.MaxBackpressure
	}
	time.Sleep(sleep)
}

// ReleaseCopy marks copy released and wakes the worker so it can be flushed
// or merged, and eventually removed, on a future pass.
func (p *Pipeline) ReleaseCopy(copy *VirtualRoot) error {
	select {
	case <-p.terminated:
		return errPipelineTerminated
	default:
	}
	copy.Release()
	p.signal()
	return nil
}

// DetachCopy pauses the pipeline (no hash/flush/merge runs for its
// duration), marks copy detached, runs fn, then resumes the worker. fn
// typically performs out-of-band detachment bookkeeping that must not
// overlap a pass.
func (p *Pipeline) DetachCopy(copy *VirtualRoot, fn func()) error {
	select {
	case <-p.terminated:
		return errPipelineTerminated
	default:
	}
	p.passMu.Lock()
	defer p.passMu.Unlock()
	copy.Detach()
	if fn != nil {
		fn()
	}
	p.signal()
	return nil
}

// Terminate blocks until pending flush/merge work completes, then stops the
// worker. It returns ErrPipelineShutdown-wrapped if the worker had already
// shut down immediately due to a flush/merge error.
func (p *Pipeline) Terminate() error {
	p.terminateOnce.Do(func() { close(p.terminated) })
	<-p.workerDone
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdownErr
}

func (p *Pipeline) shutdownNow(err error) {
	p.log.Error().Err(err).Msg("vmap: flush/merge failed, shutting down pipeline immediately")

	p.mu.Lock()
	p.shutdownErr = fmt.Errorf("%w: %v", ErrPipelineShutdown, err)
	p.mu.Unlock()

	p.listMu.Lock()
	back := p.copies.Back()
	p.listMu.Unlock()
	if back != nil {
		back.Value.(*VirtualRoot).runShutdown(true)
	}
}

// runPass executes one hash_flush_merge pass (spec §4.7) and reports
// whether any copy still has outstanding work (used by Terminate's drain
// loop to know when to stop polling). A flush/merge failure records a
// shutdown error and returns false to stop the worker immediately.
func (p *Pipeline) runPass() bool {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	flushBlocked := false
	anyPending := false

	p.listMu.Lock()
	var elems []*list.Element
	for e := p.copies.Front(); e != nil; e = e.Next() {
		elems = append(elems, e)
	}
	p.listMu.Unlock()

	for i, e := range elems {
		copy := e.Value.(*VirtualRoot)

		if copy.shouldFlush() && !flushBlocked {
			p.hashCopyChain(elems[:i+1])
			if err := p.target.FlushCopy(copy.Root(), copy.seq); err != nil {
				p.shutdownNow(err)
				return false
			}
			copy.markFlushed()
			atomic.AddInt64(&p.flushBacklog, -1)
			p.log.Debug().Uint64("seq", copy.seq).Msg("vmap: copy flushed")
		} else if copy.shouldMerge() && i+1 < len(elems) && elems[i+1].Value.(*VirtualRoot).isImmutable() {
			p.hashCopyChain(elems[:i+2])
			copy.markMerged()
			p.log.Debug().Uint64("seq", copy.seq).Msg("vmap: copy merged into successor")
		}

		if copy.isReleased() && (copy.isFlushed() || copy.isMerged()) {
			p.listMu.Lock()
			p.copies.Remove(e)
			p.listMu.Unlock()
		} else {
			anyPending = anyPending || copy.shouldFlush() || copy.shouldMerge()
		}

		flushBlocked = flushBlocked || copy.flushBlockedContribution()
	}

	return anyPending
}

// hashCopyChain hashes every not-yet-hashed copy in chain (oldest first),
// holding hash_lock for the whole chain so concurrent RegisterCopy/
// DetachCopy callers never observe a partially hashed prefix (spec §4.7:
// "older unhashed copies are drained in registration order before the
// target is hashed").
func (p *Pipeline) hashCopyChain(chain []*list.Element) {
	p.hashLock.Lock()
	defer p.hashLock.Unlock()
	for _, e := range chain {
		copy := e.Value.(*VirtualRoot)
		if copy.isHashed() {
			continue
		}
		computeHash(copy.Root())
		copy.markHashed()
	}
}

func computeHash(root merkle.Node) {
	if root == nil {
		return
	}
	it := merkle.HashIterator(root)
	for {
		n, ok := it.Next()
		if !ok {
			break
		}
		n.Hash()
	}
}
