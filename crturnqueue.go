// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package lfqueue

import (
	"sync/atomic"

	"github.com/gofreaks/lfqueue/internal/hazard"
)

const noParticipant int32 = -1

// crtNode is a CRTurnQueue list node. enqPid is fixed at construction;
// deqPid and next are the only fields ever mutated after publication, and
// next is never reassigned once it stops being nil.
type crtNode[V any] struct {
	value  V
	enqPid int
	deqPid atomic.Int32
	next   atomic.Pointer[crtNode[V]]
}

const (
	crtHPTail = 0 // shared with crtHPHead: a pid never has an Insert and a
	crtHPHead = 0 // Remove both in flight at once, so aliasing the slot is safe.
	crtHPNext = 1
	crtHPDeq  = 2
	crtSlots  = 3
)

// CRTurnQueue is a lock-free multi-producer/multi-consumer FIFO that uses a
// rotating "turn"-based helping discipline to bound dequeuer starvation:
// dequeuers cycle through participant ids so that, over any bounded window,
// every pending dequeue announcement gets serviced by somebody. See the
// package doc for the overall contract.
type CRTurnQueue[K, V any] struct {
	cfg Config

	_    cacheLinePad
	head atomic.Pointer[crtNode[V]]
	_    cacheLinePad
	tail atomic.Pointer[crtNode[V]]
	_    cacheLinePad
	enqueuers []atomic.Pointer[crtNode[V]]
	_         cacheLinePad
	deqSelf []atomic.Pointer[crtNode[V]]
	deqHelp []atomic.Pointer[crtNode[V]]
	_       cacheLinePad

	nodes *hazard.Reclaimer[crtNode[V]]
}

// NewCRTurnQueue constructs a CRTurnQueue for up to cfg.Participants
// concurrent participants. It panics if cfg.Participants is out of range.
func NewCRTurnQueue[K, V any](cfg Config) *CRTurnQueue[K, V] {
	cfg.validate()
	cfg = cfg.withDefaults()

	q := &CRTurnQueue[K, V]{
		cfg:       cfg,
		enqueuers: make([]atomic.Pointer[crtNode[V]], cfg.Participants),
		deqSelf:   make([]atomic.Pointer[crtNode[V]], cfg.Participants),
		deqHelp:   make([]atomic.Pointer[crtNode[V]], cfg.Participants),
	}
	q.nodes = hazard.New(hazard.Config{
		Participants:   cfg.Participants,
		Slots:          crtSlots,
		EpochFrequency: cfg.EpochFrequency,
		EmptyFrequency: cfg.EmptyFrequency,
	}, func() *crtNode[V] {
		n := &crtNode[V]{}
		n.deqPid.Store(noParticipant)
		return n
	})

	sentinel := q.newNode()
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	for i := range cfg.Participants {
		q.deqSelf[i].Store(q.newNode())
		q.deqHelp[i].Store(q.newNode())
	}
	return q
}

// newNode allocates a zeroed, unpublished node from the pool.
func (q *CRTurnQueue[K, V]) newNode() *crtNode[V] {
	n := q.nodes.Alloc()
	var zero V
	n.value = zero
	n.enqPid = 0
	n.deqPid.Store(noParticipant)
	n.next.Store(nil)
	return n
}

// Insert publishes value for participant pid and always returns true.
//
// Steps when uncontended: add the node to enqueuers[pid]; link it at
// tail.next with a CAS; advance tail to tail.next; clear enqueuers[pid].
// Any other participant mid-loop may complete any of these four steps on
// this node's behalf, which is what bounds the number of tail advances any
// single Insert call can observe before its own node is linked.
func (q *CRTurnQueue[K, V]) Insert(_ K, value V, pid int) bool {
	n := q.nodes.Alloc()
	n.value = value
	n.enqPid = pid
	n.deqPid.Store(noParticipant)
	n.next.Store(nil)

	q.nodes.StartOp(pid)
	defer q.nodes.ClearAll(pid)
	defer q.nodes.EndOp(pid)

	q.enqueuers[pid].Store(n)
	for range q.cfg.Participants {
		if q.enqueuers[pid].Load() == nil {
			return true // some other participant did all four steps for us
		}
		t := q.nodes.Reserve(pid, crtHPTail, q.tail.Load())
		if t != q.tail.Load() {
			continue
		}
		if et := q.enqueuers[t.enqPid].Load(); et == t {
			q.enqueuers[t.enqPid].CompareAndSwap(t, nil) // help step 4
		}
		for j := 1; j <= q.cfg.Participants; j++ {
			idx := (j + t.enqPid) % q.cfg.Participants
			c := q.enqueuers[idx].Load()
			if c == nil {
				continue
			}
			t.next.CompareAndSwap(nil, c) // help step 2
			break
		}
		if next := t.next.Load(); next != nil {
			q.tail.CompareAndSwap(t, next) // help step 3
		}
	}
	q.enqueuers[pid].Store(nil) // step 4, in case nobody else got to it
	return true
}

// Remove returns the next value in FIFO order for participant pid, or
// ok == false if the queue was observed empty at the linearization point.
//
// Steps when uncontended: publish the request pair (deqSelf == deqHelp
// means "pending"); find and claim the next unclaimed dequeue slot via
// searchNext; resolve it and advance head via casDeqAndHead.
func (q *CRTurnQueue[K, V]) Remove(_ K, pid int) (V, bool) {
	var zero V

	q.nodes.StartOp(pid)
	defer q.nodes.ClearAll(pid)
	defer q.nodes.EndOp(pid)

	prevReq := q.deqSelf[pid].Load()
	myReq := q.deqHelp[pid].Load()
	q.deqSelf[pid].Store(myReq) // publish the request

loop:
	for range q.cfg.Participants {
		if q.deqHelp[pid].Load() != myReq {
			break loop // serviced by a helper
		}
		h := q.nodes.Reserve(pid, crtHPHead, q.head.Load())
		if h != q.head.Load() {
			continue loop
		}
		if h == q.tail.Load() {
			q.deqSelf[pid].Store(prevReq) // retract
			q.giveUp(myReq, pid)
			if q.deqHelp[pid].Load() != myReq {
				// A helper served us while we were giving up.
				q.deqSelf[pid].Store(myReq)
				break loop
			}
			return zero, false
		}
		n := q.nodes.Reserve(pid, crtHPNext, h.next.Load())
		if h != q.head.Load() {
			continue loop
		}
		if q.searchNext(h, n) != noParticipant {
			q.casDeqAndHead(h, n, pid)
		}
	}

	myNode := q.deqHelp[pid].Load()
	h := q.nodes.Reserve(pid, crtHPHead, q.head.Load())
	if h == q.head.Load() && myNode == h.next.Load() {
		q.head.CompareAndSwap(h, myNode)
	}
	value := myNode.value
	q.nodes.Retire(pid, prevReq)
	return value, true
}

// searchNext scans participant ids in turn order starting just past
// h.deqPid looking for the first one with a pending, unclaimed dequeue
// request, and assigns it to n.deqPid. It returns n.deqPid's value after
// the attempt, win or lose: a losing CAS just means somebody else already
// assigned a claimant, which is fine.
func (q *CRTurnQueue[K, V]) searchNext(h, n *crtNode[V]) int32 {
	turn := h.deqPid.Load()
	p := int32(q.cfg.Participants)
	for i := int32(1); i <= p; i++ {
		idx := (turn + i) % p
		if q.deqSelf[idx].Load() != q.deqHelp[idx].Load() {
			continue
		}
		if n.deqPid.Load() == noParticipant {
			n.deqPid.CompareAndSwap(noParticipant, idx)
		}
		break
	}
	return n.deqPid.Load()
}

// casDeqAndHead resolves n's claimant's request (awarding n to them, unless
// they're us, in which case we award it to ourselves directly) and then
// advances head past h to n.
func (q *CRTurnQueue[K, V]) casDeqAndHead(h, n *crtNode[V], pid int) {
	d := n.deqPid.Load()
	if d == int32(pid) {
		q.deqHelp[pid].Store(n)
	} else {
		e := q.nodes.Reserve(pid, crtHPDeq, q.deqHelp[d].Load())
		if e != n && h == q.head.Load() {
			q.deqHelp[d].CompareAndSwap(e, n)
		}
	}
	q.head.CompareAndSwap(h, n)
}

// giveUp runs when a Remove call sees an apparently empty queue. It
// re-validates head under a hazard and, if the queue is genuinely still
// empty, leaves the caller's request unserviced; otherwise it claims or
// assigns the next node exactly as the main Remove loop would have.
func (q *CRTurnQueue[K, V]) giveUp(myReq *crtNode[V], pid int) {
	h := q.head.Load()
	if q.deqHelp[pid].Load() != myReq || h == q.tail.Load() {
		return
	}
	h = q.nodes.Reserve(pid, crtHPHead, h)
	if h != q.head.Load() {
		return
	}
	n := q.nodes.Reserve(pid, crtHPNext, h.next.Load())
	if h != q.head.Load() {
		return
	}
	if q.searchNext(h, n) == noParticipant {
		n.deqPid.CompareAndSwap(noParticipant, int32(pid))
	}
	q.casDeqAndHead(h, n, pid)
}

// Get is non-operative: CRTurnQueue carries no key-addressed storage.
func (q *CRTurnQueue[K, V]) Get(_ K, _ int) (V, bool) {
	var zero V
	return zero, false
}

// Put is non-operative: CRTurnQueue carries no key-addressed storage.
func (q *CRTurnQueue[K, V]) Put(_ K, _ V, _ int) (V, bool) {
	var zero V
	return zero, false
}

// Replace is non-operative: CRTurnQueue carries no key-addressed storage.
func (q *CRTurnQueue[K, V]) Replace(_ K, _ V, _ int) (V, bool) {
	var zero V
	return zero, false
}

var _ Queue[int, int] = (*CRTurnQueue[int, int])(nil)
