// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package lfqueue

import (
	"sync/atomic"

	"github.com/gofreaks/lfqueue/internal/hazard"
)

const noPhase int64 = -1

// wfNode is a WFQueue list node. enqPid is fixed at construction. next is
// never reassigned once it stops being nil. itemDeletable becomes true only
// once the dequeuer awarded this node's value has read it, at which point
// the node may safely be pooled for reuse: Remove hands a consumed node to
// the reclaimer only when its itemDeletable is set, and otherwise leaves it
// to the garbage collector.
type wfNode[V any] struct {
	value         V
	itemDeletable atomic.Bool
	enqPid        int
	deqPid        atomic.Int32
	next          atomic.Pointer[wfNode[V]]
}

// wfOpDesc is an immutable announcement once installed in state[pid]: every
// field is written once at construction and the descriptor is replaced,
// never mutated, to advance an operation's visible state.
type wfOpDesc[V any] struct {
	pending   bool
	isEnqueue bool
	phase     int64
	node      *wfNode[V]
}

const (
	wfHPCurr    = 0
	wfHPNext    = 1
	wfHPPrev    = 2
	wfNodeSlots = 3

	wfHPODCurr    = 0
	wfHPODNext    = 1
	wfOpDescSlots = 2
)

// WFQueue is a bounded wait-free multi-producer/multi-consumer FIFO driven
// by per-participant, phase-numbered operation descriptors. Every
// participant helps complete every not-yet-finished operation with a phase
// number no greater than its own before it is allowed to finish, which is
// what bounds every single Insert/Remove call's step count by a polynomial
// in P regardless of how many other participants stall.
type WFQueue[K, V any] struct {
	cfg Config

	_     cacheLinePad
	head  atomic.Pointer[wfNode[V]]
	_     cacheLinePad
	tail  atomic.Pointer[wfNode[V]]
	_     cacheLinePad
	state []atomic.Pointer[wfOpDesc[V]]
	_     cacheLinePad

	opdescEnd *wfOpDesc[V]
	nodes     *hazard.Reclaimer[wfNode[V]]
	opdescs   *hazard.Reclaimer[wfOpDesc[V]]
}

// NewWFQueue constructs a WFQueue for up to cfg.Participants concurrent
// participants. It panics if cfg.Participants is out of range.
func NewWFQueue[K, V any](cfg Config) *WFQueue[K, V] {
	cfg.validate()
	cfg = cfg.withDefaults()

	q := &WFQueue[K, V]{
		cfg:   cfg,
		state: make([]atomic.Pointer[wfOpDesc[V]], cfg.Participants),
	}
	q.nodes = hazard.New(hazard.Config{
		Participants:   cfg.Participants,
		Slots:          wfNodeSlots,
		EpochFrequency: cfg.EpochFrequency,
		EmptyFrequency: cfg.EmptyFrequency,
	}, func() *wfNode[V] {
		n := &wfNode[V]{enqPid: int(noParticipant)}
		n.deqPid.Store(noParticipant)
		return n
	})
	q.opdescs = hazard.New(hazard.Config{
		Participants:   cfg.Participants,
		Slots:          wfOpDescSlots,
		EpochFrequency: cfg.EpochFrequency,
		EmptyFrequency: cfg.EmptyFrequency,
	}, func() *wfOpDesc[V] { return &wfOpDesc[V]{} })

	q.opdescEnd = &wfOpDesc[V]{phase: noPhase, pending: false, isEnqueue: true, node: nil}

	sentinel := q.nodes.Alloc()
	*sentinel = wfNode[V]{enqPid: int(noParticipant)}
	sentinel.deqPid.Store(noParticipant)
	sentinel.itemDeletable.Store(true)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	for i := range cfg.Participants {
		q.state[i].Store(q.opdescEnd)
	}
	return q
}

// readOpDesc safely reads state[i]'s current descriptor, reserving it in
// pid's named slot first and re-checking that the reservation still
// matches the shared location, up to P+1 times. It reports ok == false if
// the slot never stabilized, in which case the caller should skip i for
// this pass rather than act on a possibly-stale descriptor.
func (q *WFQueue[K, V]) readOpDesc(i, pid, slot int) (*wfOpDesc[V], bool) {
	for attempt := 0; attempt <= q.cfg.Participants; attempt++ {
		desc := q.opdescs.Reserve(pid, slot, q.state[i].Load())
		if desc == q.state[i].Load() {
			return desc, true
		}
	}
	return nil, false
}

// maxPhase returns the highest phase number among the descriptors currently
// published in state, skipping any slot that fails to stabilize. It returns
// noPhase when no stabilized slot holds an in-flight descriptor, e.g. when
// every slot holds the terminal descriptor because no operation is running.
func (q *WFQueue[K, V]) maxPhase(pid int) int64 {
	max := noPhase
	for i := 0; i < q.cfg.Participants; i++ {
		desc, ok := q.readOpDesc(i, pid, wfHPODCurr)
		if !ok {
			continue
		}
		if desc.phase > max {
			max = desc.phase
		}
	}
	return max
}

func (q *WFQueue[K, V]) isStillPending(i int, ph int64, pid int) bool {
	desc, ok := q.readOpDesc(i, pid, wfHPODNext)
	if !ok {
		return false
	}
	return desc.pending && desc.phase <= ph
}

// help completes every participant's operation with a phase number no
// greater than ph. Called once by every Insert/Remove right after it
// publishes its own descriptor, this is
// the mechanism that gives WFQueue its wait-free bound: by the time help
// returns, every operation phase <= ph is either finished or was finished
// by some other helper along the way.
func (q *WFQueue[K, V]) help(ph int64, pid int) {
	for i := 0; i < q.cfg.Participants; i++ {
		desc, ok := q.readOpDesc(i, pid, wfHPODCurr)
		if !ok {
			continue
		}
		if desc.pending && desc.phase <= ph {
			if desc.isEnqueue {
				q.helpEnq(i, ph, pid)
			} else {
				q.helpDeq(i, ph, pid)
			}
		}
	}
}

// Insert publishes value for participant pid and always returns true.
func (q *WFQueue[K, V]) Insert(_ K, value V, pid int) bool {
	q.nodes.StartOp(pid)
	q.opdescs.StartOp(pid)
	defer q.nodes.ClearAll(pid)
	defer q.opdescs.ClearAll(pid)
	defer q.nodes.EndOp(pid)
	defer q.opdescs.EndOp(pid)

	ph := q.maxPhase(pid) + 1

	n := q.nodes.Alloc()
	n.value = value
	n.enqPid = pid
	n.deqPid.Store(noParticipant)
	n.next.Store(nil)
	n.itemDeletable.Store(false)

	d := q.opdescs.Alloc()
	*d = wfOpDesc[V]{phase: ph, pending: true, isEnqueue: true, node: n}
	q.state[pid].Store(d)

	q.help(ph, pid)
	q.helpFinishEnq(pid)

	q.retireOwnDesc(pid)
	return true
}

func (q *WFQueue[K, V]) helpEnq(i int, ph int64, pid int) {
	for q.isStillPending(i, ph, pid) {
		last := q.nodes.Reserve(pid, wfHPCurr, q.tail.Load())
		if last != q.tail.Load() {
			continue
		}
		next := last.next.Load()
		if last != q.tail.Load() {
			continue
		}
		if next != nil {
			q.helpFinishEnq(pid)
			continue
		}
		if !q.isStillPending(i, ph, pid) {
			continue
		}
		curDesc, ok := q.readOpDesc(i, pid, wfHPODCurr)
		if !ok || curDesc != q.state[i].Load() {
			continue
		}
		if last.next.CompareAndSwap(nil, curDesc.node) {
			q.helpFinishEnq(pid)
			return
		}
	}
}

func (q *WFQueue[K, V]) helpFinishEnq(pid int) {
	last := q.nodes.Reserve(pid, wfHPCurr, q.tail.Load())
	if last != q.tail.Load() {
		return
	}
	next := q.nodes.Reserve(pid, wfHPNext, last.next.Load())
	if last != q.tail.Load() || next == nil {
		return
	}
	enqPid := next.enqPid
	curDesc, ok := q.readOpDesc(enqPid, pid, wfHPODCurr)
	if !ok {
		return
	}
	if last == q.tail.Load() && curDesc.node == next {
		newDesc := q.opdescs.Alloc()
		*newDesc = wfOpDesc[V]{phase: curDesc.phase, pending: false, isEnqueue: true, node: next}
		if q.state[enqPid].CompareAndSwap(curDesc, newDesc) {
			q.opdescs.Retire(pid, curDesc)
		} else {
			q.opdescs.Retire(pid, newDesc)
		}
		q.tail.CompareAndSwap(last, next)
	}
}

// Remove returns the next value in FIFO order for participant pid, or
// ok == false if the queue was observed empty at the linearization point.
func (q *WFQueue[K, V]) Remove(_ K, pid int) (V, bool) {
	var zero V

	q.nodes.StartOp(pid)
	q.opdescs.StartOp(pid)
	defer q.nodes.ClearAll(pid)
	defer q.opdescs.ClearAll(pid)
	defer q.nodes.EndOp(pid)
	defer q.opdescs.EndOp(pid)

	ph := q.maxPhase(pid) + 1

	d := q.opdescs.Alloc()
	*d = wfOpDesc[V]{phase: ph, pending: true, isEnqueue: false, node: nil}
	q.state[pid].Store(d)

	q.help(ph, pid)
	q.helpFinishDeq(pid)

	curDesc, ok := q.readOpDesc(pid, pid, wfHPODCurr)
	if !ok {
		q.retireOwnDesc(pid)
		return zero, false
	}
	node := curDesc.node
	if node == nil {
		q.retireOwnDesc(pid)
		return zero, false
	}

	// node's successor is the value this dequeue claimed; only this
	// participant will ever retire node, so no fresh hazard reservation
	// is needed to read node.next here. next is not reserved either: it is
	// only handed back to the pool after its itemDeletable is set below.
	next := node.next.Load()
	value := next.value
	next.itemDeletable.Store(true)
	if node.itemDeletable.Load() {
		q.nodes.Retire(pid, node)
	}
	q.retireOwnDesc(pid)
	return value, true
}

func (q *WFQueue[K, V]) helpDeq(i int, ph int64, pid int) {
	for q.isStillPending(i, ph, pid) {
		first := q.nodes.Reserve(pid, wfHPPrev, q.head.Load())
		last := q.nodes.Reserve(pid, wfHPCurr, q.tail.Load())
		if first != q.head.Load() || last != q.tail.Load() {
			continue
		}
		next := first.next.Load()
		if first != q.head.Load() {
			continue
		}
		if first == last {
			if next != nil {
				q.helpFinishEnq(pid)
				continue
			}
			curDesc, ok := q.readOpDesc(i, pid, wfHPODCurr)
			if !ok || curDesc != q.state[i].Load() {
				continue
			}
			if last == q.tail.Load() && q.isStillPending(i, ph, pid) {
				newDesc := q.opdescs.Alloc()
				*newDesc = wfOpDesc[V]{phase: curDesc.phase, pending: false, isEnqueue: false, node: nil}
				if q.state[i].CompareAndSwap(curDesc, newDesc) {
					q.opdescs.Retire(pid, curDesc)
				} else {
					q.opdescs.Retire(pid, newDesc)
				}
			}
			continue
		}
		curDesc, ok := q.readOpDesc(i, pid, wfHPODCurr)
		if !ok || curDesc != q.state[i].Load() {
			continue
		}
		node := curDesc.node
		if !q.isStillPending(i, ph, pid) {
			return
		}
		if first == q.head.Load() && node != first {
			newDesc := q.opdescs.Alloc()
			*newDesc = wfOpDesc[V]{phase: curDesc.phase, pending: true, isEnqueue: false, node: first}
			if q.state[i].CompareAndSwap(curDesc, newDesc) {
				q.opdescs.Retire(pid, curDesc)
			} else {
				q.opdescs.Retire(pid, newDesc)
				continue
			}
		}
		first.deqPid.CompareAndSwap(noParticipant, int32(i))
		q.helpFinishDeq(pid)
	}
}

func (q *WFQueue[K, V]) helpFinishDeq(pid int) {
	first := q.nodes.Reserve(pid, wfHPPrev, q.head.Load())
	if first != q.head.Load() {
		return
	}
	next := first.next.Load()
	d := first.deqPid.Load()
	if d == noParticipant {
		return
	}
	curDesc, ok := q.readOpDesc(int(d), pid, wfHPODCurr)
	if !ok {
		return
	}
	if first == q.head.Load() && next != nil {
		newDesc := q.opdescs.Alloc()
		*newDesc = wfOpDesc[V]{phase: curDesc.phase, pending: false, isEnqueue: false, node: curDesc.node}
		if q.state[d].CompareAndSwap(curDesc, newDesc) {
			q.opdescs.Retire(pid, curDesc)
		} else {
			q.opdescs.Retire(pid, newDesc)
		}
		q.head.CompareAndSwap(first, next)
	}
}

// retireOwnDesc CASes state[pid] to the shared terminal descriptor and
// retires whatever it replaced. The shared terminal descriptor itself is
// never retired even when a helper has already installed it by the time we
// get here — unlike the node/descriptor pools it backs, it is immortal for
// the life of the queue, so handing it to the reclaimer would risk it being
// recycled out from under every other idle participant.
func (q *WFQueue[K, V]) retireOwnDesc(pid int) {
	desc := q.state[pid].Load()
	for range 2 * q.cfg.Participants {
		if desc == q.opdescEnd {
			break
		}
		if q.state[pid].CompareAndSwap(desc, q.opdescEnd) {
			break
		}
		desc = q.state[pid].Load()
	}
	if desc != q.opdescEnd {
		q.opdescs.Retire(pid, desc)
	}
}

// Get is non-operative: WFQueue carries no key-addressed storage.
func (q *WFQueue[K, V]) Get(_ K, _ int) (V, bool) {
	var zero V
	return zero, false
}

// Put is non-operative: WFQueue carries no key-addressed storage.
func (q *WFQueue[K, V]) Put(_ K, _ V, _ int) (V, bool) {
	var zero V
	return zero, false
}

// Replace is non-operative: WFQueue carries no key-addressed storage.
func (q *WFQueue[K, V]) Replace(_ K, _ V, _ int) (V, bool) {
	var zero V
	return zero, false
}

var _ Queue[int, int] = (*WFQueue[int, int])(nil)
