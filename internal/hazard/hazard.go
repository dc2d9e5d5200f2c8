// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package hazard implements the per-participant hazard-pointer-style
// reclaimer that [github.com/gofreaks/lfqueue]'s two queue cores depend on.
// A participant "reserves" a pointer it is about to dereference into a
// named slot before doing so, and re-checks the shared location it read the
// pointer from to confirm the reservation became visible before the object
// could have been retired out from under it. An object that has been
// "retired" by its unique retirer is only returned to its allocation pool
// once no participant's hazard slot still references it.
//
// Go's garbage collector means an object can never be deallocated while
// reachable, so this package is not protecting against use-after-free in
// the C++ sense. What it still protects against is reuse-before-safe: a
// pool that recycled a node the instant it was logically retired would let
// a stalled participant observe a node's fields change meaning underneath
// it (the same hazard the algorithms themselves are built around), which
// would violate the linearizability and no-duplicate-dequeue properties
// the queues promise even though the process itself would never crash.
package hazard

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

// cacheLinePad keeps the hot atomics of a Reclaimer from sharing a line
// with unrelated fields.
type cacheLinePad [128]byte

// Config governs the shape and reclamation cadence of a Reclaimer.
type Config struct {
	// Participants is the number of distinct pids the reclaimer serves.
	Participants int
	// Slots is the number of named hazard slots per participant.
	Slots int
	// EpochFrequency triggers a reclamation scan every time this many
	// objects (in total, across all participants) have been retired.
	EpochFrequency int
	// EmptyFrequency forces a scan of a participant's own retired list
	// once it has accumulated this many entries, independent of
	// EpochFrequency.
	EmptyFrequency int
}

func (c Config) withDefaults() Config {
	if c.Slots <= 0 {
		c.Slots = 1
	}
	if c.EpochFrequency <= 0 {
		c.EpochFrequency = 150
	}
	if c.EmptyFrequency <= 0 {
		c.EmptyFrequency = 30
	}
	return c
}

// Reclaimer tracks hazard pointers of type *T for a fixed set of
// participants and defers returning retired *T values to a pool until no
// participant's hazard slot still references them.
type Reclaimer[T any] struct {
	cfg Config

	_     cacheLinePad
	slots [][]atomic.Pointer[T] // [pid][slot]
	_     cacheLinePad
	retired []retiredList[T] // [pid]
	_       cacheLinePad

	pool      sync.Pool
	retireSeq atomic.Int64
	activeOps atomic.Int64
}

type retiredList[T any] struct {
	mu    sync.Mutex
	items deque.Deque[*T]
}

// New constructs a Reclaimer for cfg.Participants participants, each with
// cfg.Slots named hazard slots, backed by a pool seeded with newFunc.
func New[T any](cfg Config, newFunc func() *T) *Reclaimer[T] {
	if cfg.Participants <= 0 {
		panic("hazard: Participants must be positive")
	}
	cfg = cfg.withDefaults()
	r := &Reclaimer[T]{
		cfg:     cfg,
		slots:   make([][]atomic.Pointer[T], cfg.Participants),
		retired: make([]retiredList[T], cfg.Participants),
	}
	for i := range r.slots {
		r.slots[i] = make([]atomic.Pointer[T], cfg.Slots)
	}
	r.pool.New = func() any { return newFunc() }
	return r
}

// Alloc returns a *T from the pool, constructing a fresh one if the pool is
// empty. The returned value's fields are whatever newFunc or a prior
// Retire-then-reuse cycle left them; callers are responsible for
// (re)initializing every field that matters before publishing the result.
func (r *Reclaimer[T]) Alloc() *T {
	return r.pool.Get().(*T)
}

// StartOp brackets the beginning of a participant's critical section. It
// exists to mirror the source reclaimer's start_op/end_op contract and to
// expose in-flight operation counts to instrumentation; reclamation itself
// does not depend on it under a garbage-collected runtime.
func (r *Reclaimer[T]) StartOp(pid int) {
	r.activeOps.Add(1)
}

// EndOp closes the critical section opened by StartOp.
func (r *Reclaimer[T]) EndOp(pid int) {
	r.activeOps.Add(-1)
}

// ActiveOps reports how many participants are currently between a
// StartOp/EndOp pair, for diagnostics.
func (r *Reclaimer[T]) ActiveOps() int64 {
	return r.activeOps.Load()
}

// Reserve publishes ptr into pid's named hazard slot and returns it
// unchanged. Per the reserve/re-read discipline, the caller must re-load
// the shared location ptr came from after calling Reserve and retry the
// whole read if the two no longer agree — only then is it safe to
// dereference ptr.
func (r *Reclaimer[T]) Reserve(pid, slot int, ptr *T) *T {
	r.slots[pid][slot].Store(ptr)
	return ptr
}

// ClearSlot releases pid's hold on whatever it last reserved in slot.
func (r *Reclaimer[T]) ClearSlot(pid, slot int) {
	r.slots[pid][slot].Store(nil)
}

// ClearAll releases every hazard slot belonging to pid. Callers invoke this
// once at the end of each Insert/Remove, mirroring the source's
// clear_all(tid).
func (r *Reclaimer[T]) ClearAll(pid int) {
	for i := range r.slots[pid] {
		r.slots[pid][i].Store(nil)
	}
}

// Retire declares that pid will no longer access ptr. ptr is returned to
// the pool once a scan observes that no participant's hazard slot
// references it; scans run inline on whichever Retire call crosses
// EpochFrequency or EmptyFrequency, so Retire's caller may occasionally pay
// for a scan pass.
func (r *Reclaimer[T]) Retire(pid int, ptr *T) {
	if ptr == nil {
		return
	}
	rl := &r.retired[pid]
	rl.mu.Lock()
	rl.items.PushBack(ptr)
	n := rl.items.Len()
	rl.mu.Unlock()

	total := r.retireSeq.Add(1)
	dueByEpoch := total%int64(r.cfg.EpochFrequency) == 0
	dueByEmpty := n >= r.cfg.EmptyFrequency
	if dueByEpoch || dueByEmpty {
		r.scan(pid)
	}
}

// scan walks pid's retired list once, returning every entry not currently
// covered by any participant's hazard slot to the pool and leaving the rest
// (in their original relative order) for a future pass.
func (r *Reclaimer[T]) scan(pid int) {
	hazarded := r.snapshotHazards()

	rl := &r.retired[pid]
	rl.mu.Lock()
	n := rl.items.Len()
	var toFree []*T
	survivors := 0
	for range n {
		obj := rl.items.PopFront()
		if _, busy := hazarded[obj]; busy {
			rl.items.PushBack(obj)
			survivors++
		} else {
			toFree = append(toFree, obj)
		}
	}
	rl.mu.Unlock()

	for _, obj := range toFree {
		r.pool.Put(obj)
	}

	if logger := zap.L().Check(zap.DebugLevel, "hazard: reclaim pass"); logger != nil {
		logger.Write(
			zap.Int("pid", pid),
			zap.Int("retired", n),
			zap.Int("freed", len(toFree)),
			zap.Int("survivors", survivors),
		)
	}
}

func (r *Reclaimer[T]) snapshotHazards() map[*T]struct{} {
	set := make(map[*T]struct{})
	for i := range r.slots {
		for j := range r.slots[i] {
			if p := r.slots[i][j].Load(); p != nil {
				set[p] = struct{}{}
			}
		}
	}
	return set
}
