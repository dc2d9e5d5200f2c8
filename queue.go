// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package lfqueue

// Queue is the common shape of [CRTurnQueue] and [WFQueue]. K is threaded
// through Insert/Remove/Get/Put/Replace purely for signature uniformity
// with map-style rideables used by the same benchmarks; both
// implementations in this package ignore it entirely and behave as pure
// FIFOs of V.
type Queue[K any, V any] interface {
	// Insert publishes value for participant pid and always returns true.
	Insert(key K, value V, pid int) bool

	// Remove returns the next value in FIFO order for participant pid, or
	// ok == false if the queue was observed empty at the linearization
	// point.
	Remove(key K, pid int) (value V, ok bool)

	// Get, Put, and Replace are non-operative; they always report nothing.
	Get(key K, pid int) (value V, ok bool)
	Put(key K, value V, pid int) (previous V, ok bool)
	Replace(key K, value V, pid int) (previous V, ok bool)
}

// cacheLinePad occupies a full cache line so that the hot atomics it
// separates do not share one with a neighboring field. 128 bytes rather
// than the more common 64 covers adjacent-line prefetch on the
// multi-socket hardware these algorithms are usually benchmarked on.
type cacheLinePad [128]byte
