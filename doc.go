// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package lfqueue provides two multi-producer/multi-consumer FIFO queues
// intended as building blocks for concurrent benchmarks and runtime
// libraries:
//
//   - [CRTurnQueue], a lock-free FIFO that uses a rotating "turn"-based
//     helping discipline to bound dequeuer starvation.
//   - [WFQueue], a bounded wait-free FIFO driven by per-participant,
//     phase-numbered operation descriptors.
//
// Both queues are linearizable and support any number of concurrent
// participants up to a fixed bound P fixed at construction. Each caller
// thread must be assigned a stable, dense participant id in [0, P) for its
// lifetime; concurrent callers must never share a pid. Node and operation
// descriptor lifetimes are managed through the package-private
// [github.com/gofreaks/lfqueue/internal/hazard] reclaimer, which tracks
// per-participant hazard pointers so that one participant's retire of a
// node can never race another's in-progress dereference of it, even though
// Go's garbage collector alone does not protect against that kind of
// logical reuse-before-safe bug.
//
// # Operations
//
// Insert and Remove are the only operations with interesting semantics.
// Insert always succeeds. Remove returns ok == false when the queue was
// observed empty at the operation's linearization point. Get, Put, and
// Replace exist only for interface uniformity with map-style rideables and
// always report nothing: these queues carry no key-addressed storage.
//
// # Progress
//
// CRTurnQueue is lock-free: some participant's Insert or Remove completes
// within O(P) of its own steps whenever at least one participant keeps
// taking steps, regardless of how many others are suspended. WFQueue is
// wait-free: every Insert and every Remove completes within a bound
// polynomial in P, independent of other participants' progress, because
// each operation helps every not-yet-finished earlier-phase operation
// before finishing its own.
package lfqueue
