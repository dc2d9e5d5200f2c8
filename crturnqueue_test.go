// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package lfqueue_test

import (
	"sync"
	"testing"

	"github.com/gofreaks/lfqueue"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCRTurnQueueFIFOSingleProducerSingleConsumer(t *testing.T) {
	chk := require.New(t)
	q := lfqueue.NewCRTurnQueue[int, int](lfqueue.Config{Participants: 2})

	for i := range 100 {
		chk.True(q.Insert(0, i, 0))
	}
	for i := range 100 {
		v, ok := q.Remove(0, 1)
		chk.True(ok)
		chk.Equal(i, v)
	}
	_, ok := q.Remove(0, 1)
	chk.False(ok, "queue should be empty")
}

func TestCRTurnQueueEmptyRemove(t *testing.T) {
	chk := require.New(t)
	q := lfqueue.NewCRTurnQueue[int, int](lfqueue.Config{Participants: 4})
	_, ok := q.Remove(0, 0)
	chk.False(ok)
}

func TestCRTurnQueueConcurrentNoLostOrDuplicateItems(t *testing.T) {
	const producers = 4
	const consumers = 4
	const perProducer = 2000

	q := lfqueue.NewCRTurnQueue[int, int](lfqueue.Config{Participants: producers + consumers})

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := range perProducer {
				q.Insert(0, pid*perProducer+i, pid)
			}
		}(p)
	}

	results := make([][]int, consumers)
	var rwg sync.WaitGroup
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	for c := range consumers {
		rwg.Add(1)
		go func(idx int) {
			defer rwg.Done()
			pid := producers + idx
			for {
				v, ok := q.Remove(0, pid)
				if ok {
					results[idx] = append(results[idx], v)
					continue
				}
				select {
				case <-done:
					v, ok := q.Remove(0, pid)
					if ok {
						results[idx] = append(results[idx], v)
						continue
					}
					return
				default:
				}
			}
		}(c)
	}
	rwg.Wait()

	seen := make(map[int]bool, producers*perProducer)
	total := 0
	for _, r := range results {
		for _, v := range r {
			require.False(t, seen[v], "duplicate delivery of %d", v)
			seen[v] = true
			total++
		}
	}
	require.Equal(t, producers*perProducer, total, "every inserted item must be delivered exactly once")
}

func TestCRTurnQueueRapidSingleConsumerOrdering(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(rt, "n")
		q := lfqueue.NewCRTurnQueue[int, int](lfqueue.Config{Participants: 2})
		values := make([]int, n)
		for i := range values {
			values[i] = rapid.IntRange(-1000, 1000).Draw(rt, "v")
			q.Insert(0, values[i], 0)
		}
		for i := range values {
			v, ok := q.Remove(0, 1)
			require.True(rt, ok)
			require.Equal(rt, values[i], v)
		}
		_, ok := q.Remove(0, 1)
		require.False(rt, ok)
	})
}
