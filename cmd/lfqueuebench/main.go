// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Command lfqueuebench drives CRTurnQueue or WFQueue with a configurable
// number of producer/consumer participants and reports throughput and a
// bounded sample of the worst observed Insert-to-Remove latencies.
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/addrummond/heap"
	"github.com/gammazero/deque"
	"github.com/gofreaks/lfqueue"
	"github.com/gofreaks/lfqueue/otlfqueue"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type algorithm string

const (
	algoCRTurn algorithm = "crturn"
	algoWF     algorithm = "wf"
)

func main() {
	algo := flag.String("algo", string(algoCRTurn), "queue algorithm: crturn or wf")
	producers := flag.Int("producers", 4, "number of producer participants")
	consumers := flag.Int("consumers", 4, "number of consumer participants")
	perProducer := flag.Int("count", 100_000, "items inserted by each producer")
	topK := flag.Int("topk", 20, "number of worst latencies to report")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("lfqueuebench: building logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTracerProvider(tp)

	participants := *producers + *consumers
	if participants > lfqueue.MaxParticipants {
		fmt.Fprintf(os.Stderr, "lfqueuebench: producers+consumers must be <= %d\n", lfqueue.MaxParticipants)
		os.Exit(1)
	}

	q := otlfqueue.Instrumented(*algo, newQueue(algorithm(*algo), participants))

	result := run(q, *producers, *consumers, *perProducer, *topK)
	fmt.Printf("algorithm:    %s\n", *algo)
	fmt.Printf("participants: %d producers, %d consumers\n", *producers, *consumers)
	fmt.Printf("items:        %d produced, %d consumed\n", result.produced, result.total)
	fmt.Printf("elapsed:      %s\n", result.elapsed)
	fmt.Printf("throughput:   %.0f ops/sec\n", float64(result.total)/result.elapsed.Seconds())
	fmt.Printf("worst %d latencies (descending):\n", len(result.worst))
	for i := len(result.worst) - 1; i >= 0; i-- {
		fmt.Printf("  %s\n", result.worst[i])
	}
}

func newQueue(algo algorithm, participants int) lfqueue.Queue[int, time.Time] {
	cfg := lfqueue.Config{Participants: participants}
	switch algo {
	case algoWF:
		return lfqueue.NewWFQueue[int, time.Time](cfg)
	case algoCRTurn:
		return lfqueue.NewCRTurnQueue[int, time.Time](cfg)
	default:
		fmt.Fprintf(os.Stderr, "lfqueuebench: unknown algorithm %q\n", algo)
		os.Exit(1)
		return nil
	}
}

type benchResult struct {
	produced int
	total    int
	elapsed  time.Duration
	worst    []time.Duration
}

// latencySample orders by duration so a bounded Min-heap of capacity topK
// keeps exactly the topK largest samples seen: once full, pushing a new
// sample and popping the heap's minimum discards whichever of the two is
// smaller.
type latencySample time.Duration

func (a *latencySample) Cmp(b *latencySample) int {
	return cmp.Compare(*a, *b)
}

func run(q lfqueue.Queue[int, time.Time], producers, consumers, perProducer, topK int) benchResult {
	var wg sync.WaitGroup
	var produced atomic.Int64
	var consumed atomic.Int64

	start := time.Now()
	for p := range producers {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for range perProducer {
				q.Insert(0, time.Now(), pid)
				produced.Add(1)
			}
		}(p)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	var mu sync.Mutex
	var worstHeap heap.Heap[latencySample, heap.Min]
	var backlog deque.Deque[time.Duration]

	var cwg sync.WaitGroup
	for c := range consumers {
		cwg.Add(1)
		go func(pid int) {
			defer cwg.Done()
			consumerPid := producers + pid
			for {
				enqueuedAt, ok := q.Remove(0, consumerPid)
				if ok {
					consumed.Add(1)
					latency := time.Since(enqueuedAt)
					mu.Lock()
					backlog.PushBack(latency)
					mu.Unlock()
					continue
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}(c)
	}
	cwg.Wait()
	elapsed := time.Since(start)

	mu.Lock()
	for backlog.Len() > 0 {
		d := backlog.PopFront()
		heap.PushOrderable(&worstHeap, latencySample(d))
		if worstHeap.Len() > topK {
			_, _ = heap.PopOrderable(&worstHeap)
		}
	}
	mu.Unlock()

	worst := make([]time.Duration, 0, worstHeap.Len())
	for worstHeap.Len() > 0 {
		v, _ := heap.PopOrderable(&worstHeap)
		worst = append(worst, time.Duration(v))
	}

	return benchResult{produced: int(produced.Load()), total: int(consumed.Load()), elapsed: elapsed, worst: worst}
}
