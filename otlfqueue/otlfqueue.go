// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package otlfqueue wraps a [github.com/gofreaks/lfqueue.Queue] with
// structured logging, metrics, and tracing without touching the queue's
// own lock-free/wait-free code paths. Each concern is its own decorator so
// that callers can compose only the ones they want, the same inside-out
// wrapper style as the source queue's own task instrumentation. None of
// lfqueue.Queue's methods carry a context.Context — the queues are
// synchronous and participant-indexed rather than request-scoped — so
// every span opened here starts from context.Background().
package otlfqueue

import (
	"context"
	"time"

	"github.com/gofreaks/lfqueue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Instrumented wraps q with logging, metrics, and tracing under the given
// name, composed outside-in: a Logged call observes the duration of
// everything beneath it, including the traced span and the metrics record.
func Instrumented[K, V any](name string, q lfqueue.Queue[K, V]) lfqueue.Queue[K, V] {
	return Logged(name, Metered(name, Traced(name, q)))
}

// Logged adds zap debug logging around every call, recording the
// operation, its outcome, and its duration.
func Logged[K, V any](name string, q lfqueue.Queue[K, V]) lfqueue.Queue[K, V] {
	return &loggedQueue[K, V]{name: name, inner: q}
}

type loggedQueue[K, V any] struct {
	name  string
	inner lfqueue.Queue[K, V]
}

func (q *loggedQueue[K, V]) record(op string, start time.Time, ok bool) {
	logger := zap.L()
	fields := []zap.Field{
		zap.String("queue", q.name),
		zap.String("op", op),
		zap.Duration("duration", time.Since(start)),
	}
	if ok {
		logger.Debug("lfqueue op completed", fields...)
	} else {
		logger.Debug("lfqueue op observed empty", append(fields, zap.Error(lfqueue.ErrEmpty))...)
	}
}

func (q *loggedQueue[K, V]) Insert(key K, value V, pid int) bool {
	start := time.Now()
	ok := q.inner.Insert(key, value, pid)
	q.record("insert", start, ok)
	return ok
}

func (q *loggedQueue[K, V]) Remove(key K, pid int) (V, bool) {
	start := time.Now()
	v, ok := q.inner.Remove(key, pid)
	q.record("remove", start, ok)
	return v, ok
}

func (q *loggedQueue[K, V]) Get(key K, pid int) (V, bool) {
	start := time.Now()
	v, ok := q.inner.Get(key, pid)
	q.record("get", start, ok)
	return v, ok
}

func (q *loggedQueue[K, V]) Put(key K, value V, pid int) (V, bool) {
	start := time.Now()
	v, ok := q.inner.Put(key, value, pid)
	q.record("put", start, ok)
	return v, ok
}

func (q *loggedQueue[K, V]) Replace(key K, value V, pid int) (V, bool) {
	start := time.Now()
	v, ok := q.inner.Replace(key, value, pid)
	q.record("replace", start, ok)
	return v, ok
}

// Metered adds otel counters (calls, empties) and a duration histogram per
// operation, all registered under the "lfqueue" meter.
func Metered[K, V any](name string, q lfqueue.Queue[K, V]) lfqueue.Queue[K, V] {
	meter := otel.GetMeterProvider().Meter("lfqueue")
	mq := &meteredQueue[K, V]{name: name, inner: q}
	mq.calls, _ = meter.Int64Counter(name + ".calls")
	mq.empties, _ = meter.Int64Counter(name + ".empties")
	mq.duration, _ = meter.Float64Histogram(name + ".duration_seconds")
	return mq
}

type meteredQueue[K, V any] struct {
	name     string
	inner    lfqueue.Queue[K, V]
	calls    metric.Int64Counter
	empties  metric.Int64Counter
	duration metric.Float64Histogram
}

func (q *meteredQueue[K, V]) record(start time.Time, ok bool) {
	ctx := context.Background()
	q.calls.Add(ctx, 1)
	q.duration.Record(ctx, time.Since(start).Seconds())
	if !ok {
		q.empties.Add(ctx, 1)
	}
}

func (q *meteredQueue[K, V]) Insert(key K, value V, pid int) bool {
	start := time.Now()
	ok := q.inner.Insert(key, value, pid)
	q.record(start, ok)
	return ok
}

func (q *meteredQueue[K, V]) Remove(key K, pid int) (V, bool) {
	start := time.Now()
	v, ok := q.inner.Remove(key, pid)
	q.record(start, ok)
	return v, ok
}

func (q *meteredQueue[K, V]) Get(key K, pid int) (V, bool) {
	start := time.Now()
	v, ok := q.inner.Get(key, pid)
	q.record(start, ok)
	return v, ok
}

func (q *meteredQueue[K, V]) Put(key K, value V, pid int) (V, bool) {
	start := time.Now()
	v, ok := q.inner.Put(key, value, pid)
	q.record(start, ok)
	return v, ok
}

func (q *meteredQueue[K, V]) Replace(key K, value V, pid int) (V, bool) {
	start := time.Now()
	v, ok := q.inner.Replace(key, value, pid)
	q.record(start, ok)
	return v, ok
}

// Traced starts an otel span named "lfqueue.<name>.<op>" around every
// call.
func Traced[K, V any](name string, q lfqueue.Queue[K, V]) lfqueue.Queue[K, V] {
	return &tracedQueue[K, V]{name: name, inner: q, tracer: otel.Tracer("lfqueue")}
}

type tracedQueue[K, V any] struct {
	name   string
	inner  lfqueue.Queue[K, V]
	tracer trace.Tracer
}

func (q *tracedQueue[K, V]) span(op string) (context.Context, trace.Span) {
	return q.tracer.Start(context.Background(), "lfqueue."+q.name+"."+op)
}

func (q *tracedQueue[K, V]) Insert(key K, value V, pid int) bool {
	_, span := q.span("insert")
	defer span.End()
	return q.inner.Insert(key, value, pid)
}

func (q *tracedQueue[K, V]) Remove(key K, pid int) (V, bool) {
	_, span := q.span("remove")
	defer span.End()
	return q.inner.Remove(key, pid)
}

func (q *tracedQueue[K, V]) Get(key K, pid int) (V, bool) {
	_, span := q.span("get")
	defer span.End()
	return q.inner.Get(key, pid)
}

func (q *tracedQueue[K, V]) Put(key K, value V, pid int) (V, bool) {
	_, span := q.span("put")
	defer span.End()
	return q.inner.Put(key, value, pid)
}

func (q *tracedQueue[K, V]) Replace(key K, value V, pid int) (V, bool) {
	_, span := q.span("replace")
	defer span.End()
	return q.inner.Replace(key, value, pid)
}

var _ lfqueue.Queue[int, int] = (*loggedQueue[int, int])(nil)
var _ lfqueue.Queue[int, int] = (*meteredQueue[int, int])(nil)
var _ lfqueue.Queue[int, int] = (*tracedQueue[int, int])(nil)
