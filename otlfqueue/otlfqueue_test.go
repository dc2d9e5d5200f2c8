// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package otlfqueue_test

import (
	"testing"

	"github.com/gofreaks/lfqueue"
	"github.com/gofreaks/lfqueue/otlfqueue"
	"github.com/stretchr/testify/require"
)

func TestInstrumentedPreservesQueueSemantics(t *testing.T) {
	chk := require.New(t)
	inner := lfqueue.NewCRTurnQueue[int, int](lfqueue.Config{Participants: 2})
	q := otlfqueue.Instrumented[int, int]("test", inner)

	chk.True(q.Insert(0, 7, 0))
	v, ok := q.Remove(0, 1)
	chk.True(ok)
	chk.Equal(7, v)

	_, ok = q.Remove(0, 1)
	chk.False(ok)

	_, ok = q.Get(0, 0)
	chk.False(ok)
	_, ok = q.Put(0, 1, 0)
	chk.False(ok)
	_, ok = q.Replace(0, 1, 0)
	chk.False(ok)
}
