// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package hazard_test

import (
	"sync"
	"testing"

	"github.com/gofreaks/lfqueue/internal/hazard"
	"github.com/stretchr/testify/require"
)

type widget struct {
	n int
}

func TestReclaimerAllocReuse(t *testing.T) {
	chk := require.New(t)
	r := hazard.New(hazard.Config{Participants: 2, Slots: 1}, func() *widget { return &widget{} })

	w := r.Alloc()
	w.n = 42
	r.Retire(0, w)

	// Retire enough further objects to cross the epoch/empty thresholds
	// and force a scan.
	for range 200 {
		r.Retire(0, r.Alloc())
	}

	reused := false
	for range 256 {
		got := r.Alloc()
		if got == w {
			reused = true
			break
		}
		r.Retire(0, got)
	}
	chk.True(reused, "expected the pool to eventually hand back the retired widget")
}

func TestReclaimerHonorsHazardSlot(t *testing.T) {
	chk := require.New(t)
	r := hazard.New(hazard.Config{Participants: 2, Slots: 1, EpochFrequency: 1, EmptyFrequency: 1}, func() *widget { return &widget{} })

	w := r.Alloc()
	r.Reserve(1, 0, w) // participant 1 is "using" w
	r.Retire(0, w)     // participant 0 retires it

	for range 8 {
		r.Retire(0, r.Alloc())
	}

	for range 64 {
		chk.NotEqual(w, r.Alloc())
	}

	r.ClearSlot(1, 0)
	r.Retire(0, w)
	for range 8 {
		r.Retire(0, r.Alloc())
	}

	reused := false
	for range 256 {
		got := r.Alloc()
		if got == w {
			reused = true
			break
		}
		r.Retire(0, got)
	}
	chk.True(reused, "expected the widget to become reusable once its hazard slot was cleared")
}

func TestReclaimerConcurrentRetire(t *testing.T) {
	const participants = 8
	const perParticipant = 2000
	r := hazard.New(hazard.Config{Participants: participants, Slots: 1}, func() *widget { return &widget{} })

	var wg sync.WaitGroup
	for pid := range participants {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for range perParticipant {
				w := r.Reserve(pid, 0, r.Alloc())
				w.n = pid
				r.ClearSlot(pid, 0)
				r.Retire(pid, w)
			}
		}(pid)
	}
	wg.Wait()
}
