// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtck

import (
	"math/rand"
	"testing"

	"github.com/cznic/rtalloc/lldb"
	"github.com/cznic/rtalloc/rtalloc"
)

func collect(errs *[]error) func(error) bool {
	return func(err error) bool {
		*errs = append(*errs, err)
		return true
	}
}

func TestVerifyFreshlyMountedEmptyRegion(t *testing.T) {
	geom, err := rtalloc.NewGeometry(512, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	bm := lldb.NewMemFiler()
	sum := lldb.NewMemFiler()
	rt, err := rtalloc.Mount(bm, sum, geom)
	if err != nil {
		t.Fatal(err)
	}

	var errs []error
	stats, err := Verify(rt, collect(&errs))
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected violations on empty region: %v", errs)
	}
	if stats.FreeRtx != 0 || stats.FreeRuns != 0 {
		t.Fatalf("want zero stats on empty region, got %+v", stats)
	}
}

func TestVerifyAfterGrowAllocFree(t *testing.T) {
	geom, err := rtalloc.NewGeometry(512, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	bm := lldb.NewMemFiler()
	sum := lldb.NewMemFiler()
	rt, err := rtalloc.Mount(bm, sum, geom)
	if err != nil {
		t.Fatal(err)
	}

	if err := rt.GrowRT(rtalloc.GrowRequest{NewRblocks: 4096, NewRextsizeFsb: 4}); err != nil {
		t.Fatal(err)
	}

	var errs []error
	if _, err := Verify(rt, collect(&errs)); err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("violations after grow: %v", errs)
	}

	rng := rand.New(rand.NewSource(1))
	var live [][2]int64
	for i := 0; i < 200; i++ {
		switch {
		case len(live) == 0 || rng.Intn(2) == 0:
			bno, length, err := rt.Allocate(rtalloc.AllocRequest{MinLen: 1, MaxLen: 3})
			if err != nil {
				if _, ok := err.(*rtalloc.ErrNoSpace); ok {
					continue
				}
				t.Fatal(err)
			}
			live = append(live, [2]int64{bno, length})
		default:
			j := rng.Intn(len(live))
			ext := live[j]
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			if err := rt.Free(ext[0], ext[1]); err != nil {
				t.Fatal(err)
			}
		}

		errs = errs[:0]
		if _, err := Verify(rt, collect(&errs)); err != nil {
			t.Fatal(err)
		}
		if len(errs) != 0 {
			t.Fatalf("step %d: violations: %v", i, errs)
		}
	}
}

func TestVerifyStopsEarly(t *testing.T) {
	geom, err := rtalloc.NewGeometry(512, 1, 4096)
	if err != nil {
		t.Fatal(err)
	}
	bm := lldb.NewMemFiler()
	sum := lldb.NewMemFiler()
	rt, err := rtalloc.Mount(bm, sum, geom)
	if err != nil {
		t.Fatal(err)
	}

	// Mount reconciles frextents against an all-allocated bitmap (a fresh
	// MemFiler reads as all zero bits, i.e. all allocated). Tamper with
	// the bitmap directly, bypassing rt, so the free-extent counter goes
	// stale and P1, the first check Verify makes, reports a violation.
	corrupt := make([]byte, geom.Rbmblocks*geom.BlockSize)
	for i := range corrupt {
		corrupt[i] = 0xff
	}
	if _, err := bm.WriteAt(corrupt, 0); err != nil {
		t.Fatal(err)
	}

	calls := 0
	_, err = Verify(rt, func(error) bool {
		calls++
		return false
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("want exactly one log call before stopping, got %d", calls)
	}
}
