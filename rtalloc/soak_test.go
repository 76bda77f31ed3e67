// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/cznic/sortutil"

	"github.com/cznic/rtalloc/lldb"
	"github.com/cznic/rtalloc/rtalloc"
	"github.com/cznic/rtalloc/rtck"
)

// pAllocator is a paranoid wrapper around *rtalloc.RT: every Allocate/Free
// call is followed by a structural Verify, and the test fails at the first
// step that produces a violation rather than only at the end.
type pAllocator struct {
	t  *testing.T
	rt *rtalloc.RT
}

func (p *pAllocator) check(step int) {
	p.t.Helper()
	var errs []error
	if _, err := rtck.Verify(p.rt, func(err error) bool {
		errs = append(errs, err)
		return true
	}); err != nil {
		p.t.Fatalf("step %d: verify: %v", step, err)
	}
	if len(errs) != 0 {
		p.t.Fatalf("step %d: %d violations, first: %v", step, len(errs), errs[0])
	}
}

func (p *pAllocator) allocate(step int, req rtalloc.AllocRequest) (int64, int64, error) {
	bno, length, err := p.rt.Allocate(req)
	p.check(step)
	return bno, length, err
}

func (p *pAllocator) free(step int, bno, length int64) {
	if err := p.rt.Free(bno, length); err != nil {
		p.t.Fatalf("step %d: free(%d,%d): %v", step, bno, length, err)
	}
	p.check(step)
}

// TestSoakRandomAllocFree exercises Allocate/Free under random traffic,
// verifying structural invariants after every step and cross-checking that
// the live extents — sorted by start — never overlap.
func TestSoakRandomAllocFree(t *testing.T) {
	geom, err := rtalloc.NewGeometry(512, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	bm := lldb.NewMemFiler()
	sum := lldb.NewMemFiler()
	rt, err := rtalloc.Mount(bm, sum, geom)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.GrowRT(rtalloc.GrowRequest{NewRblocks: 8192, NewRextsizeFsb: 2}); err != nil {
		t.Fatal(err)
	}

	p := &pAllocator{t: t, rt: rt}
	p.check(-1)

	type extent struct{ bno, length int64 }
	live := map[int64]extent{} // keyed by bno for O(1) removal by start

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			req := rtalloc.AllocRequest{
				MinLen: int64(1 + rng.Intn(3)),
				MaxLen: int64(4 + rng.Intn(5)),
				Prod:   int64(1 + rng.Intn(2)),
			}
			if req.MinLen > req.MaxLen {
				req.MinLen, req.MaxLen = req.MaxLen, req.MinLen
			}
			bno, length, err := p.allocate(i, req)
			if err != nil {
				if _, ok := err.(*rtalloc.ErrNoSpace); ok {
					continue
				}
				t.Fatalf("step %d: allocate: %v", i, err)
			}
			live[bno] = extent{bno, length}
		} else {
			keys := make(sortutil.Int64Slice, 0, len(live))
			for k := range live {
				keys = append(keys, k)
			}
			sort.Sort(keys)
			victim := keys[rng.Intn(len(keys))]
			ext := live[victim]
			delete(live, victim)
			p.free(i, ext.bno, ext.length)
		}

		starts := make(sortutil.Int64Slice, 0, len(live))
		for k := range live {
			starts = append(starts, k)
		}
		sort.Sort(starts)
		for j := 1; j < len(starts); j++ {
			prev := live[starts[j-1]]
			if prev.bno+prev.length > starts[j] {
				t.Fatalf("step %d: live extents overlap: [%d,%d) and bno=%d", i, prev.bno, prev.bno+prev.length, starts[j])
			}
		}
	}
}
