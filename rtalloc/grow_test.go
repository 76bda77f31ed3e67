// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

import (
	"io"
	"testing"

	"github.com/cznic/rtalloc/lldb"
)

func TestGrowRTFromEmpty(t *testing.T) {
	geom, err := NewGeometry(512, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := Mount(lldb.NewMemFiler(), lldb.NewMemFiler(), geom)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.GrowRT(GrowRequest{NewRblocks: 8192, NewRextsizeFsb: 4}); err != nil {
		t.Fatal(err)
	}
	if rt.geom.Rextents != 2048 {
		t.Fatalf("Rextents = %d, want 2048", rt.geom.Rextents)
	}
	if rt.FreeExtents() != 2048 {
		t.Fatalf("FreeExtents = %d, want 2048", rt.FreeExtents())
	}
}

func TestGrowRTAcrossMultipleBitmapBlocks(t *testing.T) {
	// BitsPerBmblock = 512*8 = 4096; ask for enough rextents to span 3
	// bitmap blocks so the per-block grow loop actually iterates.
	geom, err := NewGeometry(512, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := Mount(lldb.NewMemFiler(), lldb.NewMemFiler(), geom)
	if err != nil {
		t.Fatal(err)
	}
	const rblocks = 10000
	if err := rt.GrowRT(GrowRequest{NewRblocks: rblocks, NewRextsizeFsb: 1}); err != nil {
		t.Fatal(err)
	}
	if rt.geom.Rbmblocks < 3 {
		t.Fatalf("Rbmblocks = %d, want >= 3 to exercise multi-block grow", rt.geom.Rbmblocks)
	}
	if rt.FreeExtents() != rblocks {
		t.Fatalf("FreeExtents = %d, want %d", rt.FreeExtents(), rblocks)
	}

	bno, length, err := rt.Allocate(AllocRequest{BnoHint: rblocks - 5, MinLen: 5, MaxLen: 5})
	if err != nil {
		t.Fatal(err)
	}
	if bno != rblocks-5 || length != 5 {
		t.Fatalf("allocation at the tail block failed: bno=%d length=%d", bno, length)
	}
}

func TestGrowRTIncrementalThenAllocate(t *testing.T) {
	geom, err := NewGeometry(512, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := Mount(lldb.NewMemFiler(), lldb.NewMemFiler(), geom)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.GrowRT(GrowRequest{NewRblocks: 2000, NewRextsizeFsb: 2}); err != nil {
		t.Fatal(err)
	}
	firstExtents := rt.geom.Rextents
	if err := rt.GrowRT(GrowRequest{NewRblocks: 8000}); err != nil {
		t.Fatal(err)
	}
	if rt.geom.Rextents <= firstExtents {
		t.Fatalf("second grow did not extend: %d -> %d", firstExtents, rt.geom.Rextents)
	}
	if rt.FreeExtents() != rt.geom.Rextents {
		t.Fatalf("FreeExtents = %d, want %d after two growths with no allocations", rt.FreeExtents(), rt.geom.Rextents)
	}
}

func TestGrowRTRejectsShrink(t *testing.T) {
	rt := mustMount(t, 512, 1, 4096)
	if err := rt.GrowRT(GrowRequest{NewRblocks: 100}); err == nil {
		t.Fatal("want error shrinking the region")
	}
}

func TestGrowRTRejectsRextsizeMismatch(t *testing.T) {
	rt := mustMount(t, 512, 4, 4096)
	if err := rt.GrowRT(GrowRequest{NewRblocks: 8192, NewRextsizeFsb: 2}); err == nil {
		t.Fatal("want error changing rextsize after first grow")
	}
}

func TestGrowRTConcurrentCallRejected(t *testing.T) {
	rt := mustMount(t, 512, 1, 4096)
	if !rt.growMu.TryLock() {
		t.Fatal("expected to acquire growMu")
	}
	defer rt.growMu.Unlock()

	err := rt.GrowRT(GrowRequest{NewRblocks: 8192, NewRextsizeFsb: 1})
	if _, ok := err.(*ErrBusy); !ok {
		t.Fatalf("want ErrBusy, got %v", err)
	}
}

// failingFiler wraps an lldb.Filer and fails every WriteAt after a budget
// of successful writes is exhausted, to exercise GrowRT's rollback path.
type failingFiler struct {
	*lldb.MemFiler
	writesLeft int
}

func (f *failingFiler) WriteAt(b []byte, off int64) (int, error) {
	if f.writesLeft <= 0 {
		return 0, &lldb.ErrPERM{Src: "failingFiler"}
	}
	f.writesLeft--
	return f.MemFiler.WriteAt(b, off)
}

func readAll(t *testing.T, f Filer) []byte {
	t.Helper()
	size, err := f.Size()
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		t.Fatal(err)
	}
	return buf
}

// TestGrowRTRollsBackOnStepFailure fails the summary Filer's commit of the
// first grow step — endGrowStep commits summary before bitmap, so a
// summary failure must leave both RollbackFilers' dirty pages undumped and
// neither inode's backing bytes touched, not just the in-memory geometry.
func TestGrowRTRollsBackOnStepFailure(t *testing.T) {
	geom, err := NewGeometry(512, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	bm := lldb.NewMemFiler()
	sum := &failingFiler{MemFiler: lldb.NewMemFiler(), writesLeft: 0}
	rt, err := Mount(bm, sum, geom)
	if err != nil {
		t.Fatal(err)
	}

	beforeGeom := rt.geom
	beforeFree := rt.frextents

	err = rt.GrowRT(GrowRequest{NewRblocks: 20000, NewRextsizeFsb: 1})
	if err == nil {
		t.Fatal("want error from the injected write failure")
	}
	if rt.geom != beforeGeom {
		t.Fatalf("geometry not rolled back: %+v vs %+v", rt.geom, beforeGeom)
	}
	if rt.frextents != beforeFree {
		t.Fatalf("frextents not rolled back: %d vs %d", rt.frextents, beforeFree)
	}

	for i, b := range readAll(t, bm) {
		if b != 0 {
			t.Fatalf("bitmap byte %d = %#x, want 0: the step's write reached disk despite rollback", i, b)
		}
	}
	for i, b := range readAll(t, sum) {
		if b != 0 {
			t.Fatalf("summary byte %d = %#x, want 0: the step's write reached disk despite rollback", i, b)
		}
	}
}

// TestGrowRTRejectsWithoutPermission exercises ErrPerm: a mount without
// grow permission refuses GrowRT outright, before touching either inode.
func TestGrowRTRejectsWithoutPermission(t *testing.T) {
	geom, err := NewGeometry(512, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	rt, err := Mount(lldb.NewMemFiler(), lldb.NewMemFiler(), geom, WithGrowPermission(false))
	if err != nil {
		t.Fatal(err)
	}
	err = rt.GrowRT(GrowRequest{NewRblocks: 8192, NewRextsizeFsb: 1})
	if _, ok := err.(*ErrPerm); !ok {
		t.Fatalf("want ErrPerm, got %v", err)
	}
}

// TestGrowRTRejectsUnsupportedFeatures exercises ErrUnsupported for the
// realtime-incompatible features spec.md's grow-error table names.
func TestGrowRTRejectsUnsupportedFeatures(t *testing.T) {
	rt := mustMount(t, 512, 1, 0)
	err := rt.GrowRT(GrowRequest{NewRblocks: 8192, NewRextsizeFsb: 1, ReflinkEnabled: true})
	if _, ok := err.(*ErrUnsupported); !ok {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
}
