// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitmap

import (
	"math/rand"
	"testing"

	"github.com/cznic/rtalloc/lldb"
)

func newTestBitmap(t *testing.T, nbytes int) (*Bitmap, *lldb.MemFiler) {
	f := lldb.NewMemFiler()
	if err := f.Truncate(int64(nbytes)); err != nil {
		t.Fatal(err)
	}
	return New(f), f
}

func TestBitAndModifyRange(t *testing.T) {
	bm, _ := newTestBitmap(t, 16)
	if err := bm.ModifyRange(0, 128, true); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 128; i++ {
		v, err := bm.Bit(i)
		if err != nil {
			t.Fatal(err)
		}
		if !v {
			t.Fatalf("bit %d: got false, want true", i)
		}
	}

	if err := bm.ModifyRange(10, 20, false); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 128; i++ {
		v, err := bm.Bit(i)
		if err != nil {
			t.Fatal(err)
		}
		want := i < 10 || i >= 30
		if v != want {
			t.Fatalf("bit %d: got %v, want %v", i, v, want)
		}
	}
}

func TestCheckRange(t *testing.T) {
	bm, _ := newTestBitmap(t, 16)
	if err := bm.ModifyRange(0, 128, true); err != nil {
		t.Fatal(err)
	}
	if err := bm.ModifyRange(40, 5, false); err != nil {
		t.Fatal(err)
	}

	if stop, ok, err := bm.CheckRange(0, 40, true); err != nil || !ok || stop != 40 {
		t.Fatalf("got (%d, %v, %v), want (40, true, nil)", stop, ok, err)
	}

	if stop, ok, err := bm.CheckRange(0, 50, true); err != nil || ok || stop != 40 {
		t.Fatalf("got (%d, %v, %v), want (40, false, nil)", stop, ok, err)
	}

	if stop, ok, err := bm.CheckRange(40, 5, false); err != nil || !ok || stop != 45 {
		t.Fatalf("got (%d, %v, %v), want (45, true, nil)", stop, ok, err)
	}
}

func TestFindBackForw(t *testing.T) {
	bm, _ := newTestBitmap(t, 16)
	if err := bm.ModifyRange(0, 128, true); err != nil {
		t.Fatal(err)
	}
	if err := bm.ModifyRange(20, 1, false); err != nil {
		t.Fatal(err)
	}
	if err := bm.ModifyRange(60, 1, false); err != nil {
		t.Fatal(err)
	}

	if got, err := bm.FindBack(59); err != nil || got != 21 {
		t.Fatalf("FindBack(59) = %d, %v, want 21, nil", got, err)
	}
	if got, err := bm.FindBack(0); err != nil || got != 0 {
		t.Fatalf("FindBack(0) = %d, %v, want 0, nil", got, err)
	}

	if got, err := bm.FindForw(21, 127); err != nil || got != 60 {
		t.Fatalf("FindForw(21, 127) = %d, %v, want 60, nil", got, err)
	}
	if got, err := bm.FindForw(61, 127); err != nil || got != 128 {
		t.Fatalf("FindForw(61, 127) = %d, %v, want 128, nil", got, err)
	}
}

// TestRandomRanges cross-checks ModifyRange/CheckRange/FindBack/FindForw
// against a plain Go []bool model over random, possibly overlapping ranges.
func TestRandomRanges(t *testing.T) {
	const n = 4096
	bm, _ := newTestBitmap(t, n/8)
	model := make([]bool, n)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		start := int64(r.Intn(n))
		length := int64(r.Intn(n - int(start)))
		if length == 0 {
			continue
		}
		value := r.Intn(2) == 0
		if err := bm.ModifyRange(start, length, value); err != nil {
			t.Fatal(err)
		}
		for j := start; j < start+length; j++ {
			model[j] = value
		}
	}

	for i := int64(0); i < n; i++ {
		v, err := bm.Bit(i)
		if err != nil {
			t.Fatal(err)
		}
		if v != model[i] {
			t.Fatalf("bit %d: got %v, want %v", i, v, model[i])
		}
	}

	for i := 0; i < 200; i++ {
		i64 := int64(r.Intn(n))
		if !model[i64] {
			continue
		}
		back, err := bm.FindBack(i64)
		if err != nil {
			t.Fatal(err)
		}
		wantBack := i64
		for wantBack > 0 && model[wantBack-1] {
			wantBack--
		}
		if back != wantBack {
			t.Fatalf("FindBack(%d) = %d, want %d", i64, back, wantBack)
		}

		forw, err := bm.FindForw(i64, n-1)
		if err != nil {
			t.Fatal(err)
		}
		wantForw := i64
		for wantForw <= n-1 && model[wantForw] {
			wantForw++
		}
		if wantForw > n-1 {
			wantForw = n
		}
		if forw != wantForw {
			t.Fatalf("FindForw(%d, %d) = %d, want %d", i64, n-1, forw, wantForw)
		}
	}
}
