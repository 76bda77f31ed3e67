// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package summary

import (
	"testing"

	"github.com/cznic/rtalloc/lldb"
)

func TestGetModify(t *testing.T) {
	f := lldb.NewMemFiler()
	s := New(f)

	const rbmblocks = 4
	if v, err := s.Get(rbmblocks, 2, 1); err != nil || v != 0 {
		t.Fatalf("Get = %d, %v, want 0, nil", v, err)
	}

	if err := s.Modify(rbmblocks, 2, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Modify(rbmblocks, 2, 1, 1); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Get(rbmblocks, 2, 1); err != nil || v != 2 {
		t.Fatalf("Get = %d, %v, want 2, nil", v, err)
	}

	// Unrelated cells stay zero.
	if v, err := s.Get(rbmblocks, 2, 0); err != nil || v != 0 {
		t.Fatalf("Get(2,0) = %d, %v, want 0, nil", v, err)
	}
	if v, err := s.Get(rbmblocks, 0, 1); err != nil || v != 0 {
		t.Fatalf("Get(0,1) = %d, %v, want 0, nil", v, err)
	}
}

func TestModifyUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on underflow")
		}
	}()
	f := lldb.NewMemFiler()
	s := New(f)
	_ = s.Modify(4, 0, 0, -1)
}

func TestCopyRelocatesAndZeroes(t *testing.T) {
	f := lldb.NewMemFiler()
	s := New(f)

	const oldRbmblocks = 2
	const oldLevels = 5
	if err := s.Modify(oldRbmblocks, 3, 0, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Modify(oldRbmblocks, 4, 1, 1); err != nil {
		t.Fatal(err)
	}

	const newRbmblocks = 8
	if err := s.Copy(oldRbmblocks, oldLevels, newRbmblocks); err != nil {
		t.Fatal(err)
	}

	if v, err := s.Get(oldRbmblocks, 3, 0); err != nil || v != 0 {
		t.Fatalf("old(3,0) = %d, %v, want 0, nil", v, err)
	}
	if v, err := s.Get(oldRbmblocks, 4, 1); err != nil || v != 0 {
		t.Fatalf("old(4,1) = %d, %v, want 0, nil", v, err)
	}

	if v, err := s.Get(newRbmblocks, 3, 0); err != nil || v != 2 {
		t.Fatalf("new(3,0) = %d, %v, want 2, nil", v, err)
	}
	if v, err := s.Get(newRbmblocks, 4, 1); err != nil || v != 1 {
		t.Fatalf("new(4,1) = %d, %v, want 1, nil", v, err)
	}
}

func TestCopyAliasedInode(t *testing.T) {
	// Same rbmblocks, levels grow: old and new strides coincide, so Copy
	// must tolerate reading and writing the same backing bytes.
	f := lldb.NewMemFiler()
	s := New(f)

	const rbmblocks = 4
	if err := s.Modify(rbmblocks, 2, 3, 5); err != nil {
		t.Fatal(err)
	}

	if err := s.Copy(rbmblocks, 6, rbmblocks); err != nil {
		t.Fatal(err)
	}

	if v, err := s.Get(rbmblocks, 2, 3); err != nil || v != 5 {
		t.Fatalf("(2,3) = %d, %v, want 5, nil", v, err)
	}
}
