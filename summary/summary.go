// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package summary implements the 2-D free-run-count table indexed by
// (size class, bitmap block). It is the free-list-table idea turned
// inside out: instead of one persistent head pointer per size class, the
// summary keeps one persistent counter per (class, block) cell.
package summary

import (
	"encoding/binary"
	"io"
)

// Filer is the slice of lldb.Filer the summary codec needs.
type Filer interface {
	ReadAt(b []byte, off int64) (n int, err error)
	WriteAt(b []byte, off int64) (n int, err error)
}

// cellSize is the on-disk width of one summary cell: a little-endian
// uint32 free-run count.
const cellSize = 4

// Summary is a view of a (class, block) counter matrix backed by a Filer.
// The row stride (the number of bitmap blocks, "B" in the spec) is passed
// explicitly to every call rather than held on the Summary value, because
// grow must address the same inode through two different strides at once:
// the old geometry's and the new one's.
type Summary struct {
	f Filer
}

// New returns a Summary backed by f.
func New(f Filer) *Summary { return &Summary{f: f} }

func cellOffset(rbmblocks, level, block int64) int64 {
	return (level*rbmblocks + block) * cellSize
}

func (s *Summary) readCell(off int64) (uint32, error) {
	var buf [cellSize]byte
	_, err := s.f.ReadAt(buf[:], off)
	if err != nil && err != io.EOF {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (s *Summary) writeCell(off int64, v uint32) error {
	var buf [cellSize]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := s.f.WriteAt(buf[:], off)
	return err
}

// Get returns the free-run count at (level, block) under a row stride of
// rbmblocks.
func (s *Summary) Get(rbmblocks, level, block int64) (uint32, error) {
	return s.readCell(cellOffset(rbmblocks, level, block))
}

// Modify adds delta, which is signed, to the cell at (level, block) under a
// row stride of rbmblocks and writes it back. A resulting negative count is
// a logic error — the caller attempted to remove a free run bucket that was
// never registered — and Modify panics rather than silently wrapping.
func (s *Summary) Modify(rbmblocks, level, block int64, delta int32) error {
	off := cellOffset(rbmblocks, level, block)
	v, err := s.readCell(off)
	if err != nil {
		return err
	}
	nv := int64(v) + int64(delta)
	if nv < 0 {
		panic("summary: modify would make cell negative")
	}
	return s.writeCell(off, uint32(nv))
}

// Copy relocates every nonzero cell addressed under the old stride
// (oldRbmblocks, levels [0, oldLevels)) to the same (level, block)
// coordinates addressed under the new stride (newRbmblocks), zeroing the
// source cell first. Iteration runs level descending, then block
// descending, so that when oldRbmblocks == newRbmblocks (same inode, only
// rsumlevels grew) a source cell is always read before any destination
// cell that could alias it is written.
//
// The first error encountered stops the copy and is returned; unlike the
// xfs_rtcopy_summary this mirrors, Copy never discards a mid-loop failure.
func (s *Summary) Copy(oldRbmblocks, oldLevels, newRbmblocks int64) error {
	for level := oldLevels - 1; level >= 0; level-- {
		for block := oldRbmblocks - 1; block >= 0; block-- {
			v, err := s.Get(oldRbmblocks, level, block)
			if err != nil {
				return err
			}
			if v == 0 {
				continue
			}
			if err := s.Modify(oldRbmblocks, level, block, -int32(v)); err != nil {
				return err
			}
			if err := s.Modify(newRbmblocks, level, block, int32(v)); err != nil {
				return err
			}
		}
	}
	return nil
}
