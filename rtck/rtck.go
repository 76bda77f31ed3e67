// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rtck is a structural verifier for a mounted realtime extent
// allocator, checking the bitmap, summary and hint invariants against an
// independent brute-force scan. It is modeled on lldb.Allocator.Verify:
// a scan that reports violations through a caller-supplied log callback
// and stops early if that callback returns false.
package rtck

import (
	"fmt"
	"math/bits"

	"github.com/cznic/rtalloc/rtalloc"
)

// Stats accumulates counts from a Verify run.
type Stats struct {
	FreeRtx    int64 // total free rtx counted by the scan
	FreeRuns   int64 // total maximal free runs counted by the scan
	Violations int64 // number of invariant violations reported
}

func nolog(error) bool { return true }

func log2Floor(n int64) int64 {
	if n <= 0 {
		return -1
	}
	return int64(bits.Len64(uint64(n))) - 1
}

type cell struct{ level, block int64 }

// Verify checks invariants I1/I2 (via P1/P4), I3 (via P2) and I4 (via P3)
// against rt by scanning its bitmap bit by bit and re-deriving what the
// summary and hint ought to contain. log receives one error per violation
// found; if it returns false the scan stops early and Verify returns with
// whatever Stats it has accumulated so far.
func Verify(rt *rtalloc.RT, log func(error) bool) (Stats, error) {
	if log == nil {
		log = nolog
	}

	var stats Stats
	geom := rt.Geometry()

	report := func(err error) (keepGoing bool) {
		stats.Violations++
		return log(err)
	}

	trueCounts := make(map[cell]int64)
	maxLevelInBlock := make(map[int64]int64, geom.Rbmblocks)
	for b := int64(0); b < geom.Rbmblocks; b++ {
		maxLevelInBlock[b] = -1
	}

	var popcount int64
	pos := int64(0)
	for pos < geom.Rextents {
		free, err := rt.BitmapBit(pos)
		if err != nil {
			return stats, err
		}
		if !free {
			pos++
			continue
		}

		runStart := pos
		for pos < geom.Rextents {
			free, err := rt.BitmapBit(pos)
			if err != nil {
				return stats, err
			}
			if !free {
				break
			}
			popcount++
			pos++
		}

		runLen := pos - runStart
		level := log2Floor(runLen)
		block := runStart / geom.BitsPerBmblock
		trueCounts[cell{level, block}]++
		stats.FreeRuns++
		if level > maxLevelInBlock[block] {
			maxLevelInBlock[block] = level
		}
	}
	stats.FreeRtx = popcount

	// P1: popcount(bitmap[0..rextents]) == frextents.
	if popcount != rt.FreeExtents() {
		if !report(&rtalloc.ErrCorruption{
			Src: "rtck: P1 free-extent counter mismatch",
			Arg: fmt.Sprintf("scan=%d counter=%d", popcount, rt.FreeExtents()),
		}) {
			return stats, nil
		}
	}

	// P4: tail padding bits must be zero.
	tailEnd := geom.Rbmblocks * geom.BitsPerBmblock
	for i := geom.Rextents; i < tailEnd; i++ {
		free, err := rt.BitmapBit(i)
		if err != nil {
			return stats, err
		}
		if free {
			if !report(&rtalloc.ErrCorruption{Src: "rtck: P4 tail bit set", Arg: i}) {
				return stats, nil
			}
		}
	}

	// P2: every summary cell equals the scan's true count for (level, block).
	for level := int64(0); level < geom.Rsumlevels; level++ {
		for block := int64(0); block < geom.Rbmblocks; block++ {
			want := trueCounts[cell{level, block}]
			got, err := rt.SummaryGet(level, block)
			if err != nil {
				return stats, err
			}
			if int64(got) != want {
				if !report(&rtalloc.ErrCorruption{
					Src: "rtck: P2 summary cell mismatch",
					Arg: fmt.Sprintf("level=%d block=%d got=%d want=%d", level, block, got, want),
				}) {
					return stats, nil
				}
			}
		}
	}

	// P3: the hint must upper-bound the max class with a run starting in
	// each block: hint[b] > maxLevelInBlock[b] whenever that block has
	// any free run at all.
	for b := int64(0); b < geom.Rbmblocks; b++ {
		maxLevel := maxLevelInBlock[b]
		if maxLevel < 0 {
			continue
		}
		if int64(rt.HintGet(b)) <= maxLevel {
			if !report(&rtalloc.ErrCorruption{
				Src: "rtck: P3 hint does not upper-bound block",
				Arg: fmt.Sprintf("block=%d hint=%d maxLevel=%d", b, rt.HintGet(b), maxLevel),
			}) {
				return stats, nil
			}
		}
	}

	return stats, nil
}
