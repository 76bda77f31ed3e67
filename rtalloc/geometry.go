// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rtalloc implements the realtime extent allocator: geometry,
// mount/unmount, the exact/near-hint/size-first search strategies, the
// range-allocate/range-free primitives, online growth, and the
// sequence-seeded extent picker.
package rtalloc

import "math/bits"

// Geometry is the static-per-mount derived layout of an RT region. It is
// mutated only by Grow, which projects successive trial Geometry values
// while extending the bitmap and summary inodes.
type Geometry struct {
	BlockSize      int64 // filesystem block size, bytes
	Rextsize       int64 // realtime extent size, filesystem blocks
	Rblocks        int64 // total filesystem blocks in the RT region
	Rextents       int64 // Rblocks / Rextsize
	BitsPerBmblock int64 // BlockSize * 8
	Rbmblocks      int64 // ceil(Rextents / BitsPerBmblock)
	Rextslog       int64 // floor(log2(Rextents)), 0 if Rextents == 0
	Rsumlevels     int64 // Rextslog + 1
	Rsumblocks     int64 // ceil(Rsumlevels * Rbmblocks * cellSize / BlockSize)
}

// cellSize is the on-disk width of a summary cell (summary.cellSize,
// duplicated here since Geometry must not import summary to stay a leaf
// value type).
const cellSize = 4

// NewGeometry derives a Geometry from the three independent quantities a
// mount or grow step picks: block size, extent size (in filesystem
// blocks) and the total block count of the RT region.
func NewGeometry(blockSize, rextsize, rblocks int64) (Geometry, error) {
	if blockSize <= 0 {
		return Geometry{}, &ErrInval{Src: "NewGeometry: block size", Arg: blockSize}
	}
	if rextsize <= 0 {
		return Geometry{}, &ErrInval{Src: "NewGeometry: rextsize", Arg: rextsize}
	}
	if rblocks < 0 {
		return Geometry{}, &ErrInval{Src: "NewGeometry: rblocks", Arg: rblocks}
	}

	g := Geometry{BlockSize: blockSize, Rextsize: rextsize, Rblocks: rblocks}
	g.Rextents = rblocks / rextsize
	g.BitsPerBmblock = blockSize * 8
	g.Rbmblocks = ceilDiv(g.Rextents, g.BitsPerBmblock)
	if g.Rextents > 0 {
		g.Rextslog = int64(bits.Len64(uint64(g.Rextents))) - 1
	}
	g.Rsumlevels = g.Rextslog + 1
	g.Rsumblocks = ceilDiv(g.Rsumlevels*g.Rbmblocks*cellSize, blockSize)
	return g, nil
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// log2Floor returns floor(log2(n)), or -1 for n <= 0.
func log2Floor(n int64) int64 {
	if n <= 0 {
		return -1
	}
	return int64(bits.Len64(uint64(n))) - 1
}

func roundDown(n, prod int64) int64 {
	if prod <= 1 {
		return n
	}
	return (n / prod) * prod
}

func roundUp(n, prod int64) int64 {
	if prod <= 1 {
		return n
	}
	return ((n + prod - 1) / prod) * prod
}

// bmblockOf returns the bitmap block that rtx falls in.
func (g Geometry) bmblockOf(rtx int64) int64 { return rtx / g.BitsPerBmblock }
