// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rtcache provides two caching layers: a short-lived, last-block
// buffer cache in front of the bitmap and summary Filers, which an
// allocation or free operation keeps for its own lifetime, and the
// in-memory, reconstructible summary-cache hint array, which lives as long
// as the mount.
package rtcache

import (
	"io"

	"github.com/cznic/rtalloc/summary"
)

// Filer is the slice of lldb.Filer the block cache needs.
type Filer interface {
	ReadAt(b []byte, off int64) (n int, err error)
	WriteAt(b []byte, off int64) (n int, err error)
}

// BlockCache is a one-entry, write-through cache of the most recently
// touched block of a Filer. It exists purely to amortize the
// neighbor-block access pattern of the near-hint scan and block-allocate;
// it holds no state across operations and need not be journaled.
type BlockCache struct {
	f         Filer
	blockSize int64
	block     int64
	valid     bool
	buf       []byte
}

// New returns a BlockCache of f with the given block size.
func New(f Filer, blockSize int64) *BlockCache {
	return &BlockCache{f: f, blockSize: blockSize, buf: make([]byte, blockSize)}
}

func (c *BlockCache) fill(block int64) error {
	if c.valid && c.block == block {
		return nil
	}
	n, err := c.f.ReadAt(c.buf, block*c.blockSize)
	if err != nil && err != io.EOF {
		c.valid = false
		return err
	}
	for i := n; i < len(c.buf); i++ {
		c.buf[i] = 0
	}
	c.block = block
	c.valid = true
	return nil
}

// ReadAt implements Filer, serving from the cached block when possible.
func (c *BlockCache) ReadAt(b []byte, off int64) (int, error) {
	block := off / c.blockSize
	boff := off % c.blockSize
	if boff+int64(len(b)) > c.blockSize {
		// Spans more than one block: bypass the cache.
		return c.f.ReadAt(b, off)
	}
	if err := c.fill(block); err != nil {
		return 0, err
	}
	return copy(b, c.buf[boff:]), nil
}

// Reset invalidates the cached block without touching f. Callers reset the
// cache at an operation boundary — the start of an allocate or free, or the
// near-hint-to-size-first fallthrough inside one — so a block left over
// from the previous boundary is never served stale.
func (c *BlockCache) Reset() { c.valid = false }

// WriteAt implements Filer. Writes go straight through to f; the cache
// entry is updated in place if it covers the written block, or dropped
// otherwise so the next read refills it.
func (c *BlockCache) WriteAt(b []byte, off int64) (int, error) {
	n, err := c.f.WriteAt(b, off)
	if err != nil {
		return n, err
	}
	block := off / c.blockSize
	boff := off % c.blockSize
	if c.valid && c.block == block && boff+int64(len(b)) <= c.blockSize {
		copy(c.buf[boff:], b)
	} else {
		c.valid = false
	}
	return n, nil
}

// Hint is the summary-cache hint array: a per-bitmap-block soft upper
// bound (exclusive) on the largest free-run size class starting in that
// block. It is never part of a transaction; it is reconstructible and only
// ever over-approximates (invariant I4).
type Hint struct {
	data []byte
}

// NewHint returns a Hint sized for rbmblocks blocks, every entry set to the
// maximum (0xff), which trivially satisfies I4.
func NewHint(rbmblocks int64) *Hint {
	h := &Hint{data: make([]byte, rbmblocks)}
	for i := range h.data {
		h.data[i] = 0xff
	}
	return h
}

// Len returns the number of blocks the hint covers.
func (h *Hint) Len() int64 { return int64(len(h.data)) }

// Get returns the current hint byte for block b.
func (h *Hint) Get(b int64) byte { return h.data[b] }

// Tighten records that a search found no run of class >= level starting in
// block b, so the hint may shrink to level. The hint only ever shrinks.
func (h *Hint) Tighten(b int64, level byte) {
	if level < h.data[b] {
		h.data[b] = level
	}
}

// Invalidate resets block b's hint to the maximum. Used after allocate or
// free, which may have created a larger run than the hint currently
// admits; re-tightening happens lazily on the next search.
func (h *Hint) Invalidate(b int64) { h.data[b] = 0xff }

// Resize grows or replaces the hint for a new rbmblocks, as grow does at
// each step. The new array starts fully invalidated (0xff); growth does
// not attempt to carry forward old values since the block layout may have
// shifted class boundaries.
func (h *Hint) Resize(rbmblocks int64) { *h = *NewHint(rbmblocks) }

// AnyInRange implements the summary/hint join described for near-hint
// allocation: scan classes downward from min(hi, hint[b]-1) to lo,
// returning the first nonzero class found, or -1 if none. As a side
// effect it tightens hint[b] to one above the class found, or to lo when
// none is found, in keeping with I4's upper-bound invariant.
func (h *Hint) AnyInRange(sum *summary.Summary, rbmblocks, lo, hi, b int64) (int64, error) {
	top := hi
	if bound := int64(h.data[b]) - 1; bound < top {
		top = bound
	}
	for level := top; level >= lo; level-- {
		if level < 0 {
			break
		}
		v, err := sum.Get(rbmblocks, level, b)
		if err != nil {
			return -1, err
		}
		if v > 0 {
			h.Tighten(b, byte(level+1))
			return level, nil
		}
	}
	h.Tighten(b, byte(lo))
	return -1, nil
}
