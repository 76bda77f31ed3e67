// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

import (
	"io"
	"math/bits"
	"sync"

	"github.com/cznic/rtalloc/bitmap"
	"github.com/cznic/rtalloc/lldb"
	"github.com/cznic/rtalloc/rtcache"
	"github.com/cznic/rtalloc/summary"
)

// Filer is the full lldb.Filer shape: RT needs the transactional methods
// (BeginUpdate/EndUpdate/Rollback) for Grow, which manages its own
// per-bitmap-block transaction boundaries, and Truncate/Size to resize
// the bitmap and summary inodes.
type Filer interface {
	ReadAt(b []byte, off int64) (n int, err error)
	WriteAt(b []byte, off int64) (n int, err error)
	Truncate(size int64) error
	Size() (int64, error)
	BeginUpdate() error
	EndUpdate() error
	Rollback() error
}

// RT is a mounted realtime extent allocator group: the geometry, the
// bitmap and summary inodes, the buffer cache shim, the summary-cache
// hint, and the free-extent counter. Every exported method except GrowRT
// assumes the caller holds an externally managed transaction over
// bitmapFiler and summaryFiler; GrowRT manages its own, through a
// RollbackFiler wrapping each inode, so a step that fails before its
// commit leaves neither inode's bytes touched.
type RT struct {
	geom Geometry

	bitmapFiler  Filer
	summaryFiler Filer

	// bmTxn/sumTxn are the transactional backing GrowRT steps through;
	// bmCache/sumCache are the per-operation last-block cache Allocate
	// and Free read and write through directly. bm/sum always address
	// whichever of the two is currently live — the cache pair at rest,
	// swapped to the txn pair for the duration of a grow step.
	bmTxn  *lldb.RollbackFiler
	sumTxn *lldb.RollbackFiler

	bmCache  *rtcache.BlockCache
	sumCache *rtcache.BlockCache

	bm  *bitmap.Bitmap
	sum *summary.Summary

	// savedBm/savedSum hold the cache-backed codecs while a grow step
	// has temporarily swapped bm/sum onto the txn-backed ones.
	savedBm  *bitmap.Bitmap
	savedSum *summary.Summary

	hint        *rtcache.Hint
	picker      *picker
	frextents   int64
	growAllowed bool
	groupMu     sync.Mutex // serializes allocate/free/grow within the group
	growMu      sync.Mutex
}

// MountOption configures Mount.
type MountOption func(*RT)

// WithSeqCounter installs a persistent SeqCounter for the sequence-seeded
// extent picker. Without this option placements reset every Mount.
func WithSeqCounter(c SeqCounter) MountOption {
	return func(rt *RT) { rt.picker = newPicker(c) }
}

// WithGrowPermission controls whether GrowRT is permitted on this mount.
// Growing the realtime region is a control-plane operation requiring
// elevated privilege; callers that mount on behalf of an unprivileged
// caller pass WithGrowPermission(false) so GrowRT reports ErrPerm instead
// of running. Grow is permitted by default.
func WithGrowPermission(allowed bool) MountOption {
	return func(rt *RT) { rt.growAllowed = allowed }
}

// Mount loads the bitmap and summary inodes behind bitmapFiler and
// summaryFiler for the given geometry, builds the summary-cache hint
// fresh (it is reconstructible, never persisted), and reconciles the
// free-extent counter by scanning the bitmap.
//
// bitmapFiler and summaryFiler must additionally implement lldb.Filer
// (Close/Name/PunchHole on top of the methods Filer already names) so
// GrowRT can wrap each in an lldb.RollbackFiler for its own per-step
// transactions; every Filer this module ships (MemFiler, OSFiler,
// SimpleFileFiler, rtdev.Filer) does.
func Mount(bitmapFiler, summaryFiler Filer, geom Geometry, opts ...MountOption) (*RT, error) {
	if bitmapFiler == nil || summaryFiler == nil {
		return nil, &ErrInval{Src: "Mount: nil Filer"}
	}
	bmFull, ok := bitmapFiler.(lldb.Filer)
	if !ok {
		return nil, &ErrInval{Src: "Mount: bitmapFiler does not implement lldb.Filer"}
	}
	sumFull, ok := summaryFiler.(lldb.Filer)
	if !ok {
		return nil, &ErrInval{Src: "Mount: summaryFiler does not implement lldb.Filer"}
	}

	noop := func() error { return nil }
	bmTxn, err := lldb.NewRollbackFiler(bmFull, noop, bmFull)
	if err != nil {
		return nil, err
	}
	sumTxn, err := lldb.NewRollbackFiler(sumFull, noop, sumFull)
	if err != nil {
		return nil, err
	}

	bmCache := rtcache.New(bitmapFiler, geom.BlockSize)
	sumCache := rtcache.New(summaryFiler, geom.BlockSize)

	rt := &RT{
		geom:         geom,
		bitmapFiler:  bitmapFiler,
		summaryFiler: summaryFiler,
		bmTxn:        bmTxn,
		sumTxn:       sumTxn,
		bmCache:      bmCache,
		sumCache:     sumCache,
		bm:           bitmap.New(bmCache),
		sum:          summary.New(sumCache),
		hint:         rtcache.NewHint(geom.Rbmblocks),
		picker:       newPicker(nil),
		growAllowed:  true,
	}
	for _, opt := range opts {
		opt(rt)
	}

	free, err := countFreeBits(bitmapFiler, geom.Rextents)
	if err != nil {
		return nil, err
	}
	rt.frextents = free

	return rt, nil
}

// Unmount releases no resources of its own — the caller owns the
// underlying Filers — but exists so callers have a symmetric lifecycle
// call to pair with Mount.
func (rt *RT) Unmount() error { return nil }

// Geometry returns the group's current geometry.
func (rt *RT) Geometry() Geometry { return rt.geom }

// FreeExtents returns the current free-rtx counter.
func (rt *RT) FreeExtents() int64 {
	rt.groupMu.Lock()
	defer rt.groupMu.Unlock()
	return rt.frextents
}

// BitmapBit reports whether rtx i is free. It exists for introspection —
// rtck.Verify uses it to check I1/I2 — and should not be used on the
// allocation hot path, which stays inside the bitmap/summary codecs.
func (rt *RT) BitmapBit(i int64) (bool, error) {
	rt.groupMu.Lock()
	defer rt.groupMu.Unlock()
	return rt.bm.Bit(i)
}

// SummaryGet returns the free-run count for (level, block) under the
// group's current geometry. See BitmapBit.
func (rt *RT) SummaryGet(level, block int64) (uint32, error) {
	rt.groupMu.Lock()
	defer rt.groupMu.Unlock()
	return rt.sum.Get(rt.geom.Rbmblocks, level, block)
}

// HintGet returns the current summary-cache hint byte for block b. See
// BitmapBit.
func (rt *RT) HintGet(b int64) byte {
	rt.groupMu.Lock()
	defer rt.groupMu.Unlock()
	return rt.hint.Get(b)
}

func countFreeBits(f Filer, rextents int64) (int64, error) {
	var total int64
	nbytes := (rextents + 7) / 8
	buf := make([]byte, 4096)
	var off int64
	for off < nbytes {
		n := int64(len(buf))
		if nbytes-off < n {
			n = nbytes - off
		}
		if _, err := f.ReadAt(buf[:n], off); err != nil && err != io.EOF {
			return 0, err
		}
		for _, b := range buf[:n] {
			total += int64(bits.OnesCount8(b))
		}
		off += n
	}
	return total, nil
}

// AllocRequest is the data-plane allocate call's argument bundle.
type AllocRequest struct {
	BnoHint         int64 // 0 means "no hint"
	MinLen          int64
	MaxLen          int64
	Prod            int64 // alignment factor; <= 1 means unaligned
	Wasdel          bool  // reserved-delayed vs normal free-counter accounting
	InitialUserData bool  // first allocation to a file at offset 0
}

// Allocate finds and marks a free run satisfying req, returning its start
// and length. A zero length with a nil error cannot happen; NO_SPACE is
// always reported as *ErrNoSpace.
func (rt *RT) Allocate(req AllocRequest) (bno, length int64, err error) {
	rt.groupMu.Lock()
	defer rt.groupMu.Unlock()
	rt.bmCache.Reset()
	rt.sumCache.Reset()

	if req.MaxLen == 0 {
		return 0, 0, &ErrInval{Src: "Allocate: maxlen", Arg: req.MaxLen}
	}

	prod := req.Prod
	if prod < 1 {
		prod = 1
	}
	alignedMax := roundDown(req.MaxLen, prod)
	alignedMin := roundUp(req.MinLen, prod)
	if alignedMin > alignedMax || alignedMax == 0 {
		prod = 1
		alignedMin, alignedMax = req.MinLen, req.MaxLen
	}

	start := req.BnoHint
	if start == 0 && req.InitialUserData {
		start, err = rt.picker.Pick(rt.geom.Rextents, alignedMin)
		if err != nil {
			return 0, 0, err
		}
	}

	var s, l int64
	if start != 0 {
		s, l, err = rt.nearAllocate(start, alignedMin, alignedMax, prod)
		if err != nil && !isNoSpace(err) {
			return 0, 0, wrapIO("Allocate", err)
		}
	}
	if start == 0 || err != nil {
		// Falling through from a failed near-hint search to size-first:
		// clear the per-op buffer cache so size-first's first read
		// refills from the Filer rather than serving a block the
		// near-hint scan happened to leave cached.
		rt.bmCache.Reset()
		rt.sumCache.Reset()
		s, l, err = rt.sizeFirstAllocate(alignedMin, alignedMax, prod)
		if err != nil {
			return 0, 0, wrapIO("Allocate", err)
		}
	}

	if err := rt.rangeAllocate(s, l); err != nil {
		return 0, 0, wrapIO("Allocate", err)
	}
	rt.frextents -= l

	return s, l, nil
}

// Free returns [bno, bno+length) to the pool, merging it with adjacent
// free runs and incrementing the free-extent counter.
func (rt *RT) Free(bno, length int64) error {
	rt.groupMu.Lock()
	defer rt.groupMu.Unlock()
	rt.bmCache.Reset()
	rt.sumCache.Reset()

	if length <= 0 || bno < 0 || bno+length > rt.geom.Rextents {
		return &ErrInval{Src: "Free: range", Arg: [2]int64{bno, length}}
	}

	if err := rt.rangeFree(bno, length); err != nil {
		return wrapIO("Free", err)
	}
	rt.frextents += length
	return nil
}
