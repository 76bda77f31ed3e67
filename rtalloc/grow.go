// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

import (
	"github.com/cznic/rtalloc/bitmap"
	"github.com/cznic/rtalloc/rtcache"
	"github.com/cznic/rtalloc/summary"
)

// MinRtextsize and MaxRtextsize bound the extent size grow will accept,
// in filesystem blocks.
const (
	MinRtextsize = 1
	MaxRtextsize = 1 << 20
)

// GrowRequest is the control-plane grow call's argument bundle. RmapEnabled,
// ReflinkEnabled and QuotaEnabled name the three realtime-incompatible
// features spec.md's grow-error table calls out; this allocator implements
// none of them, so a caller that has one active on the target filesystem
// must say so and get ErrUnsupported back rather than a silently wrong
// grow.
type GrowRequest struct {
	NewRblocks     int64
	NewRextsizeFsb int64 // 0 means "keep the current extent size"
	RmapEnabled    bool
	ReflinkEnabled bool
	QuotaEnabled   bool
}

// GrowRT extends the RT region to req.NewRblocks, optionally fixing the
// extent size on the first grow of a previously empty region. Shrinking
// is rejected. Growth proceeds one bitmap block at a time; each step is
// its own transaction over both inodes, so a failure partway through
// leaves the region larger than before but short of the target — the
// next GrowRT resumes from there.
func (rt *RT) GrowRT(req GrowRequest) error {
	if !rt.growMu.TryLock() {
		return &ErrBusy{Src: "GrowRT"}
	}
	defer rt.growMu.Unlock()

	rt.groupMu.Lock()
	defer rt.groupMu.Unlock()

	if !rt.growAllowed {
		return &ErrPerm{Src: "GrowRT"}
	}
	if req.RmapEnabled || req.ReflinkEnabled || req.QuotaEnabled {
		return &ErrUnsupported{Src: "GrowRT", Arg: "rmap/reflink/quota"}
	}
	if req.NewRblocks < rt.geom.Rblocks {
		return &ErrInval{Src: "GrowRT: shrink not supported", Arg: req.NewRblocks}
	}

	rextsize := rt.geom.Rextsize
	switch {
	case rt.geom.Rblocks == 0:
		if req.NewRextsizeFsb != 0 {
			rextsize = req.NewRextsizeFsb
		}
		if rextsize < MinRtextsize || rextsize > MaxRtextsize {
			return &ErrInval{Src: "GrowRT: rextsize", Arg: rextsize}
		}
	case req.NewRextsizeFsb != 0 && req.NewRextsizeFsb != rt.geom.Rextsize:
		return &ErrInval{Src: "GrowRT: rextsize mismatch", Arg: req.NewRextsizeFsb}
	}

	newGeom, err := NewGeometry(rt.geom.BlockSize, rextsize, req.NewRblocks)
	if err != nil {
		return err
	}
	if newGeom.Rextents == 0 {
		return &ErrInval{Src: "GrowRT: zero resulting extents"}
	}
	// Bound single-transaction log usage: refuse a target summary of more
	// than Rbmblocks*(Rsumlevels/2+1) blocks.
	if newGeom.Rsumblocks > newGeom.Rbmblocks*(newGeom.Rsumlevels/2+1) {
		return &ErrInval{Src: "GrowRT: summary too large for one grow step"}
	}

	if err := truncateInTxn(rt.bitmapFiler, newGeom.Rbmblocks*rt.geom.BlockSize); err != nil {
		return wrapIO("GrowRT: bitmap truncate", err)
	}
	if err := truncateInTxn(rt.summaryFiler, newGeom.Rsumblocks*rt.geom.BlockSize); err != nil {
		return wrapIO("GrowRT: summary truncate", err)
	}

	savedHint := rt.hint
	newHint := rtcache.NewHint(newGeom.Rbmblocks)

	firstNewBlock := rt.geom.Rbmblocks
	if rt.geom.Rextents == 0 {
		firstNewBlock = 0
	}
	// A partly used last bitmap block is grown into first.
	if rt.geom.Rextents%rt.geom.BitsPerBmblock != 0 {
		firstNewBlock--
	}

	for b := firstNewBlock; b < newGeom.Rbmblocks; b++ {
		trialRblocks := newGeom.Rblocks
		if step := (b + 1) * newGeom.BitsPerBmblock * newGeom.Rextsize; step < trialRblocks {
			trialRblocks = step
		}
		trialGeom, err := NewGeometry(rt.geom.BlockSize, newGeom.Rextsize, trialRblocks)
		if err != nil {
			return err
		}

		if err := rt.beginGrowStep(); err != nil {
			return wrapIO("GrowRT", err)
		}

		prevGeom := rt.geom
		prevFrextents := rt.frextents

		stepErr := rt.growStep(prevGeom, trialGeom, newHint)
		if stepErr != nil {
			rt.rollbackGrowStep()
			rt.geom = prevGeom
			rt.frextents = prevFrextents
			rt.hint = savedHint
			return wrapIO("GrowRT", stepErr)
		}

		// growStep already advanced rt.geom/rt.hint to trialGeom/newHint
		// on success; endGrowStep only has to commit the bytes.
		if err := rt.endGrowStep(); err != nil {
			rt.geom = prevGeom
			rt.frextents = prevFrextents
			rt.hint = savedHint
			return wrapIO("GrowRT", err)
		}
		savedHint = newHint
	}

	return nil
}

// beginGrowStep opens a structural transaction on both inodes through their
// RollbackFiler and points bm/sum at codecs backed by that transaction, so
// every read and write growStep makes is captured in memory and only
// reaches bitmapFiler/summaryFiler on a successful endGrowStep.
func (rt *RT) beginGrowStep() error {
	if err := rt.bmTxn.BeginUpdate(); err != nil {
		return err
	}
	if err := rt.sumTxn.BeginUpdate(); err != nil {
		rt.bmTxn.Rollback()
		return err
	}
	rt.savedBm, rt.savedSum = rt.bm, rt.sum
	rt.bm = bitmap.New(rt.bmTxn)
	rt.sum = summary.New(rt.sumTxn)
	return nil
}

// endGrowStep commits the step's transaction. The two inodes cannot commit
// as a single atomic unit — each has its own RollbackFiler, and there is
// no shared write-ahead log underneath them — so summary is committed first and bitmap only follows if that
// succeeds; a bitmap failure after a successful summary commit is the one
// inconsistency this cannot prevent. Either way the nesting counter on
// both RollbackFilers always balances, so a later GrowRT never nests
// inside a transaction this step failed to close.
func (rt *RT) endGrowStep() error {
	sumErr := rt.sumTxn.EndUpdate()
	var bmErr error
	if sumErr != nil {
		bmErr = rt.bmTxn.Rollback()
	} else {
		bmErr = rt.bmTxn.EndUpdate()
	}
	rt.bm, rt.sum = rt.savedBm, rt.savedSum
	rt.savedBm, rt.savedSum = nil, nil
	rt.bmCache.Reset()
	rt.sumCache.Reset()
	if sumErr != nil {
		return sumErr
	}
	return bmErr
}

func (rt *RT) rollbackGrowStep() {
	rt.sumTxn.Rollback()
	rt.bmTxn.Rollback()
	rt.bm, rt.sum = rt.savedBm, rt.savedSum
	rt.savedBm, rt.savedSum = nil, nil
}

// truncateInTxn resizes f inside f's own BeginUpdate/EndUpdate pair, so a
// Filer backed by a real write-ahead log sees the resize as part of a
// recoverable unit of work rather than a bare, unprotected Truncate.
func truncateInTxn(f Filer, size int64) error {
	if err := f.BeginUpdate(); err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Rollback()
		return err
	}
	return f.EndUpdate()
}

// growStep performs one bitmap block's worth of growth: relocate the
// summary if the geometry's shape changed, swap in the trial geometry and
// hint, then free-range the newly created rtx interval, which rebuilds
// the summary for it.
func (rt *RT) growStep(prevGeom, trialGeom Geometry, newHint *rtcache.Hint) error {
	if trialGeom.Rbmblocks != prevGeom.Rbmblocks || trialGeom.Rsumlevels != prevGeom.Rsumlevels {
		if err := rt.sum.Copy(prevGeom.Rbmblocks, prevGeom.Rsumlevels, trialGeom.Rbmblocks); err != nil {
			return err
		}
	}

	oldGeom, oldHint := rt.geom, rt.hint
	rt.geom = trialGeom
	rt.hint = newHint

	if trialGeom.Rextents > prevGeom.Rextents {
		delta := trialGeom.Rextents - prevGeom.Rextents
		if err := rt.rangeFree(prevGeom.Rextents, delta); err != nil {
			rt.geom, rt.hint = oldGeom, oldHint
			return err
		}
		rt.frextents += delta
	}
	return nil
}
