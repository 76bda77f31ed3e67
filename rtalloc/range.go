// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

// rangeAllocate marks [start, start+length) allocated. The caller
// guarantees the range is entirely free. It finds the maximal free run
// containing the request, removes that run's summary bucket, and
// re-registers whatever free remnant(s) are left on either side.
//
// bitmap.Bitmap.FindForw already returns the exclusive upper bound of the
// free run it walks (the first allocated index, or limit+1 if the run
// reaches limit) rather than the run's last free index, so no further +1
// is applied here.
func (rt *RT) rangeAllocate(start, length int64) error {
	preblock, err := rt.bm.FindBack(start)
	if err != nil {
		return err
	}
	postblock, err := rt.bm.FindForw(start+length-1, rt.geom.Rextents-1)
	if err != nil {
		return err
	}

	if err := rt.sum.Modify(rt.geom.Rbmblocks, log2Floor(postblock-preblock), rt.geom.bmblockOf(preblock), -1); err != nil {
		return err
	}
	if preblock < start {
		if err := rt.sum.Modify(rt.geom.Rbmblocks, log2Floor(start-preblock), rt.geom.bmblockOf(preblock), 1); err != nil {
			return err
		}
	}
	if postblock > start+length {
		if err := rt.sum.Modify(rt.geom.Rbmblocks, log2Floor(postblock-(start+length)), rt.geom.bmblockOf(start+length), 1); err != nil {
			return err
		}
	}

	if err := rt.bm.ModifyRange(start, length, false); err != nil {
		return err
	}

	rt.invalidateHintSpan(preblock, postblock-1)
	return nil
}

// rangeFree marks [start, start+length) free, merging with whatever free
// runs abut it on either side, the mirror image of rangeAllocate.
func (rt *RT) rangeFree(start, length int64) error {
	preblock := start
	if start > 0 {
		free, err := rt.bm.Bit(start - 1)
		if err != nil {
			return err
		}
		if free {
			preblock, err = rt.bm.FindBack(start - 1)
			if err != nil {
				return err
			}
		}
	}

	postblock := start + length
	if postblock < rt.geom.Rextents {
		free, err := rt.bm.Bit(postblock)
		if err != nil {
			return err
		}
		if free {
			postblock, err = rt.bm.FindForw(postblock, rt.geom.Rextents-1)
			if err != nil {
				return err
			}
		}
	}

	if preblock < start {
		if err := rt.sum.Modify(rt.geom.Rbmblocks, log2Floor(start-preblock), rt.geom.bmblockOf(preblock), -1); err != nil {
			return err
		}
	}
	if postblock > start+length {
		if err := rt.sum.Modify(rt.geom.Rbmblocks, log2Floor(postblock-(start+length)), rt.geom.bmblockOf(start+length), -1); err != nil {
			return err
		}
	}
	if err := rt.sum.Modify(rt.geom.Rbmblocks, log2Floor(postblock-preblock), rt.geom.bmblockOf(preblock), 1); err != nil {
		return err
	}

	if err := rt.bm.ModifyRange(start, length, true); err != nil {
		return err
	}

	rt.invalidateHintSpan(preblock, postblock-1)
	return nil
}

func (rt *RT) invalidateHintSpan(first, last int64) {
	b0 := rt.geom.bmblockOf(first)
	b1 := rt.geom.bmblockOf(last)
	for b := b0; b <= b1; b++ {
		rt.hint.Invalidate(b)
	}
}
