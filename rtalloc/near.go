// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

// nearAllocate tries exact placement at start first, then scans outward
// by bitmap-block distance in zig-zag order (0, +1, -1, +2, -2, ...),
// consulting the summary-cache hint to skip blocks that provably have
// nothing large enough.
func (rt *RT) nearAllocate(start, minlen, maxlen, prod int64) (int64, int64, error) {
	if start > rt.geom.Rextents-1 {
		start = rt.geom.Rextents - 1
	}
	if s, l, err := rt.exactAllocate(start, minlen, maxlen, prod); err == nil {
		return s, l, nil
	} else if !isNoSpace(err) {
		return 0, 0, err
	}

	b0 := rt.geom.bmblockOf(start)
	lo := log2Floor(minlen)
	hi := rt.geom.Rsumlevels - 1
	bmBits := log2Floor(rt.geom.BitsPerBmblock)

	z := newZigzag(b0, 0, rt.geom.Rbmblocks-1)
	visited := map[int64]bool{}

	tryBlock := func(block, maxavail int64) (int64, int64, error, bool) {
		if visited[block] {
			return 0, 0, nil, false
		}
		visited[block] = true
		s, l, _, err := rt.blockAllocate(block, minlen, maxavail, prod)
		if err == nil {
			return s, l, nil, true
		}
		if !isNoSpace(err) {
			return 0, 0, err, true
		}
		return 0, 0, nil, false
	}

	for {
		off, ok := z.next()
		if !ok {
			break
		}
		block := b0 + off

		maxlog, err := rt.hint.AnyInRange(rt.sum, rt.geom.Rbmblocks, lo, hi, block)
		if err != nil {
			return 0, 0, err
		}
		if maxlog < 0 {
			continue
		}

		maxavail := maxlen
		if cap := (int64(1) << uint(maxlog+1)) - 1; cap < maxavail {
			maxavail = cap
		}

		if off >= 0 {
			if s, l, err, done := tryBlock(block, maxavail); done {
				if err != nil {
					return 0, 0, err
				}
				return s, l, nil
			}
			continue
		}

		maxblocks := int64(1)
		if d := maxlog - bmBits + 1; d > 0 {
			maxblocks = int64(1) << uint(d)
		}
		for j := int64(1); j < maxblocks; j++ {
			probe := block - j
			if probe < 0 {
				break
			}
			if s, l, err, done := tryBlock(probe, maxavail); done {
				if err != nil {
					return 0, 0, err
				}
				return s, l, nil
			}
		}
		if s, l, err, done := tryBlock(block, maxavail); done {
			if err != nil {
				return 0, 0, err
			}
			return s, l, nil
		}
	}

	return 0, 0, &ErrNoSpace{Src: "nearAllocate"}
}
