// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

// blockAllocate scans the free runs starting in bitmap block `block` for
// the leftmost one of length >= maxlen; failing that, it remembers the
// longest one seen of length >= minlen. On failure it also reports next,
// the first rtx past the last region it scanned, so callers can skip
// forward instead of re-probing bit by bit.
func (rt *RT) blockAllocate(block, minlen, maxlen, prod int64) (start, length, next int64, err error) {
	blockStart := block * rt.geom.BitsPerBmblock
	blockEnd := blockStart + rt.geom.BitsPerBmblock
	if blockEnd > rt.geom.Rextents {
		blockEnd = rt.geom.Rextents
	}

	bestStart, bestLen := int64(-1), int64(0)
	pos := blockStart
	for pos < blockEnd {
		free, err := rt.bm.Bit(pos)
		if err != nil {
			return 0, 0, 0, err
		}
		if !free {
			pos++
			continue
		}

		runEnd, err := rt.bm.FindForw(pos, rt.geom.Rextents-1)
		if err != nil {
			return 0, 0, 0, err
		}
		runLen := runEnd - pos
		capped := runLen
		if capped > maxlen {
			capped = maxlen
		}
		capped = roundDown(capped, prod)

		if capped >= maxlen && capped >= minlen {
			return pos, capped, 0, nil
		}
		if capped >= minlen && capped > bestLen {
			bestStart, bestLen = pos, capped
		}

		advance := runEnd
		if advance > blockEnd {
			advance = blockEnd
		}
		pos = advance
	}

	if bestStart >= 0 {
		return bestStart, bestLen, 0, nil
	}
	return 0, 0, blockEnd, &ErrNoSpace{Src: "blockAllocate"}
}
