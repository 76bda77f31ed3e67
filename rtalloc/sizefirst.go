// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

// sizeFirstAllocate has no locality preference. It first tries every
// class able to satisfy the full requested length, then — only if that
// fails — retries with strictly smaller classes down to the minimum. The
// two passes are separate explicit loops rather than a shared mutable
// maxlen decremented in place, per the decision recorded in DESIGN.md.
func (rt *RT) sizeFirstAllocate(minlen, maxlen, prod int64) (int64, int64, error) {
	for level := log2Floor(maxlen); level <= rt.geom.Rsumlevels-1; level++ {
		if s, l, err := rt.scanClassForFit(level, minlen, maxlen, prod); err == nil {
			return s, l, nil
		} else if !isNoSpace(err) {
			return 0, 0, err
		}
	}

	lo := log2Floor(minlen)
	for level := log2Floor(maxlen) - 1; level >= lo; level-- {
		classMin := minlen
		if v := int64(1) << uint(level); v > classMin {
			classMin = v
		}
		classMax := maxlen
		if v := (int64(1) << uint(level+1)) - 1; v < classMax {
			classMax = v
		}
		if s, l, err := rt.scanClassForFit(level, classMin, classMax, prod); err == nil {
			return s, l, nil
		} else if !isNoSpace(err) {
			return 0, 0, err
		}
	}

	return 0, 0, &ErrNoSpace{Src: "sizeFirstAllocate"}
}

// scanClassForFit walks every bitmap block for class `level`, probing only
// the blocks the summary says have a run registered at that class.
func (rt *RT) scanClassForFit(level, minlen, maxlen, prod int64) (int64, int64, error) {
	for b := int64(0); b < rt.geom.Rbmblocks; {
		v, err := rt.sum.Get(rt.geom.Rbmblocks, level, b)
		if err != nil {
			return 0, 0, err
		}
		if v == 0 {
			b++
			continue
		}

		s, l, next, err := rt.blockAllocate(b, minlen, maxlen, prod)
		if err == nil {
			return s, l, nil
		}
		if !isNoSpace(err) {
			return 0, 0, err
		}

		blockEnd := (b + 1) * rt.geom.BitsPerBmblock
		if next > blockEnd {
			b = next / rt.geom.BitsPerBmblock
		} else {
			b++
		}
	}
	return 0, 0, &ErrNoSpace{Src: "scanClassForFit"}
}
