// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

// exactAllocate tries to satisfy the request starting exactly at start.
func (rt *RT) exactAllocate(start, minlen, maxlen, prod int64) (int64, int64, error) {
	if start+maxlen > rt.geom.Rextents {
		maxlen = rt.geom.Rextents - start
	}
	clamped := roundDown(maxlen, prod)
	if clamped < minlen {
		return 0, 0, &ErrNoSpace{Src: "exactAllocate"}
	}

	stop, ok, err := rt.bm.CheckRange(start, clamped, true)
	if err != nil {
		return 0, 0, err
	}
	if ok {
		return start, clamped, nil
	}

	candidate := roundDown(stop-start, prod)
	if candidate >= minlen {
		return start, candidate, nil
	}
	return 0, 0, &ErrNoSpace{Src: "exactAllocate"}
}
