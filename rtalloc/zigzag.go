// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

// zigzag generates bitmap-block offsets from a center b0 in the order
// 0, +1, -1, +2, -2, .... The positive side stops once b0+off passes hi,
// the negative side once b0-off falls below lo, and the scan ends when
// both have stopped. Offset 0 is emitted only if b0 lies in [lo, hi];
// positive offsets are not checked against lo. It is the small explicit-state
// iterator the near-hint scan needs instead of a hand-rolled counter loop.
type zigzag struct {
	b0, lo, hi         int64
	emittedZero        bool
	posMag, negMag     int64
	wantPos            bool
	posDone, negDone   bool
}

func newZigzag(b0, lo, hi int64) *zigzag {
	return &zigzag{b0: b0, lo: lo, hi: hi, wantPos: true}
}

// next returns the next block offset (b0+off) and true, or (0, false) once
// the scan is exhausted on both sides.
func (z *zigzag) next() (int64, bool) {
	if !z.emittedZero {
		z.emittedZero = true
		if z.b0 >= z.lo && z.b0 <= z.hi {
			return 0, true
		}
	}
	for !(z.posDone && z.negDone) {
		if z.wantPos {
			z.wantPos = false
			if z.posDone {
				continue
			}
			z.posMag++
			if z.b0+z.posMag > z.hi {
				z.posDone = true
				continue
			}
			return z.posMag, true
		}
		z.wantPos = true
		if z.negDone {
			continue
		}
		z.negMag++
		if z.b0-z.negMag < z.lo {
			z.negDone = true
			continue
		}
		return -z.negMag, true
	}
	return 0, false
}
