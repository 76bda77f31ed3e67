// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

import "math/bits"

// SeqCounter is an abstract per-group monotonic counter with persistent
// storage. The source this allocator is modeled on repurposes the bitmap
// inode's atime field for this; that on-disk encoding is an artifact of
// that format, not a property any SeqCounter implementation needs to
// share unless on-disk interop with that format is required.
type SeqCounter interface {
	Get() (uint64, error)
	Set(uint64) error
}

// memSeqCounter is a SeqCounter with no persistence, useful for tests and
// for RT groups that don't need placement to survive a remount.
type memSeqCounter struct{ v uint64 }

// NewMemSeqCounter returns a SeqCounter backed by process memory only.
func NewMemSeqCounter() SeqCounter { return &memSeqCounter{} }

func (c *memSeqCounter) Get() (uint64, error) { return c.v, nil }
func (c *memSeqCounter) Set(v uint64) error   { c.v = v; return nil }

// picker implements the sequence-seeded extent picker (van der Corput
// placement) used for the first allocation to a file at offset 0.
type picker struct {
	counter SeqCounter
}

func newPicker(c SeqCounter) *picker {
	if c == nil {
		c = NewMemSeqCounter()
	}
	return &picker{counter: c}
}

// Pick returns a placement in [0, rextents) avoiding clustering across
// successive calls, clamped so the caller's length fits before rextents.
func (p *picker) Pick(rextents, length int64) (int64, error) {
	seq, err := p.counter.Get()
	if err != nil {
		return 0, err
	}
	if err := p.counter.Set(seq + 1); err != nil {
		return 0, err
	}
	if seq == 0 {
		return 0, nil
	}

	l := uint(bits.Len64(seq)) - 1
	r := seq - (uint64(1) << l)
	b := (uint64(rextents) * (2*r + 1)) >> (l + 1)
	bno := int64(b % uint64(rextents))
	if bno+length > rextents {
		bno = rextents - length
		if bno < 0 {
			bno = 0
		}
	}
	return bno, nil
}
