// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bitmap implements the packed bit vector operations needed by a
// realtime extent allocator: locating the boundaries of the free run
// containing a given index, scanning a range for a uniform value, and
// writing a value across a range. A Bitmap does not own any storage of its
// own; it is a thin view over a Filer, so it composes with MemFiler for
// tests, a disk backed Filer for production, or a RollbackFiler for
// transactional safety.
//
// Bit k of byte b, counted from the Filer's own origin, addresses index
// b*8 + k. A set bit (1) means free; a clear bit (0) means allocated.
package bitmap

import (
	"io"

	"github.com/cznic/mathutil"
)

// Filer is the slice of lldb.Filer a Bitmap needs.
type Filer interface {
	ReadAt(b []byte, off int64) (n int, err error)
	WriteAt(b []byte, off int64) (n int, err error)
}

var bitMask = [8]byte{1, 2, 4, 8, 16, 32, 64, 128}

// byteMask[from][to] has bits [from, to] (inclusive, LSB-first) set.
var byteMask = [8][8]byte{
	{0x01, 0x03, 0x07, 0x0f, 0x1f, 0x3f, 0x7f, 0xff},
	{0x00, 0x02, 0x06, 0x0e, 0x1e, 0x3e, 0x7e, 0xfe},
	{0x00, 0x00, 0x04, 0x0c, 0x1c, 0x3c, 0x7c, 0xfc},
	{0x00, 0x00, 0x00, 0x08, 0x18, 0x38, 0x78, 0xf8},
	{0x00, 0x00, 0x00, 0x00, 0x10, 0x30, 0x70, 0xf0},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x20, 0x60, 0xe0},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40, 0xc0},
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80},
}

// Bitmap is a view of a bit-per-index vector backed by a Filer.
type Bitmap struct {
	f Filer
}

// New returns a Bitmap backed by f. Index 0 addresses byte 0, bit 0 of f.
func New(f Filer) *Bitmap { return &Bitmap{f: f} }

func (b *Bitmap) readByte(off int64) (byte, error) {
	var buf [1]byte
	_, err := b.f.ReadAt(buf[:], off)
	if err != nil && err != io.EOF {
		return 0, err
	}
	return buf[0], nil
}

func (b *Bitmap) writeByte(off int64, v byte) error {
	buf := [1]byte{v}
	_, err := b.f.WriteAt(buf[:], off)
	return err
}

// Bit reports the value of bit i.
func (b *Bitmap) Bit(i int64) (bool, error) {
	v, err := b.readByte(i >> 3)
	if err != nil {
		return false, err
	}
	return v&bitMask[uint(i&7)] != 0, nil
}

// FindBack walks backward from i, which must be free, to the first index of
// the maximal free run containing i. It returns 0 if the run reaches index
// 0.
func (b *Bitmap) FindBack(i int64) (int64, error) {
	pos := i
	for pos > 0 {
		if pos&7 == 0 {
			v, err := b.readByte((pos >> 3) - 1)
			if err != nil {
				return 0, err
			}
			if v == 0xff {
				pos -= 8
				continue
			}
		}
		free, err := b.Bit(pos - 1)
		if err != nil {
			return 0, err
		}
		if !free {
			return pos, nil
		}
		pos--
	}
	return 0, nil
}

// FindForw walks forward from i, which must be free, returning the index of
// the first allocated bit at or after i. The walk never inspects an index
// past limit; if the run extends through limit, FindForw returns limit+1.
func (b *Bitmap) FindForw(i, limit int64) (int64, error) {
	pos := i
	for pos <= limit {
		if pos&7 == 0 && pos+7 <= limit {
			v, err := b.readByte(pos >> 3)
			if err != nil {
				return 0, err
			}
			if v == 0xff {
				pos += 8
				continue
			}
		}
		free, err := b.Bit(pos)
		if err != nil {
			return 0, err
		}
		if !free {
			return pos, nil
		}
		pos++
	}
	return limit + 1, nil
}

// CheckRange scans length bits starting at start. If every bit equals value
// it returns (start+length, true). Otherwise it returns the index of the
// first differing bit and false.
func (b *Bitmap) CheckRange(start, length int64, value bool) (int64, bool, error) {
	want := byte(0)
	if value {
		want = 0xff
	}
	for i := int64(0); i < length; {
		pos := start + i
		if pos&7 == 0 && length-i >= 8 {
			v, err := b.readByte(pos >> 3)
			if err != nil {
				return 0, false, err
			}
			if v == want {
				i += 8
				continue
			}
		}
		bit, err := b.Bit(pos)
		if err != nil {
			return 0, false, err
		}
		if bit != value {
			return pos, false, nil
		}
		i++
	}
	return start + length, true, nil
}

// ModifyRange writes value to length consecutive bits starting at start.
// Every underlying WriteAt goes through the Filer, so if it wraps a
// RollbackFiler the change is captured by the enclosing transaction.
func (b *Bitmap) ModifyRange(start, length int64, value bool) error {
	pos, rem := start, length
	for rem > 0 {
		byteOff := pos >> 3
		bitFrom := uint(pos & 7)
		n := mathutil.MinInt64(8-int64(bitFrom), rem)
		bitTo := bitFrom + uint(n) - 1
		if bitFrom == 0 && bitTo == 7 {
			v := byte(0)
			if value {
				v = 0xff
			}
			if err := b.writeByte(byteOff, v); err != nil {
				return err
			}
		} else {
			v, err := b.readByte(byteOff)
			if err != nil {
				return err
			}
			mask := byteMask[bitFrom][bitTo]
			if value {
				v |= mask
			} else {
				v &^= mask
			}
			if err := b.writeByte(byteOff, v); err != nil {
				return err
			}
		}
		pos += n
		rem -= n
	}
	return nil
}
