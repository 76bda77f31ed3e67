// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rtdev provides a disk-backed Filer for the bitmap and summary
// inodes, so the allocator can run against real files instead of only
// lldb.MemFiler. The generic buffer cache and block device the design
// treats as an external collaborator (spec.md §6) are out of scope; this
// is the thin os.File-backed Filer a standalone binary or integration
// test still needs to exercise the allocator end to end.
package rtdev

import (
	"os"

	"github.com/cznic/fileutil"
	"github.com/cznic/mathutil"
	"github.com/cznic/rtalloc/lldb"
)

var _ lldb.Filer = (*Filer)(nil)

// Filer is an os.File backed lldb.Filer. Like lldb.SimpleFileFiler, it
// does not itself implement structural transaction safety: wrap it in an
// lldb.RollbackFiler if that's required.
type Filer struct {
	file *os.File
	nest int
	size int64
}

// Open opens (creating if necessary) the file at path and returns a
// Filer over it.
func Open(path string) (*Filer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Filer{file: f, size: fi.Size()}, nil
}

// New wraps an already open *os.File.
func New(f *os.File) (*Filer, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &Filer{file: f, size: fi.Size()}, nil
}

// BeginUpdate implements lldb.Filer.
func (f *Filer) BeginUpdate() error {
	f.nest++
	return nil
}

// Close implements lldb.Filer.
func (f *Filer) Close() error {
	if f.nest != 0 {
		return &lldb.ErrPERM{Src: f.Name() + ":Close"}
	}
	return f.file.Close()
}

// EndUpdate implements lldb.Filer.
func (f *Filer) EndUpdate() error {
	if f.nest == 0 {
		return &lldb.ErrPERM{Src: f.Name() + ":EndUpdate"}
	}
	f.nest--
	return nil
}

// Name implements lldb.Filer.
func (f *Filer) Name() string { return f.file.Name() }

// PunchHole implements lldb.Filer. It deallocates the byte range
// [off, off+size) of the underlying file through fileutil.PunchHole.
// GrowRT does not call it.
func (f *Filer) PunchHole(off, size int64) error {
	return fileutil.PunchHole(f.file, off, size)
}

// ReadAt implements lldb.Filer.
func (f *Filer) ReadAt(b []byte, off int64) (int, error) {
	return f.file.ReadAt(b, off)
}

// Rollback implements lldb.Filer. Filer has no transaction log of its
// own, so Rollback is a nop; callers needing rollback safety wrap a Filer
// in lldb.RollbackFiler.
func (f *Filer) Rollback() error { return nil }

// Size implements lldb.Filer.
func (f *Filer) Size() (int64, error) { return f.size, nil }

// Truncate implements lldb.Filer.
func (f *Filer) Truncate(size int64) error {
	if size < 0 {
		return &lldb.ErrINVAL{Src: "Truncate size", Arg: size}
	}
	f.size = size
	return f.file.Truncate(size)
}

// WriteAt implements lldb.Filer.
func (f *Filer) WriteAt(b []byte, off int64) (int, error) {
	f.size = mathutil.MaxInt64(f.size, off+int64(len(b)))
	return f.file.WriteAt(b, off)
}
