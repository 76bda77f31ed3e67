// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtalloc

import "fmt"

// ErrNoSpace reports that a search exhausted the RT region without
// finding a run satisfying the request.
type ErrNoSpace struct{ Src string }

func (e *ErrNoSpace) Error() string { return e.Src + ": no space" }

// ErrNoMem reports an allocation failure in support structures (e.g. the
// summary-cache hint array).
type ErrNoMem struct{ Src string }

func (e *ErrNoMem) Error() string { return e.Src + ": out of memory" }

// ErrIO wraps a failed read or write to the bitmap or summary Filer.
type ErrIO struct {
	Src string
	Err error
}

func (e *ErrIO) Error() string { return fmt.Sprintf("%s: I/O error: %v", e.Src, e.Err) }
func (e *ErrIO) Unwrap() error { return e.Err }

// ErrCorruption reports a bitmap/summary inconsistency; rtck reports each
// invariant violation it finds as one.
type ErrCorruption struct {
	Src string
	Arg interface{}
}

func (e *ErrCorruption) Error() string {
	if e.Arg == nil {
		return e.Src + ": corruption"
	}
	return fmt.Sprintf("%s: corruption: %v", e.Src, e.Arg)
}

// ErrInval reports a precondition violation: an invalid argument to a
// public entry point.
type ErrInval struct {
	Src string
	Arg interface{}
}

func (e *ErrInval) Error() string {
	if e.Arg == nil {
		return e.Src
	}
	return fmt.Sprintf("%s: %v", e.Src, e.Arg)
}

// ErrBusy reports lock contention on grow: a GrowRT call overlapping
// another already in progress.
type ErrBusy struct{ Src string }

func (e *ErrBusy) Error() string { return e.Src + ": busy" }

// ErrUnsupported reports a request that touches a feature this allocator
// does not implement: GrowRT returns it when the request flags rmap,
// reflink or quota as enabled.
type ErrUnsupported struct {
	Src string
	Arg interface{}
}

func (e *ErrUnsupported) Error() string {
	if e.Arg == nil {
		return e.Src + ": unsupported"
	}
	return fmt.Sprintf("%s: unsupported: %v", e.Src, e.Arg)
}

// ErrPerm reports an operation attempted without the privilege it
// requires, or outside of the state an operation requires (e.g. GrowRT
// called with a mount that rejects it).
type ErrPerm struct{ Src string }

func (e *ErrPerm) Error() string { return e.Src + ": permission denied" }

func isNoSpace(err error) bool {
	_, ok := err.(*ErrNoSpace)
	return ok
}

// wrapIO classifies an error surfacing from the bitmap/summary codecs at a
// top-level entry point (Allocate, Free, GrowRT). Errors already typed as
// one of this package's kinds pass through unchanged; anything else is a
// raw Filer failure and is reported as ErrIO, per spec's IO error kind.
func wrapIO(src string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *ErrNoSpace, *ErrNoMem, *ErrIO, *ErrCorruption, *ErrInval, *ErrBusy, *ErrUnsupported, *ErrPerm:
		return err
	default:
		return &ErrIO{Src: src, Err: err}
	}
}
