// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lldb

import "fmt"

// ErrINVAL reports an invalid argument to a Filer method, such as a
// negative offset or a size that doesn't fit the addressed range.
type ErrINVAL struct {
	Src string
	Arg interface{}
}

func (e *ErrINVAL) Error() string {
	if e.Arg == nil {
		return e.Src
	}

	return fmt.Sprintf("%s: %v", e.Src, e.Arg)
}

// ErrPERM reports an operation attempted outside of the state a Filer
// requires it in, such as WriteAt outside of a transaction on a
// RollbackFiler, or an unbalanced EndUpdate/Rollback/Close.
type ErrPERM struct {
	Src string
}

func (e *ErrPERM) Error() string { return e.Src }
