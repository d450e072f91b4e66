// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"managedcore/addr"
	"managedcore/archreg"
)

// TypeMatcher decides whether a Typed clause's target type matches
// the thrown exception. DefaultTypeMatcher is the dispatcher's
// current behavior: it accepts any Typed clause covering the range
// without comparing types at all (the type-check itself is an
// explicit open follow-up, not implemented here); a caller that wants
// real assignability checking supplies its own TypeMatcher.
type TypeMatcher func(exception, typeAddress addr.Address) bool

// FilterFunclet is the call_filter_funclet helper: returns non-zero
// iff the filter at filterAddress matched the exception.
type FilterFunclet func(exception, filterAddress addr.Address, display *archreg.Display) int64

// CatchFunclet is the call_catch_funclet helper. In production it
// never returns: it reloads registers and SP from display and jumps
// to handlerAddress. A test double may return normally to record its
// arguments; Invoke reports that as ErrCatchFuncletReturned, the same
// value production code would treat as the fatal "helper returned"
// case.
type CatchFunclet func(exception, handlerAddress addr.Address, display *archreg.Display, exInfo *ExInfo)

// FrameFormatter renders one discovery frame's line of the exception's
// accumulated stack-trace string, keyed by the frame's method start
// address, against an out-of-band metadata index this package does
// not itself own.
type FrameFormatter func(methodStart addr.Address) string
