// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addr defines the pointer abstraction shared by the page
// allocator, the collector, and the exception dispatcher.
package addr

import "fmt"

// PageSize is the fixed page granularity of the managed region. All
// storage the allocator hands out is page-granular.
const PageSize = 4096

// PageShift is log2(PageSize).
const PageShift = 12

// An Address is a location in the managed region, or in the
// code/rodata image that backs it. It is just a typed uintptr that
// indexes live memory the runtime itself owns, rather than a
// core-dumped inferior's byte-addressable mappings read from outside.
type Address uintptr

// Add returns a+b.
func (a Address) Add(b int64) Address {
	return Address(int64(a) + b)
}

// Sub returns a-b.
func (a Address) Sub(b Address) int64 {
	return int64(a) - int64(b)
}

// Align reports whether a is aligned to n bytes. n must be a power of two.
func (a Address) Align(n int64) bool {
	return int64(a)&(n-1) == 0
}

// Page returns the page index of a relative to base.
func (a Address) Page(base Address) int64 {
	return a.Sub(base) >> PageShift
}

func (a Address) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// PageAddr returns the address of page index i relative to base.
func PageAddr(base Address, i int64) Address {
	return base.Add(i << PageShift)
}

// AlignUp rounds n up to the next multiple of align (a power of two).
func AlignUp(n int64, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}

// PagesFor returns the number of pages needed to hold n bytes.
func PagesFor(n int64) int64 {
	return AlignUp(n, PageSize) >> PageShift
}
