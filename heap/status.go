// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heap implements the three size-class heaps (Small, Medium,
// Large) that hand out object storage backed by mem.PageAllocator,
// and the dispatcher that routes an allocation request to the right
// one by size.
package heap

// Status is the per-object GC status tracked in each size class's
// header. It is the operative mark bit: the collector is the only
// writer (see DESIGN.md's note on the method-table-pointer mark tag,
// which this package does not use).
type Status uint8

const (
	Unmarked Status = 0
	Marked   Status = 1
)
