// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"managedcore/addr"
	"managedcore/mem"
)

// LargeHeaderSize is the header on the first page of a large-object
// run: { size, used, pages int64; status byte }, padded to a word.
const LargeHeaderSize = 32

const (
	offLargeSize   = 0
	offLargeUsed   = 8
	offLargePages  = 16
	offLargeStatus = 24
)

// LargeHeap allocates multi-page runs for objects too big for Medium.
type LargeHeap struct {
	pa *mem.PageAllocator
}

func NewLargeHeap(pa *mem.PageAllocator) *LargeHeap { return &LargeHeap{pa: pa} }

func pagesFor(n int64) int64 { return addr.PagesFor(n + LargeHeaderSize) }

// Alloc requests ceil((n+header)/PageSize) HeapLarge pages in one run.
func (h *LargeHeap) Alloc(n int64) addr.Address {
	count := pagesFor(n)
	page := h.pa.AllocPages(mem.HeapLarge, count, true)
	if page == 0 {
		return 0
	}
	committed := count*mem.PageSize - LargeHeaderSize
	mem.WriteInt64(page.Add(offLargeSize), committed)
	mem.WriteInt64(page.Add(offLargeUsed), n)
	mem.WriteInt64(page.Add(offLargePages), count)
	mem.WriteUint8(page.Add(offLargeStatus), uint8(Unmarked))
	return page.Add(LargeHeaderSize)
}

func (h *LargeHeap) pageOf(ptr addr.Address) addr.Address { return ptr.Add(-LargeHeaderSize) }

// Free zeroes the header's size field and returns the whole run.
func (h *LargeHeap) Free(ptr addr.Address) {
	page := h.pageOf(ptr)
	mem.WriteInt64(page.Add(offLargeSize), 0)
	h.pa.Free(page)
}

// Size returns the committed byte capacity of ptr's run.
func (h *LargeHeap) Size(ptr addr.Address) int64 {
	return mem.ReadInt64(h.pageOf(ptr).Add(offLargeSize))
}

// Used returns the in-use byte count recorded in ptr's header.
func (h *LargeHeap) Used(ptr addr.Address) int64 {
	return mem.ReadInt64(h.pageOf(ptr).Add(offLargeUsed))
}

// Pages returns the number of pages backing ptr's run.
func (h *LargeHeap) Pages(ptr addr.Address) int64 {
	return mem.ReadInt64(h.pageOf(ptr).Add(offLargePages))
}

// Status returns ptr's GC status byte.
func (h *LargeHeap) Status(ptr addr.Address) Status {
	return Status(mem.ReadUint8(h.pageOf(ptr).Add(offLargeStatus)))
}

// SetStatus stores ptr's GC status byte.
func (h *LargeHeap) SetStatus(ptr addr.Address, s Status) {
	mem.WriteUint8(h.pageOf(ptr).Add(offLargeStatus), uint8(s))
}

// Realloc shrinks in place when the existing committed extent still
// covers newSize; otherwise it allocates a new run, copies the used
// bytes, and frees the old one.
func (h *LargeHeap) Realloc(ptr addr.Address, newSize int64) addr.Address {
	if newSize <= h.Size(ptr) {
		mem.WriteInt64(h.pageOf(ptr).Add(offLargeUsed), newSize)
		return ptr
	}
	next := h.Alloc(newSize)
	if next == 0 {
		return 0
	}
	mem.Memcpy(next, ptr, h.Used(ptr))
	h.Free(ptr)
	return next
}
