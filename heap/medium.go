// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"managedcore/addr"
	"managedcore/mem"
)

// MediumHeaderSize is the page header: { size, used int64; status
// byte }, padded to a word boundary.
const MediumHeaderSize = 24

const (
	offMediumSize   = 0
	offMediumUsed   = 8
	offMediumStatus = 16
)

// MaxMediumSize is the largest request this heap will service: a
// page minus its own header.
func MaxMediumSize() int64 { return mem.PageSize - MediumHeaderSize }

// MediumHeap allocates exactly one object per page.
type MediumHeap struct {
	pa *mem.PageAllocator
}

func NewMediumHeap(pa *mem.PageAllocator) *MediumHeap { return &MediumHeap{pa: pa} }

// Alloc requests one HeapMedium page and writes its header. Returns 0
// if n exceeds MaxMediumSize or the page allocator is exhausted.
func (h *MediumHeap) Alloc(n int64) addr.Address {
	if n > MaxMediumSize() {
		return 0
	}
	page := h.pa.AllocPages(mem.HeapMedium, 1, true)
	if page == 0 {
		return 0
	}
	mem.WriteInt64(page.Add(offMediumSize), n)
	mem.WriteInt64(page.Add(offMediumUsed), n)
	mem.WriteUint8(page.Add(offMediumStatus), uint8(Unmarked))
	return page.Add(MediumHeaderSize)
}

func (h *MediumHeap) pageOf(ptr addr.Address) addr.Address { return ptr.Add(-MediumHeaderSize) }

// Free zeroes the header's size field and returns the page to the
// page allocator.
func (h *MediumHeap) Free(ptr addr.Address) {
	page := h.pageOf(ptr)
	mem.WriteInt64(page.Add(offMediumSize), 0)
	h.pa.Free(page)
}

// Size returns the committed capacity recorded in ptr's header, or 0
// if the header marks it free.
func (h *MediumHeap) Size(ptr addr.Address) int64 {
	return mem.ReadInt64(h.pageOf(ptr).Add(offMediumSize))
}

// Used returns the in-use byte count recorded in ptr's header.
func (h *MediumHeap) Used(ptr addr.Address) int64 {
	return mem.ReadInt64(h.pageOf(ptr).Add(offMediumUsed))
}

// Status returns ptr's GC status byte.
func (h *MediumHeap) Status(ptr addr.Address) Status {
	return Status(mem.ReadUint8(h.pageOf(ptr).Add(offMediumStatus)))
}

// SetStatus stores ptr's GC status byte.
func (h *MediumHeap) SetStatus(ptr addr.Address, s Status) {
	mem.WriteUint8(h.pageOf(ptr).Add(offMediumStatus), uint8(s))
}

// Realloc grows or shrinks the object at ptr. If newSize still fits
// within the page's committed capacity it is updated in place;
// otherwise Realloc allocates a new object, copies the used bytes,
// and frees ptr.
func (h *MediumHeap) Realloc(ptr addr.Address, newSize int64) addr.Address {
	if newSize <= h.Size(ptr) {
		mem.WriteInt64(h.pageOf(ptr).Add(offMediumUsed), newSize)
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
