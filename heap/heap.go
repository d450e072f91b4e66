// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"managedcore/addr"
	"managedcore/mem"
)

// Heap dispatches allocation requests to the Small, Medium, or Large
// heap by size, matching the boundary rules: Small <= maxSmall,
// Medium is maxSmall+1..page-header, Large is everything bigger.
type Heap struct {
	pa     *mem.PageAllocator
	Small  *SmallHeap
	Medium *MediumHeap
	Large  *LargeHeap

	maxSmall int64
}

// New builds a Heap backed by pa. maxSmall is the configurable
// mMaxItemSize boundary between Small and Medium.
func New(pa *mem.PageAllocator, maxSmall int64) *Heap {
	return &Heap{
		pa:       pa,
		Small:    NewSmallHeap(pa, maxSmall),
		Medium:   NewMediumHeap(pa),
		Large:    NewLargeHeap(pa),
		maxSmall: maxSmall,
	}
}

func (h *Heap) classOf(ptr addr.Address) mem.Kind { return h.pa.PageKind(ptr) }

// Alloc rounds n into the right size class and returns zeroed
// storage, or 0 on exhaustion.
func (h *Heap) Alloc(n int64) addr.Address {
	switch {
	case n <= h.maxSmall:
		return h.Small.Alloc(n)
	case n <= MaxMediumSize():
		return h.Medium.Alloc(n)
	default:
		return h.Large.Alloc(n)
	}
}

// Free routes ptr to the owning size class's Free.
func (h *Heap) Free(ptr addr.Address) {
	switch h.classOf(ptr) {
	case mem.HeapSmall:
		h.Small.Free(ptr)
	case mem.HeapMedium:
		h.Medium.Free(ptr)
	case mem.HeapLarge:
		h.Large.Free(ptr)
	}
}

// Status reads ptr's GC status byte from its owning size class.
func (h *Heap) Status(ptr addr.Address) Status {
	switch h.classOf(ptr) {
	case mem.HeapSmall:
		return h.Small.Status(ptr)
	case mem.HeapMedium:
		return h.Medium.Status(ptr)
	case mem.HeapLarge:
		return h.Large.Status(ptr)
	default:
		return Unmarked
	}
}

// SetStatus stores ptr's GC status byte in its owning size class.
func (h *Heap) SetStatus(ptr addr.Address, s Status) {
	switch h.classOf(ptr) {
	case mem.HeapSmall:
		h.Small.SetStatus(ptr, s)
	case mem.HeapMedium:
		h.Medium.SetStatus(ptr, s)
	case mem.HeapLarge:
		h.Large.SetStatus(ptr, s)
	}
}

// Size reads the live size of ptr from its owning size class, or 0
// if it names a free slot/page.
func (h *Heap) Size(ptr addr.Address) int64 {
	switch h.classOf(ptr) {
	case mem.HeapSmall:
		return h.Small.Size(ptr)
	case mem.HeapMedium:
		return h.Medium.Size(ptr)
	case mem.HeapLarge:
		return h.Large.Size(ptr)
	default:
		return 0
	}
}

// Realloc grows or shrinks an existing allocation, preserving the
// used bytes. Small-heap objects cannot grow in place (slots are
// fixed-size within a class): a Small-origin realloc keeps ptr when
// newSize does not exceed the slot's recorded size, and otherwise
// allocates a fresh object and copies into it.
func (h *Heap) Realloc(ptr addr.Address, newSize int64) addr.Address {
	switch h.classOf(ptr) {
	case mem.HeapSmall:
		if newSize <= h.Small.Size(ptr) {
			return ptr
		}
		next := h.Alloc(newSize)
		if next == 0 {
			return 0
		}
		mem.Memcpy(next, ptr, h.Small.Size(ptr))
		h.Small.Free(ptr)
		return next
	case mem.HeapMedium:
		return h.Medium.Realloc(ptr, newSize)
	case mem.HeapLarge:
		return h.Large.Realloc(ptr, newSize)
	default:
		return 0
	}
}
