// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"managedcore/addr"
	"managedcore/mem"
)

// SlotPrefixSize is the per-slot header: a 16-bit in-use size and an
// 8-bit GC status, padded out to keep the slot's data word-aligned.
const SlotPrefixSize = 8

const (
	offSlotSize   = 0
	offSlotStatus = 2
)

// sizeClass is one root of the size-map table: a fixed item size and
// the list of HeapSmall pages partitioned into slots of that size.
// See DESIGN.md for why a slice-backed side table stands in for a
// page-resident linked list here.
type sizeClass struct {
	itemSize int64
	slotSize int64
	pages    []addr.Address
}

func (c *sizeClass) slotsPerPage() int64 { return mem.PageSize / c.slotSize }

func (c *sizeClass) slotAddr(page addr.Address, i int64) addr.Address {
	return page.Add(i * c.slotSize)
}

// SmallHeap allocates fixed-size slots out of HeapSmall pages.
type SmallHeap struct {
	pa          *mem.PageAllocator
	maxItemSize int64
	classes     map[int64]*sizeClass
}

// NewSmallHeap creates a Small heap whose items never exceed
// maxItemSize.
func NewSmallHeap(pa *mem.PageAllocator, maxItemSize int64) *SmallHeap {
	return &SmallHeap{pa: pa, maxItemSize: maxItemSize, classes: make(map[int64]*sizeClass)}
}

func (h *SmallHeap) roundItemSize(n int64) int64 {
	return addr.AlignUp(n, 8)
}

func (h *SmallHeap) classFor(itemSize int64) *sizeClass {
	c, ok := h.classes[itemSize]
	if !ok {
		c = &sizeClass{itemSize: itemSize, slotSize: itemSize + SlotPrefixSize}
		h.classes[itemSize] = c
	}
	return c
}

// Alloc rounds n up to the next supported size class and returns a
// pointer past the slot prefix, or 0 if n exceeds mMaxItemSize or the
// page allocator is out of memory.
func (h *SmallHeap) Alloc(n int64) addr.Address {
	if n <= 0 {
		n = 1
	}
	itemSize := h.roundItemSize(n)
	if itemSize > h.maxItemSize {
		return 0
	}
	c := h.classFor(itemSize)

	for _, page := range c.pages {
		for i := int64(0); i < c.slotsPerPage(); i++ {
			slot := c.slotAddr(page, i)
			if mem.ReadUint16(slot.Add(offSlotSize)) == 0 {
				return h.commit(slot, itemSize)
			}
		}
	}

	page := h.pa.AllocPages(mem.HeapSmall, 1, true)
	if page == 0 {
		return 0
	}
	c.pages = append(c.pages, page)
	return h.commit(c.slotAddr(page, 0), itemSize)
}

func (h *SmallHeap) commit(slot addr.Address, itemSize int64) addr.Address {
	mem.WriteUint16(slot.Add(offSlotSize), uint16(itemSize))
	mem.Memset(slot.Add(SlotPrefixSize), 0, itemSize)
	return slot.Add(SlotPrefixSize)
}

// Free clears the slot's size prefix to zero.
func (h *SmallHeap) Free(ptr addr.Address) {
	slot := ptr.Add(-SlotPrefixSize)
	mem.WriteUint16(slot.Add(offSlotSize), 0)
}

// Size returns the live size recorded in ptr's slot prefix, or 0 if
// the slot is free.
func (h *SmallHeap) Size(ptr addr.Address) int64 {
	slot := ptr.Add(-SlotPrefixSize)
	return int64(mem.ReadUint16(slot.Add(offSlotSize)))
}

// Status returns ptr's GC status byte.
func (h *SmallHeap) Status(ptr addr.Address) Status {
	slot := ptr.Add(-SlotPrefixSize)
	return Status(mem.ReadUint8(slot.Add(offSlotStatus)))
}

// SetStatus stores ptr's GC status byte. Only the collector calls this.
func (h *SmallHeap) SetStatus(ptr addr.Address, s Status) {
	slot := ptr.Add(-SlotPrefixSize)
	mem.WriteUint8(slot.Add(offSlotStatus), uint8(s))
}

// ForEachSlot calls fn once per slot (free or in-use) across every
// size class, passing the pointer past the slot prefix. Used by the
// collector's sweep phase.
func (h *SmallHeap) ForEachSlot(fn func(ptr addr.Address)) {
	for _, c := range h.classes {
		for _, page := range c.pages {
			for i := int64(0); i < c.slotsPerPage(); i++ {
				fn(c.slotAddr(page, i).Add(SlotPrefixSize))
			}
		}
	}
}
