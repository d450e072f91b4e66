// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import "managedcore/mem"

// ClassStats summarizes one size class's occupancy.
type ClassStats struct {
	Objects   int64
	LiveBytes int64
	FreeBytes int64
}

// Breakdown is a per-size-class memory report, the Go-native analogue
// of a statistics tree grouped by size class.
type Breakdown struct {
	Small  ClassStats
	Medium ClassStats
	Large  ClassStats
}

// Breakdown walks every size class and reports live/free occupancy.
// It is read-only diagnostic output for a host-side inspection tool;
// it never runs during collection.
func (h *Heap) Breakdown() Breakdown {
	var b Breakdown

	h.Small.ForEachSlot(func(ptr mem.Address) {
		sz := h.Small.Size(ptr)
		if sz == 0 {
			b.Small.FreeBytes += SlotPrefixSize
			return
		}
		b.Small.Objects++
		b.Small.LiveBytes += sz
	})

	h.pa.ForEachPage(func(start mem.Address, kind mem.Kind, pages int64) {
		switch kind {
		case mem.HeapMedium:
			ptr := start.Add(MediumHeaderSize)
			if h.Medium.Size(ptr) == 0 {
				b.Medium.FreeBytes += pages * mem.PageSize
				return
			}
			b.Medium.Objects++
			b.Medium.LiveBytes += h.Medium.Used(ptr)
		case mem.HeapLarge:
			ptr := start.Add(LargeHeaderSize)
			if h.Large.Size(ptr) == 0 {
				b.Large.FreeBytes += pages * mem.PageSize
				return
			}
			b.Large.Objects++
			b.Large.LiveBytes += h.Large.Used(ptr)
		}
	})

	return b
}
