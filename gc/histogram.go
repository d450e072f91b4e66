// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"managedcore/addr"
	"managedcore/gcobj"
	"managedcore/heap"
	"managedcore/mem"
)

// HistogramEntry aggregates every live instance of one method table.
type HistogramEntry struct {
	Type  gcobj.MethodTable
	Count int64
	Bytes int64
}

// Histogram walks every live object across all three size classes and
// groups them by method table, the way cmd/kdump's "heap" subcommand
// reports retained memory by type. It never touches GC status: callers
// can run it at any time, not just right after a Collect.
func (c *Collector) Histogram() []HistogramEntry {
	totals := make(map[gcobj.MethodTable]*HistogramEntry)
	add := func(ptr addr.Address, size int64) {
		if size == 0 {
			return
		}
		obj := gcobj.Object(ptr)
		mt := obj.MethodTable()
		if !gcobj.IsValidMethodTablePointer(gcobj.Address(mt), c.managedMin, c.managedMax) {
			return
		}
		e, ok := totals[mt]
		if !ok {
			e = &HistogramEntry{Type: mt}
			totals[mt] = e
		}
		e.Count++
		e.Bytes += size
	}

	c.h.Small.ForEachSlot(func(ptr addr.Address) {
		add(ptr, c.h.Small.Size(ptr))
	})
	c.pa.ForEachPage(func(start addr.Address, kind mem.Kind, pages int64) {
		switch kind {
		case mem.HeapMedium:
			obj := start.Add(heap.MediumHeaderSize)
			add(obj, c.h.Medium.Used(obj))
		case mem.HeapLarge:
			obj := start.Add(heap.LargeHeaderSize)
			add(obj, c.h.Large.Used(obj))
		}
	})

	out := make([]HistogramEntry, 0, len(totals))
	for _, e := range totals {
		out = append(out, *e)
	}
	return out
}
