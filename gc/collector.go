// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gc implements the precise mark-sweep collector: root
// enumeration over conservatively scanned thread stacks, static data
// sections, and the handle table (pointers into registered frozen
// segments are dropped, not traced); a LIFO mark phase driven by each
// object's GC descriptor; and a sweep phase that walks every size
// class and reclaims anything left unmarked.
package gc

import (
	"managedcore/addr"
	"managedcore/frozen"
	"managedcore/gcobj"
	"managedcore/handle"
	"managedcore/heap"
	"managedcore/mem"
)

// State is the collector's coarse phase, surfaced for diagnostics
// (cmd/kdump's overview command reports it).
type State uint8

const (
	Idle State = iota
	MarkSetup
	Marking
	Sweeping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case MarkSetup:
		return "MarkSetup"
	case Marking:
		return "Marking"
	case Sweeping:
		return "Sweeping"
	default:
		return "Unknown"
	}
}

// Collector owns the mark stack and the collection counters. Across
// Collect calls it keeps only those counters and the (empty) mark
// stack's buffer: Idle really means idle, there is no incremental or
// concurrent phase here.
type Collector struct {
	pa      *mem.PageAllocator
	h       *heap.Heap
	handles *handle.Table
	frozen  *frozen.Registry

	managedMin, managedMax addr.Address

	stack *markStack
	state State

	totalCollections  int64
	totalObjectsFreed int64
}

// New builds a collector over the given heap, handle table, and
// frozen-segment registry. [managedMin,managedMax) bounds the region
// IsValidMethodTablePointer and root scanning treat as "the managed
// heap," matching the Region pa itself was Init'd with.
func New(pa *mem.PageAllocator, h *heap.Heap, handles *handle.Table, fr *frozen.Registry, managedMin, managedMax addr.Address) *Collector {
	return &Collector{
		pa:         pa,
		h:          h,
		handles:    handles,
		frozen:     fr,
		managedMin: managedMin,
		managedMax: managedMax,
		stack:      newMarkStack(h),
		state:      Idle,
	}
}

// State reports the collector's current phase.
func (c *Collector) State() State { return c.state }

// Stats summarizes one Collect call.
type Stats struct {
	ObjectsFreed int64
	MarkDropped  int64 // pushes lost to mark-stack growth failure
}

// TotalCollections returns the number of completed Collect calls.
func (c *Collector) TotalCollections() int64 { return c.totalCollections }

// TotalObjectsFreed returns the cumulative objects reclaimed across
// every Collect call.
func (c *Collector) TotalObjectsFreed() int64 { return c.totalObjectsFreed }

// Collect runs one full stop-the-world mark-sweep cycle: enumerate
// roots from threads and statics plus the handle table, mark every
// object transitively reachable from them, then sweep every size
// class and reclaim anything left unmarked. Frozen segments are never
// roots and never swept: looksLikeReference drops any pointer the
// registry contains before tracing it, and the sweep phase never
// visits frozen.Registry at all.
func (c *Collector) Collect(threads []ThreadStack, statics []StaticRegion) Stats {
	c.state = MarkSetup
	c.stack.dropped = 0
	c.enumerateRoots(threads, statics, c.stack.push)

	c.state = Marking
	c.mark()

	c.state = Sweeping
	freed := c.sweep()

	c.state = Idle
	c.totalCollections++
	c.totalObjectsFreed += freed
	return Stats{ObjectsFreed: freed, MarkDropped: c.stack.dropped}
}

// mark drains the mark stack. Each popped candidate is checked for
// the Marked status it may already carry (handles double-visiting a
// cyclic graph as a no-op) before its method table is consulted to
// push its own references.
func (c *Collector) mark() {
	for !c.stack.empty() {
		p := c.stack.pop()
		if c.h.Status(p) == heap.Marked {
			continue
		}
		c.h.SetStatus(p, heap.Marked)

		obj := gcobj.Object(p)
		mt := obj.MethodTable()
		if !gcobj.IsValidMethodTablePointer(gcobj.Address(mt), c.managedMin, c.managedMax) {
			continue
		}
		forEachReference(gcobj.Address(p), mt, func(ref gcobj.Address) {
			if v := addr.Address(ref); c.looksLikeReference(v) {
				c.stack.push(v)
			}
		})
	}
}

// looksManaged is the "is managed object" test the sweep phase runs
// before trusting a slot's Status byte: non-null, 8-byte-aligned
// method-table pointer outside the managed region. The same size-class
// heaps hand out storage for both managed objects and raw GC scratch
// (the mark stack's own buffer); a raw allocation's first word is
// never a valid method-table pointer, so this is what lets sweep skip
// it instead of misreading scratch data as a dead object and freeing
// out from under the collector.
func (c *Collector) looksManaged(ptr addr.Address) bool {
	mt := gcobj.Object(ptr).MethodTable()
	return gcobj.IsValidMethodTablePointer(gcobj.Address(mt), c.managedMin, c.managedMax)
}

// sweep walks every size class and reclaims anything left Unmarked,
// then clears the Marked bit on everything that survives so the next
// Collect starts from a clean slate. The handle table and frozen
// segments live on Unmanaged pages and are never visited here.
func (c *Collector) sweep() int64 {
	var freed int64

	c.h.Small.ForEachSlot(func(ptr addr.Address) {
		if c.h.Small.Size(ptr) == 0 {
			return
		}
		if !c.looksManaged(ptr) {
			return
		}
		if c.h.Small.Status(ptr) == heap.Marked {
			c.h.Small.SetStatus(ptr, heap.Unmarked)
			return
		}
		c.h.Small.Free(ptr)
		freed++
	})

	c.pa.ForEachPage(func(start addr.Address, kind mem.Kind, pages int64) {
		switch kind {
		case mem.HeapMedium:
			obj := start.Add(heap.MediumHeaderSize)
			if c.h.Medium.Size(obj) == 0 || !c.looksManaged(obj) {
				return
			}
			if c.h.Medium.Status(obj) == heap.Marked {
				c.h.Medium.SetStatus(obj, heap.Unmarked)
				return
			}
			c.h.Medium.Free(obj)
			freed++
		case mem.HeapLarge:
			obj := start.Add(heap.LargeHeaderSize)
			if c.h.Large.Size(obj) == 0 || !c.looksManaged(obj) {
				return
			}
			if c.h.Large.Status(obj) == heap.Marked {
				c.h.Large.SetStatus(obj, heap.Unmarked)
				return
			}
			c.h.Large.Free(obj)
			freed++
		}
	})

	return freed
}
