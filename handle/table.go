// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package handle implements the fixed-capacity handle table: a
// scan-to-allocate array of { object, kind, extra } records backed by
// raw pages, used by managed code to pin a reference behind an opaque
// handle value.
package handle

import (
	"managedcore/addr"
	"managedcore/mem"
)

// Kind distinguishes handle semantics. The collector currently treats
// every non-null entry as a strong root regardless of Kind (see
// DESIGN.md); Kind is tracked so the distinction is at least
// representable.
type Kind uint8

const (
	Normal Kind = iota
	Weak
	Pinned
	Dependent
)

// EntrySize is the on-disk record: an object pointer, a kind byte
// (padded to a word), and an extra pointer.
const EntrySize = 24

const (
	offObject = 0
	offKind   = 8
	offExtra  = 16
)

// Table is a bump-allocated, fixed-capacity array of handle records.
// A handle's identity is the address of its slot.
type Table struct {
	base     addr.Address
	capacity int64
}

// New reserves capacity handles worth of Unmanaged pages from pa and
// zeroes them.
func New(pa *mem.PageAllocator, capacity int64) *Table {
	bytes := capacity * EntrySize
	base := pa.AllocPages(mem.Unmanaged, addr.PagesFor(bytes), true)
	return &Table{base: base, capacity: capacity}
}

func (t *Table) slot(i int64) addr.Address { return t.base.Add(i * EntrySize) }

// Alloc linearly searches for a slot whose object pointer is zero,
// writes the tuple, and returns the slot's address as the handle. It
// returns 0 if the table is full.
func (t *Table) Alloc(obj addr.Address, kind Kind, extra addr.Address) addr.Address {
	for i := int64(0); i < t.capacity; i++ {
		s := t.slot(i)
		if mem.ReadPtr(s.Add(offObject)) == 0 {
			mem.WritePtr(s.Add(offObject), obj)
			mem.WriteUint8(s.Add(offKind), uint8(kind))
			mem.WritePtr(s.Add(offExtra), extra)
			return s
		}
	}
	return 0
}

// Free computes the handle's index from pointer arithmetic against
// the table base, bounds-checks it, and clears the slot.
func (t *Table) Free(h addr.Address) {
	i := h.Sub(t.base) / EntrySize
	if i < 0 || i >= t.capacity || t.slot(i) != h {
		panic("handle: free of an address that is not a live handle")
	}
	mem.WritePtr(h.Add(offObject), 0)
	mem.WriteUint8(h.Add(offKind), 0)
	mem.WritePtr(h.Add(offExtra), 0)
}

// Object returns the object referenced by handle h.
func (t *Table) Object(h addr.Address) addr.Address { return mem.ReadPtr(h.Add(offObject)) }

// Kind returns h's kind tag.
func (t *Table) Kind(h addr.Address) Kind { return Kind(mem.ReadUint8(h.Add(offKind))) }

// Extra returns h's extra payload pointer.
func (t *Table) Extra(h addr.Address) addr.Address { return mem.ReadPtr(h.Add(offExtra)) }

// ForEach calls fn once for every non-null handle. Used by the
// collector to enumerate handle-table roots.
func (t *Table) ForEach(fn func(h addr.Address, obj addr.Address, kind Kind)) {
	for i := int64(0); i < t.capacity; i++ {
		s := t.slot(i)
		if obj := mem.ReadPtr(s.Add(offObject)); obj != 0 {
			fn(s, obj, Kind(mem.ReadUint8(s.Add(offKind))))
		}
	}
}
