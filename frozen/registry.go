// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frozen implements the frozen-segment registry: pre-
// initialized, read-only regions (method tables, literal data) whose
// contents are live forever and are never swept.
package frozen

import (
	"managedcore/addr"
	"managedcore/mem"
)

// recordSize is { start, allocated, committed, reserved, next },
// five pointer-sized words.
const recordSize = 5 * 8

const (
	offStart     = 0
	offAllocated = 8
	offCommitted = 16
	offReserved  = 24
	offNext      = 32
)

// Registry is a singly-linked list of segment records, bump-allocated
// out of dedicated Unmanaged pages.
type Registry struct {
	pa   *mem.PageAllocator
	head addr.Address

	bump addr.Address
	end  addr.Address
}

// New creates an empty registry backed by pa.
func New(pa *mem.PageAllocator) *Registry {
	return &Registry{pa: pa}
}

func (r *Registry) bumpAlloc() addr.Address {
	if r.bump == 0 || r.bump.Add(recordSize) > r.end {
		page := r.pa.AllocPages(mem.Unmanaged, 1, true)
		r.bump = page
		r.end = page.Add(mem.PageSize)
	}
	rec := r.bump
	r.bump = r.bump.Add(recordSize)
	return rec
}

// Register bump-allocates a metadata record and prepends it to the
// head of the list.
func (r *Registry) Register(start, allocated, committed, reserved int64) {
	rec := r.bumpAlloc()
	mem.WriteInt64(rec.Add(offStart), start)
	mem.WriteInt64(rec.Add(offAllocated), allocated)
	mem.WriteInt64(rec.Add(offCommitted), committed)
	mem.WriteInt64(rec.Add(offReserved), reserved)
	mem.WritePtr(rec.Add(offNext), r.head)
	r.head = rec
}

// Update locates the record whose start address matches start and
// overwrites its allocated/committed size fields. It is a no-op if
// no such record exists.
func (r *Registry) Update(start, allocated, committed int64) {
	for rec := r.head; rec != 0; rec = mem.ReadPtr(rec.Add(offNext)) {
		if mem.ReadInt64(rec.Add(offStart)) == start {
			mem.WriteInt64(rec.Add(offAllocated), allocated)
			mem.WriteInt64(rec.Add(offCommitted), committed)
			return
		}
	}
}

// Contains reports whether ptr falls within [start, start+allocated)
// for some registered segment. The collector drops such pointers: it
// neither traces nor marks nor sweeps them.
func (r *Registry) Contains(ptr addr.Address) bool {
	p := int64(ptr)
	for rec := r.head; rec != 0; rec = mem.ReadPtr(rec.Add(offNext)) {
		start := mem.ReadInt64(rec.Add(offStart))
		allocated := mem.ReadInt64(rec.Add(offAllocated))
		if p >= start && p < start+allocated {
			return true
		}
	}
	return false
}

// ForEach calls fn once per registered segment (start, allocated,
// committed, reserved), in most-recently-registered-first order.
func (r *Registry) ForEach(fn func(start, allocated, committed, reserved int64)) {
	for rec := r.head; rec != 0; rec = mem.ReadPtr(rec.Add(offNext)) {
		fn(
			mem.ReadInt64(rec.Add(offStart)),
			mem.ReadInt64(rec.Add(offAllocated)),
			mem.ReadInt64(rec.Add(offCommitted)),
			mem.ReadInt64(rec.Add(offReserved)),
		)
	}
}
