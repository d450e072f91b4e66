// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"managedcore/addr"
	"managedcore/handle"
	"managedcore/mem"
)

// ThreadStack is a snapshot of one managed thread's conservatively
// scanned roots: its saved callee-saved registers and the live region
// of its stack, [StackPointer, StackPointer+StackSize). The scheduler
// and the register-save area are referenced only through this struct;
// how a thread got suspended and who captured its registers is out of
// scope here.
type ThreadStack struct {
	Registers    []addr.Address
	StackPointer addr.Address
	StackSize    int64
}

// StaticRegion is one module's GC-static data section: Count entries
// starting at Base. When RelativePointers is true each entry is a
// 4-byte signed offset from the entry's own address to the referent,
// with the low bit reserved as an "uninitialized, skip me" flag
// (matching a position-independent AOT image's static relocation
// format); otherwise each entry is a direct pointer-sized slot, with
// the low bit of the stored value reserved the same way.
type StaticRegion struct {
	Base             addr.Address
	Count            int64
	RelativePointers bool
}

// looksLikeReference is the "is this word a pointer worth tracing"
// test shared by root scanning and reference enumeration: inside the
// managed region, not inside a frozen segment, and landing in a page
// the allocator currently attributes to one of the three heap size
// classes. A pointer into a frozen segment needs no tracing (frozen
// objects are live forever and their outgoing references stay in
// frozen storage) and must never be marked or swept, so it is dropped
// here before the page classification is even consulted. The test is
// conservative about whether a slot holds a pointer at all (a data
// word that happens to alias a heap address is harmless
// over-retention); it is not conservative about offsets within an
// object, since the ahead-of-time compiler only ever materializes
// exact object-start addresses, never interior pointers.
func (c *Collector) looksLikeReference(v addr.Address) bool {
	if v < c.managedMin || v >= c.managedMax {
		return false
	}
	if c.frozen.Contains(v) {
		return false
	}
	switch c.pa.PageKind(v) {
	case mem.HeapSmall, mem.HeapMedium, mem.HeapLarge:
		return true
	default:
		return false
	}
}

// enumerateRoots calls visit once for every candidate root address
// drawn from threads, statics, and the handle table. It is the single
// place that walks those three sources; Collect feeds visit into the
// mark stack, PathTo feeds it into its own BFS frontier.
func (c *Collector) enumerateRoots(threads []ThreadStack, statics []StaticRegion, visit func(addr.Address)) {
	for _, t := range threads {
		for _, r := range t.Registers {
			if c.looksLikeReference(r) {
				visit(r)
			}
		}
		top := t.StackPointer.Add(t.StackSize)
		for a := t.StackPointer; a.Add(8) <= top; a = a.Add(8) {
			if v := mem.ReadPtr(a); c.looksLikeReference(v) {
				visit(v)
			}
		}
	}
	for _, r := range statics {
		for i := int64(0); i < r.Count; i++ {
			var v addr.Address
			if r.RelativePointers {
				entry := r.Base.Add(i * 4)
				rel := int32(mem.ReadUint32(entry))
				if rel&1 != 0 {
					continue
				}
				v = entry.Add(int64(rel))
			} else {
				entry := r.Base.Add(i * 8)
				raw := mem.ReadPtr(entry)
				if uintptr(raw)&1 != 0 {
					continue
				}
				v = raw
			}
			if c.looksLikeReference(v) {
				visit(v)
			}
		}
	}
	c.handles.ForEach(func(h, obj addr.Address, kind handle.Kind) {
		if c.looksLikeReference(obj) {
			visit(obj)
		}
	})
}
