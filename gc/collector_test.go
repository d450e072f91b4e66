// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"bytes"
	"testing"
	"unsafe"

	"managedcore/addr"
	"managedcore/frozen"
	"managedcore/gcobj"
	"managedcore/handle"
	"managedcore/heap"
	"managedcore/mem"
)

func newTestAllocator(t *testing.T, size int64) *mem.PageAllocator {
	t.Helper()
	buf := make([]byte, size+mem.PageSize)
	base := addr.Address(uintptr(unsafe.Pointer(&buf[0])))
	aligned := addr.Address(addr.AlignUp(int64(base), mem.PageSize))
	pa := mem.Init(aligned, size)
	t.Cleanup(func() { _ = buf })
	return pa
}

// testHeap bundles the collaborators a Collector needs and the bounds
// of the managed region they share.
type testHeap struct {
	pa      *mem.PageAllocator
	h       *heap.Heap
	handles *handle.Table
	frozen  *frozen.Registry
	col     *Collector
}

func newTestHeap(t *testing.T, size int64) *testHeap {
	t.Helper()
	pa := newTestAllocator(t, size)
	h := heap.New(pa, 256)
	handles := handle.New(pa, 16)
	fr := frozen.New(pa)
	managedMin := pa.HeapBase()
	managedMax := pa.HeapBase().Add(pa.TotalPages() * mem.PageSize)
	col := New(pa, h, handles, fr, managedMin, managedMax)
	return &testHeap{pa: pa, h: h, handles: handles, frozen: fr, col: col}
}

// typeArena hands out frozen-storage blocks for synthetic method
// tables, entirely outside any managed region under test (it is
// backed by its own separate Go allocation).
type typeArena struct {
	base addr.Address
	next int64
}

func newTypeArena(t *testing.T, size int64) *typeArena {
	t.Helper()
	buf := make([]byte, size+8)
	base := addr.Address(uintptr(unsafe.Pointer(&buf[0])))
	aligned := addr.Address(addr.AlignUp(int64(base), 8))
	t.Cleanup(func() { _ = buf })
	return &typeArena{base: aligned}
}

func (a *typeArena) alloc(n int64) addr.Address {
	p := a.base.Add(a.next)
	a.next += addr.AlignUp(n, 8)
	return p
}

func writeBaseFields(mt gcobj.MethodTable, baseSize, componentSize int64, flags gcobj.Flags) {
	a := addr.Address(mt)
	mem.WriteInt64(a, baseSize)
	mem.WriteInt64(a.Add(8), componentSize)
	mem.WriteUint32(a.Add(16), uint32(flags))
}

// defineReferenceType builds a method table whose trailing GC
// descriptor is a positive series count: series[i] applies
// unconditionally to every instance (no value-type array indexing).
func (a *typeArena) defineReferenceType(baseSize int64, series []gcobj.Series) gcobj.MethodTable {
	recBytes := int64(len(series)) * 16
	chunk := a.alloc(recBytes + 8 + gcobj.MethodTableSize)
	mt := gcobj.MethodTable(chunk.Add(recBytes + 8))

	mem.WriteInt64(addr.Address(mt).Add(-8), int64(len(series)))
	for i, s := range series {
		rec := addr.Address(mt).Add(-8 - (int64(i)+1)*16)
		mem.WriteInt64(rec, s.SizeDelta)
		mem.WriteInt64(rec.Add(8), s.StartOffset)
	}
	writeBaseFields(mt, baseSize, 0, gcobj.ContainsGCPointers)
	return mt
}

// defineValueArrayType builds a method table for a value-type array:
// a negative series count whose |N| value-series items are applied
// once per element, elements starting at BaseSize and spaced
// componentSize apart.
func (a *typeArena) defineValueArrayType(componentSize int64, items []gcobj.ValueSeriesItem) gcobj.MethodTable {
	recBytes := int64(len(items)) * 8
	chunk := a.alloc(recBytes + 8 + gcobj.MethodTableSize)
	mt := gcobj.MethodTable(chunk.Add(recBytes + 8))

	mem.WriteInt64(addr.Address(mt).Add(-8), -int64(len(items)))
	for i, it := range items {
		rec := addr.Address(mt).Add(-8 - (int64(i)+1)*8)
		mem.WriteUint32(rec, it.NumPointers)
		mem.WriteUint32(rec.Add(4), it.Skip)
	}
	writeBaseFields(mt, 2*gcobj.WordSize, componentSize, gcobj.ContainsGCPointers|gcobj.IsArray|gcobj.HasComponentSize)
	return mt
}

// newObject allocates totalSize bytes from h, stamps mt at the
// header, and (if elementCount >= 0) writes the 32-bit element count
// variable-sized types carry right after the method-table pointer.
func newObject(h *heap.Heap, mt gcobj.MethodTable, totalSize int64, elementCount int64) addr.Address {
	p := h.Alloc(totalSize)
	mem.WritePtr(p, addr.Address(mt))
	if elementCount >= 0 {
		mem.WriteUint32(p.Add(gcobj.WordSize), uint32(elementCount))
	}
	return p
}

// TestCollectCyclicSurvival: two objects referencing each other,
// rooted from one side, must both survive a collection and both be
// freed once unrooted.
func TestCollectCyclicSurvival(t *testing.T) {
	env := newTestHeap(t, 4<<20)
	types := newTypeArena(t, 4096)

	// Each instance is { method table ptr, one reference field }.
	mt := types.defineReferenceType(16, []gcobj.Series{{SizeDelta: -8, StartOffset: 8}})

	a := newObject(env.h, mt, 16, -1)
	b := newObject(env.h, mt, 16, -1)
	mem.WritePtr(a.Add(8), b)
	mem.WritePtr(b.Add(8), a)

	stats := env.col.Collect([]ThreadStack{{Registers: []addr.Address{a}}}, nil)
	if stats.ObjectsFreed != 0 {
		t.Fatalf("rooted cycle: freed %d objects, want 0", stats.ObjectsFreed)
	}
	if env.h.Status(a) != heap.Unmarked || env.h.Status(b) != heap.Unmarked {
		t.Fatal("marks were not cleared after sweep")
	}

	stats = env.col.Collect(nil, nil)
	if stats.ObjectsFreed != 2 {
		t.Fatalf("unrooted cycle: freed %d objects, want 2", stats.ObjectsFreed)
	}
}

// TestCollectValueArrayScan: a single array object whose per-element
// GC descriptor contributes two references per element keeps all of
// its referents alive.
func TestCollectValueArrayScan(t *testing.T) {
	env := newTestHeap(t, 4<<20)
	types := newTypeArena(t, 4096)

	const componentSize = 24
	const elementCount = 3
	arrayMT := types.defineValueArrayType(componentSize, []gcobj.ValueSeriesItem{{NumPointers: 2, Skip: 8}})
	leafMT := types.defineReferenceType(8, nil)

	arr := newObject(env.h, arrayMT, 2*gcobj.WordSize+elementCount*componentSize, elementCount)

	var leaves []addr.Address
	for i := 0; i < elementCount; i++ {
		base := arr.Add(2*gcobj.WordSize + int64(i)*componentSize)
		for slot := 0; slot < 2; slot++ {
			leaf := newObject(env.h, leafMT, 8, -1)
			leaves = append(leaves, leaf)
			mem.WritePtr(base.Add(int64(slot)*gcobj.WordSize), leaf)
		}
	}

	stats := env.col.Collect([]ThreadStack{{Registers: []addr.Address{arr}}}, nil)
	if stats.ObjectsFreed != 0 {
		t.Fatalf("rooted array: freed %d objects, want 0", stats.ObjectsFreed)
	}
	for _, leaf := range leaves {
		if env.h.Size(leaf) == 0 {
			t.Fatalf("leaf %#x was reclaimed even though the array rooting it survived", leaf)
		}
	}
}

// TestCollectDoubleMarkIsNoOp checks that an object reachable by two
// independent paths is only traced once and the mark phase still
// terminates.
func TestCollectDoubleMarkIsNoOp(t *testing.T) {
	env := newTestHeap(t, 4<<20)
	types := newTypeArena(t, 4096)

	// Root holds two reference fields, both pointing at the same leaf.
	rootMT := types.defineReferenceType(24, []gcobj.Series{{SizeDelta: -8, StartOffset: 8}})
	leafMT := types.defineReferenceType(8, nil)

	leaf := newObject(env.h, leafMT, 8, -1)
	root := newObject(env.h, rootMT, 24, -1)
	mem.WritePtr(root.Add(8), leaf)
	mem.WritePtr(root.Add(16), leaf)

	stats := env.col.Collect([]ThreadStack{{Registers: []addr.Address{root}}}, nil)
	if stats.ObjectsFreed != 0 {
		t.Fatalf("freed %d objects, want 0", stats.ObjectsFreed)
	}
	if env.h.Size(leaf) == 0 {
		t.Fatal("shared leaf was reclaimed")
	}
}

// TestCollectUnrootedObjectIsFreed is the baseline: an object with no
// path from any root is reclaimed on the next collection.
func TestCollectUnrootedObjectIsFreed(t *testing.T) {
	env := newTestHeap(t, 4<<20)
	types := newTypeArena(t, 4096)
	leafMT := types.defineReferenceType(8, nil)

	leaf := newObject(env.h, leafMT, 8, -1)
	stats := env.col.Collect(nil, nil)
	if stats.ObjectsFreed != 1 {
		t.Fatalf("freed %d objects, want 1", stats.ObjectsFreed)
	}
	if env.h.Small.Size(leaf) != 0 {
		t.Fatal("unrooted object was not reclaimed")
	}
}

// TestCollectHandleTableRoots checks that a strong handle keeps its
// referent alive even with no stack or static roots at all.
func TestCollectHandleTableRoots(t *testing.T) {
	env := newTestHeap(t, 4<<20)
	types := newTypeArena(t, 4096)
	leafMT := types.defineReferenceType(8, nil)

	leaf := newObject(env.h, leafMT, 8, -1)
	h := env.handles.Alloc(leaf, handle.Normal, 0)
	if h == 0 {
		t.Fatal("handle alloc failed")
	}

	stats := env.col.Collect(nil, nil)
	if stats.ObjectsFreed != 0 {
		t.Fatalf("freed %d objects, want 0", stats.ObjectsFreed)
	}

	env.handles.Free(h)
	stats = env.col.Collect(nil, nil)
	if stats.ObjectsFreed != 1 {
		t.Fatalf("freed %d objects after handle release, want 1", stats.ObjectsFreed)
	}
}

// TestCollectStaticRegionRoots checks that an initialized direct-slot
// static root keeps its referent alive, and that the uninitialized
// flag correctly skips a slot that hasn't been filled in yet.
func TestCollectStaticRegionRoots(t *testing.T) {
	env := newTestHeap(t, 4<<20)
	types := newTypeArena(t, 4096)
	leafMT := types.defineReferenceType(8, nil)

	rooted := newObject(env.h, leafMT, 8, -1)
	unrooted := newObject(env.h, leafMT, 8, -1)

	statics := make([]byte, 2*8)
	staticsBase := addr.Address(uintptr(unsafe.Pointer(&statics[0])))
	mem.WritePtr(staticsBase, rooted)
	// This slot's payload aliases unrooted's address but with the
	// uninitialized flag set; it must be skipped outright rather than
	// rooting unrooted once the flag bit is (not) masked off.
	mem.WritePtr(staticsBase.Add(8), addr.Address(uintptr(unrooted)|1))

	region := StaticRegion{Base: staticsBase, Count: 2, RelativePointers: false}
	stats := env.col.Collect(nil, []StaticRegion{region})
	if stats.ObjectsFreed != 1 {
		t.Fatalf("freed %d objects, want 1 (only the uninitialized-flagged referent)", stats.ObjectsFreed)
	}
	if env.h.Small.Size(rooted) == 0 {
		t.Fatal("statically rooted object was reclaimed")
	}
}

// TestCollectIgnoresFrozenSegmentPointers: a pointer into a registered
// frozen segment is dropped wherever it is found: never traced, never
// marked, never swept, even when the segment's backing pages would
// otherwise pass the heap-page classification test.
func TestCollectIgnoresFrozenSegmentPointers(t *testing.T) {
	env := newTestHeap(t, 4<<20)
	types := newTypeArena(t, 4096)

	// Back the segment with a page the RAT attributes to the small
	// heap, so only the registry lookup can exclude it; marking a
	// pointer into it would write a status byte into frozen storage.
	frozenPage := env.pa.AllocPages(mem.HeapSmall, 1, true)
	env.frozen.Register(int64(frozenPage), mem.PageSize, mem.PageSize, mem.PageSize)
	frozenObj := frozenPage.Add(64)

	// A rooted object holds a reference into the segment; a second
	// register root points straight at it; one unrooted object is the
	// garbage the sweep should still reclaim.
	mt := types.defineReferenceType(16, []gcobj.Series{{SizeDelta: -8, StartOffset: 8}})
	holder := newObject(env.h, mt, 16, -1)
	mem.WritePtr(holder.Add(8), frozenObj)
	garbage := newObject(env.h, mt, 16, -1)

	before := make([]byte, mem.PageSize)
	copy(before, mem.Bytes(frozenPage, mem.PageSize))

	stats := env.col.Collect([]ThreadStack{{Registers: []addr.Address{holder, frozenObj}}}, nil)
	if stats.ObjectsFreed != 1 {
		t.Fatalf("freed %d objects, want 1 (only the unrooted one)", stats.ObjectsFreed)
	}
	if env.h.Small.Size(garbage) != 0 {
		t.Fatal("unrooted object was not reclaimed")
	}
	if env.h.Small.Size(holder) == 0 {
		t.Fatal("rooted holder was reclaimed")
	}
	if !bytes.Equal(mem.Bytes(frozenPage, mem.PageSize), before) {
		t.Fatal("collection wrote into frozen storage")
	}
}

func TestPathToFindsChain(t *testing.T) {
	env := newTestHeap(t, 4<<20)
	types := newTypeArena(t, 4096)

	mt := types.defineReferenceType(16, []gcobj.Series{{SizeDelta: -8, StartOffset: 8}})
	a := newObject(env.h, mt, 16, -1)
	b := newObject(env.h, mt, 16, -1)
	c := newObject(env.h, mt, 16, -1)
	mem.WritePtr(a.Add(8), b)
	mem.WritePtr(b.Add(8), c)

	path := env.col.PathTo([]ThreadStack{{Registers: []addr.Address{a}}}, nil, c)
	if len(path) != 3 || path[0] != a || path[1] != b || path[2] != c {
		t.Fatalf("PathTo returned %v, want [a b c]", path)
	}

	if got := env.col.PathTo([]ThreadStack{{Registers: []addr.Address{a}}}, nil, addr.Address(0xdeadbeef)); got != nil {
		t.Fatalf("PathTo found a path to an address never allocated: %v", got)
	}
}
