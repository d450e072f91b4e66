// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"unsafe"

	"managedcore/addr"
	"managedcore/archreg"
	"managedcore/dwarfeh"
	"managedcore/frozen"
	"managedcore/gc"
	"managedcore/gcobj"
	"managedcore/handle"
	"managedcore/heap"
	"managedcore/lsda"
	"managedcore/mem"
	"managedcore/unwind"
)

// image is a live, in-process instance of the managed core: a page
// allocator over a slice-backed region, the three size-class heaps,
// handle table, frozen-segment registry, collector, and a scripted
// object graph plus a synthetic two-frame throw for the unwind
// command. It is the same shape the package tests drive, assembled
// here once so every subcommand and the repl inspect one consistent
// world.
type image struct {
	buf []byte // pins the managed region

	pa      *mem.PageAllocator
	h       *heap.Heap
	handles *handle.Table
	frozen  *frozen.Registry
	col     *gc.Collector

	types     *typeArena
	typeNames map[gcobj.MethodTable]string

	threads  []gc.ThreadStack
	statics  []gc.StaticRegion
	staticRg []byte // pins the static region
	stackRg  []byte // pins the synthetic thread stack

	throw *throwScenario
}

// typeArena hands out frozen-storage blocks for method tables,
// entirely outside the managed region (it is backed by its own Go
// allocation, so IsValidMethodTablePointer's outside-the-region test
// holds for everything built here).
type typeArena struct {
	buf  []byte
	base addr.Address
	next int64
}

func newTypeArena(size int64) *typeArena {
	buf := make([]byte, size+8)
	base := addr.Address(uintptr(unsafe.Pointer(&buf[0])))
	return &typeArena{buf: buf, base: addr.Address(addr.AlignUp(int64(base), 8))}
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

// definePlainType builds a method table with no GC descriptor:
// contains-gc-pointers stays clear, so the collector never reads
// behind it.
func (a *typeArena) definePlainType(baseSize int64) gcobj.MethodTable {
	mt := gcobj.MethodTable(a.alloc(gcobj.MethodTableSize))
	writeBaseFields(mt, baseSize, 0, 0)
	return mt
}

// defineReferenceType builds a method table whose trailing GC
// descriptor is a positive series count applying to every instance.
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
// a negative series count whose |N| items apply once per element.
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

// newObject allocates from the heap, stamps the method table, and
// (for array-shaped types) the element count.
func (img *image) newObject(mt gcobj.MethodTable, totalSize int64, elements int64) addr.Address {
	p := img.h.Alloc(totalSize)
	if p == 0 {
		exitf("image: out of memory allocating %d bytes\n", totalSize)
	}
	mem.WritePtr(p, addr.Address(mt))
	if mt.HasElementCount() {
		mem.WriteUint32(p.Add(gcobj.WordSize), uint32(elements))
	}
	return p
}

func (img *image) typeName(mt gcobj.MethodTable) string {
	if n, ok := img.typeNames[mt]; ok {
		return n
	}
	return fmt.Sprintf("unk@%x", uintptr(addr.Address(mt)))
}

// buildImage constructs the scripted world: a node cycle and its
// leaves rooted from a static region, a medium buffer and a large
// blob, a value-type array rooted from a synthetic thread stack, a
// handle-rooted leaf, and a handful of unreferenced garbage objects
// for a collection to reclaim.
func buildImage(sizeMiB int64, maxSmall int64, arch *archreg.Architecture) *image {
	size := sizeMiB << 20
	buf := make([]byte, size+mem.PageSize)
	base := addr.Address(uintptr(unsafe.Pointer(&buf[0])))
	aligned := addr.Address(addr.AlignUp(int64(base), mem.PageSize))

	pa := mem.Init(aligned, size)
	h := heap.New(pa, maxSmall)
	handles := handle.New(pa, 64)
	fr := frozen.New(pa)
	managedMin := pa.HeapBase()
	managedMax := pa.HeapBase().Add(pa.TotalPages() * mem.PageSize)
	col := gc.New(pa, h, handles, fr, managedMin, managedMax)

	img := &image{
		buf:       buf,
		pa:        pa,
		h:         h,
		handles:   handles,
		frozen:    fr,
		col:       col,
		types:     newTypeArena(1 << 16),
		typeNames: make(map[gcobj.MethodTable]string),
	}

	// Types. A node carries two reference slots right after its
	// method-table word; a leaf carries none.
	nodeMT := img.types.defineReferenceType(24, []gcobj.Series{{SizeDelta: -8, StartOffset: 8}})
	leafMT := img.types.definePlainType(16)
	bufferMT := img.types.definePlainType(2048)
	blobMT := img.types.definePlainType(3 * mem.PageSize)
	pairMT := img.types.defineValueArrayType(24, []gcobj.ValueSeriesItem{{NumPointers: 2, Skip: 8}})
	img.typeNames[nodeMT] = "node"
	img.typeNames[leafMT] = "leaf"
	img.typeNames[bufferMT] = "buffer"
	img.typeNames[blobMT] = "blob"
	img.typeNames[pairMT] = "pair[]"

	// The type arena is frozen storage: its method tables are live
	// forever, and any pointer into it the collector comes across is
	// dropped by the registry lookup rather than traced.
	img.frozen.Register(int64(img.types.base), img.types.next, img.types.next, int64(len(img.types.buf)))

	// A three-node cycle, each node also holding a leaf.
	var nodes [3]addr.Address
	for i := range nodes {
		nodes[i] = img.newObject(nodeMT, 24, -1)
	}
	for i, n := range nodes {
		mem.WritePtr(n.Add(8), nodes[(i+1)%len(nodes)])
		leaf := img.newObject(leafMT, 16, -1)
		mem.WritePtr(n.Add(16), leaf)
	}

	buffer := img.newObject(bufferMT, 2048, -1)
	blob := img.newObject(blobMT, 3*mem.PageSize, -1)

	// A value-type array of three 24-byte elements, each holding two
	// references with an 8-byte gap after them.
	arrTotal := 2*gcobj.WordSize + 3*24
	arr := img.newObject(pairMT, int64(arrTotal), 3)
	elems := gcobj.Object(arr).FieldsBase(pairMT)
	for i := int64(0); i < 3; i++ {
		el := addr.Address(elems).Add(i * 24)
		mem.WritePtr(el, img.newObject(leafMT, 16, -1))
		mem.WritePtr(el.Add(8), img.newObject(leafMT, 16, -1))
	}

	// Garbage: nothing roots these.
	for i := 0; i < 4; i++ {
		img.newObject(leafMT, 16, -1)
	}
	img.newObject(nodeMT, 24, -1)

	// Roots. The static region holds the first node, the buffer, one
	// uninitialized slot (low bit set), and the blob.
	img.staticRg = make([]byte, 4*8+8)
	staticBase := addr.Address(addr.AlignUp(int64(addr.Address(uintptr(unsafe.Pointer(&img.staticRg[0])))), 8))
	mem.WritePtr(staticBase, nodes[0])
	mem.WritePtr(staticBase.Add(8), buffer)
	mem.WritePtr(staticBase.Add(16), 1) // uninitialized
	mem.WritePtr(staticBase.Add(24), blob)
	img.statics = []gc.StaticRegion{{Base: staticBase, Count: 4}}

	// The synthetic thread stack roots the value array.
	img.stackRg = make([]byte, 256+8)
	stackBase := addr.Address(addr.AlignUp(int64(addr.Address(uintptr(unsafe.Pointer(&img.stackRg[0])))), 8))
	mem.WritePtr(stackBase.Add(64), arr)
	img.threads = []gc.ThreadStack{{StackPointer: stackBase, StackSize: 256}}

	// One handle-rooted leaf.
	img.handles.Alloc(img.newObject(leafMT, 16, -1), handle.Normal, 0)

	img.throw = buildThrowScenario(arch)
	return img
}

// throwScenario is a synthetic two-frame throw: an inner method whose
// frame-pointer chain lands on a return address inside an outer
// method's Typed try range. Its sections are built the same way the
// dispatcher tests build theirs.
type throwScenario struct {
	eh    *section
	stack *section

	disp *unwind.Dispatcher
	ex   unwind.ExInfo

	methodNames map[addr.Address]string

	innerStart, outerStart addr.Address
	handlerOffset          int64
}

// section is a byte buffer addressed like live memory.
type section struct {
	buf  []byte
	base addr.Address
}

func newSection(size int) *section {
	buf := make([]byte, size)
	return &section{buf: buf, base: addr.Address(uintptr(unsafe.Pointer(&buf[0])))}
}

func (s *section) addr(off int) addr.Address { return s.base.Add(int64(off)) }

func (s *section) putULEB128(off int, v uint64) int {
	for {
		c := uint8(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		mem.WriteUint8(s.addr(off), c)
		off++
		if v == 0 {
			return off
		}
	}
}

func (s *section) putSLEB128(off int, v int64) int {
	for {
		c := uint8(v & 0x7f)
		v >>= 7
		signBitSet := c&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			mem.WriteUint8(s.addr(off), c)
			return off + 1
		}
		mem.WriteUint8(s.addr(off), c|0x80)
		off++
	}
}

func (s *section) writeCIE(off int, codeAlign uint64, dataAlign int64, retReg uint64) int {
	bodyStart := off + 4
	p := bodyStart
	mem.WriteUint32(s.addr(p), 0) // CIE pointer == 0
	p += 4
	mem.WriteUint8(s.addr(p), 1) // version
	p++
	mem.WriteUint8(s.addr(p), 0) // empty augmentation string
	p++
	p = s.putULEB128(p, codeAlign)
	p = s.putSLEB128(p, dataAlign)
	p = s.putULEB128(p, retReg)
	mem.WriteUint32(s.addr(off), uint32(p-bodyStart))
	return p
}

func (s *section) writeFDE(off, cieOff int, pcBeginDelta int64, pcRange uint32, lsdaAddr addr.Address) (next int, pcBegin addr.Address) {
	bodyStart := off + 4
	p := bodyStart
	mem.WriteUint32(s.addr(p), uint32(p-cieOff))
	p += 4
	pcBeginField := s.addr(p)
	pcBegin = pcBeginField.Add(pcBeginDelta)
	mem.WriteUint32(s.addr(p), uint32(pcBeginDelta))
	p += 4
	mem.WriteUint32(s.addr(p), pcRange)
	p += 4
	if lsdaAddr != 0 {
		p = s.putULEB128(p, 4)
		lsdaField := s.addr(p)
		mem.WriteUint32(s.addr(p), uint32(lsdaAddr.Sub(lsdaField)))
		p += 4
	} else {
		p = s.putULEB128(p, 0)
	}
	mem.WriteUint32(s.addr(off), uint32(p-bodyStart))
	return p, pcBegin
}

func (s *section) writeTypedLSDA(off int, tryStart, tryEnd, handlerOffset int64) (block addr.Address, next int) {
	mem.WriteUint8(s.addr(off), 1<<2) // has-EH-info, root funclet kind
	ehInfoFieldOff := off + 1
	ehInfoOff := off + 16
	mem.WriteUint32(s.addr(ehInfoFieldOff), uint32(int32(ehInfoOff-ehInfoFieldOff)))

	p := ehInfoOff
	p = s.putULEB128(p, 1)
	p = s.putULEB128(p, uint64(tryStart))
	p = s.putULEB128(p, uint64((tryEnd-tryStart)<<2)|uint64(lsda.Typed))
	p = s.putULEB128(p, uint64(handlerOffset))
	mem.WriteUint32(s.addr(p), 0) // type RVA, unused by the default matcher
	p += 4
	return s.addr(off), p
}

func buildThrowScenario(arch *archreg.Architecture) *throwScenario {
	const tryStart = 0x10
	const tryEnd = 0x40
	const handlerOffset = 0x80

	eh := newSection(4096)
	afterCIE := eh.writeCIE(0, 1, -8, uint64(arch.ReturnAddressRegister))
	afterInner, innerPC := eh.writeFDE(afterCIE, 0, 0x100000, 0x100, 0)
	// The LSDA block lives past the end of the record stream handed to
	// Build, the way a real image keeps exception tables in their own
	// section; the FDE's relative LSDA pointer still reaches it.
	lsdaBlock, _ := eh.writeTypedLSDA(2048, tryStart, tryEnd, handlerOffset)
	afterOuter, outerPC := eh.writeFDE(afterInner, 0, 0x500000, 0x100, lsdaBlock)

	idx, err := dwarfeh.Build(eh.addr(0), eh.addr(afterOuter))
	if err != nil {
		exitf("image: building eh_frame index: %v\n", err)
	}

	stack := newSection(256)
	mem.WritePtr(stack.addr(0), 0) // saved FP: chain terminates
	mem.WritePtr(stack.addr(8), outerPC.Add(tryStart+4))

	sc := &throwScenario{
		eh:            eh,
		stack:         stack,
		innerStart:    innerPC,
		outerStart:    outerPC,
		handlerOffset: handlerOffset,
		methodNames: map[addr.Address]string{
			innerPC: "throw_helper",
			outerPC: "kernel_main",
		},
	}

	d := unwind.New(idx, arch)
	d.Format = func(methodStart addr.Address) string {
		if n, ok := sc.methodNames[methodStart]; ok {
			return fmt.Sprintf("   at %s\n", n)
		}
		return fmt.Sprintf("   at %x\n", uintptr(methodStart))
	}
	sc.disp = d
	sc.ex = unwind.ExInfo{
		Exception: addr.Address(0xcafe),
		IP:        innerPC.Add(4),
		FP:        stack.addr(0),
	}
	return sc
}

func (sc *throwScenario) methodName(start addr.Address) string {
	if n, ok := sc.methodNames[start]; ok {
		return n
	}
	return fmt.Sprintf("%x", uintptr(start))
}
