// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gcobj provides read access to the object header, method
// table, and GC descriptor layouts shared by the page allocator's
// clients. Unlike a DWARF-driven type reader, it reads a live method
// table directly out of the running image: this core has no DWARF
// type info of its own at runtime, only the ahead-of-time compiler's
// binary method-table format.
package gcobj

import (
	"managedcore/mem"
)

// WordSize is the pointer width of the target architecture. The core
// targets 64-bit architectures only.
const WordSize = 8

// Address is re-exported from mem for callers that only import gcobj.
type Address = mem.Address

// Flags are the method-table flag bits.
type Flags uint32

const (
	HasComponentSize Flags = 1 << iota
	ContainsGCPointers
	IsInterface
	IsValueType
	IsNullable
	HasGenericVariance
	IsArray
	IsGeneric
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Field offsets within a method table. The layout is this core's own
// binary contract: the AOT compiler that emits method tables and this
// reader must agree on it. Recorded in DESIGN.md.
const (
	offBaseSize         = 0
	offComponentSize    = 8
	offFlags            = 16
	offInterfaceCount   = 20
	offInterfaceMap     = 24
	offBaseType         = 32
	offGenericArgCount  = 40
	offGenericArgs      = 48
	offRelatedType      = 56
	offTypeManager      = 64
	MethodTableSize     = 72
)

// MethodTable is an externally-defined, immutable type descriptor. It
// is just an address; all accessors read through to the frozen
// storage backing it.
type MethodTable Address

// Nil is the null method table.
const Nil MethodTable = 0

func (mt MethodTable) addr() Address { return Address(mt) }

func (mt MethodTable) BaseSize() int64      { return mem.ReadInt64(mt.addr().Add(offBaseSize)) }
func (mt MethodTable) ComponentSize() int64 { return mem.ReadInt64(mt.addr().Add(offComponentSize)) }
func (mt MethodTable) RawFlags() Flags      { return Flags(mem.ReadUint32(mt.addr().Add(offFlags))) }
func (mt MethodTable) Has(bit Flags) bool   { return mt.RawFlags().Has(bit) }

// InterfaceMap returns the method table's implemented-interface list.
func (mt MethodTable) InterfaceMap() []MethodTable {
	n := mem.ReadUint32(mt.addr().Add(offInterfaceCount))
	if n == 0 {
		return nil
	}
	base := mem.ReadPtr(mt.addr().Add(offInterfaceMap))
	out := make([]MethodTable, n)
	for i := range out {
		out[i] = MethodTable(mem.ReadPtr(base.Add(int64(i) * WordSize)))
	}
	return out
}

// BaseType returns the method table of the base class, or Nil.
func (mt MethodTable) BaseType() MethodTable {
	return MethodTable(mem.ReadPtr(mt.addr().Add(offBaseType)))
}

// GenericArgs returns the method tables bound to this generic instantiation's
// type parameters.
func (mt MethodTable) GenericArgs() []MethodTable {
	n := mem.ReadUint32(mt.addr().Add(offGenericArgCount))
	if n == 0 {
		return nil
	}
	base := mem.ReadPtr(mt.addr().Add(offGenericArgs))
	out := make([]MethodTable, n)
	for i := range out {
		out[i] = MethodTable(mem.ReadPtr(base.Add(int64(i) * WordSize)))
	}
	return out
}

// RelatedType returns the array element type for array method tables,
// or the referent type for by-ref-like types; Nil if not applicable.
func (mt MethodTable) RelatedType() MethodTable {
	return MethodTable(mem.ReadPtr(mt.addr().Add(offRelatedType)))
}

// TypeManager returns the opaque type-manager handle pointer.
func (mt MethodTable) TypeManager() Address {
	return mem.ReadPtr(mt.addr().Add(offTypeManager))
}

// IsValidMethodTablePointer implements the "is managed object" test:
// non-null, 8-byte aligned, and pointing outside the managed region
// (into the code/rodata image).
func IsValidMethodTablePointer(candidate Address, managedMin, managedMax Address) bool {
	if candidate == 0 {
		return false
	}
	if int64(candidate)%WordSize != 0 {
		return false
	}
	if candidate >= managedMin && candidate < managedMax {
		return false
	}
	return true
}
