// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcobj

import "managedcore/mem"

// Object is the address of the method-table-pointer slot that begins
// every managed instance. Per-size-class prefixes (slot size, page
// header, GC status byte) live before this address; they are owned
// and interpreted by package heap, not here.
type Object Address

func (o Object) addr() Address { return Address(o) }

// markMask is the bit reserved inside the method-table pointer word.
// MethodTable masks it off and MarkTagSet reports it; the collector's
// actual mark state lives
// in the per-slot GC status byte owned by package heap, not in this
// bit; see DESIGN.md for why the two disagree with the pointer-tag
// design sketched for this field.
const markMask = 1

// rawMethodTableWord returns the unmasked method-table slot contents.
func (o Object) rawMethodTableWord() Address {
	return mem.ReadPtr(o.addr())
}

// MethodTable returns the object's method table with the mark bit
// masked off.
func (o Object) MethodTable() MethodTable {
	return MethodTable(Address(uintptr(o.rawMethodTableWord()) &^ markMask))
}

// MarkTagSet reports whether the reserved low bit of the method-table
// word is set. Unused by the mark/sweep algorithm (which uses the GC
// status byte instead); exposed for completeness and for tests that
// check the masking behavior of MethodTable.
func (o Object) MarkTagSet() bool {
	return uintptr(o.rawMethodTableWord())&markMask != 0
}

// HasElementCount reports whether this object carries a 32-bit
// element count following the method-table pointer (true for arrays
// and strings: any type with a non-zero component size).
func (mt MethodTable) HasElementCount() bool {
	return mt.Has(HasComponentSize) || mt.Has(IsArray)
}

// ElementCount reads the 32-bit element count immediately following
// the method-table pointer. Only valid when the object's method
// table reports HasElementCount.
func (o Object) ElementCount() uint32 {
	return mem.ReadUint32(o.addr().Add(WordSize))
}

// FieldsBase returns the address of the first field byte following
// the header. For fixed-size types this is directly after the
// method-table pointer; for variable-sized types it is after the
// pointer and the element count, rounded up to pointer alignment.
func (o Object) FieldsBase(mt MethodTable) Address {
	if !mt.HasElementCount() {
		return o.addr().Add(WordSize)
	}
	return o.addr().Add(2 * WordSize)
}

// Size computes the total instance size in bytes: BaseSize for
// fixed-size types, or BaseSize + ElementCount*ComponentSize for
// variable-sized types (arrays and strings).
func (o Object) Size(mt MethodTable) int64 {
	if !mt.HasElementCount() {
		return mt.BaseSize()
	}
	return mt.BaseSize() + int64(o.ElementCount())*mt.ComponentSize()
}
