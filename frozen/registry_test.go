// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frozen

import (
	"testing"
	"unsafe"

	"managedcore/addr"
	"managedcore/mem"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	buf := make([]byte, 4<<20)
	base := addr.Address(uintptr(unsafe.Pointer(&buf[0])))
	aligned := addr.Address(addr.AlignUp(int64(base), mem.PageSize))
	pa := mem.Init(aligned, int64(len(buf))-mem.PageSize)
	t.Cleanup(func() { _ = buf })
	return New(pa)
}

func TestRegisterAndContains(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(0x500000, 0x1000, 0x1000, 0x2000)

	if !r.Contains(0x500000) {
		t.Fatal("expected start address to be contained")
	}
	if !r.Contains(0x500800) {
		t.Fatal("expected mid-segment address to be contained")
	}
	if r.Contains(0x501000) {
		t.Fatal("address at allocated boundary must not be contained")
	}
	if r.Contains(0x1) {
		t.Fatal("unrelated address must not be contained")
	}
}

func TestUpdateRewritesSizes(t *testing.T) {
	r := newTestRegistry(t)
	r.Register(0x700000, 0x100, 0x100, 0x1000)
	r.Update(0x700000, 0x200, 0x180)

	var gotAllocated, gotCommitted int64
	r.ForEach(func(start, allocated, committed, reserved int64) {
		if start == 0x700000 {
			gotAllocated, gotCommitted = allocated, committed
		}
	})
	if gotAllocated != 0x200 || gotCommitted != 0x180 {
		t.Fatalf("after Update: allocated=%#x committed=%#x, want 0x200/0x180", gotAllocated, gotCommitted)
	}
}

func TestRegistrySpansMultiplePages(t *testing.T) {
	r := newTestRegistry(t)
	n := int(mem.PageSize/recordSize) + 5
	for i := 0; i < n; i++ {
		r.Register(int64(i*0x1000), 0x1000, 0x1000, 0x1000)
	}
	count := 0
	r.ForEach(func(start, allocated, committed, reserved int64) { count++ })
	if count != n {
		t.Fatalf("ForEach visited %d records, want %d", count, n)
	}
}
