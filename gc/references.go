// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"managedcore/gcobj"
	"managedcore/mem"
)

// forEachReference calls fn once for every pointer-sized slot the GC
// descriptor for mt marks as a reference within an instance of obj,
// skipping the call entirely for a type with no embedded references.
//
// A positive series count describes N reference series applied once
// against the whole instance (ordinary objects, and reference-element
// arrays via a single series whose length scales with element count).
// A negative series count describes |N| value-series items applied
// per element of a value-type array; elements begin right after the
// fixed header (BaseSize bytes in) and are ComponentSize apart; the
// spec's "object + base_size − length·component_size + index·component_size"
// collapses to exactly that once base_size is read as the per-instance
// total (BaseSize field plus the trailing element storage), since the
// length·component_size term cancels.
func forEachReference(obj gcobj.Address, mt gcobj.MethodTable, fn func(ref gcobj.Address)) {
	if !mt.HasGCDesc() {
		return
	}
	n := mt.SeriesCount()
	switch {
	case n > 0:
		size := gcobj.Object(obj).Size(mt)
		for i := int64(0); i < n; i++ {
			s := mt.Series(i)
			length := s.Length(size)
			start := obj.Add(s.StartOffset)
			for off := int64(0); off < length; off += gcobj.WordSize {
				fn(mem.ReadPtr(start.Add(off)))
			}
		}
	case n < 0:
		count := int64(gcobj.Object(obj).ElementCount())
		compSize := mt.ComponentSize()
		items := -n
		for index := int64(0); index < count; index++ {
			p := obj.Add(mt.BaseSize() + index*compSize)
			for i := int64(0); i < items; i++ {
				item := mt.ValueSeriesItem(i)
				for k := uint32(0); k < item.NumPointers; k++ {
					fn(mem.ReadPtr(p.Add(int64(k) * gcobj.WordSize)))
				}
				p = p.Add(int64(item.NumPointers)*gcobj.WordSize + int64(item.Skip))
			}
		}
	}
}
