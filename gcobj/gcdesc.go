// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gcobj

import "managedcore/mem"

// GC descriptor layout: a signed series-count word sits immediately
// before the method-table pointer; the series records (or value-series
// items) continue downward in address from there, closest-to-farthest.
//
//	... [series N-1] ... [series 1] [series 0] [series count] [method table ptr] ...
//
// SeriesCount reads that count word. A positive count describes N
// reference series (ordinary objects and reference-element arrays); a
// negative count describes |N| value-series items applied per array
// element (value-type arrays with embedded references).
func (mt MethodTable) SeriesCount() int64 {
	return mem.ReadInt64(mt.addr().Add(-WordSize))
}

// HasGCDesc reports whether the type has any embedded references at
// all: a type with no references has no descriptor and
// contains-gc-pointers is false. Callers must check this before ever
// reading the trailing descriptor: no enumeration over a type with
// contains-gc-pointers false may touch it.
func (mt MethodTable) HasGCDesc() bool {
	return mt.Has(ContainsGCPointers)
}

// Series is one reference series: pointer-sized slots in
// [objectStart+StartOffset, objectStart+StartOffset+length) are
// references, where length = SizeDelta + objectSize (objectSize is the
// total size of the instance this series is being applied to: for a
// fixed-size object this is just BaseSize, for an array it grows with
// element count).
type Series struct {
	SizeDelta   int64
	StartOffset int64
}

// Series returns the i'th reference series (0-indexed, i in
// [0,SeriesCount())). SeriesCount must be positive.
func (mt MethodTable) Series(i int64) Series {
	rec := mt.addr().Add(-WordSize - (i+1)*2*WordSize)
	return Series{
		SizeDelta:   mem.ReadInt64(rec),
		StartOffset: mem.ReadInt64(rec.Add(WordSize)),
	}
}

// Length computes the byte length of series s when applied against an
// instance of the given total object size.
func (s Series) Length(objectSize int64) int64 {
	return s.SizeDelta + objectSize
}

// ValueSeriesItem is one pointer-series item within a value-type
// array's per-element descriptor: NumPointers consecutive pointer
// slots, followed by Skip bytes of non-pointer data, repeated for each
// array element.
type ValueSeriesItem struct {
	NumPointers uint32
	Skip        uint32
}

// ValueSeriesItem returns the i'th item (0-indexed, i in
// [0,-SeriesCount())). SeriesCount must be negative.
func (mt MethodTable) ValueSeriesItem(i int64) ValueSeriesItem {
	rec := mt.addr().Add(-WordSize - (i+1)*WordSize)
	return ValueSeriesItem{
		NumPointers: mem.ReadUint32(rec),
		Skip:        mem.ReadUint32(rec.Add(4)),
	}
}
