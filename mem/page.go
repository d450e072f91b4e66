// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mem

import (
	"fmt"

	"managedcore/addr"
)

// PageSize is the fixed page granularity of the managed region.
const PageSize = addr.PageSize

// Kind classifies a single page in the Region Allocation Table.
type Kind uint8

const (
	// Empty pages are available for allocation.
	Empty Kind = iota
	// HeapSmall pages belong to the small-object size-class heap.
	HeapSmall
	// HeapMedium pages each hold a single medium object.
	HeapMedium
	// HeapLarge pages are the first page of a (possibly multi-page)
	// large-object run.
	HeapLarge
	// Unmanaged pages hold runtime bookkeeping that is never swept
	// (the handle table, frozen-segment metadata).
	Unmanaged
	// PageAllocatorMetadata pages hold the RAT itself.
	PageAllocatorMetadata
	// SMT pages hold small-heap size-map-table bookkeeping.
	SMT
	// Extension marks a page that continues the run started by the
	// nearest preceding non-Extension page.
	Extension
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "Empty"
	case HeapSmall:
		return "HeapSmall"
	case HeapMedium:
		return "HeapMedium"
	case HeapLarge:
		return "HeapLarge"
	case Unmanaged:
		return "Unmanaged"
	case PageAllocatorMetadata:
		return "PageAllocatorMetadata"
	case SMT:
		return "SMT"
	case Extension:
		return "Extension"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// A Region describes the usable, page-aligned span of physical memory
// the allocator manages: a [Min,Max) span the allocator owns and
// mutates, rather than one read passively from a core-dumped inferior.
type Region struct {
	Min, Max addr.Address
}

func (r Region) size() int64 { return r.Max.Sub(r.Min) }

// PageAllocator hands out page runs classified by Kind and tracks
// free/used pages via the RAT, a one-byte-per-page classification
// array placed at the base of the managed region.
//
// PageAllocator is not safe for concurrent use; callers serialize
// access to it the same way the collector serializes mark/sweep: by
// disabling interrupts on the initiating CPU.
type PageAllocator struct {
	region    Region
	heapBase  addr.Address // first page available for allocation (after the RAT)
	numPages  int64        // total pages in [heapBase, region.Max)
	freePages int64

	rat []byte // one entry per page in [heapBase, region.Max), indexed from 0
}

// Init takes [base, base+size) as the allocator's managed region (it
// does not itself choose among firmware-reported areas), reserves the
// leading bytes for the RAT, and marks the rest Empty.
//
// base and size are assumed already page-aligned; a bootloader that
// hands over a misaligned region is a fatal initialization error, so
// Init panics rather than returning an error.
func Init(base addr.Address, size int64) *PageAllocator {
	if !base.Align(PageSize) || size%PageSize != 0 {
		panic(fmt.Sprintf("mem: region [%s,+%#x) is not page-aligned", base, size))
	}
	totalPages := size / PageSize
	ratBytes := totalPages // one byte per page, worst case (before accounting for the RAT's own pages)
	ratPages := addr.PagesFor(ratBytes)
	if ratPages >= totalPages {
		panic("mem: region too small to hold its own RAT")
	}

	pa := &PageAllocator{
		region:   Region{Min: base, Max: base.Add(size)},
		heapBase: base.Add(ratPages * PageSize),
	}
	pa.numPages = totalPages - ratPages
	pa.rat = Bytes(base, pa.numPages)
	for i := range pa.rat {
		pa.rat[i] = byte(Empty)
	}
	// The RAT's own pages are metadata, not part of the indexed range;
	// PageKind reports them as Unmanaged, like any address outside
	// pa.rat.
	pa.freePages = pa.numPages
	return pa
}

// FreePages returns the number of currently unallocated pages.
func (pa *PageAllocator) FreePages() int64 { return pa.freePages }

// TotalPages returns the number of pages managed (excluding the RAT's
// own backing pages).
func (pa *PageAllocator) TotalPages() int64 { return pa.numPages }

// HeapBase returns the address of the first page available for
// allocation.
func (pa *PageAllocator) HeapBase() addr.Address { return pa.heapBase }

func (pa *PageAllocator) indexOf(a addr.Address) int64 {
	return a.Sub(pa.heapBase) / PageSize
}

func (pa *PageAllocator) addrOf(i int64) addr.Address {
	return pa.heapBase.Add(i * PageSize)
}

// AllocPages allocates count contiguous pages and marks the first
// page kind and the remaining count-1 pages Extension. It returns the
// address of the first page, or 0 if no run of that size is available.
//
// count==1 allocations scan forward from the bottom of the region;
// count>1 allocations scan backward from the top. This biases small,
// frequent allocations to the bottom and large, rare ones to the top,
// limiting fragmentation.
func (pa *PageAllocator) AllocPages(kind Kind, count int64, zero bool) addr.Address {
	if count <= 0 {
		panic("mem: AllocPages count must be positive")
	}
	var start int64 = -1
	if count == 1 {
		for i := int64(0); i < pa.numPages; i++ {
			if Kind(pa.rat[i]) == Empty {
				start = i
				break
			}
		}
	} else {
		run := int64(0)
		for i := pa.numPages - 1; i >= 0; i-- {
			if Kind(pa.rat[i]) == Empty {
				run++
				if run == count {
					start = i
					break
				}
			} else {
				run = 0
			}
		}
	}
	if start < 0 {
		return 0
	}

	pa.rat[start] = byte(kind)
	for i := int64(1); i < count; i++ {
		pa.rat[start+i] = byte(Extension)
	}
	pa.freePages -= count

	base := pa.addrOf(start)
	if zero {
		Memset(base, 0, count*PageSize)
	}
	return base
}

// Free returns the page run starting at the page containing ptr to
// Empty. ptr must be the address returned by a prior AllocPages call
// (the start of a run); freeing an interior Extension page is a
// structural fault.
func (pa *PageAllocator) Free(ptr addr.Address) {
	i := pa.indexOf(ptr)
	if i < 0 || i >= pa.numPages {
		panic("mem: RAT is rotten: free of an out-of-range page")
	}
	if Kind(pa.rat[i]) == Extension || Kind(pa.rat[i]) == Empty {
		panic("mem: RAT is rotten: free of a non-run-start page")
	}
	pa.rat[i] = byte(Empty)
	pa.freePages++
	for j := i + 1; j < pa.numPages && Kind(pa.rat[j]) == Extension; j++ {
		pa.rat[j] = byte(Empty)
		pa.freePages++
	}
}

// PageKind returns the classification of the run owning ptr, found by
// stepping backward from ptr's page until a non-Extension entry is
// found.
func (pa *PageAllocator) PageKind(ptr addr.Address) Kind {
	i := pa.indexOf(ptr)
	if i < 0 || i >= pa.numPages {
		return Unmanaged
	}
	for Kind(pa.rat[i]) == Extension {
		i--
		if i < 0 {
			panic("mem: RAT is rotten: Extension run has no owner")
		}
	}
	return Kind(pa.rat[i])
}

// RunStart returns the address of the first page of the run owning
// ptr (the page whose Kind is not Extension).
func (pa *PageAllocator) RunStart(ptr addr.Address) addr.Address {
	i := pa.indexOf(ptr)
	for Kind(pa.rat[i]) == Extension {
		i--
	}
	return pa.addrOf(i)
}

// ForEachPage calls fn once for every non-Extension page run, passing
// its start address, kind, and length in pages. Used by the collector
// to sweep the Medium and Large size classes, which have no
// size-class-local bookkeeping of their own.
func (pa *PageAllocator) ForEachPage(fn func(start addr.Address, kind Kind, pages int64)) {
	i := int64(0)
	for i < pa.numPages {
		k := Kind(pa.rat[i])
		if k == Empty {
			i++
			continue
		}
		n := int64(1)
		for i+n < pa.numPages && Kind(pa.rat[i+n]) == Extension {
			n++
		}
		fn(pa.addrOf(i), k, n)
		i += n
	}
}
