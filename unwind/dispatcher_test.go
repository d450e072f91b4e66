// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"strings"
	"testing"
	"unsafe"

	"managedcore/addr"
	"managedcore/archreg"
	"managedcore/diag"
	"managedcore/dwarfeh"
	"managedcore/lsda"
	"managedcore/mem"
)

// section is a fixed-size byte buffer addressed like live memory, the
// same pattern dwarfeh_test.go and lsda/parse_test.go use. Everything
// a test builds (CIE, FDEs, and any LSDA blocks they point at) lives
// in one section, so the CIE pointers and LSDA pointers stay within
// the section; the pc_begin deltas point outside it and are kept small
// enough to fit sdata4.
type section struct {
	buf  []byte
	base addr.Address
}

func newSection(size int) *section {
	buf := make([]byte, size)
	return &section{buf: buf, base: addr.Address(uintptr(unsafe.Pointer(&buf[0])))}
}

func (s *section) addr(off int) addr.Address { return s.base.Add(int64(off)) }
func (s *section) putUint8(off int, v uint8)  { mem.WriteUint8(s.addr(off), v) }
func (s *section) putUint32(off int, v uint32) {
	mem.WriteUint32(s.addr(off), v)
}
func (s *section) putPtr(off int, v addr.Address) { mem.WritePtr(s.addr(off), v) }

func (s *section) putULEB128(off int, v uint64) int {
	n := off
	for {
		c := uint8(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		s.putUint8(n, c)
		n++
		if v == 0 {
			return n
		}
	}
}

func (s *section) putSLEB128(off int, v int64) int {
	n := off
	for {
		c := uint8(v & 0x7f)
		v >>= 7
		signBitSet := c&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			s.putUint8(n, c)
			return n + 1
		}
		s.putUint8(n, c|0x80)
		n++
	}
}

func (s *section) writeCIE(off int, codeAlign uint64, dataAlign int64, retReg uint64) int {
	bodyStart := off + 4
	p := bodyStart
	s.putUint32(p, 0) // CIE pointer == 0
	p += 4
	s.putUint8(p, 1) // version
	p++
	s.putUint8(p, 0) // empty augmentation string
	p++
	p = s.putULEB128(p, codeAlign)
	p = s.putSLEB128(p, dataAlign)
	p = s.putULEB128(p, retReg)
	length := uint32(p - bodyStart)
	s.putUint32(off, length)
	return p
}

// writeFDE writes an FDE built against the CIE at cieOff, covering
// [pcBegin, pcBegin+pcRange) where pcBegin sits pcBeginDelta bytes
// past the pc_begin field's own address. Keeping the delta small (as
// real eh_frame always does, since code and its unwind info live in
// the same image) keeps the sdata4 round trip exact. If lsdaAddr is
// nonzero an augmentation block carrying it is emitted.
func (s *section) writeFDE(off, cieOff int, pcBeginDelta int64, pcRange uint32, lsdaAddr addr.Address) (next int, pcBegin addr.Address) {
	bodyStart := off + 4
	p := bodyStart
	ciePointer := uint32(p - cieOff)
	s.putUint32(p, ciePointer)
	p += 4
	pcBeginField := s.addr(p)
	pcBegin = pcBeginField.Add(pcBeginDelta)
	s.putUint32(p, uint32(pcBeginDelta))
	p += 4
	s.putUint32(p, pcRange)
	p += 4
	if lsdaAddr != 0 {
		p = s.putULEB128(p, 4)
		lsdaField := s.addr(p)
		s.putUint32(p, uint32(lsdaAddr.Sub(lsdaField)))
		p += 4
	} else {
		p = s.putULEB128(p, 0)
	}
	length := uint32(p - bodyStart)
	s.putUint32(off, length)
	return p, pcBegin
}

// testClause is one clause of a test-built LSDA block. filter is
// read only for Filter clauses.
type testClause struct {
	kind             lsda.ClauseKind
	tryStart, tryEnd int64
	handler, filter  int64
}

// writeLSDA writes a minimal LSDA block at off carrying clauses in
// order and returns the block's own address.
func (s *section) writeLSDA(off int, clauses []testClause) addr.Address {
	s.putUint8(off, 1<<2) // flagHasEHInfo, root, no associated data
	ehInfoFieldOff := off + 1
	ehInfoOff := off + 16
	s.putUint32(ehInfoFieldOff, uint32(int32(ehInfoOff-ehInfoFieldOff)))

	p := ehInfoOff
	p = s.putULEB128(p, uint64(len(clauses)))
	for _, c := range clauses {
		p = s.putULEB128(p, uint64(c.tryStart))
		p = s.putULEB128(p, uint64((c.tryEnd-c.tryStart)<<2)|uint64(c.kind))
		p = s.putULEB128(p, uint64(c.handler))
		switch c.kind {
		case lsda.Typed:
			typeRVAFieldOff := p
			s.putUint32(typeRVAFieldOff, 0) // type RVA: resolves to its own field, unused by DefaultTypeMatcher
			p += 4
		case lsda.Filter:
			p = s.putULEB128(p, uint64(c.filter))
		}
	}
	return s.addr(off)
}

func TestDiscoverUnwindsAcrossTwoFrames(t *testing.T) {
	const codeAlign = 1
	const dataAlign = -8
	const retReg = 16

	eh := newSection(4096)
	cieOff := 0
	afterCIE := eh.writeCIE(cieOff, codeAlign, dataAlign, retReg)

	innerFDEOff := afterCIE
	afterInner, innerPCBegin := eh.writeFDE(innerFDEOff, cieOff, 0x100000, 0x100, 0)

	// The LSDA block lives past the end of the record stream handed to
	// Build, the way a real image keeps exception tables in a section
	// of their own; the FDE's relative LSDA pointer still reaches it.
	const handlerOffset = 0x80
	const tryStart = 0x10
	const tryEnd = 0x40
	lsdaBlock := eh.writeLSDA(2048, []testClause{{kind: lsda.Typed, tryStart: tryStart, tryEnd: tryEnd, handler: handlerOffset}})

	// A much larger pc_begin delta keeps outer's code range well clear
	// of inner's, the same way two real functions never overlap.
	outerFDEOff := afterInner
	afterOuter, outerPCBegin := eh.writeFDE(outerFDEOff, cieOff, 0x500000, 0x100, lsdaBlock)

	idx, err := dwarfeh.Build(eh.addr(0), eh.addr(afterOuter))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Stack: inner's frame pointer chain lands on a return address
	// inside outer's try range.
	stack := newSection(256)
	fpInner := stack.addr(0)
	retAddr := outerPCBegin.Add(tryStart + 4)
	stack.putPtr(0, 0)       // saved FP: chain terminates
	stack.putPtr(8, retAddr) // return address into outer's try range

	d := New(idx, archreg.AMD64)
	var recordedException, recordedHandler addr.Address
	var recordedDisplay *archreg.Display
	d.Catch = func(exception, handlerAddress addr.Address, display *archreg.Display, exInfo *ExInfo) {
		recordedException = exception
		recordedHandler = handlerAddress
		recordedDisplay = display
	}

	ex := ExInfo{
		Exception: addr.Address(0xcafe),
		IP:        innerPCBegin.Add(4),
		FP:        fpInner,
	}

	match, err := d.Discover(ex)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if match.FrameIndex != 1 {
		t.Fatalf("FrameIndex = %d, want 1", match.FrameIndex)
	}
	if match.Clause.Kind != lsda.Typed {
		t.Fatalf("Clause.Kind = %v, want Typed", match.Clause.Kind)
	}
	wantHandler := outerPCBegin.Add(handlerOffset)
	if got := match.Table.HandlerAddress(match.Clause); got != wantHandler {
		t.Fatalf("HandlerAddress = %s, want %s", got, wantHandler)
	}

	if err := d.Invoke(ex, match); err != ErrCatchFuncletReturned {
		t.Fatalf("Invoke error = %v, want ErrCatchFuncletReturned", err)
	}
	if recordedException != ex.Exception {
		t.Fatalf("recorded exception = %s, want %s", recordedException, ex.Exception)
	}
	if recordedHandler != wantHandler {
		t.Fatalf("recorded handler = %s, want %s", recordedHandler, wantHandler)
	}
	if recordedDisplay == nil {
		t.Fatalf("recorded display is nil")
	}
}

func TestDiscoverNoHandlerReleasesReentryGuard(t *testing.T) {
	eh := newSection(256)
	afterCIE := eh.writeCIE(0, 1, -8, 16)
	afterFDE, pcBegin := eh.writeFDE(afterCIE, 0, 16, 0x10, 0)

	idx, err := dwarfeh.Build(eh.addr(0), eh.addr(afterFDE))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	d := New(idx, archreg.AMD64)
	ex := ExInfo{Exception: addr.Address(0xcafe), IP: pcBegin.Add(4), FP: 0}

	if _, err := d.Discover(ex); err != ErrNoHandlerFound {
		t.Fatalf("Discover error = %v, want ErrNoHandlerFound", err)
	}
	if d.dispatching {
		t.Fatalf("dispatching guard left set after a failed Discover")
	}

	// A second Discover must be able to proceed; it fails for the same
	// reason, not because of a stale re-entry guard.
	if _, err := d.Discover(ex); err != ErrNoHandlerFound {
		t.Fatalf("second Discover error = %v, want ErrNoHandlerFound", err)
	}
}

func TestDiscoverRejectsReentry(t *testing.T) {
	eh := newSection(4096)
	cieOff := 0
	afterCIE := eh.writeCIE(cieOff, 1, -8, 16)

	const handlerOffset = 0x80
	lsdaBlock := eh.writeLSDA(2048, []testClause{{kind: lsda.Typed, tryStart: 0, tryEnd: 0x1f0, handler: handlerOffset}})
	afterFDE, pcBegin := eh.writeFDE(afterCIE, cieOff, 16, 0x200, lsdaBlock)

	idx, err := dwarfeh.Build(eh.addr(0), eh.addr(afterFDE))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	d := New(idx, archreg.AMD64)
	ex := ExInfo{Exception: addr.Address(0xcafe), IP: pcBegin.Add(4), FP: 0}

	if _, err := d.Discover(ex); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if _, err := d.Discover(ex); err != ErrReentry {
		t.Fatalf("Discover error = %v, want ErrReentry", err)
	}
	d.Reset()
	if _, err := d.Discover(ex); err != nil {
		t.Fatalf("Discover after Reset: %v", err)
	}
}

func TestDiscoverFilterClauseContinuesOnZero(t *testing.T) {
	eh := newSection(4096)
	cieOff := 0
	afterCIE := eh.writeCIE(cieOff, 1, -8, 16)

	const handlerOffset = 0x80
	const filterOffset = 0x90
	lsdaBlock := eh.writeLSDA(2048, []testClause{{kind: lsda.Filter, tryStart: 0, tryEnd: 0x1f0, handler: handlerOffset, filter: filterOffset}})
	afterFDE, pcBegin := eh.writeFDE(afterCIE, cieOff, 16, 0x200, lsdaBlock)

	idx, err := dwarfeh.Build(eh.addr(0), eh.addr(afterFDE))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	d := New(idx, archreg.AMD64)
	var filterCalls int
	d.Filter = func(exception, filterAddress addr.Address, display *archreg.Display) int64 {
		filterCalls++
		return 0 // never matches
	}

	ex := ExInfo{Exception: addr.Address(0xcafe), IP: pcBegin.Add(4), FP: 0}
	if _, err := d.Discover(ex); err != ErrNoHandlerFound {
		t.Fatalf("Discover error = %v, want ErrNoHandlerFound", err)
	}
	if filterCalls != 1 {
		t.Fatalf("filter funclet called %d times, want 1", filterCalls)
	}
}

// TestDiscoverFaultClauseIsSkipped: Fault clauses run during a future
// dedicated unwind pass, never as a discovery match. A Fault clause
// covering the throw offset must be passed over in favor of a later
// Typed clause in the same frame.
func TestDiscoverFaultClauseIsSkipped(t *testing.T) {
	eh := newSection(4096)
	cieOff := 0
	afterCIE := eh.writeCIE(cieOff, 1, -8, 16)

	const faultHandler = 0x60
	const typedHandler = 0x80
	lsdaBlock := eh.writeLSDA(2048, []testClause{
		{kind: lsda.Fault, tryStart: 0, tryEnd: 0x1f0, handler: faultHandler},
		{kind: lsda.Typed, tryStart: 0, tryEnd: 0x1f0, handler: typedHandler},
	})
	afterFDE, pcBegin := eh.writeFDE(afterCIE, cieOff, 16, 0x200, lsdaBlock)

	idx, err := dwarfeh.Build(eh.addr(0), eh.addr(afterFDE))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	d := New(idx, archreg.AMD64)
	ex := ExInfo{Exception: addr.Address(0xcafe), IP: pcBegin.Add(4), FP: 0}
	match, err := d.Discover(ex)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if match.Clause.Kind != lsda.Typed {
		t.Fatalf("Clause.Kind = %v, want Typed (Fault must not match)", match.Clause.Kind)
	}
	if match.Clause.HandlerOffset != typedHandler {
		t.Fatalf("HandlerOffset = %#x, want %#x", match.Clause.HandlerOffset, typedHandler)
	}
}

// TestDiscoverFaultOnlyFindsNoHandler: a frame whose only covering
// clause is a Fault contributes no handler at all, so the search
// falls through to the end of the chain.
func TestDiscoverFaultOnlyFindsNoHandler(t *testing.T) {
	eh := newSection(4096)
	cieOff := 0
	afterCIE := eh.writeCIE(cieOff, 1, -8, 16)

	lsdaBlock := eh.writeLSDA(2048, []testClause{
		{kind: lsda.Fault, tryStart: 0, tryEnd: 0x1f0, handler: 0x60},
	})
	afterFDE, pcBegin := eh.writeFDE(afterCIE, cieOff, 16, 0x200, lsdaBlock)

	idx, err := dwarfeh.Build(eh.addr(0), eh.addr(afterFDE))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	d := New(idx, archreg.AMD64)
	ex := ExInfo{Exception: addr.Address(0xcafe), IP: pcBegin.Add(4), FP: 0}
	if _, err := d.Discover(ex); err != ErrNoHandlerFound {
		t.Fatalf("Discover error = %v, want ErrNoHandlerFound", err)
	}
}

type traceSink struct {
	b strings.Builder
}

func (s *traceSink) WriteString(str string) { s.b.WriteString(str) }

// TestDispatchUnhandledPrintsAndHalts drives the single-call entry the
// architecture stub uses, with no handler anywhere: Dispatch must
// print the unhandled banner plus the exception address and halt.
func TestDispatchUnhandledPrintsAndHalts(t *testing.T) {
	eh := newSection(256)
	afterCIE := eh.writeCIE(0, 1, -8, 16)
	afterFDE, pcBegin := eh.writeFDE(afterCIE, 0, 16, 0x10, 0)

	idx, err := dwarfeh.Build(eh.addr(0), eh.addr(afterFDE))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sink := &traceSink{}
	diag.SetSink(sink)
	defer diag.SetSink(nil)
	oldHalt := diag.Halt
	defer func() { diag.Halt = oldHalt }()
	halted := false
	diag.Halt = func() { halted = true }

	d := New(idx, archreg.AMD64)
	d.Dispatch(ExInfo{Exception: addr.Address(0xcafe), IP: pcBegin.Add(4), FP: 0})

	if !halted {
		t.Fatal("Dispatch of an unhandled exception did not halt")
	}
	out := sink.b.String()
	if !strings.Contains(out, "unhandled exception") || !strings.Contains(out, "0xcafe") {
		t.Fatalf("banner output = %q", out)
	}
}
