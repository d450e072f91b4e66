// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"errors"

	"managedcore/addr"
	"managedcore/archreg"
	"managedcore/diag"
	"managedcore/dwarfeh"
	"managedcore/lsda"
	"managedcore/mem"
)

// MaxStackFrames bounds discovery: a chain that doesn't terminate by
// frame-pointer-zero or a sub-threshold return address within this
// many frames is treated as corrupt, and discovery stops rather than
// looping forever.
const MaxStackFrames = 64

var (
	ErrReentry              = errors.New("unwind: nested exception during dispatch")
	ErrNullException        = errors.New("unwind: null exception pointer")
	ErrNoHandlerFound       = errors.New("unwind: no handler found")
	ErrCatchFuncletReturned = errors.New("unwind: call_catch_funclet returned")
)

// DefaultTypeMatcher accepts any Typed clause covering the throw
// range without inspecting the exception's actual type.
func DefaultTypeMatcher(exception, typeAddress addr.Address) bool { return true }

// Match is what Discover returns on success: the frame and clause
// that matched, plus the unwound state needed to invoke it.
type Match struct {
	FrameIndex int
	FDE        dwarfeh.FDE
	Clause     lsda.Clause
	Table      *lsda.Table
	CFA        addr.Address
	Display    *archreg.Display
}

// Dispatcher owns one architecture's eh_frame index and the
// architecture-specific funclet helpers. It is re-entry-guarded by a
// single flag: a second Discover call while one is still outstanding
// is fatal, matching a nested throw during dispatch. Discover clears
// the flag itself when it finds no handler; after a Discover that does
// find one the flag stays set: a caller that successfully invokes a
// handler and wants to dispatch again later calls Reset once the
// handler has truly left dispatch (in production this happens via the
// architecture-specific unwind epilogue; there is no such epilogue
// here to call it for us).
type Dispatcher struct {
	Index *dwarfeh.Index
	Arch  *archreg.Architecture

	TypeMatcher TypeMatcher
	Filter      FilterFunclet
	Catch       CatchFunclet
	Format      FrameFormatter

	// SanityThreshold is the lowest return address discovery accepts
	// as real; anything below it ends the walk instead of chasing a
	// corrupt frame pointer off into low memory.
	SanityThreshold addr.Address

	dispatching bool
	StackTrace  string
}

// New builds a Dispatcher over index for arch, with the default
// (preserve-current-behavior) type matcher.
func New(index *dwarfeh.Index, arch *archreg.Architecture) *Dispatcher {
	return &Dispatcher{
		Index:       index,
		Arch:        arch,
		TypeMatcher: DefaultTypeMatcher,
	}
}

// Reset clears the re-entrancy guard.
func (d *Dispatcher) Reset() { d.dispatching = false }

// Discover walks frames starting from ex, looking for a Typed clause
// (accepted per TypeMatcher) or a Filter clause whose funclet
// reports a match. Fault clauses are never matched during discovery;
// they are parsed and skipped, since running them requires a second
// unwind pass this dispatcher does not implement.
func (d *Dispatcher) Discover(ex ExInfo) (match *Match, err error) {
	if d.dispatching {
		return nil, ErrReentry
	}
	if ex.Exception == 0 {
		return nil, ErrNullException
	}
	d.dispatching = true
	defer func() {
		// The guard stays set only across a successful Discover into
		// its matching Invoke; a search that finds nothing pending
		// release it, since there is no handler frame left to re-enter.
		if match == nil {
			d.dispatching = false
		}
	}()

	loc := ex.IP
	fp := ex.FP

	registers := make(map[int]addr.Address, len(ex.Registers)+2)
	for k, v := range ex.Registers {
		registers[k] = v
	}
	registers[d.Arch.StackPointerRegister] = ex.SP
	registers[d.Arch.FramePointerRegister] = fp

	for frameIndex := 0; frameIndex < MaxStackFrames; frameIndex++ {
		fde, ok := d.Index.Lookup(loc)
		if !ok {
			break
		}

		state, err := dwarfeh.Unwind(fde, loc)
		if err != nil {
			return nil, err
		}
		cfa, values, _ := state.Apply(registers, mem.ReadPtr)

		display := archreg.NewDisplay(d.Arch, cfa, fp)
		for _, r := range d.Arch.CalleeSaved {
			if v, ok := values[r]; ok {
				display.Set(r, v)
			}
		}

		if d.Format != nil {
			d.StackTrace += d.Format(fde.PCBegin)
		}

		if fde.HasLSDA {
			table, err := lsda.Parse(fde.LSDA, fde.PCBegin)
			if err != nil {
				return nil, err
			}
			codeOffset := loc.Sub(fde.PCBegin)
			for _, c := range table.Clauses {
				if !c.Contains(codeOffset) {
					continue
				}
				switch c.Kind {
				case lsda.Typed:
					if d.TypeMatcher(ex.Exception, c.TypeAddress) {
						return &Match{FrameIndex: frameIndex, FDE: fde, Clause: c, Table: table, CFA: cfa, Display: display}, nil
					}
				case lsda.Filter:
					if d.Filter == nil {
						continue
					}
					if d.Filter(ex.Exception, table.FilterAddress(c), display) != 0 {
						return &Match{FrameIndex: frameIndex, FDE: fde, Clause: c, Table: table, CFA: cfa, Display: display}, nil
					}
				case lsda.Fault:
					continue
				}
			}
		}

		if fp == 0 {
			break
		}
		savedFP := mem.ReadPtr(fp)
		retAddr := mem.ReadPtr(fp.Add(int64(d.Arch.PointerSize)))
		if retAddr < d.SanityThreshold {
			break
		}

		loc = retAddr
		fp = savedFP
		// A register no rule mentions keeps its value across the
		// call, so merge rather than replace.
		for r, v := range values {
			registers[r] = v
		}
		registers[d.Arch.StackPointerRegister] = cfa
		registers[d.Arch.FramePointerRegister] = fp
	}

	return nil, ErrNoHandlerFound
}

// Invoke builds the handler frame's register display from m and calls
// the catch-funclet helper. If Catch ever returns, that is fatal,
// reported here as ErrCatchFuncletReturned.
func (d *Dispatcher) Invoke(ex ExInfo, m *Match) error {
	if d.Catch == nil {
		return errors.New("unwind: no catch funclet helper configured")
	}
	handlerAddr := m.Table.HandlerAddress(m.Clause)

	display := archreg.NewDisplay(d.Arch, m.CFA, m.Display.FP)
	for _, r := range d.Arch.CalleeSaved {
		if v, ok := m.Display.Get(r); ok {
			display.Set(r, v)
		}
	}

	d.Catch(ex.Exception, handlerAddr, display, &ex)
	return ErrCatchFuncletReturned
}

// Dispatch is the single entry point the architecture-specific throw
// stub calls once it has captured ex. It runs discovery then invoke;
// every failure mode ends in the fatal path: banner, message, and
// whatever stack trace discovery accumulated, then a halt. In
// production Invoke does not return, so neither does Dispatch.
func (d *Dispatcher) Dispatch(ex ExInfo) {
	match, err := d.Discover(ex)
	if err != nil {
		diag.Printf("\n*** unhandled exception ***\n")
		diag.Printf("exception %#x at ip %#x: %v\n", uintptr(ex.Exception), uintptr(ex.IP), err)
		if d.StackTrace != "" {
			diag.Printf("%s", d.StackTrace)
		}
		diag.Halt()
		return
	}
	err = d.Invoke(ex, match)
	diag.Fatalf("unwind: catch funclet handoff failed: %v\n", err)
}
