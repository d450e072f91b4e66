// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfeh

import (
	"fmt"

	"managedcore/addr"
	"managedcore/mem"
)

// RuleKind is the shape of a per-register unwind rule.
type RuleKind uint8

const (
	Undefined RuleKind = iota
	SameValue
	AtCFAOffset
	InRegister
)

// RegisterRule describes how to recover one callee-saved register's
// value in the caller's frame.
type RegisterRule struct {
	Kind   RuleKind
	Offset int64 // for AtCFAOffset: value is read from CFA+Offset
	Reg    int   // for InRegister: value is copied from this register
}

// CFADef is the current call-frame-address definition: CFA = value of
// register Register, plus Offset.
type CFADef struct {
	Register int
	Offset   int64
}

// State is the unwind state built up by interpreting CIE initial
// instructions followed by FDE instructions up to some target PC.
type State struct {
	CFA       CFADef
	Registers map[int]RegisterRule
}

func newState() *State {
	return &State{Registers: map[int]RegisterRule{}}
}

func (s *State) clone() *State {
	c := &State{CFA: s.CFA, Registers: make(map[int]RegisterRule, len(s.Registers))}
	for k, v := range s.Registers {
		c.Registers[k] = v
	}
	return c
}

// Unwind interprets fde.CIE's initial instructions, then fde's own
// instructions up to (and including) whatever instruction sequence
// applies at targetPC, and returns the resulting State. targetPC must
// lie in [fde.PCBegin, fde.PCEnd); Lookup guarantees this for any FDE
// it returns.
func Unwind(fde FDE, targetPC addr.Address) (*State, error) {
	state := newState()
	initial, err := run(fde.CIE.InitialInstructionsStart, fde.CIE.InitialInstructionsEnd, fde.CIE, fde.PCBegin, fde.PCBegin, state)
	if err != nil {
		return nil, err
	}
	return run(fde.InstructionsStart, fde.InstructionsEnd, fde.CIE, fde.PCBegin, targetPC, initial)
}

// run interprets the CFI instruction stream [start, end) against
// state, starting at location loc, and stops applying instructions
// once an advance_loc/set_loc would carry loc past target. The
// instruction stream is consumed in program order; advance_loc
// opcodes are the only ones that move loc, so everything executed
// before the one that would cross target applies unconditionally.
func run(start, end addr.Address, cie CIE, loc, target addr.Address, state *State) (*State, error) {
	initial := state.clone() // snapshot for DW_CFA_restore/_extended

	for p := start; p < end; {
		op := mem.ReadUint8(p)
		p = p.Add(1)

		switch {
		case op&0xc0 == 0x40: // DW_CFA_advance_loc
			delta := int64(op&0x3f) * cie.CodeAlignmentFactor
			if loc.Add(delta) > target {
				return state, nil
			}
			loc = loc.Add(delta)

		case op&0xc0 == 0x80: // DW_CFA_offset
			reg := int(op & 0x3f)
			var uoff uint64
			uoff, p = readULEB128(p)
			state.Registers[reg] = RegisterRule{Kind: AtCFAOffset, Offset: int64(uoff) * cie.DataAlignmentFactor}

		case op&0xc0 == 0xc0: // DW_CFA_restore
			reg := int(op & 0x3f)
			if rule, ok := initial.Registers[reg]; ok {
				state.Registers[reg] = rule
			} else {
				delete(state.Registers, reg)
			}

		default:
			var err error
			p, loc, err = runExtended(op, p, cie, loc, target, state, initial)
			if err != nil {
				return nil, err
			}
			if loc == addrStop {
				return state, nil
			}
		}
	}
	return state, nil
}

// addrStop is a sentinel runExtended returns as loc to signal "an
// advance carried past target, stop here" without an extra return
// value threading through every case.
const addrStop = addr.Address(^uintptr(0))

func runExtended(op uint8, p addr.Address, cie CIE, loc, target addr.Address, state, initial *State) (addr.Address, addr.Address, error) {
	switch op {
	case 0x00: // DW_CFA_nop

	case 0x01: // DW_CFA_set_loc (absolute, pointer-sized)
		newLoc := mem.ReadPtr(p)
		p = p.Add(8)
		if newLoc > target {
			return p, addrStop, nil
		}
		loc = newLoc

	case 0x02: // DW_CFA_advance_loc1
		d := int64(mem.ReadUint8(p)) * cie.CodeAlignmentFactor
		p = p.Add(1)
		if loc.Add(d) > target {
			return p, addrStop, nil
		}
		loc = loc.Add(d)

	case 0x03: // DW_CFA_advance_loc2
		d := int64(mem.ReadUint16(p)) * cie.CodeAlignmentFactor
		p = p.Add(2)
		if loc.Add(d) > target {
			return p, addrStop, nil
		}
		loc = loc.Add(d)

	case 0x04: // DW_CFA_advance_loc4
		d := int64(mem.ReadUint32(p)) * cie.CodeAlignmentFactor
		p = p.Add(4)
		if loc.Add(d) > target {
			return p, addrStop, nil
		}
		loc = loc.Add(d)

	case 0x05: // DW_CFA_offset_extended
		var reg, off uint64
		reg, p = readULEB128(p)
		off, p = readULEB128(p)
		state.Registers[int(reg)] = RegisterRule{Kind: AtCFAOffset, Offset: int64(off) * cie.DataAlignmentFactor}

	case 0x06: // DW_CFA_restore_extended
		var reg uint64
		reg, p = readULEB128(p)
		if rule, ok := initial.Registers[int(reg)]; ok {
			state.Registers[int(reg)] = rule
		} else {
			delete(state.Registers, int(reg))
		}

	case 0x07: // DW_CFA_undefined
		var reg uint64
		reg, p = readULEB128(p)
		state.Registers[int(reg)] = RegisterRule{Kind: Undefined}

	case 0x08: // DW_CFA_same_value
		var reg uint64
		reg, p = readULEB128(p)
		state.Registers[int(reg)] = RegisterRule{Kind: SameValue}

	case 0x09: // DW_CFA_register
		var reg, other uint64
		reg, p = readULEB128(p)
		other, p = readULEB128(p)
		state.Registers[int(reg)] = RegisterRule{Kind: InRegister, Reg: int(other)}

	case 0x0c: // DW_CFA_def_cfa
		var reg uint64
		var off uint64
		reg, p = readULEB128(p)
		off, p = readULEB128(p)
		state.CFA = CFADef{Register: int(reg), Offset: int64(off)}

	case 0x0d: // DW_CFA_def_cfa_register
		var reg uint64
		reg, p = readULEB128(p)
		state.CFA.Register = int(reg)

	case 0x0e: // DW_CFA_def_cfa_offset
		var off uint64
		off, p = readULEB128(p)
		state.CFA.Offset = int64(off)

	case 0x0f: // DW_CFA_def_cfa_expression (skipped: length-prefixed block)
		var n uint64
		n, p = readULEB128(p)
		p = p.Add(int64(n))

	case 0x10: // DW_CFA_expression (skipped: register + length-prefixed block)
		var reg uint64
		reg, p = readULEB128(p)
		_ = reg
		var n uint64
		n, p = readULEB128(p)
		p = p.Add(int64(n))

	case 0x11: // DW_CFA_offset_extended_sf
		var reg uint64
		reg, p = readULEB128(p)
		off, next := readSLEB128(p)
		p = next
		state.Registers[int(reg)] = RegisterRule{Kind: AtCFAOffset, Offset: off * cie.DataAlignmentFactor}

	case 0x12: // DW_CFA_def_cfa_sf
		var reg uint64
		reg, p = readULEB128(p)
		off, next := readSLEB128(p)
		p = next
		state.CFA = CFADef{Register: int(reg), Offset: off * cie.DataAlignmentFactor}

	case 0x13: // DW_CFA_def_cfa_offset_sf
		off, next := readSLEB128(p)
		p = next
		state.CFA.Offset = off * cie.DataAlignmentFactor

	case 0x16: // DW_CFA_val_expression (skipped: register + length-prefixed block)
		var reg uint64
		reg, p = readULEB128(p)
		_ = reg
		var n uint64
		n, p = readULEB128(p)
		p = p.Add(int64(n))

	default:
		return p, loc, fmt.Errorf("dwarfeh: unsupported CFA opcode %#x", op)
	}
	return p, loc, nil
}

// Apply resolves the concrete callee-saved register values in the
// caller's frame, given the current frame's register values (keyed by
// DWARF register number) and the value of the CFA-defining register.
// CFA = value(CFA.Register) + CFA.Offset; AtCFAOffset reads from
// CFA+Offset in memory; InRegister copies from another current
// register; SameValue keeps the current value; an Undefined register
// gets no entry in values and is set in undefined instead, meaning the
// caller's value for that register is junk.
func (s *State) Apply(current map[int]addr.Address, readMem func(addr.Address) addr.Address) (cfa addr.Address, values map[int]addr.Address, undefined map[int]bool) {
	cfaBase, ok := current[s.CFA.Register]
	if !ok {
		cfaBase = 0
	}
	cfa = cfaBase.Add(s.CFA.Offset)

	values = map[int]addr.Address{}
	undefined = map[int]bool{}
	for reg, rule := range s.Registers {
		switch rule.Kind {
		case AtCFAOffset:
			values[reg] = readMem(cfa.Add(rule.Offset))
		case InRegister:
			values[reg] = current[rule.Reg]
		case SameValue:
			values[reg] = current[reg]
		case Undefined:
			undefined[reg] = true
		}
	}
	return cfa, values, undefined
}
