// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsda

import (
	"fmt"

	"managedcore/addr"
	"managedcore/mem"
)

// Unwind-block flag bits.
const (
	flagFunclet           = 1 << 0 // function-kind: 0 = root method, 1 = funclet
	flagHasAssociatedData = 1 << 1
	flagHasEHInfo         = 1 << 2
)

// Parse reads the unwind block at block, belonging to the method
// starting at methodStart, and returns its clause table. A method
// with no EH-info flag set has no clauses and is not an error.
func Parse(block, methodStart addr.Address) (*Table, error) {
	flags := mem.ReadUint8(block)
	p := block.Add(1)

	if flags&flagFunclet != 0 {
		// main-LSDA offset, method-start offset: skipped, per the
		// unwind-block format for funclets.
		p = p.Add(8)
	}
	if flags&flagHasAssociatedData != 0 {
		p = p.Add(4)
	}
	if flags&flagHasEHInfo == 0 {
		return &Table{MethodStart: methodStart}, nil
	}

	ehInfoField := p
	rel := int32(mem.ReadUint32(ehInfoField))
	ehInfo := ehInfoField.Add(int64(rel))

	count, cursor := readULEB128(ehInfo)
	t := &Table{MethodStart: methodStart, Clauses: make([]Clause, 0, count)}

	for i := uint64(0); i < count; i++ {
		var tryStart, packed uint64
		tryStart, cursor = readULEB128(cursor)
		packed, cursor = readULEB128(cursor)

		c := Clause{
			TryStart: int64(tryStart),
			TryEnd:   int64(tryStart) + int64(packed>>2),
			Kind:     ClauseKind(packed & 0x3),
		}

		switch c.Kind {
		case Typed:
			var handlerOff uint64
			handlerOff, cursor = readULEB128(cursor)
			c.HandlerOffset = int64(handlerOff)
			rvaField := cursor
			rva := int32(mem.ReadUint32(rvaField))
			c.TypeAddress = rvaField.Add(int64(rva))
			cursor = cursor.Add(4)

		case Fault:
			var handlerOff uint64
			handlerOff, cursor = readULEB128(cursor)
			c.HandlerOffset = int64(handlerOff)

		case Filter:
			var handlerOff, filterOff uint64
			handlerOff, cursor = readULEB128(cursor)
			filterOff, cursor = readULEB128(cursor)
			c.HandlerOffset = int64(handlerOff)
			c.FilterOffset = int64(filterOff)

		default:
			return nil, fmt.Errorf("lsda: clause %d has unknown kind %d", i, packed&0x3)
		}

		t.Clauses = append(t.Clauses, c)
	}

	return t, nil
}
