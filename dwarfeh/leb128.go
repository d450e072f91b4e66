// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dwarfeh implements the DWARF .eh_frame CIE/FDE index and the
// CFI interpreter: enough of the Call Frame Information format to find
// the frame description for a PC and unwind its callee-saved registers.
package dwarfeh

import (
	"managedcore/addr"
	"managedcore/mem"
)

// readULEB128 decodes an unsigned LEB128 value starting at a, the same
// byte-at-a-time accumulation internal/gocore/module.go's readVarint
// uses for the Go pcln table, generalized to the full 128-bit-group
// LEB128 shape DWARF uses everywhere (CFI operands, FDE augmentation
// lengths, LSDA clause fields).
func readULEB128(a addr.Address) (val uint64, next addr.Address) {
	var shift uint
	for {
		b := mem.ReadUint8(a)
		a = a.Add(1)
		val |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return val, a
		}
		shift += 7
	}
}

// readSLEB128 decodes a signed LEB128 value starting at a.
func readSLEB128(a addr.Address) (val int64, next addr.Address) {
	var result int64
	var shift uint
	var b uint8
	for {
		b = mem.ReadUint8(a)
		a = a.Add(1)
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, a
}
