// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lsda parses the managed-AOT Language-Specific Data Area: the
// per-method compact clause table (try ranges plus Typed/Fault/Filter
// handlers) that the exception dispatcher consults once it has found
// the frame whose code range contains the throw site.
package lsda

import (
	"managedcore/addr"
	"managedcore/mem"
)

// readULEB128 decodes an unsigned LEB128 value at a. Same byte-at-a-
// time accumulation as dwarfeh's reader; duplicated rather than
// imported because the two packages read two unrelated binary formats
// that happen to share this one encoding primitive.
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
