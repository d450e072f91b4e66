// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package archreg defines the architecture-specific register-display
// layouts the exception dispatcher hands to the call_filter_funclet
// and call_catch_funclet assembly helpers.
package archreg

// MaxCalleeSaved bounds the fixed-size storage every Display carries,
// large enough for either supported architecture's callee-saved set.
const MaxCalleeSaved = 12

// Architecture is the register-numbering and display-shape contract
// for one target, the unwind-side analogue of arch.Architecture's
// byte-order/pointer-size contract for the read side.
type Architecture struct {
	Name string

	// PointerSize is the size, in bytes, of a return address or saved
	// frame pointer on the stack, i.e. what the frame-pointer chain walk
	// advances by.
	PointerSize int

	// CalleeSaved lists the DWARF register numbers the CFI interpreter
	// tracks across a frame, in a fixed order: that order is the fixed
	// Display storage offset the architecture-specific assembly stub
	// indexes by.
	CalleeSaved []int

	ReturnAddressRegister int
	FramePointerRegister  int
	StackPointerRegister  int

	// Indirect selects the register-display shape: true for the
	// 64-bit general-purpose architecture (storage plus a parallel
	// array of pointers into that storage, for indirected reload by
	// assembly), false for the 64-bit RISC architecture (register
	// values stored directly, no indirection).
	Indirect bool
}

// AMD64 is the 64-bit general-purpose architecture: rbx, rbp, r12-r15
// are callee-saved; DWARF register numbers follow the standard
// System V AMD64 ABI numbering.
var AMD64 = &Architecture{
	Name:                  "amd64",
	PointerSize:           8,
	CalleeSaved:           []int{3, 6, 12, 13, 14, 15}, // rbx, rbp, r12, r13, r14, r15
	ReturnAddressRegister: 16,
	FramePointerRegister:  6, // rbp
	StackPointerRegister:  7, // rsp
	Indirect:              true,
}

// ARM64 is the 64-bit RISC architecture: x19-x28 are callee-saved,
// x29 is the frame pointer, x30 the link register (return address).
var ARM64 = &Architecture{
	Name:                  "arm64",
	PointerSize:           8,
	CalleeSaved:           []int{19, 20, 21, 22, 23, 24, 25, 26, 27, 28},
	ReturnAddressRegister: 30,
	FramePointerRegister:  29,
	StackPointerRegister:  31,
	Indirect:              false,
}
