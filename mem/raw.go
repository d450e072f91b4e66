// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mem implements the page allocator: the Region Allocation
// Table (RAT), page-kind bookkeeping, and the memory intrinsics
// (memcpy/memmove/memset/memcmp) every size class builds on.
package mem

import (
	"unsafe"

	"managedcore/addr"
)

// Address is the pointer type used throughout the page allocator and
// its clients.
type Address = addr.Address

// ReadUint8 reads a single byte at a.
func ReadUint8(a Address) uint8 {
	return *(*uint8)(unsafe.Pointer(uintptr(a)))
}

// WriteUint8 stores v at a.
func WriteUint8(a Address, v uint8) {
	*(*uint8)(unsafe.Pointer(uintptr(a))) = v
}

// ReadUint16 reads a little-endian uint16 at a.
func ReadUint16(a Address) uint16 {
	return *(*uint16)(unsafe.Pointer(uintptr(a)))
}

// WriteUint16 stores v at a.
func WriteUint16(a Address, v uint16) {
	*(*uint16)(unsafe.Pointer(uintptr(a))) = v
}

// ReadUint32 reads a little-endian uint32 at a.
func ReadUint32(a Address) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(a)))
}

// WriteUint32 stores v at a.
func WriteUint32(a Address, v uint32) {
	*(*uint32)(unsafe.Pointer(uintptr(a))) = v
}

// ReadInt64 reads a signed 64-bit value at a.
func ReadInt64(a Address) int64 {
	return *(*int64)(unsafe.Pointer(uintptr(a)))
}

// WriteInt64 stores v at a.
func WriteInt64(a Address, v int64) {
	*(*int64)(unsafe.Pointer(uintptr(a))) = v
}

// ReadUint64 reads an unsigned 64-bit value at a.
func ReadUint64(a Address) uint64 {
	return *(*uint64)(unsafe.Pointer(uintptr(a)))
}

// WriteUint64 stores v at a.
func WriteUint64(a Address, v uint64) {
	*(*uint64)(unsafe.Pointer(uintptr(a))) = v
}

// ReadPtr reads a pointer-sized value at a.
func ReadPtr(a Address) Address {
	return Address(*(*uintptr)(unsafe.Pointer(uintptr(a))))
}

// WritePtr stores v at a.
func WritePtr(a Address, v Address) {
	*(*uintptr)(unsafe.Pointer(uintptr(a))) = uintptr(v)
}

// Bytes overlays a []byte of length n on top of the raw storage
// starting at a. The caller is responsible for the region actually
// being n bytes long; there is no host OS to ask.
func Bytes(a Address, n int64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(a))), int(n))
}
