// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mem

import (
	"managedcore/addr"
)

// Memset sets n bytes at dest to value: set one byte, then repeatedly
// double the filled prefix, which is faster than a byte-at-a-time loop
// once compiled without SIMD help.
func Memset(dest addr.Address, value byte, n int64) {
	if n == 0 {
		return
	}
	buf := Bytes(dest, n)
	buf[0] = value
	for filled := int64(1); filled < n; filled *= 2 {
		copy(buf[filled:], buf[:filled])
	}
}

// Memcpy copies n bytes from src to dest. The source and destination
// ranges must not overlap; use Memmove if they might.
func Memcpy(dest, src addr.Address, n int64) {
	if n == 0 {
		return
	}
	copy(Bytes(dest, n), Bytes(src, n))
}

// Memmove copies n bytes from src to dest, producing the same result
// as a byte-at-a-time copy even when the ranges overlap: forward when
// dest is below src (or doesn't overlap it), backward otherwise.
func Memmove(dest, src addr.Address, n int64) {
	if n == 0 || dest == src {
		return
	}
	d := Bytes(dest, n)
	s := Bytes(src, n)
	if dest < src || dest >= src.Add(n) {
		copy(d, s)
		return
	}
	for i := n - 1; i >= 0; i-- {
		d[i] = s[i]
	}
}

// Memcmp compares n bytes at a and b, returning <0, 0, or >0 as a
// byte-at-a-time comparison would.
func Memcmp(a, b addr.Address, n int64) int {
	if n == 0 || a == b {
		return 0
	}
	ba := Bytes(a, n)
	bb := Bytes(b, n)
	for i := int64(0); i < n; i++ {
		if ba[i] != bb[i] {
			return int(ba[i]) - int(bb[i])
		}
	}
	return 0
}
