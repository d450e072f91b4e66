// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ehframe is a throwaway cgo binary built only so hostimage's
// tests have a real ELF file with a real .eh_frame section to load.
package main

/*
int add(int a, int b) {
	return a + b;
}
*/
import "C"

import "fmt"

func main() {
	fmt.Println(C.add(1, 2))
}
