// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

// Package hostimage maps a compiled ELF binary into memory and
// exposes its sections and DWARF data, so a test can exercise dwarfeh
// against a real .eh_frame instead of a synthetic byte buffer. It is host-only: the freestanding core this
// tool tests never reads its own ELF image, so nothing here runs on
// the target.
package hostimage

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"managedcore/addr"
)

// Image is a memory-mapped ELF file. The mapping is read-only and
// backs every Address Section returns directly: reading through
// mem.Read* at those addresses reads the file's bytes with no copy.
type Image struct {
	file *os.File
	data []byte
	elf  *elf.File
	base addr.Address
}

// Load opens path, maps it read-only, and parses its ELF headers.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hostimage: %v", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hostimage: %v", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hostimage: mmap %s: %v", path, err)
	}
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("hostimage: %v", err)
	}
	base := addr.Address(0)
	if len(data) > 0 {
		base = addr.Address(uintptr(unsafe.Pointer(&data[0])))
	}
	return &Image{file: f, data: data, elf: ef, base: base}, nil
}

// Close unmaps the file and releases its descriptor.
func (img *Image) Close() error {
	if err := unix.Munmap(img.data); err != nil {
		return err
	}
	return img.file.Close()
}

// Section returns the address and size of the named section's bytes
// within the mapping, and whether the section exists and carries
// file content (a SHT_NOBITS section like .bss has none).
func (img *Image) Section(name string) (a addr.Address, size int64, ok bool) {
	s := img.elf.Section(name)
	if s == nil || s.Type == elf.SHT_NOBITS {
		return 0, 0, false
	}
	return img.base.Add(int64(s.Offset)), int64(s.Size), true
}

// EHFrame returns the address and size of the .eh_frame section, the
// input dwarfeh.Build expects.
func (img *Image) EHFrame() (addr.Address, int64, bool) {
	return img.Section(".eh_frame")
}

// DWARF returns the image's DWARF debug information, for tests that
// need real struct layouts rather than hand-built ones.
func (img *Image) DWARF() (*dwarf.Data, error) {
	return img.elf.DWARF()
}
