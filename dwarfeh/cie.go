// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfeh

import (
	"fmt"

	"managedcore/addr"
	"managedcore/mem"
)

// CIE is a parsed Common Information Entry: the per-augmentation
// constants every FDE built against it shares, plus the bounds of its
// initial CFI instruction stream.
type CIE struct {
	Offset                addr.Address // start of the CIE's length field
	CodeAlignmentFactor   int64
	DataAlignmentFactor   int64
	ReturnAddressRegister int

	InitialInstructionsStart addr.Address
	InitialInstructionsEnd   addr.Address
}

// recordHeader reads the common length/id prefix shared by CIEs and
// FDEs: a 4-byte length (the extended 0xffffffff form is not
// supported and is treated as end of section) followed by a 4-byte
// CIE pointer field, zero for a CIE, non-zero for an FDE.
type recordHeader struct {
	start      addr.Address // the length field itself
	bodyEnd    addr.Address // start + 4 + length, i.e. one past this record
	ciePointer uint32
}

func readRecordHeader(a addr.Address) (recordHeader, bool) {
	length := mem.ReadUint32(a)
	if length == 0 || length == 0xffffffff {
		return recordHeader{}, false
	}
	return recordHeader{
		start:      a,
		bodyEnd:    a.Add(4).Add(int64(length)),
		ciePointer: mem.ReadUint32(a.Add(4)),
	}, true
}

// parseCIE parses the CIE whose record header is hdr. Versions 1 and 3
// are accepted and any other version is reported as an error. Of the
// augmentation string only 'z' is acted on; other letters are skipped
// without interpretation.
func parseCIE(hdr recordHeader) (CIE, error) {
	p := hdr.start.Add(8) // past length + CIE-pointer(==0)

	version := mem.ReadUint8(p)
	p = p.Add(1)
	if version != 1 && version != 3 {
		return CIE{}, fmt.Errorf("dwarfeh: unsupported CIE version %d", version)
	}

	augStart := p
	for mem.ReadUint8(p) != 0 {
		p = p.Add(1)
	}
	aug := mem.Bytes(augStart, p.Sub(augStart))
	p = p.Add(1) // NUL

	var codeAlign uint64
	codeAlign, p = readULEB128(p)
	dataAlignS, next := readSLEB128(p)
	p = next

	var retReg uint64
	retReg, p = readULEB128(p)

	// 'z' augmentation: a ULEB128 length for producer-specific
	// augmentation data follows; skip it. Other augmentation letters
	// (e.g. 'R' for the FDE pointer encoding) are recorded in aug but
	// not otherwise interpreted: this core's FDEs always use the
	// fixed sdata4 PC-relative pc_begin/pc_range encoding.
	for _, c := range aug {
		if c == 'z' {
			var augLen uint64
			augLen, p = readULEB128(p)
			p = p.Add(int64(augLen))
			break
		}
	}

	return CIE{
		Offset:                   hdr.start,
		CodeAlignmentFactor:      int64(codeAlign),
		DataAlignmentFactor:      dataAlignS,
		ReturnAddressRegister:    int(retReg),
		InitialInstructionsStart: p,
		InitialInstructionsEnd:   hdr.bodyEnd,
	}, nil
}
