// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfeh

import (
	"fmt"
	"sort"

	"managedcore/addr"
	"managedcore/mem"
)

// FDE is a parsed Frame Description Entry: the range of code it
// covers, the CIE it was built against, the bounds of its own CFI
// instruction stream, and the LSDA it points at, if any.
type FDE struct {
	PCBegin addr.Address
	PCEnd   addr.Address

	CIE CIE

	InstructionsStart addr.Address
	InstructionsEnd   addr.Address

	LSDA    addr.Address
	HasLSDA bool
}

// Index is a queryable .eh_frame section: every FDE it contains,
// sorted by PCBegin so Lookup can binary search the way
// internal/gocore/module.go's funcTab does for the Go pcln table.
type Index struct {
	entries []FDE
}

// Build walks every CIE/FDE record in [start, end) and returns an
// Index over the FDEs found. A zero length or the extended 0xffffffff
// length form ends the walk without an error, keeping the FDEs read so
// far. An unrecognized CIE version, or an FDE whose CIE pointer names
// no CIE seen earlier, halts the build and returns an error.
func Build(start, end addr.Address) (*Index, error) {
	cies := map[addr.Address]CIE{}
	idx := &Index{}

	for a := start; a < end; {
		hdr, ok := readRecordHeader(a)
		if !ok {
			break // extended-length form or zero terminator: end of section
		}
		if hdr.ciePointer == 0 {
			cie, err := parseCIE(hdr)
			if err != nil {
				return nil, err
			}
			cies[hdr.start] = cie
		} else {
			ciePos := hdr.start.Add(4).Add(-int64(hdr.ciePointer))
			cie, ok := cies[ciePos]
			if !ok {
				return nil, fmt.Errorf("dwarfeh: FDE at %s references unknown CIE at %s", hdr.start, ciePos)
			}
			fde, err := parseFDE(hdr, cie)
			if err != nil {
				return nil, err
			}
			idx.entries = append(idx.entries, fde)
		}
		a = hdr.bodyEnd
	}

	sort.Slice(idx.entries, func(i, j int) bool {
		return idx.entries[i].PCBegin < idx.entries[j].PCBegin
	})
	return idx, nil
}

// parseFDE parses the FDE whose record header is hdr, built against
// cie. PC begin/range are the fixed sdata4 PC-relative/unsigned-4-byte
// forms this core's producer always emits.
func parseFDE(hdr recordHeader, cie CIE) (FDE, error) {
	p := hdr.start.Add(8) // past length + CIE-pointer

	pcBeginField := p
	pcBeginRel := int32(mem.ReadUint32(p))
	pcBegin := pcBeginField.Add(int64(pcBeginRel))
	p = p.Add(4)

	pcRange := mem.ReadUint32(p)
	p = p.Add(4)

	fde := FDE{
		PCBegin:         pcBegin,
		PCEnd:           pcBegin.Add(int64(pcRange)),
		CIE:             cie,
		InstructionsEnd: hdr.bodyEnd,
	}

	var augLen uint64
	augLen, next := readULEB128(p)
	augEnd := next.Add(int64(augLen))
	if augLen > 0 {
		lsdaField := next
		lsdaRel := int32(mem.ReadUint32(lsdaField))
		fde.LSDA = lsdaField.Add(int64(lsdaRel))
		fde.HasLSDA = true
	}
	fde.InstructionsStart = augEnd

	return fde, nil
}

// Lookup returns the FDE covering pc, or false if none does.
func (idx *Index) Lookup(pc addr.Address) (FDE, bool) {
	n := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].PCEnd > pc
	})
	if n == len(idx.entries) || pc < idx.entries[n].PCBegin || pc >= idx.entries[n].PCEnd {
		return FDE{}, false
	}
	return idx.entries[n], true
}
