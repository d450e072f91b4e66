// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsda

import "managedcore/addr"

// ClauseKind discriminates the three per-clause payload shapes.
type ClauseKind uint8

const (
	Typed  ClauseKind = 0
	Fault  ClauseKind = 1
	Filter ClauseKind = 2
)

func (k ClauseKind) String() string {
	switch k {
	case Typed:
		return "Typed"
	case Fault:
		return "Fault"
	case Filter:
		return "Filter"
	default:
		return "Unknown"
	}
}

// Clause is one entry of a method's compact EH table. TryStart/TryEnd
// and HandlerOffset/FilterOffset are code offsets relative to the
// owning Table's MethodStart; TypeAddress is resolved to an absolute
// address at parse time since its RVA is relative to its own field,
// not to the method.
type Clause struct {
	TryStart, TryEnd int64
	Kind             ClauseKind

	HandlerOffset int64        // Typed, Fault, Filter
	TypeAddress   addr.Address // Typed only
	FilterOffset  int64        // Filter only
}

// Contains reports whether codeOffset (return address minus method
// start) falls in this clause's try range.
func (c Clause) Contains(codeOffset int64) bool {
	return codeOffset >= c.TryStart && codeOffset < c.TryEnd
}

// Table is one method's parsed clause list, in source order.
type Table struct {
	MethodStart addr.Address
	Clauses     []Clause
}

// HandlerAddress resolves c's handler offset against t's method start.
func (t *Table) HandlerAddress(c Clause) addr.Address {
	return t.MethodStart.Add(c.HandlerOffset)
}

// FilterAddress resolves c's filter offset against t's method start.
// Valid only for Filter clauses.
func (t *Table) FilterAddress(c Clause) addr.Address {
	return t.MethodStart.Add(c.FilterOffset)
}
