// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diag is the core's diagnostic output shim. The concrete
// serial console is an external collaborator; the core only writes
// through the Sink interface registered at boot. With no sink
// registered, output is dropped and Fatalf still halts.
package diag

import "fmt"

// Sink is the serial console the platform layer provides at boot.
type Sink interface {
	WriteString(s string)
}

var sink Sink

// SetSink registers the serial console. Called once during early boot.
func SetSink(s Sink) { sink = s }

// Halt is the unrecoverable stop: a tight loop, never returning. The
// platform layer may replace it with a lower-power wait loop; tests
// replace it to observe fatal paths.
var Halt = func() {
	for {
	}
}

// Printf formats to the registered sink. It allocates on the Go heap,
// not the managed heap, so it is safe to call from the collector.
func Printf(format string, args ...interface{}) {
	if sink == nil {
		return
	}
	sink.WriteString(fmt.Sprintf(format, args...))
}

// Fatalf prints the message and halts. It does not return.
func Fatalf(format string, args ...interface{}) {
	Printf(format, args...)
	Halt()
}
