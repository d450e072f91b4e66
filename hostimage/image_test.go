// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package hostimage

import (
	"os/exec"
	"runtime"
	"testing"

	"managedcore/dwarfeh"
)

func requireCGO(t *testing.T) {
	t.Helper()
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("skipping: fixture build only tested on amd64/arm64")
	}
	if _, err := exec.LookPath("gcc"); err != nil {
		if _, err := exec.LookPath("cc"); err != nil {
			t.Skip("skipping: no C compiler available to build the cgo fixture")
		}
	}
}

func TestLoadRealEHFrame(t *testing.T) {
	requireCGO(t)

	dir := t.TempDir()
	exePath, err := BuildFixture(dir, "testdata/ehframe/main.go")
	if err != nil {
		t.Skipf("skipping: could not build fixture: %v", err)
	}

	img, err := Load(exePath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer img.Close()

	start, size, ok := img.EHFrame()
	if !ok {
		t.Skip("skipping: fixture binary has no .eh_frame section on this platform")
	}
	if size == 0 {
		t.Fatalf(".eh_frame section is empty")
	}

	if _, err := dwarfeh.Build(start, start.Add(size)); err != nil {
		t.Fatalf("dwarfeh.Build on a real .eh_frame: %v", err)
	}
}
