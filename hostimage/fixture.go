// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package hostimage

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// BuildFixture compiles the cgo source file at sourcePath into an ELF
// binary under dir and returns its path. cgo is required because the
// linked C runtime startup object is what actually carries a
// .eh_frame section; a pure Go build on most platforms does not.
func BuildFixture(dir, sourcePath string) (string, error) {
	goTool, err := exec.LookPath("go")
	if err != nil {
		return "", fmt.Errorf("hostimage: %v", err)
	}
	exePath := filepath.Join(dir, "fixture")
	cmd := exec.Command(goTool, "build", "-o", exePath, sourcePath)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("hostimage: building %s: %v\n%s", sourcePath, err, out)
	}
	return exePath, nil
}
