// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"managedcore/addr"
	"managedcore/mem"
)

const replHelp = `Commands:
      overview: print a few overall statistics
      mappings: print the region allocation table
          heap: print histogram of heap memory use by type
       objects: print a list of all live objects
         roots: print the collector's root set
       collect: run one mark-sweep collection
   alloc <n>:   allocate n bytes of raw storage
    free <a>:   free the allocation at hex address a
    path <a>:   find a root path to the object at hex address a
    read <a> [n]: dump n bytes (default 256) at hex address a
        unwind: walk the synthetic throw through the dispatcher
          help: print this message
          exit: leave the repl`

func runREPL(img *image) {
	completer := readline.NewPrefixCompleter(
		readline.PcItem("overview"),
		readline.PcItem("mappings"),
		readline.PcItem("heap"),
		readline.PcItem("objects"),
		readline.PcItem("roots"),
		readline.PcItem("collect"),
		readline.PcItem("alloc"),
		readline.PcItem("free"),
		readline.PcItem("path"),
		readline.PcItem("read"),
		readline.PcItem("unwind"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "(kdump) ",
		AutoComplete: completer,
	})
	if err != nil {
		exitf("%v\n", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "overview":
			runOverview(img)
		case "mappings":
			runMappings(img)
		case "heap":
			runHeap(img)
		case "objects":
			runObjects(img)
		case "roots":
			runRoots(img)
		case "collect":
			stats := img.col.Collect(img.threads, img.statics)
			fmt.Printf("collection %d: freed %d objects\n", img.col.TotalCollections(), stats.ObjectsFreed)
		case "alloc":
			if len(args) < 1 {
				fmt.Println("usage: alloc <bytes>")
				continue
			}
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || n <= 0 {
				fmt.Printf("can't parse %q as a byte count\n", args[0])
				continue
			}
			p := img.h.Alloc(n)
			if p == 0 {
				fmt.Println("out of memory")
				continue
			}
			fmt.Printf("%x\n", uintptr(p))
		case "free":
			a, ok := replAddr(args)
			if !ok {
				continue
			}
			img.h.Free(a)
		case "path":
			a, ok := replAddr(args)
			if !ok {
				continue
			}
			path := img.col.PathTo(img.threads, img.statics, a)
			if path == nil {
				fmt.Println("unreachable from any root")
				continue
			}
			for i, p := range path {
				fmt.Printf("%s%x\n", strings.Repeat("  ", i), uintptr(p))
			}
		case "read":
			a, ok := replAddr(args)
			if !ok {
				continue
			}
			n := int64(256)
			if len(args) >= 2 {
				n, err = strconv.ParseInt(args[1], 10, 64)
				if err != nil || n <= 0 {
					fmt.Printf("can't parse %q as a byte count\n", args[1])
					continue
				}
			}
			dump(a, n)
		case "unwind":
			runUnwind(img)
		case "help":
			fmt.Println(replHelp)
		case "exit", "quit":
			return
		default:
			fmt.Printf("unknown command %q; try help\n", cmd)
		}
	}
}

func replAddr(args []string) (addr.Address, bool) {
	if len(args) < 1 {
		fmt.Println("no address provided")
		return 0, false
	}
	a, err := parseAddr(args[0])
	if err != nil {
		fmt.Println(err)
		return 0, false
	}
	return a, true
}

func dump(a addr.Address, n int64) {
	b := mem.Bytes(a, n)
	for i, x := range b {
		if i%16 == 0 {
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("%x:", uintptr(a.Add(int64(i))))
		}
		fmt.Printf(" %02x", x)
	}
	fmt.Println()
}
