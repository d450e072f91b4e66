// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The kdump tool is a host-side command-line tool for exploring the
// state of the managed-runtime core. It assembles a live, scripted
// image of the core (page allocator, size-class heaps, collector,
// handle table, and a synthetic in-flight throw) and lets the
// operator inspect it: heap histograms, RAT dumps, roots, unwind
// walks, and an interactive repl for stepping the collector.
// Run "kdump help" for a list of commands.
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"managedcore/addr"
	"managedcore/archreg"
	"managedcore/gcobj"
	"managedcore/handle"
	"managedcore/heap"
	"managedcore/mem"
	"managedcore/unwind"
)

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

var (
	sizeMiB  int64
	maxSmall int64
	archName string
)

func chooseArch() *archreg.Architecture {
	switch archName {
	case "amd64":
		return archreg.AMD64
	case "arm64":
		return archreg.ARM64
	default:
		exitf("unknown architecture %q (want amd64 or arm64)\n", archName)
		return nil
	}
}

func loadImage() *image {
	return buildImage(sizeMiB, maxSmall, chooseArch())
}

func main() {
	root := &cobra.Command{
		Use:   "kdump",
		Short: "explore the state of the managed-runtime core",
	}
	root.PersistentFlags().Int64Var(&sizeMiB, "size", 64, "managed region size in MiB")
	root.PersistentFlags().Int64Var(&maxSmall, "maxsmall", 256, "small/medium size-class boundary in bytes")
	root.PersistentFlags().StringVar(&archName, "arch", "amd64", "target architecture (amd64 or arm64)")

	root.AddCommand(
		&cobra.Command{
			Use:   "overview",
			Short: "print a few overall statistics",
			Run:   func(cmd *cobra.Command, args []string) { runOverview(loadImage()) },
		},
		&cobra.Command{
			Use:   "mappings",
			Short: "print the region allocation table",
			Run:   func(cmd *cobra.Command, args []string) { runMappings(loadImage()) },
		},
		&cobra.Command{
			Use:   "heap",
			Short: "print histogram of heap memory use by type",
			Run:   func(cmd *cobra.Command, args []string) { runHeap(loadImage()) },
		},
		&cobra.Command{
			Use:   "objects",
			Short: "print a list of all live objects",
			Run:   func(cmd *cobra.Command, args []string) { runObjects(loadImage()) },
		},
		&cobra.Command{
			Use:   "roots",
			Short: "print the collector's root set",
			Run:   func(cmd *cobra.Command, args []string) { runRoots(loadImage()) },
		},
		&cobra.Command{
			Use:   "unwind",
			Short: "walk the synthetic throw through the exception dispatcher",
			Run:   func(cmd *cobra.Command, args []string) { runUnwind(loadImage()) },
		},
		&cobra.Command{
			Use:   "repl",
			Short: "interactively step the collector and dispatcher",
			Run:   func(cmd *cobra.Command, args []string) { runREPL(loadImage()) },
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(2)
	}
}

func runOverview(img *image) {
	t := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(t, "region\t%.1f MB\n", float64(img.pa.TotalPages()*mem.PageSize)/(1<<20))
	fmt.Fprintf(t, "free pages\t%d of %d\n", img.pa.FreePages(), img.pa.TotalPages())
	fmt.Fprintf(t, "gc state\t%s\n", img.col.State())
	fmt.Fprintf(t, "collections\t%d\n", img.col.TotalCollections())
	fmt.Fprintf(t, "objects freed\t%d\n", img.col.TotalObjectsFreed())
	b := img.h.Breakdown()
	fmt.Fprintf(t, "small\t%d objects, %d live bytes, %d free bytes\n", b.Small.Objects, b.Small.LiveBytes, b.Small.FreeBytes)
	fmt.Fprintf(t, "medium\t%d objects, %d live bytes, %d free bytes\n", b.Medium.Objects, b.Medium.LiveBytes, b.Medium.FreeBytes)
	fmt.Fprintf(t, "large\t%d objects, %d live bytes, %d free bytes\n", b.Large.Objects, b.Large.LiveBytes, b.Large.FreeBytes)
	t.Flush()
}

func runMappings(img *image) {
	t := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "min\tmax\tpages\tkind\t\n")
	img.pa.ForEachPage(func(start addr.Address, kind mem.Kind, pages int64) {
		if kind == mem.Empty {
			return
		}
		fmt.Fprintf(t, "%x\t%x\t%d\t%s\t\n", uintptr(start), uintptr(start.Add(pages*mem.PageSize)), pages, kind)
	})
	t.Flush()
}

func runHeap(img *image) {
	entries := img.col.Histogram()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Bytes > entries[j].Bytes })
	t := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "%s\t%s\t %s\n", "count", "bytes", "type")
	for _, e := range entries {
		fmt.Fprintf(t, "%d\t%d\t %s\n", e.Count, e.Bytes, img.typeName(e.Type))
	}
	t.Flush()
}

func runObjects(img *image) {
	forEachLiveObject(img, func(ptr addr.Address, size int64) {
		obj := gcobj.Object(ptr)
		fmt.Printf("%16x %6d %s\n", uintptr(ptr), size, img.typeName(obj.MethodTable()))
	})
}

// forEachLiveObject visits every slot/page across the size classes
// that passes the structural "is managed object" test the sweep uses.
func forEachLiveObject(img *image, fn func(ptr addr.Address, size int64)) {
	managedMin := img.pa.HeapBase()
	managedMax := img.pa.HeapBase().Add(img.pa.TotalPages() * mem.PageSize)
	visit := func(ptr addr.Address, size int64) {
		if size == 0 {
			return
		}
		mt := gcobj.Object(ptr).MethodTable()
		if !gcobj.IsValidMethodTablePointer(gcobj.Address(mt), managedMin, managedMax) {
			return
		}
		fn(ptr, size)
	}
	img.h.Small.ForEachSlot(func(ptr addr.Address) { visit(ptr, img.h.Small.Size(ptr)) })
	img.pa.ForEachPage(func(start addr.Address, kind mem.Kind, pages int64) {
		switch kind {
		case mem.HeapMedium:
			ptr := start.Add(heap.MediumHeaderSize)
			visit(ptr, img.h.Medium.Used(ptr))
		case mem.HeapLarge:
			ptr := start.Add(heap.LargeHeaderSize)
			visit(ptr, img.h.Large.Used(ptr))
		}
	})
}

func runRoots(img *image) {
	for i, r := range img.statics {
		fmt.Printf("static region %d: %d entries at %x\n", i, r.Count, uintptr(r.Base))
		for j := int64(0); j < r.Count; j++ {
			raw := mem.ReadPtr(r.Base.Add(j * 8))
			if uintptr(raw)&1 != 0 {
				fmt.Printf("  [%d] uninitialized\n", j)
				continue
			}
			fmt.Printf("  [%d] %x\n", j, uintptr(raw))
		}
	}
	for i, th := range img.threads {
		fmt.Printf("thread %d: stack [%x,%x)\n", i, uintptr(th.StackPointer), uintptr(th.StackPointer.Add(th.StackSize)))
	}
	img.handles.ForEach(func(h, obj addr.Address, kind handle.Kind) {
		fmt.Printf("handle %x: object %x kind %d\n", uintptr(h), uintptr(obj), kind)
	})
	img.frozen.ForEach(func(start, allocated, committed, reserved int64) {
		fmt.Printf("frozen segment [%x,%x): committed %d reserved %d\n", start, start+allocated, committed, reserved)
	})
}

func runUnwind(img *image) {
	sc := img.throw
	sc.disp.StackTrace = ""
	fmt.Printf("throw: exception %x at ip %x (in %s)\n",
		uintptr(sc.ex.Exception), uintptr(sc.ex.IP), sc.methodName(sc.innerStart))

	var caughtAt addr.Address
	sc.disp.Catch = func(exception, handlerAddress addr.Address, display *archreg.Display, exInfo *unwind.ExInfo) {
		caughtAt = handlerAddress
	}
	match, err := sc.disp.Discover(sc.ex)
	if err != nil {
		exitf("discovery: %v\n", err)
	}
	fmt.Printf("matched frame %d (%s): %s clause try [%x,%x) handler +%x\n",
		match.FrameIndex, sc.methodName(match.FDE.PCBegin), match.Clause.Kind,
		match.Clause.TryStart, match.Clause.TryEnd, match.Clause.HandlerOffset)
	if sc.disp.StackTrace != "" {
		fmt.Print(sc.disp.StackTrace)
	}
	if err := sc.disp.Invoke(sc.ex, match); err != unwind.ErrCatchFuncletReturned {
		exitf("invoke: %v\n", err)
	}
	fmt.Printf("catch funclet invoked at %x (%s+%x)\n",
		uintptr(caughtAt), sc.methodName(match.FDE.PCBegin), match.Clause.HandlerOffset)
	sc.disp.Reset()
}

func parseAddr(s string) (addr.Address, error) {
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse %q as a hex address", s)
	}
	return addr.Address(uintptr(n)), nil
}
