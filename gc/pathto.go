// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"managedcore/addr"
	"managedcore/gcobj"
)

// PathTo performs a breadth-first search from the given roots and
// returns the shortest chain of object addresses from some root to
// target, target included. It returns nil if target is unreachable.
//
// The search keeps its own visited/parent bookkeeping rather than
// reusing the mark stack or the GC status byte, so it can be run
// against a live heap between collections without disturbing
// whatever mark state a concurrent diagnostic pass might be relying
// on; it is read-only over the managed region.
func (c *Collector) PathTo(threads []ThreadStack, statics []StaticRegion, target addr.Address) []addr.Address {
	parent := map[addr.Address]addr.Address{}
	const noParent = addr.Address(0)

	var queue []addr.Address
	enqueue := func(v addr.Address, from addr.Address) bool {
		if _, seen := parent[v]; seen {
			return false
		}
		parent[v] = from
		queue = append(queue, v)
		return true
	}

	c.enumerateRoots(threads, statics, func(v addr.Address) {
		enqueue(v, noParent)
	})

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p == target {
			return reconstructPath(parent, p)
		}

		obj := gcobj.Object(p)
		mt := obj.MethodTable()
		if !gcobj.IsValidMethodTablePointer(gcobj.Address(mt), c.managedMin, c.managedMax) {
			continue
		}
		forEachReference(gcobj.Address(p), mt, func(ref gcobj.Address) {
			v := addr.Address(ref)
			if c.looksLikeReference(v) {
				enqueue(v, p)
			}
		})
	}
	return nil
}

func reconstructPath(parent map[addr.Address]addr.Address, target addr.Address) []addr.Address {
	var path []addr.Address
	for cur := target; ; {
		path = append(path, cur)
		p, ok := parent[cur]
		if !ok || p == 0 {
			break
		}
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
