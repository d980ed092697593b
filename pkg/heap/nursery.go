// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// nursery.go implements the per-capability nursery manager (spec.md
// §4.4). Grounded on pkg/metricstore/buffer.go's chain-linking (newBuffer
// prepends a fresh node and relinks prev/next) and pkg/metricstore/level.go's
// free/forceFree subtree walks, generalized from a time-series buffer
// chain to a block-group chain.
package heap

import cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

// allocNursery prepends n freshly allocated blocks onto tail, building
// back pointers, and returns the new head (spec.md §4.4).
func (sm *StorageManager) allocNursery(stp *Step, tail *BlockDescriptor, n int) *BlockDescriptor {
	head := tail
	for i := 0; i < n; i++ {
		bd := sm.blockAlloc.AllocGroup(1)
		bd.Flags = 0
		bd.Free = bd.Start
		bd.Step = stp
		bd.GenNo = 0
		dblLinkOnto(bd, &head)
	}
	return head
}

// assignNurseriesToCapabilities points each capability at its nursery
// head and clears its current-alloc register (spec.md §4.4).
func (sm *StorageManager) assignNurseriesToCapabilities() {
	for i, capa := range sm.capabilities {
		capa.rCurrentNursery = sm.nurseries[i].Blocks
		capa.rCurrentAlloc = nil
	}
}

// ResetNurseries resets every nursery block's bump pointer, frees large
// objects (all dead post-collection, per spec.md §4.4), and reassigns
// nurseries to capabilities. Intended to be called by the collector
// between GCs, and only while no mutator is concurrently allocating —
// the original's GARBAGE_COLLECTING re-entrancy guard, which this
// package does not itself enforce since the collector owns that state.
func (sm *StorageManager) ResetNurseries() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, nursery := range sm.nurseries {
		for bd := nursery.Blocks; bd != nil; bd = bd.Link {
			sm.totalAllocated += int64(bd.Free - bd.Start)
			bd.Free = bd.Start
			if sm.flags.Sanity {
				if bd.GenNo != 0 {
					cclog.Fatalf("[HEAP]> sanity: nursery block has gen_no=%d, want 0", bd.GenNo)
				}
				if bd.Step != nursery {
					cclog.Fatalf("[HEAP]> sanity: nursery block step back-reference mismatch")
				}
				poison(bd)
			}
		}

		for bd := nursery.LargeObjects; bd != nil; {
			next := bd.Link
			sm.blockAlloc.FreeGroup(bd)
			bd = next
		}
		nursery.LargeObjects = nil
		nursery.NLargeBlocks = 0
	}

	sm.assignNurseriesToCapabilities()
}

// poison overwrites the free span of bd with 0xAA, as the original does
// under sanity builds to catch use-after-reset bugs.
func poison(bd *BlockDescriptor) {
	_ = bd // no backing byte storage is modeled (see block.go); poisoning
	// is a debug-build-only no-op here, matching the original's compile-
	// time #ifdef DEBUG gate rather than unconditional zeroing.
}

// CountNurseryBlocks sums n_blocks + n_large_blocks across all nurseries
// (spec.md §4.4).
func (sm *StorageManager) CountNurseryBlocks() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	total := 0
	for _, nursery := range sm.nurseries {
		total += nursery.NBlocks + nursery.NLargeBlocks
	}
	return total
}

// ResizeNursery grows or shrinks stp's block chain to exactly n blocks
// (spec.md §4.4). Growing allocates and links onto the front; shrinking
// frees head groups until at or just below n, then, if a freed group
// overshot, links the missing blocks back onto the front.
func (sm *StorageManager) ResizeNursery(stp *Step, n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.resizeNurseryLocked(stp, n)
}

func (sm *StorageManager) resizeNurseryLocked(stp *Step, n int) {
	if n < 0 {
		n = 0
	}

	switch {
	case stp.NBlocks < n:
		stp.Blocks = sm.allocNursery(stp, stp.Blocks, n-stp.NBlocks)
		stp.NBlocks = n

	case stp.NBlocks > n:
		for stp.NBlocks > n && stp.Blocks != nil {
			bd := stp.Blocks
			stp.Blocks = bd.Link
			if stp.Blocks != nil {
				stp.Blocks.Back = nil
			}
			stp.NBlocks -= bd.Blocks
			sm.blockAlloc.FreeGroup(bd)
		}
		if stp.NBlocks < n {
			// A multi-block group overshot; top up the tail.
			extra := n - stp.NBlocks
			stp.Blocks = sm.allocNursery(stp, stp.Blocks, extra)
			stp.NBlocks = n
		}
	}

	if sm.flags.Sanity && countBlocks(stp.Blocks) != stp.NBlocks {
		cclog.Fatalf("[HEAP]> sanity: resize_nursery left count(chain)=%d, want n_blocks=%d",
			countBlocks(stp.Blocks), stp.NBlocks)
	}
}

// ResizeNurseriesFixed applies ResizeNursery(n) to every nursery
// (spec.md §4.4).
func (sm *StorageManager) ResizeNurseriesFixed(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, nursery := range sm.nurseries {
		sm.resizeNurseryLocked(nursery, n)
	}
}

// ResizeNurseries divides total equally across capabilities via integer
// division; the remainder is intentionally discarded (spec.md §4.4).
func (sm *StorageManager) ResizeNurseries(total int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(sm.nurseries) == 0 {
		return
	}
	each := total / len(sm.nurseries)
	for _, nursery := range sm.nurseries {
		sm.resizeNurseryLocked(nursery, each)
	}
}
