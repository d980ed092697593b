// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "testing"

// ─── Small/fast path ─────────────────────────────────────────────────────────

func TestAllocateSmallBumpsFreePointer(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	first, err := capa.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	second, err := capa.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if second != first+8 {
		t.Errorf("second ptr = %d, want %d (first + 8)", second, first+8)
	}
}

func TestAllocateRefillsFromNurseryChain(t *testing.T) {
	flags := testFlags()
	flags.MinAllocAreaBlocks = 3
	sm := NewStorageManager(flags)
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	head := capa.rCurrentNursery
	// Each chunk stays under the large-object threshold; enough chunks
	// exhaust one block and force a refill spliced off rCurrentNursery.
	const chunk = 100
	var blocksSeen []*BlockDescriptor
	for i := 0; i < 2*(BlockSizeW/chunk+1); i++ {
		if _, err := capa.Allocate(chunk); err != nil {
			t.Fatalf("Allocate failed on iteration %d: %v", i, err)
		}
		if len(blocksSeen) == 0 || blocksSeen[len(blocksSeen)-1] != capa.rCurrentAlloc {
			blocksSeen = append(blocksSeen, capa.rCurrentAlloc)
		}
		if capa.rCurrentNursery != head {
			t.Fatalf("iteration %d: rCurrentNursery head was reassigned, want it to stay %p", i, head)
		}
	}
	if len(blocksSeen) < 3 {
		t.Errorf("expected at least 3 distinct rCurrentAlloc blocks across two refills, got %d", len(blocksSeen))
	}
	for _, bd := range blocksSeen {
		if bd == head {
			t.Error("the nursery chain's head block should never be handed out as rCurrentAlloc")
		}
	}
}

func TestAllocateGrowsNurseryWhenChainExhausted(t *testing.T) {
	flags := testFlags()
	flags.MinAllocAreaBlocks = 1
	sm := NewStorageManager(flags)
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	nurseryBefore := capa.rNursery.NBlocks

	const chunk = 100 // stays under the large-object threshold
	for i := 0; i < BlockSizeW/chunk+2; i++ {
		if _, err := capa.Allocate(chunk); err != nil {
			t.Fatalf("small-path allocate must never fail, got error on iteration %d: %v", i, err)
		}
	}
	if capa.rNursery.NBlocks <= nurseryBefore {
		t.Errorf("rNursery.NBlocks = %d, want > %d after exhausting the single-block chain", capa.rNursery.NBlocks, nurseryBefore)
	}
}

// ─── Large path ──────────────────────────────────────────────────────────────

func TestAllocateLargeRoutesPastThreshold(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	threshold := sm.flags.largeObjectThresholdWords()
	ptr, err := capa.Allocate(threshold)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if ptr < 0 {
		t.Errorf("unexpected negative pointer %d", ptr)
	}
	if sm.nurseries[0].NLargeBlocks == 0 {
		t.Error("large allocation should be linked onto the nursery's LargeObjects list")
	}
	bd := sm.nurseries[0].LargeObjects
	if !bd.Flags.Has(FlagLarge) {
		t.Error("large allocation's descriptor should carry FlagLarge")
	}
}

func TestAllocateLargeOverflowsAtMaxHeapSize(t *testing.T) {
	flags := testFlags()
	flags.MaxHeapSizeBlocks = 1
	sm := NewStorageManager(flags)
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	_, err := capa.Allocate(2 * BlockSizeW)
	if err != ErrHeapOverflow {
		t.Errorf("Allocate past MaxHeapSizeBlocks = %v, want ErrHeapOverflow", err)
	}
}

// ─── Pinned path ─────────────────────────────────────────────────────────────

func TestAllocatePinnedAccumulatesIntoOneBlock(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	first, err := capa.AllocatePinned(8)
	if err != nil {
		t.Fatalf("AllocatePinned failed: %v", err)
	}
	second, err := capa.AllocatePinned(8)
	if err != nil {
		t.Fatalf("AllocatePinned failed: %v", err)
	}
	if second != first+8 {
		t.Errorf("pinned allocations should bump within the same block: first=%d second=%d", first, second)
	}
	if !capa.pinnedObjectBlock.Flags.Has(FlagPinned) {
		t.Error("pinned block should carry FlagPinned")
	}
}

func TestAllocatePinnedStartsNewBlockWhenFull(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	if _, err := capa.AllocatePinned(BlockSizeW - 1); err != nil {
		t.Fatalf("AllocatePinned failed: %v", err)
	}
	full := capa.pinnedObjectBlock
	if _, err := capa.AllocatePinned(8); err != nil {
		t.Fatalf("AllocatePinned failed: %v", err)
	}
	if capa.pinnedObjectBlock == full {
		t.Error("AllocatePinned should start a fresh block once the current one can't fit the request")
	}
}

// ─── Split ───────────────────────────────────────────────────────────────────

func TestSplitLargeBlockLinksHeadOntoList(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	if _, err := capa.Allocate(3 * BlockSizeW); err != nil {
		t.Fatalf("Allocate large object failed: %v", err)
	}
	stp := sm.nurseries[0]
	bd := stp.LargeObjects
	before := stp.NLargeBlocks

	head := sm.SplitLargeBlock(stp, bd, 1)
	if head == nil {
		t.Fatal("SplitLargeBlock returned nil")
	}
	if stp.LargeObjects != head {
		t.Error("split-off head should be linked onto the front of LargeObjects")
	}
	if stp.NLargeBlocks != before {
		t.Errorf("NLargeBlocks = %d, want %d (split moves blocks between groups, total unchanged)", stp.NLargeBlocks, before)
	}
}
