// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// allocator.go implements the per-capability mutator allocator (spec.md
// §4.5): a small/fast bump path backed by the nursery, a large-object
// path that goes straight to the block allocator, and a pinned-object
// path that bump-allocates within accumulated pinned blocks. Grounded on
// pkg/metricstore/buffer.go's write() (bump a bounded region, refill from
// a chain when exhausted) generalized from byte buffers to word blocks.
package heap

import (
	"errors"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// ErrHeapOverflow is returned by the large-object path (direct from
// Allocate, or via AllocatePinned for pinned requests at or above one
// block) when MaxHeapSizeBlocks is configured and satisfying the
// request would take the heap at or past it. The small bump path never
// returns this: it grows the nursery instead of failing (spec.md §4.5
// "heap overflow", §7, §8 scenario 4).
var ErrHeapOverflow = errors.New("heap: request would exceed max heap size, GC required")

// Capability is one mutator execution context: its own nursery bump
// registers and pinned-object accumulator, so independent capabilities
// allocate without contending on the StorageManager's coarse mutex
// (spec.md §4.4/§9).
type Capability struct {
	No int
	sm *StorageManager

	rNursery        *Step            // this capability's nursery step (LargeObjects list lives here)
	rCurrentNursery *BlockDescriptor // head of the not-yet-bumped nursery chain
	rCurrentAlloc   *BlockDescriptor // block currently being bump-allocated into

	pinnedObjectBlock *BlockDescriptor // block currently accumulating pinned allocations

	mu       sync.Mutex
	mutLists map[int]*mutList // per-generation remembered-set entries recorded by this capability
}

// Allocate returns the word offset of a fresh nWords-word allocation,
// routing to the large-object path when nWords meets the configured
// threshold (spec.md §4.5).
func (capa *Capability) Allocate(nWords int) (int, error) {
	if nWords <= 0 {
		nWords = 1
	}
	sm := capa.sm
	if nWords >= sm.flags.largeObjectThresholdWords() {
		return capa.allocateLarge(nWords, 0)
	}
	return capa.allocateSmall(nWords)
}

// allocateSmall is the fast bump-pointer path: extend rCurrentAlloc's
// free pointer if there's room, otherwise splice the block following
// rCurrentNursery's head off the chain and bump into that instead
// (spec.md §4.5 small path step 2: "bd = cap.rCurrentNursery.link"). The
// head itself is never reassigned or consumed — only its link is
// spliced out — so rCurrentNursery keeps pointing at the same block for
// the capability's whole nursery lifetime. The block taken for
// rCurrentAlloc is prepended onto rNursery.Blocks, so it stays counted by
// NBlocks and visible to the accounting walks. When the chain is exhausted
// beyond the head, a fresh block is grown under the StorageManager lock
// instead of failing: the small path never returns heap overflow, only
// the large path does (spec.md §4.5 step 2b, §7, §8 scenario 4).
func (capa *Capability) allocateSmall(nWords int) (int, error) {
	bd := capa.rCurrentAlloc
	if bd == nil || bd.Free+nWords > bd.Start+bd.Blocks*BlockSizeW {
		sm := capa.sm
		next := capa.rCurrentNursery

		switch {
		case next == nil:
			// No nursery assigned at all: grow one from scratch and make
			// it the new head so future refills have a chain to splice.
			sm.mu.Lock()
			bd = sm.allocNursery(capa.rNursery, nil, 1)
			capa.rNursery.NBlocks++
			sm.mu.Unlock()
			capa.rCurrentNursery = bd

		case next.Link == nil:
			sm.mu.Lock()
			bd = sm.allocNursery(capa.rNursery, nil, 1)
			capa.rNursery.NBlocks++
			sm.mu.Unlock()

		default:
			bd = next.Link
			next.Link = bd.Link
			if bd.Link != nil {
				bd.Link.Back = next
			}
		}

		dblLinkOnto(bd, &capa.rNursery.Blocks)
		bd.Free = bd.Start
		capa.rCurrentAlloc = bd

		if bd.Free+nWords > bd.Start+bd.Blocks*BlockSizeW {
			return 0, fmt.Errorf("heap: word count %d exceeds block capacity", nWords)
		}
	}

	ptr := bd.Free
	bd.Free += nWords
	return ptr, nil
}

// allocateLarge allocates nWords directly from the block allocator and
// links the resulting group onto the owning nursery step's LargeObjects
// list under its spinlock, not the StorageManager mutex (spec.md §9
// Open Questions: a single capability owns its nursery's large-object
// list). extraFlags is OR'd onto the descriptor (used by the pinned
// path below). If MaxHeapSizeBlocks is configured and the request would
// take the heap at or past it, this is the one path that can return
// ErrHeapOverflow (spec.md §4.5 large path step 2, §7, §8 scenario 4).
func (capa *Capability) allocateLarge(nWords int, extraFlags BlockFlag) (int, error) {
	sm := capa.sm
	nBlocks := (nWords*WordSize + BlockSize - 1) / BlockSize
	if nBlocks < 1 {
		nBlocks = 1
	}

	if sm.flags.MaxHeapSizeBlocks > 0 {
		sm.mu.Lock()
		live := sm.calcLiveBlocksLocked()
		sm.mu.Unlock()
		if live+nBlocks >= sm.flags.MaxHeapSizeBlocks {
			if sm.events != nil {
				sm.events.PublishHeapOverflow(capa.No)
			}
			return 0, ErrHeapOverflow
		}
	}

	bd := sm.blockAlloc.AllocGroup(nBlocks)
	bd.Step = capa.rNursery
	bd.GenNo = 0
	bd.Flags = FlagLarge | extraFlags
	bd.Free = bd.Start + nWords

	stp := capa.rNursery
	stp.largeObjectsLock.Lock()
	dblLinkOnto(bd, &stp.LargeObjects)
	stp.NLargeBlocks += bd.Blocks
	stp.largeObjectsLock.Unlock()

	if sm.flags.Sanity {
		cclog.Debugf("[HEAP]> allocate: large object, cap=%d words=%d blocks=%d", capa.No, nWords, nBlocks)
	}
	return bd.Start, nil
}

// AllocatePinned bump-allocates nWords within an accumulated pinned
// block, starting a fresh one when the current one is full or absent.
// Requests at or above one block's worth go straight to allocateLarge
// (spec.md §4.5 "marking them LARGE causes the collector to move their
// block, not their contents").
func (capa *Capability) AllocatePinned(nWords int) (int, error) {
	if nWords <= 0 {
		nWords = 1
	}
	if nWords >= BlockSizeW {
		return capa.allocateLarge(nWords, FlagPinned)
	}

	sm := capa.sm
	bd := capa.pinnedObjectBlock
	if bd == nil || bd.Free+nWords > bd.Start+bd.Blocks*BlockSizeW {
		bd = sm.blockAlloc.AllocGroup(1)
		bd.Step = capa.rNursery
		bd.GenNo = 0
		bd.Flags = FlagLarge | FlagPinned
		bd.Free = bd.Start

		stp := capa.rNursery
		stp.largeObjectsLock.Lock()
		dblLinkOnto(bd, &stp.LargeObjects)
		stp.NLargeBlocks++
		stp.largeObjectsLock.Unlock()

		capa.pinnedObjectBlock = bd
	}

	ptr := bd.Free
	bd.Free += nWords
	return ptr, nil
}

// SplitLargeBlock carves the first n blocks off bd (already linked onto
// stp's LargeObjects list) into a new descriptor with the same
// generation and flags, and links it onto the same list. Used when an
// over-sized group returned by the block allocator (descriptor-
// granularity gaps, spec.md §4.5) needs to be handed out in an exact
// size. Returns nil if n doesn't leave a valid split.
func (sm *StorageManager) SplitLargeBlock(stp *Step, bd *BlockDescriptor, n int) *BlockDescriptor {
	stp.largeObjectsLock.Lock()
	defer stp.largeObjectsLock.Unlock()

	orig := bd.Blocks
	head := sm.blockAlloc.SplitBlockGroup(bd, n)
	if head == nil {
		return nil
	}
	head.GenNo = bd.GenNo
	head.Flags = bd.Flags
	head.Step = stp
	dblLinkOnto(head, &stp.LargeObjects)
	stp.NLargeBlocks += head.Blocks + bd.Blocks - orig
	return head
}
