// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package heap provides block.go: the block & descriptor layer.
//
// In the runtime this module was lifted from, blocks and their descriptors
// are owned by a separate block/megablock allocator (mmap-backed, shared
// with the OS). That allocator is out of scope here (spec §1): we model its
// *interface* — alloc_block / alloc_group / free_group / Bdescr — against a
// BlockAllocator, and ship one pooled, in-process implementation so the rest
// of the package (and its tests) can run without an OS-level allocator.
package heap

import "sync"

// WordSize is the machine word size in bytes this module is built for.
const WordSize = 8

// BlockSize is the fixed size of one block, in bytes (4 KiB, as in the
// original). BlockSizeW is the same size in words.
const (
	BlockSize  = 4096
	BlockSizeW = BlockSize / WordSize
)

// BlockFlag is a bitset of roles a block descriptor can carry. EXEC is
// never combined with LARGE or PINNED in this rewrite, and PINNED always
// comes together with LARGE (matching §4.5's "marking them LARGE causes the collector to move
// their block, not their contents").
type BlockFlag uint8

const (
	FlagLarge BlockFlag = 1 << iota
	FlagPinned
	FlagEvacuated
	FlagExec
)

func (f BlockFlag) Has(bit BlockFlag) bool { return f&bit != 0 }

// BlockDescriptor is the metadata block for one block group. It is never
// copied by value past construction — the doubly-linked chains below hold
// pointers, and several call sites compare descriptor identity.
//
// GenNo is overloaded per §3/§9: for ordinary blocks it is the owning
// generation's index; for EXEC blocks the exec allocator repurposes it as
// a word-occupancy reference count. The field is kept singular (not a
// tagged union) because this mirrors the original layout's deliberate
// field-repurposing, called out in spec.md §9 as a constraint a rewrite
// may choose to keep for simplicity of the block-allocator interface.
type BlockDescriptor struct {
	Start  int // word offset of this group's payload, as returned by the allocator
	Free   int // bump pointer, word offset; Start <= Free <= Start+Blocks*BlockSizeW
	Blocks int // number of contiguous blocks in this group

	Link *BlockDescriptor // forward link in whatever chain owns this block
	Back *BlockDescriptor // back link (u.back in the original)

	Step  *Step // owning step
	GenNo int   // generation index, or exec-page word-occupancy count

	Flags BlockFlag
}

// countBlocks walks a singly-linked (Link-only) chain and counts entries.
// Grounded on the original's debug-assertion block counters (spec.md §8
// "count(chain) == counter"); used by the sanity check in nursery.go.
func countBlocks(bd *BlockDescriptor) int {
	n := 0
	for ; bd != nil; bd = bd.Link {
		n++
	}
	return n
}

// countBlocksInGroups sums Blocks (not descriptor count) over a chain —
// used where a chain node may represent more than one physical block
// (large-object groups).
func countBlocksInGroups(bd *BlockDescriptor) int {
	n := 0
	for ; bd != nil; bd = bd.Link {
		n += bd.Blocks
	}
	return n
}

// dblLinkOnto prepends bd onto the doubly-linked list whose current head is
// *head, updating Back pointers. Mirrors dbl_link_onto from §4.5.
func dblLinkOnto(bd *BlockDescriptor, head **BlockDescriptor) {
	bd.Link = *head
	bd.Back = nil
	if *head != nil {
		(*head).Back = bd
	}
	*head = bd
}

// BlockAllocator is the interface the rest of this package depends on for
// raw block groups. A real runtime supplies one backed by mmap'd
// megablocks; PooledBlockAllocator below is the in-process default.
type BlockAllocator interface {
	// AllocGroup returns a fresh descriptor for n contiguous blocks.
	// The returned group's Blocks may exceed n (descriptor-granularity
	// gaps in the underlying allocator), matching §4.5's "may be more
	// due to descriptor gaps".
	AllocGroup(n int) *BlockDescriptor
	// FreeGroup releases a descriptor previously returned by AllocGroup
	// or SplitBlockGroup.
	FreeGroup(bd *BlockDescriptor)
	// SplitBlockGroup carves off the first n blocks of bd into a new
	// descriptor, shrinking bd in place, and returns the new head group.
	SplitBlockGroup(bd *BlockDescriptor, n int) *BlockDescriptor
}

// PooledBlockAllocator is a default BlockAllocator: single blocks are
// pooled (grounded on pkg/metricstore/buffer.go's PersistentBufferPool),
// multi-block groups allocate fresh backing storage and are never pooled
// (the pool only helps the hot, single-block nursery-refill path).
//
// A hand-rolled pool (not sync.Pool) is used deliberately: pooled
// descriptors keep their identity, Start and Blocks but have every other
// field reset (no payload storage is kept; see AllocGroup), and sync.Pool's "anything may be silently dropped
// under memory pressure" semantics would make block accounting
// (§4.7's count(chain)==counter invariant) unsound.
type PooledBlockAllocator struct {
	mu   sync.Mutex
	pool []*BlockDescriptor
}

// NewPooledBlockAllocator creates an empty pool-backed allocator.
func NewPooledBlockAllocator() *PooledBlockAllocator {
	return &PooledBlockAllocator{}
}

func (a *PooledBlockAllocator) AllocGroup(n int) *BlockDescriptor {
	if n <= 0 {
		n = 1
	}
	if n == 1 {
		a.mu.Lock()
		if k := len(a.pool); k > 0 {
			bd := a.pool[k-1]
			a.pool[k-1] = nil
			a.pool = a.pool[:k-1]
			a.mu.Unlock()
			resetDescriptor(bd)
			return bd
		}
		a.mu.Unlock()
	}

	storage := make([]int64, n*BlockSizeW)
	bd := &BlockDescriptor{
		Start:  0,
		Free:   0,
		Blocks: n,
	}
	_ = storage // payload bytes are not otherwise modeled; identity is what matters here
	return bd
}

func (a *PooledBlockAllocator) FreeGroup(bd *BlockDescriptor) {
	if bd == nil {
		return
	}
	bd.Link = nil
	bd.Back = nil
	if bd.Blocks != 1 {
		return // only single blocks are pooled
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pool) >= maxBlockPoolSize {
		return
	}
	a.pool = append(a.pool, bd)
}

func (a *PooledBlockAllocator) SplitBlockGroup(bd *BlockDescriptor, n int) *BlockDescriptor {
	if n <= 0 || n >= bd.Blocks {
		return nil
	}
	head := &BlockDescriptor{
		Start:  bd.Start,
		Free:   bd.Start,
		Blocks: n,
		Step:   bd.Step,
		Flags:  bd.Flags,
	}
	bd.Start += n * BlockSizeW
	bd.Blocks -= n
	if bd.Free < bd.Start {
		bd.Free = bd.Start
	}
	return head
}

func resetDescriptor(bd *BlockDescriptor) {
	bd.Free = bd.Start
	bd.Link = nil
	bd.Back = nil
	bd.Step = nil
	bd.GenNo = 0
	bd.Flags = 0
}

const maxBlockPoolSize = 4096
