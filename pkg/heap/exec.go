// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// exec.go implements the executable-memory allocator (spec.md §4.8): a
// separate allocator, not tied to the generational heap, that hands out
// writable pages for the JIT/linker and later protects them
// non-writable+executable. Pages are tracked as BlockDescriptors flagged
// FlagExec, with GenNo repurposed as a live-allocation refcount (spec.md
// §3/§9's deliberate field overload, mirrored from block.go). Allocations
// keep an in-band size word ahead of the returned region, as the
// original does, so FreeExec can recover the size without a side table.
//
// Grounded on pkg/metricstore/buffer.go's pool Get/Put shape (a list of
// fixed-size regions, reused wholesale once empty) generalized from an
// in-process []int64 buffer to a real mmap'd page, since exec memory
// must be genuine OS memory to be executable at all (see DESIGN.md for
// why golang.org/x/sys/unix, not a pack library, backs this one spot).
package heap

import (
	"encoding/binary"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"golang.org/x/sys/unix"
)

const execSizeWordBytes = 8

// execPage is one mmap'd region handed out in ExecAlloc-sized pieces.
type execPage struct {
	bd   *BlockDescriptor // Flags=FlagExec; GenNo is the live-allocation refcount
	mem  []byte           // mmap'd backing store, len == ExecAllocator.pageSize
	free int              // byte offset of the next allocation
	exec bool              // true once Protect has made this page PROT_EXEC
}

// ExecAlloc is a handle to one executable-memory allocation.
type ExecAlloc struct {
	page   *execPage
	offset int // byte offset of the in-band size word within page.mem
	size   int // requested size, bytes
	Bytes  []byte
}

// ExecAllocator is the process's JIT/linker memory allocator (spec.md
// §4.8), independent of the generational heap's BlockAllocator.
type ExecAllocator struct {
	mu         sync.Mutex
	pageSize   int
	pages      []*execPage
	head       *execPage // first page ever mapped; reset in place, never unmapped (spec.md §4.8)
	totalBytes int64
}

func newExecAllocator(pageSizeBytes int) *ExecAllocator {
	if pageSizeBytes <= 0 {
		pageSizeBytes = DefaultExecPageSize
	}
	return &ExecAllocator{pageSize: pageSizeBytes}
}

// AllocateExec reserves nBytes of writable memory, mmapping a fresh page
// if no existing page has room (spec.md §4.8).
func (e *ExecAllocator) AllocateExec(nBytes int) (*ExecAlloc, error) {
	if nBytes <= 0 {
		nBytes = 1
	}
	need := align8(execSizeWordBytes + nBytes)
	if need > e.pageSize {
		return nil, fmt.Errorf("heap: exec allocation of %d bytes exceeds page size %d", nBytes, e.pageSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var page *execPage
	for _, p := range e.pages {
		if !p.exec && p.free+need <= e.pageSize {
			page = p
			break
		}
	}
	if page == nil {
		mem, err := unix.Mmap(-1, 0, e.pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return nil, fmt.Errorf("heap: mmap exec page: %w", err)
		}
		page = &execPage{
			mem: mem,
			bd:  &BlockDescriptor{Flags: FlagExec, GenNo: 0},
		}
		e.pages = append(e.pages, page)
		if e.head == nil {
			e.head = page
		}
	}

	offset := page.free
	binary.LittleEndian.PutUint64(page.mem[offset:], uint64(nBytes))
	region := page.mem[offset+execSizeWordBytes : offset+execSizeWordBytes+nBytes]
	page.free += need
	page.bd.GenNo++
	e.totalBytes += int64(nBytes)

	return &ExecAlloc{page: page, offset: offset, size: nBytes, Bytes: region}, nil
}

// Protect mprotects a's page to PROT_READ|PROT_EXEC, making every live
// allocation in that page executable and no longer writable. A real
// linker calls this once it has finished writing code into a page
// (spec.md §4.8).
func (e *ExecAllocator) Protect(a *ExecAlloc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a.page.exec {
		return nil
	}
	if err := unix.Mprotect(a.page.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("heap: mprotect exec page: %w", err)
	}
	a.page.exec = true
	return nil
}

// FreeExec decrements a's page refcount (GenNo) and, once a page's last
// live allocation is freed, either resets it in place (the head page) or
// munmaps it (every other page) — spec.md §4.8's page-level occupancy
// reference counting, which explicitly keeps the current head around
// rather than tearing it down, mirroring nursery.go never reassigning a
// capability's head block. A size-word mismatch (zero, from a prior
// free, or simply wrong) means a double-free or caller bug and is
// treated as memory corruption, not a warning (spec.md §4.8/§7).
func (e *ExecAllocator) FreeExec(a *ExecAlloc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	storedSize := int(binary.LittleEndian.Uint64(a.page.mem[a.offset:]))
	if storedSize == 0 || storedSize != a.size {
		cclog.Fatalf("[HEAP]> free_exec: in-band size word %d != recorded size %d (double-free or corruption)", storedSize, a.size)
	}
	binary.LittleEndian.PutUint64(a.page.mem[a.offset:], 0)
	e.totalBytes -= int64(a.size)

	a.page.bd.GenNo--
	if a.page.bd.GenNo > 0 {
		return nil
	}

	if a.page == e.head {
		if a.page.exec {
			if err := unix.Mprotect(a.page.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
				return fmt.Errorf("heap: mprotect exec page writable: %w", err)
			}
		}
		a.page.free = 0
		a.page.exec = false
		return nil
	}

	for i, p := range e.pages {
		if p == a.page {
			e.pages = append(e.pages[:i], e.pages[i+1:]...)
			break
		}
	}
	if err := unix.Munmap(a.page.mem); err != nil {
		return fmt.Errorf("heap: munmap exec page: %w", err)
	}
	return nil
}

// BytesInUse reports cumulative live exec-allocation bytes, for
// metrics.go's gauge.
func (e *ExecAllocator) BytesInUse() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalBytes
}

func align8(n int) int {
	return (n + 7) &^ 7
}
