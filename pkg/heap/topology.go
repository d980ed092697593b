// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package heap implements the storage-manager front-end of a runtime for
// a lazy, non-strict functional language: a block-structured,
// generational heap with per-capability nurseries, CAF tracking, write
// barriers, and a separate executable-memory allocator.
//
// The package is organized the way pkg/metricstore organizes its
// tree-structured, pooled-buffer time-series store: a singleton-ish
// StorageManager constructed once by InitStorage, internal locking split
// between one coarse mutex and fine-grained per-step spinlocks, and
// cclog-based structured logging throughout.
package heap

import (
	"sync"
	"sync/atomic"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Step is one bucket within a generation (spec.md §3).
type Step struct {
	No      int // index within generation
	AbsNo   int // linear index across all steps; steps compare by age via this
	GenNo   int
	Gen     *Generation
	To      *Step // destination step for promotion; oldest step's To is itself

	Blocks   *BlockDescriptor // small-object region, head of doubly-linked chain
	NBlocks  int
	NWords   int

	OldBlocks  *BlockDescriptor // GC double-buffer; never mutated by this package
	NOldBlocks int

	// LargeObjects is guarded by largeObjectsLock, a fine-grained spinlock
	// distinct from the StorageManager's coarse mutex (spec.md §5): the
	// allocator's large path mutates this list without taking the SM
	// lock, relying on "single capability owns this nursery's large list"
	// (spec.md §9 Open Questions) plus this spinlock for safety under
	// parallel GC scavenging.
	LargeObjects          *BlockDescriptor
	NLargeBlocks          int
	ScavengedLargeObjects *BlockDescriptor
	NScavengedLargeBlocks int
	largeObjectsLock      spinlock

	Mark    bool
	Compact bool

	Threads    []*Tso
	OldThreads []*Tso
}

// Generation is a set of steps collected together (spec.md §3).
type Generation struct {
	No    int
	Steps []*Step // contiguous slice into StorageManager.allSteps

	Collections      int
	ParCollections   int
	FailedPromotions int
	MaxBlocks        int
}

// StorageManager is the process-wide storage manager state (spec.md §9:
// "model as a single StorageManager value constructed once"). The zero
// value is not usable; construct with NewStorageManager or InitStorage.
type StorageManager struct {
	flags RTSFlags

	mu sync.Mutex // sm_mutex: guards everything below except per-step spinlocks

	generations []*Generation
	g0          *Generation // youngest generation
	oldestGen   *Generation
	allSteps    []*Step // single contiguous array; see Rationale in §4.1
	totalSteps  int

	nurseries     []*Step // one per capability
	capabilities  []*Capability
	allocBlocksLim int

	blockAlloc BlockAllocator
	exec       *ExecAllocator
	events     *EventsPublisher

	cafMu             sync.Mutex
	cafList           *Caf
	revertibleCafList *Caf

	// genMutLists and each Capability's mutLists are the remembered set
	// (spec.md §4.6): the original models this as a block chain per
	// generation; here it is a slice-backed list per (capability,
	// generation) pair, pluggable via recorder for a real collector to
	// own instead.
	genMutLists map[int]*mutList
	recorder    MutableListRecorder

	totalAllocated int64 // words bumped in nursery blocks before each ResetNurseries, summed there and read by CalcAllocated

	metrics *metricsSet

	initialized bool
}

// singleton instance used by the package-level convenience functions
// (InitStorage/GetStorageManager/...), mirroring pkg/metricstore's
// singleton.Do/msInstance pattern. Library consumers that want more than
// one independent heap (e.g. in tests) should use NewStorageManager
// directly instead.
var (
	smOnce     sync.Once
	smInstance *StorageManager
)

// InitStorage is idempotent (spec.md §4.1: "second call is a no-op") and
// initializes the package-level singleton from flags.
func InitStorage(flags RTSFlags) *StorageManager {
	smOnce.Do(func() {
		smInstance = NewStorageManager(flags)
	})
	return smInstance
}

// GetStorageManager returns the package-level singleton, or nil if
// InitStorage has not been called.
func GetStorageManager() *StorageManager {
	return smInstance
}

// NewStorageManager builds a fully initialized StorageManager: it
// reconciles heap-size policy, allocates the generations/steps arrays,
// wires `to` destinations, allocates nurseries, and seeds CAF lists.
// Grounded on pkg/metricstore/metricstore.go's InitMetrics/Init
// (validate config, compute derived sizing, build the root structure).
func NewStorageManager(flags RTSFlags) *StorageManager {
	flags.applyDefaults()
	reconcileHeapPolicy(&flags)

	sm := &StorageManager{
		flags:          flags,
		blockAlloc:     NewPooledBlockAllocator(),
		allocBlocksLim: flags.MinAllocAreaBlocks,
	}
	sm.metrics = newMetricsSet()
	sm.exec = newExecAllocator(sm.flags.ExecPageSizeBytes)
	if flags.Events != nil {
		sm.events = newEventsPublisher(*flags.Events)
	}

	sm.buildTopology()
	sm.allocateCapabilities()
	sm.allocateInitialNurseries()

	sm.initialized = true
	cclog.Infof("[HEAP]> init_storage: %d generations, %d steps total, %d capabilities, %d blocks/nursery",
		len(sm.generations), sm.totalSteps, len(sm.capabilities), sm.flags.MinAllocAreaBlocks)
	sm.DebugDump()
	return sm
}

// reconcileHeapPolicy implements spec.md §7's "Configuration mismatch"
// error kind: warn and silently adjust for max-heap-too-small, but treat
// G=1 with compact/sweep requested as a hard init-time error (the Open
// Question decision recorded in SPEC_FULL.md).
func reconcileHeapPolicy(flags *RTSFlags) {
	if flags.MaxHeapSizeBlocks > 0 && flags.MaxHeapSizeBlocks < flags.MinAllocAreaBlocks {
		cclog.Warnf("[HEAP]> max-heap-size-blocks (%d) smaller than min-alloc-area-blocks (%d); capping min-alloc-area-blocks",
			flags.MaxHeapSizeBlocks, flags.MinAllocAreaBlocks)
		flags.MinAllocAreaBlocks = flags.MaxHeapSizeBlocks
	}

	if flags.Generations == 1 && (flags.Compact || flags.Sweep) {
		cclog.Fatalf("[HEAP]> compact/sweep requested with a single generation; this degenerate two-space configuration does not support mark-compact. Set generations >= 2 or disable compact/sweep.")
	}
}

// buildTopology allocates the single contiguous step array and wires
// generations, steps, and `to` pointers. Rationale (spec.md §4.1):
// allocating all steps contiguously lets step age comparisons be a plain
// integer compare on AbsNo.
func (sm *StorageManager) buildTopology() {
	g := sm.flags.Generations
	k := sm.flags.StepsPerGeneration
	sm.totalSteps = 1 + (g-1)*k

	sm.allSteps = make([]*Step, sm.totalSteps)
	sm.generations = make([]*Generation, g)

	absNo := 0
	for gi := 0; gi < g; gi++ {
		nSteps := k
		if gi == g-1 {
			nSteps = 1 // oldest generation always has exactly one step
		}

		gen := &Generation{No: gi, Steps: make([]*Step, nSteps)}
		sm.generations[gi] = gen

		for si := 0; si < nSteps; si++ {
			step := &Step{
				No:      si,
				AbsNo:   absNo,
				GenNo:   gi,
				Gen:     gen,
				Mark:    gi == g-1 && sm.flags.Sweep,
				Compact: gi == g-1 && sm.flags.Compact,
			}
			gen.Steps[si] = step
			sm.allSteps[absNo] = step
			absNo++
		}
	}

	sm.g0 = sm.generations[0]
	sm.oldestGen = sm.generations[g-1]

	// Wire `to` pointers: within a generation, a step promotes into the
	// next step of the same generation; the last step of a (non-oldest)
	// generation promotes into the next generation's first step; the
	// oldest step's To is itself (spec.md §3 Invariants).
	for gi := 0; gi < g; gi++ {
		gen := sm.generations[gi]
		last := len(gen.Steps) - 1
		for si, step := range gen.Steps {
			switch {
			case gi == g-1:
				step.To = step
			case si < last:
				step.To = gen.Steps[si+1]
			default:
				step.To = sm.generations[gi+1].Steps[0]
			}
		}
	}
}

// allocateCapabilities creates one Capability per configured capability
// count and one nursery step per capability, per spec.md §4.4's "one
// nursery per capability" and "nurseries[i].to ==
// generations[0].steps[0].to".
func (sm *StorageManager) allocateCapabilities() {
	n := sm.flags.Capabilities
	sm.capabilities = make([]*Capability, n)
	sm.nurseries = make([]*Step, n)

	g0s0To := sm.g0.Steps[0].To
	for i := 0; i < n; i++ {
		nursery := &Step{
			No:    i,
			AbsNo: -1, // nurseries are not part of the aged step array
			GenNo: 0,
			Gen:   sm.g0,
			To:    g0s0To,
		}
		sm.nurseries[i] = nursery
		sm.capabilities[i] = &Capability{No: i, sm: sm, rNursery: nursery}
	}
}

func (sm *StorageManager) allocateInitialNurseries() {
	for i, capa := range sm.capabilities {
		head := sm.allocNursery(sm.nurseries[i], nil, sm.flags.MinAllocAreaBlocks)
		sm.nurseries[i].Blocks = head
		sm.nurseries[i].NBlocks = sm.flags.MinAllocAreaBlocks
		capa.rCurrentNursery = head
		capa.rCurrentAlloc = nil
	}
}

// ExitStorage signals background helpers (none are started by this
// library directly; consumers running their own workers should honor
// this before FreeStorage) and is a no-op placeholder matching the
// original's exitStorage/freeStorage split — kept separate because a
// real runtime calls exitStorage from a different thread-state than
// freeStorage.
func (sm *StorageManager) ExitStorage() {
	cclog.Infof("[HEAP]> exit_storage")
}

// FreeStorage releases in reverse of NewStorageManager: nurseries, step
// array, generation array (spec.md §4.1).
func (sm *StorageManager) FreeStorage() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for i, nursery := range sm.nurseries {
		for bd := nursery.Blocks; bd != nil; {
			next := bd.Link
			sm.blockAlloc.FreeGroup(bd)
			bd = next
		}
		for bd := nursery.LargeObjects; bd != nil; {
			next := bd.Link
			sm.blockAlloc.FreeGroup(bd)
			bd = next
		}
		sm.nurseries[i] = nil
	}
	for _, step := range sm.allSteps {
		for bd := step.Blocks; bd != nil; {
			next := bd.Link
			sm.blockAlloc.FreeGroup(bd)
			bd = next
		}
		for bd := step.LargeObjects; bd != nil; {
			next := bd.Link
			sm.blockAlloc.FreeGroup(bd)
			bd = next
		}
	}
	sm.allSteps = nil
	sm.generations = nil
	sm.capabilities = nil
	sm.initialized = false
	if sm.events != nil {
		sm.events.Close()
	}
	cclog.Infof("[HEAP]> free_storage")
}

// Read-only topology views (spec.md §4.2).
func (sm *StorageManager) Generations() []*Generation { return sm.generations }
func (sm *StorageManager) G0() *Generation             { return sm.g0 }
func (sm *StorageManager) OldestGen() *Generation      { return sm.oldestGen }
func (sm *StorageManager) Nurseries() []*Step          { return sm.nurseries }
func (sm *StorageManager) AllSteps() []*Step           { return sm.allSteps }
func (sm *StorageManager) TotalSteps() int             { return sm.totalSteps }
func (sm *StorageManager) AllocBlocksLim() int         { return sm.allocBlocksLim }
func (sm *StorageManager) Capabilities() []*Capability { return sm.capabilities }

// DebugDump emits a one-line summary of the current topology, the
// equivalent of the original's init-time debug dump (spec.md §4.1). It
// is re-invoked periodically by cmd/rts-storaged via gocron.
func (sm *StorageManager) DebugDump() {
	cclog.Debugf("[HEAP]> topology: generations=%d total_steps=%d nurseries=%d alloc_blocks_lim=%d live_blocks=%d",
		len(sm.generations), sm.totalSteps, len(sm.nurseries), sm.allocBlocksLim, sm.CalcLiveBlocks())
}

// Tso is a minimal stand-in for a thread-state object, just enough
// structure for the write-barrier and step-queue operations named in
// spec.md §4.6. The scheduler that owns real TSOs is out of scope (§1).
type Tso struct {
	Sp          int // stack pointer, word offset
	Bd          *BlockDescriptor
	Dirty       bool
	LinkDirty   bool
	OnBlackhole bool
	Link        *Tso
}

// spinlock is a minimal CAS-based spinlock (spec.md §5: "per-step
// spinlock sync_large_objects"). No example repo in the retrieval pack
// models a spinlock; this is the idiomatic Go shape for one (a plain
// atomic.Bool loop — there is no ecosystem library for this primitive).
type spinlock struct {
	locked atomic.Bool
}

func (s *spinlock) Lock() {
	for !s.locked.CompareAndSwap(false, true) {
		// busy-wait; these critical sections are O(1) list-splice operations
	}
}

func (s *spinlock) Unlock() {
	s.locked.Store(false)
}
