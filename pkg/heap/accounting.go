// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// accounting.go implements the accounting/estimator operations (spec.md
// §4.7): allocated/live/needed block and word counters, used both for
// DebugDump and for the Prometheus gauges in metrics.go. Grounded on
// pkg/metricstore/buffer.go's count() helper and
// pkg/metricstore/metricstore.go's MemoryUsageTracker periodic sampling.
package heap

import (
	"context"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// CalcAllocated returns the cumulative word count ever bump-allocated
// through Allocate/AllocatePinned across all capabilities, plus whatever
// is currently live in large-object lists. Grounded on the original's
// calcAllocated, which walks nurseries summing (free - start) before a
// GC snapshot (spec.md §4.7).
func (sm *StorageManager) CalcAllocated() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var total int64
	for _, nursery := range sm.nurseries {
		for bd := nursery.Blocks; bd != nil; bd = bd.Link {
			total += int64(bd.Free - bd.Start)
		}
		for bd := nursery.LargeObjects; bd != nil; bd = bd.Link {
			total += int64(bd.Free - bd.Start)
		}
	}
	return total + sm.totalAllocated
}

// CalcLiveBlocks sums NBlocks+NLargeBlocks across every aged step and
// every nursery (spec.md §4.7's count(chain)==counter invariant,
// generalized into a total).
func (sm *StorageManager) CalcLiveBlocks() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.calcLiveBlocksLocked()
}

func (sm *StorageManager) calcLiveBlocksLocked() int {
	total := 0
	for _, step := range sm.allSteps {
		total += step.NBlocks + step.NLargeBlocks
	}
	for _, nursery := range sm.nurseries {
		total += nursery.NBlocks + nursery.NLargeBlocks
	}
	return total
}

// CalcLiveWords sums the occupied word range (Free - Start) of every
// block reachable from aged steps and nurseries: a tighter estimate than
// CalcLiveBlocks, which counts whole blocks (spec.md §4.7).
func (sm *StorageManager) CalcLiveWords() int64 {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var total int64
	walk := func(bd *BlockDescriptor) {
		for ; bd != nil; bd = bd.Link {
			total += int64(bd.Free - bd.Start)
		}
	}
	for _, step := range sm.allSteps {
		walk(step.Blocks)
		walk(step.LargeObjects)
	}
	for _, nursery := range sm.nurseries {
		walk(nursery.Blocks)
		walk(nursery.LargeObjects)
	}
	return total
}

// CalcNeeded estimates the number of additional blocks required to
// collect the heap without running out of space mid-GC: enough to hold
// every live step's current occupancy plus one nursery-sized safety
// margin per capability (spec.md §4.7 "needed blocks" estimator).
func (sm *StorageManager) CalcNeeded() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	needed := sm.calcLiveBlocksLocked()
	needed += len(sm.capabilities) * sm.flags.MinAllocAreaBlocks
	return needed
}

// CountOccupied reports how many words of bd's backing storage are
// currently in use, i.e. Free - Start (spec.md §4.7).
func CountOccupied(bd *BlockDescriptor) int {
	if bd == nil {
		return 0
	}
	return bd.Free - bd.Start
}

// accountingTick is invoked by the periodic background worker started by
// StartAccounting (a time.Ticker loop) to refresh Prometheus gauges and log a
// summary line, mirroring pkg/metricstore/metricstore.go's
// MemoryUsageTracker.
func (sm *StorageManager) accountingTick() {
	liveBlocks := sm.CalcLiveBlocks()
	liveWords := sm.CalcLiveWords()
	allocated := sm.CalcAllocated()
	needed := sm.CalcNeeded()

	if sm.metrics != nil {
		sm.metrics.observe(liveBlocks, liveWords, allocated, needed)
		if sm.exec != nil {
			sm.metrics.observeExecBytes(sm.exec.BytesInUse())
		}
	}
	cclog.Debugf("[HEAP]> accounting: live_blocks=%d live_words=%d allocated=%d needed_blocks=%d",
		liveBlocks, liveWords, allocated, needed)
}

// StartAccounting runs accountingTick on interval until ctx is
// cancelled, signaling wg.Done on exit. Grounded on
// pkg/metricstore/metricstore.go's MemoryUsageTracker (ticker + select
// over ctx.Done/ticker.C).
func (sm *StorageManager) StartAccounting(wg *sync.WaitGroup, ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMemoryCheckInterval
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.accountingTick()
			}
		}
	}()
}
