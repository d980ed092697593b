// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"sync"
	"testing"
)

func testFlags() RTSFlags {
	return RTSFlags{
		Generations:        3,
		StepsPerGeneration: 2,
		Capabilities:       2,
		MinAllocAreaBlocks: 4,
	}
}

// ─── Topology construction ──────────────────────────────────────────────────

func TestBuildTopologyStepCounts(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	// G=3, K=2: gen0 and gen1 have 2 steps each, gen2 (oldest) has 1.
	if got, want := sm.TotalSteps(), 5; got != want {
		t.Errorf("TotalSteps() = %d, want %d", got, want)
	}
	if got, want := len(sm.Generations()), 3; got != want {
		t.Errorf("len(Generations()) = %d, want %d", got, want)
	}
	if got, want := len(sm.OldestGen().Steps), 1; got != want {
		t.Errorf("oldest generation has %d steps, want %d", got, want)
	}
}

func TestBuildTopologyToPointers(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	g0, g1, g2 := sm.Generations()[0], sm.Generations()[1], sm.Generations()[2]

	if g0.Steps[0].To != g0.Steps[1] {
		t.Error("gen0 step0 should promote into gen0 step1")
	}
	if g0.Steps[1].To != g1.Steps[0] {
		t.Error("gen0's last step should promote into gen1's first step")
	}
	if g1.Steps[1].To != g2.Steps[0] {
		t.Error("gen1's last step should promote into the oldest generation's only step")
	}
	if g2.Steps[0].To != g2.Steps[0] {
		t.Error("oldest generation's step should promote into itself")
	}
}

func TestAllStepsAbsNoIsContiguous(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	for i, step := range sm.AllSteps() {
		if step.AbsNo != i {
			t.Errorf("AllSteps()[%d].AbsNo = %d, want %d", i, step.AbsNo, i)
		}
	}
}

func TestReconcileHeapPolicyCapsMinAllocArea(t *testing.T) {
	flags := testFlags()
	flags.MaxHeapSizeBlocks = 2
	flags.MinAllocAreaBlocks = 8
	reconcileHeapPolicy(&flags)
	if flags.MinAllocAreaBlocks != 2 {
		t.Errorf("MinAllocAreaBlocks = %d, want capped to 2", flags.MinAllocAreaBlocks)
	}
}

// ─── Nurseries and capabilities ─────────────────────────────────────────────

func TestAllocateInitialNurseriesSizing(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	if got, want := len(sm.Capabilities()), 2; got != want {
		t.Fatalf("len(Capabilities()) = %d, want %d", got, want)
	}
	for i, capa := range sm.Capabilities() {
		if capa.No != i {
			t.Errorf("capability %d has No = %d", i, capa.No)
		}
		if countBlocks(capa.rCurrentNursery) != sm.flags.MinAllocAreaBlocks {
			t.Errorf("capability %d nursery chain has %d blocks, want %d",
				i, countBlocks(capa.rCurrentNursery), sm.flags.MinAllocAreaBlocks)
		}
	}
	if got, want := sm.CountNurseryBlocks(), len(sm.Capabilities())*sm.flags.MinAllocAreaBlocks; got != want {
		t.Errorf("CountNurseryBlocks() = %d, want %d", got, want)
	}
}

// ─── Singleton ───────────────────────────────────────────────────────────────

func TestInitStorageIsIdempotent(t *testing.T) {
	smOnce = sync.Once{}
	first := InitStorage(testFlags())
	second := InitStorage(RTSFlags{Generations: 99, StepsPerGeneration: 1, Capabilities: 1, MinAllocAreaBlocks: 1})
	if first != second {
		t.Error("second InitStorage call should return the same singleton")
	}
	if GetStorageManager() != first {
		t.Error("GetStorageManager() should return the singleton")
	}
	first.FreeStorage()
}
