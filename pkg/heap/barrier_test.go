// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "testing"

func oldGenBlock(sm *StorageManager) *BlockDescriptor {
	return &BlockDescriptor{GenNo: sm.oldestGen.No, Start: 0, Free: 0}
}

// ─── dirty_mut_var ───────────────────────────────────────────────────────────

func TestDirtyMutVarRecordsOnceThenIdempotent(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	p := &MutVar{Bd: oldGenBlock(sm)}

	sm.DirtyMutVar(capa, p)
	if p.Info != Dirty {
		t.Error("DirtyMutVar should mark p dirty")
	}
	if got := sm.MutListLen(sm.oldestGen); got != 1 {
		t.Errorf("mut list length = %d, want 1", got)
	}

	sm.DirtyMutVar(capa, p) // already dirty: must not record again
	if got := sm.MutListLen(sm.oldestGen); got != 1 {
		t.Errorf("mut list length after second call = %d, want still 1 (idempotent)", got)
	}
}

func TestDirtyMutVarNurseryObjectNotRecorded(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	p := &MutVar{Bd: &BlockDescriptor{GenNo: 0}} // lives in the nursery generation

	sm.DirtyMutVar(capa, p)
	if got := sm.MutListLen(sm.g0); got != 0 {
		t.Errorf("mut list length for g0 = %d, want 0 (nursery objects aren't remembered)", got)
	}
}

// ─── set_tso_link ────────────────────────────────────────────────────────────

func TestSetTsoLinkRecordsLinkDirtyOnce(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	tso := &Tso{Bd: oldGenBlock(sm)}
	target := &Tso{}

	sm.SetTsoLink(capa, tso, target)
	if tso.Link != target {
		t.Error("SetTsoLink should set tso.Link regardless of recording")
	}
	if !tso.LinkDirty {
		t.Error("SetTsoLink should mark LinkDirty")
	}
	if got := sm.MutListLen(sm.oldestGen); got != 1 {
		t.Errorf("mut list length = %d, want 1", got)
	}

	sm.SetTsoLink(capa, tso, &Tso{})
	if got := sm.MutListLen(sm.oldestGen); got != 1 {
		t.Errorf("mut list length after second SetTsoLink = %d, want still 1", got)
	}
}

func TestSetTsoLinkSkipsEndOfQueueSentinel(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	tso := &Tso{Bd: oldGenBlock(sm)}

	sm.SetTsoLink(capa, tso, nil)
	if tso.Link != nil {
		t.Error("tso.Link should be set to nil (the sentinel)")
	}
	if tso.LinkDirty {
		t.Error("linking to the end-of-queue sentinel should not mark LinkDirty")
	}
	if got := sm.MutListLen(sm.oldestGen); got != 0 {
		t.Errorf("mut list length = %d, want 0", got)
	}
}

func TestSetTsoLinkSkipsAlreadyWhollyDirty(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	tso := &Tso{Bd: oldGenBlock(sm), Dirty: true}

	sm.SetTsoLink(capa, tso, &Tso{})
	if got := sm.MutListLen(sm.oldestGen); got != 0 {
		t.Errorf("mut list length = %d, want 0 (already wholesale dirty)", got)
	}
}

// ─── dirty_tso / dirty_mvar ──────────────────────────────────────────────────

func TestDirtyTsoIdempotent(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	tso := &Tso{Bd: oldGenBlock(sm)}

	sm.DirtyTso(capa, tso)
	sm.DirtyTso(capa, tso)
	if got := sm.MutListLen(sm.oldestGen); got != 1 {
		t.Errorf("mut list length = %d, want 1", got)
	}
}

func TestDirtyMvarAlwaysRecords(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	p := &MVar{Bd: oldGenBlock(sm)}

	sm.DirtyMvar(capa, p)
	sm.DirtyMvar(capa, p)
	if got := sm.MutListLen(sm.oldestGen); got != 2 {
		t.Errorf("mut list length = %d, want 2 (caller is responsible for the clean-flag check)", got)
	}
}

// ─── move_tso ────────────────────────────────────────────────────────────────

func TestMoveTsoAdjustsStackPointerByDelta(t *testing.T) {
	src := &Tso{Sp: 40}
	dest := &Tso{}
	MoveTso(dest, src, 8)
	if dest.Sp != 48 {
		t.Errorf("dest.Sp = %d, want 48", dest.Sp)
	}
}
