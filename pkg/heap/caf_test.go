// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "testing"

func TestNewCafRecordsIntoOldestGenByDefault(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	caf := &Caf{Info: 42}
	sm.NewCaf(caf)

	if caf.SavedInfo != 0 {
		t.Errorf("SavedInfo = %d, want 0 (not revertible)", caf.SavedInfo)
	}
	if sm.MutListLen(sm.oldestGen) != 1 {
		t.Errorf("oldest generation mut list length = %d, want 1", sm.MutListLen(sm.oldestGen))
	}
}

func TestNewCafKeepsDynamicCafsWhenConfigured(t *testing.T) {
	flags := testFlags()
	flags.KeepCAFs = true
	flags.DynamicLinking = true
	sm := NewStorageManager(flags)
	defer sm.FreeStorage()

	caf := &Caf{Info: 7}
	sm.NewCaf(caf)

	if caf.SavedInfo != 7 {
		t.Errorf("SavedInfo = %d, want 7 (info pointer preserved for revert)", caf.SavedInfo)
	}
	if len(sm.RevertibleCafs()) != 0 {
		t.Error("statically KEPT CAFs belong on cafList, not revertibleCafList")
	}
}

func TestNewDynCafIsRevertible(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	caf := &Caf{Info: 99}
	sm.NewDynCaf(caf)

	revertible := sm.RevertibleCafs()
	if len(revertible) != 1 || revertible[0] != caf {
		t.Fatalf("RevertibleCafs() = %v, want [caf]", revertible)
	}
}

func TestRevertCafsRestoresInfoAndEmptiesList(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	caf := &Caf{Info: 99}
	sm.NewDynCaf(caf)
	caf.Info = 0xDEAD // simulate evaluation overwriting the info pointer

	n := sm.RevertCafs()
	if n != 1 {
		t.Errorf("RevertCafs() = %d, want 1", n)
	}
	if caf.Info != 99 {
		t.Errorf("caf.Info = %d, want reverted to SavedInfo = 99", caf.Info)
	}
	if len(sm.RevertibleCafs()) != 0 {
		t.Error("RevertCafs should empty the revertible list")
	}
}
