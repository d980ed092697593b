// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// caf.go implements the CAF (constant applicative form) registry
// (spec.md §4.3). Grounded on pkg/metricstore/level.go's
// double-checked-locking pattern (check under a read-ish lock, take the
// write lock, recheck, mutate) and pkg/metricstore/buffer.go's
// prepend-onto-chain shape in write()/newBuffer().
package heap

import (
	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// InfoPointer is an opaque handle to the closure info table entry a CAF
// currently points at. The real representation (a code/info pointer) is
// owned by the compiler/linker, out of scope here (spec.md §1); this
// package only needs to compare and swap it.
type InfoPointer uintptr

// Caf represents one constant applicative form: a top-level thunk that,
// once evaluated, is cached and retained as a GC root.
type Caf struct {
	Info      InfoPointer // the CAF closure's current info pointer
	SavedInfo InfoPointer // original info pointer, for revert; 0 if not revertible
	next      *Caf        // link in whichever list owns this entry
}

// NewCaf is invoked by generated entry code the first time a top-level
// thunk is evaluated (spec.md §4.3).
//
// If KeepCAFs is set and dynamic linking is enabled, the CAF is treated
// as dynamic: save its info pointer and link it onto the permanent
// caf_list. Otherwise, the CAF's saved info pointer is cleared (not
// revertible) and it is instead recorded as a mutable reference into the
// oldest generation, so a GC of any younger generation scans it as a
// root.
func (sm *StorageManager) NewCaf(caf *Caf) {
	if sm.flags.KeepCAFs && sm.flags.DynamicLinking {
		sm.cafMu.Lock()
		caf.SavedInfo = caf.Info
		caf.next = sm.cafList
		sm.cafList = caf
		sm.cafMu.Unlock()
		return
	}

	caf.SavedInfo = 0
	sm.RecordMutableGen(sm.oldestGen, caf)
}

// NewDynCaf is invoked from code loaded into an interactive session: the
// CAF is always made revertible and prepended onto revertibleCafList
// (spec.md §4.3).
func (sm *StorageManager) NewDynCaf(caf *Caf) {
	sm.cafMu.Lock()
	defer sm.cafMu.Unlock()
	caf.SavedInfo = caf.Info
	caf.next = sm.revertibleCafList
	sm.revertibleCafList = caf
}

// RevertCafs walks revertibleCafList, restores each closure's info
// pointer from SavedInfo, and empties the list. This is the external
// collector's revert_cafs operation (spec.md §4.3), exposed here because
// the list itself lives in this package.
func (sm *StorageManager) RevertCafs() int {
	sm.cafMu.Lock()
	defer sm.cafMu.Unlock()

	n := 0
	for c := sm.revertibleCafList; c != nil; c = c.next {
		c.Info = c.SavedInfo
		n++
	}
	sm.revertibleCafList = nil

	if n > 0 {
		cclog.Debugf("[HEAP]> revert_cafs: reverted %d CAFs", n)
		if sm.events != nil {
			sm.events.PublishCafRevert(n)
		}
		if sm.metrics != nil {
			sm.metrics.observeCafRevert(n)
		}
	}
	return n
}

// RevertibleCafs returns the revertible list head-to-tail (most recently
// registered first), for tests and introspection.
func (sm *StorageManager) RevertibleCafs() []*Caf {
	sm.cafMu.Lock()
	defer sm.cafMu.Unlock()
	var out []*Caf
	for c := sm.revertibleCafList; c != nil; c = c.next {
		out = append(out, c)
	}
	return out
}
