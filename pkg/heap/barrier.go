// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// barrier.go implements the mutator write barriers (spec.md §4.6): three
// clean->dirty transitions, each recording a reference into the owning
// capability's per-generation mutable list so the next collection of a
// younger generation can find it as a root.
//
// The mutable-list recording itself (record_mutable_gen/record_mutable_cap)
// is named in spec.md §6 as an API *consumed from collaborators* — owned,
// in a real runtime, by the collector that drains it. This package ships
// a default in-process implementation (Capability.recordMutable /
// StorageManager.RecordMutableGen below) so the barriers are independently
// testable. A consumer can replace the per-capability recording via
// SetMutableListRecorder; RecordMutableGen always records into the
// in-process generation-level list.
package heap

import "sync"

// CleanDirty is the two-state flag guarding each write-barrier's
// fast-path check.
type CleanDirty uint8

const (
	Clean CleanDirty = iota
	Dirty
)

// MutVar is a single mutable cell (spec.md §4.6's dirty_mut_var target).
type MutVar struct {
	Info CleanDirty
	Bd   *BlockDescriptor // containing block; Bd.GenNo determines root-scan need
	Val  any
}

// MVar is a shared synchronizing box (spec.md §4.6's dirty_mvar target).
type MVar struct {
	Bd  *BlockDescriptor
	Val any
}

// MutableListRecorder is the pluggable "record this object as a root for
// later scanning" hook. Defaults to an in-process slice-backed list.
type MutableListRecorder func(gen *Generation, capa *Capability, obj any)

// mutList is the default in-process remembered-set implementation: one
// per (capability, generation) pair, matching spec.md §4.6's "owning
// capability's per-generation mutable list".
type mutList struct {
	mu      sync.Mutex
	entries []any
}

func (l *mutList) record(obj any) {
	l.mu.Lock()
	l.entries = append(l.entries, obj)
	l.mu.Unlock()
}

func (l *mutList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// recordMutable appends obj onto capa's list for gen, using the
// StorageManager's recorder hook if one has been installed.
func (capa *Capability) recordMutable(gen *Generation, obj any) {
	if capa.sm.recorder != nil {
		capa.sm.recorder(gen, capa, obj)
		return
	}
	capa.mu.Lock()
	if capa.mutLists == nil {
		capa.mutLists = make(map[int]*mutList)
	}
	l, ok := capa.mutLists[gen.No]
	if !ok {
		l = &mutList{}
		capa.mutLists[gen.No] = l
	}
	capa.mu.Unlock()
	l.record(obj)
}

// SetMutableListRecorder installs a custom record_mutable_cap
// implementation, e.g. one owned by an external collector. It is used by
// the write barriers only; RecordMutableGen does not call it.
func (sm *StorageManager) SetMutableListRecorder(fn MutableListRecorder) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.recorder = fn
}

// RecordMutableGen directly records obj as a root of gen, independent of
// any capability (used by NewCaf, spec.md §4.3).
func (sm *StorageManager) RecordMutableGen(gen *Generation, obj any) {
	sm.mu.Lock()
	if sm.genMutLists == nil {
		sm.genMutLists = make(map[int]*mutList)
	}
	l, ok := sm.genMutLists[gen.No]
	if !ok {
		l = &mutList{}
		sm.genMutLists[gen.No] = l
	}
	sm.mu.Unlock()
	l.record(obj)
}

// MutListLen reports how many entries are recorded for gen across all
// capabilities plus the generation-level list, for tests/introspection.
func (sm *StorageManager) MutListLen(gen *Generation) int {
	n := 0
	sm.mu.Lock()
	if sm.genMutLists != nil {
		if l, ok := sm.genMutLists[gen.No]; ok {
			n += l.len()
		}
	}
	sm.mu.Unlock()
	for _, capa := range sm.capabilities {
		capa.mu.Lock()
		l, ok := capa.mutLists[gen.No]
		capa.mu.Unlock()
		if ok {
			n += l.len()
		}
	}
	return n
}

// DirtyMutVar transitions p from Clean to Dirty, recording it as a root
// if it lives outside the nursery (spec.md §4.6).
func (sm *StorageManager) DirtyMutVar(capa *Capability, p *MutVar) {
	if p.Info == Clean {
		p.Info = Dirty
		sm.recordIfOld(capa, p.Bd, p)
	}
}

// SetTsoLink sets tso.Link to target, first marking tso's link dirty and
// recording it if needed. Skipped (per spec.md §4.6) when target is the
// end-of-queue sentinel (nil), tso is headed for the blackhole queue, or
// tso is already (wholesale) dirty.
func (sm *StorageManager) SetTsoLink(capa *Capability, tso *Tso, target *Tso) {
	if target != nil && !tso.OnBlackhole && !tso.Dirty && !tso.LinkDirty {
		tso.LinkDirty = true
		sm.recordIfOld(capa, tso.Bd, tso)
	}
	tso.Link = target
}

// DirtyTso marks tso dirty wholesale (spec.md §4.6).
func (sm *StorageManager) DirtyTso(capa *Capability, tso *Tso) {
	if !tso.Dirty {
		tso.Dirty = true
		sm.recordIfOld(capa, tso.Bd, tso)
	}
}

// DirtyMvar unconditionally records p (the CLEAN fast-path check is
// inlined at the caller in the original; here the caller is expected to
// have already checked, matching spec.md §4.6).
func (sm *StorageManager) DirtyMvar(capa *Capability, p *MVar) {
	sm.recordIfOld(capa, p.Bd, p)
}

func (sm *StorageManager) recordIfOld(capa *Capability, bd *BlockDescriptor, obj any) {
	if bd != nil && bd.GenNo > 0 {
		capa.recordMutable(sm.generations[bd.GenNo], obj)
	}
}

// MoveTso adjusts dest's stack pointer after a GC-driven relocation of a
// TSO from src's old location to dest's new one. deltaWords is the
// pointer difference (in words) between dest and src, computed by the
// caller (the collector), which alone knows real addresses (spec.md
// §4.6).
func MoveTso(dest, src *Tso, deltaWords int) {
	dest.Sp = src.Sp + deltaWords
}
