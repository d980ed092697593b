// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCalcLiveBlocksIncludesNurseriesAndSteps(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	want := len(sm.capabilities) * sm.flags.MinAllocAreaBlocks
	if got := sm.CalcLiveBlocks(); got != want {
		t.Errorf("CalcLiveBlocks() = %d, want %d", got, want)
	}
}

func TestCalcAllocatedTracksBumpedWords(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	capa := sm.capabilities[0]
	if _, err := capa.Allocate(16); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if got := sm.CalcAllocated(); got < 16 {
		t.Errorf("CalcAllocated() = %d, want >= 16", got)
	}
}

func TestCalcNeededScalesWithCapabilities(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	needed := sm.CalcNeeded()
	want := sm.CalcLiveBlocks() + len(sm.capabilities)*sm.flags.MinAllocAreaBlocks
	if needed != want {
		t.Errorf("CalcNeeded() = %d, want %d", needed, want)
	}
}

func TestCountOccupied(t *testing.T) {
	bd := &BlockDescriptor{Start: 100, Free: 140}
	if got := CountOccupied(bd); got != 40 {
		t.Errorf("CountOccupied() = %d, want 40", got)
	}
	if got := CountOccupied(nil); got != 0 {
		t.Errorf("CountOccupied(nil) = %d, want 0", got)
	}
}

func TestStartAccountingStopsOnContextCancel(t *testing.T) {
	sm := NewStorageManager(testFlags())
	defer sm.FreeStorage()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	sm.StartAccounting(&wg, ctx, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartAccounting worker did not exit after context cancellation")
	}
}
