// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "time"

// Defaults mirror the teacher's const block in pkg/metricstore/config.go.
const (
	DefaultGenerations           = 2
	DefaultStepsPerGeneration    = 2
	DefaultCapabilities          = 4
	DefaultMinAllocAreaBlocks    = 4
	DefaultLargeObjectThreshold  = 3 * BlockSize / 4
	DefaultExecPageSize          = 4 * BlockSize
	DefaultMemoryCheckInterval   = 5 * time.Second
	DefaultDebugDumpInterval     = time.Minute
)

// EventsConfig configures the NATS sink used to publish CAF-revert and
// heap-overflow notifications (pkg/heap/events.go). Mirrors the shape of
// the teacher's pkg/nats config (address/username/password/creds-file).
type EventsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
}

// DebugConfig mirrors pkg/metricstore/config.go's Debug struct.
type DebugConfig struct {
	DumpToFile string `json:"dump-to-file"`
	EnableGops bool   `json:"gops"`
}

// RTSFlags is the runtime-flags record consumed by InitStorage (spec.md
// §6 "Consumed from collaborators"). Field names mirror the original's
// RtsFlags.GcFlags members where there is a direct correspondent.
type RTSFlags struct {
	// Generations is the number of generations (G); StepsPerGeneration is
	// the number of steps in every generation except the oldest, which
	// always has exactly one step (spec.md §3 Invariants).
	Generations        int `json:"generations"`
	StepsPerGeneration int `json:"steps-per-generation"`

	// Capabilities is the number of mutator execution contexts, each
	// with its own nursery.
	Capabilities int `json:"capabilities"`

	// MinAllocAreaBlocks sizes a freshly (re)allocated nursery.
	MinAllocAreaBlocks int `json:"min-alloc-area-blocks"`

	// MaxHeapSizeBlocks caps total heap blocks; 0 means unlimited.
	MaxHeapSizeBlocks int `json:"max-heap-size-blocks"`

	// HeapSizeSuggestionBlocks is advisory sizing passed through to
	// resize_nurseries-style callers; 0 means "no suggestion".
	HeapSizeSuggestionBlocks int `json:"heap-size-suggestion-blocks"`

	// Compact/Sweep select the oldest generation's collection policy.
	// Requesting either with Generations == 1 is a fatal init-time error,
	// not a silent downgrade (see SPEC_FULL.md's Open Question decision).
	Compact bool `json:"compact"`
	Sweep   bool `json:"sweep"`

	// KeepCAFs controls whether statically-compiled CAFs are retained as
	// dynamic (spec.md §4.3): only meaningful when DynamicLinking is set.
	KeepCAFs       bool `json:"keep-cafs"`
	DynamicLinking bool `json:"dynamic-linking"`

	// LargeObjectThresholdBytes / ExecPageSizeBytes default to the
	// constants above when zero.
	LargeObjectThresholdBytes int `json:"large-object-threshold-bytes"`
	ExecPageSizeBytes         int `json:"exec-page-size-bytes"`

	// Sanity turns on the debug/sanity-check paths named throughout
	// spec.md §4 ("under sanity", "under debug").
	Sanity bool `json:"sanity"`

	Events *EventsConfig `json:"events"`
	Debug  *DebugConfig  `json:"debug"`
}

// Keys holds the default configuration values. Nothing in this package
// writes or reads it: NewStorageManager applies the same defaults to the
// zero fields of the RTSFlags it is given.
var Keys = RTSFlags{
	Generations:               DefaultGenerations,
	StepsPerGeneration:        DefaultStepsPerGeneration,
	Capabilities:              DefaultCapabilities,
	MinAllocAreaBlocks:        DefaultMinAllocAreaBlocks,
	LargeObjectThresholdBytes: DefaultLargeObjectThreshold,
	ExecPageSizeBytes:         DefaultExecPageSize,
}

func (f *RTSFlags) applyDefaults() {
	if f.Generations <= 0 {
		f.Generations = DefaultGenerations
	}
	if f.StepsPerGeneration <= 0 {
		f.StepsPerGeneration = DefaultStepsPerGeneration
	}
	if f.Capabilities <= 0 {
		f.Capabilities = DefaultCapabilities
	}
	if f.MinAllocAreaBlocks <= 0 {
		f.MinAllocAreaBlocks = DefaultMinAllocAreaBlocks
	}
	if f.LargeObjectThresholdBytes <= 0 {
		f.LargeObjectThresholdBytes = DefaultLargeObjectThreshold
	}
	if f.ExecPageSizeBytes <= 0 {
		f.ExecPageSizeBytes = DefaultExecPageSize
	}
}

// largeObjectThresholdWords is LargeObjectThresholdBytes expressed in
// words, rounded up, matching spec.md §4.5's "n >= LARGE_OBJECT_THRESHOLD
// / word_size".
func (f *RTSFlags) largeObjectThresholdWords() int {
	return (f.LargeObjectThresholdBytes + WordSize - 1) / WordSize
}
