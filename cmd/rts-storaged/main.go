// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command rts-storaged is a demo/exercise harness around pkg/heap: it
// loads configuration, starts a StorageManager, runs a small synthetic
// mutator workload across its capabilities, and serves the resulting
// accounting data over HTTP. It is not itself a language runtime.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/cc-lang/rts-storage/internal/config"
	"github.com/cc-lang/rts-storage/pkg/heap"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/gops/agent"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var flagConfigFile string
	var flagGops bool
	var flagWorkload bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default configuration with `config.json`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagWorkload, "workload", true, "Run the synthetic mutator workload against the heap")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Fatalf("loading .env failed: %s", err.Error())
	}

	config.Init(flagConfigFile)

	var flags heap.RTSFlags
	if len(config.Keys.Storage) > 0 {
		heap.ValidateRTSFlags(config.Keys.Storage)

		dec := json.NewDecoder(bytes.NewReader(config.Keys.Storage))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&flags); err != nil {
			cclog.Fatalf("parsing storage config failed: %s", err.Error())
		}
	}
	if flags.Debug != nil && flags.Debug.EnableGops && !flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	sm := heap.InitStorage(flags)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	sm.StartAccounting(&wg, ctx, heap.DefaultMemoryCheckInterval)

	sched, err := gocron.NewScheduler()
	if err != nil {
		cclog.Fatalf("gocron: could not create scheduler: %s", err.Error())
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(heap.DefaultDebugDumpInterval),
		gocron.NewTask(sm.DebugDump),
	); err != nil {
		cclog.Fatalf("gocron: could not register debug-dump job: %s", err.Error())
	}
	sched.Start()

	if flagWorkload {
		runSyntheticWorkload(sm)
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(sm.Registry(), promhttp.HandlerOpts{}))
	router.HandleFunc("/debug/heap", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"generations":   len(sm.Generations()),
			"total_steps":   sm.TotalSteps(),
			"live_blocks":   sm.CalcLiveBlocks(),
			"live_words":    sm.CalcLiveWords(),
			"allocated":     sm.CalcAllocated(),
			"needed_blocks": sm.CalcNeeded(),
			"nursery_blocks": sm.CountNurseryBlocks(),
		})
	})

	server := &http.Server{Addr: config.Keys.Addr, Handler: router}

	wg.Add(1)
	go func() {
		defer wg.Done()
		cclog.Infof("[HEAP]> rts-storaged listening at %s", config.Keys.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cclog.Fatal(err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	cclog.Infof("[HEAP]> rts-storaged shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	_ = sched.Shutdown()
	cancel()
	wg.Wait()

	sm.ExitStorage()
	sm.FreeStorage()
	cclog.Infof("[HEAP]> rts-storaged stopped")
}

// runSyntheticWorkload exercises every capability's allocator briefly so
// /debug/heap and /metrics have non-zero numbers to show, standing in
// for the mutator/compiler-generated code this package has no access to
// (spec.md §1 Out of scope).
func runSyntheticWorkload(sm *heap.StorageManager) {
	for _, capa := range sm.Capabilities() {
		for i := 0; i < 64; i++ {
			if _, err := capa.Allocate(4); err != nil {
				cclog.Warnf("[HEAP]> workload: allocate failed on capability %d: %s", capa.No, err.Error())
				break
			}
		}
		if _, err := capa.AllocatePinned(16); err != nil {
			cclog.Warnf("[HEAP]> workload: allocate-pinned failed on capability %d: %s", capa.No, err.Error())
		}
	}

	caf := &heap.Caf{Info: 1}
	sm.NewCaf(caf)
}
