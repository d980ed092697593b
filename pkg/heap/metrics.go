// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// metrics.go exposes the accounting snapshot (accounting.go) as
// Prometheus gauges, so cmd/rts-storaged can serve them alongside its
// debug HTTP routes. The teacher only consumes Prometheus as a query
// client (internal/metricdata/prometheus.go); this is the server side of
// the same library, registered against a private registry so multiple
// StorageManagers in one process (e.g. in tests) don't collide.
package heap

import "github.com/prometheus/client_golang/prometheus"

// metricsSet bundles the gauges one StorageManager publishes.
type metricsSet struct {
	registry *prometheus.Registry

	liveBlocks prometheus.Gauge
	liveWords  prometheus.Gauge
	allocated  prometheus.Gauge
	needed     prometheus.Gauge
	cafReverts prometheus.Counter
	execBytes  prometheus.Gauge
}

func newMetricsSet() *metricsSet {
	reg := prometheus.NewRegistry()
	m := &metricsSet{
		registry: reg,
		liveBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rts_storage",
			Name:      "live_blocks",
			Help:      "Blocks currently occupied across all generations and nurseries.",
		}),
		liveWords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rts_storage",
			Name:      "live_words",
			Help:      "Occupied words across all generations and nurseries.",
		}),
		allocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rts_storage",
			Name:      "allocated_words_total",
			Help:      "Cumulative words allocated since storage manager init.",
		}),
		needed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rts_storage",
			Name:      "needed_blocks",
			Help:      "Estimated blocks required to safely complete a collection.",
		}),
		cafReverts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rts_storage",
			Name:      "caf_reverts_total",
			Help:      "CAFs reverted to their unevaluated form.",
		}),
		execBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rts_storage",
			Name:      "exec_bytes_in_use",
			Help:      "Bytes currently allocated by the executable-memory allocator.",
		}),
	}
	reg.MustRegister(m.liveBlocks, m.liveWords, m.allocated, m.needed, m.cafReverts, m.execBytes)
	return m
}

func (m *metricsSet) observe(liveBlocks int, liveWords int64, allocated int64, needed int) {
	m.liveBlocks.Set(float64(liveBlocks))
	m.liveWords.Set(float64(liveWords))
	m.allocated.Set(float64(allocated))
	m.needed.Set(float64(needed))
}

func (m *metricsSet) observeCafRevert(n int) {
	m.cafReverts.Add(float64(n))
}

func (m *metricsSet) observeExecBytes(n int64) {
	m.execBytes.Set(float64(n))
}

// Registry exposes the private Prometheus registry backing this
// StorageManager's gauges, for cmd/rts-storaged to mount behind
// promhttp.HandlerFor.
func (sm *StorageManager) Registry() *prometheus.Registry {
	return sm.metrics.registry
}
