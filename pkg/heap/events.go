// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of rts-storage.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// events.go publishes CAF-revert and heap-overflow notifications over
// NATS, for external tooling (a REPL, a debugger) watching a running
// heap. Grounded directly on pkg/nats/client.go's NewClient: same option
// set (user/pass, creds file, disconnect/reconnect handlers), here
// scoped to one StorageManager instead of a process-wide singleton.
package heap

import (
	"fmt"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"
)

const (
	subjectCafRevert    = "rts.heap.caf_revert"
	subjectHeapOverflow = "rts.heap.overflow"
)

// EventsPublisher wraps a best-effort NATS connection. A StorageManager
// with no events configuration, or whose connection attempt failed,
// still runs normally (spec.md §4.3/§4.5 treat these as external
// observers, never load-bearing for allocation or CAF logic).
type EventsPublisher struct {
	conn *nats.Conn
}

// newEventsPublisher dials cfg.Address if set, logging and continuing
// with a nil connection on failure (mirrors pkg/nats.Connect's
// warn-and-skip behavior rather than failing storage-manager init over
// an optional notification sink).
func newEventsPublisher(cfg EventsConfig) *EventsPublisher {
	if cfg.Address == "" {
		return &EventsPublisher{}
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			cclog.Warnf("[HEAP]> events: disconnected: %v", err)
		}
	}))
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		cclog.Infof("[HEAP]> events: reconnected to %s", nc.ConnectedUrl())
	}))

	conn, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		cclog.Warnf("[HEAP]> events: connect to %s failed: %v", cfg.Address, err)
		return &EventsPublisher{}
	}
	cclog.Infof("[HEAP]> events: connected to %s", cfg.Address)
	return &EventsPublisher{conn: conn}
}

func (p *EventsPublisher) publish(subject string, data []byte) {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		cclog.Warnf("[HEAP]> events: publish to %s failed: %v", subject, err)
	}
}

// PublishCafRevert announces that n CAFs were just reverted to their
// unevaluated form (spec.md §4.3).
func (p *EventsPublisher) PublishCafRevert(n int) {
	p.publish(subjectCafRevert, []byte(fmt.Sprintf(`{"reverted":%d}`, n)))
}

// PublishHeapOverflow announces that capability capNo hit ErrHeapOverflow
// (spec.md §4.5).
func (p *EventsPublisher) PublishHeapOverflow(capNo int) {
	p.publish(subjectHeapOverflow, []byte(fmt.Sprintf(`{"capability":%d}`, capNo)))
}

// Close flushes and closes the underlying connection, if any.
func (p *EventsPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
