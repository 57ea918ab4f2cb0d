/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metric holds the in-process counters a node keeps on its own
// chain and gossip activity. It registers everything against
// metrics.DefaultRegistry the same way worker/dbms_rpc.go registers its
// query counters, so a single log line (see LogEvery) is enough to see
// activity without standing up a collection service.
package metric

import (
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/Alalun/catena/log"
)

// Node-wide counters. They are package-level like the teacher's
// db-query-succ/db-query-fail meters because a process runs exactly one
// node; a multi-node test binary would need per-instance registries, but
// nothing in this module ever does that.
var (
	BlocksMined     = metrics.NewMeter()
	BlocksReceived  = metrics.NewMeter()
	BlocksOrphaned  = metrics.NewMeter()
	BlocksRejected  = metrics.NewMeter()
	TxAccepted      = metrics.NewMeter()
	TxApplied       = metrics.NewMeter()
	StatementsRun   = metrics.NewMeter()
	PeersConnected  = metrics.NewCounter()
	GossipBytesIn   = metrics.NewMeter()
	GossipBytesOut  = metrics.NewMeter()
	ReplayQueueSize = metrics.NewGauge()
)

func init() {
	metrics.Register("blocks-mined", BlocksMined)
	metrics.Register("blocks-received", BlocksReceived)
	metrics.Register("blocks-orphaned", BlocksOrphaned)
	metrics.Register("blocks-rejected", BlocksRejected)
	metrics.Register("tx-accepted", TxAccepted)
	metrics.Register("tx-applied", TxApplied)
	metrics.Register("statements-run", StatementsRun)
	metrics.Register("peers-connected", PeersConnected)
	metrics.Register("gossip-bytes-in", GossipBytesIn)
	metrics.Register("gossip-bytes-out", GossipBytesOut)
	metrics.Register("replay-queue-size", ReplayQueueSize)
}

// LogEvery starts a goroutine that writes the whole registry to the
// package logger on the given interval, mirroring how cmd/cql-minerd
// wires metrics.Log against its own logger instead of a metrics
// dashboard. It returns immediately; close stop to stop it.
func LogEvery(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				metrics.WriteOnce(metrics.DefaultRegistry, logWriter{})
			}
		}
	}()
}

// logWriter adapts metrics.WriteOnce's io.Writer expectation to the
// package logger so registry snapshots go through the same structured
// sink as everything else instead of straight to stdout.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Infof("%s", p)
	return len(p), nil
}
