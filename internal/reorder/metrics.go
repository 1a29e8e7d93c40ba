// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reorder

import "sync/atomic"

// Metrics holds the atomic counters a reorder Manager exposes so external
// observers (the HTTP/metrics surface, out of scope here) can read them
// without taking the buffer's lock.
type Metrics struct {
	received           atomic.Uint64
	emitted            atomic.Uint64
	rejectedStale      atomic.Uint64
	gapsDetected       atomic.Uint64
	gapSkips           atomic.Uint64
	totalSegmentsSkipped atomic.Uint64
	currentDepth       atomic.Int64
	currentBytes       atomic.Int64
	maxDepth           atomic.Int64
	totalReorderDelayMs atomic.Int64
}

// Snapshot is a point-in-time read of Metrics, safe to pass by value.
type Snapshot struct {
	Received             uint64
	Emitted              uint64
	RejectedStale        uint64
	GapsDetected         uint64
	GapSkips             uint64
	TotalSegmentsSkipped uint64
	CurrentDepth         int64
	CurrentBytes         int64
	MaxDepth             int64
	TotalReorderDelayMs  int64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Received:             m.received.Load(),
		Emitted:              m.emitted.Load(),
		RejectedStale:        m.rejectedStale.Load(),
		GapsDetected:         m.gapsDetected.Load(),
		GapSkips:             m.gapSkips.Load(),
		TotalSegmentsSkipped: m.totalSegmentsSkipped.Load(),
		CurrentDepth:         m.currentDepth.Load(),
		CurrentBytes:         m.currentBytes.Load(),
		MaxDepth:             m.maxDepth.Load(),
		TotalReorderDelayMs:  m.totalReorderDelayMs.Load(),
	}
}

func (m *Metrics) recordDepth(depth, bytes int64) {
	m.currentDepth.Store(depth)
	m.currentBytes.Store(bytes)
	for {
		cur := m.maxDepth.Load()
		if depth <= cur {
			return
		}
		if m.maxDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

// addBytesSaturating adds delta to currentBytes without letting it go below
// zero, guarding against a pruning accounting bug turning into a negative
// byte counter.
func (m *Metrics) addBytesSaturating(delta int64) {
	for {
		cur := m.currentBytes.Load()
		next := cur + delta
		if next < 0 {
			next = 0
		}
		if m.currentBytes.CompareAndSwap(cur, next) {
			return
		}
	}
}
