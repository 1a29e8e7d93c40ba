// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package reorder implements the HLS reorder/gap/discontinuity engine
// (component C1): it turns an out-of-order stream of processed HLS
// segments into an in-order, loss-aware emission sequence with bounded
// memory. One Manager is created per download and is single-writer (only
// the engine task feeds it).
package reorder

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/hua0512/streamrecd/internal/config"
)

// StreamKind distinguishes live streams (which prune and apply the overall
// stall watchdog) from VOD (which applies the segment timeout instead).
type StreamKind int

const (
	StreamLive StreamKind = iota
	StreamVOD
)

// Segment is one processed HLS segment handed to the reorder Manager by the
// engine. Payload is owned by the caller; the Manager only moves it along.
type Segment struct {
	MSN           uint64
	Discontinuity bool
	Payload       []byte
	DurationMs    int64
	SizeBytes     int64
}

// EventKind discriminates the Manager's output stream.
type EventKind int

const (
	EventData EventKind = iota
	EventDiscontinuityEncountered
	EventGapSkipped
	EventSegmentTimeout
	EventStreamEnded
)

// Event is one item of the Manager's ordered output stream.
type Event struct {
	Kind EventKind

	Segment Segment // EventData

	GapFrom uint64     // EventGapSkipped
	GapTo   uint64     // EventGapSkipped
	Reason  SkipReason // EventGapSkipped

	TimeoutSeq uint64        // EventSegmentTimeout
	Waited     time.Duration // EventSegmentTimeout
}

var ErrOverallStall = errors.New("reorder: no input received within the overall stall window")

type entry struct {
	segment   Segment
	bufferedAt time.Time
}

// orderedBuffer is a MSN-keyed ordered container supporting the ascending
// iteration and bulk-truncation-by-key operations the emission pass and
// pruning rules need. A sorted key slice alongside a map gives O(log n)
// lookup for the threshold and O(k) removal of the k truncated entries,
// which is the access pattern this component actually exercises; no
// balanced-tree library appears anywhere in the retrieved example corpus,
// so this is implemented directly on top of sort.Search rather than
// pulling in an unneeded dependency.
type orderedBuffer struct {
	keys    []uint64
	entries map[uint64]entry
}

func newOrderedBuffer() *orderedBuffer {
	return &orderedBuffer{entries: make(map[uint64]entry)}
}

func (b *orderedBuffer) len() int { return len(b.keys) }

func (b *orderedBuffer) insert(msn uint64, e entry) {
	if _, exists := b.entries[msn]; exists {
		b.entries[msn] = e
		return
	}
	idx := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= msn })
	b.keys = append(b.keys, 0)
	copy(b.keys[idx+1:], b.keys[idx:])
	b.keys[idx] = msn
	b.entries[msn] = e
}

func (b *orderedBuffer) get(msn uint64) (entry, bool) {
	e, ok := b.entries[msn]
	return e, ok
}

func (b *orderedBuffer) remove(msn uint64) {
	idx := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= msn })
	if idx < len(b.keys) && b.keys[idx] == msn {
		b.keys = append(b.keys[:idx], b.keys[idx+1:]...)
	}
	delete(b.entries, msn)
}

// min returns the smallest buffered MSN, if any.
func (b *orderedBuffer) min() (uint64, entry, bool) {
	if len(b.keys) == 0 {
		return 0, entry{}, false
	}
	msn := b.keys[0]
	return msn, b.entries[msn], true
}

// ascendingBelow returns MSNs strictly below ceiling, in ascending order.
func (b *orderedBuffer) ascendingBelow(ceiling uint64) []uint64 {
	idx := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= ceiling })
	out := make([]uint64, idx)
	copy(out, b.keys[:idx])
	return out
}

// truncateBelow drops every entry with key < threshold in one bulk
// operation and returns the total bytes removed.
func (b *orderedBuffer) truncateBelow(threshold uint64) int64 {
	idx := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= threshold })
	if idx == 0 {
		return 0
	}
	var removedBytes int64
	for _, k := range b.keys[:idx] {
		removedBytes += b.entries[k].segment.SizeBytes
		delete(b.entries, k)
	}
	b.keys = append(b.keys[:0:0], b.keys[idx:]...)
	return removedBytes
}

func (b *orderedBuffer) totalBytes() int64 {
	var total int64
	for _, e := range b.entries {
		total += e.segment.SizeBytes
	}
	return total
}

// Manager owns one reorder buffer for the lifetime of one download.
type Manager struct {
	cfg    config.ReorderConfig
	kind   StreamKind
	logger *slog.Logger

	buf              *orderedBuffer
	expectedNext     uint64
	gap              *gapState
	lastInputAt      time.Time
	metrics          Metrics
}

// NewManager creates a Manager expecting the stream to start at startMSN.
func NewManager(cfg config.ReorderConfig, kind StreamKind, startMSN uint64, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		kind:         kind,
		logger:       logger,
		buf:          newOrderedBuffer(),
		expectedNext: startMSN,
		lastInputAt:  time.Now(),
	}
}

// Metrics returns a snapshot of the manager's counters.
func (m *Manager) Metrics() Snapshot { return m.metrics.Snapshot() }

func (m *Manager) gapStrategy() config.GapStrategy {
	if m.kind == StreamVOD {
		return m.cfg.VODGapStrategy
	}
	return m.cfg.LiveGapStrategy
}

// IsBufferFull reports the backpressure predicate: zero limits
// mean unlimited.
func (m *Manager) IsBufferFull() bool {
	full := false
	if m.cfg.LiveMaxSegments > 0 && m.buf.len() >= m.cfg.LiveMaxSegments {
		full = true
	}
	if m.cfg.MaxBufferBytes > 0 && m.buf.totalBytes() >= m.cfg.MaxBufferBytes {
		full = true
	}
	return full
}

// Run drives the Manager: it reads segments from in, applies admission
// control and the emission pass, prunes (live only), and writes Events to
// out. It returns when in closes (after flushing) or ctx is cancelled
// (after flushing), or ErrOverallStall if the live stall watchdog fires.
// A send failure on out is terminal.
func (m *Manager) Run(ctx context.Context, in <-chan Segment, out chan<- Event) error {
	defer close(out)

	watchdog := m.cfg.LiveMaxOverallStall
	var ticker *time.Ticker
	if m.kind == StreamLive && watchdog > 0 {
		ticker = time.NewTicker(watchdog / 4)
		defer ticker.Stop()
	}

	var tickerC <-chan time.Time
	if ticker != nil {
		tickerC = ticker.C
	}

	// VOD gaps are re-evaluated on a timer so the segment timeout fires even
	// when no further input arrives.
	var vodTickC <-chan time.Time
	if m.kind == StreamVOD && m.cfg.VODSegmentTimeout > 0 {
		interval := m.cfg.VODSegmentTimeout / 4
		if interval <= 0 {
			interval = m.cfg.VODSegmentTimeout
		}
		vodTicker := time.NewTicker(interval)
		defer vodTicker.Stop()
		vodTickC = vodTicker.C
	}

	readIn := in
	for {
		if m.IsBufferFull() {
			readIn = nil
		} else {
			readIn = in
		}

		select {
		case seg, ok := <-readIn:
			if !ok {
				m.flush(out)
				return nil
			}
			m.lastInputAt = time.Now()
			m.admit(seg)
			m.tryEmitSegments(out)
			if m.kind == StreamLive {
				m.prune()
			}

		case <-tickerC:
			if m.kind == StreamLive && watchdog > 0 && time.Since(m.lastInputAt) >= watchdog {
				m.logger.Error("reorder manager overall stall watchdog fired", "stall", time.Since(m.lastInputAt))
				return ErrOverallStall
			}

		case <-vodTickC:
			m.tryEmitSegments(out)

		case <-ctx.Done():
			m.flush(out)
			return nil
		}
	}
}

// admit applies admission control: segments behind expectedNext are
// rejected as stale without being buffered.
func (m *Manager) admit(seg Segment) {
	m.metrics.received.Add(1)
	if seg.MSN < m.expectedNext {
		m.metrics.rejectedStale.Add(1)
		return
	}
	m.buf.insert(seg.MSN, entry{segment: seg, bufferedAt: time.Now()})
	m.metrics.recordDepth(int64(m.buf.len()), m.buf.totalBytes())
}

// tryEmitSegments is the in-order emission pass.
func (m *Manager) tryEmitSegments(out chan<- Event) {
	for {
		msn, e, ok := m.buf.min()
		if !ok {
			return
		}

		switch {
		case msn == m.expectedNext:
			m.buf.remove(msn)
			m.metrics.totalReorderDelayMs.Add(time.Since(e.bufferedAt).Milliseconds())
			m.metrics.addBytesSaturating(-e.segment.SizeBytes)

			if e.segment.Discontinuity {
				m.flushBelow(out, msn)
				m.gap = nil
				out <- Event{Kind: EventDiscontinuityEncountered}
			}
			out <- Event{Kind: EventData, Segment: e.segment}
			m.metrics.emitted.Add(1)
			m.expectedNext++
			m.gap = nil
			m.metrics.recordDepth(int64(m.buf.len()), m.buf.totalBytes())

		case msn < m.expectedNext:
			// Stale segment surfaced after a skip advanced expectedNext past it.
			m.buf.remove(msn)
			m.metrics.rejectedStale.Add(1)
			m.metrics.addBytesSaturating(-e.segment.SizeBytes)

		default:
			if m.handleGap(out, msn) {
				continue
			}
			return
		}
	}
}

// flushBelow emits, in ascending order, every buffered entry strictly
// below ceiling — the pre-discontinuity flush.
func (m *Manager) flushBelow(out chan<- Event, ceiling uint64) {
	for _, msn := range m.buf.ascendingBelow(ceiling) {
		e, ok := m.buf.get(msn)
		if !ok {
			continue
		}
		m.buf.remove(msn)
		m.metrics.totalReorderDelayMs.Add(time.Since(e.bufferedAt).Milliseconds())
		m.metrics.addBytesSaturating(-e.segment.SizeBytes)
		out <- Event{Kind: EventData, Segment: e.segment}
		m.metrics.emitted.Add(1)
	}
}

// handleGap manages gap detection, the skip policy, and the VOD timeout. It
// returns true if the caller should restart the emission pass (expectedNext
// advanced), false if it should break and wait for more input.
func (m *Manager) handleGap(out chan<- Event, smallestBuffered uint64) bool {
	now := time.Now()

	if m.gap == nil || m.gap.missingSequence != m.expectedNext {
		m.gap = &gapState{
			missingSequence:  m.expectedNext,
			detectedAt:       now,
			segmentsSinceGap: uint64(m.buf.len()),
		}
		m.metrics.gapsDetected.Add(1)
	} else {
		m.gap.segmentsSinceGap = uint64(m.buf.len())
	}

	if skip, reason := shouldSkipGap(m.gapStrategy(), *m.gap, now); skip {
		from, to := m.expectedNext, smallestBuffered
		skipped := to - from
		m.expectedNext = to
		m.gap = nil
		m.metrics.gapSkips.Add(1)
		m.metrics.totalSegmentsSkipped.Add(skipped)
		out <- Event{Kind: EventGapSkipped, GapFrom: from, GapTo: to, Reason: reason}
		return true
	}

	if m.kind == StreamVOD && m.cfg.VODSegmentTimeout > 0 {
		if elapsed := now.Sub(m.gap.detectedAt); elapsed >= m.cfg.VODSegmentTimeout {
			seq := m.gap.missingSequence
			m.expectedNext = seq + 1
			m.gap = nil
			out <- Event{Kind: EventSegmentTimeout, TimeoutSeq: seq, Waited: elapsed}
			return true
		}
	}

	return false
}

// prune applies the live-only count and duration pruning rules after each
// emission pass.
func (m *Manager) prune() {
	// Count-based: keep the newest max_segments stale+future entries by
	// dropping the oldest (len - max) keys strictly below expectedNext.
	if m.cfg.LiveMaxSegments > 0 {
		stale := m.buf.ascendingBelow(m.expectedNext)
		overflow := m.buf.len() - m.cfg.LiveMaxSegments
		if overflow > 0 && len(stale) > 0 {
			n := overflow
			if n > len(stale) {
				n = len(stale)
			}
			threshold := stale[n-1] + 1
			removed := m.buf.truncateBelow(threshold)
			m.metrics.addBytesSaturating(-removed)
		}
	}

	// Duration-based: walk stale entries from newest to oldest, summing
	// durations; the first entry whose cumulative duration exceeds the
	// threshold becomes the truncation key (it and everything older drop).
	if m.cfg.LiveBufferDuration > 0 {
		stale := m.buf.ascendingBelow(m.expectedNext)
		var cumulative time.Duration
		for i := len(stale) - 1; i >= 0; i-- {
			e, ok := m.buf.get(stale[i])
			if !ok {
				continue
			}
			cumulative += time.Duration(e.segment.DurationMs) * time.Millisecond
			if cumulative > m.cfg.LiveBufferDuration {
				removed := m.buf.truncateBelow(stale[i] + 1)
				m.metrics.addBytesSaturating(-removed)
				break
			}
		}
	}

	m.metrics.recordDepth(int64(m.buf.len()), m.buf.totalBytes())
}

// flush emits every remaining buffered entry in MSN order, then always
// emits StreamEnded last.
func (m *Manager) flush(out chan<- Event) {
	for _, msn := range append([]uint64(nil), m.buf.keys...) {
		e, ok := m.buf.get(msn)
		if !ok {
			continue
		}
		m.buf.remove(msn)
		out <- Event{Kind: EventData, Segment: e.segment}
		m.metrics.emitted.Add(1)
	}
	m.metrics.recordDepth(0, 0)
	out <- Event{Kind: EventStreamEnded}
}
