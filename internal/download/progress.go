// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"sync/atomic"
	"time"
)

const (
	defaultEmitByteThreshold = 1 << 20 // 1 MiB
	defaultEmitTimeThreshold = time.Second
)

// DownloadProgress is a point-in-time snapshot of one download's throughput.
type DownloadProgress struct {
	BytesDownloaded   int64
	DurationSecs      float64
	SpeedBytesPerSec  float64
	SegmentsCompleted int64
	CurrentSegment    int64
}

// ProgressTracker accumulates byte/segment counts for one active download
// and decides when those counts are worth emitting All counters
// are atomic so the engine's writer callbacks and the consumer task can
// touch it from different goroutines without a lock.
type ProgressTracker struct {
	startedAt time.Time

	bytesDownloaded   atomic.Int64
	segmentsCompleted atomic.Int64
	currentSegment    atomic.Int64

	lastEmitBytes atomic.Int64
	lastEmitAt    atomic.Int64 // unix nanos

	byteThreshold int64
	timeThreshold time.Duration
}

// NewProgressTracker builds a ProgressTracker with the given emission
// thresholds. A zero byteThreshold or timeThreshold falls back to the
// defaults (1 MiB / 1 s).
func NewProgressTracker(byteThreshold int64, timeThreshold time.Duration) *ProgressTracker {
	if byteThreshold <= 0 {
		byteThreshold = defaultEmitByteThreshold
	}
	if timeThreshold <= 0 {
		timeThreshold = defaultEmitTimeThreshold
	}
	p := &ProgressTracker{
		startedAt:     time.Now(),
		byteThreshold: byteThreshold,
		timeThreshold: timeThreshold,
	}
	p.lastEmitAt.Store(p.startedAt.UnixNano())
	return p
}

// AddBytes records n more bytes written to the current segment.
func (p *ProgressTracker) AddBytes(n int64) {
	p.bytesDownloaded.Add(n)
}

// SetCurrentSegment records the sequence index of the segment in flight.
func (p *ProgressTracker) SetCurrentSegment(index int64) {
	p.currentSegment.Store(index)
}

// CompleteSegment increments the completed-segment counter.
func (p *ProgressTracker) CompleteSegment() {
	p.segmentsCompleted.Add(1)
}

// ShouldEmitProgress reports whether either the byte or time delta since the
// last emission exceeds its threshold, and if so atomically updates both
// markers so the next call measures from this point.
func (p *ProgressTracker) ShouldEmitProgress() bool {
	now := time.Now()
	bytes := p.bytesDownloaded.Load()

	lastBytes := p.lastEmitBytes.Load()
	lastAt := time.Unix(0, p.lastEmitAt.Load())

	byteDelta := bytes - lastBytes
	timeDelta := now.Sub(lastAt)

	if byteDelta < p.byteThreshold && timeDelta < p.timeThreshold {
		return false
	}

	p.lastEmitBytes.Store(bytes)
	p.lastEmitAt.Store(now.UnixNano())
	return true
}

// ToProgress snapshots the tracker into a DownloadProgress.
func (p *ProgressTracker) ToProgress() DownloadProgress {
	bytes := p.bytesDownloaded.Load()
	duration := time.Since(p.startedAt).Seconds()

	var speed float64
	if duration > 0 {
		speed = float64(bytes) / duration
	}

	return DownloadProgress{
		BytesDownloaded:   bytes,
		DurationSecs:      duration,
		SpeedBytesPerSec:  speed,
		SegmentsCompleted: p.segmentsCompleted.Load(),
		CurrentSegment:    p.currentSegment.Load(),
	}
}
