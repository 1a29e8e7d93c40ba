// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"testing"
	"time"
)

func TestProgressTracker_EmitsOnByteThreshold(t *testing.T) {
	p := NewProgressTracker(100, time.Hour)

	if p.ShouldEmitProgress() {
		t.Fatal("should not emit with zero bytes written")
	}

	p.AddBytes(150)
	if !p.ShouldEmitProgress() {
		t.Fatal("expected emission once bytes exceed the threshold")
	}
	if p.ShouldEmitProgress() {
		t.Fatal("markers should have been reset after the first emission")
	}
}

func TestProgressTracker_EmitsOnTimeThreshold(t *testing.T) {
	p := NewProgressTracker(1<<30, 5*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	if !p.ShouldEmitProgress() {
		t.Fatal("expected emission once the time threshold elapses")
	}
}

func TestProgressTracker_ToProgressSnapshot(t *testing.T) {
	p := NewProgressTracker(0, 0)
	p.AddBytes(2048)
	p.SetCurrentSegment(7)
	p.CompleteSegment()
	p.CompleteSegment()

	snap := p.ToProgress()
	if snap.BytesDownloaded != 2048 {
		t.Errorf("BytesDownloaded = %d, want 2048", snap.BytesDownloaded)
	}
	if snap.SegmentsCompleted != 2 {
		t.Errorf("SegmentsCompleted = %d, want 2", snap.SegmentsCompleted)
	}
	if snap.CurrentSegment != 7 {
		t.Errorf("CurrentSegment = %d, want 7", snap.CurrentSegment)
	}
	if snap.DurationSecs <= 0 {
		t.Error("expected a positive DurationSecs")
	}
	if snap.SpeedBytesPerSec <= 0 {
		t.Error("expected a positive speed once bytes and duration are non-zero")
	}
}

func TestProgressTracker_SpeedIsZeroWithoutBytes(t *testing.T) {
	p := NewProgressTracker(0, 0)
	snap := p.ToProgress()
	if snap.BytesDownloaded != 0 {
		t.Fatalf("BytesDownloaded = %d, want 0", snap.BytesDownloaded)
	}
	if snap.SpeedBytesPerSec != 0 {
		t.Errorf("SpeedBytesPerSec = %v, want 0 with no bytes downloaded", snap.SpeedBytesPerSec)
	}
}
