// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/model"
)

func testManager() *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := NewRegistry()
	concurrency := NewConcurrencyManager(config.ConcurrencyConfig{MaxConcurrentDownloads: 2, HighPriorityExtraSlots: 1})
	breaker := NewCircuitBreaker(config.CircuitBreakerConfig{Threshold: 3, CooldownSecs: 60})
	return NewManager(registry, concurrency, breaker, logger)
}

// scriptedEngine emits a fixed sequence of SegmentEvents and then returns.
type scriptedEngine struct {
	script []SegmentEvent
}

func (e *scriptedEngine) Download(ctx context.Context, req DownloadRequest, out chan<- SegmentEvent) error {
	for _, evt := range e.script {
		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// blockingEngine only returns once ctx is cancelled, simulating an
// in-progress download that StopDownload must be able to interrupt.
type blockingEngine struct{}

func (blockingEngine) Download(ctx context.Context, req DownloadRequest, out chan<- SegmentEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func drain(t *testing.T, ch <-chan ManagerEvent, n int, timeout time.Duration) []ManagerEvent {
	t.Helper()
	events := make([]ManagerEvent, 0, n)
	deadline := time.After(timeout)
	for len(events) < n {
		select {
		case e := <-ch:
			events = append(events, e)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d: %#v", n, len(events), events)
		}
	}
	return events
}

func TestManager_StartDownloadFullLifecycle(t *testing.T) {
	m := testManager()
	sub := m.Subscribe()

	engine := &scriptedEngine{script: []SegmentEvent{
		SegmentStartedEvt{Path: "seg-0.ts", Sequence: 0},
		SegmentBytesEvt{Bytes: 2048},
		SegmentCompletedEvt{Path: "seg-0.ts", SizeBytes: 2048, Index: 0, CompletedAt: time.Now()},
		DownloadCompletedEvt{TotalBytes: 2048, TotalDurationSecs: 1, TotalSegments: 1},
	}}

	req := StartRequest{
		StreamerID: "alice",
		SessionID:  "sess-1",
		URL:        "https://example.invalid/live.m3u8",
		Config:     DownloadConfig{Priority: model.PriorityNormal},
	}

	id, err := m.StartDownload(context.Background(), engine, req, BreakerKey{EngineType: "hls"}, "hls")
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}
	if !m.HasActiveDownload("alice") {
		t.Error("expected HasActiveDownload to be true immediately after start")
	}

	events := drain(t, sub, 4, time.Second)

	started, ok := events[0].(EvtDownloadStarted)
	if !ok || started.DownloadID != id {
		t.Fatalf("first event = %#v, want EvtDownloadStarted for %s", events[0], id)
	}
	if _, ok := events[1].(EvtSegmentStarted); !ok {
		t.Errorf("events[1] = %#v, want EvtSegmentStarted", events[1])
	}
	if _, ok := events[2].(EvtSegmentCompleted); !ok {
		t.Errorf("events[2] = %#v, want EvtSegmentCompleted", events[2])
	}
	completed, ok := events[3].(EvtDownloadCompleted)
	if !ok || completed.TotalBytes != 2048 {
		t.Errorf("events[3] = %#v, want EvtDownloadCompleted{TotalBytes: 2048}", events[3])
	}

	deadline := time.Now().Add(time.Second)
	for m.HasActiveDownload("alice") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if m.HasActiveDownload("alice") {
		t.Error("expected the download to be removed from active tracking after completion")
	}
}

func TestManager_StartDownloadRejectedWhenBreakerOpen(t *testing.T) {
	m := testManager()
	key := BreakerKey{EngineType: "hls"}
	for i := 0; i < 3; i++ {
		m.breaker.RecordFailure(key, false)
	}

	sub := m.Subscribe()
	req := StartRequest{StreamerID: "bob", Config: DownloadConfig{Priority: model.PriorityNormal}}

	if _, err := m.StartDownload(context.Background(), &scriptedEngine{}, req, key, "hls"); err == nil {
		t.Fatal("expected StartDownload to fail with the breaker open")
	}

	select {
	case evt := <-sub:
		rejected, ok := evt.(EvtDownloadRejected)
		if !ok {
			t.Fatalf("event = %#v, want EvtDownloadRejected", evt)
		}
		if rejected.RetryAfterSecs <= 0 {
			t.Errorf("RetryAfterSecs = %d, want > 0", rejected.RetryAfterSecs)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EvtDownloadRejected")
	}
}

func TestManager_FailedDownloadRecordsBreakerFailure(t *testing.T) {
	m := testManager()
	key := BreakerKey{EngineType: "hls"}
	engine := &scriptedEngine{script: []SegmentEvent{
		DownloadFailedEvt{Error: "connection reset", Recoverable: true},
	}}

	req := StartRequest{StreamerID: "carol", Config: DownloadConfig{Priority: model.PriorityNormal}}
	if _, err := m.StartDownload(context.Background(), engine, req, key, "hls"); err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for m.HasActiveDownload("carol") && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	m.breaker.RecordFailure(key, false)
	m.breaker.RecordFailure(key, false)
	if allowed, _ := m.breaker.Allow(key); allowed {
		t.Error("expected the breaker to be open after 3 cumulative recoverable failures")
	}
}

func TestManager_StopDownloadCancelsAndReleasesPermit(t *testing.T) {
	m := testManager()
	sub := m.Subscribe()

	req := StartRequest{StreamerID: "dave", Config: DownloadConfig{Priority: model.PriorityNormal}}
	id, err := m.StartDownload(context.Background(), blockingEngine{}, req, BreakerKey{EngineType: "hls"}, "hls")
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	drain(t, sub, 1, time.Second) // EvtDownloadStarted

	if err := m.StopDownload(id); err != nil {
		t.Fatalf("StopDownload: %v", err)
	}
	if m.HasActiveDownload("dave") {
		t.Error("expected HasActiveDownload to be false right after StopDownload")
	}

	select {
	case evt := <-sub:
		cancelled, ok := evt.(EvtDownloadCancelled)
		if !ok || cancelled.DownloadID != id {
			t.Fatalf("event = %#v, want EvtDownloadCancelled for %s", evt, id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EvtDownloadCancelled")
	}

	normalInUse, _ := m.concurrency.InUse()
	if normalInUse != 0 {
		t.Errorf("normal permits in use = %d, want 0 after stop", normalInUse)
	}
}

func TestManager_UpdateDownloadConfigAppliesAtNextSegmentStart(t *testing.T) {
	m := testManager()
	sub := m.Subscribe()

	started := make(chan struct{})
	proceed := make(chan struct{})
	engine := engineFunc(func(ctx context.Context, req DownloadRequest, out chan<- SegmentEvent) error {
		out <- SegmentStartedEvt{Path: "seg-0.ts", Sequence: 0}
		close(started)
		<-proceed
		out <- SegmentStartedEvt{Path: "seg-1.ts", Sequence: 1}
		return nil
	})

	req := StartRequest{StreamerID: "erin", Config: DownloadConfig{Priority: model.PriorityNormal}}
	id, err := m.StartDownload(context.Background(), engine, req, BreakerKey{EngineType: "hls"}, "hls")
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	drain(t, sub, 2, time.Second) // started, first segment started
	<-started

	if err := m.UpdateDownloadConfig(id, map[string]string{"sess": "x"}, nil, nil); err != nil {
		t.Fatalf("UpdateDownloadConfig: %v", err)
	}
	close(proceed)

	drain(t, sub, 1, time.Second) // EvtConfigUpdated before the second SegmentStarted... ordering checked below

	evt := <-sub
	if _, ok := evt.(EvtSegmentStarted); !ok {
		t.Fatalf("event = %#v, want the second EvtSegmentStarted", evt)
	}
}

type engineFunc func(ctx context.Context, req DownloadRequest, out chan<- SegmentEvent) error

func (f engineFunc) Download(ctx context.Context, req DownloadRequest, out chan<- SegmentEvent) error {
	return f(ctx, req, out)
}
