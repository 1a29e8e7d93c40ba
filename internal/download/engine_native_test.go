// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/reorder"
)

// fakePoller replays a fixed batch of segments once, then blocks until ctx
// is cancelled so the pollLoop's ticker never fires again.
type fakePoller struct {
	mu     sync.Mutex
	batch  []reorder.Segment
	polled bool
}

func (p *fakePoller) Poll(ctx context.Context, req DownloadRequest) ([]reorder.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polled {
		return nil, ErrPlaylistComplete
	}
	p.polled = true
	return p.batch, ErrPlaylistComplete
}

func (p *fakePoller) PollInterval() time.Duration { return time.Hour }

func TestNativeEngine_EmitsSegmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	poller := &fakePoller{batch: []reorder.Segment{
		{MSN: 0, Payload: []byte("a"), SizeBytes: 1},
		{MSN: 1, Payload: []byte("b"), SizeBytes: 1},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewNativeEngine(poller, reorder.StreamVOD, config.ReorderConfig{
		VODSegmentTimeout: time.Second,
	}, func(string) string { return dir }, logger)

	out := make(chan SegmentEvent, 32)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- engine.Download(ctx, DownloadRequest{StreamerID: "gail"}, out) }()

	var sequence []int64
	var sawCompletion bool
loop:
	for {
		select {
		case evt, ok := <-out:
			if !ok {
				break loop
			}
			switch e := evt.(type) {
			case SegmentStartedEvt:
				sequence = append(sequence, e.Sequence)
			case DownloadCompletedEvt:
				sawCompletion = true
				break loop
			case DownloadFailedEvt:
				t.Fatalf("unexpected failure: %s", e.Error)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for native engine events")
		}
	}

	if !sawCompletion {
		t.Error("expected a DownloadCompletedEvt once the VOD stream ends")
	}
	if len(sequence) != 2 || sequence[0] != 0 || sequence[1] != 1 {
		t.Errorf("segment sequence = %v, want [0 1]", sequence)
	}

	cancel()
	<-done
}
