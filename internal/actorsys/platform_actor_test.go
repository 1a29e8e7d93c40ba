// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package actorsys

import (
	"context"
	"testing"
	"time"

	"github.com/hua0512/streamrecd/internal/model"
)

func TestPlatformActor_BatchesAndDispatches(t *testing.T) {
	checker := &fakeChecker{}
	checker.setResult(model.CheckResult{State: model.StateLive}, model.LiveStatus{Kind: model.LiveStatusLive})

	streamers := map[string]*model.Streamer{
		"a": {ID: "a"},
		"b": {ID: "b"},
	}

	results := make(chan BatchResult, 8)
	dispatcher := dispatcherFunc(func(r BatchResult) { results <- r })

	pa := NewPlatformActor("twitch", checker, dispatcher, 20*time.Millisecond, func(id string) (*model.Streamer, bool) {
		st, ok := streamers[id]
		return st, ok
	}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pa.Run(ctx)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()

	if err := pa.RequestCheck(reqCtx, "a"); err != nil {
		t.Fatalf("RequestCheck(a): %v", err)
	}
	if err := pa.RequestCheck(reqCtx, "b"); err != nil {
		t.Fatalf("RequestCheck(b): %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			seen[r.StreamerID] = true
			if r.Result.State != model.StateLive {
				t.Errorf("unexpected state for %s: %v", r.StreamerID, r.Result.State)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for batch results")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("expected results for both a and b, got %v", seen)
	}
}

func TestPlatformActor_UnknownStreamerYieldsErrorResult(t *testing.T) {
	checker := &fakeChecker{}
	results := make(chan BatchResult, 1)
	dispatcher := dispatcherFunc(func(r BatchResult) { results <- r })

	pa := NewPlatformActor("twitch", checker, dispatcher, 10*time.Millisecond, func(id string) (*model.Streamer, bool) {
		return nil, false
	}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pa.Run(ctx)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()
	if err := pa.RequestCheck(reqCtx, "ghost"); err != nil {
		t.Fatalf("RequestCheck: %v", err)
	}

	select {
	case r := <-results:
		if !r.Result.IsError() {
			t.Error("expected an error result for an unknown streamer id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch result")
	}
}

type dispatcherFunc func(BatchResult)

func (f dispatcherFunc) DispatchBatchResult(r BatchResult) { f(r) }
