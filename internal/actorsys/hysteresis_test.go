// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package actorsys

import (
	"testing"

	"github.com/hua0512/streamrecd/internal/model"
)

func TestHysteresis_LiveAlwaysEmitsImmediately(t *testing.T) {
	h := Hysteresis{}
	if !h.Record(model.StateLive, 3) {
		t.Fatal("expected NotLive -> Live to emit immediately")
	}
	if !h.WasLive || h.OfflineCount != 0 {
		t.Fatalf("unexpected state after live: %+v", h)
	}
}

func TestHysteresis_OfflineIsGated(t *testing.T) {
	h := Hysteresis{WasLive: true}

	if h.Record(model.StateNotLive, 3) {
		t.Fatal("expected first offline check to be gated")
	}
	if h.Record(model.StateNotLive, 3) {
		t.Fatal("expected second offline check to be gated")
	}
	if !h.Record(model.StateNotLive, 3) {
		t.Fatal("expected third offline check to cross the threshold and emit")
	}
	if h.WasLive {
		t.Error("expected WasLive to flip false once the threshold is crossed")
	}
	if h.OfflineCount != 0 {
		t.Errorf("expected OfflineCount to reset after emitting, got %d", h.OfflineCount)
	}
}

func TestHysteresis_OfflineWithoutPriorLiveNeverEmits(t *testing.T) {
	h := Hysteresis{}
	for i := 0; i < 10; i++ {
		if h.Record(model.StateNotLive, 3) {
			t.Fatal("offline checks with no prior live transition should never emit")
		}
	}
}
