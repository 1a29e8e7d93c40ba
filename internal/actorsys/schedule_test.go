// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package actorsys

import (
	"testing"
	"time"

	"github.com/hua0512/streamrecd/internal/config"
)

func TestScheduleNextCheck_UsesOfflineIntervalWhenWasLive(t *testing.T) {
	cfg := config.SchedulingConfig{CheckIntervalMs: 60_000, OfflineCheckIntervalMs: 15_000}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next := scheduleNextCheck(cfg, true, 0, nil, now)
	if got := next.Sub(now); got != 15*time.Second {
		t.Errorf("got %v, want 15s", got)
	}

	next = scheduleNextCheck(cfg, false, 0, nil, now)
	if got := next.Sub(now); got != 60*time.Second {
		t.Errorf("got %v, want 60s", got)
	}
}

func TestScheduleNextCheck_BackoffIsCapped(t *testing.T) {
	cfg := config.SchedulingConfig{CheckIntervalMs: 60_000, OfflineCheckIntervalMs: 15_000}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next := scheduleNextCheck(cfg, false, 20, nil, now)
	if got := next.Sub(now); got != maxBackoffCap {
		t.Errorf("got %v, want capped at %v", got, maxBackoffCap)
	}
}

func TestScheduleNextCheck_DisabledUntilWinsWhenLater(t *testing.T) {
	cfg := config.SchedulingConfig{CheckIntervalMs: 60_000}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	disabledUntil := now.Add(2 * time.Hour)

	next := scheduleNextCheck(cfg, false, 0, &disabledUntil, now)
	if !next.Equal(disabledUntil) {
		t.Errorf("got %v, want %v", next, disabledUntil)
	}
}

func TestScheduleNextCheck_DisabledUntilWinsWhenEarlier(t *testing.T) {
	cfg := config.SchedulingConfig{CheckIntervalMs: 60_000}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	disabledUntil := now.Add(time.Second)

	next := scheduleNextCheck(cfg, false, 0, &disabledUntil, now)
	if got := next.Sub(now); got != time.Second {
		t.Errorf("got %v, want 1s (a future disabledUntil sets the next check even when earlier than the interval)", got)
	}
}

func TestNextCheckForTemporalDisable_LaterWins(t *testing.T) {
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)

	if got := nextCheckForTemporalDisable(&earlier, &later); !got.Equal(later) {
		t.Errorf("got %v, want %v", got, later)
	}
	if got := nextCheckForTemporalDisable(&later, &earlier); !got.Equal(later) {
		t.Errorf("got %v, want %v", got, later)
	}
	if got := nextCheckForTemporalDisable(nil, &later); !got.Equal(later) {
		t.Errorf("got %v, want %v", got, later)
	}
	if got := nextCheckForTemporalDisable(&earlier, nil); !got.Equal(earlier) {
		t.Errorf("got %v, want %v", got, earlier)
	}
}
