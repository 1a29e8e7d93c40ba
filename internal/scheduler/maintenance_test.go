// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package scheduler

import (
	"testing"
	"time"

	"github.com/hua0512/streamrecd/internal/model"
)

func TestNewMaintenanceScheduler_RejectsInvalidCronSpec(t *testing.T) {
	store := model.NewStore()
	if _, err := NewMaintenanceScheduler("not a cron spec", store, nil, testLogger()); err == nil {
		t.Fatal("expected an error for an invalid cron spec")
	}
}

func TestMaintenanceScheduler_RunSweepClearsExpiredBackoffs(t *testing.T) {
	store := model.NewStore()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	store.Put(&model.Streamer{ID: "expired", ConsecutiveErrs: 5, DisabledUntil: &past})
	store.Put(&model.Streamer{ID: "still-backing-off", ConsecutiveErrs: 3, DisabledUntil: &future})
	store.Put(&model.Streamer{ID: "never-errored"})

	s, err := NewMaintenanceScheduler("*/5 * * * *", store, nil, testLogger())
	if err != nil {
		t.Fatalf("NewMaintenanceScheduler: %v", err)
	}

	s.runSweep()

	expired := store.Get("expired")
	if expired.ConsecutiveErrs != 0 || expired.DisabledUntil != nil {
		t.Errorf("expected expired streamer's backoff cleared, got %+v", expired)
	}

	stillBackingOff := store.Get("still-backing-off")
	if stillBackingOff.ConsecutiveErrs != 3 || stillBackingOff.DisabledUntil == nil {
		t.Errorf("expected still-backing-off streamer untouched, got %+v", stillBackingOff)
	}
}

func TestMaintenanceScheduler_StartStopIsSafeWithoutRunning(t *testing.T) {
	store := model.NewStore()
	s, err := NewMaintenanceScheduler("*/5 * * * *", store, nil, testLogger())
	if err != nil {
		t.Fatalf("NewMaintenanceScheduler: %v", err)
	}

	s.Start()
	s.Stop()
}
