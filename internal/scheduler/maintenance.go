// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hua0512/streamrecd/internal/model"
	"github.com/robfig/cron/v3"
)

// MaintenanceScheduler runs periodic store hygiene on a cron expression,
// independent of any individual streamer's check cadence: it clears
// ConsecutiveErrs for streamers that have been quiet past their backoff
// window and logs a snapshot of host load. This is deliberately not the
// streamer liveness scheduler itself — window/filter evaluation for
// whether a streamer should record stays out of this package's scope.
type MaintenanceScheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	store  *model.Store
	load   *LoadMonitor
}

// NewMaintenanceScheduler builds a scheduler with a single cron entry
// running at spec (standard 5-field cron syntax, e.g. "*/5 * * * *").
func NewMaintenanceScheduler(spec string, store *model.Store, load *LoadMonitor, logger *slog.Logger) (*MaintenanceScheduler, error) {
	s := &MaintenanceScheduler{
		logger: logger.With("component", "maintenance_scheduler"),
		store:  store,
		load:   load,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(spec, s.runSweep); err != nil {
		return nil, fmt.Errorf("scheduler: adding maintenance cron entry %q: %w", spec, err)
	}
	s.cron = c
	return s, nil
}

func (s *MaintenanceScheduler) Start() {
	s.logger.Info("maintenance scheduler started")
	s.cron.Start()
}

func (s *MaintenanceScheduler) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("maintenance scheduler stopped")
	case <-time.After(10 * time.Second):
		s.logger.Warn("maintenance scheduler stop timed out")
	}
}

func (s *MaintenanceScheduler) runSweep() {
	now := time.Now()
	cleared := 0
	for _, st := range s.store.All() {
		if st.DisabledUntil == nil || st.DisabledUntil.After(now) {
			continue
		}
		s.store.Update(st.ID, func(rec *model.Streamer) {
			rec.ConsecutiveErrs = 0
			rec.DisabledUntil = nil
		})
		cleared++
	}

	fields := []any{"cleared_backoffs", cleared}
	if s.load != nil {
		stats := s.load.Stats()
		fields = append(fields, "host_cpu_percent", stats.CPUPercent, "host_mem_percent", stats.MemoryPercent)
	}
	s.logger.Debug("maintenance sweep complete", fields...)
}
