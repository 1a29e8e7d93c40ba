// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats is the latest host resource snapshot the supervisor consults
// when a GlobalUpdated event changes concurrency limits. It is advisory
// only: nothing in this package refuses a spawn or a download based on it,
// it is surfaced through logging so an operator can correlate a
// concurrency change with host load.
type SystemStats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage      float64
}

// LoadMonitor collects SystemStats periodically on a background goroutine.
type LoadMonitor struct {
	logger   *slog.Logger
	diskPath string
	interval time.Duration

	close chan struct{}
	wg    sync.WaitGroup

	mu    sync.RWMutex
	stats SystemStats
}

// NewLoadMonitor creates a monitor that samples diskPath's usage (use "/"
// for the root filesystem) every interval.
func NewLoadMonitor(diskPath string, interval time.Duration, logger *slog.Logger) *LoadMonitor {
	if diskPath == "" {
		diskPath = "/"
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &LoadMonitor{
		logger:   logger.With("component", "load_monitor"),
		diskPath: diskPath,
		interval: interval,
		close:    make(chan struct{}),
	}
}

// Start begins periodic collection. Safe to call at most once.
func (m *LoadMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts collection and waits for the background goroutine to exit.
func (m *LoadMonitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Stats returns the most recently collected snapshot.
func (m *LoadMonitor) Stats() SystemStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *LoadMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *LoadMonitor) collect() {
	var stats SystemStats

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage(m.diskPath); err == nil {
		stats.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()
}
