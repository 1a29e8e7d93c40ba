// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDaemonConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "global:\n  concurrency:\n    max_concurrent_downloads: 0\n")

	cfg, err := LoadDaemonConfig(path)
	if err != nil {
		t.Fatalf("LoadDaemonConfig: %v", err)
	}

	if cfg.Global.Concurrency.MaxConcurrentDownloads != 1 {
		t.Errorf("expected default of 1 concurrent download, got %d", cfg.Global.Concurrency.MaxConcurrentDownloads)
	}
	if cfg.Global.CircuitBreaker.Threshold != 3 {
		t.Errorf("expected default breaker threshold 3, got %d", cfg.Global.CircuitBreaker.Threshold)
	}
	if cfg.Global.Reorder.LiveGapStrategy.Kind != GapSkipAfterBoth {
		t.Errorf("expected default live gap strategy skip_after_both, got %v", cfg.Global.Reorder.LiveGapStrategy.Kind)
	}
	if cfg.Global.Reorder.VODGapStrategy.Kind != GapWaitIndefinitely {
		t.Errorf("expected default vod gap strategy wait_indefinitely, got %v", cfg.Global.Reorder.VODGapStrategy.Kind)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected default logging info/json, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadDaemonConfig_RejectsNegativeExtraSlots(t *testing.T) {
	path := writeConfig(t, "global:\n  concurrency:\n    high_priority_extra_slots: -1\n")

	if _, err := LoadDaemonConfig(path); err == nil {
		t.Fatal("expected error for negative high_priority_extra_slots")
	}
}

func TestLoadDaemonConfig_MissingFile(t *testing.T) {
	if _, err := LoadDaemonConfig("/nonexistent/daemon.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadDaemonConfig_StreamerSeedsRequireIDAndURL(t *testing.T) {
	path := writeConfig(t, "streamers:\n  - display_name: Missing ID and URL\n")

	if _, err := LoadDaemonConfig(path); err == nil {
		t.Fatal("expected error for streamer seed missing id/url")
	}
}

func TestLoadDaemonConfig_AcceptsValidStreamerSeeds(t *testing.T) {
	path := writeConfig(t, "streamers:\n  - id: s1\n    url: https://example.com/s1\n    platform_id: demo\n    priority: high\n    batch_capable: true\n")

	cfg, err := LoadDaemonConfig(path)
	if err != nil {
		t.Fatalf("LoadDaemonConfig: %v", err)
	}
	if len(cfg.Streamers) != 1 {
		t.Fatalf("expected 1 streamer seed, got %d", len(cfg.Streamers))
	}
	seed := cfg.Streamers[0]
	if seed.ID != "s1" || seed.URL != "https://example.com/s1" || !seed.BatchCapable {
		t.Errorf("unexpected streamer seed: %+v", seed)
	}
}

func TestLoadDaemonConfig_RejectsUnknownCompressionKind(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  compression: lz4\n")

	if _, err := LoadDaemonConfig(path); err == nil {
		t.Fatal("expected error for unknown pipeline.compression value")
	}
}

func TestLoadDaemonConfig_DefaultsMaintenanceCronSpec(t *testing.T) {
	path := writeConfig(t, "global:\n  concurrency:\n    max_concurrent_downloads: 1\n")

	cfg, err := LoadDaemonConfig(path)
	if err != nil {
		t.Fatalf("LoadDaemonConfig: %v", err)
	}
	if cfg.Global.Scheduling.MaintenanceCronSpec != "*/5 * * * *" {
		t.Errorf("expected default maintenance cron spec, got %q", cfg.Global.Scheduling.MaintenanceCronSpec)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"":      0,
		"0":     0,
		"100":   100,
		"1kb":   1024,
		"2mb":   2 * 1024 * 1024,
		"1gb":   1024 * 1024 * 1024,
		"512KB": 512 * 1024,
	}
	for input, want := range cases {
		got, err := ParseByteSize(input)
		if err != nil {
			t.Errorf("ParseByteSize(%q): unexpected error: %v", input, err)
			continue
		}
		if got != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	if _, err := ParseByteSize("not-a-size"); err == nil {
		t.Fatal("expected error for unparseable size")
	}
}

func TestSchedulingConfig_Durations(t *testing.T) {
	sc := SchedulingConfig{CheckIntervalMs: 1000, OfflineCheckIntervalMs: 250}
	if sc.CheckInterval() != time.Second {
		t.Errorf("CheckInterval() = %v, want 1s", sc.CheckInterval())
	}
	if sc.OfflineCheckInterval() != 250*time.Millisecond {
		t.Errorf("OfflineCheckInterval() = %v, want 250ms", sc.OfflineCheckInterval())
	}
}
