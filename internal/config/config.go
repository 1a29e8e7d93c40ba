// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the daemon's YAML configuration:
// unmarshal into tagged structs, then run a validate() pass that fills
// sensible defaults and rejects nonsense.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GapStrategyKind names one of the four gap-skip policies.
type GapStrategyKind string

const (
	GapWaitIndefinitely GapStrategyKind = "wait_indefinitely"
	GapSkipAfterCount   GapStrategyKind = "skip_after_count"
	GapSkipAfterDur     GapStrategyKind = "skip_after_duration"
	GapSkipAfterBoth    GapStrategyKind = "skip_after_both"
)

// GapStrategy configures the reorder buffer's gap-skip policy for one
// stream type (live or VOD).
type GapStrategy struct {
	Kind     GapStrategyKind `yaml:"kind"`
	Count    uint64          `yaml:"count"`
	Duration time.Duration   `yaml:"duration"`
}

// ReorderConfig tunes the HLS reorder/gap/discontinuity engine (C1).
type ReorderConfig struct {
	LiveMaxSegments        int           `yaml:"live_reorder_buffer_max_segments"`
	LiveBufferDuration     time.Duration `yaml:"live_reorder_buffer_duration"`
	LiveMaxOverallStall    time.Duration `yaml:"live_max_overall_stall_duration"`
	LiveGapStrategy        GapStrategy   `yaml:"live_gap_strategy"`
	VODGapStrategy         GapStrategy   `yaml:"vod_gap_strategy"`
	VODSegmentTimeout      time.Duration `yaml:"vod_segment_timeout"`
	MaxBufferBytes         int64         `yaml:"-"`
	MaxBufferBytesRaw      string        `yaml:"max_buffer_bytes"`
}

// SchedulingConfig tunes the streamer actor's check cadence and hysteresis.
type SchedulingConfig struct {
	CheckIntervalMs        int64  `yaml:"streamer_check_delay_ms"`
	OfflineCheckIntervalMs int64  `yaml:"offline_check_delay_ms"`
	OfflineCheckCount      int    `yaml:"offline_check_count"`
	MaintenanceCronSpec    string `yaml:"maintenance_cron_spec"`
}

func (s SchedulingConfig) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalMs) * time.Millisecond
}

func (s SchedulingConfig) OfflineCheckInterval() time.Duration {
	return time.Duration(s.OfflineCheckIntervalMs) * time.Millisecond
}

// CircuitBreakerConfig tunes the download manager's per-engine breaker.
type CircuitBreakerConfig struct {
	Threshold     int           `yaml:"circuit_breaker_threshold"`
	CooldownSecs  int           `yaml:"circuit_breaker_cooldown_secs"`
}

func (c CircuitBreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// ConcurrencyConfig tunes the download manager's two semaphores.
type ConcurrencyConfig struct {
	MaxConcurrentDownloads int `yaml:"max_concurrent_downloads"`
	HighPriorityExtraSlots int `yaml:"high_priority_extra_slots"`
}

// OutputConfig controls output path placeholder expansion.
type OutputConfig struct {
	Folder           string `yaml:"output_folder"`
	FilenameTemplate string `yaml:"output_filename_template"`
	FileFormat       string `yaml:"output_file_format"`
}

// DanmuConfig controls chat/danmu collection.
type DanmuConfig struct {
	Record           bool   `yaml:"record_danmu"`
	SamplingConfig   string `yaml:"danmu_sampling_config"`
}

// DiscardConfig controls the orchestration-level segment discard gate.
type DiscardConfig struct {
	MinSegmentSizeBytes int64 `yaml:"min_segment_size_bytes"`
}

// ProxyConfig controls outbound proxying for engine HTTP/TCP connections.
type ProxyConfig struct {
	URL            string `yaml:"url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	UseSystemProxy bool   `yaml:"use_system_proxy"`
}

// LoggingConfig controls the daemon's logging output.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	FilePath      string `yaml:"file_path"`
	SessionLogDir string `yaml:"session_log_dir"`
}

// PipelineConfig controls the optional S3-backed staging hand-off to the
// downstream post-processing pipeline.
type PipelineConfig struct {
	StagingBucket string `yaml:"staging_bucket"`
	StagingRegion string `yaml:"staging_region"`
	Compression   string `yaml:"compression"` // "", "gzip", or "zstd"
}

// ShutdownConfig bounds the graceful-shutdown wait.
type ShutdownConfig struct {
	TimeoutSecs int `yaml:"timeout_secs"`
}

func (s ShutdownConfig) Timeout() time.Duration {
	if s.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSecs) * time.Second
}

// GlobalConfig holds the daemon-wide knobs recomputed on GlobalUpdated.
type GlobalConfig struct {
	Concurrency     ConcurrencyConfig    `yaml:"concurrency"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Reorder         ReorderConfig        `yaml:"reorder"`
	Scheduling      SchedulingConfig     `yaml:"scheduling"`
	Discard         DiscardConfig        `yaml:"discard"`
	Output          OutputConfig         `yaml:"output"`
	Danmu           DanmuConfig          `yaml:"danmu"`
	Proxy           ProxyConfig          `yaml:"proxy"`
	EnginesOverride map[string][]byte    `yaml:"-"`
}

// StreamerSeed bootstraps one streamer into the metadata store at startup.
// A live deployment replaces this with a real config service pushing
// StreamerMetadataUpdated events instead; this is only the file-based seed
// a standalone daemon needs to have anything to watch on first boot.
type StreamerSeed struct {
	ID           string `yaml:"id"`
	DisplayName  string `yaml:"display_name"`
	URL          string `yaml:"url"`
	PlatformID   string `yaml:"platform_id"`
	TemplateID   string `yaml:"template_id"`
	Priority     string `yaml:"priority"` // "high", "normal" (default), "low"
	BatchCapable bool   `yaml:"batch_capable"`
}

// DaemonConfig is the top-level YAML-loaded configuration.
type DaemonConfig struct {
	Global    GlobalConfig   `yaml:"global"`
	Logging   LoggingConfig  `yaml:"logging"`
	Pipeline  PipelineConfig `yaml:"pipeline"`
	Shutdown  ShutdownConfig `yaml:"shutdown"`
	StateDir  string         `yaml:"state_dir"`
	Streamers []StreamerSeed `yaml:"streamers"`
}

// LoadDaemonConfig reads and validates the daemon's YAML config file.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading daemon config: %w", err)
	}

	var cfg DaemonConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing daemon config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating daemon config: %w", err)
	}

	return &cfg, nil
}

func (c *DaemonConfig) validate() error {
	if c.Global.Concurrency.MaxConcurrentDownloads <= 0 {
		c.Global.Concurrency.MaxConcurrentDownloads = 1
	}
	if c.Global.Concurrency.HighPriorityExtraSlots < 0 {
		return fmt.Errorf("global.concurrency.high_priority_extra_slots must be >= 0")
	}
	if c.Global.CircuitBreaker.Threshold <= 0 {
		c.Global.CircuitBreaker.Threshold = 3
	}
	if c.Global.CircuitBreaker.CooldownSecs <= 0 {
		c.Global.CircuitBreaker.CooldownSecs = 60
	}
	if c.Global.Scheduling.CheckIntervalMs <= 0 {
		c.Global.Scheduling.CheckIntervalMs = 60_000
	}
	if c.Global.Scheduling.OfflineCheckIntervalMs <= 0 {
		c.Global.Scheduling.OfflineCheckIntervalMs = 15_000
	}
	if c.Global.Scheduling.OfflineCheckCount <= 0 {
		c.Global.Scheduling.OfflineCheckCount = 3
	}
	if c.Global.Scheduling.MaintenanceCronSpec == "" {
		c.Global.Scheduling.MaintenanceCronSpec = "*/5 * * * *"
	}
	if c.Global.Reorder.LiveMaxOverallStall <= 0 {
		c.Global.Reorder.LiveMaxOverallStall = 5 * time.Minute
	}
	if c.Global.Reorder.VODSegmentTimeout <= 0 {
		c.Global.Reorder.VODSegmentTimeout = 10 * time.Second
	}
	if c.Global.Reorder.LiveGapStrategy.Kind == "" {
		c.Global.Reorder.LiveGapStrategy = GapStrategy{Kind: GapSkipAfterBoth, Count: 5, Duration: 30 * time.Second}
	}
	if c.Global.Reorder.VODGapStrategy.Kind == "" {
		c.Global.Reorder.VODGapStrategy = GapStrategy{Kind: GapWaitIndefinitely}
	}
	if c.Global.Reorder.MaxBufferBytesRaw != "" {
		parsed, err := ParseByteSize(c.Global.Reorder.MaxBufferBytesRaw)
		if err != nil {
			return fmt.Errorf("global.reorder.max_buffer_bytes: %w", err)
		}
		c.Global.Reorder.MaxBufferBytes = parsed
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Global.Output.FilenameTemplate == "" {
		c.Global.Output.FilenameTemplate = "{streamer}/{session_id}/{title}"
	}
	switch c.Pipeline.Compression {
	case "", "gzip", "zstd":
	default:
		return fmt.Errorf("pipeline.compression must be \"\", \"gzip\", or \"zstd\", got %q", c.Pipeline.Compression)
	}
	for i, seed := range c.Streamers {
		if seed.ID == "" {
			return fmt.Errorf("streamers[%d].id is required", i)
		}
		if seed.URL == "" {
			return fmt.Errorf("streamers[%d].url is required", i)
		}
	}
	return nil
}

// ParseByteSize converts human-readable sizes like "256mb", "1gb" to bytes.
// Zero or an empty string means "unlimited".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}

	type suffix struct {
		s string
		m int64
	}
	// Ordered longest-suffix-first so "mb" doesn't match as "b".
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
