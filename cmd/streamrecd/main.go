// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/container"
	"github.com/hua0512/streamrecd/internal/download"
	"github.com/hua0512/streamrecd/internal/logging"
	"github.com/hua0512/streamrecd/internal/model"
	"github.com/hua0512/streamrecd/internal/pipelineclient"
	"github.com/hua0512/streamrecd/internal/scheduler"
	"github.com/hua0512/streamrecd/internal/status"
)

func main() {
	configPath := flag.String("config", "/etc/streamrecd/daemon.yaml", "path to daemon config file")
	flag.Parse()

	cfg, err := config.LoadDaemonConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.FilePath)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cancel, cfg, logger); err != nil {
		logger.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.DaemonConfig, logger *slog.Logger) error {
	store := model.NewStore()
	for _, seed := range cfg.Streamers {
		store.Put(&model.Streamer{
			ID:           seed.ID,
			DisplayName:  seed.DisplayName,
			URL:          seed.URL,
			PlatformID:   seed.PlatformID,
			TemplateID:   seed.TemplateID,
			Priority:     parsePriority(seed.Priority),
			State:        model.StateNotLive,
			BatchCapable: seed.BatchCapable,
		})
	}

	registry := buildEngineRegistry(cfg, logger)
	concurrency := download.NewConcurrencyManager(cfg.Global.Concurrency)
	breaker := download.NewCircuitBreaker(cfg.Global.CircuitBreaker)
	manager := download.NewManager(registry, concurrency, breaker, logger)

	pipeline, err := buildPipelineClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building pipeline client: %w", err)
	}

	configs := newStaticConfigResolver(cfg.Global, logger)
	sessions := newLoggingSessionRecorder(logger)
	danmuColl := newLoggingDanmuCollector(logger)
	errorRecorder := newStoreErrorRecorder(store, logger)

	load := scheduler.NewLoadMonitor(cfg.Global.Output.Folder, 15*time.Second, logger)
	load.Start()
	defer load.Stop()

	maintenance, err := scheduler.NewMaintenanceScheduler(cfg.Global.Scheduling.MaintenanceCronSpec, store, load, logger)
	if err != nil {
		return fmt.Errorf("building maintenance scheduler: %w", err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	checkerFor := func(platformID string) (status.Checker, error) {
		return newDemoChecker(store, platformID, logger), nil
	}

	sup := scheduler.NewSupervisor(store, checkerFor, cfg.StateDir, cfg.Global, manager, load, logger)

	cont := container.NewContainer(logger, store, manager, registry, configs, sessions, danmuColl, errorRecorder, sup, pipeline)

	go cont.Run(ctx)
	sup.Hydrate(ctx)

	logger.Info("streamrecd started", "streamer_count", len(cfg.Streamers))

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout())
	defer shutdownCancel()
	cont.Shutdown(shutdownCtx, cancel, cfg.Shutdown.Timeout())
	sup.Shutdown()

	logger.Info("streamrecd stopped")
	return nil
}

// parsePriority maps a config-file priority string to model.Priority,
// defaulting to Normal for anything unrecognized.
func parsePriority(s string) model.Priority {
	switch s {
	case "high":
		return model.PriorityHigh
	case "low":
		return model.PriorityLow
	default:
		return model.PriorityNormal
	}
}

// buildEngineRegistry registers the download engines this daemon knows how
// to run. Both are subprocess engines wrapping a different external
// binary; a deployment that needs a protocol-native engine instead
// registers one built on download.NewNativeEngine with a platform-specific
// PlaylistPoller, which is outside this package's scope.
func buildEngineRegistry(cfg *config.DaemonConfig, logger *slog.Logger) *download.Registry {
	registry := download.NewRegistry()

	outputDir := func(streamerID string) string {
		return filepath.Join(cfg.Global.Output.Folder, streamerID)
	}

	registry.RegisterFactory("ffmpeg", func(mergedConfig []byte) (download.Engine, error) {
		return download.NewSubprocessEngine(download.SubprocessConfig{
			BinaryPath: "ffmpeg",
			Args: func(req download.DownloadRequest, outputPath string) []string {
				return []string{
					"-y", "-v", "info",
					"-i", req.URL,
					"-c", "copy",
					"-f", "segment",
					"-segment_time", "00:10:00",
					"-reset_timestamps", "1",
					outputPath,
				}
			},
			SegmentLineRE:   regexp.MustCompile(`Opening '(?P<path>[^']+)' for writing`),
			OutputDir:       outputDir,
			OutputExtension: ".ts",
		}, logger), nil
	})

	registry.RegisterFactory("streamlink", func(mergedConfig []byte) (download.Engine, error) {
		return download.NewSubprocessEngine(download.SubprocessConfig{
			BinaryPath: "streamlink",
			Args: func(req download.DownloadRequest, outputPath string) []string {
				return []string{req.URL, "best", "-o", outputPath}
			},
			SegmentLineRE:   regexp.MustCompile(`Written segment (?P<path>\S+)`),
			OutputDir:       outputDir,
			OutputExtension: ".ts",
		}, logger), nil
	})

	return registry
}

// buildPipelineClient wires an S3 staging uploader when a staging bucket is
// configured, or a local no-op handoff that leaves segments where the
// download engine wrote them.
func buildPipelineClient(ctx context.Context, cfg *config.DaemonConfig, logger *slog.Logger) (container.PipelineClient, error) {
	if cfg.Pipeline.StagingBucket == "" {
		return localPipelineClient{logger: logger}, nil
	}

	return pipelineclient.NewS3StagingClient(ctx, pipelineclient.Config{
		Bucket:      cfg.Pipeline.StagingBucket,
		Region:      cfg.Pipeline.StagingRegion,
		DeleteLocal: true,
		Compression: pipelineclient.CompressionKind(cfg.Pipeline.Compression),
	}, logger)
}
