// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/container"
	"github.com/hua0512/streamrecd/internal/model"
)

// The types in this file are deliberately minimal: the config service,
// session/danmu persistence, and platform liveness probing are all named as
// out-of-scope collaborators, specified only at their interface to the
// core. A real deployment replaces every one of them with something backed
// by its own database and platform-specific HTTP/scraping logic; these
// stand in just far enough to make the daemon runnable end to end.

// staticConfigResolver hands every streamer the same engine and output
// settings drawn from the daemon's global config, with no per-streamer
// override lookup. A real ConfigResolver would consult a config service or
// database row per streamer instead.
type staticConfigResolver struct {
	engineID       string
	outputTemplate string
	proxy          config.ProxyConfig
	logger         *slog.Logger
}

func newStaticConfigResolver(global config.GlobalConfig, logger *slog.Logger) *staticConfigResolver {
	return &staticConfigResolver{
		engineID:       "ffmpeg",
		outputTemplate: global.Output.FilenameTemplate,
		proxy:          global.Proxy,
		logger:         logger.With("component", "config_resolver"),
	}
}

func (r *staticConfigResolver) Resolve(streamerID string) (container.StreamerConfig, error) {
	return container.StreamerConfig{
		EngineID:            r.engineID,
		OutputTemplate:      r.outputTemplate,
		Proxy:               r.proxy,
		MinSegmentSizeBytes: 0,
	}, nil
}

func (r *staticConfigResolver) Invalidate(streamerID string) {
	r.logger.Debug("config invalidated", "streamer_id", streamerID)
}

// loggingSessionRecorder logs session completion instead of writing to a
// sessions table.
type loggingSessionRecorder struct {
	logger *slog.Logger
}

func newLoggingSessionRecorder(logger *slog.Logger) *loggingSessionRecorder {
	return &loggingSessionRecorder{logger: logger.With("component", "session_recorder")}
}

func (r *loggingSessionRecorder) EndSession(ctx context.Context, streamerID, sessionID string) error {
	r.logger.Info("session ended", "streamer_id", streamerID, "session_id", sessionID)
	return nil
}

// loggingDanmuCollector logs chat capture start/stop instead of driving a
// real platform-specific chat client.
type loggingDanmuCollector struct {
	logger *slog.Logger
}

func newLoggingDanmuCollector(logger *slog.Logger) *loggingDanmuCollector {
	return &loggingDanmuCollector{logger: logger.With("component", "danmu_collector")}
}

func (c *loggingDanmuCollector) Start(ctx context.Context, streamerID, sessionID string) error {
	c.logger.Debug("danmu capture start requested", "streamer_id", streamerID, "session_id", sessionID)
	return nil
}

func (c *loggingDanmuCollector) Stop(ctx context.Context, streamerID string) error {
	c.logger.Debug("danmu capture stop requested", "streamer_id", streamerID)
	return nil
}

// storeErrorRecorder folds a failure into the streamer's canonical record so
// the next actor check observes the updated ConsecutiveErrs/LastError.
type storeErrorRecorder struct {
	store  *model.Store
	logger *slog.Logger
}

func newStoreErrorRecorder(store *model.Store, logger *slog.Logger) *storeErrorRecorder {
	return &storeErrorRecorder{store: store, logger: logger.With("component", "error_recorder")}
}

func (r *storeErrorRecorder) HandleError(streamerID, message string) {
	updated := r.store.Update(streamerID, func(st *model.Streamer) {
		st.ConsecutiveErrs++
		st.LastError = message
	})
	if !updated {
		r.logger.Warn("error recorded for unknown streamer", "streamer_id", streamerID, "message", message)
	}
}

// localPipelineClient is the no-op hand-off used when no staging bucket is
// configured: the segment simply stays where the download engine wrote it.
type localPipelineClient struct {
	logger *slog.Logger
}

func (c localPipelineClient) StageSegment(ctx context.Context, streamerID, path string) error {
	c.logger.Debug("segment staged locally, no upload configured", "streamer_id", streamerID, "path", path)
	return nil
}

// demoChecker is a placeholder status.Checker that always reports a
// streamer offline. Real liveness probing is platform-specific (URL
// parsing, CDN negotiation, JS-based token signing) and out of scope here;
// wiring a real Checker per platform_id is the integration point a
// deployment fills in.
type demoChecker struct {
	store      *model.Store
	platformID string
	logger     *slog.Logger
}

func newDemoChecker(store *model.Store, platformID string, logger *slog.Logger) *demoChecker {
	return &demoChecker{store: store, platformID: platformID, logger: logger.With("component", "demo_checker", "platform_id", platformID)}
}

func (c *demoChecker) CheckStatus(ctx context.Context, st *model.Streamer) (model.CheckResult, model.LiveStatus, error) {
	now := time.Now()
	result := model.CheckResult{
		State:     model.StateNotLive,
		CheckedAt: now,
	}
	liveStatus := model.LiveStatus{Kind: model.LiveStatusOffline}
	return result, liveStatus, nil
}

func (c *demoChecker) ProcessStatus(ctx context.Context, st *model.Streamer, liveStatus model.LiveStatus) error {
	c.logger.Debug("status processed", "streamer_id", st.ID, "kind", liveStatus.Kind)
	return nil
}

func (c *demoChecker) HandleError(ctx context.Context, st *model.Streamer, message string, transient bool) error {
	c.store.Update(st.ID, func(s *model.Streamer) {
		s.ConsecutiveErrs++
		s.LastError = message
	})
	return nil
}

func (c *demoChecker) SetCircuitBreakerBlocked(ctx context.Context, st *model.Streamer, retryAfter time.Duration) error {
	until := time.Now().Add(retryAfter)
	c.store.Update(st.ID, func(s *model.Streamer) {
		s.State = model.StateTemporalDisabled
		s.DisabledUntil = &until
	})
	return nil
}
