// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package container

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hua0512/streamrecd/internal/actorsys"
	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/download"
	"github.com/hua0512/streamrecd/internal/model"
)

// mpscCapacity bounds the container's process queue
const mpscCapacity = 8192

// StreamerConfig is the merged, per-streamer configuration the container
// needs to start a download.
type StreamerConfig struct {
	Cookies             map[string]string
	Headers             map[string]string
	Proxy               config.ProxyConfig
	EngineID            string
	EngineOverride      []byte
	OutputTemplate      string
	MinSegmentSizeBytes int64
}

// ResolvedProxy picks the effective proxy URL: an explicit per-streamer or
// global URL always wins over the system proxy.
func (c StreamerConfig) ResolvedProxy() string {
	if c.Proxy.URL != "" {
		return c.Proxy.URL
	}
	if c.Proxy.UseSystemProxy {
		if v := os.Getenv("HTTPS_PROXY"); v != "" {
			return v
		}
		if v := os.Getenv("HTTP_PROXY"); v != "" {
			return v
		}
	}
	return ""
}

// ConfigResolver resolves and caches per-streamer merged configuration.
type ConfigResolver interface {
	Resolve(streamerID string) (StreamerConfig, error)
	Invalidate(streamerID string)
}

// SessionRecorder ends a streaming session's DB record once its download
// has stopped, so final byte totals are not stale.
type SessionRecorder interface {
	EndSession(ctx context.Context, streamerID, sessionID string) error
}

// DanmuCollector starts/stops chat capture for a streamer; distinct from
// the per-segment DanmuWriter, which only handles XML finalization.
type DanmuCollector interface {
	Start(ctx context.Context, streamerID, sessionID string) error
	Stop(ctx context.Context, streamerID string) error
}

// ErrorRecorder updates a streamer's canonical error/backoff state so the
// next actor check observes it.
type ErrorRecorder interface {
	HandleError(streamerID, message string)
}

// ActorRouter forwards download lifecycle notifications to the owning
// streamer actor (via the scheduler's actor handle map).
type ActorRouter interface {
	RouteDownloadStarted(streamerID string, msg actorsys.DownloadStarted)
	RouteDownloadEnded(streamerID string, msg actorsys.DownloadEnded)
}

// PipelineClient stages a finished segment for downstream post-processing.
type PipelineClient interface {
	StageSegment(ctx context.Context, streamerID, path string) error
}

// Container is the service-level glue (C8): it owns the discard gate and
// danmu session bookkeeping, wires monitor and config events to the
// download manager, forwards download lifecycle events to actors, and
// drives graceful shutdown.
type Container struct {
	logger    *slog.Logger
	store     *model.Store
	downloads *download.Manager
	registry  *download.Registry

	configs   ConfigResolver
	sessions  SessionRecorder
	danmuColl DanmuCollector
	errors    ErrorRecorder
	router    ActorRouter
	pipeline  PipelineClient

	discard *DiscardGate
	danmu   *DanmuSession

	mu              sync.Mutex
	activeDownloads map[string]string // streamerID -> downloadID
	activeSessions  map[string]string // streamerID -> sessionID
	segmentPaths    map[segmentKey]string
}

// NewContainer wires a Container from its dependencies.
func NewContainer(
	logger *slog.Logger,
	store *model.Store,
	downloads *download.Manager,
	registry *download.Registry,
	configs ConfigResolver,
	sessions SessionRecorder,
	danmuColl DanmuCollector,
	errors ErrorRecorder,
	router ActorRouter,
	pipeline PipelineClient,
) *Container {
	return &Container{
		logger:          logger,
		store:           store,
		downloads:       downloads,
		registry:        registry,
		configs:         configs,
		sessions:        sessions,
		danmuColl:       danmuColl,
		errors:          errors,
		router:          router,
		pipeline:        pipeline,
		discard:         NewDiscardGate(),
		danmu:           NewDanmuSession(),
		activeDownloads: make(map[string]string),
		activeSessions:  make(map[string]string),
		segmentPaths:    make(map[segmentKey]string),
	}
}

// Run starts the discard-gate janitor and the drain/process split over the
// download manager's event broadcast: a
// bounded mpsc sits between the broadcast receiver and sequential
// processing, so container-observed segment ordering matches the manager's
// emission order even though other broadcast subscribers can diverge.
func (c *Container) Run(ctx context.Context) {
	go c.discard.RunJanitor(ctx, 10*time.Minute)

	broadcast := c.downloads.Subscribe()
	mpsc := make(chan download.ManagerEvent, mpscCapacity)

	go c.drain(ctx, broadcast, mpsc)
	go c.process(ctx, mpsc)
}

// drain receives from the broadcast channel and forwards to the bounded
// mpsc, dropping Progress events immediately since they are purely
// advisory and never required for correctness.
func (c *Container) drain(ctx context.Context, broadcast <-chan download.ManagerEvent, mpsc chan<- download.ManagerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-broadcast:
			if !ok {
				return
			}
			if _, isProgress := evt.(download.EvtProgress); isProgress {
				continue
			}
			select {
			case mpsc <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

// process consumes the mpsc sequentially, guaranteeing the container
// observes strictly the download manager's own emission order.
func (c *Container) process(ctx context.Context, mpsc <-chan download.ManagerEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-mpsc:
			c.handleManagerEvent(ctx, evt)
		}
	}
}

func (c *Container) handleManagerEvent(ctx context.Context, evt download.ManagerEvent) {
	switch e := evt.(type) {
	case download.EvtDownloadStarted:
		c.router.RouteDownloadStarted(e.StreamerID, actorsys.DownloadStarted{DownloadID: e.DownloadID, SessionID: e.SessionID})
	case download.EvtSegmentStarted:
		c.onSegmentStarted(e)
	case download.EvtSegmentCompleted:
		c.onSegmentCompleted(ctx, e)
	case download.EvtDownloadCompleted:
		c.onDownloadEnded(ctx, e.StreamerID, actorsys.DownloadEnded{Kind: actorsys.DownloadEndOther})
	case download.EvtDownloadFailed:
		c.errors.HandleError(e.StreamerID, e.Error)
		kind := actorsys.DownloadEndNetworkError
		if !e.Recoverable {
			kind = actorsys.DownloadEndOther
		}
		c.onDownloadEnded(ctx, e.StreamerID, actorsys.DownloadEnded{Kind: kind, Message: e.Error})
	case download.EvtDownloadRejected:
		c.logger.Warn("download rejected", "streamer_id", e.StreamerID, "reason", e.Reason, "retry_after_secs", e.RetryAfterSecs)
	case download.EvtDownloadCancelled:
		c.onDownloadEnded(ctx, e.StreamerID, actorsys.DownloadEnded{Kind: actorsys.DownloadEndCancelled})
	}
}

func (c *Container) onSegmentStarted(e download.EvtSegmentStarted) {
	key := segmentKey{StreamerID: e.StreamerID, Index: e.Sequence}
	c.danmu.StartSegment(key, e.Path, time.Now())

	c.mu.Lock()
	c.segmentPaths[key] = e.Path
	c.mu.Unlock()
}

// onSegmentCompleted applies the min-size discard gate, finalizes the
// paired danmu XML regardless of the outcome, and forwards surviving
// segments to the pipeline client.
func (c *Container) onSegmentCompleted(ctx context.Context, e download.EvtSegmentCompleted) {
	key := segmentKey{StreamerID: e.StreamerID, Index: e.Index}

	effectiveSize := e.SizeBytes
	if info, err := os.Stat(e.Path); err == nil {
		effectiveSize = info.Size()
	}

	cfg, err := c.configs.Resolve(e.StreamerID)
	discard := false
	if err == nil && cfg.MinSegmentSizeBytes > 0 && effectiveSize < cfg.MinSegmentSizeBytes {
		discard = true
		c.discard.Mark(key)
	}

	if endErr := c.danmu.EndSegment(key); endErr != nil {
		c.logger.Warn("ending danmu segment", "streamer_id", e.StreamerID, "path", e.Path, "error", endErr)
	}

	c.mu.Lock()
	delete(c.segmentPaths, key)
	c.mu.Unlock()

	if !discard {
		if c.pipeline != nil {
			if err := c.pipeline.StageSegment(ctx, e.StreamerID, e.Path); err != nil {
				c.logger.Error("staging segment", "streamer_id", e.StreamerID, "path", e.Path, "error", err)
			}
		}
		return
	}

	if err := removeIfExists(e.Path); err != nil {
		c.logger.Warn("removing discarded segment", "path", e.Path, "error", err)
	}
	if err := removeIfExists(danmuPathFor(e.Path)); err != nil {
		c.logger.Warn("removing discarded segment's danmu file", "path", e.Path, "error", err)
	}
}

// OnDanmuSegmentCompleted handles the paired danmu-side completion event:
// if the video side already marked this key discarded, it deletes the
// finalized XML (in case of a race with step 4 of onSegmentCompleted) and
// returns without forwarding.
func (c *Container) OnDanmuSegmentCompleted(streamerID string, index int64, xmlPath string) {
	key := segmentKey{StreamerID: streamerID, Index: index}
	if c.discard.Consume(key) {
		if err := removeIfExists(xmlPath); err != nil {
			c.logger.Warn("removing discarded danmu file", "path", xmlPath, "error", err)
		}
	}
}

func (c *Container) onDownloadEnded(ctx context.Context, streamerID string, msg actorsys.DownloadEnded) {
	c.router.RouteDownloadEnded(streamerID, msg)

	c.mu.Lock()
	sessionID, ok := c.activeSessions[streamerID]
	delete(c.activeDownloads, streamerID)
	delete(c.activeSessions, streamerID)
	c.mu.Unlock()

	if ok {
		if err := c.sessions.EndSession(ctx, streamerID, sessionID); err != nil {
			c.logger.Error("ending streaming session", "streamer_id", streamerID, "session_id", sessionID, "error", err)
		}
	}
}

// HandleMonitorEvent wires the stream monitor to the download manager.
func (c *Container) HandleMonitorEvent(ctx context.Context, evt MonitorEvent) {
	switch e := evt.(type) {
	case MonitorStreamerLive:
		c.startForLive(ctx, e)
	case MonitorStreamerOffline:
		c.stopForOffline(ctx, e)
	}
}

func (c *Container) startForLive(ctx context.Context, e MonitorStreamerLive) {
	if c.downloads.HasActiveDownload(e.StreamerID) {
		return
	}

	st := c.store.Get(e.StreamerID)
	if st == nil || !st.State.IsActive() {
		c.logger.Info("skipping download start: streamer disabled concurrently", "streamer_id", e.StreamerID)
		return
	}

	if len(e.Streams) == 0 {
		c.logger.Warn("streamer reported live with no candidate streams", "streamer_id", e.StreamerID)
		return
	}

	cfg, err := c.configs.Resolve(e.StreamerID)
	if err != nil {
		c.errors.HandleError(e.StreamerID, fmt.Sprintf("resolving config: %v", err))
		return
	}

	outputPath := ExpandTemplate(cfg.OutputTemplate, e.StreamerID, e.Title, st.PlatformID, e.SessionID)
	if err := validateNoTraversal(outputPath); err != nil {
		c.errors.HandleError(e.StreamerID, err.Error())
		return
	}

	chosen := e.Streams[0]
	for _, s := range e.Streams {
		if s.Priority > chosen.Priority {
			chosen = s
		}
	}

	engine, breakerKey, err := c.registry.Resolve(cfg.EngineID, "", nil, cfg.EngineOverride)
	if err != nil {
		c.errors.HandleError(e.StreamerID, fmt.Sprintf("resolving engine: %v", err))
		return
	}

	req := download.StartRequest{
		StreamerID: e.StreamerID,
		SessionID:  e.SessionID,
		URL:        chosen.URL,
		Config: download.DownloadConfig{
			EngineID:       cfg.EngineID,
			EngineOverride: cfg.EngineOverride,
			Cookies:        cfg.Cookies,
			Headers:        cfg.Headers,
			OutputPath:     outputPath,
			Priority:       st.Priority,
		},
	}

	downloadID, err := c.downloads.StartDownload(ctx, engine, req, breakerKey, cfg.EngineID)
	if err != nil {
		c.logger.Warn("start_download refused", "streamer_id", e.StreamerID, "error", err)
		return
	}

	c.mu.Lock()
	c.activeDownloads[e.StreamerID] = downloadID
	c.activeSessions[e.StreamerID] = e.SessionID
	c.mu.Unlock()

	if err := c.danmuColl.Start(ctx, e.StreamerID, e.SessionID); err != nil {
		c.logger.Warn("starting danmu collection", "streamer_id", e.StreamerID, "error", err)
	}
}

func (c *Container) stopForOffline(ctx context.Context, e MonitorStreamerOffline) {
	if err := c.danmuColl.Stop(ctx, e.StreamerID); err != nil {
		c.logger.Warn("stopping danmu collection", "streamer_id", e.StreamerID, "error", err)
	}

	c.mu.Lock()
	downloadID, ok := c.activeDownloads[e.StreamerID]
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := c.downloads.StopDownload(downloadID); err != nil {
		c.logger.Warn("stopping download on offline transition", "streamer_id", e.StreamerID, "error", err)
	}
}

// HandleConfigEvent routes streamer-lifecycle config changes
func (c *Container) HandleConfigEvent(ctx context.Context, evt ConfigEvent) {
	switch e := evt.(type) {
	case ConfigStreamerMetadataUpdated:
		c.configs.Invalidate(e.StreamerID)
		if !e.NowActive {
			c.cleanupStreamer(ctx, e.StreamerID)
		}
	case ConfigStreamerDeleted:
		c.configs.Invalidate(e.StreamerID)
		c.cleanupStreamer(ctx, e.StreamerID)
	case ConfigStreamerStateSyncedFromDB:
		if !e.IsActive {
			c.cleanupStreamer(ctx, e.StreamerID)
		}
	case ConfigGlobalUpdated:
		// Concurrency recomputation is driven by the scheduler, which owns
		// the authoritative GlobalConfig; the container has nothing to do
		// here beyond the cache invalidation each resolver already does.
	}
}

// cleanupStreamer runs the deliberately-ordered teardown:
// cancel the active download before stopping danmu before ending the DB
// session, so final byte totals aren't recorded stale.
func (c *Container) cleanupStreamer(ctx context.Context, streamerID string) {
	c.mu.Lock()
	downloadID, hasDownload := c.activeDownloads[streamerID]
	c.mu.Unlock()

	if hasDownload {
		if err := c.downloads.StopDownload(downloadID); err != nil {
			c.logger.Warn("cancelling download during cleanup", "streamer_id", streamerID, "error", err)
		}
	}
	if err := c.danmuColl.Stop(ctx, streamerID); err != nil {
		c.logger.Warn("stopping danmu during cleanup", "streamer_id", streamerID, "error", err)
	}

	c.mu.Lock()
	sessionID, hasSession := c.activeSessions[streamerID]
	delete(c.activeDownloads, streamerID)
	delete(c.activeSessions, streamerID)
	c.mu.Unlock()

	if hasSession {
		if err := c.sessions.EndSession(ctx, streamerID, sessionID); err != nil {
			c.logger.Error("ending session during cleanup", "streamer_id", streamerID, "error", err)
		}
	}
}

// Shutdown cancels cancelFn (the container-level token), stops all active
// downloads, and waits up to timeout for in-flight work to settle, per the
// shutdown sequence. Sub-step failures log and proceed.
func (c *Container) Shutdown(ctx context.Context, cancelFn context.CancelFunc, timeout time.Duration) {
	cancelFn()
	c.downloads.StopAll()

	done := make(chan struct{})
	go func() {
		c.mu.Lock()
		for len(c.activeDownloads) > 0 {
			c.mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			c.mu.Lock()
		}
		c.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("graceful shutdown timed out waiting for downloads to settle", "timeout", timeout)
	}
}
