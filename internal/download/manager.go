// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/model"
)

// RetryConfig tunes per-download retry behaviour; callers may override it at
// runtime via UpdateDownloadConfig.
type RetryConfig struct {
	MaxAttempts int
	BackoffMs   int
}

// DownloadConfig is everything needed to start or reconfigure one download.
type DownloadConfig struct {
	EngineID       string
	EngineOverride []byte
	BaseEngineCfg  []byte
	Cookies        map[string]string
	Headers        map[string]string
	Retry          *RetryConfig
	OutputPath     string
	Priority       model.Priority
}

// StartRequest is the input to StartDownload.
type StartRequest struct {
	StreamerID string
	SessionID  string
	URL        string
	Config     DownloadConfig
}

// DownloadStatus is the lifecycle status of one ActiveDownload.
type DownloadStatus string

const (
	StatusStarting    DownloadStatus = "starting"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusFailed      DownloadStatus = "failed"
	StatusCancelled   DownloadStatus = "cancelled"
)

type pendingConfigUpdate struct {
	cookies    map[string]string
	headers    map[string]string
	retry      *RetryConfig
	hasCookies bool
	hasHeaders bool
	hasRetry   bool
}

func (p *pendingConfigUpdate) updateType() UpdateType {
	set := 0
	var only UpdateType
	if p.hasCookies {
		set++
		only = UpdateCookies
	}
	if p.hasHeaders {
		set++
		only = UpdateHeaders
	}
	if p.hasRetry {
		set++
		only = UpdateRetryConfig
	}
	if set > 1 {
		return UpdateMultiple
	}
	return only
}

// ActiveDownload is one in-flight download's bookkeeping record.
type ActiveDownload struct {
	DownloadID string
	StreamerID string
	SessionID  string
	EngineType string
	BreakerKey BreakerKey

	mu         sync.Mutex
	status     DownloadStatus
	config     DownloadConfig
	outputPath string
	pending    *pendingConfigUpdate

	progress *ProgressTracker
	cancel   context.CancelFunc
	release  func()
}

func (a *ActiveDownload) setStatus(s DownloadStatus) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *ActiveDownload) Status() DownloadStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Manager is the download manager (C6): admits, schedules, tracks, and
// cancels per-streamer downloads.
type Manager struct {
	logger      *slog.Logger
	registry    *Registry
	concurrency *ConcurrencyManager
	breaker     *CircuitBreaker

	mu     sync.Mutex
	active map[string]*ActiveDownload

	subMu       sync.Mutex
	subscribers []chan ManagerEvent
}

// NewManager builds a Manager wired to registry, concurrency, and breaker.
func NewManager(registry *Registry, concurrency *ConcurrencyManager, breaker *CircuitBreaker, logger *slog.Logger) *Manager {
	return &Manager{
		logger:      logger,
		registry:    registry,
		concurrency: concurrency,
		breaker:     breaker,
		active:      make(map[string]*ActiveDownload),
	}
}

// Subscribe returns a channel that receives every ManagerEvent from this
// point on. The channel is buffered (capacity 256); a slow subscriber that
// falls behind has events dropped for it rather than blocking the manager,
// mirroring broadcast-with-lag semantics.
func (m *Manager) Subscribe() <-chan ManagerEvent {
	ch := make(chan ManagerEvent, 256)
	m.subMu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) publish(evt ManagerEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- evt:
		default:
			m.logger.Warn("download event subscriber lagged, dropping event", "event", fmt.Sprintf("%T", evt))
		}
	}
}

// HasActiveDownload reports whether streamerID has a download presently in
// Starting or Downloading status. Failed/Completed/Cancelled never block a
// new start.
func (m *Manager) HasActiveDownload(streamerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.active {
		if a.StreamerID != streamerID {
			continue
		}
		switch a.Status() {
		case StatusStarting, StatusDownloading:
			return true
		}
	}
	return false
}

// StartDownload admits and launches one download. It returns the generated
// download id, or an error if the circuit breaker for this engine key is
// presently open or no concurrency permit is acquired before ctx is done.
func (m *Manager) StartDownload(ctx context.Context, engine Engine, req StartRequest, breakerKey BreakerKey, engineType string) (string, error) {
	if allowed, retryAfter := m.breaker.Allow(breakerKey); !allowed {
		m.publish(EvtDownloadRejected{
			StreamerID:     req.StreamerID,
			Reason:         fmt.Sprintf("circuit breaker open for engine %s", breakerKey),
			RetryAfterSecs: int(retryAfter.Seconds()),
		})
		return "", fmt.Errorf("download: circuit breaker open for %s, retry after %s", breakerKey, retryAfter)
	}

	release, err := m.concurrency.Acquire(ctx, req.Config.Priority)
	if err != nil {
		return "", fmt.Errorf("download: acquiring concurrency permit: %w", err)
	}

	downloadID := uuid.NewString()
	downloadCtx, cancel := context.WithCancel(ctx)

	active := &ActiveDownload{
		DownloadID: downloadID,
		StreamerID: req.StreamerID,
		SessionID:  req.SessionID,
		EngineType: engineType,
		BreakerKey: breakerKey,
		status:     StatusStarting,
		config:     req.Config,
		outputPath: req.Config.OutputPath,
		progress:   NewProgressTracker(0, 0),
		cancel:     cancel,
		release:    release,
	}

	m.mu.Lock()
	m.active[downloadID] = active
	m.mu.Unlock()

	m.publish(EvtDownloadStarted{
		DownloadID: downloadID,
		StreamerID: req.StreamerID,
		SessionID:  req.SessionID,
		EngineType: engineType,
	})

	go m.runConsumer(downloadCtx, engine, req, active)

	return downloadID, nil
}

// runConsumer drives one download's engine task and translates its
// SegmentEvents into ManagerEvents over a download's lifecycle.
func (m *Manager) runConsumer(ctx context.Context, engine Engine, req StartRequest, active *ActiveDownload) {
	events := make(chan SegmentEvent, 32)
	done := make(chan error, 1)

	go func() {
		done <- engine.Download(ctx, DownloadRequest{
			StreamerID: req.StreamerID,
			URL:        req.URL,
			Headers:    req.Config.Headers,
		}, events)
		close(events)
	}()

	active.setStatus(StatusDownloading)

	var segmentIndex int64
	for evt := range events {
		switch e := evt.(type) {
		case SegmentStartedEvt:
			m.applyPendingConfig(active)
			m.publish(EvtSegmentStarted{
				DownloadID: active.DownloadID,
				StreamerID: active.StreamerID,
				Path:       e.Path,
				Sequence:   e.Sequence,
			})
			active.progress.SetCurrentSegment(e.Sequence)
		case SegmentBytesEvt:
			active.progress.AddBytes(e.Bytes)
			if active.progress.ShouldEmitProgress() {
				m.publish(EvtProgress{
					DownloadID: active.DownloadID,
					StreamerID: active.StreamerID,
					Progress:   active.progress.ToProgress(),
				})
			}
		case SegmentCompletedEvt:
			segmentIndex = e.Index
			active.progress.CompleteSegment()
			m.mu.Lock()
			active.outputPath = e.Path
			m.mu.Unlock()
			m.publish(EvtSegmentCompleted{
				DownloadID:   active.DownloadID,
				StreamerID:   active.StreamerID,
				SessionID:    active.SessionID,
				Path:         e.Path,
				DurationSecs: e.DurationSecs,
				SizeBytes:    e.SizeBytes,
				Index:        e.Index,
				CompletedAt:  e.CompletedAt,
			})
		case DownloadCompletedEvt:
			m.finish(active, StatusCompleted, false)
			m.publish(EvtDownloadCompleted{
				DownloadID:        active.DownloadID,
				StreamerID:        active.StreamerID,
				TotalBytes:        e.TotalBytes,
				TotalDurationSecs: e.TotalDurationSecs,
				TotalSegments:     e.TotalSegments,
			})
		case DownloadFailedEvt:
			m.finish(active, StatusFailed, !e.Recoverable)
			m.publish(EvtDownloadFailed{
				DownloadID:  active.DownloadID,
				StreamerID:  active.StreamerID,
				Error:       e.Error,
				Recoverable: e.Recoverable,
			})
		}
	}

	if err := <-done; err != nil {
		m.logger.Error("engine task returned an error outside its event stream", "download_id", active.DownloadID, "streamer_id", active.StreamerID, "error", err, "segment_index", segmentIndex)
	}
}

// finish records the circuit-breaker outcome and removes the ActiveDownload,
// dropping its pending updates and returning its permit to the pool unless
// StopDownload already removed it and returned the permit.
func (m *Manager) finish(active *ActiveDownload, status DownloadStatus, permanent bool) {
	active.setStatus(status)

	if status == StatusCompleted {
		m.breaker.RecordSuccess(active.BreakerKey)
	} else if status == StatusFailed {
		m.breaker.RecordFailure(active.BreakerKey, permanent)
	}

	m.mu.Lock()
	_, stillActive := m.active[active.DownloadID]
	delete(m.active, active.DownloadID)
	m.mu.Unlock()

	active.mu.Lock()
	active.pending = nil
	active.mu.Unlock()

	if stillActive {
		active.release()
	}
}

// applyPendingConfig drains and applies any pending config update at a
// SegmentStarted boundary
func (m *Manager) applyPendingConfig(active *ActiveDownload) {
	active.mu.Lock()
	pending := active.pending
	active.pending = nil
	if pending != nil {
		if pending.hasCookies {
			active.config.Cookies = pending.cookies
		}
		if pending.hasHeaders {
			active.config.Headers = pending.headers
		}
		if pending.hasRetry {
			active.config.Retry = pending.retry
		}
	}
	active.mu.Unlock()

	if pending == nil {
		return
	}
	m.publish(EvtConfigUpdated{
		DownloadID: active.DownloadID,
		StreamerID: active.StreamerID,
		UpdateType: pending.updateType(),
	})
}

// UpdateDownloadConfig merges a partial config update into id's pending
// record (newest wins). A call with every field unset is a no-op and is
// never queued.
func (m *Manager) UpdateDownloadConfig(id string, cookies, headers map[string]string, retry *RetryConfig) error {
	m.mu.Lock()
	active, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("download: no active download %s", id)
	}

	if cookies == nil && headers == nil && retry == nil {
		return nil
	}

	active.mu.Lock()
	defer active.mu.Unlock()
	if active.pending == nil {
		active.pending = &pendingConfigUpdate{}
	}
	if cookies != nil {
		active.pending.cookies = cookies
		active.pending.hasCookies = true
	}
	if headers != nil {
		active.pending.headers = headers
		active.pending.hasHeaders = true
	}
	if retry != nil {
		active.pending.retry = retry
		active.pending.hasRetry = true
	}
	return nil
}

// StopDownload cancels and removes the named download, emitting
// DownloadCancelled.
func (m *Manager) StopDownload(id string) error {
	m.mu.Lock()
	active, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("download: no active download %s", id)
	}

	active.setStatus(StatusCancelled)
	active.cancel()
	active.release()

	active.mu.Lock()
	active.pending = nil
	active.mu.Unlock()

	m.publish(EvtDownloadCancelled{DownloadID: active.DownloadID, StreamerID: active.StreamerID})
	return nil
}

// StopAll cancels every active download.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.StopDownload(id)
	}
}

// OutputPath returns the last-known output path for a download, or "" if
// unknown.
func (m *Manager) OutputPath(id string) string {
	m.mu.Lock()
	active, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return ""
	}
	active.mu.Lock()
	defer active.mu.Unlock()
	return active.outputPath
}

// ReconfigureConcurrency applies new concurrency limits without
// interrupting in-flight downloads.
func (m *Manager) ReconfigureConcurrency(cfg config.ConcurrencyConfig) {
	m.concurrency.Reconfigure(cfg)
}
