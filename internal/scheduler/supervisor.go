// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package scheduler implements the supervisor (C5): it owns every streamer
// actor and platform actor, hydrates them from the metadata store at
// startup, respawns a streamer actor after a recoverable exit with
// exponential backoff, and tears one down for good on a fatal exit or an
// external config change that marks the streamer inactive. It never holds a
// back-reference to the service container; the container instead drives it
// through the narrow interfaces the container itself defines
// (actorsys.Dispatcher here, container.ActorRouter structurally elsewhere).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hua0512/streamrecd/internal/actorsys"
	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/model"
	"github.com/hua0512/streamrecd/internal/status"
)

// CheckerFactory resolves the status.Checker to drive liveness checks for
// streamers on platformID. One factory serves every platform; it is the
// supervisor's only coupling to the concrete per-platform check logic.
type CheckerFactory func(platformID string) (status.Checker, error)

// ConcurrencyReconfigurer is the narrow view of the download manager the
// supervisor needs to recompute semaphore sizing on GlobalUpdated.
type ConcurrencyReconfigurer interface {
	ReconfigureConcurrency(cfg config.ConcurrencyConfig)
}

const (
	defaultBatchWindow = 2 * time.Second
	defaultBackoffBase = 2 * time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// actorHandle tracks one running streamer actor and how to cancel it.
type actorHandle struct {
	actor  *actorsys.StreamerActor
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the full set of running streamer and platform actors.
type Supervisor struct {
	logger      *slog.Logger
	store       *model.Store
	checkerFor  CheckerFactory
	stateDir    string
	batchWindow time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	concurrency ConcurrencyReconfigurer
	load        *LoadMonitor

	mu             sync.Mutex
	cfg            config.GlobalConfig
	actors         map[string]*actorHandle
	platforms      map[string]*actorsys.PlatformActor
	platformCancel map[string]context.CancelFunc
}

// NewSupervisor creates a Supervisor. cfg is the initial GlobalConfig every
// spawned actor starts with, until the first GlobalUpdated event replaces
// it.
func NewSupervisor(store *model.Store, checkerFor CheckerFactory, stateDir string, cfg config.GlobalConfig, concurrency ConcurrencyReconfigurer, load *LoadMonitor, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		logger:         logger.With("component", "supervisor"),
		store:          store,
		checkerFor:     checkerFor,
		stateDir:       stateDir,
		batchWindow:    defaultBatchWindow,
		backoffBase:    defaultBackoffBase,
		backoffMax:     defaultBackoffMax,
		concurrency:    concurrency,
		load:           load,
		cfg:            cfg,
		actors:         make(map[string]*actorHandle),
		platforms:      make(map[string]*actorsys.PlatformActor),
		platformCancel: make(map[string]context.CancelFunc),
	}
}

// Hydrate spawns a supervised actor for every streamer already in the
// store whose state is active. It is called once at startup, after the
// config service has finished its initial load into the store.
func (s *Supervisor) Hydrate(ctx context.Context) {
	for _, st := range s.store.All() {
		if !st.State.IsActive() {
			continue
		}
		s.Spawn(ctx, st.ID)
	}
}

// Spawn starts a supervised actor for streamerID if one isn't already
// running. It reports whether a new actor was started.
func (s *Supervisor) Spawn(ctx context.Context, streamerID string) bool {
	s.mu.Lock()
	if _, exists := s.actors[streamerID]; exists {
		s.mu.Unlock()
		return false
	}
	actorCtx, cancel := context.WithCancel(ctx)
	handle := &actorHandle{cancel: cancel, done: make(chan struct{})}
	s.actors[streamerID] = handle
	s.mu.Unlock()

	go s.runSupervised(actorCtx, streamerID, handle)
	return true
}

// runSupervised is the respawn loop: it builds a fresh actor on every
// attempt (a stopped actor cannot be restarted, since its mailboxes are
// already closed over by callers that may be blocked sending to them), runs
// it to completion, and either stops for good or retries after a backoff.
func (s *Supervisor) runSupervised(ctx context.Context, streamerID string, handle *actorHandle) {
	defer close(handle.done)
	defer func() {
		s.mu.Lock()
		delete(s.actors, streamerID)
		s.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		actor, err := s.newActor(streamerID)
		if err != nil {
			s.logger.Error("failed to build streamer actor, giving up", "streamer_id", streamerID, "error", err)
			return
		}

		s.mu.Lock()
		handle.actor = actor
		s.mu.Unlock()

		outcome, runErr := actor.Run(ctx)
		s.logger.Info("streamer actor exited", "streamer_id", streamerID, "outcome", outcome, "error", runErr)

		switch outcome {
		case actorsys.OutcomeRecoverable:
			delay := backoffWithJitter(attempt, s.backoffBase, s.backoffMax)
			s.logger.Info("respawning streamer actor after backoff", "streamer_id", streamerID, "delay", delay, "attempt", attempt)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return
			}

		default: // OutcomeStopped, OutcomeFatal
			return
		}
	}
}

// newActor resolves the current streamer record, its checker, and its
// platform actor (if batch-capable), then constructs a fresh actorsys
// actor for it.
func (s *Supervisor) newActor(streamerID string) (*actorsys.StreamerActor, error) {
	st := s.store.Get(streamerID)
	if st == nil {
		return nil, errStreamerNotFound(streamerID)
	}

	checker, err := s.checkerFor(st.PlatformID)
	if err != nil {
		return nil, err
	}

	var platform *actorsys.PlatformActor
	if st.BatchCapable {
		platform = s.platformActorFor(st.PlatformID, checker)
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	return actorsys.NewStreamerActor(*st, cfg, checker, platform, s.stateDir, s.logger), nil
}

// platformActorFor returns the running PlatformActor for platformID,
// lazily starting one (and its own batching goroutine) the first time a
// batch-capable streamer on that platform is spawned.
func (s *Supervisor) platformActorFor(platformID string, checker status.Checker) *actorsys.PlatformActor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.platforms[platformID]; ok {
		return p
	}

	platformCtx, cancel := context.WithCancel(context.Background())
	p := actorsys.NewPlatformActor(platformID, checker, s, s.batchWindow, s.lookupStreamer, s.logger)
	s.platforms[platformID] = p
	s.platformCancel[platformID] = cancel
	go p.Run(platformCtx)
	return p
}

// lookupStreamer adapts model.Store.Get's nil-means-absent return to the
// (value, ok) shape actorsys.PlatformActor expects from its index.
func (s *Supervisor) lookupStreamer(id string) (*model.Streamer, bool) {
	st := s.store.Get(id)
	return st, st != nil
}

// DispatchBatchResult implements actorsys.Dispatcher, routing a grouped
// check result back to the streamer actor it belongs to.
func (s *Supervisor) DispatchBatchResult(result actorsys.BatchResult) {
	actor := s.lookupActor(result.StreamerID)
	if actor == nil {
		s.logger.Warn("dropping batch result for streamer with no running actor", "streamer_id", result.StreamerID)
		return
	}
	actor.Send(result)
}

// RouteDownloadStarted structurally satisfies container.ActorRouter,
// forwarding a download-manager notification into the owning actor's
// mailbox.
func (s *Supervisor) RouteDownloadStarted(streamerID string, msg actorsys.DownloadStarted) {
	s.send(streamerID, msg)
}

// RouteDownloadEnded structurally satisfies container.ActorRouter.
func (s *Supervisor) RouteDownloadEnded(streamerID string, msg actorsys.DownloadEnded) {
	s.send(streamerID, msg)
}

func (s *Supervisor) send(streamerID string, msg actorsys.Message) {
	actor := s.lookupActor(streamerID)
	if actor == nil {
		s.logger.Warn("dropping message for streamer with no running actor", "streamer_id", streamerID, "message", msg)
		return
	}
	actor.Send(msg)
}

// lookupActor returns the running actor for streamerID, or nil if none is
// registered or it hasn't finished starting yet.
func (s *Supervisor) lookupActor(streamerID string) *actorsys.StreamerActor {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.actors[streamerID]
	if !ok {
		return nil
	}
	return handle.actor
}

// HandleConfigEvent reacts to a config-service notification: spawning,
// reconfiguring, or tearing down actors, and on GlobalUpdated pushing the
// new configuration to every running actor and recomputing download
// concurrency.
func (s *Supervisor) HandleConfigEvent(ctx context.Context, evt ConfigEvent) {
	switch e := evt.(type) {
	case StreamerMetadataUpdated:
		if e.NowActive {
			if !s.Spawn(ctx, e.StreamerID) {
				s.send(e.StreamerID, actorsys.ConfigUpdate{Config: s.currentConfig()})
			}
			return
		}
		s.stopActor(e.StreamerID)

	case StreamerDeleted:
		s.stopActor(e.StreamerID)

	case StreamerStateSyncedFromDB:
		if e.IsActive {
			s.Spawn(ctx, e.StreamerID)
			return
		}
		s.stopActor(e.StreamerID)

	case GlobalUpdated:
		s.applyGlobalConfig(ctx, e.Config)
	}
}

func (s *Supervisor) currentConfig() config.GlobalConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Supervisor) applyGlobalConfig(_ context.Context, cfg config.GlobalConfig) {
	s.mu.Lock()
	s.cfg = cfg
	actors := make([]*actorsys.StreamerActor, 0, len(s.actors))
	for _, h := range s.actors {
		if h.actor != nil {
			actors = append(actors, h.actor)
		}
	}
	s.mu.Unlock()

	if s.concurrency != nil {
		s.concurrency.ReconfigureConcurrency(cfg.Concurrency)
	}

	if s.load != nil {
		stats := s.load.Stats()
		s.logger.Info("applying global config update", "host_cpu_percent", stats.CPUPercent, "host_mem_percent", stats.MemoryPercent, "max_concurrent_downloads", cfg.Concurrency.MaxConcurrentDownloads)
	}

	for _, actor := range actors {
		actor.Send(actorsys.ConfigUpdate{Config: cfg})
	}
}

// stopActor asks a running actor to stop and waits for its supervised loop
// to exit, so a subsequent Spawn for the same streamer never races a
// still-unwinding previous one.
func (s *Supervisor) stopActor(streamerID string) {
	s.mu.Lock()
	handle, ok := s.actors[streamerID]
	var actor *actorsys.StreamerActor
	if ok {
		actor = handle.actor
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if actor != nil {
		actor.SendPriority(actorsys.Stop{})
	}
	handle.cancel()
	<-handle.done
}

// Shutdown stops every running actor and platform actor.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	streamerIDs := make([]string, 0, len(s.actors))
	for id := range s.actors {
		streamerIDs = append(streamerIDs, id)
	}
	platformCancels := make([]context.CancelFunc, 0, len(s.platformCancel))
	for _, cancel := range s.platformCancel {
		platformCancels = append(platformCancels, cancel)
	}
	s.mu.Unlock()

	for _, id := range streamerIDs {
		s.stopActor(id)
	}
	for _, cancel := range platformCancels {
		cancel()
	}
}

type errStreamerNotFound string

func (e errStreamerNotFound) Error() string { return "streamer not found: " + string(e) }
