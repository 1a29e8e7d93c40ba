// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package actorsys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/model"
	"github.com/hua0512/streamrecd/internal/status"
)

// Outcome is how a streamer actor's Run loop ended, which the supervisor
// uses to decide whether to respawn it.
type Outcome int

const (
	OutcomeStopped Outcome = iota
	OutcomeFatal
	OutcomeRecoverable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStopped:
		return "stopped"
	case OutcomeFatal:
		return "fatal"
	case OutcomeRecoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

const platformAckTimeout = 5 * time.Second

// priorityMailboxSize and normalMailboxSize size the two inboxes a
// streamer actor reads from. Stop and GetState go to the small priority
// mailbox so an operator-issued stop or a status probe is never stuck
// behind a backlog of routine check/download traffic.
const (
	priorityMailboxSize = 4
	normalMailboxSize   = 64
)

// StreamerActor owns the full lifecycle of one streamer: scheduling
// liveness checks, reacting to download events, and persisting its state.
// It is single-threaded — every field below is only ever touched from
// inside Run.
type StreamerActor struct {
	id       string
	logger   *slog.Logger
	checker  status.Checker
	platform *PlatformActor // nil if this streamer's platform doesn't batch
	stateDir string

	priority chan Message
	normal   chan Message

	streamer    model.Streamer
	cfg         config.GlobalConfig
	hysteresis  Hysteresis
	nextCheck   time.Time // zero means "no check scheduled"
	errorCount  int
}

// NewStreamerActor creates an actor for st. If stateDir is non-empty and a
// prior persisted state exists, it is restored.
func NewStreamerActor(st model.Streamer, cfg config.GlobalConfig, checker status.Checker, platform *PlatformActor, stateDir string, logger *slog.Logger) *StreamerActor {
	a := &StreamerActor{
		id:       st.ID,
		logger:   logger.With("component", "streamer_actor", "streamer_id", st.ID),
		checker:  checker,
		platform: platform,
		stateDir: stateDir,
		priority: make(chan Message, priorityMailboxSize),
		normal:   make(chan Message, normalMailboxSize),
		streamer: st,
		cfg:      cfg,
	}

	if restored, err := loadState(stateDir, st.ID); err != nil {
		a.logger.Warn("failed to restore actor state, starting fresh", "error", err)
	} else if restored != nil {
		a.streamer = restored.Streamer
		a.hysteresis = Hysteresis{WasLive: restored.WasLive, OfflineCount: restored.OfflineCount}
		a.errorCount = restored.Streamer.ConsecutiveErrs
		a.nextCheck = restored.NextCheck
		if a.nextCheck.IsZero() || a.nextCheck.Before(time.Now()) {
			a.nextCheck = scheduleNextCheck(cfg.Scheduling, a.hysteresis.WasLive, a.errorCount, a.streamer.DisabledUntil, time.Now())
		}
	}

	return a
}

// Send delivers msg to the normal mailbox, blocking if it's full.
func (a *StreamerActor) Send(msg Message) { a.normal <- msg }

// SendPriority delivers msg to the priority mailbox, blocking if it's full.
func (a *StreamerActor) SendPriority(msg Message) { a.priority <- msg }

// Run drives the actor until Stop, ctx cancellation, or a fatal/recoverable
// outcome. It always persists state before returning.
func (a *StreamerActor) Run(ctx context.Context) (Outcome, error) {
	if a.nextCheck.IsZero() {
		a.nextCheck = time.Now()
	}

	for {
		if a.streamer.State.IsFatal() {
			a.persist()
			return OutcomeFatal, fmt.Errorf("streamer %s reached fatal state %s", a.id, a.streamer.State)
		}

		// Drain every pending priority message before considering anything else.
		for drained := false; !drained; {
			select {
			case msg := <-a.priority:
				if outcome, err, stop := a.dispatch(ctx, msg); stop {
					a.persist()
					return outcome, err
				}
			default:
				drained = true
			}
		}

		timer := time.NewTimer(a.timeUntilNextEvent())
		select {
		case msg := <-a.priority:
			timer.Stop()
			if outcome, err, stop := a.dispatch(ctx, msg); stop {
				a.persist()
				return outcome, err
			}

		case msg := <-a.normal:
			timer.Stop()
			if outcome, err, stop := a.dispatch(ctx, msg); stop {
				a.persist()
				return outcome, err
			}

		case <-timer.C:
			a.runCheck(ctx)

		case <-ctx.Done():
			timer.Stop()
			a.persist()
			return OutcomeStopped, nil
		}
	}
}

// timeUntilNextEvent returns how long to sleep before the check timer (or
// the Live watchdog) fires.
func (a *StreamerActor) timeUntilNextEvent() time.Duration {
	if !a.nextCheck.IsZero() {
		if d := time.Until(a.nextCheck); d > 0 {
			return d
		}
		return 0
	}

	if a.streamer.State == model.StateLive {
		watchdog := a.cfg.Scheduling.CheckInterval()
		if watchdog < 2*time.Hour {
			watchdog = 2 * time.Hour
		}
		return watchdog
	}

	return 24 * time.Hour
}

// dispatch handles one message and reports whether Run should stop, plus
// the outcome/error to return in that case.
func (a *StreamerActor) dispatch(ctx context.Context, msg Message) (Outcome, error, bool) {
	switch m := msg.(type) {
	case Stop:
		a.logger.Info("actor stopping on request")
		return OutcomeStopped, nil, true

	case GetState:
		m.Reply <- RuntimeState{
			Streamer:     *a.streamer.Clone(),
			WasLive:      a.hysteresis.WasLive,
			OfflineCount: a.hysteresis.OfflineCount,
			NextCheck:    a.nextCheck,
		}
		return 0, nil, false

	case CheckStatus:
		a.nextCheck = time.Now()
		return 0, nil, false

	case ConfigUpdate:
		a.cfg = m.Config
		if a.nextCheck.IsZero() || a.nextCheck.Before(time.Now()) {
			a.nextCheck = scheduleNextCheck(a.cfg.Scheduling, a.hysteresis.WasLive, a.errorCount, a.streamer.DisabledUntil, time.Now())
		}
		return 0, nil, false

	case BatchResult:
		if m.StreamerID != a.id {
			a.logger.Warn("dropping batch result for mismatched streamer id", "got", m.StreamerID)
			return 0, nil, false
		}
		if m.Result.IsError() {
			a.onError(ctx, errors.New(m.Result.Error), m.Result.Transient)
			return 0, nil, false
		}
		a.onCheckSuccess(ctx, m.Result, m.LiveStatus)
		return 0, nil, false

	case DownloadStarted:
		a.streamer.State = model.StateLive
		a.hysteresis.Record(model.StateLive, a.cfg.Scheduling.OfflineCheckCount)
		a.nextCheck = scheduleNextCheck(a.cfg.Scheduling, true, 0, a.streamer.DisabledUntil, time.Now())
		return 0, nil, false

	case DownloadEnded:
		return a.onDownloadEnded(ctx, m)
	}

	return 0, nil, false
}

func (a *StreamerActor) onDownloadEnded(ctx context.Context, m DownloadEnded) (Outcome, error, bool) {
	now := time.Now()

	switch m.Kind {
	case DownloadEndStreamerOffline:
		wasLive := a.hysteresis.WasLive
		_ = a.checker.ProcessStatus(ctx, &a.streamer, model.LiveStatus{Kind: model.LiveStatusOffline})
		a.hysteresis.WasLive = wasLive
		a.hysteresis.OfflineCount++
		a.nextCheck = now.Add(a.cfg.Scheduling.OfflineCheckInterval())
		return 0, nil, false

	case DownloadEndNetworkError, DownloadEndSegmentFailed:
		a.nextCheck = now
		return 0, nil, false

	case DownloadEndCancelled:
		_ = a.checker.ProcessStatus(ctx, &a.streamer, model.LiveStatus{Kind: model.LiveStatusOffline})
		a.logger.Info("actor exiting after operator cancellation")
		return OutcomeFatal, fmt.Errorf("streamer %s cancelled", a.id), true

	case DownloadEndCircuitBreakerBlocked:
		a.streamer.State = model.StateTemporalDisabled
		deadline := now.Add(m.RetryAfter)
		later := nextCheckForTemporalDisable(a.streamer.DisabledUntil, &deadline)
		a.streamer.DisabledUntil = later
		if err := a.checker.SetCircuitBreakerBlocked(ctx, &a.streamer, m.RetryAfter); err != nil {
			a.logger.Warn("failed to persist circuit breaker block through checker", "error", err)
		}
		a.nextCheck = *later
		return 0, nil, false

	default: // DownloadEndOther
		a.nextCheck = scheduleNextCheck(a.cfg.Scheduling, a.hysteresis.WasLive, a.errorCount, a.streamer.DisabledUntil, now)
		return 0, nil, false
	}
}

// runCheck performs one liveness probe, either directly or by delegating to
// a platform actor when the streamer is batch-capable.
func (a *StreamerActor) runCheck(ctx context.Context) {
	if a.streamer.IsDisabled() {
		a.nextCheck = time.Now().Add(a.streamer.RemainingBackoff(time.Now()))
		return
	}

	if a.streamer.BatchCapable && a.platform != nil {
		a.initiateDelegatedCheck(ctx)
		return
	}

	result, liveStatus, err := a.checker.CheckStatus(ctx, &a.streamer)
	if err != nil {
		a.onError(ctx, err, status.IsTransient(err))
		return
	}
	a.onCheckSuccess(ctx, result, liveStatus)
}

func (a *StreamerActor) initiateDelegatedCheck(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, platformAckTimeout)
	defer cancel()

	if err := a.platform.RequestCheck(reqCtx, a.id); err != nil {
		a.logger.Warn("platform batch request not acknowledged in time, retrying next tick", "error", err)
		a.nextCheck = time.Now().Add(a.cfg.Scheduling.CheckInterval())
		return
	}
	// The actual result arrives later as a BatchResult message; leave
	// nextCheck unset until it's handled there to avoid a duplicate probe.
	a.nextCheck = time.Time{}
}

func (a *StreamerActor) onCheckSuccess(ctx context.Context, result model.CheckResult, liveStatus model.LiveStatus) {
	a.errorCount = 0
	a.streamer.ConsecutiveErrs = 0

	if result.State.IsFatal() {
		a.logger.Info("actor observed fatal state from checker", "state", result.State)
		a.streamer.State = result.State
		a.persist()
		return
	}

	shouldEmit := a.hysteresis.Record(result.State, a.cfg.Scheduling.OfflineCheckCount)
	a.streamer.State = result.State
	if result.State == model.StateLive {
		now := time.Now()
		a.streamer.LastLive = &now
	}

	if shouldEmit {
		if err := a.checker.ProcessStatus(ctx, &a.streamer, liveStatus); err != nil {
			a.logger.Warn("process_status failed", "error", err)
		}
	}

	a.nextCheck = scheduleNextCheck(a.cfg.Scheduling, a.hysteresis.WasLive, a.errorCount, a.streamer.DisabledUntil, time.Now())
}

func (a *StreamerActor) onError(ctx context.Context, err error, transient bool) {
	if !transient {
		a.logger.Error("non-transient check error, actor stopping", "error", err)
		a.streamer.State = model.StateFatalError
		a.streamer.LastError = err.Error()
		return
	}

	a.errorCount++
	a.streamer.ConsecutiveErrs++
	a.streamer.LastError = err.Error()
	if hErr := a.checker.HandleError(ctx, &a.streamer, err.Error(), true); hErr != nil {
		a.logger.Warn("handle_error failed", "error", hErr)
	}
	a.nextCheck = scheduleNextCheck(a.cfg.Scheduling, a.hysteresis.WasLive, a.errorCount, a.streamer.DisabledUntil, time.Now())
}

func (a *StreamerActor) persist() {
	err := saveState(a.stateDir, persistedState{
		Streamer:     a.streamer,
		WasLive:      a.hysteresis.WasLive,
		OfflineCount: a.hysteresis.OfflineCount,
		NextCheck:    a.nextCheck,
	})
	if err != nil {
		a.logger.Warn("failed to persist actor state", "error", err)
	}
}
