// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package actorsys implements the streamer actor (C3) and platform actor
// (C4): one cooperative, single-threaded actor per streamer that decides
// when to probe liveness and reacts to download lifecycle events, plus one
// actor per platform that batches liveness probes for platforms that
// support it.
package actorsys

import (
	"time"

	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/model"
)

// Message is implemented by every value a streamer actor can receive on
// either of its mailboxes.
type Message interface{ isMessage() }

// CheckStatus asks the actor to treat a check as due right now.
type CheckStatus struct{}

func (CheckStatus) isMessage() {}

// ConfigUpdate replaces the actor's configuration.
type ConfigUpdate struct {
	Config config.GlobalConfig
}

func (ConfigUpdate) isMessage() {}

// BatchResult carries a platform actor's grouped check result back to the
// owning streamer actor.
type BatchResult struct {
	StreamerID string
	Result     model.CheckResult
	LiveStatus model.LiveStatus
}

func (BatchResult) isMessage() {}

// DownloadStarted notifies the actor that its download manager accepted and
// started a download for this streamer.
type DownloadStarted struct {
	DownloadID string
	SessionID  string
}

func (DownloadStarted) isMessage() {}

// DownloadEndKind discriminates the reason a download ended, mirroring the
// sum type an actor can observe.
type DownloadEndKind int

const (
	DownloadEndStreamerOffline DownloadEndKind = iota
	DownloadEndNetworkError
	DownloadEndSegmentFailed
	DownloadEndCancelled
	DownloadEndOther
	DownloadEndCircuitBreakerBlocked
)

// DownloadEnded notifies the actor that its download ended, with Kind
// selecting which of the optional fields are meaningful.
type DownloadEnded struct {
	Kind       DownloadEndKind
	Message    string        // NetworkError, SegmentFailed, Other
	Reason     string        // CircuitBreakerBlocked
	RetryAfter time.Duration // CircuitBreakerBlocked
}

func (DownloadEnded) isMessage() {}

// Stop asks the actor to exit cleanly after persisting its state.
type Stop struct{}

func (Stop) isMessage() {}

// RuntimeState is the snapshot a GetState request returns.
type RuntimeState struct {
	Streamer     model.Streamer
	WasLive      bool
	OfflineCount int
	NextCheck    time.Time
}

// GetState asks the actor to send a snapshot of its current state on Reply.
type GetState struct {
	Reply chan<- RuntimeState
}

func (GetState) isMessage() {}
