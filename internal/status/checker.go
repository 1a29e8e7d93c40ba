// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package status defines the capability a streamer actor uses to learn
// whether a streamer is live, without the actor knowing anything about the
// platform-specific HTTP/scraping/JS work involved. Concrete checkers (one
// per platform) implement Checker; the actor only ever sees the interface.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/hua0512/streamrecd/internal/model"
)

// Checker is the platform-opaque capability a streamer actor drives. Every
// method may be called concurrently for different streamers but never
// concurrently for the same streamer, since the owning actor is
// single-threaded.
type Checker interface {
	// CheckStatus performs one liveness probe for st and reports both the
	// actor-facing outcome and the richer status payload process_status
	// needs downstream.
	CheckStatus(ctx context.Context, st *model.Streamer) (model.CheckResult, model.LiveStatus, error)

	// ProcessStatus persists/reacts to a liveness transition that already
	// cleared the actor's hysteresis gate.
	ProcessStatus(ctx context.Context, st *model.Streamer, liveStatus model.LiveStatus) error

	// HandleError records a check or download failure against st. message
	// should be human-readable; transient must match the Err's own
	// classification when the error originated from this package.
	HandleError(ctx context.Context, st *model.Streamer, message string, transient bool) error

	// SetCircuitBreakerBlocked persists a TemporalDisabled transition with
	// the instant the breaker reopens, so a restart of the process recovers
	// the same backoff deadline.
	SetCircuitBreakerBlocked(ctx context.Context, st *model.Streamer, retryAfter time.Duration) error
}

// CheckError is the error type every Checker method returns on failure. The
// Transient flag is load-bearing: a streamer actor continues on a transient
// error and stops on a non-transient one.
type CheckError struct {
	Message   string
	Transient bool
	Cause     error
}

func (e *CheckError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *CheckError) Unwrap() error { return e.Cause }

// NewTransientError wraps cause as a recoverable check failure.
func NewTransientError(message string, cause error) *CheckError {
	return &CheckError{Message: message, Transient: true, Cause: cause}
}

// NewFatalError wraps cause as a non-recoverable check failure; the owning
// actor stops after seeing this.
func NewFatalError(message string, cause error) *CheckError {
	return &CheckError{Message: message, Transient: false, Cause: cause}
}

// IsTransient reports whether err is, or wraps, a transient CheckError. An
// error that isn't a CheckError at all is treated as transient, matching
// the conservative default used elsewhere for unclassified network errors.
func IsTransient(err error) bool {
	if err == nil {
		return true
	}
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return true
}

// PermanentHTTPStatus reports whether code is one of the permanent HTTP
// errors {403, 404, 410} that the download manager's circuit breaker must
// never count toward its failure threshold.
func PermanentHTTPStatus(code int) bool {
	switch code {
	case 403, 404, 410:
		return true
	default:
		return false
	}
}
