// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package actorsys

import (
	"time"

	"github.com/hua0512/streamrecd/internal/config"
)

const maxBackoffCap = 30 * time.Minute

// scheduleNextCheck computes the instant a streamer actor's next liveness
// check is due. wasLive selects the shorter
// post-live polling window; errorCount drives exponential backoff capped at
// maxBackoffCap. disabledUntil, if in the future, always wins over either —
// it represents an externally-imposed temporary disable.
func scheduleNextCheck(cfg config.SchedulingConfig, wasLive bool, errorCount int, disabledUntil *time.Time, now time.Time) time.Time {
	interval := cfg.CheckInterval()
	if wasLive {
		interval = cfg.OfflineCheckInterval()
	}

	if errorCount > 0 {
		shift := min(errorCount, 10)
		backoff := interval * time.Duration(int64(1)<<uint(shift))
		if backoff > maxBackoffCap || backoff <= 0 {
			backoff = maxBackoffCap
		}
		interval = backoff
	}

	next := now.Add(interval)
	if disabledUntil != nil && disabledUntil.After(now) {
		next = *disabledUntil
	}
	return next
}

// nextCheckForTemporalDisable implements the "later of the two wins" rule
// from the supplemented disabled_until vs TemporalDisabled precedence
// decision: both the config-level backoff deadline and a checker-imposed
// TemporalDisabled deadline are candidates, and the actor takes the max.
func nextCheckForTemporalDisable(configDisabledUntil, temporalDisabledUntil *time.Time) *time.Time {
	switch {
	case configDisabledUntil == nil:
		return temporalDisabledUntil
	case temporalDisabledUntil == nil:
		return configDisabledUntil
	case temporalDisabledUntil.After(*configDisabledUntil):
		return temporalDisabledUntil
	default:
		return configDisabledUntil
	}
}
