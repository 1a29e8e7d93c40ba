// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package reorder

import (
	"time"

	"github.com/hua0512/streamrecd/internal/config"
)

// gapState tracks the single outstanding gap a reorder Manager may have at
// any one time: the missing sequence, when it was first detected, and how
// many "future" segments have already queued up behind it.
type gapState struct {
	missingSequence  uint64
	detectedAt       time.Time
	segmentsSinceGap uint64
}

// SkipReasonKind names which threshold(s) triggered a gap skip.
type SkipReasonKind string

const (
	SkipReasonCount    SkipReasonKind = "count_threshold"
	SkipReasonDuration SkipReasonKind = "duration_threshold"
	SkipReasonBoth     SkipReasonKind = "both_thresholds"
)

// SkipReason names exactly which threshold(s) a gap skip crossed.
type SkipReason struct {
	Kind     SkipReasonKind
	Count    uint64
	Duration time.Duration
}

// shouldSkipGap evaluates the configured gap strategy against the current
// gap state and returns (skip, reason). Only SkipAfterBoth can report Both;
// it uses OR semantics and names exactly the threshold(s) crossed.
func shouldSkipGap(strategy config.GapStrategy, gap gapState, now time.Time) (bool, SkipReason) {
	elapsed := now.Sub(gap.detectedAt)

	switch strategy.Kind {
	case config.GapWaitIndefinitely:
		return false, SkipReason{}

	case config.GapSkipAfterCount:
		if gap.segmentsSinceGap >= strategy.Count {
			return true, SkipReason{Kind: SkipReasonCount, Count: strategy.Count}
		}
		return false, SkipReason{}

	case config.GapSkipAfterDur:
		if elapsed >= strategy.Duration {
			return true, SkipReason{Kind: SkipReasonDuration, Duration: strategy.Duration}
		}
		return false, SkipReason{}

	case config.GapSkipAfterBoth:
		countCrossed := gap.segmentsSinceGap >= strategy.Count
		durationCrossed := elapsed >= strategy.Duration
		switch {
		case countCrossed && durationCrossed:
			return true, SkipReason{Kind: SkipReasonBoth, Count: strategy.Count, Duration: strategy.Duration}
		case countCrossed:
			return true, SkipReason{Kind: SkipReasonCount, Count: strategy.Count}
		case durationCrossed:
			return true, SkipReason{Kind: SkipReasonDuration, Duration: strategy.Duration}
		default:
			return false, SkipReason{}
		}

	default:
		return false, SkipReason{}
	}
}
