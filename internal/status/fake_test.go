// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package status

import (
	"context"
	"time"

	"github.com/hua0512/streamrecd/internal/model"
)

// fakeChecker is a minimal Checker used only to exercise Registry wiring.
type fakeChecker struct{}

func (f *fakeChecker) CheckStatus(ctx context.Context, st *model.Streamer) (model.CheckResult, model.LiveStatus, error) {
	return model.CheckResult{}, model.LiveStatus{}, nil
}

func (f *fakeChecker) ProcessStatus(ctx context.Context, st *model.Streamer, liveStatus model.LiveStatus) error {
	return nil
}

func (f *fakeChecker) HandleError(ctx context.Context, st *model.Streamer, message string, transient bool) error {
	return nil
}

func (f *fakeChecker) SetCircuitBreakerBlocked(ctx context.Context, st *model.Streamer, retryAfter time.Duration) error {
	return nil
}
