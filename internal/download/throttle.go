// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package download implements the download manager (C6) and the engine
// registry / progress tracker (C7): admission, scheduling, and lifecycle
// tracking of per-streamer media downloads, plus the resilience machinery
// (concurrency reservation, circuit breaker, engine resolution) around them.
package download

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize caps how many bytes a single throttled write waits for at
// once, so a large segment doesn't reserve an enormous burst up front.
const maxBurstSize = 256 * 1024

// ThrottledSegmentWriter is an io.Writer that rate-limits segment bytes to a
// configured bandwidth cap using a token bucket.
type ThrottledSegmentWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledSegmentWriter wraps w with a bytesPerSec rate limit. A
// bytesPerSec <= 0 means "unlimited" and returns w unwrapped.
func NewThrottledSegmentWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}

	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	if burst <= 0 {
		burst = 1
	}

	return &ThrottledSegmentWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write implements io.Writer, splitting writes larger than the configured
// burst so the limiter's tokens are consumed gradually rather than all at
// once.
func (tw *ThrottledSegmentWriter) Write(p []byte) (int, error) {
	totalWritten := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}

		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return totalWritten, err
		}

		n, err := tw.w.Write(p[:chunk])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		p = p[n:]
	}

	return totalWritten, nil
}
