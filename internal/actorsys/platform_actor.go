// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package actorsys

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hua0512/streamrecd/internal/model"
	"github.com/hua0512/streamrecd/internal/status"
)

// Dispatcher is the narrow view of the supervisor a PlatformActor needs: a
// way to hand a finished BatchResult back to the streamer actor it belongs
// to, without the platform actor knowing about the supervisor's full map.
type Dispatcher interface {
	DispatchBatchResult(result BatchResult)
}

type requestCheck struct {
	streamerID string
	reply      chan error
}

// PlatformActor accumulates RequestCheck calls for one platform within a
// short batching window, performs one grouped query, and fans the result
// back out as BatchResult messages. Acknowledgment on reply only means
// "accepted into this batch" — the result itself arrives later.
type PlatformActor struct {
	platformID    string
	checker       status.Checker
	dispatcher    Dispatcher
	batchWindow   time.Duration
	logger        *slog.Logger
	requests      chan requestCheck
	streamerIndex func(streamerID string) (*model.Streamer, bool)
}

// NewPlatformActor creates a platform actor for platformID. streamerIndex is
// consulted once per batched id, right before the grouped query runs, to
// get the current streamer metadata to probe.
func NewPlatformActor(platformID string, checker status.Checker, dispatcher Dispatcher, batchWindow time.Duration, streamerIndex func(string) (*model.Streamer, bool), logger *slog.Logger) *PlatformActor {
	if batchWindow <= 0 {
		batchWindow = 2 * time.Second
	}
	return &PlatformActor{
		platformID:    platformID,
		checker:       checker,
		dispatcher:    dispatcher,
		batchWindow:   batchWindow,
		logger:        logger.With("component", "platform_actor", "platform", platformID),
		requests:      make(chan requestCheck, 256),
		streamerIndex: streamerIndex,
	}
}

// RequestCheck enqueues streamerID for the next batch and blocks until the
// request is accepted or ctx expires.
func (p *PlatformActor) RequestCheck(ctx context.Context, streamerID string) error {
	reply := make(chan error, 1)
	select {
	case p.requests <- requestCheck{streamerID: streamerID, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the batching loop until ctx is cancelled.
func (p *PlatformActor) Run(ctx context.Context) {
	var pending []requestCheck
	var flush <-chan time.Time

	for {
		select {
		case req := <-p.requests:
			pending = append(pending, req)
			req.reply <- nil
			if flush == nil {
				flush = time.After(p.batchWindow)
			}

		case <-flush:
			batch := pending
			pending = nil
			flush = nil
			p.runBatch(ctx, batch)

		case <-ctx.Done():
			if len(pending) > 0 {
				p.runBatch(context.Background(), pending)
			}
			return
		}
	}
}

func (p *PlatformActor) runBatch(ctx context.Context, batch []requestCheck) {
	if len(batch) == 0 {
		return
	}

	for _, req := range batch {
		st, ok := p.streamerIndex(req.streamerID)
		if !ok {
			p.dispatcher.DispatchBatchResult(BatchResult{
				StreamerID: req.streamerID,
				Result: model.CheckResult{
					Error:     fmt.Sprintf("streamer %s not found in index", req.streamerID),
					Transient: true,
					CheckedAt: time.Now(),
				},
			})
			continue
		}

		result, liveStatus, err := p.checker.CheckStatus(ctx, st)
		if err != nil {
			result = model.CheckResult{
				Error:     err.Error(),
				Transient: status.IsTransient(err),
				CheckedAt: time.Now(),
			}
		}

		p.dispatcher.DispatchBatchResult(BatchResult{
			StreamerID: req.streamerID,
			Result:     result,
			LiveStatus: liveStatus,
		})
	}
}

// staticDispatcher is a minimal Dispatcher used by components wiring a
// PlatformActor directly to a single streamer actor's mailbox, bypassing a
// full supervisor (used by tests and single-streamer entry points).
type staticDispatcher struct {
	mu       sync.Mutex
	handlers map[string]func(BatchResult)
}

// NewStaticDispatcher returns a Dispatcher that routes by streamer id to
// whatever handler was last registered for it.
func NewStaticDispatcher() *staticDispatcher {
	return &staticDispatcher{handlers: make(map[string]func(BatchResult))}
}

func (d *staticDispatcher) Register(streamerID string, handler func(BatchResult)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[streamerID] = handler
}

func (d *staticDispatcher) DispatchBatchResult(result BatchResult) {
	d.mu.Lock()
	handler, ok := d.handlers[result.StreamerID]
	d.mu.Unlock()
	if ok {
		handler(result)
	}
}
