// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"context"
	"sync"

	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/model"
)

// reservedSemaphore is a counting semaphore whose capacity ("desired") can
// be changed at runtime without ever revoking a permit already handed out.
// Shrinking desired below the current outstanding count just means future
// Acquire calls block until enough in-flight holds release on their own.
type reservedSemaphore struct {
	mu          sync.Mutex
	cond        *sync.Cond
	desired     int
	outstanding int
}

func newReservedSemaphore(desired int) *reservedSemaphore {
	s := &reservedSemaphore{desired: desired}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetDesired updates capacity. It never interrupts permits already held.
func (s *reservedSemaphore) SetDesired(desired int) {
	s.mu.Lock()
	s.desired = desired
	s.mu.Unlock()
	s.cond.Broadcast()
}

// TryAcquire acquires a permit only if one is immediately available.
func (s *reservedSemaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding < s.desired {
		s.outstanding++
		return true
	}
	return false
}

// Acquire blocks until a permit is available or ctx is done.
func (s *reservedSemaphore) Acquire(ctx context.Context) error {
	unblock := make(chan struct{})
	defer close(unblock)
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-unblock:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.outstanding >= s.desired {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	s.outstanding++
	return nil
}

// Release returns a permit to the pool.
func (s *reservedSemaphore) Release() {
	s.mu.Lock()
	s.outstanding--
	s.mu.Unlock()
	s.cond.Broadcast()
}

// InUse reports how many permits are currently checked out.
func (s *reservedSemaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// ConcurrencyManager owns the download manager's two logical semaphores:
// the normal pool, and a smaller high-priority-extra pool that high
// priority downloads try first before falling back to the normal pool.
type ConcurrencyManager struct {
	normal    *reservedSemaphore
	highExtra *reservedSemaphore
}

// NewConcurrencyManager builds a ConcurrencyManager from cfg, enforcing the
// minimums: normal desired >= 1, extra desired >= 0.
func NewConcurrencyManager(cfg config.ConcurrencyConfig) *ConcurrencyManager {
	return &ConcurrencyManager{
		normal:    newReservedSemaphore(normalizeDesired(cfg.MaxConcurrentDownloads, 1)),
		highExtra: newReservedSemaphore(normalizeDesired(cfg.HighPriorityExtraSlots, 0)),
	}
}

func normalizeDesired(v, min int) int {
	if v < min {
		return min
	}
	return v
}

// Reconfigure applies new desired capacities without interrupting
// in-flight downloads.
func (c *ConcurrencyManager) Reconfigure(cfg config.ConcurrencyConfig) {
	c.normal.SetDesired(normalizeDesired(cfg.MaxConcurrentDownloads, 1))
	c.highExtra.SetDesired(normalizeDesired(cfg.HighPriorityExtraSlots, 0))
}

// Acquire reserves one download slot for priority, blocking until one is
// available or ctx is done. The returned func releases it; callers must
// call it exactly once.
func (c *ConcurrencyManager) Acquire(ctx context.Context, priority model.Priority) (func(), error) {
	if priority == model.PriorityHigh && c.highExtra.TryAcquire() {
		return c.highExtra.Release, nil
	}
	if err := c.normal.Acquire(ctx); err != nil {
		return nil, err
	}
	return c.normal.Release, nil
}

// InUse reports (normal, highExtra) permits currently checked out, for
// diagnostics/logging.
func (c *ConcurrencyManager) InUse() (normal, highExtra int) {
	return c.normal.InUse(), c.highExtra.InUse()
}
