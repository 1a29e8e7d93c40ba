// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"fmt"
	"sync"
	"time"

	"github.com/hua0512/streamrecd/internal/config"
)

// BreakerKey identifies one circuit breaker bucket: an engine type, an
// optional custom engine config id, and an optional override hash. Two keys
// with the same engine type but different override hashes are tracked
// independently, since a broken custom override shouldn't trip the shared
// engine's breaker and vice versa.
type BreakerKey struct {
	EngineType   string
	CustomID     string
	OverrideHash string
}

func (k BreakerKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.EngineType, k.CustomID, k.OverrideHash)
}

type breakerEntry struct {
	consecutiveFailures int
	openUntil           time.Time
}

// CircuitBreaker tracks consecutive transient failures per BreakerKey and
// opens (rejects new downloads for) a key once its threshold is crossed.
// Permanent HTTP errors never count toward the threshold.
type CircuitBreaker struct {
	mu        sync.Mutex
	entries   map[string]*breakerEntry
	threshold int
	cooldown  time.Duration
}

// NewCircuitBreaker builds a CircuitBreaker from cfg.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig) *CircuitBreaker {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := cfg.Cooldown()
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		entries:   make(map[string]*breakerEntry),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether key may start a new download right now. When it
// can't, retryAfter is how long the caller should wait before trying again.
func (b *CircuitBreaker) Allow(key BreakerKey) (allowed bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key.String()]
	if !ok {
		return true, 0
	}
	now := time.Now()
	if now.Before(e.openUntil) {
		return false, e.openUntil.Sub(now)
	}
	return true, 0
}

// RecordFailure registers one download attempt failing for key. permanent
// failures (HTTP 403/404/410) never count toward the breaker
func (b *CircuitBreaker) RecordFailure(key BreakerKey, permanent bool) {
	if permanent {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := key.String()
	e, ok := b.entries[k]
	if !ok {
		e = &breakerEntry{}
		b.entries[k] = e
	}
	e.consecutiveFailures++
	if e.consecutiveFailures >= b.threshold {
		e.openUntil = time.Now().Add(b.cooldown)
	}
}

// RecordSuccess resets key's failure count and closes its breaker.
func (b *CircuitBreaker) RecordSuccess(key BreakerKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key.String())
}
