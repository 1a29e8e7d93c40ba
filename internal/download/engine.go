// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// DownloadRequest is what an Engine needs to start pulling segments for one
// streamer.
type DownloadRequest struct {
	StreamerID string
	URL        string
	Headers    map[string]string
}

// Engine drives one download session, feeding raw segments to out until ctx
// is cancelled or the upstream source ends. Platform-specific extraction
// (URL resolution, CDN negotiation, JS token signing) happens behind this
// interface and is out of scope here.
type Engine interface {
	Download(ctx context.Context, req DownloadRequest, out chan<- SegmentEvent) error
}

// Registry resolves an engine type (and optional per-streamer override) to
// a concrete Engine instance, plus the BreakerKey that instance's failures
// should be tracked under.
type Registry struct {
	mu        sync.Mutex
	factories map[string]func(mergedConfig []byte) (Engine, error)
	shared    map[string]Engine
}

// NewRegistry returns an empty engine Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func([]byte) (Engine, error)),
		shared:    make(map[string]Engine),
	}
}

// RegisterFactory installs factory under engineType.
func (r *Registry) RegisterFactory(engineType string, factory func(mergedConfig []byte) (Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[engineType] = factory
}

// Resolve returns the Engine to use for engineType, optionally scoped by a
// custom config id and a per-streamer override JSON blob. Unknown engine
// ids are fatal Without an override, a shared cached engine
// instance is reused and the breaker key omits the override hash; with one,
// a fresh instance is built from baseConfig deep-merged with the override,
// and the key carries a stable hash of the merged result so identical
// overrides (even with differently-ordered keys) collide on the same
// breaker bucket — see stableOverrideHash.
func (r *Registry) Resolve(engineType, customID string, baseConfig, override []byte) (Engine, BreakerKey, error) {
	r.mu.Lock()
	factory, ok := r.factories[engineType]
	r.mu.Unlock()
	if !ok {
		return nil, BreakerKey{}, fmt.Errorf("download: unknown engine type %q", engineType)
	}

	if len(override) == 0 {
		cacheKey := engineType + "|" + customID
		r.mu.Lock()
		engine, cached := r.shared[cacheKey]
		r.mu.Unlock()
		if cached {
			return engine, BreakerKey{EngineType: engineType, CustomID: customID}, nil
		}

		engine, err := factory(baseConfig)
		if err != nil {
			return nil, BreakerKey{}, fmt.Errorf("constructing shared engine %q: %w", engineType, err)
		}
		r.mu.Lock()
		r.shared[cacheKey] = engine
		r.mu.Unlock()
		return engine, BreakerKey{EngineType: engineType, CustomID: customID}, nil
	}

	merged, err := mergeJSONConfig(baseConfig, override)
	if err != nil {
		return nil, BreakerKey{}, fmt.Errorf("merging engine override for %q: %w", engineType, err)
	}
	hash, err := stableOverrideHash(merged)
	if err != nil {
		return nil, BreakerKey{}, fmt.Errorf("hashing engine override for %q: %w", engineType, err)
	}

	engine, err := factory(merged)
	if err != nil {
		return nil, BreakerKey{}, fmt.Errorf("constructing overridden engine %q: %w", engineType, err)
	}
	return engine, BreakerKey{EngineType: engineType, CustomID: customID, OverrideHash: hash}, nil
}

// mergeJSONConfig deep-merges override onto base, override winning on
// conflicting leaf keys and object keys merging recursively. Either side
// may be empty.
func mergeJSONConfig(base, override []byte) ([]byte, error) {
	baseMap, err := decodeJSONObject(base)
	if err != nil {
		return nil, fmt.Errorf("decoding base config: %w", err)
	}
	overrideMap, err := decodeJSONObject(override)
	if err != nil {
		return nil, fmt.Errorf("decoding override config: %w", err)
	}

	merged := deepMerge(baseMap, overrideMap)
	return json.Marshal(merged)
}

func decodeJSONObject(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func deepMerge(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, overrideVal := range override {
		baseVal, exists := merged[k]
		if !exists {
			merged[k] = overrideVal
			continue
		}
		baseObj, baseIsObj := baseVal.(map[string]any)
		overrideObj, overrideIsObj := overrideVal.(map[string]any)
		if baseIsObj && overrideIsObj {
			merged[k] = deepMerge(baseObj, overrideObj)
			continue
		}
		merged[k] = overrideVal
	}
	return merged
}

// stableOverrideHash hashes a JSON config after marshaling it with sorted
// keys, so semantically-identical overrides with different key order
// produce the same circuit-breaker key (SUPPLEMENTED FEATURES item 5).
func stableOverrideHash(mergedConfig []byte) (string, error) {
	obj, err := decodeJSONObject(mergedConfig)
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canonical := make([]byte, 0, len(mergedConfig))
	canonical = append(canonical, '{')
	for i, k := range keys {
		if i > 0 {
			canonical = append(canonical, ',')
		}
		keyJSON, _ := json.Marshal(k)
		valJSON, _ := json.Marshal(obj[k])
		canonical = append(canonical, keyJSON...)
		canonical = append(canonical, ':')
		canonical = append(canonical, valJSON...)
	}
	canonical = append(canonical, '}')

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
