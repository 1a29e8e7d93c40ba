// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package scheduler

import "github.com/hua0512/streamrecd/internal/config"

// ConfigEvent is emitted by the config service whenever streamer or global
// configuration changes and the supervisor must react to it.
type ConfigEvent interface{ isConfigEvent() }

// StreamerMetadataUpdated reports that a streamer's stored metadata
// changed. NowActive selects between sending a live actor its new
// GlobalConfig and tearing it down.
type StreamerMetadataUpdated struct {
	StreamerID string
	NowActive  bool
}

func (StreamerMetadataUpdated) isConfigEvent() {}

// StreamerDeleted triggers the same teardown as an inactive
// StreamerMetadataUpdated.
type StreamerDeleted struct {
	StreamerID string
}

func (StreamerDeleted) isConfigEvent() {}

// GlobalUpdated carries a freshly validated GlobalConfig to apply to every
// running actor and to recompute download-manager concurrency from.
type GlobalUpdated struct {
	Config config.GlobalConfig
}

func (GlobalUpdated) isConfigEvent() {}

// StreamerStateSyncedFromDB mirrors a state change made directly in the
// metadata store, outside the normal update path.
type StreamerStateSyncedFromDB struct {
	StreamerID string
	IsActive   bool
}

func (StreamerStateSyncedFromDB) isConfigEvent() {}
