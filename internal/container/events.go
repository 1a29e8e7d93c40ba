// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package container

import "github.com/hua0512/streamrecd/internal/model"

// MonitorEvent is emitted by the stream monitor whenever a streamer's
// liveness changes.
type MonitorEvent interface{ isMonitorEvent() }

// MonitorStreamerLive reports a streamer going live, carrying the probe's
// candidate stream list for engine/URL resolution.
type MonitorStreamerLive struct {
	StreamerID string
	SessionID  string
	Title      string
	Streams    []model.StreamInfo
}

func (MonitorStreamerLive) isMonitorEvent() {}

// MonitorStreamerOffline reports a streamer going offline.
type MonitorStreamerOffline struct {
	StreamerID string
}

func (MonitorStreamerOffline) isMonitorEvent() {}

// ConfigEvent is emitted by the config service whenever streamer or global
// configuration changes
type ConfigEvent interface{ isConfigEvent() }

// ConfigStreamerMetadataUpdated invalidates any cached merged config for a
// streamer and, if the streamer is now inactive, triggers cleanup.
type ConfigStreamerMetadataUpdated struct {
	StreamerID string
	NowActive  bool
}

func (ConfigStreamerMetadataUpdated) isConfigEvent() {}

// ConfigStreamerDeleted triggers the same cleanup sequence as an
// inactive ConfigStreamerMetadataUpdated.
type ConfigStreamerDeleted struct {
	StreamerID string
}

func (ConfigStreamerDeleted) isConfigEvent() {}

// ConfigGlobalUpdated reports a global config change. The container takes
// no action on it; the scheduler recomputes download-manager concurrency
// from the new global config.
type ConfigGlobalUpdated struct{}

func (ConfigGlobalUpdated) isConfigEvent() {}

// ConfigStreamerStateSyncedFromDB mirrors a state change made directly in
// the metadata store (outside the normal update path); IsActive=false
// triggers the same cleanup sequence.
type ConfigStreamerStateSyncedFromDB struct {
	StreamerID string
	IsActive   bool
}

func (ConfigStreamerStateSyncedFromDB) isConfigEvent() {}
