// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package actorsys

import "github.com/hua0512/streamrecd/internal/model"

// Hysteresis gates Live -> Offline transitions so a streamer that blips
// offline for one check doesn't immediately tear down its session. Live and
// NotLive -> Live transitions are never gated.
type Hysteresis struct {
	WasLive      bool
	OfflineCount int
}

// Record updates the hysteresis state for one check outcome and reports
// whether the actor should now call the checker's process_status with the
// given state. Only StateLive and StateNotLive participate in gating; any
// other state leaves the record unchanged and returns false. Check errors
// and fatal states are handled by the caller before Record is reached.
func (h *Hysteresis) Record(state model.LifecycleState, offlineThreshold int) bool {
	switch state {
	case model.StateLive:
		h.WasLive = true
		h.OfflineCount = 0
		return true

	case model.StateNotLive:
		if !h.WasLive {
			return false
		}
		h.OfflineCount++
		if offlineThreshold <= 0 {
			offlineThreshold = 1
		}
		if h.OfflineCount >= offlineThreshold {
			h.WasLive = false
			h.OfflineCount = 0
			return true
		}
		return false

	default:
		return false
	}
}
