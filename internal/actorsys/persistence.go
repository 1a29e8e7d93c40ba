// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package actorsys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hua0512/streamrecd/internal/model"
)

// persistedState is the on-disk shape of one streamer actor's state. Next
// check is recomputed from config/error count on restore if it's missing or
// in the past
type persistedState struct {
	Streamer     model.Streamer `json:"streamer"`
	WasLive      bool           `json:"was_live"`
	OfflineCount int            `json:"offline_count"`
	NextCheck    time.Time      `json:"next_check"`
}

func statePath(stateDir, streamerID string) string {
	return filepath.Join(stateDir, streamerID+".json")
}

// saveState writes st atomically via a temp file in the same directory
// followed by a rename, so a crash mid-write never leaves a corrupt file
// behind for the next restore.
func saveState(stateDir string, st persistedState) error {
	if stateDir == "" {
		return nil
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating actor state dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling actor state: %w", err)
	}

	tmp, err := os.CreateTemp(stateDir, st.Streamer.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating actor state temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing actor state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing actor state temp file: %w", err)
	}

	if err := os.Rename(tmpName, statePath(stateDir, st.Streamer.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming actor state into place: %w", err)
	}
	return nil
}

// loadState reads back a previously-saved state. A missing file is not an
// error: it means this actor has never persisted before.
func loadState(stateDir, streamerID string) (*persistedState, error) {
	if stateDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(statePath(stateDir, streamerID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading actor state: %w", err)
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing actor state: %w", err)
	}
	return &st, nil
}
