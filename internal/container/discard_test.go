// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package container

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDiscardGate_MarkThenConsume(t *testing.T) {
	g := NewDiscardGate()
	key := segmentKey{StreamerID: "s1", Index: 3}

	if g.Consume(key) {
		t.Fatal("unmarked key should not be reported discarded")
	}

	g.Mark(key)
	if !g.Consume(key) {
		t.Fatal("expected the marked key to be consumed as discarded")
	}
	if g.Consume(key) {
		t.Fatal("Consume should remove the entry so a second call finds nothing")
	}
}

func TestDiscardGate_JanitorEvictsStaleEntries(t *testing.T) {
	g := NewDiscardGate()
	g.ttl = 10 * time.Millisecond
	key := segmentKey{StreamerID: "s1", Index: 1}
	g.Mark(key)

	time.Sleep(20 * time.Millisecond)
	g.evictStale()

	if g.Consume(key) {
		t.Error("expected the stale entry to have been evicted before Consume")
	}
}

func TestRemoveIfExists_IgnoresMissingFile(t *testing.T) {
	if err := removeIfExists(filepath.Join(t.TempDir(), "nope.ts")); err != nil {
		t.Errorf("removeIfExists(missing) = %v, want nil", err)
	}
}

func TestRemoveIfExists_RemovesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.ts")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := removeIfExists(path); err != nil {
		t.Fatalf("removeIfExists: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected the file to be removed")
	}
}
