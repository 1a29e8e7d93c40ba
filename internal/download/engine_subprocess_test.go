// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func TestSubprocessEngine_ParsesSegmentLines(t *testing.T) {
	dir := t.TempDir()
	segPath := filepath.Join(dir, "seg-0.ts")
	if err := os.WriteFile(segPath, []byte("fake-segment-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := SubprocessConfig{
		BinaryPath: "/bin/sh",
		Args: func(req DownloadRequest, outputPath string) []string {
			return []string{"-c", "echo 'segment written path=" + segPath + "' 1>&2"}
		},
		SegmentLineRE:   regexp.MustCompile(`segment written path=(?P<path>\S+)`),
		OutputDir:       func(string) string { return dir },
		OutputExtension: ".ts",
	}
	engine := NewSubprocessEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	events := make(chan SegmentEvent, 16)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := engine.Download(ctx, DownloadRequest{StreamerID: "frank"}, events); err != nil {
		t.Fatalf("Download: %v", err)
	}
	close(events)

	var sawStarted, sawCompleted, sawFinished bool
	for evt := range events {
		switch e := evt.(type) {
		case SegmentStartedEvt:
			sawStarted = e.Path == segPath
		case SegmentCompletedEvt:
			sawCompleted = e.Path == segPath && e.SizeBytes == int64(len("fake-segment-bytes"))
		case DownloadCompletedEvt:
			sawFinished = e.TotalSegments == 1
		}
	}

	if !sawStarted {
		t.Error("expected a SegmentStartedEvt for the matched line")
	}
	if !sawCompleted {
		t.Error("expected a SegmentCompletedEvt with the file's on-disk size")
	}
	if !sawFinished {
		t.Error("expected a DownloadCompletedEvt with TotalSegments == 1")
	}
}

func TestBitrateFromLine(t *testing.T) {
	got := bitrateFromLine("frame=  120 fps= 30 q=-1.0 size=   10240kB time=00:00:04.00 bitrate=2048.5kbits/s speed=1.0x")
	if got != 2048.5 {
		t.Errorf("bitrateFromLine = %v, want 2048.5", got)
	}
	if got := bitrateFromLine("no bitrate here"); got != 0 {
		t.Errorf("bitrateFromLine(no match) = %v, want 0", got)
	}
}
