// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// SubprocessConfig configures a SubprocessEngine: the binary to run, the
// argument template, and how to recognize a completed-segment line on
// stderr.
type SubprocessConfig struct {
	BinaryPath      string
	Args            func(req DownloadRequest, outputPath string) []string
	SegmentLineRE   *regexp.Regexp // must have a named group "path"
	OutputDir       func(streamerID string) string
	OutputExtension string
}

// SubprocessEngine drives an external downloader binary (e.g. ffmpeg,
// streamlink) as a child process and parses its output for segment
// boundaries. This is the generic subprocess engine; a
// second registered engine type with a different SubprocessConfig (binary,
// arg template, output parser) satisfies the "subprocess engine variant"
// requirement without duplicating this type.
type SubprocessEngine struct {
	cfg    SubprocessConfig
	logger *slog.Logger
}

// NewSubprocessEngine builds a SubprocessEngine from cfg.
func NewSubprocessEngine(cfg SubprocessConfig, logger *slog.Logger) *SubprocessEngine {
	return &SubprocessEngine{cfg: cfg, logger: logger}
}

func (e *SubprocessEngine) Download(ctx context.Context, req DownloadRequest, out chan<- SegmentEvent) error {
	dir := e.cfg.OutputDir(req.StreamerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		out <- DownloadFailedEvt{Error: fmt.Sprintf("creating output dir: %v", err), Recoverable: true}
		return err
	}

	outputPath := filepath.Join(dir, fmt.Sprintf("session-%d%s", time.Now().UnixNano(), e.cfg.OutputExtension))
	args := e.cfg.Args(req, outputPath)

	cmd := exec.CommandContext(ctx, e.cfg.BinaryPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		out <- DownloadFailedEvt{Error: fmt.Sprintf("attaching stderr: %v", err), Recoverable: true}
		return err
	}

	if err := cmd.Start(); err != nil {
		out <- DownloadFailedEvt{Error: fmt.Sprintf("starting %s: %v", e.cfg.BinaryPath, err), Recoverable: true}
		return err
	}
	e.logger.Info("subprocess engine started", "binary", e.cfg.BinaryPath, "streamer_id", req.StreamerID, "pid", cmd.Process.Pid)

	var segmentIndex int64
	var totalBytes int64
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		m := e.cfg.SegmentLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		path := m[e.cfg.SegmentLineRE.SubexpIndex("path")]

		info, statErr := os.Stat(path)
		var size int64
		if statErr == nil {
			size = info.Size()
		}

		out <- SegmentStartedEvt{Path: path, Sequence: segmentIndex}
		out <- SegmentBytesEvt{Bytes: size}
		out <- SegmentCompletedEvt{
			Path:        path,
			SizeBytes:   size,
			Index:       segmentIndex,
			CompletedAt: time.Now(),
		}
		totalBytes += size
		segmentIndex++
	}

	waitErr := cmd.Wait()
	if waitErr != nil && ctx.Err() == nil {
		out <- DownloadFailedEvt{Error: fmt.Sprintf("%s exited: %v", e.cfg.BinaryPath, waitErr), Recoverable: true}
		return waitErr
	}

	out <- DownloadCompletedEvt{TotalBytes: totalBytes, TotalSegments: segmentIndex}
	return nil
}

// bitrateFromLine extracts a kbps figure from an ffmpeg-style progress
// line (e.g. "bitrate= 512.3kbits/s"); returns 0 if absent.
var bitrateRE = regexp.MustCompile(`bitrate=\s*([0-9.]+)kbits/s`)

func bitrateFromLine(line string) float64 {
	m := bitrateRE.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
