// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hua0512/streamrecd/internal/config"
	"github.com/hua0512/streamrecd/internal/reorder"
)

// ErrPlaylistComplete is returned by PlaylistPoller.Poll to signal a
// normal end of stream (a VOD playlist's #EXT-X-ENDLIST, or a live stream
// confirmed offline) rather than a polling failure.
var ErrPlaylistComplete = errors.New("download: playlist polling complete")

// PlaylistPoller fetches the next batch of segments for one stream. It is
// platform-specific (URL resolution, CDN negotiation, signed tokens) and is
// supplied by the caller; the native engine only knows how to reorder and
// persist what the poller hands it.
type PlaylistPoller interface {
	Poll(ctx context.Context, req DownloadRequest) ([]reorder.Segment, error)
	PollInterval() time.Duration
}

// NativeEngine runs an HLS/FLV stream through the reorder buffer (C1) and
// writes each emitted segment to disk, reporting progress via the shared
// SegmentEvent protocol. This is the "native protocol engine" variant
// for protocol-native stream downloads.
type NativeEngine struct {
	poller     PlaylistPoller
	httpClient *http.Client
	outputDir  func(streamerID string) string
	kind       reorder.StreamKind
	reorderCfg config.ReorderConfig
	logger     *slog.Logger
}

// NewNativeEngine builds a NativeEngine. outputDir resolves the directory a
// given streamer's segments are written into.
func NewNativeEngine(poller PlaylistPoller, kind reorder.StreamKind, reorderCfg config.ReorderConfig, outputDir func(string) string, logger *slog.Logger) *NativeEngine {
	return &NativeEngine{
		poller:     poller,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		outputDir:  outputDir,
		kind:       kind,
		reorderCfg: reorderCfg,
		logger:     logger,
	}
}

func (e *NativeEngine) Download(ctx context.Context, req DownloadRequest, out chan<- SegmentEvent) error {
	manager := reorder.NewManager(e.reorderCfg, e.kind, 0, e.logger)

	segments := make(chan reorder.Segment, 32)
	events := make(chan reorder.Event, 32)

	pollErrCh := make(chan error, 1)
	go func() { pollErrCh <- e.pollLoop(ctx, req, segments) }()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- manager.Run(ctx, segments, events) }()

	var totalBytes int64
	var totalSegments int64
	var totalDurationMs int64

	for event := range events {
		switch event.Kind {
		case reorder.EventData:
			seg := event.Segment
			path, err := e.writeSegment(req.StreamerID, seg)
			if err != nil {
				out <- DownloadFailedEvt{Error: fmt.Sprintf("writing segment %d: %v", seg.MSN, err), Recoverable: true}
				return err
			}
			out <- SegmentStartedEvt{Path: path, Sequence: int64(seg.MSN)}
			out <- SegmentBytesEvt{Bytes: seg.SizeBytes}
			out <- SegmentCompletedEvt{
				Path:         path,
				DurationSecs: float64(seg.DurationMs) / 1000,
				SizeBytes:    seg.SizeBytes,
				Index:        int64(seg.MSN),
				CompletedAt:  time.Now(),
			}
			totalBytes += seg.SizeBytes
			totalSegments++
			totalDurationMs += seg.DurationMs
		case reorder.EventStreamEnded:
			out <- DownloadCompletedEvt{
				TotalBytes:        totalBytes,
				TotalDurationSecs: float64(totalDurationMs) / 1000,
				TotalSegments:     totalSegments,
			}
			return <-runErrCh
		case reorder.EventSegmentTimeout:
			e.logger.Warn("vod segment timed out waiting for a gap fill", "seq", event.TimeoutSeq)
		case reorder.EventGapSkipped:
			e.logger.Warn("reorder buffer skipped a gap", "from", event.GapFrom, "to", event.GapTo, "reason", event.Reason)
		case reorder.EventDiscontinuityEncountered:
			e.logger.Info("discontinuity encountered", "msn", event.Segment.MSN)
		}
	}

	if err := <-pollErrCh; err != nil && ctx.Err() == nil {
		out <- DownloadFailedEvt{Error: err.Error(), Recoverable: true}
		return err
	}
	return <-runErrCh
}

func (e *NativeEngine) pollLoop(ctx context.Context, req DownloadRequest, out chan<- reorder.Segment) error {
	defer close(out)
	ticker := time.NewTicker(e.poller.PollInterval())
	defer ticker.Stop()

	for {
		segs, err := e.poller.Poll(ctx, req)
		if err != nil && !errors.Is(err, ErrPlaylistComplete) {
			return err
		}
		for _, seg := range segs {
			select {
			case out <- seg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, ErrPlaylistComplete) {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *NativeEngine) writeSegment(streamerID string, seg reorder.Segment) (string, error) {
	dir := e.outputDir(streamerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("seg-%012d.ts", seg.MSN))
	return path, os.WriteFile(path, seg.Payload, 0o644)
}

// httpSegmentFetcher is a small helper real PlaylistPoller implementations
// can embed to fetch a segment's bytes once its URL is known.
type httpSegmentFetcher struct {
	client *http.Client
}

func (f *httpSegmentFetcher) fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("segment fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
