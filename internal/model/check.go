// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package model

import "time"

// StreamFormat names the container/transport a StreamInfo entry is carried
// in; platform-specific, the core never inspects it beyond passing it along.
type StreamFormat string

const (
	StreamFormatTS  StreamFormat = "ts"
	StreamFormatFLV StreamFormat = "flv"
	StreamFormatHLS StreamFormat = "hls"
)

// StreamInfo describes one candidate media stream returned by a live probe.
// Extras is opaque JSON the extractor stashes for lazy URL resolution later.
type StreamInfo struct {
	URL             string
	StreamFormat    StreamFormat
	MediaFormat     string
	Quality         string
	BitrateKbps     int
	Codec           string
	FPS             int
	Priority        int
	HeadersNeeded   bool
	Extras          []byte
}

// LiveStatusKind discriminates the LiveStatus variant.
type LiveStatusKind string

const (
	LiveStatusLive           LiveStatusKind = "live"
	LiveStatusOffline        LiveStatusKind = "offline"
	LiveStatusNotFound       LiveStatusKind = "not_found"
	LiveStatusFiltered       LiveStatusKind = "filtered"
	LiveStatusTransientError LiveStatusKind = "transient_error"
)

// LiveStatus is the tagged result of one platform probe. Only the fields
// relevant to Kind are populated; the rest are zero values.
type LiveStatus struct {
	Kind LiveStatusKind

	// Live fields.
	Title        string
	Category     string
	StartedAt    *time.Time
	ViewerCount  int
	Streams      []StreamInfo
	MediaHeaders map[string]string
	MediaExtras  []byte

	// Filtered fields.
	FilterReason string

	// TransientError fields.
	Message string
}

// IsError reports whether this status represents a probe error rather than
// a liveness determination. The streamer actor treats this the same as
// handle_error, never as an offline transition.
func (s LiveStatus) IsError() bool {
	return s.Kind == LiveStatusTransientError
}

// CheckResult is the uniform outcome of one status check, regardless of
// whether it was a direct probe or a platform-actor BatchResult.
type CheckResult struct {
	State          LifecycleState
	StreamURL      string
	Title          string
	CheckedAt      time.Time
	Error          string
	Transient      bool
	NextCheckHint  *time.Duration
}

// IsError reports whether the result carries a checker-side error.
func (c CheckResult) IsError() bool {
	return c.Error != ""
}
