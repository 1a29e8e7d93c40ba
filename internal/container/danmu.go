// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package container

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// danmuComment is one chat/danmu line recorded against a segment's
// timeline. No danmu-parsing library appears anywhere in the retrieved
// corpus, so the wire format here is a small stdlib encoding/xml document —
// see DESIGN.md for that justification.
type danmuComment struct {
	XMLName  xml.Name `xml:"d"`
	OffsetMs int64    `xml:"p,attr"`
	Text     string   `xml:",chardata"`
}

type danmuDocument struct {
	XMLName  xml.Name       `xml:"i"`
	Comments []danmuComment `xml:"d"`
}

// DanmuWriter accumulates comments for one segment and finalizes them to an
// XML file sitting alongside the video segment (same base name, .xml
// extension).
type DanmuWriter struct {
	mu        sync.Mutex
	path      string
	startedAt time.Time
	doc       danmuDocument
	closed    bool
}

// NewDanmuWriter opens a writer for segmentPath's sibling .xml file, with
// startedAt as offset zero for subsequent comment timestamps.
func NewDanmuWriter(segmentPath string, startedAt time.Time) *DanmuWriter {
	return &DanmuWriter{
		path:      danmuPathFor(segmentPath),
		startedAt: startedAt,
	}
}

func danmuPathFor(segmentPath string) string {
	if idx := strings.LastIndex(segmentPath, "."); idx >= 0 {
		return segmentPath[:idx] + ".xml"
	}
	return segmentPath + ".xml"
}

// AddComment records one comment at the given wall-clock time, offset from
// the writer's start instant.
func (w *DanmuWriter) AddComment(at time.Time, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.doc.Comments = append(w.doc.Comments, danmuComment{
		OffsetMs: at.Sub(w.startedAt).Milliseconds(),
		Text:     text,
	})
}

// EndSegment flushes and closes the writer, producing the XML file. Calling
// it more than once is a no-op.
func (w *DanmuWriter) EndSegment() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	data, err := xml.MarshalIndent(w.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling danmu document: %w", err)
	}
	data = append([]byte(xml.Header), data...)

	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("writing danmu file %s: %w", w.path, err)
	}
	return nil
}

// Path returns the sibling .xml path this writer finalizes to.
func (w *DanmuWriter) Path() string {
	return w.path
}

// DanmuSession tracks one writer per in-flight segment, keyed by
// (streamer_id, segment_index), the same key shape the discard gate uses,
// so the two can be reconciled.
type DanmuSession struct {
	mu      sync.Mutex
	writers map[segmentKey]*DanmuWriter
}

// NewDanmuSession returns an empty DanmuSession.
func NewDanmuSession() *DanmuSession {
	return &DanmuSession{writers: make(map[segmentKey]*DanmuWriter)}
}

// StartSegment opens a writer for key at segmentPath.
func (s *DanmuSession) StartSegment(key segmentKey, segmentPath string, startedAt time.Time) *DanmuWriter {
	w := NewDanmuWriter(segmentPath, startedAt)
	s.mu.Lock()
	s.writers[key] = w
	s.mu.Unlock()
	return w
}

// EndSegment finalizes and forgets the writer for key, if any.
func (s *DanmuSession) EndSegment(key segmentKey) error {
	s.mu.Lock()
	w, ok := s.writers[key]
	if ok {
		delete(s.writers, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return w.EndSegment()
}
