// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package container wires the standalone components (reorder buffer,
// status checker, actor system, download manager) into one running
// service: broadcast-to-mpsc channel discipline, monitor-to-download
// wiring, the segment discard gate, danmu lifecycle, config-change
// routing, and graceful shutdown.
package container

import (
	"fmt"
	"strings"
)

// maxPathComponentLength bounds a single expanded placeholder, preventing
// a pathological title/session id from producing an unusable path.
const maxPathComponentLength = 255

// ExpandTemplate substitutes {streamer}, {title}, {platform}, and
// {session_id} in tmpl, sanitizing each substituted value so the result is
// safe to use as a path component on any OS.
func ExpandTemplate(tmpl string, streamer, title, platform, sessionID string) string {
	replacer := strings.NewReplacer(
		"{streamer}", sanitizePathComponent(streamer),
		"{title}", sanitizePathComponent(title),
		"{platform}", sanitizePathComponent(platform),
		"{session_id}", sanitizePathComponent(sessionID),
	)
	return replacer.Replace(tmpl)
}

// sanitizePathComponent makes name safe to embed as one or more path
// components: replaces path separators, NUL bytes and the characters
// : * ? " < > | with '_', trims leading dots that would otherwise create a
// hidden file, and truncates runaway length.
func sanitizePathComponent(name string) string {
	if name == "" {
		return "unknown"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == 0:
			b.WriteRune('_')
		case r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	sanitized := strings.TrimLeft(b.String(), ".")
	if sanitized == "" {
		sanitized = "unknown"
	}
	if len(sanitized) > maxPathComponentLength {
		sanitized = sanitized[:maxPathComponentLength]
	}
	return sanitized
}

// validateNoTraversal is a defense-in-depth check for a fully expanded
// output path: it must not contain a ".." component, even after
// placeholder sanitization collapses obviously hostile input.
func validateNoTraversal(path string) error {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("container: expanded output path %q contains a traversal segment", path)
		}
	}
	return nil
}
