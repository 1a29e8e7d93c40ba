// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipelineclient

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// CompressionKind names a segment compression scheme applied before
// staging: gzip (parallel, default) or zstd (opt-in).
type CompressionKind string

const (
	CompressionNone CompressionKind = ""
	CompressionGzip CompressionKind = "gzip"
	CompressionZstd CompressionKind = "zstd"
)

func (k CompressionKind) extension() string {
	switch k {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	default:
		return ""
	}
}

// compressFile writes a compressed copy of localPath next to it and returns
// the compressed path. The caller is responsible for removing whichever of
// the two files it no longer needs once the upload succeeds.
func compressFile(localPath string, kind CompressionKind) (string, error) {
	if kind == CompressionNone {
		return localPath, nil
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("pipelineclient: opening segment for compression: %w", err)
	}
	defer src.Close()

	dstPath := localPath + kind.extension()
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("pipelineclient: creating compressed segment: %w", err)
	}
	defer dst.Close()

	var w io.WriteCloser
	switch kind {
	case CompressionGzip:
		gz, err := pgzip.NewWriterLevel(dst, pgzip.DefaultCompression)
		if err != nil {
			return "", fmt.Errorf("pipelineclient: creating parallel gzip writer: %w", err)
		}
		w = gz
	case CompressionZstd:
		zw, err := zstd.NewWriter(dst)
		if err != nil {
			return "", fmt.Errorf("pipelineclient: creating zstd writer: %w", err)
		}
		w = zw
	default:
		return "", fmt.Errorf("pipelineclient: unknown compression kind %q", kind)
	}

	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("pipelineclient: compressing segment: %w", err)
	}
	if err := w.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("pipelineclient: finalizing compressed segment: %w", err)
	}

	return dstPath, nil
}
