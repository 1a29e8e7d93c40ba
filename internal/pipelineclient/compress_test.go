// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipelineclient

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

func writeFixtureSegment(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "segment.ts")
	if err := os.WriteFile(path, []byte("segment payload data, repeated repeated repeated"), 0o644); err != nil {
		t.Fatalf("writing fixture segment: %v", err)
	}
	return path
}

func TestCompressFile_NoneReturnsOriginalPath(t *testing.T) {
	dir := t.TempDir()
	src := writeFixtureSegment(t, dir)

	got, err := compressFile(src, CompressionNone)
	if err != nil {
		t.Fatalf("compressFile: %v", err)
	}
	if got != src {
		t.Fatalf("expected original path %q unchanged, got %q", src, got)
	}
}

func TestCompressFile_GzipProducesDecodableOutput(t *testing.T) {
	dir := t.TempDir()
	src := writeFixtureSegment(t, dir)
	want, _ := os.ReadFile(src)

	got, err := compressFile(src, CompressionGzip)
	if err != nil {
		t.Fatalf("compressFile: %v", err)
	}
	if filepath.Ext(got) != ".gz" {
		t.Fatalf("expected .gz extension, got %q", got)
	}

	f, err := os.Open(got)
	if err != nil {
		t.Fatalf("opening compressed file: %v", err)
	}
	defer f.Close()

	r, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("creating gzip reader: %v", err)
	}
	defer r.Close()

	decoded, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading decompressed data: %v", err)
	}
	if string(decoded) != string(want) {
		t.Fatalf("decompressed data mismatch: got %q want %q", decoded, want)
	}
}

func TestCompressFile_ZstdProducesDecodableOutput(t *testing.T) {
	dir := t.TempDir()
	src := writeFixtureSegment(t, dir)
	want, _ := os.ReadFile(src)

	got, err := compressFile(src, CompressionZstd)
	if err != nil {
		t.Fatalf("compressFile: %v", err)
	}
	if filepath.Ext(got) != ".zst" {
		t.Fatalf("expected .zst extension, got %q", got)
	}

	compressed, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("reading compressed file: %v", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("creating zstd reader: %v", err)
	}
	defer dec.Close()

	decoded, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		t.Fatalf("decoding zstd data: %v", err)
	}
	if string(decoded) != string(want) {
		t.Fatalf("decompressed data mismatch: got %q want %q", decoded, want)
	}
}
