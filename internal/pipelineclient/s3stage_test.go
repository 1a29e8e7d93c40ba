// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pipelineclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	puts    []*s3.PutObjectInput
	nextErr error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	f.puts = append(f.puts, params)
	return &s3.PutObjectOutput{}, nil
}

func newTestClient(api s3API, deleteLocal bool) *S3StagingClient {
	return &S3StagingClient{
		client:      api,
		bucket:      "staging-bucket",
		keyPrefix:   "recordings",
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		deleteLocal: deleteLocal,
	}
}

func TestS3StagingClient_StageSegmentUploadsUnderStreamerPrefixedKey(t *testing.T) {
	dir := t.TempDir()
	segPath := filepath.Join(dir, "segment-0001.ts")
	if err := os.WriteFile(segPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("writing fixture segment: %v", err)
	}

	fake := &fakeS3{}
	client := newTestClient(fake, false)

	if err := client.StageSegment(context.Background(), "streamer-1", segPath); err != nil {
		t.Fatalf("StageSegment: %v", err)
	}

	if len(fake.puts) != 1 {
		t.Fatalf("expected exactly one PutObject call, got %d", len(fake.puts))
	}
	gotKey := *fake.puts[0].Key
	wantKey := "recordings/streamer-1/segment-0001.ts"
	if gotKey != wantKey {
		t.Fatalf("expected key %q, got %q", wantKey, gotKey)
	}

	if _, err := os.Stat(segPath); err != nil {
		t.Fatalf("expected local file to survive when deleteLocal is false: %v", err)
	}
}

func TestS3StagingClient_StageSegmentDeletesLocalOnSuccessWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	segPath := filepath.Join(dir, "segment-0002.ts")
	if err := os.WriteFile(segPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("writing fixture segment: %v", err)
	}

	client := newTestClient(&fakeS3{}, true)

	if err := client.StageSegment(context.Background(), "streamer-1", segPath); err != nil {
		t.Fatalf("StageSegment: %v", err)
	}

	if _, err := os.Stat(segPath); !os.IsNotExist(err) {
		t.Fatalf("expected local file to be removed after staging, stat error: %v", err)
	}
}

func TestS3StagingClient_StageSegmentLeavesLocalFileOnUploadFailure(t *testing.T) {
	dir := t.TempDir()
	segPath := filepath.Join(dir, "segment-0003.ts")
	if err := os.WriteFile(segPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("writing fixture segment: %v", err)
	}

	client := newTestClient(&fakeS3{nextErr: errors.New("network unreachable")}, true)

	if err := client.StageSegment(context.Background(), "streamer-1", segPath); err == nil {
		t.Fatal("expected an error from a failed upload")
	}

	if _, err := os.Stat(segPath); err != nil {
		t.Fatalf("expected local file to survive a failed upload: %v", err)
	}
}

func TestS3StagingClient_StageSegmentRejectsMissingLocalFile(t *testing.T) {
	client := newTestClient(&fakeS3{}, false)

	err := client.StageSegment(context.Background(), "streamer-1", "/no/such/segment.ts")
	if err == nil {
		t.Fatal("expected an error for a missing local file")
	}
}
