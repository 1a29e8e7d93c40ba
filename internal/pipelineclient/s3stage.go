// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pipelineclient implements the hand-off boundary between a
// completed, surviving segment and the downstream post-processing
// pipeline. The container only ever sees container.PipelineClient's single
// StageSegment method; this package supplies the one concrete
// implementation that matters when output_folder names an s3:// bucket.
package pipelineclient

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the narrow slice of *s3.Client the staging uploader drives,
// letting tests substitute a fake without standing up a real client.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3StagingClient uploads completed segments to a staging bucket for a
// downstream post-processing pipeline to pick up, then removes the local
// copy on success. A segment is never deleted on a failed upload, so a
// retry (or an operator) can always find it on disk.
type S3StagingClient struct {
	client      s3API
	bucket      string
	keyPrefix   string
	logger      *slog.Logger
	deleteLocal bool
	compression CompressionKind
}

// Config holds the knobs needed to build an S3StagingClient.
type Config struct {
	Bucket      string
	Region      string
	KeyPrefix   string
	Endpoint    string // non-empty for S3-compatible stores (MinIO, R2, ...)
	AccessKeyID string
	SecretKey   string
	DeleteLocal bool
	Compression CompressionKind // "", "gzip", or "zstd"; "" uploads the segment as-is
}

// NewS3StagingClient resolves AWS credentials the standard SDK way (env,
// shared config, static override) and builds a client bound to cfg.Bucket.
func NewS3StagingClient(ctx context.Context, cfg Config, logger *slog.Logger) (*S3StagingClient, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("pipelineclient: staging bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("pipelineclient: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3StagingClient{
		client:      client,
		bucket:      cfg.Bucket,
		keyPrefix:   strings.Trim(cfg.KeyPrefix, "/"),
		logger:      logger.With("component", "pipelineclient", "bucket", cfg.Bucket),
		deleteLocal: cfg.DeleteLocal,
		compression: cfg.Compression,
	}, nil
}

// StageSegment implements container.PipelineClient: it optionally
// compresses localPath, uploads the result to the staging bucket under a
// key namespaced by streamerID, and on success (only when configured to)
// removes the original local file. A compressed intermediate is always
// removed once the upload is done, win or lose.
func (c *S3StagingClient) StageSegment(ctx context.Context, streamerID, localPath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("pipelineclient: opening segment for staging: %w", err)
	}

	uploadPath, err := compressFile(localPath, c.compression)
	if err != nil {
		return err
	}
	if uploadPath != localPath {
		defer os.Remove(uploadPath)
	}

	f, err := os.Open(uploadPath)
	if err != nil {
		return fmt.Errorf("pipelineclient: opening segment for staging: %w", err)
	}
	defer f.Close()

	key := c.objectKey(streamerID, uploadPath)
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("pipelineclient: uploading %s to s3://%s/%s: %w", uploadPath, c.bucket, key, err)
	}

	c.logger.Info("staged segment", "streamer_id", streamerID, "local_path", localPath, "key", key, "compression", c.compression)

	if !c.deleteLocal {
		return nil
	}
	if err := os.Remove(localPath); err != nil {
		c.logger.Warn("staged segment but failed to remove local copy", "local_path", localPath, "error", err)
	}
	return nil
}

func (c *S3StagingClient) objectKey(streamerID, localPath string) string {
	name := path.Base(localPath)
	if c.keyPrefix == "" {
		return path.Join(streamerID, name)
	}
	return path.Join(c.keyPrefix, streamerID, name)
}
