package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Source lists and opens input files. Keys are slash separated, relative to
// the input root, and listed in sorted order.
type Source interface {
	List(ctx context.Context, dir string, depth int) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Publisher makes a staged table directory the current version of table.
// A publish replaces the table as a whole.
type Publisher interface {
	Publish(ctx context.Context, table, stagedDir string) error
}

// NewSource returns the source for uri. s3Cfg is only used for s3 URIs.
func NewSource(ctx context.Context, uri URI, s3Cfg *S3Config) (Source, error) {
	if !uri.IsS3() {
		return &LocalSource{Root: uri.Path}, nil
	}
	client, err := NewS3Client(ctx, s3Cfg)
	if err != nil {
		return nil, err
	}
	return &S3Source{Client: client, Bucket: uri.Bucket, Prefix: uri.Path}, nil
}

// NewPublisher returns the publisher for uri. For a local MinIO endpoint the
// output bucket is created if missing.
func NewPublisher(ctx context.Context, log *slog.Logger, uri URI, s3Cfg *S3Config, runID string) (Publisher, error) {
	if !uri.IsS3() {
		return &LocalPublisher{Root: uri.Path, Logger: log}, nil
	}
	client, err := NewS3Client(ctx, s3Cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureMinIOBucket(ctx, log, client, s3Cfg, uri.Bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure MinIO bucket exists: %w", err)
	}
	return NewS3Publisher(S3PublisherConfig{
		Logger: log,
		Client: client,
		Bucket: uri.Bucket,
		Prefix: uri.Path,
		RunID:  runID,
	})
}
