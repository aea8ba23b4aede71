package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
)

// SuccessMarker is written last when a table is published to S3 and removed
// first when a new publish starts. A table prefix without it is incomplete.
const SuccessMarker = "_SUCCESS"

// S3API is the subset of *s3.Client used here.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// RetryConfig controls retries of individual S3 requests.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		bo.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		bo.MaxInterval = c.MaxInterval
	}
	return bo
}

func withRetry[T any](ctx context.Context, log *slog.Logger, cfg RetryConfig, op string, fn func() (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && attempt < int(cfg.MaxTries) {
			log.Warn("storage: s3 request failed, retrying", "op", op, "attempt", attempt, "error", err)
		}
		return v, err
	}, backoff.WithBackOff(cfg.backOff()), backoff.WithMaxTries(cfg.MaxTries))
}

// S3Source reads input files below Prefix in Bucket.
type S3Source struct {
	Client S3API
	Bucket string
	Prefix string
}

func (s *S3Source) objectKey(key string) string {
	return strings.TrimPrefix(path.Join(s.Prefix, key), "/")
}

// List returns keys, relative to Prefix, of objects exactly depth levels
// below dir.
func (s *S3Source) List(ctx context.Context, dir string, depth int) ([]string, error) {
	prefix := s.objectKey(dir) + "/"
	root := strings.TrimSuffix(prefix, dir+"/")

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.Bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, prefix)
			if rel == "" || strings.HasSuffix(rel, "/") || strings.Count(rel, "/") != depth-1 {
				continue
			}
			keys = append(keys, strings.TrimPrefix(key, root))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.Bucket, s.objectKey(key), err)
	}
	return out.Body, nil
}

type S3PublisherConfig struct {
	Logger *slog.Logger
	Client S3API
	Bucket string
	Prefix string
	RunID  string

	// Optional with defaults.
	Retry RetryConfig
	Now   func() time.Time
}

func (c *S3PublisherConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Client == nil {
		return errors.New("s3 client is required")
	}
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.RunID == "" {
		return errors.New("run id is required")
	}
	if c.Retry.MaxTries == 0 {
		c.Retry = DefaultRetryConfig()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// S3Publisher replaces table prefixes in a bucket with staged table
// directories.
type S3Publisher struct {
	log *slog.Logger
	cfg S3PublisherConfig
}

func NewS3Publisher(cfg S3PublisherConfig) (*S3Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &S3Publisher{log: cfg.Logger, cfg: cfg}, nil
}

// Manifest is the content of a table's success marker.
type Manifest struct {
	RunID       string         `json:"run_id"`
	Table       string         `json:"table"`
	PublishedAt time.Time      `json:"published_at"`
	Files       []ManifestFile `json:"files"`
}

type ManifestFile struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

func (p *S3Publisher) tablePrefix(table string) string {
	return strings.TrimPrefix(path.Join(p.cfg.Prefix, table), "/") + "/"
}

// Publish uploads every file under stagedDir to <prefix>/<table>/, removes
// objects left from earlier runs, and writes the success marker last.
func (p *S3Publisher) Publish(ctx context.Context, table, stagedDir string) error {
	prefix := p.tablePrefix(table)
	markerKey := prefix + SuccessMarker

	if err := p.deleteObject(ctx, markerKey); err != nil {
		return fmt.Errorf("failed to remove success marker for %s: %w", table, err)
	}

	files, err := stagedFiles(stagedDir)
	if err != nil {
		return fmt.Errorf("failed to list staged files for %s: %w", table, err)
	}

	manifest := Manifest{RunID: p.cfg.RunID, Table: table}
	uploaded := make(map[string]struct{}, len(files))
	for _, rel := range files {
		key := prefix + rel
		size, err := p.uploadFile(ctx, key, filepath.Join(stagedDir, filepath.FromSlash(rel)))
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		uploaded[key] = struct{}{}
		manifest.Files = append(manifest.Files, ManifestFile{Key: key, Size: size})
	}

	existing, err := p.listKeys(ctx, prefix)
	if err != nil {
		return err
	}
	stale := 0
	for _, key := range existing {
		if _, ok := uploaded[key]; ok || key == markerKey {
			continue
		}
		if err := p.deleteObject(ctx, key); err != nil {
			return fmt.Errorf("failed to delete stale object %s: %w", key, err)
		}
		stale++
	}

	manifest.PublishedAt = p.cfg.Now().UTC()
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := p.putObject(ctx, markerKey, body); err != nil {
		return fmt.Errorf("failed to write success marker for %s: %w", table, err)
	}

	p.log.Info("storage: published table to s3",
		"table", table,
		"bucket", p.cfg.Bucket,
		"prefix", prefix,
		"files", len(files),
		"stale_deleted", stale)
	return nil
}

func (p *S3Publisher) uploadFile(ctx context.Context, key, file string) (int64, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, fmt.Errorf("failed to read file %s: %w", file, err)
	}
	if err := p.putObject(ctx, key, data); err != nil {
		return 0, err
	}
	if err := p.verify(ctx, key, int64(len(data))); err != nil {
		return 0, fmt.Errorf("upload verification failed: %w", err)
	}
	return int64(len(data)), nil
}

func (p *S3Publisher) putObject(ctx context.Context, key string, data []byte) error {
	contentMD5 := computeMD5(data)
	_, err := withRetry(ctx, p.log, p.cfg.Retry, "put "+key, func() (*s3.PutObjectOutput, error) {
		return p.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:     aws.String(p.cfg.Bucket),
			Key:        aws.String(key),
			Body:       bytes.NewReader(data),
			ContentMD5: aws.String(contentMD5),
		})
	})
	return err
}

// verify checks that the uploaded object exists and has the expected size.
func (p *S3Publisher) verify(ctx context.Context, key string, expectedSize int64) error {
	head, err := withRetry(ctx, p.log, p.cfg.Retry, "head "+key, func() (*s3.HeadObjectOutput, error) {
		return p.cfg.Client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(p.cfg.Bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return err
	}
	if actual := aws.ToInt64(head.ContentLength); actual != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d bytes", expectedSize, actual)
	}
	return nil
}

func (p *S3Publisher) deleteObject(ctx context.Context, key string) error {
	_, err := withRetry(ctx, p.log, p.cfg.Retry, "delete "+key, func() (*s3.DeleteObjectOutput, error) {
		return p.cfg.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.cfg.Bucket),
			Key:    aws.String(key),
		})
	})
	return err
}

func (p *S3Publisher) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(p.cfg.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", p.cfg.Bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// stagedFiles returns the slash-separated paths of regular files under dir,
// sorted.
func stagedFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// computeMD5 computes the base64-encoded MD5 hash of the data.
func computeMD5(data []byte) string {
	hash := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(hash[:])
}
