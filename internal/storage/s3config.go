package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultRegion = "us-east-1"

// S3Config holds configuration for S3-compatible storage (AWS S3, MinIO, etc.)
type S3Config struct {
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	// Endpoint is the S3 endpoint URL, e.g. "http://localhost:9000" for
	// MinIO. Empty uses the default AWS endpoints.
	Endpoint string `toml:"endpoint"`
	Region   string `toml:"region"`
	UseSSL   bool   `toml:"use_ssl"`
	// URLStyle is "path" or "virtual".
	URLStyle string `toml:"url_style"`
}

// IsMinIO reports whether the config points at a non-AWS endpoint.
func (c *S3Config) IsMinIO() bool {
	return c.Endpoint != "" && !strings.Contains(c.Endpoint, "amazonaws.com")
}

// Redacted returns a copy safe to log.
func (c S3Config) Redacted() S3Config {
	if c.SecretAccessKey != "" {
		c.SecretAccessKey = "REDACTED"
	}
	return c
}

// LoadS3ConfigFromEnv loads S3 configuration from environment variables,
// looked up with getenv.
//
// Environment variables:
//   - S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID (leave unset to use the default credential chain)
//   - S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY
//   - S3_ENDPOINT or AWS_ENDPOINT_URL (for MinIO: "http://localhost:9000")
//   - S3_REGION or AWS_REGION (defaults to "us-east-1")
//   - S3_USE_SSL ("true"/"false", defaults to false for MinIO and true for AWS)
//   - S3_URL_STYLE ("path" or "virtual", defaults to "path")
func LoadS3ConfigFromEnv(getenv func(string) string) (*S3Config, error) {
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				return v
			}
		}
		return ""
	}

	accessKeyID := first("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	secretAccessKey := first("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	if accessKeyID == "" && secretAccessKey != "" {
		return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is set but S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is missing")
	}
	if accessKeyID != "" && secretAccessKey == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is set but S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is missing (leave both unset for the default credential chain)")
	}

	cfg := &S3Config{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        first("S3_ENDPOINT", "AWS_ENDPOINT_URL"),
		Region:          first("S3_REGION", "AWS_REGION"),
		URLStyle:        first("S3_URL_STYLE"),
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	cfg.UseSSL = !cfg.IsMinIO()
	if v := getenv("S3_USE_SSL"); v != "" {
		cfg.UseSSL = v == "true" || v == "1"
	}
	if cfg.URLStyle == "" {
		cfg.URLStyle = "path"
	}
	return cfg, nil
}

// Validate fills defaults and checks that MinIO endpoints carry static
// credentials.
func (c *S3Config) Validate() error {
	if c.Region == "" {
		c.Region = defaultRegion
	}
	if c.URLStyle == "" {
		c.URLStyle = "path"
	}
	if c.URLStyle != "path" && c.URLStyle != "virtual" {
		return fmt.Errorf("invalid S3 URL style %q (want path or virtual)", c.URLStyle)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("S3 access key id and secret access key must be set together")
	}
	if c.IsMinIO() && c.AccessKeyID == "" {
		return fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set (endpoint: %s)", c.Endpoint)
	}
	return nil
}

// NewS3Client builds an S3 client. Without static keys the default AWS
// credential chain is used.
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpointURL := cfg.Endpoint
			if !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
				scheme := "http://"
				if cfg.UseSSL {
					scheme = "https://"
				}
				endpointURL = scheme + endpointURL
			}
			o.BaseEndpoint = aws.String(endpointURL)
		}
		o.UsePathStyle = cfg.URLStyle == "path"
	}), nil
}

// EnsureMinIOBucket creates bucket when the endpoint is a local MinIO and the
// bucket does not exist yet. Other endpoints are left alone.
func EnsureMinIOBucket(ctx context.Context, log *slog.Logger, client *s3.Client, cfg *S3Config, bucket string) error {
	if !isLocalEndpoint(cfg.Endpoint) || bucket == "" {
		return nil
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	log.Info("storage: creating MinIO bucket", "bucket", bucket, "endpoint", cfg.Endpoint)
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
	return strings.HasPrefix(host, "localhost") ||
		strings.HasPrefix(host, "127.0.0.1") ||
		strings.Contains(host, "host.docker.internal")
}
