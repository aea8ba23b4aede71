package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

func TestPlaylake_Storage_S3_MinIO(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping minio integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	log := testLogger()

	minioContainer, err := minio.Run(ctx, "minio/minio:latest",
		minio.WithUsername("minioadmin"),
		minio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer func() {
		if err := minioContainer.Terminate(ctx); err != nil {
			t.Logf("failed to cleanup minio container: %v", err)
		}
	}()

	host, err := minioContainer.Host(ctx)
	require.NoError(t, err)
	if host == "localhost" {
		host = "127.0.0.1"
	}
	port, err := minioContainer.MappedPort(ctx, "9000")
	require.NoError(t, err)

	cfg := &S3Config{
		AccessKeyID:     minioContainer.Username,
		SecretAccessKey: minioContainer.Password,
		Endpoint:        fmt.Sprintf("%s:%s", host, port.Port()),
		Region:          "us-east-1",
		URLStyle:        "path",
	}
	require.NoError(t, cfg.Validate())

	client, err := NewS3Client(ctx, cfg)
	require.NoError(t, err)

	bucket := "playlake"
	require.NoError(t, EnsureMinIOBucket(ctx, log, client, cfg, bucket))
	require.NoError(t, EnsureMinIOBucket(ctx, log, client, cfg, bucket))

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String("input/log_data/2018/11/events.json"),
		Body:   strings.NewReader(`{"ts": 1}`),
	})
	require.NoError(t, err)

	src := &S3Source{Client: client, Bucket: bucket, Prefix: "input"}
	keys, err := src.List(ctx, "log_data", 3)
	require.NoError(t, err)
	require.Equal(t, []string{"log_data/2018/11/events.json"}, keys)

	rc, err := src.Open(ctx, keys[0])
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, `{"ts": 1}`, string(data))

	pub, err := NewS3Publisher(S3PublisherConfig{
		Logger: log,
		Client: client,
		Bucket: bucket,
		Prefix: "output",
		RunID:  "run-1",
		Retry:  fastRetry(),
	})
	require.NoError(t, err)

	staged := t.TempDir()
	writeFile(t, filepath.Join(staged, "year=2018/month=11/data_0.parquet"), "first")
	writeFile(t, filepath.Join(staged, "year=2018/month=10/data_0.parquet"), "stale")
	require.NoError(t, pub.Publish(ctx, "time", staged))

	staged = t.TempDir()
	writeFile(t, filepath.Join(staged, "year=2018/month=11/data_0.parquet"), "second")
	require.NoError(t, pub.Publish(ctx, "time", staged))

	keys, err = pub.listKeys(ctx, "output/time/")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"output/time/_SUCCESS",
		"output/time/year=2018/month=11/data_0.parquet",
	}, keys)
}
