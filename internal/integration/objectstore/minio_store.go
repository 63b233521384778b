// Package objectstore keeps the SQLite database file in S3-compatible blob
// storage between deployments.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/abelzeko/creel-bot/internal/metrics"
)

// BlobStore persists the database file
type BlobStore interface {
	// DownloadIfAbsent fetches the object into localPath unless the file
	// already exists. It reports whether a download happened.
	DownloadIfAbsent(ctx context.Context, localPath string) (bool, error)
	// Upload replaces the remote object with localPath
	Upload(ctx context.Context, localPath string) error
}

// Options configures a MinioStore
type Options struct {
	Endpoint  string
	Bucket    string
	Object    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// MinioStore implements BlobStore on any S3-compatible service
type MinioStore struct {
	client  *minio.Client
	bucket  string
	object  string
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewMinioStore creates the client and makes sure the bucket exists
func NewMinioStore(ctx context.Context, opts Options, m *metrics.Metrics, logger zerolog.Logger) (*MinioStore, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("blob endpoint and bucket are required")
	}
	if opts.Object == "" {
		opts.Object = "creel_data.db"
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", opts.Bucket, err)
		}
		logger.Info().Str("bucket", opts.Bucket).Msg("Created blob bucket")
	}

	return &MinioStore{
		client:  client,
		bucket:  opts.Bucket,
		object:  opts.Object,
		logger:  logger.With().Str("component", "blob").Str("bucket", opts.Bucket).Str("object", opts.Object).Logger(),
		metrics: m,
	}, nil
}

// DownloadIfAbsent implements BlobStore
func (s *MinioStore) DownloadIfAbsent(ctx context.Context, localPath string) (bool, error) {
	if _, err := os.Stat(localPath); err == nil {
		s.logger.Debug().Str("path", localPath).Msg("Local database present, skipping download")
		return false, nil
	}

	if _, err := s.client.StatObject(ctx, s.bucket, s.object, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			s.observe("stat", "missing")
			s.logger.Info().Msg("No database in blob storage yet")
			return false, nil
		}
		s.observe("stat", "failure")
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}

	if err := s.client.FGetObject(ctx, s.bucket, s.object, localPath, minio.GetObjectOptions{}); err != nil {
		s.observe("get", "failure")
		return false, fmt.Errorf("failed to download database: %w", err)
	}
	s.observe("get", "success")
	s.logger.Info().Str("path", localPath).Msg("Downloaded database from blob storage")
	return true, nil
}

// Upload implements BlobStore
func (s *MinioStore) Upload(ctx context.Context, localPath string) error {
	info, err := s.client.FPutObject(ctx, s.bucket, s.object, localPath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	if err != nil {
		s.observe("put", "failure")
		return fmt.Errorf("failed to upload database: %w", err)
	}
	s.observe("put", "success")
	s.logger.Info().Int64("bytes", info.Size).Msg("Uploaded database to blob storage")
	return nil
}

func (s *MinioStore) observe(op, result string) {
	if s.metrics != nil {
		s.metrics.StorageOps.WithLabelValues(op, result).Inc()
	}
}

// NopStore is used when no blob storage is configured
type NopStore struct{}

// DownloadIfAbsent implements BlobStore
func (NopStore) DownloadIfAbsent(context.Context, string) (bool, error) { return false, nil }

// Upload implements BlobStore
func (NopStore) Upload(context.Context, string) error { return nil }
