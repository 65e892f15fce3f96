// Package objectstore provides tiered blob storage for annotation
// inputs, results, and logs. The standard tier is a set of regular
// buckets; the cold tier is a dedicated archive bucket with simulated
// retrieval latency, restored through an explicit thaw request.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrUnauthorized marks credential or permission failures, which
// indicate misconfiguration rather than a retryable condition and are
// logged distinctly from transient errors.
var ErrUnauthorized = errors.New("object store authorization failed")

// Store is the tiered blob storage contract the workers program against.
type Store interface {
	Upload(ctx context.Context, localPath, bucket, key string) error
	Download(ctx context.Context, bucket, key, localPath string) error
	MoveToCold(ctx context.Context, bucket, key string) (archiveLocation string, err error)
	RestoreFromCold(ctx context.Context, archiveLocation, bucket, key string) error
	RequestThaw(ctx context.Context, archiveLocation string) (ticket string, err error)
}

// Config holds object store connection configuration
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Region        string
	ArchiveBucket string
}

// Client is the minio-backed Store implementation
type Client struct {
	minio         *minio.Client
	archiveBucket string
	logger        *slog.Logger
}

// NewClient creates a new object store client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	logger.Info("Object store client initialized",
		slog.String("endpoint", config.Endpoint),
		slog.String("archive_bucket", config.ArchiveBucket),
	)

	return &Client{
		minio:         mc,
		archiveBucket: config.ArchiveBucket,
		logger:        logger,
	}, nil
}

// classify wraps authorization failures so callers can log them
// distinctly from transient infrastructure errors.
func classify(err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return err
}

// Upload stores a local file under bucket/key in the standard tier
func (c *Client) Upload(ctx context.Context, localPath, bucket, key string) error {
	_, err := c.minio.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to upload %s to %s/%s: %w", localPath, bucket, key, classify(err))
	}

	c.logger.Info("Object uploaded",
		slog.String("bucket", bucket),
		slog.String("key", key),
	)

	return nil
}

// Download fetches bucket/key into a local file
func (c *Client) Download(ctx context.Context, bucket, key, localPath string) error {
	err := c.minio.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to download %s/%s: %w", bucket, key, classify(err))
	}

	c.logger.Info("Object downloaded",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.String("local_path", localPath),
	)

	return nil
}

// MoveToCold copies bucket/key into the archive bucket and removes the
// standard copy. Returns the cold-tier location (the key within the
// archive bucket).
func (c *Client) MoveToCold(ctx context.Context, bucket, key string) (string, error) {
	src := minio.CopySrcOptions{Bucket: bucket, Object: key}
	dst := minio.CopyDestOptions{Bucket: c.archiveBucket, Object: key}

	if _, err := c.minio.CopyObject(ctx, dst, src); err != nil {
		return "", fmt.Errorf("failed to copy %s/%s to cold tier: %w", bucket, key, classify(err))
	}

	if err := c.minio.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return "", fmt.Errorf("failed to remove standard copy of %s/%s: %w", bucket, key, classify(err))
	}

	c.logger.Info("Object moved to cold tier",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.String("archive_bucket", c.archiveBucket),
	)

	return key, nil
}

// RestoreFromCold copies a thawed object back into the standard tier and
// deletes the cold copy.
func (c *Client) RestoreFromCold(ctx context.Context, archiveLocation, bucket, key string) error {
	src := minio.CopySrcOptions{Bucket: c.archiveBucket, Object: archiveLocation}
	dst := minio.CopyDestOptions{Bucket: bucket, Object: key}

	if _, err := c.minio.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("failed to restore %s from cold tier: %w", archiveLocation, classify(err))
	}

	if err := c.minio.RemoveObject(ctx, c.archiveBucket, archiveLocation, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove cold copy of %s: %w", archiveLocation, classify(err))
	}

	c.logger.Info("Object restored from cold tier",
		slog.String("archive_location", archiveLocation),
		slog.String("bucket", bucket),
		slog.String("key", key),
	)

	return nil
}

// PresignUpload returns a time-limited URL a client can PUT an input
// file to, so uploads bypass the gateway process entirely.
func (c *Client) PresignUpload(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := c.minio.PresignedPutObject(ctx, bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign upload for %s/%s: %w", bucket, key, classify(err))
	}

	c.logger.Debug("Upload URL presigned",
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Duration("expiry", expiry),
	)

	return u.String(), nil
}

// RequestThaw initiates retrieval of a cold object. Retrieval latency is
// out of this system's control; completion arrives later as a thaw
// signal, not as a return value. The ticket identifies the request.
func (c *Client) RequestThaw(ctx context.Context, archiveLocation string) (string, error) {
	// Verify the cold copy exists before promising a thaw.
	_, err := c.minio.StatObject(ctx, c.archiveBucket, archiveLocation, minio.StatObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to stat cold object %s: %w", archiveLocation, classify(err))
	}

	ticket := uuid.New().String()

	c.logger.Info("Thaw requested",
		slog.String("archive_location", archiveLocation),
		slog.String("ticket", ticket),
	)

	return ticket, nil
}
