package services

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/configuration"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const archiveContentType = "application/gzip"

// ArchiveMirror keeps an off-site copy of packed archives.
type ArchiveMirror interface {
	Mirror(ctx context.Context, localPath string) error
}

type NopMirror struct{}

func (NopMirror) Mirror(context.Context, string) error { return nil }

// MinioMirror uploads archives to a bucket, keyed by file name.
type MinioMirror struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

func NewMinioMirror(ctx context.Context, cfg configuration.MinIOConfig, logger *zap.Logger) (*MinioMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	log := logging.OrNop(logger).Named("minio")
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.BucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.BucketName, err)
		}
		log.Info("created bucket", zap.String("bucket", cfg.BucketName))
	}

	log.Info("connected", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.BucketName))
	return &MinioMirror{client: client, bucket: cfg.BucketName, log: log}, nil
}

func (m *MinioMirror) Mirror(ctx context.Context, localPath string) error {
	object := filepath.Base(localPath)
	info, err := m.client.FPutObject(ctx, m.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: archiveContentType,
	})
	if err != nil {
		return fmt.Errorf("mirror %s: %w", object, err)
	}
	m.log.Info("archive mirrored",
		zap.String("bucket", m.bucket),
		zap.String("object", object),
		zap.Int64("bytes", info.Size),
	)
	return nil
}

// CheckConnection reports whether the mirror bucket is reachable.
func (m *MinioMirror) CheckConnection(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}
