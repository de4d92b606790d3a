package mediacache

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"surfacesync/internal/config"
	"surfacesync/pkg/models"
)

// Mirror copies cached blobs to shared storage for other devices.
type Mirror interface {
	Put(ctx context.Context, entry models.CachedMediaEntry, data []byte) error
	Remove(ctx context.Context, key string) error
}

type MinioMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioMirror(ctx context.Context, cfg config.MinioConfig) (*MinioMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to reach minio: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioMirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (m *MinioMirror) objectName(key string) string {
	return path.Join(m.prefix, fileName(key))
}

func (m *MinioMirror) Put(ctx context.Context, entry models.CachedMediaEntry, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.objectName(entry.Key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: entry.ContentType,
		UserMetadata: map[string]string{
			"source-url": entry.SourceURL,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", entry.Key, err)
	}
	return nil
}

func (m *MinioMirror) Remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, m.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Ping is used by the health registry.
func (m *MinioMirror) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}
