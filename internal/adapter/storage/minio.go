package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	appconfig "github.com/semmidev/markavault/internal/config"
	"github.com/semmidev/markavault/internal/domain"
)

type MinIOStorage struct {
	name   string
	client *minio.Client
	bucket string
	prefix string
}

func NewMinIO(cfg appconfig.ProviderConfig) (*MinIOStorage, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &MinIOStorage{
		name:   cfg.Name,
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (m *MinIOStorage) Name() string {
	return m.name
}

func (m *MinIOStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, joinKey(m.prefix, remoteName), localPath,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to upload to MinIO: %w", err)
	}
	return nil
}

func (m *MinIOStorage) Download(ctx context.Context, remoteName string, localPath string) error {
	obj, err := m.client.GetObject(ctx, m.bucket, joinKey(m.prefix, remoteName), minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to get MinIO object: %w", err)
	}
	defer obj.Close()

	return writeDownload(localPath, obj)
}

func (m *MinIOStorage) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	var objects []domain.ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    joinKey(m.prefix, prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list MinIO objects: %w", obj.Err)
		}
		key := trimKey(m.prefix, obj.Key)
		if key == "" {
			continue
		}
		objects = append(objects, domain.ObjectInfo{
			Key:      key,
			Size:     obj.Size,
			ModTime:  obj.LastModified,
			Provider: m.name,
		})
	}
	return objects, nil
}

func (m *MinIOStorage) Delete(ctx context.Context, remoteName string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, joinKey(m.prefix, remoteName), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete from MinIO: %w", err)
	}
	return nil
}
