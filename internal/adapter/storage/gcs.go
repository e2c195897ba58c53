package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	appconfig "github.com/semmidev/markavault/internal/config"
	"github.com/semmidev/markavault/internal/domain"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSStorage struct {
	name   string
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS uses the service account key in cfg.CredentialsFile, or application
// default credentials when it is empty.
func NewGCS(ctx context.Context, cfg appconfig.ProviderConfig) (*GCSStorage, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSStorage{
		name:   cfg.Name,
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (g *GCSStorage) Name() string {
	return g.name
}

func (g *GCSStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	key := joinKey(g.prefix, remoteName)
	obj := g.client.Bucket(g.bucket).Object(key)
	err = uploadObject(ctx, func(wctx context.Context) io.WriteCloser {
		w := obj.NewWriter(wctx)
		w.ContentType = "application/octet-stream"
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	}, localFile)
	if err != nil {
		return fmt.Errorf("failed to upload %s to GCS object %s: %w", localPath, key, err)
	}
	return nil
}

// uploadObject streams src into the writer built by open. The object only
// becomes visible once Close succeeds, so a failed copy cancels the writer's
// context instead of closing it.
func uploadObject(ctx context.Context, open func(context.Context) io.WriteCloser, src io.Reader) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := open(wctx)
	if _, err := io.Copy(writer, src); err != nil {
		cancel()
		return fmt.Errorf("copy: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func (g *GCSStorage) Download(ctx context.Context, remoteName string, localPath string) error {
	key := joinKey(g.prefix, remoteName)
	reader, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open GCS object %s: %w", key, err)
	}
	defer reader.Close()

	return writeDownload(localPath, reader)
}

func (g *GCSStorage) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: joinKey(g.prefix, prefix)})

	var objects []domain.ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		key := trimKey(g.prefix, attrs.Name)
		if key == "" {
			continue
		}
		modTime := attrs.Updated
		if modTime.IsZero() {
			modTime = attrs.Created
		}
		objects = append(objects, domain.ObjectInfo{
			Key:      key,
			Size:     attrs.Size,
			ModTime:  modTime,
			Provider: g.name,
		})
	}
	return objects, nil
}

func (g *GCSStorage) Delete(ctx context.Context, remoteName string) error {
	key := joinKey(g.prefix, remoteName)
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete GCS object %s: %w", key, err)
	}
	return nil
}

func (g *GCSStorage) Close() error {
	return g.client.Close()
}
