package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/semmidev/markavault/internal/domain"
)

// LocalStorage is a provider backed by a directory, typically a mounted NAS
// or removable drive. Keys map to paths below basePath.
type LocalStorage struct {
	name     string
	basePath string
}

func NewLocal(name, basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{name: name, basePath: basePath}, nil
}

func (l *LocalStorage) Name() string {
	return l.name
}

func (l *LocalStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	destPath, err := l.resolve(remoteName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create dest directory: %w", err)
	}

	source, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	// Readers never see a half-written object.
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: source}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		return fmt.Errorf("failed to publish %s: %w", remoteName, err)
	}
	return nil
}

func (l *LocalStorage) Download(ctx context.Context, remoteName string, localPath string) error {
	srcPath, err := l.resolve(remoteName)
	if err != nil {
		return err
	}

	source, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", remoteName, err)
	}
	defer source.Close()

	return writeDownload(localPath, contextReader{ctx: ctx, r: source})
}

func (l *LocalStorage) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	var objects []domain.ObjectInfo
	err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}

		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", key, err)
		}
		objects = append(objects, domain.ObjectInfo{
			Key:      key,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Provider: l.name,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	return objects, nil
}

func (l *LocalStorage) Delete(ctx context.Context, remoteName string) error {
	filePath, err := l.resolve(remoteName)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) GetPath(remoteName string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(remoteName))
}

func (l *LocalStorage) resolve(remoteName string) (string, error) {
	clean := path.Clean("/" + remoteName)
	if remoteName == "" || clean == "/" || strings.TrimPrefix(clean, "/") != remoteName {
		return "", fmt.Errorf("invalid object key %q", remoteName)
	}
	return l.GetPath(remoteName), nil
}
