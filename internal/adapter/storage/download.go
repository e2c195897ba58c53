package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// writeDownload streams r into localPath through a temp file in the same
// directory, so localPath only ever holds a complete object.
func writeDownload(localPath string, r io.Reader) error {
	return downloadFile(localPath, func(f *os.File) error {
		_, err := io.Copy(f, r)
		return err
	})
}

func downloadFile(localPath string, fill func(f *os.File) error) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

// joinKey places remoteName below the provider's root prefix. A trailing
// slash on remoteName is kept so listing prefixes stay exact.
func joinKey(prefix, remoteName string) string {
	if prefix == "" {
		return remoteName
	}
	return strings.TrimSuffix(prefix, "/") + "/" + remoteName
}

func trimKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/")+"/")
}
