package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	appconfig "github.com/semmidev/markavault/internal/config"
	"github.com/semmidev/markavault/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// GDriveStorage keeps objects as files in one Drive folder. Drive has no
// key hierarchy, so the full key (prefix included) is the file name.
type GDriveStorage struct {
	name     string
	service  *drive.Service
	folderID string
}

// NewGDrive authenticates with a service account key, or with an OAuth
// client secret plus a refresh token obtained through the drive-auth command.
func NewGDrive(ctx context.Context, cfg appconfig.ProviderConfig) (*GDriveStorage, error) {
	var opt option.ClientOption
	if cfg.RefreshToken != "" {
		b, err := os.ReadFile(cfg.ClientSecretFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read client secret: %w", err)
		}
		oauthCfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse client secret: %w", err)
		}
		ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opt = option.WithTokenSource(ts)
	} else {
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	}

	service, err := drive.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		name:     cfg.Name,
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func (g *GDriveStorage) Name() string {
	return g.name
}

func (g *GDriveStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    remoteName,
		Parents: []string{g.folderID},
	}

	_, err = g.service.Files.Create(fileMetadata).
		Media(file).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return nil
}

func (g *GDriveStorage) Download(ctx context.Context, remoteName string, localPath string) error {
	id, err := g.findID(ctx, remoteName)
	if err != nil {
		return err
	}

	resp, err := g.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("failed to download from gdrive: %w", err)
	}
	defer resp.Body.Close()

	return writeDownload(localPath, resp.Body)
}

func (g *GDriveStorage) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", g.folderID)

	var objects []domain.ObjectInfo
	err := g.service.Files.List().
		Q(query).
		Fields("nextPageToken, files(id, name, size, createdTime, modifiedTime)").
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if !strings.HasPrefix(f.Name, prefix) {
					continue
				}
				modTime, err := time.Parse(time.RFC3339, f.ModifiedTime)
				if err != nil {
					modTime, _ = time.Parse(time.RFC3339, f.CreatedTime)
				}
				objects = append(objects, domain.ObjectInfo{
					Key:      f.Name,
					Size:     f.Size,
					ModTime:  modTime,
					Provider: g.name,
				})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return objects, nil
}

func (g *GDriveStorage) Delete(ctx context.Context, remoteName string) error {
	id, err := g.findID(ctx, remoteName)
	if err != nil {
		return err
	}

	err = g.service.Files.Delete(id).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// findID resolves the newest file called name in the folder.
func (g *GDriveStorage) findID(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", g.folderID, escapeQuery(name))

	fileList, err := g.service.Files.List().
		Q(query).
		OrderBy("modifiedTime desc").
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to find file: %w", err)
	}

	if len(fileList.Files) == 0 {
		return "", fmt.Errorf("file not found: %s", name)
	}
	return fileList.Files[0].Id, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
