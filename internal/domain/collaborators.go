package domain

import (
	"context"
	"time"
)

// DataStore is the component that exclusively owns the live data file.
type DataStore interface {
	Path() string
	Close(ctx context.Context) error
	Initialize(ctx context.Context) error
	Checkpoint(ctx context.Context) error
}

// IntegrityChecker opens a data file read-only and runs its self check.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context, path string) error
}

type HistoryRecorder interface {
	RecordTransfer(ctx context.Context, rec TransferRecord) error
}

type Settings interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

type FeatureChecker interface {
	IsFeatureEnabled(name string) bool
}

// Feature names understood by FeatureChecker.
const (
	FeatureCloudSync  = "cloud_sync"
	FeatureAutoBackup = "auto_backup"
)

type Event struct {
	Operation string
	Success   bool
	Warning   bool
	Detail    string
	At        time.Time
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// ObjectInfo describes one blob as reported by a provider.
type ObjectInfo struct {
	Key      string
	Size     int64
	ModTime  time.Time
	Provider string
}

// Provider is a remote object store.
type Provider interface {
	Name() string
	Upload(ctx context.Context, localPath string, remoteName string) error
	Download(ctx context.Context, remoteName string, localPath string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, remoteName string) error
}
