package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/semmidev/markavault/internal/adapter/pipeline"
	"github.com/semmidev/markavault/internal/domain"
)

// BackupOptions selects how CreateBackup builds and ships an artifact.
type BackupOptions struct {
	Compress bool
	Encrypt  bool
	// Automatic marks the artifact name with -auto.
	Automatic bool
	// Upload also sends the artifact to every provider under the backup
	// prefix. Upload failures are warnings.
	Upload bool
}

func DefaultBackupOptions() BackupOptions {
	return BackupOptions{Compress: true, Encrypt: true}
}

type OrchestratorConfig struct {
	AppName      string
	BackupDir    string
	Sidecars     []string
	SyncPrefix   string
	BackupPrefix string
	Retention    RetentionPolicy
	// Compress and Encrypt apply to sync snapshots and scheduled backups.
	Compress      bool
	Encrypt       bool
	AutoBackup    bool
	SyncEnabled   bool
	UploadBackups bool
}

type Deps struct {
	Store     domain.DataStore
	Checker   domain.IntegrityChecker
	History   domain.HistoryRecorder
	Settings  domain.Settings
	Features  domain.FeatureChecker
	Notifier  domain.Notifier
	Pipeline  *pipeline.Pipeline
	Transport *Transport
	Logger    Logger
	Metrics   Metrics
}

// Orchestrator runs backups, restores and sync cycles one at a time and owns
// the sync state.
type Orchestrator struct {
	cfg       OrchestratorConfig
	history   domain.HistoryRecorder
	settings  domain.Settings
	features  domain.FeatureChecker
	notifier  domain.Notifier
	transport *Transport
	logger    Logger
	metrics   Metrics

	snapshots *SnapshotBuilder
	restorer  *Restorer
	retention *Retention

	// guard serializes every cycle that reads or replaces the live file.
	guard sync.Mutex
	// pending holds the events of the running cycle; delivered after the
	// guard is released.
	pending []domain.Event

	stateMu sync.RWMutex
	state   domain.SyncState

	now func() time.Time
}

func NewOrchestrator(cfg OrchestratorConfig, deps Deps) *Orchestrator {
	metrics := orNop(deps.Metrics)
	transport := deps.Transport
	if transport == nil {
		transport = NewTransport(nil, TransportConfig{}, deps.Logger, metrics)
	}

	return &Orchestrator{
		cfg:       cfg,
		history:   deps.History,
		settings:  deps.Settings,
		features:  deps.Features,
		notifier:  deps.Notifier,
		transport: transport,
		logger:    deps.Logger,
		metrics:   metrics,
		snapshots: NewSnapshotBuilder(deps.Store, deps.Pipeline, cfg.AppName, cfg.Sidecars, deps.Logger),
		restorer:  NewRestorer(deps.Store, deps.Checker, deps.Pipeline, filepath.Join(cfg.BackupDir, "restore"), cfg.Sidecars, deps.Logger),
		retention: NewRetention(deps.Logger, metrics),
		state:     domain.SyncState{Status: domain.SyncIdle},
		now:       time.Now,
	}
}

func (o *Orchestrator) outbox() string { return filepath.Join(o.cfg.BackupDir, "outbox") }
func (o *Orchestrator) inbox() string  { return filepath.Join(o.cfg.BackupDir, "inbox") }

// CreateBackup writes a new artifact into the backup directory and applies
// the local retention policy.
func (o *Orchestrator) CreateBackup(ctx context.Context, opts BackupOptions) (artifact *domain.Artifact, err error) {
	o.exclusive(ctx, func() {
		artifact, err = o.createBackup(ctx, opts)
	})
	return artifact, err
}

func (o *Orchestrator) createBackup(ctx context.Context, opts BackupOptions) (*domain.Artifact, error) {
	kind := domain.KindManual
	if opts.Automatic {
		kind = domain.KindAutomatic
	}
	o.logger.Infof("[backup] starting %s backup", kind)

	artifact, err := o.snapshots.Build(ctx, o.cfg.BackupDir, pipeline.Options{Compress: opts.Compress, Encrypt: opts.Encrypt}, kind)
	if err != nil {
		o.logger.Errorf("[backup] failed: %v", err)
		o.notify(domain.Event{Operation: "backup", Detail: err.Error()})
		return nil, err
	}
	o.metrics.ArtifactSize(artifact.SizeBytes)

	o.record(ctx, domain.TransferRecord{
		ArtifactName: artifact.Name,
		LocalPath:    artifact.LocalPath,
		SizeBytes:    artifact.SizeBytes,
		Type:         domain.KindTransferType(kind),
		CreatedAt:    artifact.CreatedAt,
	})

	policy := o.retentionPolicy(ctx)
	if _, err := o.retention.Apply(o.cfg.BackupDir, policy); err != nil {
		o.logger.Errorf("[retention] local cleanup failed: %v", err)
	}

	var warnings []string
	if opts.Upload && o.transport.HasProviders() {
		results := o.transport.Upload(ctx, artifact.LocalPath, remoteKey(o.cfg.BackupPrefix, artifact.Name))
		for _, res := range results {
			if res.Err != nil {
				warnings = append(warnings, fmt.Sprintf("upload to %s failed: %v", res.Provider, res.Err))
			}
		}
		o.retention.ApplyRemote(ctx, o.transport, o.cfg.BackupPrefix, policy)
	}

	detail := fmt.Sprintf("%s (%s)", artifact.Name, humanize.Bytes(uint64(artifact.SizeBytes)))
	if len(warnings) > 0 {
		detail += "; " + joinLines(warnings)
	}
	o.notify(domain.Event{Operation: "backup", Success: true, Warning: len(warnings) > 0, Detail: detail})
	return artifact, nil
}

// RestoreBackup replaces the live data file with the content of the
// artifact at path.
func (o *Orchestrator) RestoreBackup(ctx context.Context, path string) (result *domain.RestoreResult, err error) {
	o.exclusive(ctx, func() {
		result, err = o.restorer.Restore(ctx, path)
		o.notifyRestore("restore", filepath.Base(path), result, err)
	})
	return result, err
}

// ListBackups returns the local artifacts, newest first.
func (o *Orchestrator) ListBackups(ctx context.Context) (artifacts []domain.Artifact, err error) {
	o.exclusive(ctx, func() {
		artifacts, err = ScanArtifacts(o.cfg.BackupDir)
	})
	return artifacts, err
}

// SyncToCloud snapshots the live file and uploads it to every provider. The
// cycle fails only when no provider accepted the artifact.
func (o *Orchestrator) SyncToCloud(ctx context.Context) (report *domain.SyncReport, err error) {
	o.exclusive(ctx, func() {
		report, err = o.syncToCloud(ctx, domain.KindManual)
	})
	return report, err
}

func (o *Orchestrator) syncToCloud(ctx context.Context, kind domain.Kind) (*domain.SyncReport, error) {
	report := &domain.SyncReport{CycleID: uuid.NewString(), StartedAt: o.now()}
	tag := "[sync:" + report.CycleID[:8] + "]"

	if !o.transport.HasProviders() {
		err := domain.NewOpError(domain.ErrNoProviderConfigured, "upload", nil)
		o.fail("push", err)
		return nil, err
	}

	o.setState(func(s *domain.SyncState) { s.Status = domain.SyncSyncing })
	o.logger.Infof("%s pushing to %d provider(s)", tag, len(o.transport.ProviderNames()))

	artifact, err := o.snapshots.Build(ctx, o.outbox(), pipeline.Options{Compress: o.cfg.Compress, Encrypt: o.cfg.Encrypt}, kind)
	if err != nil {
		o.logger.Errorf("%s snapshot failed: %v", tag, err)
		o.fail("push", err)
		o.notify(domain.Event{Operation: "sync push", Detail: err.Error()})
		return nil, err
	}
	defer func() {
		if err := os.Remove(artifact.LocalPath); err != nil && !os.IsNotExist(err) {
			o.logger.Warnf("%s failed to remove %s: %v", tag, artifact.LocalPath, err)
		}
	}()

	report.Artifact = *artifact
	report.Results = o.transport.Upload(ctx, artifact.LocalPath, remoteKey(o.cfg.SyncPrefix, artifact.Name))
	report.Duration = o.now().Sub(report.StartedAt)
	o.metrics.ArtifactSize(artifact.SizeBytes)

	succeeded := report.Succeeded()
	if len(succeeded) == 0 {
		var errs []error
		for _, f := range report.Failed() {
			errs = append(errs, fmt.Errorf("%s: %w", f.Provider, f.Err))
		}
		err := domain.NewOpError(domain.ErrTransportFailed, "upload", errors.Join(errs...))
		o.logger.Errorf("%s every provider failed: %v", tag, err)
		o.fail("push", err)
		o.notify(domain.Event{Operation: "sync push", Detail: err.Error()})
		return report, err
	}

	result := "success"
	if report.Partial() {
		result = "partial"
	}
	o.succeed("push", result)
	o.record(ctx, domain.TransferRecord{
		ArtifactName: remoteKey(o.cfg.SyncPrefix, artifact.Name),
		SizeBytes:    artifact.SizeBytes,
		Type:         domain.TransferPush,
		Providers:    succeeded,
		CreatedAt:    report.StartedAt,
	})
	o.retention.ApplyRemote(ctx, o.transport, o.cfg.SyncPrefix, o.retentionPolicy(ctx))

	detail := fmt.Sprintf("%s (%s) to %v in %s", artifact.Name, humanize.Bytes(uint64(artifact.SizeBytes)),
		succeeded, report.Duration.Round(time.Millisecond))
	if report.Partial() {
		var failed []string
		for _, f := range report.Failed() {
			failed = append(failed, fmt.Sprintf("%s: %v", f.Provider, f.Err))
		}
		detail += "; failed: " + joinLines(failed)
		o.logger.Warnf("%s partial success: %s", tag, detail)
	} else {
		o.logger.Infof("%s completed: %s", tag, detail)
	}
	o.notify(domain.Event{Operation: "sync push", Success: true, Warning: report.Partial(), Detail: detail})
	return report, nil
}

// SyncFromCloud restores the newest artifact found under the sync prefix on
// any provider.
func (o *Orchestrator) SyncFromCloud(ctx context.Context) (result *domain.RestoreResult, err error) {
	o.exclusive(ctx, func() {
		result, err = o.syncFromCloud(ctx)
	})
	return result, err
}

func (o *Orchestrator) syncFromCloud(ctx context.Context) (*domain.RestoreResult, error) {
	if !o.transport.HasProviders() {
		err := domain.NewOpError(domain.ErrNoProviderConfigured, "list", nil)
		o.fail("pull", err)
		return nil, err
	}

	o.setState(func(s *domain.SyncState) { s.Status = domain.SyncSyncing })
	latest, err := o.transport.ListLatest(ctx, o.cfg.SyncPrefix)
	if errors.Is(err, domain.ErrNoArtifact) {
		o.logger.Infof("[sync] nothing to pull under %q", o.cfg.SyncPrefix)
		o.setState(func(s *domain.SyncState) { s.Status = domain.SyncIdle })
		return nil, err
	}
	if err != nil {
		o.fail("pull", err)
		o.notify(domain.Event{Operation: "sync pull", Detail: err.Error()})
		return nil, err
	}

	o.logger.Infof("[sync] latest artifact is %s on %s (%s)", latest.Key, latest.Provider,
		humanize.Time(latest.ModTime))
	return o.pull(ctx, latest.Provider, latest.Key)
}

// PullArtifact downloads key from the named provider and restores it.
func (o *Orchestrator) PullArtifact(ctx context.Context, provider, key string) (result *domain.RestoreResult, err error) {
	o.exclusive(ctx, func() {
		if !o.transport.HasProviders() {
			err = domain.NewOpError(domain.ErrNoProviderConfigured, "download", nil)
			o.fail("pull", err)
			return
		}
		o.setState(func(s *domain.SyncState) { s.Status = domain.SyncSyncing })
		result, err = o.pull(ctx, provider, key)
	})
	return result, err
}

func (o *Orchestrator) pull(ctx context.Context, provider, key string) (*domain.RestoreResult, error) {
	name := baseName(key)
	if !isPlainArtifactName(name) {
		err := domain.NewOpError(domain.ErrInvalidArtifact, "download", fmt.Errorf("object key %q does not name an artifact", key))
		o.fail("pull", err)
		return nil, err
	}
	if err := os.MkdirAll(o.inbox(), 0o700); err != nil {
		err = domain.NewOpError(domain.ErrTransportFailed, "download", err)
		o.fail("pull", err)
		return nil, err
	}
	localPath := filepath.Join(o.inbox(), name)
	defer func() {
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			o.logger.Warnf("[sync] failed to remove %s: %v", localPath, err)
		}
	}()

	if err := o.transport.Download(ctx, provider, key, localPath); err != nil {
		err = domain.NewOpError(domain.ErrTransportFailed, "download", fmt.Errorf("%s: %w", provider, err))
		o.fail("pull", err)
		o.notify(domain.Event{Operation: "sync pull", Detail: err.Error()})
		return nil, err
	}

	result, err := o.restorer.Restore(ctx, localPath)
	o.notifyRestore("sync pull", key, result, err)
	if err != nil {
		o.fail("pull", err)
		return result, err
	}

	var size int64
	if info, statErr := os.Stat(localPath); statErr == nil {
		size = info.Size()
	}
	o.record(ctx, domain.TransferRecord{
		ArtifactName: key,
		SizeBytes:    size,
		Type:         domain.TransferPull,
		Providers:    []string{provider},
		CreatedAt:    o.now(),
	})
	o.succeed("pull", "success")
	return result, nil
}

// SyncStatus returns a copy of the current sync state. It never waits for a
// running cycle.
func (o *Orchestrator) SyncStatus() domain.SyncState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	s := o.state
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		s.LastSyncAt = &t
	}
	return s
}

// RunScheduledSync is the scheduler entry point for outbound sync. It is a
// no-op when sync is switched off or the license does not carry cloud sync.
func (o *Orchestrator) RunScheduledSync(ctx context.Context) error {
	if !o.settingBool(ctx, SettingCloudSyncEnabled, o.cfg.SyncEnabled) {
		o.logger.Infof("[sync] scheduled sync skipped: disabled")
		return nil
	}
	if o.features != nil && !o.features.IsFeatureEnabled(domain.FeatureCloudSync) {
		o.logger.Infof("[sync] scheduled sync skipped: license does not include %s", domain.FeatureCloudSync)
		return nil
	}

	var err error
	o.exclusive(ctx, func() {
		_, err = o.syncToCloud(ctx, domain.KindAutomatic)
	})
	return err
}

// RunScheduledBackup is the scheduler entry point for automatic backups.
func (o *Orchestrator) RunScheduledBackup(ctx context.Context) error {
	if !o.settingBool(ctx, SettingAutoBackup, o.cfg.AutoBackup) {
		o.logger.Infof("[backup] scheduled backup skipped: disabled")
		return nil
	}
	if o.features != nil && !o.features.IsFeatureEnabled(domain.FeatureAutoBackup) {
		o.logger.Infof("[backup] scheduled backup skipped: license does not include %s", domain.FeatureAutoBackup)
		return nil
	}

	var err error
	o.exclusive(ctx, func() {
		_, err = o.createBackup(ctx, BackupOptions{
			Compress:  o.cfg.Compress,
			Encrypt:   o.cfg.Encrypt,
			Automatic: true,
			Upload:    o.cfg.UploadBackups,
		})
	})
	return err
}

// exclusive runs fn under the cycle guard and delivers the events it queued
// after the guard is released.
func (o *Orchestrator) exclusive(ctx context.Context, fn func()) {
	o.guard.Lock()
	fn()
	events := o.pending
	o.pending = nil
	o.guard.Unlock()

	if o.notifier == nil {
		return
	}
	for _, ev := range events {
		if err := o.notifier.Notify(ctx, ev); err != nil {
			o.logger.Warnf("[notify] %s: %v", ev.Operation, err)
		}
	}
}

func (o *Orchestrator) setState(update func(s *domain.SyncState)) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	update(&o.state)
}

func (o *Orchestrator) fail(direction string, err error) {
	o.setState(func(s *domain.SyncState) {
		s.Status = domain.SyncError
		s.LastError = err.Error()
	})
	o.metrics.SyncCycle(direction, "failure")
}

func (o *Orchestrator) succeed(direction, result string) {
	now := o.now()
	o.setState(func(s *domain.SyncState) {
		s.Status = domain.SyncIdle
		s.LastSyncAt = &now
		s.LastError = ""
	})
	o.metrics.SyncCycle(direction, result)
	o.metrics.LastSync(now)
}

func (o *Orchestrator) record(ctx context.Context, rec domain.TransferRecord) {
	if o.history == nil {
		return
	}
	if err := o.history.RecordTransfer(ctx, rec); err != nil {
		o.logger.Warnf("failed to record %s history for %s: %v", rec.Type, rec.ArtifactName, err)
	}
}

// notify queues ev for delivery when the current cycle releases the guard.
func (o *Orchestrator) notify(ev domain.Event) {
	ev.At = o.now()
	o.pending = append(o.pending, ev)
}

func (o *Orchestrator) notifyRestore(op, name string, result *domain.RestoreResult, err error) {
	if err != nil {
		detail := fmt.Sprintf("%s: %v", name, err)
		if outcome := domain.OutcomeOf(err); outcome != domain.OutcomeUntouched {
			detail += fmt.Sprintf(" [%s]", outcome)
		}
		o.notify(domain.Event{Operation: op, Detail: detail})
		return
	}
	ev := domain.Event{Operation: op, Success: true, Detail: name}
	if len(result.Warnings) > 0 {
		ev.Warning = true
		ev.Detail += "; " + joinLines(result.Warnings)
	}
	o.notify(ev)
}

func joinLines(lines []string) string {
	return strings.Join(lines, "; ")
}
