package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/semmidev/markavault/internal/adapter/pipeline"
	"github.com/semmidev/markavault/internal/domain"
)

const (
	ArtifactExt   = ".marka"
	autoMarker    = "-auto"
	tmpSuffix     = ".tmp"
	nameTimestamp = "20060102-150405"
)

var namePattern = regexp.MustCompile(`-backup-(\d{8}-\d{6})(-auto)?(-\d+)?\.marka$`)

// ArtifactName renders {app}-backup-{YYYYMMDD-HHmmss}[-auto].marka.
func ArtifactName(app string, at time.Time, automatic bool) string {
	name := fmt.Sprintf("%s-backup-%s", app, at.Format(nameTimestamp))
	if automatic {
		name += autoMarker
	}
	return name + ArtifactExt
}

// parseArtifactName recovers the timestamp and marker from a name produced
// by ArtifactName. ok is false for anything else.
func parseArtifactName(name string) (at time.Time, automatic bool, ok bool) {
	m := namePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, false, false
	}
	t, err := time.ParseInLocation(nameTimestamp, m[1], time.Local)
	if err != nil {
		return time.Time{}, false, false
	}
	return t, m[2] != "", true
}

func isArtifactFile(name string) bool {
	return strings.HasSuffix(name, ArtifactExt)
}

// SnapshotBuilder turns the live data file into a finished artifact.
type SnapshotBuilder struct {
	store    domain.DataStore
	pipeline *pipeline.Pipeline
	appName  string
	sidecars []string
	logger   Logger
	now      func() time.Time
}

func NewSnapshotBuilder(store domain.DataStore, pipe *pipeline.Pipeline, appName string, sidecars []string, logger Logger) *SnapshotBuilder {
	return &SnapshotBuilder{
		store:    store,
		pipeline: pipe,
		appName:  appName,
		sidecars: sidecars,
		logger:   logger,
		now:      time.Now,
	}
}

// Build writes a new artifact into dir. Work happens at a .tmp path that is
// renamed only once every stage has succeeded; on failure nothing is left
// behind and the error carries domain.ErrSnapshotFailed.
func (b *SnapshotBuilder) Build(ctx context.Context, dir string, opts pipeline.Options, kind domain.Kind) (*domain.Artifact, error) {
	start := b.now()

	if err := b.store.Checkpoint(ctx); err != nil {
		b.logger.Warnf("[snapshot] checkpoint failed, copying the live file as is: %v", err)
	}

	entries, err := b.collect()
	if err != nil {
		return nil, domain.NewOpError(domain.ErrSnapshotFailed, "collect", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.NewOpError(domain.ErrSnapshotFailed, "collect", fmt.Errorf("failed to create %s: %w", dir, err))
	}

	name, tmp, err := b.createTemp(dir, start, kind == domain.KindAutomatic)
	if err != nil {
		return nil, domain.NewOpError(domain.ErrSnapshotFailed, "encode", err)
	}
	tmpPath := tmp.Name()
	finalPath := filepath.Join(dir, name)

	published := false
	defer func() {
		if !published {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	manifest, err := b.pipeline.Encode(tmp, entries, opts)
	if err != nil {
		return nil, domain.NewOpError(domain.ErrSnapshotFailed, "encode", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, domain.NewOpError(domain.ErrSnapshotFailed, "publish", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, domain.NewOpError(domain.ErrSnapshotFailed, "publish", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, domain.NewOpError(domain.ErrSnapshotFailed, "publish", err)
	}
	published = true

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, domain.NewOpError(domain.ErrSnapshotFailed, "publish", err)
	}

	b.logger.Infof("[snapshot] %s written (%s, %d file(s), compress=%t encrypt=%t) in %s",
		name, humanize.Bytes(uint64(info.Size())), len(entries), opts.Compress, opts.Encrypt,
		b.now().Sub(start).Round(time.Millisecond))

	return &domain.Artifact{
		Name:      name,
		LocalPath: finalPath,
		SizeBytes: info.Size(),
		CreatedAt: start,
		Origin:    domain.OriginLocal,
		Kind:      kind,
		Manifest:  manifest,
	}, nil
}

// collect lists the live file and whichever sidecars currently exist.
func (b *SnapshotBuilder) collect() ([]pipeline.Entry, error) {
	live := b.store.Path()
	info, err := os.Stat(live)
	if err != nil {
		return nil, fmt.Errorf("data file unavailable: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("data file %s is not a regular file", live)
	}

	entries := []pipeline.Entry{{Name: filepath.Base(live), Path: live}}
	for _, suffix := range b.sidecars {
		p := live + suffix
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("sidecar %s unavailable: %w", p, err)
		}
		entries = append(entries, pipeline.Entry{Name: filepath.Base(p), Path: p})
	}
	return entries, nil
}

// createTemp reserves a final name that is not taken yet and opens its .tmp
// file exclusively. Two snapshots within the same second get a numeric
// suffix.
func (b *SnapshotBuilder) createTemp(dir string, at time.Time, automatic bool) (string, *os.File, error) {
	base := ArtifactName(b.appName, at, automatic)
	for i := 0; i < 100; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ArtifactExt), i, ArtifactExt)
		}
		finalPath := filepath.Join(dir, name)
		if _, err := os.Stat(finalPath); err == nil {
			continue
		}
		f, err := os.OpenFile(finalPath+tmpSuffix, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to create %s: %w", finalPath+tmpSuffix, err)
		}
		return name, f, nil
	}
	return "", nil, fmt.Errorf("no free artifact name for %s", base)
}
