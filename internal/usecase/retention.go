package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/semmidev/markavault/internal/domain"
)

// RetentionPolicy keeps at most MaxCount artifacts, then drops anything
// older than RetentionDays. A zero value disables that rule.
type RetentionPolicy struct {
	MaxCount      int
	RetentionDays int
}

type Retention struct {
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

func NewRetention(logger Logger, metrics Metrics) *Retention {
	return &Retention{
		logger:  logger,
		metrics: orNop(metrics),
		now:     time.Now,
	}
}

type scannedArtifact struct {
	domain.Artifact
	modTime time.Time
}

// ScanArtifacts lists the finished artifacts in dir, newest first by
// modification time, ties broken by name descending.
func ScanArtifacts(dir string) ([]domain.Artifact, error) {
	scanned, err := scanDir(dir)
	if err != nil {
		return nil, err
	}
	artifacts := make([]domain.Artifact, len(scanned))
	for i, s := range scanned {
		artifacts[i] = s.Artifact
	}
	return artifacts, nil
}

func scanDir(dir string) ([]scannedArtifact, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var scanned []scannedArtifact
	for _, entry := range entries {
		if entry.IsDir() || !isArtifactFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}

		kind := domain.KindManual
		createdAt := info.ModTime()
		if at, automatic, ok := parseArtifactName(entry.Name()); ok {
			createdAt = at
			if automatic {
				kind = domain.KindAutomatic
			}
		}

		scanned = append(scanned, scannedArtifact{
			Artifact: domain.Artifact{
				Name:      entry.Name(),
				LocalPath: filepath.Join(dir, entry.Name()),
				SizeBytes: info.Size(),
				CreatedAt: createdAt,
				Origin:    domain.OriginLocal,
				Kind:      kind,
			},
			modTime: info.ModTime(),
		})
	}

	sort.SliceStable(scanned, func(i, j int) bool {
		if !scanned[i].modTime.Equal(scanned[j].modTime) {
			return scanned[i].modTime.After(scanned[j].modTime)
		}
		return scanned[i].Name > scanned[j].Name
	})
	return scanned, nil
}

// Apply enforces policy on the artifacts in dir and returns the names it
// deleted. A file that cannot be deleted is logged and skipped.
func (r *Retention) Apply(dir string, policy RetentionPolicy) ([]string, error) {
	scanned, err := scanDir(dir)
	if err != nil {
		return nil, err
	}

	objects := make([]domain.ObjectInfo, len(scanned))
	for i, a := range scanned {
		objects[i] = domain.ObjectInfo{Key: a.Name, Size: a.SizeBytes, ModTime: a.modTime}
	}

	var deleted []string
	for _, obj := range r.expired(objects, policy) {
		if err := os.Remove(filepath.Join(dir, obj.Key)); err != nil && !os.IsNotExist(err) {
			r.logger.Errorf("[retention] failed to delete %s: %v", obj.Key, err)
			continue
		}
		r.logger.Infof("[retention] deleted %s", obj.Key)
		deleted = append(deleted, obj.Key)
	}

	if len(deleted) > 0 {
		r.metrics.RetentionDeleted(len(deleted))
	}
	return deleted, nil
}

// ApplyRemote enforces policy on each provider's objects under prefix.
// Providers are handled independently; one failing does not stop the rest.
func (r *Retention) ApplyRemote(ctx context.Context, t *Transport, prefix string, policy RetentionPolicy) map[string][]string {
	deleted := make(map[string][]string)
	for _, name := range t.ProviderNames() {
		objects, err := t.List(ctx, name, prefix)
		if err != nil {
			r.logger.Errorf("[retention] cleanup failed for %s: %v", name, err)
			continue
		}

		var artifacts []domain.ObjectInfo
		for _, o := range objects {
			if isArtifactFile(o.Key) {
				artifacts = append(artifacts, o)
			}
		}
		sortObjects(artifacts)

		for _, obj := range r.expired(artifacts, policy) {
			if err := t.Delete(ctx, name, obj.Key); err != nil {
				r.logger.Errorf("[retention] failed to delete %s from %s: %v", obj.Key, name, err)
				continue
			}
			deleted[name] = append(deleted[name], obj.Key)
		}
		if n := len(deleted[name]); n > 0 {
			r.logger.Infof("[retention] deleted %d old artifact(s) from %s", n, name)
			r.metrics.RetentionDeleted(n)
		}
	}
	return deleted
}

// expired applies the count rule, then the age rule, to objects sorted
// newest first.
func (r *Retention) expired(objects []domain.ObjectInfo, policy RetentionPolicy) []domain.ObjectInfo {
	var out []domain.ObjectInfo
	keep := objects
	if policy.MaxCount > 0 && len(objects) > policy.MaxCount {
		out = append(out, objects[policy.MaxCount:]...)
		keep = objects[:policy.MaxCount]
	}
	if policy.RetentionDays > 0 {
		cutoff := r.now().AddDate(0, 0, -policy.RetentionDays)
		for _, o := range keep {
			if o.ModTime.Before(cutoff) {
				out = append(out, o)
			}
		}
	}
	return out
}

// sortObjects orders newest first, ties by key descending.
func sortObjects(objects []domain.ObjectInfo) {
	sort.SliceStable(objects, func(i, j int) bool {
		if !objects[i].ModTime.Equal(objects[j].ModTime) {
			return objects[i].ModTime.After(objects[j].ModTime)
		}
		return objects[i].Key > objects[j].Key
	})
}
