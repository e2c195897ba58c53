package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/semmidev/markavault/internal/adapter/checksum"
	"github.com/semmidev/markavault/internal/adapter/pipeline"
	"github.com/semmidev/markavault/internal/domain"
)

const shadowSuffix = ".pre-restore"

// Restorer applies an artifact to the live data file:
// Validating -> Staging -> Verifying -> Swapping -> Committed | RolledBack.
// The live file is not touched before Swapping, and from then on every
// failure puts the shadow copies back.
type Restorer struct {
	store       domain.DataStore
	checker     domain.IntegrityChecker
	pipeline    *pipeline.Pipeline
	stagingRoot string
	sidecars    []string
	logger      Logger
	now         func() time.Time

	// copyFile installs src at dst. Replaced in tests to inject failures.
	copyFile func(src, dst string) error
}

func NewRestorer(store domain.DataStore, checker domain.IntegrityChecker, pipe *pipeline.Pipeline, stagingRoot string, sidecars []string, logger Logger) *Restorer {
	return &Restorer{
		store:       store,
		checker:     checker,
		pipeline:    pipe,
		stagingRoot: stagingRoot,
		sidecars:    sidecars,
		logger:      logger,
		now:         time.Now,
		copyFile:    installFile,
	}
}

// swapTarget pairs a live path with the staged file that replaces it. An
// empty staged path means the live file is removed by the swap.
type swapTarget struct {
	live   string
	staged string
	shadow string
	// existed records whether live was present before the swap.
	existed bool
}

// Restore runs the state machine for the artifact at path. The result is
// non-nil once validation has passed and reports the last state reached.
func (r *Restorer) Restore(ctx context.Context, path string) (*domain.RestoreResult, error) {
	start := r.now()
	result := &domain.RestoreResult{ArtifactPath: path, State: domain.RestoreValidating}

	r.logger.Infof("[restore] validating %s", path)
	if err := validateArtifact(path); err != nil {
		return nil, err
	}

	result.State = domain.RestoreStaging
	stageDir := filepath.Join(r.stagingRoot, uuid.NewString())
	if err := os.MkdirAll(stageDir, 0o700); err != nil {
		return result, domain.NewOpError(domain.ErrStagingFailed, "staging", err)
	}
	defer func() {
		if err := os.RemoveAll(stageDir); err != nil {
			r.logger.Warnf("[restore] failed to remove staging directory %s: %v", stageDir, err)
		}
	}()

	decoded, err := r.stage(path, stageDir)
	if err != nil {
		return result, err
	}
	result.Manifest = decoded.Manifest
	r.logger.Infof("[restore] staged %d file(s) from %s artifact", len(decoded.Files), decoded.Format)

	result.State = domain.RestoreVerifying
	targets, warnings, err := r.verify(ctx, stageDir, decoded)
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		r.logger.Errorf("[restore] verification failed, live data untouched: %v", err)
		return result, err
	}

	if err := checkShadows(targets); err != nil {
		r.logger.Errorf("[restore] %v", err)
		return result, err
	}

	// Once the store is closed the swap runs to the end, rollback included,
	// whatever happens to the caller's context.
	result.State = domain.RestoreSwapping
	state, err := r.swap(context.WithoutCancel(ctx), targets)
	result.State = state
	result.Duration = r.now().Sub(start)
	if err != nil {
		return result, err
	}

	r.logger.Infof("[restore] committed %s in %s", filepath.Base(path), result.Duration.Round(time.Millisecond))
	return result, nil
}

func validateArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return domain.NewOpError(domain.ErrInvalidArtifact, "validate", err)
	}
	if !info.Mode().IsRegular() {
		return domain.NewOpError(domain.ErrInvalidArtifact, "validate", fmt.Errorf("%s is not a regular file", path))
	}
	if info.Size() == 0 {
		return domain.NewOpError(domain.ErrInvalidArtifact, "validate", pipeline.ErrEmptyArtifact)
	}
	return nil
}

func (r *Restorer) stage(path, stageDir string) (*pipeline.Decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewOpError(domain.ErrInvalidArtifact, "staging", err)
	}
	defer f.Close()

	return r.pipeline.Decode(f, stageDir)
}

// verify maps staged files onto live paths, recomputes the manifest hash and
// runs the integrity check on the staged data file.
func (r *Restorer) verify(ctx context.Context, stageDir string, decoded *pipeline.Decoded) ([]swapTarget, []string, error) {
	var warnings []string
	corrupt := func(err error) ([]swapTarget, []string, error) {
		return nil, warnings, domain.NewOpError(domain.ErrCorruptPayload, "verify", err)
	}

	live := r.store.Path()
	liveBase := filepath.Base(live)
	staged := make(map[string]string, len(decoded.Files))
	for _, name := range decoded.Files {
		staged[name] = filepath.Join(stageDir, name)
	}

	mainStaged, ok := staged[liveBase]
	if !ok {
		// Older archives stored the data file under a different name.
		if decoded.Manifest == nil && len(decoded.Files) == 1 {
			mainStaged = staged[decoded.Files[0]]
			delete(staged, decoded.Files[0])
			staged[liveBase] = mainStaged
			warnings = append(warnings, fmt.Sprintf("archive member %s restored as %s", decoded.Files[0], liveBase))
		} else {
			return corrupt(fmt.Errorf("archive does not contain %s", liveBase))
		}
	}

	if m := decoded.Manifest; m != nil {
		if m.SchemaVersion > domain.SchemaVersion {
			return nil, warnings, domain.NewOpError(domain.ErrInvalidArtifact, "verify",
				fmt.Errorf("manifest schema version %d is newer than supported %d", m.SchemaVersion, domain.SchemaVersion))
		}
		if !sameNames(m.SourceFiles, decoded.Files) {
			return corrupt(fmt.Errorf("manifest lists %v but archive holds %v", m.SourceFiles, decoded.Files))
		}
		paths := make([]string, len(m.SourceFiles))
		for i, name := range m.SourceFiles {
			paths[i] = filepath.Join(stageDir, name)
		}
		sum, err := checksum.Files(paths...)
		if err != nil {
			return corrupt(err)
		}
		if !checksum.Equal(sum, m.ContentHash) {
			return corrupt(fmt.Errorf("content hash mismatch: manifest %s, payload %s", m.ContentHash, sum))
		}
	} else {
		warnings = append(warnings, "artifact has no manifest, relying on the integrity check alone")
	}

	if err := r.checker.CheckIntegrity(ctx, mainStaged); err != nil {
		return corrupt(err)
	}

	targets := []swapTarget{{live: live, staged: mainStaged}}
	for _, suffix := range r.sidecars {
		targets = append(targets, swapTarget{live: live + suffix, staged: staged[liveBase+suffix]})
	}
	for i := range targets {
		targets[i].shadow = targets[i].live + shadowSuffix
	}
	return targets, warnings, nil
}

// checkShadows refuses to swap while shadow copies from an earlier failed
// restore are still on disk; they may be the only good copy of the data.
func checkShadows(targets []swapTarget) error {
	for _, t := range targets {
		if _, err := os.Lstat(t.shadow); err == nil {
			return domain.NewOpError(domain.ErrSwapFailed, "shadow",
				fmt.Errorf("%s is left over from an earlier restore, move it away before restoring again", t.shadow))
		}
	}
	return nil
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// swap closes the store, shadows the live files, installs the staged ones
// and reopens the store. Any failure after the first shadow is written rolls
// back.
func (r *Restorer) swap(ctx context.Context, targets []swapTarget) (domain.RestoreState, error) {
	if err := r.store.Close(ctx); err != nil {
		if reErr := r.store.Initialize(ctx); reErr != nil {
			r.logger.Errorf("[restore] reopening after failed close also failed: %v", reErr)
		}
		return domain.RestoreSwapping, domain.NewOpError(domain.ErrSwapFailed, "close", err)
	}

	for i := range targets {
		t := &targets[i]
		if _, err := os.Stat(t.live); err == nil {
			t.existed = true
			if err := r.copyFile(t.live, t.shadow); err != nil {
				r.removeShadows(targets)
				if reErr := r.store.Initialize(ctx); reErr != nil {
					return domain.RestoreSwapping, r.unrecoverable("shadow", err, reErr)
				}
				return domain.RestoreSwapping, domain.NewOpError(domain.ErrSwapFailed, "shadow", err)
			}
		}
	}

	cause := r.install(targets)
	if cause == nil {
		if err := r.store.Initialize(ctx); err != nil {
			cause = fmt.Errorf("reinitialize: %w", err)
		}
	}
	if cause == nil {
		r.removeShadows(targets)
		return domain.RestoreCommitted, nil
	}

	r.logger.Errorf("[restore] swap failed, rolling back: %v", cause)
	if err := r.rollback(ctx, targets); err != nil {
		r.logger.Errorf("[restore] rollback failed, shadow copies kept at %s*: %v", targets[0].shadow, err)
		return domain.RestoreSwapping, r.unrecoverable("rollback", cause, err)
	}
	r.removeShadows(targets)
	r.logger.Warnf("[restore] rolled back to the previous data file")

	return domain.RestoreRolledBack, &domain.OpError{
		Kind:    domain.ErrSwapFailed,
		Stage:   "swap",
		Outcome: domain.OutcomeRolledBack,
		Err:     cause,
	}
}

func (r *Restorer) install(targets []swapTarget) error {
	for _, t := range targets {
		if t.staged == "" {
			// A stale sidecar must never be replayed against the new file.
			if err := os.Remove(t.live); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", t.live, err)
			}
			continue
		}
		if err := r.copyFile(t.staged, t.live); err != nil {
			return fmt.Errorf("install %s: %w", filepath.Base(t.live), err)
		}
	}
	return nil
}

func (r *Restorer) rollback(ctx context.Context, targets []swapTarget) error {
	var errs []error
	if err := r.store.Close(ctx); err != nil {
		r.logger.Warnf("[restore] close before rollback failed: %v", err)
	}
	for _, t := range targets {
		if t.existed {
			if err := r.copyFile(t.shadow, t.live); err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", filepath.Base(t.live), err))
			}
			continue
		}
		if err := os.Remove(t.live); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", filepath.Base(t.live), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err := r.store.Initialize(ctx); err != nil {
		return fmt.Errorf("reinitialize after rollback: %w", err)
	}
	return nil
}

func (r *Restorer) unrecoverable(stage string, cause, err error) error {
	return &domain.OpError{
		Kind:    domain.ErrRollbackFailed,
		Stage:   stage,
		Outcome: domain.OutcomeUnrecoverable,
		Err:     errors.Join(cause, err),
	}
}

func (r *Restorer) removeShadows(targets []swapTarget) {
	for _, t := range targets {
		if err := os.Remove(t.shadow); err != nil && !os.IsNotExist(err) {
			r.logger.Warnf("[restore] failed to remove shadow %s: %v", t.shadow, err)
		}
	}
}

// installFile copies src next to dst and renames it into place, so dst is
// either the old or the new content, never a mix.
func installFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
