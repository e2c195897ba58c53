package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/semmidev/markavault/internal/adapter/database"
	"github.com/semmidev/markavault/internal/adapter/pipeline"
	"github.com/semmidev/markavault/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
)

// cancellingChecker runs the real integrity check and then cancels the
// caller's context, as an interrupt arriving right before the swap would.
type cancellingChecker struct {
	inner  domain.IntegrityChecker
	cancel context.CancelFunc
}

func (c *cancellingChecker) CheckIntegrity(ctx context.Context, path string) error {
	err := c.inner.CheckIntegrity(ctx, path)
	c.cancel()
	return err
}

func TestRestoreOnSQLite(t *testing.T) {
	Convey("Given a SQLite store with a snapshot taken before a later write", t, func() {
		bg := context.Background()
		dir := t.TempDir()
		live := filepath.Join(dir, "data", "marka.db")
		writeFile(live, nil)

		store := database.NewSQLite(live)
		So(store.Initialize(bg), ShouldBeNil)
		defer store.Close(bg)
		So(store.Set(bg, "greeting", "before"), ShouldBeNil)

		So(store.Close(bg), ShouldBeNil)
		sidecars := []string{"-wal", "-shm"}
		pipe := newTestPipeline()
		builder := NewSnapshotBuilder(store, pipe, "marka", sidecars, nopLogger)
		artifact, err := builder.Build(bg, filepath.Join(dir, "backups"), pipeline.Options{Compress: true, Encrypt: true}, domain.KindManual)
		So(err, ShouldBeNil)

		So(store.Initialize(bg), ShouldBeNil)
		So(store.Set(bg, "greeting", "after"), ShouldBeNil)

		ctx, cancel := context.WithCancel(bg)
		defer cancel()
		stagingRoot := filepath.Join(dir, "restore")

		Convey("Cancelling right before the swap still commits and reopens the store", func() {
			checker := &cancellingChecker{inner: database.NewIntegrityChecker(), cancel: cancel}
			restorer := NewRestorer(store, checker, pipe, stagingRoot, sidecars, nopLogger)

			result, err := restorer.Restore(ctx, artifact.LocalPath)
			So(err, ShouldBeNil)
			So(result.State, ShouldEqual, domain.RestoreCommitted)
			So(ctx.Err(), ShouldNotBeNil)

			value, ok, err := store.Get(bg, "greeting")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(value, ShouldEqual, "before")
			So(exists(live+shadowSuffix), ShouldBeFalse)
		})

		Convey("Cancelling during a failed install still rolls back and reopens the store", func() {
			restorer := NewRestorer(store, database.NewIntegrityChecker(), pipe, stagingRoot, sidecars, nopLogger)
			restorer.copyFile = func(src, dst string) error {
				if dst == live && strings.HasPrefix(src, stagingRoot) {
					cancel()
					return errors.New("disk full")
				}
				return installFile(src, dst)
			}

			result, err := restorer.Restore(ctx, artifact.LocalPath)
			So(errors.Is(err, domain.ErrSwapFailed), ShouldBeTrue)
			So(domain.OutcomeOf(err), ShouldEqual, domain.OutcomeRolledBack)
			So(result.State, ShouldEqual, domain.RestoreRolledBack)

			value, ok, err := store.Get(bg, "greeting")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(value, ShouldEqual, "after")
			So(exists(live+shadowSuffix), ShouldBeFalse)
		})
	})
}
