package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/semmidev/markavault/internal/config"
	"github.com/semmidev/markavault/internal/domain"
	"github.com/semmidev/markavault/internal/infrastructure/logger"
	"github.com/semmidev/markavault/internal/usecase"
	. "github.com/smartystreets/goconvey/convey"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		App:  config.AppConfig{Name: "marka", LogLevel: "error"},
		Data: config.DataConfig{Path: filepath.Join(dir, "data", "marka.db"), Sidecars: []string{"-wal", "-shm"}},
		Backup: config.BackupConfig{
			Dir:                  filepath.Join(dir, "backups"),
			Compress:             true,
			CompressionLevel:     6,
			Encrypt:              true,
			EncryptionPassphrase: "correct horse battery staple",
			ScryptWorkFactor:     10,
			MaxCount:             5,
			RetentionDays:        30,
			Schedule:             "@every 24h",
		},
		Sync: config.SyncConfig{
			Interval:     6 * time.Hour,
			Prefix:       "sync/",
			BackupPrefix: "backups/",
			MaxRetries:   2,
			CallTimeout:  time.Minute,
			Providers: []config.ProviderConfig{
				{Name: "nas", Type: config.ProviderLocal, Enabled: true, Path: filepath.Join(dir, "nas")},
				{Name: "s3", Type: config.ProviderS3, Enabled: false},
			},
		},
		License: config.LicenseConfig{Tier: "ENTERPRISE"},
	}
}

func TestAppEndToEnd(t *testing.T) {
	Convey("Given an application wired against a real SQLite file", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		a, err := NewWithLogger(ctx, testConfig(dir), logger.Nop())
		So(err, ShouldBeNil)
		Reset(a.Shutdown)

		So(a.ProviderNames(), ShouldResemble, []string{"nas"})
		So(a.store.Set(ctx, "greeting", "before"), ShouldBeNil)
		orch := a.Orchestrator()

		Convey("A backup restores the data it captured", func() {
			artifact, err := orch.CreateBackup(ctx, usecase.DefaultBackupOptions())
			So(err, ShouldBeNil)

			So(a.store.Set(ctx, "greeting", "after"), ShouldBeNil)

			result, err := orch.RestoreBackup(ctx, artifact.LocalPath)
			So(err, ShouldBeNil)
			So(result.State, ShouldEqual, domain.RestoreCommitted)

			value, _, err := a.store.Get(ctx, "greeting")
			So(err, ShouldBeNil)
			So(value, ShouldEqual, "before")
		})

		Convey("A push and pull round-trip through the local provider", func() {
			report, err := orch.SyncToCloud(ctx)
			So(err, ShouldBeNil)
			So(report.Succeeded(), ShouldResemble, []string{"nas"})

			So(a.store.Set(ctx, "greeting", "after"), ShouldBeNil)

			_, err = orch.SyncFromCloud(ctx)
			So(err, ShouldBeNil)
			value, _, err := a.store.Get(ctx, "greeting")
			So(err, ShouldBeNil)
			So(value, ShouldEqual, "before")

			history, err := a.History(ctx, 10)
			So(err, ShouldBeNil)
			So(len(history), ShouldBeGreaterThanOrEqualTo, 1)
			So(orch.SyncStatus().Status, ShouldEqual, domain.SyncIdle)
		})

		Convey("A garbage artifact is rejected and the data file keeps working", func() {
			path := filepath.Join(dir, "garbage.marka")
			So(os.WriteFile(path, bytes.Repeat([]byte("x"), 1024), 0o600), ShouldBeNil)

			_, err := orch.RestoreBackup(ctx, path)
			So(errors.Is(err, domain.ErrInvalidArtifact), ShouldBeTrue)

			value, _, err := a.store.Get(ctx, "greeting")
			So(err, ShouldBeNil)
			So(value, ShouldEqual, "before")
		})
	})

	Convey("An unknown license tier fails construction", t, func() {
		cfg := testConfig(t.TempDir())
		cfg.License.Tier = "GOLD"

		_, err := NewWithLogger(context.Background(), cfg, logger.Nop())
		So(err, ShouldNotBeNil)
	})
}
