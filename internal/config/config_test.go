package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
data:
  path: /var/lib/marka/marka.db
backup:
  dir: /var/lib/marka/backups
  encryption_passphrase: hunter2
`

func TestLoad(t *testing.T) {
	Convey("Given a minimal config file", t, func() {
		path := writeConfig(t, minimalConfig)

		Convey("When loading", func() {
			cfg, err := Load(path)

			Convey("It should fill in the defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.App.Name, ShouldEqual, "marka")
				So(cfg.App.LogLevel, ShouldEqual, "info")
				So(cfg.Data.Sidecars, ShouldResemble, []string{"-wal", "-shm"})
				So(cfg.Backup.Compress, ShouldBeTrue)
				So(cfg.Backup.Encrypt, ShouldBeTrue)
				So(cfg.Backup.CompressionLevel, ShouldEqual, 6)
				So(cfg.Backup.ScryptWorkFactor, ShouldEqual, 18)
				So(cfg.Backup.MaxCount, ShouldEqual, 10)
				So(cfg.Backup.RetentionDays, ShouldEqual, 30)
				So(cfg.Backup.Schedule, ShouldEqual, "@every 24h")
				So(cfg.Sync.Interval, ShouldEqual, 6*time.Hour)
				So(cfg.Sync.Prefix, ShouldEqual, "sync/")
				So(cfg.Sync.BackupPrefix, ShouldEqual, "backups/")
				So(cfg.Sync.MaxRetries, ShouldEqual, 3)
				So(cfg.Sync.RetryDelay, ShouldEqual, 2*time.Second)
				So(cfg.Sync.CallTimeout, ShouldEqual, 5*time.Minute)
				So(cfg.License.Tier, ShouldEqual, "STANDARD")
			})
		})

		Convey("When the passphrase comes from the environment", func() {
			t.Setenv("MARKAVAULT_BACKUP_ENCRYPTION_PASSPHRASE", "from-env")
			cfg, err := Load(path)

			Convey("It should override the file", func() {
				So(err, ShouldBeNil)
				So(cfg.Backup.EncryptionPassphrase, ShouldEqual, "from-env")
			})
		})
	})

	Convey("Given a config with providers", t, func() {
		path := writeConfig(t, minimalConfig+`
sync:
  enabled: true
  interval: 30m
  providers:
    - name: nas
      type: local
      enabled: true
      path: /mnt/nas/marka
    - name: s3-main
      type: s3
      enabled: false
      region: eu-west-1
      bucket: marka
`)

		cfg, err := Load(path)

		Convey("It should load them and filter the enabled ones", func() {
			So(err, ShouldBeNil)
			So(cfg.Sync.Interval, ShouldEqual, 30*time.Minute)
			So(len(cfg.Sync.Providers), ShouldEqual, 2)

			enabled := cfg.GetEnabledProviders()
			So(len(enabled), ShouldEqual, 1)
			So(enabled[0].Name, ShouldEqual, "nas")
		})
	})

	Convey("When the file does not exist", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

		Convey("It should return a read error", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to read config")
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given a valid config", t, func() {
		cfg := &Config{
			Data:    DataConfig{Path: "/data/marka.db"},
			Backup:  BackupConfig{Dir: "/data/backups", Compress: true, CompressionLevel: 6},
			Sync:    SyncConfig{MaxRetries: 3},
			License: LicenseConfig{Tier: "ENTERPRISE"},
		}
		So(cfg.Validate(), ShouldBeNil)

		Convey("A missing data path is rejected", func() {
			cfg.Data.Path = ""
			So(cfg.Validate().Error(), ShouldContainSubstring, "data.path")
		})

		Convey("Encryption without a passphrase is rejected", func() {
			cfg.Backup.Encrypt = true
			So(cfg.Validate().Error(), ShouldContainSubstring, "encryption_passphrase")
		})

		Convey("Zero retries is rejected", func() {
			cfg.Sync.MaxRetries = 0
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("An unknown tier is rejected", func() {
			cfg.License.Tier = "GOLD"
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("Duplicate provider names are rejected", func() {
			p := ProviderConfig{Name: "nas", Type: ProviderLocal, Path: "/mnt"}
			cfg.Sync.Providers = []ProviderConfig{p, p}
			So(cfg.Validate().Error(), ShouldContainSubstring, "duplicate")
		})

		Convey("Provider fields are checked per type", func() {
			cfg.Sync.Providers = []ProviderConfig{{Name: "drive", Type: ProviderGDrive, Enabled: true, FolderID: "abc"}}
			So(cfg.Validate().Error(), ShouldContainSubstring, "credentials_file")

			cfg.Sync.Providers = []ProviderConfig{{Name: "x", Type: "ftp", Enabled: true}}
			So(cfg.Validate().Error(), ShouldContainSubstring, "unknown provider type")
		})

		Convey("Disabled providers may be left half configured", func() {
			cfg.Sync.Providers = []ProviderConfig{{Name: "drive", Type: ProviderGDrive}}
			So(cfg.Validate(), ShouldBeNil)
		})
	})
}
