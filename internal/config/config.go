package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MARKAVAULT"

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Data    DataConfig    `mapstructure:"data"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Sync    SyncConfig    `mapstructure:"sync"`
	License LicenseConfig `mapstructure:"license"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type DataConfig struct {
	// Path is the live SQLite file.
	Path     string   `mapstructure:"path"`
	Sidecars []string `mapstructure:"sidecars"`
}

type BackupConfig struct {
	Dir                  string `mapstructure:"dir"`
	Compress             bool   `mapstructure:"compress"`
	CompressionLevel     int    `mapstructure:"compression_level"`
	Encrypt              bool   `mapstructure:"encrypt"`
	EncryptionPassphrase string `mapstructure:"encryption_passphrase"`
	ScryptWorkFactor     int    `mapstructure:"scrypt_work_factor"`
	MaxCount             int    `mapstructure:"max_count"`
	RetentionDays        int    `mapstructure:"retention_days"`
	Auto                 bool   `mapstructure:"auto"`
	Schedule             string `mapstructure:"schedule"`
}

type SyncConfig struct {
	Enabled      bool             `mapstructure:"enabled"`
	Interval     time.Duration    `mapstructure:"interval"`
	Prefix       string           `mapstructure:"prefix"`
	BackupPrefix string           `mapstructure:"backup_prefix"`
	MaxRetries   int              `mapstructure:"max_retries"`
	RetryDelay   time.Duration    `mapstructure:"retry_delay"`
	CallTimeout  time.Duration    `mapstructure:"call_timeout"`
	Providers    []ProviderConfig `mapstructure:"providers"`
}

type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`

	// Local directory
	Path string `mapstructure:"path"`

	// S3 and MinIO
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Endpoint  string `mapstructure:"endpoint"`
	UseSSL    bool   `mapstructure:"use_ssl"`

	// Google Cloud Storage
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`

	// Google Drive
	FolderID         string `mapstructure:"folder_id"`
	ClientSecretFile string `mapstructure:"client_secret_file"`
	RefreshToken     string `mapstructure:"refresh_token"`
}

type LicenseConfig struct {
	Tier string `mapstructure:"tier"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

const (
	ProviderLocal  = "local"
	ProviderS3     = "s3"
	ProviderGCS    = "gcs"
	ProviderGDrive = "gdrive"
	ProviderMinIO  = "minio"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marka")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_file", "")
	v.SetDefault("app.metrics_addr", "")

	v.SetDefault("data.sidecars", []string{"-wal", "-shm"})

	v.SetDefault("backup.compress", true)
	v.SetDefault("backup.compression_level", 6)
	v.SetDefault("backup.encrypt", true)
	v.SetDefault("backup.encryption_passphrase", "")
	v.SetDefault("backup.scrypt_work_factor", 18)
	v.SetDefault("backup.max_count", 10)
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("backup.auto", false)
	v.SetDefault("backup.schedule", "@every 24h")

	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.interval", "6h")
	v.SetDefault("sync.prefix", "sync/")
	v.SetDefault("sync.backup_prefix", "backups/")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retry_delay", "2s")
	v.SetDefault("sync.call_timeout", "5m")

	v.SetDefault("license.tier", "STANDARD")

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", "")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Data.Path == "" {
		return fmt.Errorf("data.path is required")
	}
	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir is required")
	}
	if c.Backup.Encrypt && c.Backup.EncryptionPassphrase == "" {
		return fmt.Errorf("backup.encryption_passphrase is required when backup.encrypt is on")
	}
	if c.Backup.ScryptWorkFactor > 22 {
		return fmt.Errorf("backup.scrypt_work_factor must be at most 22")
	}
	if c.Backup.CompressionLevel < -2 || c.Backup.CompressionLevel > 9 {
		return fmt.Errorf("backup.compression_level must be between -2 and 9")
	}
	if c.Backup.MaxCount < 0 || c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.max_count and backup.retention_days cannot be negative")
	}
	if c.Backup.Auto && c.Backup.Schedule == "" {
		return fmt.Errorf("backup.schedule is required when backup.auto is on")
	}

	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1")
	}
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive when sync is enabled")
	}

	seen := make(map[string]bool)
	for i, p := range c.Sync.Providers {
		if p.Name == "" {
			return fmt.Errorf("sync.providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("sync.providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if !p.Enabled {
			continue
		}
		if err := p.validate(); err != nil {
			return fmt.Errorf("sync.providers[%d] (%s): %w", i, p.Name, err)
		}
	}

	switch strings.ToUpper(c.License.Tier) {
	case "STANDARD", "PRO", "ENTERPRISE", "LIFETIME":
	default:
		return fmt.Errorf("license.tier %q is not a known tier", c.License.Tier)
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("notify.telegram needs bot_token and chat_id when enabled")
	}

	return nil
}

func (p ProviderConfig) validate() error {
	switch p.Type {
	case ProviderLocal:
		if p.Path == "" {
			return fmt.Errorf("path is required")
		}
	case ProviderS3:
		if p.Bucket == "" || p.Region == "" {
			return fmt.Errorf("bucket and region are required")
		}
	case ProviderMinIO:
		if p.Bucket == "" || p.Endpoint == "" {
			return fmt.Errorf("bucket and endpoint are required")
		}
	case ProviderGCS:
		if p.Bucket == "" {
			return fmt.Errorf("bucket is required")
		}
	case ProviderGDrive:
		if p.FolderID == "" {
			return fmt.Errorf("folder_id is required")
		}
		if p.CredentialsFile == "" && (p.ClientSecretFile == "" || p.RefreshToken == "") {
			return fmt.Errorf("credentials_file or client_secret_file with refresh_token is required")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown provider type %q", p.Type)
	}
	return nil
}

func (c *Config) GetEnabledProviders() []ProviderConfig {
	var enabled []ProviderConfig
	for _, p := range c.Sync.Providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}
