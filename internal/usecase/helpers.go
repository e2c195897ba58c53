package usecase

import (
	"context"
	"path"
	"strconv"
	"strings"
)

// Setting keys read from the settings store.
const (
	SettingAutoBackup       = "auto_backup"
	SettingCloudSyncEnabled = "cloud_sync_enabled"
	SettingMaxBackups       = "max_backups"
	SettingRetentionDays    = "retention_days"
)

func remoteKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

func baseName(key string) string {
	return path.Base(key)
}

// isPlainArtifactName reports whether name can be used as a file name inside
// a local directory without leaving it.
func isPlainArtifactName(name string) bool {
	return isArtifactFile(name) && name != ArtifactExt && !strings.ContainsAny(name, `/\`)
}

func (o *Orchestrator) settingBool(ctx context.Context, key string, fallback bool) bool {
	raw, ok := o.setting(ctx, key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		o.logger.Warnf("setting %s=%q is not a boolean, using %t", key, raw, fallback)
		return fallback
	}
	return v
}

func (o *Orchestrator) settingInt(ctx context.Context, key string, fallback int) int {
	raw, ok := o.setting(ctx, key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		o.logger.Warnf("setting %s=%q is not a count, using %d", key, raw, fallback)
		return fallback
	}
	return v
}

func (o *Orchestrator) setting(ctx context.Context, key string) (string, bool) {
	if o.settings == nil {
		return "", false
	}
	raw, ok, err := o.settings.Get(ctx, key)
	if err != nil {
		o.logger.Warnf("failed to read setting %s: %v", key, err)
		return "", false
	}
	return strings.TrimSpace(raw), ok
}

func (o *Orchestrator) retentionPolicy(ctx context.Context) RetentionPolicy {
	return RetentionPolicy{
		MaxCount:      o.settingInt(ctx, SettingMaxBackups, o.cfg.Retention.MaxCount),
		RetentionDays: o.settingInt(ctx, SettingRetentionDays, o.cfg.Retention.RetentionDays),
	}
}
