package storage

import (
	"context"
	"fmt"

	appconfig "github.com/semmidev/markavault/internal/config"
	"github.com/semmidev/markavault/internal/domain"
)

// New builds the provider described by cfg.
func New(ctx context.Context, cfg appconfig.ProviderConfig) (domain.Provider, error) {
	switch cfg.Type {
	case appconfig.ProviderLocal:
		return NewLocal(cfg.Name, cfg.Path)
	case appconfig.ProviderS3:
		return NewS3(ctx, cfg)
	case appconfig.ProviderGCS:
		return NewGCS(ctx, cfg)
	case appconfig.ProviderGDrive:
		return NewGDrive(ctx, cfg)
	case appconfig.ProviderMinIO:
		return NewMinIO(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
