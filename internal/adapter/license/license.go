package license

import (
	"fmt"
	"strings"

	"github.com/semmidev/markavault/internal/domain"
)

type Tier string

const (
	TierStandard   Tier = "STANDARD"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
	TierLifetime   Tier = "LIFETIME"
)

const (
	FeatureCloudSync  = domain.FeatureCloudSync
	FeatureAutoBackup = domain.FeatureAutoBackup
)

var tierFeatures = map[Tier][]string{
	TierStandard:   {FeatureAutoBackup},
	TierPro:        {FeatureAutoBackup},
	TierEnterprise: {FeatureAutoBackup, FeatureCloudSync},
	TierLifetime:   {FeatureAutoBackup, FeatureCloudSync},
}

// Checker answers feature questions for one license tier.
type Checker struct {
	tier     Tier
	features map[string]bool
}

func New(tier string) (*Checker, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(tier)))
	list, ok := tierFeatures[t]
	if !ok {
		return nil, fmt.Errorf("unknown license tier: %s", tier)
	}

	features := make(map[string]bool, len(list))
	for _, f := range list {
		features[f] = true
	}
	return &Checker{tier: t, features: features}, nil
}

func (c *Checker) Tier() Tier {
	return c.tier
}

func (c *Checker) IsFeatureEnabled(name string) bool {
	return c.features[name]
}
