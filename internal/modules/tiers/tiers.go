// Package tiers defines the named risk tiers (defensive, balanced,
// aggressive) and loads overrides from a YAML file with strict validation.
package tiers

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/divvy/internal/domain"
)

// TierConfig holds the constraint set for one risk tier.
type TierConfig struct {
	Name                   string                    `yaml:"name"`
	MaxPositionWeight      float64                   `yaml:"max_position_weight"`
	MaxSectorWeight        float64                   `yaml:"max_sector_weight"`
	MaxPairwiseCorrelation float64                   `yaml:"max_pairwise_correlation"`
	MinSustainabilityScore float64                   `yaml:"min_sustainability_score"`
	RebalanceFrequency     domain.RebalanceFrequency `yaml:"rebalance_frequency"`
	MaxHoldings            int                       `yaml:"max_holdings"`
}

// Tier names.
const (
	Defensive  = "defensive"
	Balanced   = "balanced"
	Aggressive = "aggressive"
)

// Defaults returns the built-in tier definitions, keyed by name.
func Defaults() map[string]TierConfig {
	return map[string]TierConfig{
		Defensive: {
			Name:                   Defensive,
			MaxPositionWeight:      0.20,
			MaxSectorWeight:        0.40,
			MaxPairwiseCorrelation: 0.70,
			MinSustainabilityScore: 60,
			RebalanceFrequency:     domain.RebalanceQuarterly,
			MaxHoldings:            5,
		},
		Balanced: {
			Name:                   Balanced,
			MaxPositionWeight:      0.25,
			MaxSectorWeight:        0.40,
			MaxPairwiseCorrelation: 0.80,
			MinSustainabilityScore: 40,
			RebalanceFrequency:     domain.RebalanceQuarterly,
			MaxHoldings:            8,
		},
		Aggressive: {
			Name:                   Aggressive,
			MaxPositionWeight:      0.35,
			MaxSectorWeight:        0.50,
			MaxPairwiseCorrelation: 0.90,
			MinSustainabilityScore: 20,
			RebalanceFrequency:     domain.RebalanceAnnual,
			MaxHoldings:            12,
		},
	}
}

// fileFormat is the YAML document shape for tier overrides.
type fileFormat struct {
	Tiers []TierConfig `yaml:"tiers"`
}

// Load returns tier definitions: defaults when path is empty, otherwise the
// YAML file's tiers. Unknown fields and invalid values are rejected with
// ConfigurationError.
func Load(path string) (map[string]TierConfig, error) {
	if path == "" {
		return Defaults(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigurationError{
			Field:  "tiers_file",
			Reason: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}

	var doc fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &domain.ConfigurationError{
			Field:  "tiers_file",
			Reason: fmt.Sprintf("parse error: %v", err),
		}
	}

	if len(doc.Tiers) == 0 {
		return nil, &domain.ConfigurationError{
			Field:  "tiers_file",
			Reason: "no tiers defined",
		}
	}

	out := make(map[string]TierConfig, len(doc.Tiers))
	for _, tier := range doc.Tiers {
		if err := Validate(tier); err != nil {
			return nil, err
		}
		if _, dup := out[tier.Name]; dup {
			return nil, &domain.ConfigurationError{
				Field:  "tiers_file",
				Reason: fmt.Sprintf("duplicate tier %q", tier.Name),
			}
		}
		out[tier.Name] = tier
	}
	return out, nil
}

// Validate checks one tier's fields for sanity.
func Validate(t TierConfig) error {
	fail := func(field, reason string) error {
		return &domain.ConfigurationError{
			Field:  fmt.Sprintf("tier %q: %s", t.Name, field),
			Reason: reason,
		}
	}

	if t.Name == "" {
		return &domain.ConfigurationError{Field: "tier", Reason: "name is required"}
	}
	if t.MaxPositionWeight <= 0 || t.MaxPositionWeight > 1 {
		return fail("max_position_weight", "must be in (0, 1]")
	}
	if t.MaxSectorWeight <= 0 || t.MaxSectorWeight > 1 {
		return fail("max_sector_weight", "must be in (0, 1]")
	}
	if t.MaxSectorWeight < t.MaxPositionWeight {
		return fail("max_sector_weight", "must be >= max_position_weight")
	}
	if t.MaxPairwiseCorrelation <= 0 || t.MaxPairwiseCorrelation > 1 {
		return fail("max_pairwise_correlation", "must be in (0, 1]")
	}
	if t.MinSustainabilityScore < 0 || t.MinSustainabilityScore > 100 {
		return fail("min_sustainability_score", "must be in [0, 100]")
	}
	if t.MaxHoldings <= 0 {
		return fail("max_holdings", "must be positive")
	}
	// A portfolio must be able to reach full weight under the position cap
	if float64(t.MaxHoldings)*t.MaxPositionWeight < 1 {
		return fail("max_holdings", "max_holdings * max_position_weight must be >= 1")
	}
	switch t.RebalanceFrequency {
	case domain.RebalanceNone, domain.RebalanceMonthly, domain.RebalanceQuarterly, domain.RebalanceAnnual:
	default:
		return fail("rebalance_frequency", "must be none, monthly, quarterly or annual")
	}
	return nil
}
