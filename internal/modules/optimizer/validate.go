package optimizer

import (
	"fmt"
	"math"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/scoring"
	"github.com/aristath/divvy/internal/modules/tiers"
)

// weightSumTolerance is the allowed deviation of the weight sum from 1.
const weightSumTolerance = 1e-6

// Validate re-checks every hard constraint on a finished portfolio. A
// violation here is a defect in the construction path, so it aborts the
// build rather than clamping the offending weight.
func Validate(p *domain.Portfolio, tier tiers.TierConfig, snap *scoring.Snapshot) error {
	if len(p.Holdings) == 0 {
		return &domain.ConstraintViolationError{
			Tier:       tier.Name,
			Constraint: "holdings",
			Detail:     "portfolio is empty",
		}
	}
	if len(p.Holdings) > tier.MaxHoldings {
		return &domain.ConstraintViolationError{
			Tier:       tier.Name,
			Constraint: "max_holdings",
			Detail:     fmt.Sprintf("%d holdings, cap %d", len(p.Holdings), tier.MaxHoldings),
		}
	}

	weightSum := 0.0
	sectorWeights := make(map[string]float64)
	for _, h := range p.Holdings {
		weightSum += h.Weight
		sectorWeights[h.Sector] += h.Weight

		if h.Weight > tier.MaxPositionWeight+weightSumTolerance {
			return &domain.ConstraintViolationError{
				Tier:       tier.Name,
				Constraint: "max_position_weight",
				Detail:     fmt.Sprintf("%s at %.4f, cap %.4f", h.Symbol, h.Weight, tier.MaxPositionWeight),
			}
		}
		if h.SustainabilityScore < tier.MinSustainabilityScore {
			return &domain.ConstraintViolationError{
				Tier:       tier.Name,
				Constraint: "min_sustainability_score",
				Detail:     fmt.Sprintf("%s scored %.1f, floor %.1f", h.Symbol, h.SustainabilityScore, tier.MinSustainabilityScore),
			}
		}
	}

	if math.Abs(weightSum-1) > weightSumTolerance {
		return &domain.ConstraintViolationError{
			Tier:       tier.Name,
			Constraint: "weight_sum",
			Detail:     fmt.Sprintf("weights sum to %.8f", weightSum),
		}
	}

	for sector, weight := range sectorWeights {
		if weight > tier.MaxSectorWeight+weightSumTolerance {
			return &domain.ConstraintViolationError{
				Tier:       tier.Name,
				Constraint: "max_sector_weight",
				Detail:     fmt.Sprintf("sector %q at %.4f, cap %.4f", sector, weight, tier.MaxSectorWeight),
			}
		}
	}

	for i := 0; i < len(p.Holdings); i++ {
		for j := i + 1; j < len(p.Holdings); j++ {
			corr := snap.Correlations.Get(p.Holdings[i].Symbol, p.Holdings[j].Symbol)
			if math.Abs(corr) > tier.MaxPairwiseCorrelation {
				return &domain.ConstraintViolationError{
					Tier:       tier.Name,
					Constraint: "max_pairwise_correlation",
					Detail: fmt.Sprintf("%s/%s correlate at %.4f, cap %.4f",
						p.Holdings[i].Symbol, p.Holdings[j].Symbol, corr, tier.MaxPairwiseCorrelation),
				}
			}
		}
	}

	return nil
}
