package optimizer

import (
	"math"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/scoring"
	"github.com/aristath/divvy/internal/modules/tiers"
)

// capEnforceMaxIter bounds the iterative cap-projection loop. The projection
// contracts linearly, so the cap is generous relative to capEps.
const (
	capEnforceMaxIter = 500
	capEps            = 1e-7
)

// position is one selected security with its provisional value.
type position struct {
	cand  candidate
	value float64
}

// selection is the working state of a build: the chosen positions in value
// space, plus the pool of remaining eligible candidates.
type selection struct {
	positions []position
	remaining []candidate
	target    float64
}

func (s *selection) totalValue() float64 {
	total := 0.0
	for _, p := range s.positions {
		total += p.value
	}
	return total
}

func (s *selection) monthlyIncome() float64 {
	income := 0.0
	for _, p := range s.positions {
		income += p.value * p.cand.sec.DividendYield / 12
	}
	return income
}

func (s *selection) sectorValues() map[string]float64 {
	out := make(map[string]float64)
	for _, p := range s.positions {
		out[p.cand.sec.Sector] += p.value
	}
	return out
}

// selectGreedy runs the greedy income-gap selection. Sizing happens in value
// space: the reference portfolio value is derived from the target income and
// a composite-weighted reference yield, and the tier's weight caps become
// value caps against that reference. Feasibility against the reference
// sizing decides infeasibility; once the holding set is fixed, weights are
// projected under the caps and the total is rescaled so projected income
// lands exactly on the target.
func (o *Optimizer) selectGreedy(snap *scoring.Snapshot, tier tiers.TierConfig, candidates []candidate, target float64) (*selection, error) {
	refYield := referenceYield(candidates)
	if refYield <= 0 {
		return nil, o.infeasible(tier, target, 0)
	}

	// Reference value the portfolio would need at the reference yield
	refValue := 12 * target / refYield
	positionCapV := tier.MaxPositionWeight * refValue
	sectorCapV := tier.MaxSectorWeight * refValue

	sel := &selection{remaining: candidates, target: target}

	// Phase 1: close the income gap
	for len(sel.positions) < tier.MaxHoldings {
		gap := target - sel.monthlyIncome()
		if gap <= o.cfg.IncomeTolerance*target {
			break
		}

		cand, ok := o.takeNextEligible(snap, tier, sel, sectorCapV)
		if !ok {
			break
		}

		sectorRoom := sectorCapV - sel.sectorValues()[cand.sec.Sector]
		value := math.Min(12*gap/cand.sec.DividendYield, positionCapV)
		value = math.Min(value, sectorRoom)
		if value <= 0 {
			continue
		}
		sel.positions = append(sel.positions, position{cand: cand, value: value})
	}

	if len(sel.positions) == 0 {
		return nil, o.infeasible(tier, target, 0)
	}

	achieved := sel.monthlyIncome()
	if achieved < o.cfg.MinIncomeFraction*target {
		return nil, o.infeasible(tier, target, achieved)
	}

	// Phase 2: admit extra holdings while weight caps are breached against
	// the actual (smaller-than-reference) total
	for len(sel.positions) < tier.MaxHoldings && o.capsViolated(tier, sel) {
		cand, ok := o.takeNextEligible(snap, tier, sel, sectorCapV)
		if !ok {
			break
		}

		sectorRoom := sectorCapV - sel.sectorValues()[cand.sec.Sector]
		value := math.Min(positionCapV, sectorRoom)
		if value <= 0 {
			continue
		}
		sel.positions = append(sel.positions, position{cand: cand, value: value})
	}

	// Phase 3: project remaining violations under the caps by shrinking
	// oversized positions and sectors
	o.enforceCaps(tier, sel)
	if o.capsViolated(tier, sel) {
		return nil, o.infeasible(tier, target, sel.monthlyIncome())
	}

	// Weights are now final; rescale the total so income hits the target
	// exactly. Uniform scaling preserves weights, so caps stay satisfied.
	if income := sel.monthlyIncome(); income > 0 {
		scale := target / income
		for i := range sel.positions {
			sel.positions[i].value *= scale
		}
	}

	return sel, nil
}

// takeNextEligible removes and returns the best-ranked remaining candidate
// passing the correlation and sector filters.
func (o *Optimizer) takeNextEligible(snap *scoring.Snapshot, tier tiers.TierConfig, sel *selection, sectorCapV float64) (candidate, bool) {
	sectors := sel.sectorValues()
	for i, cand := range sel.remaining {
		if sectorCapV-sectors[cand.sec.Sector] <= 0 {
			continue
		}
		if o.tooCorrelated(snap, sel, cand, tier.MaxPairwiseCorrelation) {
			continue
		}
		sel.remaining = append(sel.remaining[:i], sel.remaining[i+1:]...)
		return cand, true
	}
	return candidate{}, false
}

func (o *Optimizer) tooCorrelated(snap *scoring.Snapshot, sel *selection, cand candidate, maxCorr float64) bool {
	for _, pos := range sel.positions {
		corr := snap.Correlations.Get(cand.sec.Symbol, pos.cand.sec.Symbol)
		if math.Abs(corr) > maxCorr {
			return true
		}
	}
	return false
}

// capsViolated reports whether any position or sector weight exceeds its cap
// relative to the current total value.
func (o *Optimizer) capsViolated(tier tiers.TierConfig, sel *selection) bool {
	total := sel.totalValue()
	if total <= 0 {
		return false
	}
	for _, pos := range sel.positions {
		if pos.value/total > tier.MaxPositionWeight+capEps {
			return true
		}
	}
	for _, alloc := range sel.sectorValues() {
		if alloc/total > tier.MaxSectorWeight+capEps {
			return true
		}
	}
	return false
}

// enforceCaps iteratively clamps positions above the position cap and scales
// down sectors above the sector cap, recomputing weights each pass. With
// max_holdings * max_position_weight >= 1 (guaranteed by tier validation)
// the projection settles within a few iterations.
func (o *Optimizer) enforceCaps(tier tiers.TierConfig, sel *selection) {
	for iter := 0; iter < capEnforceMaxIter; iter++ {
		total := sel.totalValue()
		if total <= 0 {
			return
		}

		changed := false
		positionCap := tier.MaxPositionWeight * total
		for i := range sel.positions {
			if sel.positions[i].value > positionCap*(1+capEps) {
				sel.positions[i].value = positionCap
				changed = true
			}
		}

		total = sel.totalValue()
		sectorCap := tier.MaxSectorWeight * total
		for sector, alloc := range sel.sectorValues() {
			if alloc > sectorCap*(1+capEps) {
				scale := sectorCap / alloc
				for i := range sel.positions {
					if sel.positions[i].cand.sec.Sector == sector {
						sel.positions[i].value *= scale
					}
				}
				changed = true
			}
		}

		if !changed {
			return
		}
	}
}

// referenceYield is the composite-weighted mean yield of the eligible set,
// used to size the reference portfolio value.
func referenceYield(candidates []candidate) float64 {
	weightSum := 0.0
	yieldSum := 0.0
	for _, c := range candidates {
		w := c.composite
		if w <= 0 {
			w = 1e-9
		}
		weightSum += w
		yieldSum += w * c.sec.DividendYield
	}
	if weightSum == 0 {
		return 0
	}
	return yieldSum / weightSum
}

func (o *Optimizer) infeasible(tier tiers.TierConfig, target, achieved float64) error {
	return &domain.InfeasiblePortfolioError{
		Tier:            tier.Name,
		TargetMonthly:   target,
		AchievedMonthly: achieved,
		MinFraction:     o.cfg.MinIncomeFraction,
	}
}
