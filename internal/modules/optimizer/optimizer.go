// Package optimizer selects securities and assigns weights to meet a target
// monthly dividend income under a tier's constraint set. Two modes are
// supported: greedy income-gap selection and risk-parity weighting over the
// greedy-selected set.
package optimizer

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/scoring"
	"github.com/aristath/divvy/internal/modules/tiers"
)

// Config holds optimizer tuning. All knobs are test-overridable; zero values
// fall back to defaults.
type Config struct {
	// Composite ranking weights
	SustainabilityWeight float64
	YieldWeight          float64
	RiskAdjustedWeight   float64

	// Income tolerance band: stop adding once projected income is within
	// this fraction of the target.
	IncomeTolerance float64
	// Minimum acceptable fraction of the target; below this the build
	// fails with InfeasiblePortfolioError.
	MinIncomeFraction float64

	// Risk-parity solver settings
	RiskParityTolerance float64
	RiskParityMaxIter   int
}

// DefaultConfig returns the standard optimizer settings.
func DefaultConfig() Config {
	return Config{
		SustainabilityWeight: 0.40,
		YieldWeight:          0.35,
		RiskAdjustedWeight:   0.25,
		IncomeTolerance:      0.05,
		MinIncomeFraction:    0.50,
		RiskParityTolerance:  1e-6,
		RiskParityMaxIter:    500,
	}
}

// Optimizer builds portfolios from a scored snapshot.
type Optimizer struct {
	cfg Config
	log zerolog.Logger
}

// New creates an optimizer, filling zero config fields with defaults.
func New(cfg Config, log zerolog.Logger) *Optimizer {
	def := DefaultConfig()
	if cfg.SustainabilityWeight == 0 && cfg.YieldWeight == 0 && cfg.RiskAdjustedWeight == 0 {
		cfg.SustainabilityWeight = def.SustainabilityWeight
		cfg.YieldWeight = def.YieldWeight
		cfg.RiskAdjustedWeight = def.RiskAdjustedWeight
	}
	if cfg.IncomeTolerance == 0 {
		cfg.IncomeTolerance = def.IncomeTolerance
	}
	if cfg.MinIncomeFraction == 0 {
		cfg.MinIncomeFraction = def.MinIncomeFraction
	}
	if cfg.RiskParityTolerance == 0 {
		cfg.RiskParityTolerance = def.RiskParityTolerance
	}
	if cfg.RiskParityMaxIter == 0 {
		cfg.RiskParityMaxIter = def.RiskParityMaxIter
	}
	return &Optimizer{
		cfg: cfg,
		log: log.With().Str("component", "optimizer").Logger(),
	}
}

// candidate is one eligible security with its ranking inputs.
type candidate struct {
	sec       domain.Security
	score     domain.SustainabilityScore
	profile   *domain.RiskProfile
	composite float64
}

// Build constructs a portfolio for the tier and target income using the
// given mode.
func (o *Optimizer) Build(snap *scoring.Snapshot, tier tiers.TierConfig, targetMonthlyIncome float64, mode domain.OptimizationMode) (*domain.Portfolio, error) {
	if err := tiers.Validate(tier); err != nil {
		return nil, err
	}
	if targetMonthlyIncome <= 0 {
		return nil, &domain.ConfigurationError{
			Field:  "target_monthly_income",
			Reason: "must be positive",
		}
	}
	if snap == nil {
		return nil, fmt.Errorf("no snapshot available")
	}

	candidates := o.eligible(snap, tier)
	if len(candidates) == 0 {
		return nil, &domain.InfeasiblePortfolioError{
			Tier:          tier.Name,
			TargetMonthly: targetMonthlyIncome,
			MinFraction:   o.cfg.MinIncomeFraction,
		}
	}

	selection, err := o.selectGreedy(snap, tier, candidates, targetMonthlyIncome)
	if err != nil {
		return nil, err
	}

	var warnings []string
	switch mode {
	case domain.ModeGreedy:
		// Weights come straight from the value-space selection.
	case domain.ModeRiskParity:
		warnings = o.applyRiskParity(snap, selection)
	default:
		return nil, &domain.ConfigurationError{
			Field:  "mode",
			Reason: fmt.Sprintf("unknown optimization mode %q", mode),
		}
	}

	portfolio := o.assemble(selection, tier, targetMonthlyIncome, mode, snap.AsOf, warnings)

	if portfolio.ProjectedMonthlyIncome < (1-o.cfg.IncomeTolerance)*targetMonthlyIncome {
		portfolio.Warnings = append(portfolio.Warnings,
			fmt.Sprintf("projected income %.2f/month is below the %.2f target",
				portfolio.ProjectedMonthlyIncome, targetMonthlyIncome))
	}

	if err := Validate(portfolio, tier, snap); err != nil {
		return nil, err
	}

	o.log.Info().
		Str("tier", tier.Name).
		Str("mode", string(mode)).
		Int("holdings", len(portfolio.Holdings)).
		Float64("projected_monthly", portfolio.ProjectedMonthlyIncome).
		Msg("portfolio built")

	return portfolio, nil
}

// eligible filters the snapshot down to candidates passing the tier's
// sustainability floor, ranked by composite score descending.
func (o *Optimizer) eligible(snap *scoring.Snapshot, tier tiers.TierConfig) []candidate {
	var out []candidate

	// Normalization bounds over the eligible set
	maxYield := 0.0
	minSharpe, maxSharpe := 0.0, 0.0
	sharpeSeen := false

	for _, sec := range snap.Securities {
		score, ok := snap.Scores[sec.Symbol]
		if !ok {
			continue
		}
		if score.Rating == domain.RatingInsufficientData && tier.MinSustainabilityScore > 0 {
			continue
		}
		if score.Score < tier.MinSustainabilityScore {
			continue
		}
		profile, ok := snap.RiskProfiles[sec.Symbol]
		if !ok || sec.DividendYield <= 0 || sec.Price <= 0 {
			continue
		}
		out = append(out, candidate{sec: sec, score: score, profile: profile})

		if sec.DividendYield > maxYield {
			maxYield = sec.DividendYield
		}
		if profile.SharpeRatio != nil {
			s := *profile.SharpeRatio
			if !sharpeSeen || s < minSharpe {
				minSharpe = s
			}
			if !sharpeSeen || s > maxSharpe {
				maxSharpe = s
			}
			sharpeSeen = true
		}
	}

	for i := range out {
		c := &out[i]
		normYield := 0.0
		if maxYield > 0 {
			normYield = c.sec.DividendYield / maxYield
		}
		normSharpe := 0.0
		if c.profile.SharpeRatio != nil && maxSharpe > minSharpe {
			normSharpe = (*c.profile.SharpeRatio - minSharpe) / (maxSharpe - minSharpe)
		}
		c.composite = o.cfg.SustainabilityWeight*(c.score.Score/100) +
			o.cfg.YieldWeight*normYield +
			o.cfg.RiskAdjustedWeight*normSharpe
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].composite != out[j].composite {
			return out[i].composite > out[j].composite
		}
		return out[i].sec.Symbol < out[j].sec.Symbol
	})
	return out
}

// assemble converts a finished selection into a Portfolio.
func (o *Optimizer) assemble(sel *selection, tier tiers.TierConfig, target float64, mode domain.OptimizationMode, asOf time.Time, warnings []string) *domain.Portfolio {
	totalValue := sel.totalValue()

	portfolio := &domain.Portfolio{
		ID:                  uuid.New().String(),
		Tier:                tier.Name,
		Mode:                mode,
		TotalValue:          totalValue,
		TargetMonthlyIncome: target,
		Warnings:            warnings,
		BuiltAt:             asOf,
	}

	income := 0.0
	weightedYield := 0.0
	for _, pos := range sel.positions {
		weight := 0.0
		if totalValue > 0 {
			weight = pos.value / totalValue
		}
		annualDivs := pos.value * pos.cand.sec.DividendYield
		income += annualDivs / 12
		weightedYield += weight * pos.cand.sec.DividendYield

		shares := 0.0
		if pos.cand.sec.Price > 0 {
			shares = pos.value / pos.cand.sec.Price
		}

		portfolio.Holdings = append(portfolio.Holdings, domain.Holding{
			Symbol:              pos.cand.sec.Symbol,
			Weight:              weight,
			Value:               pos.value,
			Shares:              shares,
			ProjectedAnnualDivs: annualDivs,
			Sector:              pos.cand.sec.Sector,
			SustainabilityScore: pos.cand.score.Score,
			DividendYield:       pos.cand.sec.DividendYield,
		})
	}

	portfolio.ProjectedMonthlyIncome = income
	portfolio.PortfolioYield = weightedYield
	return portfolio
}
