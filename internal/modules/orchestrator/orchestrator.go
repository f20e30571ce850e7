// Package orchestrator runs the optimizer once per risk tier against a single
// scored snapshot, so the three portfolios are built from identical universe
// state and stay mutually comparable.
package orchestrator

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/optimizer"
	"github.com/aristath/divvy/internal/modules/scoring"
	"github.com/aristath/divvy/internal/modules/tiers"
)

// Result is the outcome of one tier's build. Exactly one of Portfolio and Err
// is set.
type Result struct {
	Portfolio *domain.Portfolio
	Err       error
}

// Orchestrator fans one build request out across all configured tiers.
type Orchestrator struct {
	opt   *optimizer.Optimizer
	tiers map[string]tiers.TierConfig
	log   zerolog.Logger
}

// New creates an orchestrator over the given tier set.
func New(opt *optimizer.Optimizer, tierSet map[string]tiers.TierConfig, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		opt:   opt,
		tiers: tierSet,
		log:   log.With().Str("component", "orchestrator").Logger(),
	}
}

// BuildAllTiers builds one portfolio per configured tier concurrently, all
// against the same snapshot. The optimizer only reads snapshot state, so the
// runs are independent. A tier that fails (typically infeasible for the
// target) carries its error in the result without affecting the others.
func (o *Orchestrator) BuildAllTiers(snap *scoring.Snapshot, targetMonthlyIncome float64, mode domain.OptimizationMode) map[string]Result {
	results := make(map[string]Result, len(o.tiers))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, tier := range o.tiers {
		wg.Add(1)
		go func(name string, tier tiers.TierConfig) {
			defer wg.Done()
			p, err := o.opt.Build(snap, tier, targetMonthlyIncome, mode)
			mu.Lock()
			results[name] = Result{Portfolio: p, Err: err}
			mu.Unlock()
		}(name, tier)
	}
	wg.Wait()

	for name, res := range results {
		if res.Err != nil {
			o.log.Warn().Err(res.Err).Str("tier", name).Msg("tier build failed")
		}
	}
	return results
}
