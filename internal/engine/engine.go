// Package engine is the facade the outer layers call: it binds the snapshot
// store, optimizer, orchestrator and backtest engine into the five logical
// operations of the service.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/backtest"
	"github.com/aristath/divvy/internal/modules/optimizer"
	"github.com/aristath/divvy/internal/modules/orchestrator"
	"github.com/aristath/divvy/internal/modules/risk"
	"github.com/aristath/divvy/internal/modules/scoring"
	"github.com/aristath/divvy/internal/modules/sustainability"
	"github.com/aristath/divvy/internal/modules/tiers"
)

// Config holds engine-level settings.
type Config struct {
	LookbackYears   int    // History window for on-demand analysis
	BenchmarkSymbol string // For beta in on-demand risk metrics; empty disables
}

// Engine wires the modules together behind the contract operations.
type Engine struct {
	cfg        Config
	store      *scoring.Store
	opt        *optimizer.Optimizer
	orch       *orchestrator.Orchestrator
	backtester *backtest.Engine
	tiers      map[string]tiers.TierConfig
	history    domain.HistoryProvider
	universe   domain.UniverseRepository
	sustain    *sustainability.Analyzer
	riskEngine *risk.Analyzer
	log        zerolog.Logger
}

// New creates the engine facade.
func New(
	cfg Config,
	store *scoring.Store,
	opt *optimizer.Optimizer,
	orch *orchestrator.Orchestrator,
	backtester *backtest.Engine,
	tierSet map[string]tiers.TierConfig,
	history domain.HistoryProvider,
	universe domain.UniverseRepository,
	sustain *sustainability.Analyzer,
	riskEngine *risk.Analyzer,
	log zerolog.Logger,
) *Engine {
	if cfg.LookbackYears <= 0 {
		cfg.LookbackYears = 3
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		opt:        opt,
		orch:       orch,
		backtester: backtester,
		tiers:      tierSet,
		history:    history,
		universe:   universe,
		sustain:    sustain,
		riskEngine: riskEngine,
		log:        log.With().Str("component", "engine").Logger(),
	}
}

// snapshot returns the active snapshot or an error when none is published.
func (e *Engine) snapshot() (*scoring.Snapshot, error) {
	snap := e.store.Get()
	if snap == nil {
		return nil, fmt.Errorf("no snapshot published yet")
	}
	return snap, nil
}

// tier resolves a tier name against the configured set.
func (e *Engine) tier(name string) (tiers.TierConfig, error) {
	t, ok := e.tiers[name]
	if !ok {
		return tiers.TierConfig{}, &domain.ConfigurationError{
			Field:  "tier",
			Reason: fmt.Sprintf("unknown tier %q", name),
		}
	}
	return t, nil
}

// BuildPortfolio constructs one portfolio for the named tier against the
// active snapshot.
func (e *Engine) BuildPortfolio(ctx context.Context, tierName string, targetMonthlyIncome float64, mode domain.OptimizationMode) (*domain.Portfolio, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	t, err := e.tier(tierName)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = domain.ModeGreedy
	}
	return e.opt.Build(snap, t, targetMonthlyIncome, mode)
}

// BuildAllTiers builds one portfolio per configured tier against the active
// snapshot. Per-tier failures are carried in the result map.
func (e *Engine) BuildAllTiers(ctx context.Context, targetMonthlyIncome float64, mode domain.OptimizationMode) (map[string]orchestrator.Result, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = domain.ModeGreedy
	}
	return e.orch.BuildAllTiers(snap, targetMonthlyIncome, mode), nil
}

// BacktestSpec describes a backtest request at the contract boundary: either
// an explicit portfolio or a tier name plus target to build one first.
type BacktestSpec struct {
	Portfolio           *domain.Portfolio
	TierName            string
	TargetMonthlyIncome float64
	Mode                domain.OptimizationMode
	Reoptimize          bool // Re-run the optimizer at each rebalance boundary

	Start          time.Time
	End            time.Time
	InitialCapital float64
	Rebalance      domain.RebalanceFrequency
	DividendPolicy domain.DividendPolicy
}

// RunBacktest replays a portfolio (built on demand when only a tier is given)
// over the requested horizon.
func (e *Engine) RunBacktest(ctx context.Context, spec BacktestSpec) (*domain.BacktestResult, error) {
	req := &backtest.Request{
		Portfolio:           spec.Portfolio,
		TargetMonthlyIncome: spec.TargetMonthlyIncome,
		Mode:                spec.Mode,
		Start:               spec.Start,
		End:                 spec.End,
		InitialCapital:      spec.InitialCapital,
		Rebalance:           spec.Rebalance,
		DividendPolicy:      spec.DividendPolicy,
	}
	if req.Mode == "" {
		req.Mode = domain.ModeGreedy
	}

	if spec.TierName != "" {
		t, err := e.tier(spec.TierName)
		if err != nil {
			return nil, err
		}
		if req.Portfolio == nil {
			req.Portfolio, err = e.BuildPortfolio(ctx, spec.TierName, spec.TargetMonthlyIncome, req.Mode)
			if err != nil {
				return nil, fmt.Errorf("building portfolio for backtest: %w", err)
			}
		}
		if spec.Reoptimize {
			req.Tier = &t
		}
	}

	return e.backtester.Run(ctx, req)
}

// GetSustainability returns the sustainability score for one symbol. The
// active snapshot serves current requests; a historical as-of triggers a
// fresh analysis over data up to that date.
func (e *Engine) GetSustainability(ctx context.Context, symbol string, asOf time.Time) (*domain.SustainabilityScore, error) {
	if snap := e.store.Get(); snap != nil && (asOf.IsZero() || asOf.Equal(snap.AsOf)) {
		if score, ok := snap.Scores[symbol]; ok {
			return &score, nil
		}
		if reason, ok := snap.Skipped[symbol]; ok {
			return nil, fmt.Errorf("%s excluded from snapshot: %s", symbol, reason)
		}
	}
	current := asOf.IsZero()
	if current {
		asOf = time.Now().UTC()
	}

	sec, err := e.universe.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	from := asOf.AddDate(-e.cfg.LookbackYears, 0, 0)
	divs, err := e.history.GetDividends(ctx, symbol, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("loading dividends for %s: %w", symbol, err)
	}

	// The stored payout ratio reflects the latest filing; a past-dated
	// analysis must not see it
	var ratios []float64
	if current && sec.PayoutRatio > 0 {
		ratios = []float64{sec.PayoutRatio}
	}
	score := e.sustain.Analyze(symbol, divs, ratios, asOf)
	return &score, nil
}

// GetRiskMetrics returns the risk profile for one symbol, analogous to
// GetSustainability.
func (e *Engine) GetRiskMetrics(ctx context.Context, symbol string, asOf time.Time) (*domain.RiskProfile, error) {
	if snap := e.store.Get(); snap != nil && (asOf.IsZero() || asOf.Equal(snap.AsOf)) {
		if profile, ok := snap.RiskProfiles[symbol]; ok {
			return profile, nil
		}
		if reason, ok := snap.Skipped[symbol]; ok {
			return nil, fmt.Errorf("%s excluded from snapshot: %s", symbol, reason)
		}
	}
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	from := asOf.AddDate(-e.cfg.LookbackYears, 0, 0)
	bars, err := e.history.GetDailyPrices(ctx, symbol, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("loading prices for %s: %w", symbol, err)
	}

	var benchmarkBars []domain.PriceBar
	if e.cfg.BenchmarkSymbol != "" && e.cfg.BenchmarkSymbol != symbol {
		benchmarkBars, err = e.history.GetDailyPrices(ctx, e.cfg.BenchmarkSymbol, from, asOf)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", e.cfg.BenchmarkSymbol).
				Msg("benchmark unavailable, beta disabled")
			benchmarkBars = nil
		}
	}

	return e.riskEngine.Analyze(symbol, bars, benchmarkBars, asOf)
}
