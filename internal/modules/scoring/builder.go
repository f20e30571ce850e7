package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/risk"
	"github.com/aristath/divvy/internal/modules/sustainability"
)

// BuilderConfig holds snapshot builder settings.
type BuilderConfig struct {
	LookbackYears   int    // Price/dividend history window
	Workers         int    // Concurrent per-ticker scoring goroutines
	BenchmarkSymbol string // For beta; empty disables beta
	MinOverlap      int    // Minimum shared observations for a correlation pair
}

// DefaultBuilderConfig returns standard builder settings.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		LookbackYears: 3,
		Workers:       8,
		MinOverlap:    60,
	}
}

// Builder assembles snapshots from the universe and history data.
type Builder struct {
	cfg        BuilderConfig
	universe   domain.UniverseRepository
	history    domain.HistoryProvider
	sustain    *sustainability.Analyzer
	riskEngine *risk.Analyzer
	cache      *Cache
	log        zerolog.Logger
}

// NewBuilder creates a snapshot builder. cache may be nil to disable result
// caching.
func NewBuilder(
	cfg BuilderConfig,
	universe domain.UniverseRepository,
	history domain.HistoryProvider,
	sustain *sustainability.Analyzer,
	riskEngine *risk.Analyzer,
	cache *Cache,
	log zerolog.Logger,
) *Builder {
	if cfg.LookbackYears <= 0 {
		cfg.LookbackYears = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.MinOverlap <= 0 {
		cfg.MinOverlap = 60
	}
	return &Builder{
		cfg:        cfg,
		universe:   universe,
		history:    history,
		sustain:    sustain,
		riskEngine: riskEngine,
		cache:      cache,
		log:        log.With().Str("component", "snapshot_builder").Logger(),
	}
}

// tickerResult carries one worker's output back to the collector.
type tickerResult struct {
	symbol  string
	sec     domain.Security // With price and yield re-derived as of the cutoff
	score   domain.SustainabilityScore
	profile *domain.RiskProfile
	bars    []domain.PriceBar
	skip    string // Non-empty when the ticker was excluded
	err     error  // Fatal errors only
}

// Build computes a full snapshot as of the given cutoff. Tickers with data
// gaps or missing data are skipped (recorded in Snapshot.Skipped), not fatal.
func (b *Builder) Build(ctx context.Context, asOf time.Time) (*Snapshot, error) {
	securities, err := b.universe.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading universe: %w", err)
	}
	if len(securities) == 0 {
		return nil, fmt.Errorf("universe is empty")
	}

	from := asOf.AddDate(-b.cfg.LookbackYears, 0, 0)

	var benchmarkBars []domain.PriceBar
	if b.cfg.BenchmarkSymbol != "" {
		benchmarkBars, err = b.history.GetDailyPrices(ctx, b.cfg.BenchmarkSymbol, from, asOf)
		if err != nil {
			b.log.Warn().Err(err).Str("symbol", b.cfg.BenchmarkSymbol).
				Msg("benchmark unavailable, beta disabled")
			benchmarkBars = nil
		}
	}

	jobs := make(chan domain.Security, len(securities))
	results := make(chan tickerResult, len(securities))

	workers := b.cfg.Workers
	if len(securities) < workers {
		workers = len(securities)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sec := range jobs {
				results <- b.scoreTicker(ctx, sec, from, asOf, benchmarkBars)
			}
		}()
	}

	for _, sec := range securities {
		jobs <- sec
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	snap := &Snapshot{
		AsOf:         asOf,
		Scores:       make(map[string]domain.SustainabilityScore),
		RiskProfiles: make(map[string]*domain.RiskProfile),
		PriceSeries:  make(map[string][]domain.PriceBar),
		Skipped:      make(map[string]string),
	}
	for res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("scoring %s: %w", res.symbol, res.err)
		}
		if res.skip != "" {
			snap.Skipped[res.symbol] = res.skip
			continue
		}
		snap.Securities = append(snap.Securities, res.sec)
		snap.Scores[res.symbol] = res.score
		snap.RiskProfiles[res.symbol] = res.profile
		snap.PriceSeries[res.symbol] = res.bars
	}

	snap.Correlations = risk.BuildCorrelationMatrix(snap.PriceSeries, b.cfg.MinOverlap)

	b.log.Info().
		Time("as_of", asOf).
		Int("scored", len(snap.Scores)).
		Int("skipped", len(snap.Skipped)).
		Msg("snapshot built")

	return snap, nil
}

// scoreTicker computes one security's score and risk profile, consulting the
// cache first when one is configured.
func (b *Builder) scoreTicker(ctx context.Context, sec domain.Security, from, asOf time.Time, benchmarkBars []domain.PriceBar) tickerResult {
	res := tickerResult{symbol: sec.Symbol}

	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	bars, err := b.history.GetDailyPrices(ctx, sec.Symbol, from, asOf)
	if err != nil {
		var unavailable *domain.DataUnavailableError
		if errors.As(err, &unavailable) {
			res.skip = "no price data"
			return res
		}
		res.err = err
		return res
	}
	if len(bars) == 0 {
		res.skip = "no price data"
		return res
	}
	res.bars = bars

	divs, err := b.history.GetDividends(ctx, sec.Symbol, from, asOf)
	if err != nil {
		res.err = err
		return res
	}

	// Price and trailing yield are re-derived from history at the cutoff.
	// The stored security row holds whatever the last universe refresh saw,
	// which is the wrong answer for a rebuild at a past date.
	sec.Price = bars[len(bars)-1].Close
	sec.TTMDividend = 0
	ttmStart := asOf.AddDate(-1, 0, 0)
	for _, d := range divs {
		if !d.ExDate.Before(ttmStart) {
			sec.TTMDividend += d.Amount
		}
	}
	sec.DividendYield = 0
	if sec.Price > 0 {
		sec.DividendYield = sec.TTMDividend / sec.Price
	}
	res.sec = sec

	if b.cache != nil {
		if cached, ok := b.cache.Get(ctx, sec.Symbol, asOf); ok {
			res.score = cached.Score
			res.profile = cached.Profile
			return res
		}
	}

	profile, err := b.riskEngine.Analyze(sec.Symbol, bars, benchmarkBars, asOf)
	if err != nil {
		var gap *domain.DataGapError
		var short *domain.InsufficientHistoryError
		if errors.As(err, &gap) || errors.As(err, &short) {
			res.skip = err.Error()
			return res
		}
		res.err = err
		return res
	}
	res.profile = profile

	var ratios []float64
	if sec.PayoutRatio > 0 {
		ratios = []float64{sec.PayoutRatio}
	}
	res.score = b.sustain.Analyze(sec.Symbol, divs, ratios, asOf)

	if b.cache != nil {
		if err := b.cache.Put(ctx, sec.Symbol, asOf, CachedResult{
			Score:   res.score,
			Profile: res.profile,
		}); err != nil {
			b.log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("cache write failed")
		}
	}

	return res
}
