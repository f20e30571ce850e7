// Package risk computes per-security risk metrics and the pairwise
// correlation structure of the universe from daily price history.
package risk

import (
	"time"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/pkg/formulas"
)

// Config holds risk analyzer tuning.
type Config struct {
	RiskFreeRate    float64 // Annual, as a decimal
	MaxMissingRatio float64 // Reject series missing more than this fraction of expected days
	MinObservations int     // Minimum daily bars required for metrics
	EMAShortPeriod  int
	EMALongPeriod   int
}

// DefaultConfig returns standard analyzer settings.
func DefaultConfig() Config {
	return Config{
		RiskFreeRate:    0.02,
		MaxMissingRatio: 0.10,
		MinObservations: 30,
		EMAShortPeriod:  20,
		EMALongPeriod:   50,
	}
}

// Analyzer computes RiskProfiles. Pure and safe to share across goroutines.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates a risk analyzer, filling zero config fields with
// defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.MaxMissingRatio == 0 {
		cfg.MaxMissingRatio = def.MaxMissingRatio
	}
	if cfg.MinObservations == 0 {
		cfg.MinObservations = def.MinObservations
	}
	if cfg.EMAShortPeriod == 0 {
		cfg.EMAShortPeriod = def.EMAShortPeriod
	}
	if cfg.EMALongPeriod == 0 {
		cfg.EMALongPeriod = def.EMALongPeriod
	}
	return &Analyzer{cfg: cfg}
}

// Analyze computes the full risk profile for one security. benchmarkBars may
// be nil, in which case beta is omitted. Returns DataGapError when the series
// has excessive missing trading days; gaps are never interpolated over.
func (a *Analyzer) Analyze(symbol string, bars []domain.PriceBar, benchmarkBars []domain.PriceBar, asOf time.Time) (*domain.RiskProfile, error) {
	if len(bars) < a.cfg.MinObservations {
		return nil, &domain.InsufficientHistoryError{
			Symbol:   symbol,
			Required: time.Duration(a.cfg.MinObservations) * 24 * time.Hour,
			Have:     barSpan(bars),
		}
	}

	if err := a.checkCoverage(symbol, bars); err != nil {
		return nil, err
	}

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	returns := formulas.SimpleReturns(closes)

	profile := &domain.RiskProfile{
		Symbol:               symbol,
		AnnualizedVolatility: formulas.AnnualizedVolatility(returns),
		SharpeRatio:          formulas.SharpeRatio(returns, a.cfg.RiskFreeRate, formulas.TradingDaysPerYear),
		MaxDrawdown:          formulas.MaxDrawdown(closes),
		EMATrend:             formulas.EMATrend(closes, a.cfg.EMAShortPeriod, a.cfg.EMALongPeriod),
		Observations:         len(bars),
		AsOf:                 asOf,
	}

	if len(benchmarkBars) > 0 {
		if beta, ok := a.betaAgainst(bars, benchmarkBars); ok {
			profile.Beta = &beta
		}
	}

	profile.Grade = gradeRisk(profile.AnnualizedVolatility, profile.MaxDrawdown)
	return profile, nil
}

// checkCoverage compares observed bars against the expected weekday count in
// the series' own span and fails on excessive gaps.
func (a *Analyzer) checkCoverage(symbol string, bars []domain.PriceBar) error {
	expected := countWeekdays(bars[0].Date, bars[len(bars)-1].Date)
	if expected <= 0 {
		return nil
	}
	missing := 1 - float64(len(bars))/float64(expected)
	if missing > a.cfg.MaxMissingRatio {
		return &domain.DataGapError{
			Symbol:       symbol,
			Expected:     expected,
			Actual:       len(bars),
			MissingRatio: missing,
		}
	}
	return nil
}

// betaAgainst computes beta on returns aligned to the intersection of
// trading dates.
func (a *Analyzer) betaAgainst(bars, benchmarkBars []domain.PriceBar) (float64, bool) {
	assetCloses, benchCloses := alignCloses(bars, benchmarkBars)
	if len(assetCloses) < a.cfg.MinObservations {
		return 0, false
	}
	beta := formulas.Beta(formulas.SimpleReturns(assetCloses), formulas.SimpleReturns(benchCloses))
	return beta, true
}

// gradeRisk buckets volatility and drawdown into a coarse letter grade.
func gradeRisk(vol, maxDrawdown float64) domain.RiskGrade {
	dd := maxDrawdown
	if dd < 0 {
		dd = -dd
	}
	switch {
	case vol < 0.15 && dd < 0.20:
		return domain.RiskGradeA
	case vol < 0.25 && dd < 0.35:
		return domain.RiskGradeB
	default:
		return domain.RiskGradeC
	}
}

// countWeekdays counts Mon-Fri days in [from, to] inclusive. Market holidays
// are tolerated by the missing-ratio allowance rather than modeled.
func countWeekdays(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	count := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			count++
		}
	}
	return count
}

func barSpan(bars []domain.PriceBar) time.Duration {
	if len(bars) < 2 {
		return 0
	}
	return bars[len(bars)-1].Date.Sub(bars[0].Date)
}

// alignCloses returns the two close series restricted to dates both inputs
// share, in ascending date order.
func alignCloses(a, b []domain.PriceBar) ([]float64, []float64) {
	bByDate := make(map[string]float64, len(b))
	for _, bar := range b {
		bByDate[bar.Date.Format("2006-01-02")] = bar.Close
	}

	var aOut, bOut []float64
	for _, bar := range a {
		if close, ok := bByDate[bar.Date.Format("2006-01-02")]; ok {
			aOut = append(aOut, bar.Close)
			bOut = append(bOut, close)
		}
	}
	return aOut, bOut
}
