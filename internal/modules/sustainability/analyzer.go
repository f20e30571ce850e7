// Package sustainability scores how durable a security's dividend payout is,
// based on its payment history and payout ratio. The analyzer is a pure
// function of its inputs and safe to run concurrently across tickers.
package sustainability

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/pkg/formulas"
)

// Component score maxima. The buckets are fixed; the per-component weights
// are configuration so tests can isolate a single component.
const (
	maxPayoutScore = 30
	maxGrowthScore = 25
	maxStreakScore = 25
)

// Config holds analyzer tuning. Zero values are replaced by defaults.
type Config struct {
	PayoutWeight float64 // Multiplier on the payout-ratio component
	GrowthWeight float64 // Multiplier on the growth component
	StreakWeight float64 // Multiplier on the streak component
	TrendWindow  int     // Years of payout history considered for the trend
}

// DefaultConfig returns the standard component weighting.
func DefaultConfig() Config {
	return Config{
		PayoutWeight: 1.0,
		GrowthWeight: 1.0,
		StreakWeight: 1.0,
		TrendWindow:  5,
	}
}

// Analyzer computes sustainability scores from dividend history.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer with the given config, filling defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.PayoutWeight == 0 {
		cfg.PayoutWeight = def.PayoutWeight
	}
	if cfg.GrowthWeight == 0 {
		cfg.GrowthWeight = def.GrowthWeight
	}
	if cfg.StreakWeight == 0 {
		cfg.StreakWeight = def.StreakWeight
	}
	if cfg.TrendWindow == 0 {
		cfg.TrendWindow = def.TrendWindow
	}
	return &Analyzer{cfg: cfg}
}

// Analyze scores one security's dividend history. payoutRatios is an optional
// year-ordered series of historical payout ratios; the last element is
// treated as current. A history spanning less than one year yields the
// insufficient-data rating and a zero score.
func (a *Analyzer) Analyze(symbol string, payments []domain.DividendPayment, payoutRatios []float64, asOf time.Time) domain.SustainabilityScore {
	result := domain.SustainabilityScore{
		Symbol:    symbol,
		Rating:    domain.RatingInsufficientData,
		Breakdown: make(map[string]domain.ScoreComponent),
		AsOf:      asOf,
	}

	if len(payments) == 0 {
		return result
	}

	span := payments[len(payments)-1].ExDate.Sub(payments[0].ExDate)
	result.AnalyzedYears = span.Hours() / (24 * 365.25)
	if span < 365*24*time.Hour {
		return result
	}

	annual := annualTotals(payments)
	streak := nonDecreasingStreak(annual)
	cagr := dividendCAGR(annual)
	trend := payoutTrend(payoutRatios, a.cfg.TrendWindow)

	result.StreakYears = streak
	result.DividendCAGR = cagr
	result.PayoutTrend = trend
	if len(payoutRatios) > 0 {
		result.PayoutRatio = payoutRatios[len(payoutRatios)-1]
	}

	score := 0.0

	if len(payoutRatios) > 0 {
		payout := result.PayoutRatio
		var prScore float64
		switch {
		case payout < 0.3:
			prScore = 30
		case payout < 0.5:
			prScore = 25
		case payout < 0.7:
			prScore = 15
		default:
			prScore = 5
		}
		// A falling payout ratio is safer than the point-in-time value
		// suggests; a rising one less so.
		switch trend {
		case domain.TrendFalling:
			prScore = math.Min(prScore+5, maxPayoutScore)
		case domain.TrendRising:
			prScore = math.Max(prScore-5, 0)
		}
		weighted := prScore * a.cfg.PayoutWeight
		score += weighted
		result.Breakdown["payout_ratio"] = domain.ScoreComponent{
			Value: payout, Score: weighted, Max: maxPayoutScore,
		}
	}

	var grScore float64
	switch {
	case cagr > 0.10:
		grScore = 25
	case cagr > 0.05:
		grScore = 20
	case cagr > 0:
		grScore = 15
	default:
		grScore = 5
	}
	weightedGrowth := grScore * a.cfg.GrowthWeight
	score += weightedGrowth
	result.Breakdown["dividend_growth"] = domain.ScoreComponent{
		Value: cagr, Score: weightedGrowth, Max: maxGrowthScore,
	}

	var stScore float64
	switch {
	case streak >= 25:
		stScore = 25
	case streak >= 10:
		stScore = 20
	case streak >= 5:
		stScore = 15
	default:
		stScore = float64(streak) * 2
	}
	weightedStreak := stScore * a.cfg.StreakWeight
	score += weightedStreak
	result.Breakdown["dividend_streak"] = domain.ScoreComponent{
		Value: float64(streak), Score: weightedStreak, Max: maxStreakScore,
	}

	result.Score = math.Max(0, math.Min(100, score))
	result.Rating = rate(result.Score)
	return result
}

func rate(score float64) domain.RatingBucket {
	switch {
	case score >= 80:
		return domain.RatingA
	case score >= 60:
		return domain.RatingB
	case score >= 40:
		return domain.RatingC
	default:
		return domain.RatingD
	}
}

// yearTotal pairs a calendar year with its summed payments.
type yearTotal struct {
	year  int
	total float64
}

// annualTotals sums payments per calendar year, ordered by year ascending.
func annualTotals(payments []domain.DividendPayment) []yearTotal {
	byYear := make(map[int]float64)
	for _, p := range payments {
		byYear[p.ExDate.Year()] += p.Amount
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	totals := make([]yearTotal, len(years))
	for i, y := range years {
		totals[i] = yearTotal{year: y, total: byYear[y]}
	}
	return totals
}

// nonDecreasingStreak returns the length of the longest run of consecutive
// calendar years, ending at the most recent year, where the annual total
// never decreased. A gap year breaks the streak.
func nonDecreasingStreak(totals []yearTotal) int {
	if len(totals) == 0 {
		return 0
	}

	streak := 1
	for i := len(totals) - 1; i > 0; i-- {
		curr, prev := totals[i], totals[i-1]
		if curr.year != prev.year+1 || curr.total < prev.total {
			break
		}
		streak++
	}
	return streak
}

// dividendCAGR computes growth of annual totals from the first full year to
// the last, annualized over the span.
func dividendCAGR(totals []yearTotal) float64 {
	if len(totals) < 2 {
		return 0
	}
	first, last := totals[0], totals[len(totals)-1]
	years := float64(last.year - first.year)
	return formulas.CAGR(first.total, last.total, years)
}

// payoutTrend classifies the direction of the recent payout-ratio series
// by the slope of an OLS fit. Slopes within ±0.01/year count as flat.
func payoutTrend(ratios []float64, window int) domain.PayoutTrend {
	if len(ratios) < 2 {
		return domain.TrendFlat
	}
	if window > 0 && len(ratios) > window {
		ratios = ratios[len(ratios)-window:]
	}

	slope := formulas.TrendSlope(ratios)
	switch {
	case slope > 0.01:
		return domain.TrendRising
	case slope < -0.01:
		return domain.TrendFalling
	default:
		return domain.TrendFlat
	}
}
