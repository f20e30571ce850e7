package sustainability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/divvy/internal/domain"
)

// quarterly builds n years of quarterly payments starting in startYear, with
// the per-payment amount growing by growth per year.
func quarterly(startYear, years int, base, growth float64) []domain.DividendPayment {
	var payments []domain.DividendPayment
	amount := base
	for y := 0; y < years; y++ {
		for _, m := range []time.Month{3, 6, 9, 12} {
			payments = append(payments, domain.DividendPayment{
				ExDate: time.Date(startYear+y, m, 15, 0, 0, 0, 0, time.UTC),
				Amount: amount,
			})
		}
		amount *= 1 + growth
	}
	return payments
}

func asOf() time.Time {
	return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
}

func TestInsufficientHistory(t *testing.T) {
	analyzer := NewAnalyzer(DefaultConfig())

	t.Run("no payments", func(t *testing.T) {
		score := analyzer.Analyze("NEW", nil, nil, asOf())
		assert.Equal(t, domain.RatingInsufficientData, score.Rating)
		assert.Zero(t, score.Score)
	})

	t.Run("six months of history", func(t *testing.T) {
		payments := []domain.DividendPayment{
			{ExDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Amount: 0.5},
			{ExDate: time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC), Amount: 0.5},
		}
		score := analyzer.Analyze("NEW", payments, nil, asOf())
		assert.Equal(t, domain.RatingInsufficientData, score.Rating)
		assert.Less(t, score.AnalyzedYears, 1.0)
	})
}

func TestStrongPayerGetsTopRating(t *testing.T) {
	analyzer := NewAnalyzer(DefaultConfig())

	// 26 years of 12%-growing quarterly payments, low payout ratio
	payments := quarterly(1998, 26, 0.10, 0.12)
	ratios := []float64{0.32, 0.30, 0.28, 0.27, 0.25}

	score := analyzer.Analyze("CHAMP", payments, ratios, asOf())

	require.Equal(t, domain.RatingA, score.Rating)
	assert.GreaterOrEqual(t, score.Score, 80.0)
	assert.GreaterOrEqual(t, score.StreakYears, 25)
	assert.Greater(t, score.DividendCAGR, 0.10)
	assert.Equal(t, domain.TrendFalling, score.PayoutTrend)

	// Breakdown covers all three components
	require.Contains(t, score.Breakdown, "payout_ratio")
	require.Contains(t, score.Breakdown, "dividend_growth")
	require.Contains(t, score.Breakdown, "dividend_streak")
	assert.InDelta(t, 25, score.Breakdown["dividend_growth"].Score, 1e-9)
}

func TestCutPayerScoresLow(t *testing.T) {
	analyzer := NewAnalyzer(DefaultConfig())

	// Three years rising, then a cut in the final year
	payments := quarterly(2020, 3, 0.50, 0.05)
	for _, m := range []time.Month{3, 6, 9, 12} {
		payments = append(payments, domain.DividendPayment{
			ExDate: time.Date(2023, m, 15, 0, 0, 0, 0, time.UTC),
			Amount: 0.20,
		})
	}
	ratios := []float64{0.60, 0.70, 0.85, 0.95}

	score := analyzer.Analyze("CUTTER", payments, ratios, asOf())

	assert.Equal(t, domain.RatingD, score.Rating)
	assert.Equal(t, 1, score.StreakYears)
	assert.Less(t, score.DividendCAGR, 0.0)
	assert.Equal(t, domain.TrendRising, score.PayoutTrend)
}

func TestStreakBreaksOnGapYear(t *testing.T) {
	analyzer := NewAnalyzer(DefaultConfig())

	payments := quarterly(2015, 3, 0.50, 0.0) // 2015-2017
	payments = append(payments, quarterly(2019, 5, 0.50, 0.0)...) // 2019-2023, gap at 2018

	score := analyzer.Analyze("GAPPY", payments, nil, asOf())
	assert.Equal(t, 5, score.StreakYears)
}

func TestMissingPayoutRatioSkipsComponent(t *testing.T) {
	analyzer := NewAnalyzer(DefaultConfig())

	payments := quarterly(2010, 14, 0.25, 0.08)
	score := analyzer.Analyze("NORATIO", payments, nil, asOf())

	assert.NotContains(t, score.Breakdown, "payout_ratio")
	// Growth (20) + streak (20) without payout puts it in the C band
	assert.Equal(t, domain.RatingC, score.Rating)
}

func TestWeightOverrides(t *testing.T) {
	// Zeroing growth and streak isolates the payout component
	analyzer := NewAnalyzer(Config{PayoutWeight: 1.0, GrowthWeight: 1e-9, StreakWeight: 1e-9})

	payments := quarterly(2010, 14, 0.25, 0.0)
	ratios := []float64{0.25, 0.25, 0.25}

	score := analyzer.Analyze("ISOLATE", payments, ratios, asOf())
	assert.InDelta(t, 30, score.Score, 0.01)
}
