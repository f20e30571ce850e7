package backtest

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/history"
	"github.com/aristath/divvy/internal/modules/optimizer"
	"github.com/aristath/divvy/internal/modules/risk"
	"github.com/aristath/divvy/internal/modules/scoring"
	"github.com/aristath/divvy/internal/modules/sustainability"
	"github.com/aristath/divvy/internal/modules/tiers"
)

// weekdayBars generates consecutive weekday bars starting at start, pricing
// bar i with priceAt.
func weekdayBars(start time.Time, n int, priceAt func(i int) float64) []domain.PriceBar {
	var bars []domain.PriceBar
	d := start
	for len(bars) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			bars = append(bars, domain.PriceBar{Date: d, Close: priceAt(len(bars))})
		}
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func singleHoldingPortfolio(symbol string) *domain.Portfolio {
	return &domain.Portfolio{
		ID:   "test",
		Tier: "balanced",
		Holdings: []domain.Holding{
			{Symbol: symbol, Weight: 1.0},
		},
	}
}

func TestFlatGrowthMatchesAnalyticCAGR(t *testing.T) {
	// Three years of steady 0.04% daily growth, no dividends: CAGR must
	// equal the closed-form value from the price ratio and elapsed time
	start := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	bars := weekdayBars(start, 756, func(i int) float64 {
		return 100 * math.Pow(1.0004, float64(i))
	})
	stub := history.NewStub()
	stub.SetPrices("GROW", bars)

	eng := New(stub, nil, nil, Config{RiskFreeRate: 0.02}, zerolog.Nop())
	res, err := eng.Run(context.Background(), &Request{
		Portfolio:      singleHoldingPortfolio("GROW"),
		Start:          start,
		End:            bars[len(bars)-1].Date,
		InitialCapital: 10000,
		Rebalance:      domain.RebalanceNone,
		DividendPolicy: domain.PolicyCash,
	})
	require.NoError(t, err)

	ratio := bars[len(bars)-1].Close / bars[0].Close
	years := res.EndDate.Sub(res.StartDate).Hours() / 24 / 365.25
	expectedCAGR := math.Pow(ratio, 1/years) - 1

	assert.InDelta(t, ratio-1, res.TotalReturn, 1e-9)
	assert.InDelta(t, expectedCAGR, res.CAGR, 1e-9)
	assert.InDelta(t, 10000*ratio, res.FinalValue, 1e-6)
	assert.Zero(t, res.MaxDrawdown, "monotone growth has no drawdown")
	assert.Len(t, res.NAVSeries, 756)
	assert.Empty(t, res.IncomeSeries)
	assert.Zero(t, res.Rebalances)
}

func TestDeterministicSeries(t *testing.T) {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(7))
	price := 100.0
	bars := weekdayBars(start, 252, func(i int) float64 {
		price *= 1 + 0.01*rng.NormFloat64()
		return price
	})
	stub := history.NewStub()
	stub.SetPrices("RAND", bars)
	stub.SetDividends("RAND", []domain.DividendPayment{
		{ExDate: bars[60].Date, Amount: 0.75},
		{ExDate: bars[180].Date, Amount: 0.80},
	})

	eng := New(stub, nil, nil, Config{}, zerolog.Nop())
	req := &Request{
		Portfolio:      singleHoldingPortfolio("RAND"),
		Start:          start,
		End:            bars[len(bars)-1].Date,
		InitialCapital: 25000,
		Rebalance:      domain.RebalanceQuarterly,
		DividendPolicy: domain.PolicyReinvest,
	}

	first, err := eng.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := eng.Run(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, second.NAVSeries, len(first.NAVSeries))
	for i := range first.NAVSeries {
		assert.Equal(t, first.NAVSeries[i].Date, second.NAVSeries[i].Date)
		assert.Equal(t, first.NAVSeries[i].Value, second.NAVSeries[i].Value)
	}
	require.Len(t, second.IncomeSeries, len(first.IncomeSeries))
	for i := range first.IncomeSeries {
		assert.Equal(t, first.IncomeSeries[i], second.IncomeSeries[i])
	}
}

func TestDividendPolicies(t *testing.T) {
	// Flat price of 100, two $1 dividends: cash accumulates, reinvest
	// compounds through the second payment
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := weekdayBars(start, 252, func(i int) float64 { return 100 })

	run := func(policy domain.DividendPolicy) *domain.BacktestResult {
		stub := history.NewStub()
		stub.SetPrices("PAY", bars)
		stub.SetDividends("PAY", []domain.DividendPayment{
			{ExDate: bars[50].Date, Amount: 1.00},
			{ExDate: bars[150].Date, Amount: 1.00},
		})
		eng := New(stub, nil, nil, Config{}, zerolog.Nop())
		res, err := eng.Run(context.Background(), &Request{
			Portfolio:      singleHoldingPortfolio("PAY"),
			Start:          start,
			End:            bars[len(bars)-1].Date,
			InitialCapital: 10000,
			Rebalance:      domain.RebalanceNone,
			DividendPolicy: policy,
		})
		require.NoError(t, err)
		return res
	}

	cash := run(domain.PolicyCash)
	// 100 shares pay $100 twice
	assert.InDelta(t, 200, cash.TotalDividends, 1e-9)
	assert.InDelta(t, 10200, cash.FinalValue, 1e-9)

	reinvest := run(domain.PolicyReinvest)
	// First payment buys 1 extra share, so the second pays $101
	assert.InDelta(t, 201, reinvest.TotalDividends, 1e-9)
	assert.InDelta(t, 10201, reinvest.FinalValue, 1e-9)

	require.Len(t, cash.IncomeSeries, 2)
	assert.Equal(t, "PAY", cash.IncomeSeries[0].Symbol)
}

func TestQuarterlyRebalanceRestoresWeights(t *testing.T) {
	// One steadily doubling asset against one flat asset: quarterly
	// rebalancing keeps selling the winner, so buy-and-hold finishes higher
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	grow := weekdayBars(start, 252, func(i int) float64 { return 100 * (1 + float64(i)/252) })
	flat := weekdayBars(start, 252, func(i int) float64 { return 50 })

	stub := history.NewStub()
	stub.SetPrices("GROW", grow)
	stub.SetPrices("FLAT", flat)

	portfolio := &domain.Portfolio{
		ID: "test",
		Holdings: []domain.Holding{
			{Symbol: "GROW", Weight: 0.5},
			{Symbol: "FLAT", Weight: 0.5},
		},
	}
	eng := New(stub, nil, nil, Config{}, zerolog.Nop())

	run := func(freq domain.RebalanceFrequency) *domain.BacktestResult {
		res, err := eng.Run(context.Background(), &Request{
			Portfolio:      portfolio,
			Start:          start,
			End:            grow[len(grow)-1].Date,
			InitialCapital: 10000,
			Rebalance:      freq,
			DividendPolicy: domain.PolicyCash,
		})
		require.NoError(t, err)
		return res
	}

	drift := run(domain.RebalanceNone)
	rebalanced := run(domain.RebalanceQuarterly)

	assert.Equal(t, 3, rebalanced.Rebalances)
	assert.Zero(t, drift.Rebalances)
	assert.Greater(t, drift.FinalValue, rebalanced.FinalValue)
}

// uncancellableProvider serves history regardless of the caller's context so
// cancellation is only observable inside the step loop.
type uncancellableProvider struct {
	inner domain.HistoryProvider
}

func (p *uncancellableProvider) GetDailyPrices(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceBar, error) {
	return p.inner.GetDailyPrices(context.Background(), symbol, from, to)
}

func (p *uncancellableProvider) GetDividends(ctx context.Context, symbol string, from, to time.Time) ([]domain.DividendPayment, error) {
	return p.inner.GetDividends(context.Background(), symbol, from, to)
}

func TestCancellationReturnsPartialError(t *testing.T) {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := weekdayBars(start, 252, func(i int) float64 { return 100 })
	stub := history.NewStub()
	stub.SetPrices("SYM", bars)

	eng := New(&uncancellableProvider{inner: stub}, nil, nil, Config{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Run(ctx, &Request{
		Portfolio:      singleHoldingPortfolio("SYM"),
		Start:          start,
		End:            bars[len(bars)-1].Date,
		InitialCapital: 10000,
		Rebalance:      domain.RebalanceNone,
		DividendPolicy: domain.PolicyCash,
	})
	var cancelled *domain.BacktestCancelledError
	require.True(t, errors.As(err, &cancelled), "got %v", err)
	assert.Zero(t, cancelled.StepsCompleted)
}

func TestRequestValidation(t *testing.T) {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	valid := func() *Request {
		return &Request{
			Portfolio:      singleHoldingPortfolio("SYM"),
			Start:          start,
			End:            end,
			InitialCapital: 10000,
			Rebalance:      domain.RebalanceNone,
			DividendPolicy: domain.PolicyCash,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"nil portfolio", func(r *Request) { r.Portfolio = nil }},
		{"empty portfolio", func(r *Request) { r.Portfolio = &domain.Portfolio{} }},
		{"zero capital", func(r *Request) { r.InitialCapital = 0 }},
		{"inverted horizon", func(r *Request) { r.Start, r.End = r.End, r.Start }},
		{"bad policy", func(r *Request) { r.DividendPolicy = "spend" }},
		{"bad frequency", func(r *Request) { r.Rebalance = "hourly" }},
		{"tier without target", func(r *Request) { r.Tier = &tiers.TierConfig{Name: "x"} }},
	}

	eng := New(history.NewStub(), nil, nil, Config{}, zerolog.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			_, err := eng.Run(context.Background(), req)
			var cfgErr *domain.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

// recordingBuilder captures the as-of dates the engine rebuilds snapshots
// for. It always fails, which leaves the running weights untouched.
type recordingBuilder struct {
	asOf []time.Time
}

func (r *recordingBuilder) Build(ctx context.Context, asOf time.Time) (*scoring.Snapshot, error) {
	r.asOf = append(r.asOf, asOf)
	return nil, errors.New("universe offline")
}

func TestReoptimizationUsesBoundaryCutoff(t *testing.T) {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := weekdayBars(start, 252, func(i int) float64 { return 100 })
	stub := history.NewStub()
	stub.SetPrices("SYM", bars)

	builder := &recordingBuilder{}
	opt := optimizer.New(optimizer.Config{}, zerolog.Nop())
	eng := New(stub, builder, opt, Config{}, zerolog.Nop())

	tier := tiers.Defaults()[tiers.Balanced]
	res, err := eng.Run(context.Background(), &Request{
		Portfolio:           singleHoldingPortfolio("SYM"),
		Tier:                &tier,
		TargetMonthlyIncome: 100,
		Mode:                domain.ModeGreedy,
		Start:               start,
		End:                 bars[len(bars)-1].Date,
		InitialCapital:      10000,
		Rebalance:           domain.RebalanceQuarterly,
		DividendPolicy:      domain.PolicyCash,
	})
	require.NoError(t, err)

	// A snapshot was requested at each boundary, cut off at that day
	require.Len(t, builder.asOf, 3)
	expected := []time.Time{
		time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2022, 10, 3, 0, 0, 0, 0, time.UTC),
	}
	for i, want := range expected {
		assert.Equal(t, want, builder.asOf[i])
	}
	assert.Len(t, res.Warnings, 3, "each failed rebuild is surfaced")
}

// fixedBuilder returns the same snapshot for every cutoff.
type fixedBuilder struct {
	snap *scoring.Snapshot
}

func (f *fixedBuilder) Build(ctx context.Context, asOf time.Time) (*scoring.Snapshot, error) {
	return f.snap, nil
}

func TestLateAddedHoldingSkipsEarlierDividends(t *testing.T) {
	// The portfolio starts all-in OLD; the first quarterly re-optimization
	// switches everything into NEW, which paid three dividends during Q1.
	// Those payments went ex while NEW was not held and must never be
	// credited. Only the May payment, earned at 200 shares, counts.
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	oldBars := weekdayBars(start, 252, func(i int) float64 { return 100 })
	newBars := weekdayBars(start, 252, func(i int) float64 { return 50 })

	stub := history.NewStub()
	stub.SetPrices("OLD", oldBars)
	stub.SetPrices("NEW", newBars)
	stub.SetDividends("NEW", []domain.DividendPayment{
		{ExDate: time.Date(2022, 1, 14, 0, 0, 0, 0, time.UTC), Amount: 1.00},
		{ExDate: time.Date(2022, 2, 14, 0, 0, 0, 0, time.UTC), Amount: 1.00},
		{ExDate: time.Date(2022, 3, 14, 0, 0, 0, 0, time.UTC), Amount: 1.00},
		{ExDate: time.Date(2022, 5, 13, 0, 0, 0, 0, time.UTC), Amount: 1.00},
	})

	snap := &scoring.Snapshot{
		AsOf: start,
		Securities: []domain.Security{
			{Symbol: "NEW", Sector: "Utilities", Price: 50, TTMDividend: 4, DividendYield: 0.08},
		},
		Scores: map[string]domain.SustainabilityScore{
			"NEW": {Symbol: "NEW", Score: 80, Rating: domain.RatingB},
		},
		RiskProfiles: map[string]*domain.RiskProfile{
			"NEW": {Symbol: "NEW"},
		},
		PriceSeries: map[string][]domain.PriceBar{"NEW": newBars},
	}
	snap.Correlations = risk.BuildCorrelationMatrix(snap.PriceSeries, 30)

	tier := tiers.TierConfig{
		Name:                   "switch",
		MaxPositionWeight:      1.0,
		MaxSectorWeight:        1.0,
		MaxPairwiseCorrelation: 1.0,
		MinSustainabilityScore: 0,
		RebalanceFrequency:     domain.RebalanceQuarterly,
		MaxHoldings:            1,
	}

	opt := optimizer.New(optimizer.Config{}, zerolog.Nop())
	eng := New(stub, &fixedBuilder{snap: snap}, opt, Config{}, zerolog.Nop())
	res, err := eng.Run(context.Background(), &Request{
		Portfolio:           singleHoldingPortfolio("OLD"),
		Tier:                &tier,
		TargetMonthlyIncome: 100,
		Mode:                domain.ModeGreedy,
		Start:               start,
		End:                 oldBars[len(oldBars)-1].Date,
		InitialCapital:      10000,
		Rebalance:           domain.RebalanceQuarterly,
		DividendPolicy:      domain.PolicyCash,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 3, res.Rebalances)

	// 10000 buys 200 shares of NEW at the April boundary; the lone payable
	// dividend is May's
	require.Len(t, res.IncomeSeries, 1)
	assert.Equal(t, "NEW", res.IncomeSeries[0].Symbol)
	assert.Equal(t, time.Date(2022, 5, 13, 0, 0, 0, 0, time.UTC), res.IncomeSeries[0].Date)
	assert.InDelta(t, 200, res.IncomeSeries[0].Amount, 1e-9)
	assert.InDelta(t, 200, res.TotalDividends, 1e-9)
	assert.InDelta(t, 10200, res.FinalValue, 1e-9)
}

// fakeUniverse serves a fixed security list.
type fakeUniverse struct {
	securities []domain.Security
}

func (f *fakeUniverse) GetAll(ctx context.Context) ([]domain.Security, error) {
	return f.securities, nil
}

func (f *fakeUniverse) GetBySymbol(ctx context.Context, symbol string) (*domain.Security, error) {
	for i := range f.securities {
		if f.securities[i].Symbol == symbol {
			return &f.securities[i], nil
		}
	}
	return nil, &domain.DataUnavailableError{Symbol: symbol, Kind: "security"}
}

func (f *fakeUniverse) Upsert(ctx context.Context, sec domain.Security) error {
	return nil
}

func TestNoLookaheadAtRebalance(t *testing.T) {
	// Two datasets identical through late April 2023 and wildly different
	// after. The quarterly re-optimization at the start of Q2 must choose
	// the same weights in both runs, observable through identical dividend
	// income on the mid-April payments.
	symbols := []string{"AAA", "BBB", "CCC", "DDD"}
	genStart := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	perturbAfter := time.Date(2023, 4, 28, 0, 0, 0, 0, time.UTC)
	divDate := time.Date(2023, 4, 14, 0, 0, 0, 0, time.UTC)

	makeStub := func(perturb bool) *history.Stub {
		stub := history.NewStub()
		for i, sym := range symbols {
			rng := rand.New(rand.NewSource(int64(i + 1)))
			price := 100.0
			bars := weekdayBars(genStart, 1010, func(j int) float64 {
				price *= 1 + 0.008*rng.NormFloat64()
				return price
			})
			if perturb {
				for j := range bars {
					if bars[j].Date.After(perturbAfter) {
						bars[j].Close *= 2
					}
				}
			}
			stub.SetPrices(sym, bars)

			var divs []domain.DividendPayment
			for q := 0; q < 14; q++ {
				divs = append(divs, domain.DividendPayment{
					ExDate: genStart.AddDate(0, 3*q, 10),
					Amount: 0.50,
				})
			}
			divs = append(divs, domain.DividendPayment{ExDate: divDate, Amount: 0.50})
			stub.SetDividends(sym, divs)
		}
		return stub
	}

	tier := tiers.TierConfig{
		Name:                   "test",
		MaxPositionWeight:      0.50,
		MaxSectorWeight:        1.0,
		MaxPairwiseCorrelation: 1.0,
		MinSustainabilityScore: 0,
		RebalanceFrequency:     domain.RebalanceQuarterly,
		MaxHoldings:            4,
	}

	run := func(perturb bool) *domain.BacktestResult {
		stub := makeStub(perturb)
		uni := &fakeUniverse{}
		for i, sym := range symbols {
			uni.securities = append(uni.securities, domain.Security{
				Symbol:        sym,
				Sector:        []string{"Utilities", "Healthcare", "Financials", "Energy"}[i],
				Price:         100,
				DividendYield: 0.04,
			})
		}
		builder := scoring.NewBuilder(
			scoring.BuilderConfig{LookbackYears: 3, Workers: 2, MinOverlap: 30},
			uni, stub,
			sustainability.NewAnalyzer(sustainability.Config{}),
			risk.NewAnalyzer(risk.Config{}),
			nil, zerolog.Nop(),
		)
		opt := optimizer.New(optimizer.Config{}, zerolog.Nop())
		eng := New(stub, builder, opt, Config{}, zerolog.Nop())

		res, err := eng.Run(context.Background(), &Request{
			Portfolio: &domain.Portfolio{
				ID: "seed",
				Holdings: []domain.Holding{
					{Symbol: "AAA", Weight: 0.5},
					{Symbol: "BBB", Weight: 0.5},
				},
			},
			Tier:                &tier,
			TargetMonthlyIncome: 100,
			Mode:                domain.ModeGreedy,
			Start:               time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
			End:                 time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC),
			InitialCapital:      50000,
			Rebalance:           domain.RebalanceQuarterly,
			DividendPolicy:      domain.PolicyCash,
		})
		require.NoError(t, err)
		return res
	}

	clean := run(false)
	perturbed := run(true)

	incomeAt := func(res *domain.BacktestResult) map[string]float64 {
		out := make(map[string]float64)
		for _, p := range res.IncomeSeries {
			if p.Date.Equal(divDate) {
				out[p.Symbol] = p.Amount
			}
		}
		return out
	}

	cleanIncome := incomeAt(clean)
	perturbedIncome := incomeAt(perturbed)
	require.NotEmpty(t, cleanIncome, "expected dividend income after the rebalance")
	require.Len(t, perturbedIncome, len(cleanIncome))
	for sym, amount := range cleanIncome {
		assert.InDelta(t, amount, perturbedIncome[sym], 1e-9,
			"post-boundary data changed the weights chosen at the boundary for %s", sym)
	}
}
