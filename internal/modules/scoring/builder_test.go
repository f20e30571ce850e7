package scoring

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/history"
	"github.com/aristath/divvy/internal/modules/risk"
	"github.com/aristath/divvy/internal/modules/sustainability"
)

// fakeUniverse implements domain.UniverseRepository in memory.
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
	f.securities = append(f.securities, sec)
	return nil
}

var snapAsOf = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// seedTicker registers three years of weekday prices and quarterly dividends.
func seedTicker(stub *history.Stub, symbol string, wiggle float64) {
	start := snapAsOf.AddDate(-3, 0, 0)
	var bars []domain.PriceBar
	d := start
	i := 0
	for d.Before(snapAsOf) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			bars = append(bars, domain.PriceBar{
				Date:  d,
				Close: 100 + 0.02*float64(i) + wiggle*math.Sin(float64(i)/7),
			})
			i++
		}
		d = d.AddDate(0, 0, 1)
	}
	stub.SetPrices(symbol, bars)

	var divs []domain.DividendPayment
	for y := 0; y < 3; y++ {
		for _, m := range []time.Month{3, 6, 9, 12} {
			divs = append(divs, domain.DividendPayment{
				ExDate: time.Date(2021+y, m, 15, 0, 0, 0, 0, time.UTC),
				Amount: 0.50 + 0.02*float64(y),
			})
		}
	}
	stub.SetDividends(symbol, divs)
}

func newTestBuilder(stub *history.Stub, universe *fakeUniverse, cache *Cache) *Builder {
	return NewBuilder(
		BuilderConfig{LookbackYears: 3, Workers: 4, MinOverlap: 30},
		universe,
		stub,
		sustainability.NewAnalyzer(sustainability.DefaultConfig()),
		risk.NewAnalyzer(risk.Config{RiskFreeRate: 0.02}),
		cache,
		zerolog.Nop(),
	)
}

func TestBuildSnapshot(t *testing.T) {
	stub := history.NewStub()
	universe := &fakeUniverse{}

	for i, sym := range []string{"AAA", "BBB", "CCC"} {
		seedTicker(stub, sym, float64(i+1))
		universe.securities = append(universe.securities, domain.Security{
			Symbol: sym, Sector: "Utilities", PayoutRatio: 0.45,
		})
	}
	// One ticker with no data at all
	universe.securities = append(universe.securities, domain.Security{Symbol: "EMPTY"})

	builder := newTestBuilder(stub, universe, nil)
	snap, err := builder.Build(context.Background(), snapAsOf)
	require.NoError(t, err)

	assert.Len(t, snap.Scores, 3)
	assert.Len(t, snap.RiskProfiles, 3)
	assert.Equal(t, "no price data", snap.Skipped["EMPTY"])
	assert.Equal(t, snapAsOf, snap.AsOf)

	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		score, ok := snap.Scores[sym]
		require.True(t, ok, sym)
		assert.NotEqual(t, domain.RatingInsufficientData, score.Rating)
		assert.True(t, snap.Correlations.Has(sym))
	}

	sec, ok := snap.Security("AAA")
	require.True(t, ok)
	assert.Equal(t, "Utilities", sec.Sector)
}

func TestBuildDerivesMetadataAtCutoff(t *testing.T) {
	// The stored security row carries whatever the last refresh saw. The
	// snapshot must ignore it and derive price and trailing yield from
	// history at the cutoff, so a rebuild at a past date sees past yields.
	stub := history.NewStub()
	universe := &fakeUniverse{}
	seedTicker(stub, "AAA", 1)
	universe.securities = append(universe.securities, domain.Security{
		Symbol: "AAA", Sector: "Utilities",
		Price: 999, TTMDividend: 99, DividendYield: 0.99,
	})

	builder := newTestBuilder(stub, universe, nil)

	current, err := builder.Build(context.Background(), snapAsOf)
	require.NoError(t, err)
	sec, ok := current.Security("AAA")
	require.True(t, ok)
	bars := current.PriceSeries["AAA"]
	assert.Equal(t, bars[len(bars)-1].Close, sec.Price)
	// Four quarterly payments of 0.54 in the trailing year
	assert.InDelta(t, 2.16, sec.TTMDividend, 1e-9)
	assert.InDelta(t, sec.TTMDividend/sec.Price, sec.DividendYield, 1e-12)

	histAsOf := snapAsOf.AddDate(-1, 0, 0)
	past, err := builder.Build(context.Background(), histAsOf)
	require.NoError(t, err)
	pastSec, ok := past.Security("AAA")
	require.True(t, ok)
	pastBars := past.PriceSeries["AAA"]
	assert.Equal(t, pastBars[len(pastBars)-1].Close, pastSec.Price)
	// The 2022 payments were 0.52 each
	assert.InDelta(t, 2.08, pastSec.TTMDividend, 1e-9)
	assert.Less(t, pastSec.Price, sec.Price, "the series trends upward")
}

func TestBuildEmptyUniverseFails(t *testing.T) {
	builder := newTestBuilder(history.NewStub(), &fakeUniverse{}, nil)
	_, err := builder.Build(context.Background(), snapAsOf)
	assert.Error(t, err)
}

func TestBuildRespectsCancellation(t *testing.T) {
	stub := history.NewStub()
	universe := &fakeUniverse{}
	seedTicker(stub, "AAA", 1)
	universe.securities = append(universe.securities, domain.Security{Symbol: "AAA"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	builder := newTestBuilder(stub, universe, nil)
	_, err := builder.Build(ctx, snapAsOf)
	assert.Error(t, err)
}

func TestStorePublishIsAtomic(t *testing.T) {
	store := NewStore()
	assert.Nil(t, store.Get())

	first := &Snapshot{AsOf: snapAsOf}
	store.Publish(first)
	assert.Same(t, first, store.Get())

	second := &Snapshot{AsOf: snapAsOf.AddDate(0, 0, 1)}
	store.Publish(second)
	assert.Same(t, second, store.Get())
}
