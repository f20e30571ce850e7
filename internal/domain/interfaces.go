package domain

import (
	"context"
	"time"
)

// HistoryProvider supplies historical market data. The production
// implementation is backed by SQLite; tests use an in-memory stub. All
// methods return data ordered by date ascending.
type HistoryProvider interface {
	// GetDailyPrices returns daily bars for symbol in [from, to].
	// Returns DataUnavailableError when the symbol has no price data.
	GetDailyPrices(ctx context.Context, symbol string, from, to time.Time) ([]PriceBar, error)

	// GetDividends returns per-share dividend payments for symbol in [from, to].
	// An empty slice (no error) means the security paid nothing in the window.
	GetDividends(ctx context.Context, symbol string, from, to time.Time) ([]DividendPayment, error)
}

// UniverseRepository provides access to the investable universe.
type UniverseRepository interface {
	GetAll(ctx context.Context) ([]Security, error)
	GetBySymbol(ctx context.Context, symbol string) (*Security, error)
	Upsert(ctx context.Context, sec Security) error
}
