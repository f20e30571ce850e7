package history

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/divvy/internal/domain"
)

// Stub is an in-memory HistoryProvider for tests and offline runs. Data is
// registered per symbol and served back filtered by date range.
type Stub struct {
	mu        sync.RWMutex
	prices    map[string][]domain.PriceBar
	dividends map[string][]domain.DividendPayment
}

// NewStub creates an empty in-memory history provider.
func NewStub() *Stub {
	return &Stub{
		prices:    make(map[string][]domain.PriceBar),
		dividends: make(map[string][]domain.DividendPayment),
	}
}

// SetPrices registers the full price series for a symbol. Bars must be date
// ascending.
func (s *Stub) SetPrices(symbol string, bars []domain.PriceBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = bars
}

// SetDividends registers the full dividend series for a symbol.
func (s *Stub) SetDividends(symbol string, payments []domain.DividendPayment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dividends[symbol] = payments
}

// GetDailyPrices implements domain.HistoryProvider.
func (s *Stub) GetDailyPrices(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bars, ok := s.prices[symbol]
	if !ok {
		return nil, &domain.DataUnavailableError{Symbol: symbol, Kind: "prices"}
	}

	var out []domain.PriceBar
	for _, bar := range bars {
		if !bar.Date.Before(from) && !bar.Date.After(to) {
			out = append(out, bar)
		}
	}
	return out, nil
}

// GetDividends implements domain.HistoryProvider.
func (s *Stub) GetDividends(ctx context.Context, symbol string, from, to time.Time) ([]domain.DividendPayment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DividendPayment
	for _, p := range s.dividends[symbol] {
		if !p.ExDate.Before(from) && !p.ExDate.After(to) {
			out = append(out, p)
		}
	}
	return out, nil
}
