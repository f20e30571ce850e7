package universe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/domain"
)

// Loader refreshes derived security metadata (last price, trailing dividends,
// yield, payment frequency) from the history database before a batch run.
type Loader struct {
	repo    *Repository
	history domain.HistoryProvider
	log     zerolog.Logger
	now     func() time.Time
}

// NewLoader creates a universe loader.
func NewLoader(repo *Repository, history domain.HistoryProvider, log zerolog.Logger) *Loader {
	return &Loader{
		repo:    repo,
		history: history,
		log:     log.With().Str("component", "universe_loader").Logger(),
		now:     time.Now,
	}
}

// RefreshAll recomputes derived fields for every security in the universe.
// Securities with no price data are left untouched and logged.
func (l *Loader) RefreshAll(ctx context.Context) error {
	securities, err := l.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading universe: %w", err)
	}

	refreshed := 0
	for _, sec := range securities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.Refresh(ctx, &sec); err != nil {
			var unavailable *domain.DataUnavailableError
			if errors.As(err, &unavailable) {
				l.log.Warn().Str("symbol", sec.Symbol).Msg("no price data, skipping refresh")
				continue
			}
			return fmt.Errorf("refreshing %s: %w", sec.Symbol, err)
		}
		refreshed++
	}

	l.log.Info().Int("refreshed", refreshed).Int("total", len(securities)).
		Msg("universe refresh complete")
	return nil
}

// Refresh recomputes one security's derived fields and persists the result.
func (l *Loader) Refresh(ctx context.Context, sec *domain.Security) error {
	now := l.now().UTC()
	yearAgo := now.AddDate(-1, 0, 0)

	// Last close within the trailing month
	bars, err := l.history.GetDailyPrices(ctx, sec.Symbol, now.AddDate(0, -1, 0), now)
	if err != nil {
		return err
	}
	if len(bars) > 0 {
		sec.Price = bars[len(bars)-1].Close
	}

	divs, err := l.history.GetDividends(ctx, sec.Symbol, yearAgo, now)
	if err != nil {
		return err
	}

	ttm := 0.0
	for _, d := range divs {
		ttm += d.Amount
	}
	sec.TTMDividend = ttm
	if sec.Price > 0 {
		sec.DividendYield = ttm / sec.Price
	} else {
		sec.DividendYield = 0
	}
	sec.Frequency = ClassifyFrequency(len(divs))
	sec.UpdatedAt = now

	return l.repo.Upsert(ctx, *sec)
}

// ClassifyFrequency buckets a trailing-twelve-month payment count into a
// payment frequency.
func ClassifyFrequency(paymentsPerYear int) domain.PaymentFrequency {
	switch {
	case paymentsPerYear >= 10:
		return domain.FrequencyMonthly
	case paymentsPerYear >= 3:
		return domain.FrequencyQuarterly
	case paymentsPerYear == 2:
		return domain.FrequencySemiAnnual
	case paymentsPerYear == 1:
		return domain.FrequencyAnnual
	default:
		return domain.FrequencyNone
	}
}
