// Package history provides the SQLite-backed market data store: daily price
// bars and per-share dividend payments, keyed by symbol and date.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/domain"
)

// Repository implements domain.HistoryProvider on top of history.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new history repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "history").Logger(),
	}
}

// InitSchema creates the price and dividend tables if they do not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS daily_prices (
			symbol TEXT NOT NULL,
			date   INTEGER NOT NULL,
			open   REAL NOT NULL DEFAULT 0,
			high   REAL NOT NULL DEFAULT 0,
			low    REAL NOT NULL DEFAULT 0,
			close  REAL NOT NULL,
			volume INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, date)
		);
		CREATE TABLE IF NOT EXISTS dividend_history (
			symbol  TEXT NOT NULL,
			ex_date INTEGER NOT NULL,
			amount  REAL NOT NULL,
			PRIMARY KEY (symbol, ex_date)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// GetDailyPrices returns daily bars for symbol in [from, to], date ascending.
// Returns DataUnavailableError when the symbol has no rows at all.
func (r *Repository) GetDailyPrices(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceBar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		symbol, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		var bar domain.PriceBar
		var date int64
		if err := rows.Scan(&date, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price bar: %w", err)
		}
		bar.Date = time.Unix(date, 0).UTC()
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price bars: %w", err)
	}

	if len(bars) == 0 {
		var count int
		if err := r.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM daily_prices WHERE symbol = ?", symbol).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to check price availability for %s: %w", symbol, err)
		}
		if count == 0 {
			return nil, &domain.DataUnavailableError{Symbol: symbol, Kind: "prices"}
		}
	}

	return bars, nil
}

// GetDividends returns dividend payments for symbol in [from, to], date
// ascending. An empty result is not an error: the security may simply not
// have paid in the window.
func (r *Repository) GetDividends(ctx context.Context, symbol string, from, to time.Time) ([]domain.DividendPayment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ex_date, amount
		FROM dividend_history
		WHERE symbol = ? AND ex_date >= ? AND ex_date <= ?
		ORDER BY ex_date ASC`,
		symbol, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query dividends for %s: %w", symbol, err)
	}
	defer rows.Close()

	var payments []domain.DividendPayment
	for rows.Next() {
		var p domain.DividendPayment
		var exDate int64
		if err := rows.Scan(&exDate, &p.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan dividend: %w", err)
		}
		p.ExDate = time.Unix(exDate, 0).UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dividends: %w", err)
	}

	return payments, nil
}

// UpsertPrices bulk-inserts daily bars for a symbol inside one transaction.
func (r *Repository) UpsertPrices(ctx context.Context, symbol string, bars []domain.PriceBar) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin price upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_prices (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`)
	if err != nil {
		return fmt.Errorf("failed to prepare price upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, bar.Date.Unix(),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume); err != nil {
			return fmt.Errorf("failed to upsert price bar %s/%s: %w",
				symbol, bar.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price upsert: %w", err)
	}

	r.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("prices upserted")
	return nil
}

// UpsertDividends bulk-inserts dividend payments for a symbol.
func (r *Repository) UpsertDividends(ctx context.Context, symbol string, payments []domain.DividendPayment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin dividend upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dividend_history (symbol, ex_date, amount)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol, ex_date) DO UPDATE SET amount = excluded.amount`)
	if err != nil {
		return fmt.Errorf("failed to prepare dividend upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range payments {
		if _, err := stmt.ExecContext(ctx, symbol, p.ExDate.Unix(), p.Amount); err != nil {
			return fmt.Errorf("failed to upsert dividend %s/%s: %w",
				symbol, p.ExDate.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dividend upsert: %w", err)
	}

	return nil
}
