// Package universe manages the investable universe: the set of securities the
// optimizer may select from, with their metadata and derived yield figures.
package universe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/domain"
)

// Repository handles securities stored in universe.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// securityColumns is the column list for the securities table.
// Order must match scanSecurity.
const securityColumns = `symbol, name, asset_class, sector, currency, price,
ttm_dividend, dividend_yield, payment_frequency, payout_ratio, updated_at`

// NewRepository creates a new universe repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "universe").Logger(),
	}
}

// InitSchema creates the securities table if it does not exist.
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS securities (
			symbol            TEXT PRIMARY KEY,
			name              TEXT NOT NULL DEFAULT '',
			asset_class       TEXT NOT NULL DEFAULT 'stock',
			sector            TEXT NOT NULL DEFAULT '',
			currency          TEXT NOT NULL DEFAULT 'USD',
			price             REAL NOT NULL DEFAULT 0,
			ttm_dividend      REAL NOT NULL DEFAULT 0,
			dividend_yield    REAL NOT NULL DEFAULT 0,
			payment_frequency TEXT NOT NULL DEFAULT 'none',
			payout_ratio      REAL NOT NULL DEFAULT 0,
			updated_at        INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_securities_sector ON securities(sector);
	`)
	if err != nil {
		return fmt.Errorf("failed to create securities schema: %w", err)
	}
	return nil
}

// GetAll returns every security in the universe, ordered by symbol.
func (r *Repository) GetAll(ctx context.Context) ([]domain.Security, error) {
	query := fmt.Sprintf("SELECT %s FROM securities ORDER BY symbol", securityColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var securities []domain.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, err
		}
		securities = append(securities, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating securities: %w", err)
	}

	return securities, nil
}

// GetBySymbol returns one security, or DataUnavailableError when absent.
func (r *Repository) GetBySymbol(ctx context.Context, symbol string) (*domain.Security, error) {
	query := fmt.Sprintf("SELECT %s FROM securities WHERE symbol = ?", securityColumns)
	row := r.db.QueryRowContext(ctx, query, symbol)

	sec, err := scanSecurityRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.DataUnavailableError{Symbol: symbol, Kind: "security"}
	}
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// Upsert inserts or replaces a security record.
func (r *Repository) Upsert(ctx context.Context, sec domain.Security) error {
	if sec.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if sec.UpdatedAt.IsZero() {
		sec.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO securities (symbol, name, asset_class, sector, currency, price,
			ttm_dividend, dividend_yield, payment_frequency, payout_ratio, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			asset_class = excluded.asset_class,
			sector = excluded.sector,
			currency = excluded.currency,
			price = excluded.price,
			ttm_dividend = excluded.ttm_dividend,
			dividend_yield = excluded.dividend_yield,
			payment_frequency = excluded.payment_frequency,
			payout_ratio = excluded.payout_ratio,
			updated_at = excluded.updated_at`,
		sec.Symbol, sec.Name, string(sec.AssetClass), sec.Sector, sec.Currency,
		sec.Price, sec.TTMDividend, sec.DividendYield, string(sec.Frequency),
		sec.PayoutRatio, sec.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", sec.Symbol, err)
	}

	r.log.Debug().Str("symbol", sec.Symbol).Msg("security upserted")
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSecurity(rows *sql.Rows) (domain.Security, error) {
	return scanFrom(rows)
}

func scanSecurityRow(row *sql.Row) (domain.Security, error) {
	return scanFrom(row)
}

func scanFrom(s scanner) (domain.Security, error) {
	var sec domain.Security
	var assetClass, frequency string
	var updatedAt int64

	err := s.Scan(&sec.Symbol, &sec.Name, &assetClass, &sec.Sector, &sec.Currency,
		&sec.Price, &sec.TTMDividend, &sec.DividendYield, &frequency,
		&sec.PayoutRatio, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sec, err
		}
		return sec, fmt.Errorf("failed to scan security: %w", err)
	}

	sec.AssetClass = domain.AssetClass(assetClass)
	sec.Frequency = domain.PaymentFrequency(frequency)
	sec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return sec, nil
}
