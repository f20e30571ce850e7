package scoring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/divvy/internal/domain"
)

// CachedResult is the per-ticker computation stored in the cache.
type CachedResult struct {
	Score   domain.SustainabilityScore `msgpack:"score"`
	Profile *domain.RiskProfile        `msgpack:"profile"`
}

// Cache stores computed scores as msgpack blobs in cache.db, keyed by symbol
// and as-of date. Everything here is recomputable; the cache only saves work
// when the same snapshot date is rebuilt.
type Cache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCache creates a score cache.
func NewCache(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		log: log.With().Str("component", "score_cache").Logger(),
	}
}

// InitSchema creates the cache table if it does not exist.
func (c *Cache) InitSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS score_cache (
			symbol     TEXT NOT NULL,
			as_of      INTEGER NOT NULL,
			payload    BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, as_of)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create score_cache schema: %w", err)
	}
	return nil
}

// Get returns the cached result for (symbol, asOf) if present. Corrupt
// entries are treated as misses.
func (c *Cache) Get(ctx context.Context, symbol string, asOf time.Time) (CachedResult, bool) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		"SELECT payload FROM score_cache WHERE symbol = ? AND as_of = ?",
		symbol, asOf.Unix()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedResult{}, false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("cache read failed")
		return CachedResult{}, false
	}

	var result CachedResult
	if err := msgpack.Unmarshal(payload, &result); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("cache entry corrupt, ignoring")
		return CachedResult{}, false
	}
	return result, true
}

// Put stores a computed result.
func (c *Cache) Put(ctx context.Context, symbol string, asOf time.Time, result CachedResult) error {
	payload, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry for %s: %w", symbol, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO score_cache (symbol, as_of, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol, as_of) DO UPDATE SET
			payload = excluded.payload, created_at = excluded.created_at`,
		symbol, asOf.Unix(), payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write cache entry for %s: %w", symbol, err)
	}
	return nil
}

// Prune deletes entries older than the retention period.
func (c *Cache) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM score_cache WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune score cache: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		c.log.Debug().Int64("deleted", deleted).Msg("score cache pruned")
	}
	return deleted, nil
}
