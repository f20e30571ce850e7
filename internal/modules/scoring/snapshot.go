// Package scoring builds and publishes as-of snapshots: the combined
// sustainability scores, risk profiles and correlation structure for the
// whole universe at one data cutoff. Snapshots are immutable once built;
// readers always see a complete, internally consistent set.
package scoring

import (
	"sync/atomic"
	"time"

	"github.com/aristath/divvy/internal/domain"
	"github.com/aristath/divvy/internal/modules/risk"
)

// Snapshot is an immutable view of the scored universe at one as-of date.
type Snapshot struct {
	AsOf         time.Time
	Securities   []domain.Security
	Scores       map[string]domain.SustainabilityScore
	RiskProfiles map[string]*domain.RiskProfile
	Correlations *risk.CorrelationMatrix
	// PriceSeries holds the daily bars each profile was computed from,
	// reused by the risk-parity covariance builder.
	PriceSeries map[string][]domain.PriceBar
	// Skipped maps symbols excluded from the snapshot to the reason.
	Skipped map[string]string
}

// Security returns the snapshot's record for a symbol, if present.
func (s *Snapshot) Security(symbol string) (*domain.Security, bool) {
	for i := range s.Securities {
		if s.Securities[i].Symbol == symbol {
			return &s.Securities[i], true
		}
	}
	return nil, false
}

// Store publishes snapshots with an atomic swap. Readers never observe a
// partially built snapshot.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the active snapshot, or nil when none has been published yet.
func (s *Store) Get() *Snapshot {
	return s.current.Load()
}

// Publish atomically replaces the active snapshot.
func (s *Store) Publish(snap *Snapshot) {
	s.current.Store(snap)
}
