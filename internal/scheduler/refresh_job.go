package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/divvy/internal/modules/scoring"
)

// SnapshotBuilder produces a scored snapshot as of a cutoff date.
type SnapshotBuilder interface {
	Build(ctx context.Context, asOf time.Time) (*scoring.Snapshot, error)
}

// UniverseRefresher updates derived security metadata (prices, trailing
// dividends, payment frequency) from the history store.
type UniverseRefresher interface {
	RefreshAll(ctx context.Context) error
}

// SnapshotRefreshJob refreshes universe metadata, rebuilds the snapshot, and
// publishes it atomically. Readers keep the previous snapshot until the new
// one is complete; a failed build leaves the published snapshot untouched.
type SnapshotRefreshJob struct {
	refresher UniverseRefresher
	builder   SnapshotBuilder
	store     *scoring.Store
	timeout   time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewSnapshotRefreshJob creates the refresh job. refresher may be nil to skip
// the metadata pass. A non-positive timeout defaults to 30 minutes.
func NewSnapshotRefreshJob(refresher UniverseRefresher, builder SnapshotBuilder, store *scoring.Store, timeout time.Duration, log zerolog.Logger) *SnapshotRefreshJob {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SnapshotRefreshJob{
		refresher: refresher,
		builder:   builder,
		store:     store,
		timeout:   timeout,
		now:       time.Now,
		log:       log.With().Str("component", "snapshot_refresh").Logger(),
	}
}

// Name implements Job.
func (j *SnapshotRefreshJob) Name() string {
	return "snapshot_refresh"
}

// Run implements Job.
func (j *SnapshotRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	asOf := j.now().UTC()
	started := time.Now()

	if j.refresher != nil {
		if err := j.refresher.RefreshAll(ctx); err != nil {
			j.log.Warn().Err(err).Msg("universe refresh failed, scoring last-known metadata")
		}
	}

	snap, err := j.builder.Build(ctx, asOf)
	if err != nil {
		return fmt.Errorf("building snapshot: %w", err)
	}

	j.store.Publish(snap)
	j.log.Info().
		Time("as_of", snap.AsOf).
		Int("scored", len(snap.Scores)).
		Int("skipped", len(snap.Skipped)).
		Dur("took", time.Since(started)).
		Msg("snapshot published")
	return nil
}
