package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/divvy/internal/modules/scoring"
)

type fakeBuilder struct {
	snap *scoring.Snapshot
	err  error

	calls []time.Time
	order *[]string
}

func (f *fakeBuilder) Build(ctx context.Context, asOf time.Time) (*scoring.Snapshot, error) {
	f.calls = append(f.calls, asOf)
	if f.order != nil {
		*f.order = append(*f.order, "build")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

type fakeRefresher struct {
	err   error
	order *[]string
}

func (f *fakeRefresher) RefreshAll(ctx context.Context) error {
	if f.order != nil {
		*f.order = append(*f.order, "refresh")
	}
	return f.err
}

func TestSnapshotRefreshPublishes(t *testing.T) {
	asOf := time.Date(2024, 3, 1, 6, 30, 0, 0, time.UTC)
	builder := &fakeBuilder{snap: &scoring.Snapshot{AsOf: asOf}}
	store := scoring.NewStore()

	job := NewSnapshotRefreshJob(nil, builder, store, time.Minute, zerolog.Nop())
	job.now = func() time.Time { return asOf }

	require.NoError(t, job.Run())
	require.Len(t, builder.calls, 1)
	assert.Equal(t, asOf, builder.calls[0])

	published := store.Get()
	require.NotNil(t, published)
	assert.Equal(t, asOf, published.AsOf)
}

func TestSnapshotRefreshFailureKeepsPrevious(t *testing.T) {
	previous := &scoring.Snapshot{AsOf: time.Date(2024, 2, 29, 6, 30, 0, 0, time.UTC)}
	store := scoring.NewStore()
	store.Publish(previous)

	builder := &fakeBuilder{err: errors.New("history database locked")}
	job := NewSnapshotRefreshJob(nil, builder, store, time.Minute, zerolog.Nop())

	require.Error(t, job.Run())
	assert.Same(t, previous, store.Get(), "failed refresh must not clobber the active snapshot")
}

func TestSnapshotRefreshUpdatesUniverseFirst(t *testing.T) {
	var order []string
	builder := &fakeBuilder{snap: &scoring.Snapshot{AsOf: time.Now()}, order: &order}
	refresher := &fakeRefresher{order: &order}

	job := NewSnapshotRefreshJob(refresher, builder, scoring.NewStore(), time.Minute, zerolog.Nop())
	require.NoError(t, job.Run())
	assert.Equal(t, []string{"refresh", "build"}, order,
		"metadata must be current before scoring starts")
}

func TestSnapshotRefreshToleratesUniverseFailure(t *testing.T) {
	builder := &fakeBuilder{snap: &scoring.Snapshot{AsOf: time.Now()}}
	refresher := &fakeRefresher{err: errors.New("feed offline")}
	store := scoring.NewStore()

	job := NewSnapshotRefreshJob(refresher, builder, store, time.Minute, zerolog.Nop())
	require.NoError(t, job.Run(), "stale metadata is still scorable")
	assert.NotNil(t, store.Get())
}

func TestSchedulerRunNow(t *testing.T) {
	builder := &fakeBuilder{snap: &scoring.Snapshot{AsOf: time.Now()}}
	store := scoring.NewStore()
	job := NewSnapshotRefreshJob(nil, builder, store, time.Minute, zerolog.Nop())

	s := New(zerolog.Nop())
	require.NoError(t, s.RunNow(job))
	assert.NotNil(t, store.Get())
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	job := NewSnapshotRefreshJob(nil, &fakeBuilder{snap: &scoring.Snapshot{}}, scoring.NewStore(), time.Minute, zerolog.Nop())

	assert.Error(t, s.AddJob("not a schedule", job))
	assert.NoError(t, s.AddJob("0 30 6 * * *", job))
}
