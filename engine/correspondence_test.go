package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgcdha001/pgcdha-sub002/analytics"
	"github.com/pgcdha001/pgcdha-sub002/cache"
	"github.com/pgcdha001/pgcdha-sub002/logger"
	"github.com/pgcdha001/pgcdha-sub002/metrics"
	"github.com/pgcdha001/pgcdha-sub002/types"
)

type fakeCorrespondence struct {
	queries []analytics.CorrespondenceQuery
	payload analytics.CorrespondencePayload
	err     error
}

func (f *fakeCorrespondence) FetchCorrespondence(_ context.Context, q analytics.CorrespondenceQuery) (analytics.CorrespondencePayload, error) {
	f.queries = append(f.queries, q)
	return f.payload, f.err
}

func newTestCorrespondence(gw *fakeCorrespondence) *CorrespondenceEngine {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore[analytics.CorrespondencePayload]("correspondence", time.Minute)
	return NewCorrespondence(logger.NewNop(), metrics.NewPrometheusMetrics(logger.NewNop(), nil), gw, store,
		WithClock(func() time.Time { return now }))
}

func correspondenceRecords() []analytics.CorrespondenceRecord {
	return []analytics.CorrespondenceRecord{
		{ID: "a", Type: "call", Level: 1, Gender: "male", Date: time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)},
		{ID: "b", Type: "email", Level: 2, Gender: "female", Date: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)},
		{ID: "c", Type: "call", Level: 2, Gender: "female", Date: time.Date(2024, 11, 2, 9, 0, 0, 0, time.UTC)},
	}
}

func TestCorrespondence_LoadAndFilter(t *testing.T) {
	gw := &fakeCorrespondence{payload: analytics.CorrespondencePayload{Records: correspondenceRecords()}}
	e := newTestCorrespondence(gw)

	_, err := e.GetView(analytics.FilterSpec{})
	assert.ErrorIs(t, err, types.ErrNotLoaded)

	require.NoError(t, e.Load(context.Background(), false).Err)
	require.Len(t, gw.queries, 1)
	assert.Equal(t, analytics.BucketAll, gw.queries[0].DateFilter)

	all, err := e.GetView(analytics.FilterSpec{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)

	month, err := e.GetView(analytics.FilterSpec{DateBucket: analytics.BucketMonth})
	require.NoError(t, err)
	assert.Equal(t, 2, month.Total)

	calls, err := e.GetView(analytics.FilterSpec{Type: "CALL"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls.Total)

	assert.Equal(t, StateReady, e.State())
}

func TestCorrespondence_CustomRange(t *testing.T) {
	gw := &fakeCorrespondence{payload: analytics.CorrespondencePayload{Records: correspondenceRecords()[:2]}}
	e := newTestCorrespondence(gw)

	rng, err := analytics.ParseCustomRange("2025-03-01", "2025-03-15")
	require.NoError(t, err)

	view, err := e.GetCustomView(context.Background(), rng, analytics.FilterSpec{Level: 2, Type: "email"})
	require.NoError(t, err)
	assert.Equal(t, analytics.BucketCustom, view.Bucket)
	assert.Equal(t, 1, view.Total)

	require.Len(t, gw.queries, 1)
	q := gw.queries[0]
	assert.Equal(t, analytics.BucketCustom, q.DateFilter)
	require.NotNil(t, q.Range)
	assert.Equal(t, "2025-03-01", q.Range.Start())
	assert.Equal(t, analytics.Level(2), q.Level)
	assert.Equal(t, "email", q.Type)
}

func TestCorrespondence_CustomRangeFailure(t *testing.T) {
	gw := &fakeCorrespondence{err: &types.HTTPError{Endpoint: "correspondence", StatusCode: 500}}
	e := newTestCorrespondence(gw)

	rng, err := analytics.ParseCustomRange("2025-03-01", "2025-03-15")
	require.NoError(t, err)

	view, err := e.GetCustomView(context.Background(), rng, analytics.FilterSpec{})
	assert.ErrorIs(t, err, types.ErrCustomRange)
	assert.Zero(t, view.Total)
	assert.NotNil(t, view.Records)
	assert.ErrorIs(t, e.CustomErr(), types.ErrCustomRange)

	e.Refresh(context.Background())
	assert.NoError(t, e.CustomErr())
}
