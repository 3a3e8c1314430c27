package fixtures_test

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/internal/fixtures"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/master/memengine"
)

func Test_Info_IsValidAndDeterministic(t *testing.T) {
	info := fixtures.Info("bench", 7)

	assert.NoError(t, hts.Validate(info))
	assert.Equal(t, "bench-000007", info.Name)
	assert.Equal(t, info, fixtures.Info("bench", 7))
}

func Test_Series_SkipsWeekends(t *testing.T) {
	// setup
	friday := master.NewDate(2011, time.July, 1)

	// act
	series, err := fixtures.Series(rand.New(rand.NewPCG(1, 1)), friday, 3)

	// assert
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		friday,
		master.NewDate(2011, time.July, 4),
		master.NewDate(2011, time.July, 5),
	}, series.Dates())

	for _, v := range series.Values() {
		assert.Positive(t, v)
	}
}

func Test_Generate_StoresDocumentsAndPoints(t *testing.T) {
	// setup
	ctx := context.Background()
	engine, err := memengine.New()
	require.NoError(t, err)

	m, err := hts.NewMaster(engine, nil)
	require.NoError(t, err)

	// act
	result, err := fixtures.Generate(ctx, m, fixtures.Plan{Series: 12, Points: 20, Seed: 3})

	// assert
	require.NoError(t, err)
	assert.Len(t, result.ObjectIDs, 12)
	assert.Equal(t, 240, result.Points)

	found, err := m.Documents.Search(ctx, master.SearchRequest{Name: "fixture-*"})
	require.NoError(t, err)
	assert.Len(t, found.Documents, 12)

	ts, err := m.Points.GetTimeSeries(ctx, result.ObjectIDs[5], master.Latest, master.AllDates)
	require.NoError(t, err)
	assert.Equal(t, 20, ts.Series.Len())

	assert.NoError(t, m.CheckAll(ctx))
}

func Test_Generate_RejectsNegativeCounts(t *testing.T) {
	_, err := fixtures.Generate(context.Background(), nil, fixtures.Plan{Series: -1})

	assert.ErrorIs(t, err, master.ErrInvalidArgument)
}
