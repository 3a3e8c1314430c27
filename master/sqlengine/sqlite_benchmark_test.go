package sqlengine_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/internal/fixtures"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/master/sqlengine"
)

func benchmarkMaster(b *testing.B, series int) (*hts.Master, fixtures.Result) {
	b.Helper()

	ctx := context.Background()

	engine, err := sqlengine.OpenSQLite(ctx, filepath.Join(b.TempDir(), "bench.db"))
	require.NoError(b, err)
	b.Cleanup(func() { _ = engine.Close() })

	m, err := hts.NewMaster(engine, nil)
	require.NoError(b, err)

	result, err := fixtures.Generate(ctx, m, fixtures.Plan{Series: series, Points: 50, Seed: 1})
	require.NoError(b, err)

	return m, result
}

func Benchmark_SQLite_Update_With_Many_Series_InTheStore(b *testing.B) {
	// setup
	ctx := context.Background()
	m, stored := benchmarkMaster(b, 200)
	oid := stored.ObjectIDs[len(stored.ObjectIDs)/2]

	// act
	b.ResetTimer()

	var updateTime time.Duration

	for i := 0; i < b.N; i++ {
		start := time.Now()
		_, err := m.Documents.Update(ctx, oid, fixtures.Info("updated", i))
		updateTime += time.Since(start)

		require.NoError(b, err)
	}

	b.ReportMetric(float64(updateTime.Microseconds())/1000/float64(b.N), "ms/update-op")
}

func Benchmark_SQLite_Search(b *testing.B) {
	// setup
	ctx := context.Background()
	m, _ := benchmarkMaster(b, 200)

	requests := map[string]master.SearchRequest{
		"by name pattern": {Name: "fixture-0001*"},
		"by attribute":    {Attributes: map[string]string{hts.AttrDataField: "PX_LAST"}},
		"first page":      {Paging: master.PagingRequest{PageNumber: 1, PageSize: 20}},
	}

	for name, request := range requests {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, err := m.Documents.Search(ctx, request)
				require.NoError(b, err)
			}
		})
	}
}

func Benchmark_SQLite_GetTimeSeries(b *testing.B) {
	// setup
	ctx := context.Background()
	m, stored := benchmarkMaster(b, 20)
	oid := stored.ObjectIDs[0]

	// act
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := m.Points.GetTimeSeries(ctx, oid, master.Latest, master.AllDates)
		require.NoError(b, err)
	}
}
