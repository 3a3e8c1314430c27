package sqlengine_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/master/sqlengine"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/mastertest"
)

func openSQLite(t *testing.T, options ...sqlengine.Option) *sqlengine.Engine {
	t.Helper()

	engine, err := sqlengine.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "master.db"), options...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = engine.Close() })

	return engine
}

func Test_SQLite_Conformance(t *testing.T) {
	mastertest.Run(t, func(t *testing.T) hts.Storage {
		return openSQLite(t)
	})
}

func Test_SQLite_Conformance_WithUUIDObjectIDs(t *testing.T) {
	mastertest.Run(t, func(t *testing.T) hts.Storage {
		return openSQLite(t, sqlengine.WithObjectIDSupplier(master.UUIDSupplier{}))
	})
}

func Test_SQLite_WithTablePrefix_RejectsNonIdentifiers(t *testing.T) {
	for _, prefix := range []string{"", "1abc", "master; DROP TABLE x", "with-dash"} {
		t.Run(prefix, func(t *testing.T) {
			// act
			_, err := sqlengine.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "master.db"),
				sqlengine.WithTablePrefix(prefix))

			// assert
			assert.ErrorIs(t, err, sqlengine.ErrInvalidTablePrefix)
		})
	}
}

func Test_SQLite_NewFromSQLiteDB_RejectsNilHandle(t *testing.T) {
	// act
	_, err := sqlengine.NewFromSQLiteDB(nil)

	// assert
	assert.ErrorIs(t, err, sqlengine.ErrNilDatabaseConnection)
	assert.ErrorIs(t, err, master.ErrInvalidArgument)
}

func Test_SQLite_Migrate_IsIdempotent(t *testing.T) {
	// setup
	engine := openSQLite(t)

	// act
	err := engine.Migrate(context.Background())

	// assert
	assert.NoError(t, err)
}

func Test_SQLite_TablePrefixesIsolateMasters(t *testing.T) {
	// setup
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "master.db")

	first, err := sqlengine.OpenSQLite(ctx, path, sqlengine.WithTablePrefix("first"))
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	second, err := sqlengine.OpenSQLite(ctx, path, sqlengine.WithTablePrefix("second"))
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	m, err := hts.NewMaster(first, nil)
	require.NoError(t, err)

	// arrange
	_, err = m.Documents.Add(ctx, helper.FixtureInfo("only in first"))
	require.NoError(t, err)

	// act
	oids, err := second.ObjectIDs(ctx, hts.Scheme)

	// assert
	require.NoError(t, err)
	assert.Empty(t, oids)
}

func Test_SQLite_NewObjectID_CountsUpPerScheme(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := openSQLite(t)

	// act
	first, err := engine.NewObjectID(ctx, "A")
	require.NoError(t, err)
	second, err := engine.NewObjectID(ctx, "A")
	require.NoError(t, err)
	other, err := engine.NewObjectID(ctx, "B")
	require.NoError(t, err)

	// assert
	assert.Equal(t, master.NewObjectID("A", "1000"), first)
	assert.Equal(t, master.NewObjectID("A", "1001"), second)
	assert.Equal(t, master.NewObjectID("B", "1000"), other)
}

func Test_SQLite_Mutate_RejectsSupersedingAClosedRecord(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := openSQLite(t)
	oid := master.NewObjectID("Test", "1")
	t0 := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

	// arrange
	first := master.Record{UniqueID: oid.AtVersion("0"), VersionFrom: t0, CorrectionFrom: t0, Payload: []byte(`{}`)}
	require.NoError(t, engine.Mutate(ctx, oid, func([]master.Record) (master.Mutation, error) {
		return master.Mutation{Insert: []master.Record{first}}, nil
	}))

	supersede := func([]master.Record) (master.Mutation, error) {
		return master.Mutation{Supersede: first.UniqueID, At: t0.Add(time.Hour)}, nil
	}
	require.NoError(t, engine.Mutate(ctx, oid, supersede))

	// act
	err := engine.Mutate(ctx, oid, supersede)

	// assert
	assert.ErrorIs(t, err, master.ErrConcurrencyConflict)

	stored, err := engine.Record(ctx, first.UniqueID)
	require.NoError(t, err)
	assert.True(t, t0.Add(time.Hour).Equal(stored.CorrectionTo))
}

func Test_SQLite_Mutate_RollsBackWhenThePlanFails(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := openSQLite(t)
	oid := master.NewObjectID("Test", "1")

	// act
	err := engine.Mutate(ctx, oid, func([]master.Record) (master.Mutation, error) {
		return master.Mutation{}, master.ErrObjectNotFound
	})

	// assert
	assert.ErrorIs(t, err, master.ErrNotFound)

	_, err = engine.Records(ctx, oid)
	assert.ErrorIs(t, err, master.ErrObjectNotFound)
}

func Test_SQLite_Records_RoundTripsSearchKeys(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := openSQLite(t)
	oid := master.NewObjectID("Test", "1")

	id, err := master.NewExternalIDWithDates(master.NewExternalID("ISIN", "GB00BH4HKS39"),
		master.NewDate(2011, time.January, 1), master.NewDate(2012, time.December, 31))
	require.NoError(t, err)

	record := master.Record{
		UniqueID:       oid.AtVersion("0"),
		VersionFrom:    time.Unix(0, 1_300_000_000_123_456_789).UTC(),
		CorrectionFrom: time.Unix(0, 1_300_000_000_123_456_789).UTC(),
		Name:           "Vodafone",
		ExternalIDs:    master.ExternalIDBundleWithDates{id},
		Attributes:     map[string]string{hts.AttrDataField: "PX_LAST"},
		Payload:        []byte(`{"name":"Vodafone"}`),
	}

	// arrange
	require.NoError(t, engine.Mutate(ctx, oid, func([]master.Record) (master.Mutation, error) {
		return master.Mutation{Insert: []master.Record{record}}, nil
	}))

	// act
	records, err := engine.Records(ctx, oid)

	// assert
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record, records[0])
}

func Test_SQLite_WithLogger_LogsStatements(t *testing.T) {
	// setup
	ctx := context.Background()
	logger, spy := helper.NewSpyLogger()
	engine := openSQLite(t, sqlengine.WithLogger(logger))

	m, err := hts.NewMaster(engine, nil)
	require.NoError(t, err)

	// act
	_, err = m.Documents.Add(ctx, helper.FixtureInfo("logged"))

	// assert
	require.NoError(t, err)
	assert.True(t, spy.HasDebugLogWithMessage("executed sql for: allocate").WithDurationMS().Assert())
	assert.True(t, spy.HasDebugLogWithMessage("executed sql for: insert").WithDurationMS().Assert())
	assert.True(t, spy.HasDebugLogWithMessage("executed sql for: migrate").Assert())
	assert.False(t, spy.HasErrorLogWithMessage("database execution failed").Assert())
}

func Test_SQLite_ReopensExistingDatabase(t *testing.T) {
	// setup
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "master.db")

	engine, err := sqlengine.OpenSQLite(ctx, path)
	require.NoError(t, err)

	m, err := hts.NewMaster(engine, nil)
	require.NoError(t, err)

	// arrange
	doc, err := m.Documents.Add(ctx, helper.FixtureInfo("durable"))
	require.NoError(t, err)
	_, err = m.Points.UpdateTimeSeriesDataPoints(ctx, doc.ObjectID(),
		helper.GivenPointSeries(t, helper.Point(2011, time.July, 1, 1.5)))
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	// act
	reopened, err := sqlengine.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	m, err = hts.NewMaster(reopened, nil, master.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	// assert
	got, err := m.Documents.Get(ctx, doc.UniqueID)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Info.Name)

	series, err := m.Points.GetTimeSeries(ctx, doc.ObjectID(), master.Latest, master.AllDates)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, series.Series.Values())
}
