// Package mastertest is the behavior every storage engine must show when driven through the hts master.
// Engine packages run it from their own tests with a factory for fresh, empty storage.
package mastertest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
)

// StorageFactory returns empty storage. It is called once per scenario.
type StorageFactory func(t *testing.T) hts.Storage

// T0 is the instant the fake clock of every scenario starts at.
var T0 = time.Date(2011, time.July, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	clock    *helper.FakeClock
	notifier *helper.NotifierSpy
	master   *hts.Master
}

func newFixture(t *testing.T, factory StorageFactory) fixture {
	t.Helper()

	clock := helper.NewFakeClock(T0)
	notifier := helper.NewNotifierSpy()

	m, err := hts.NewMaster(factory(t), clock, master.WithNotifier(notifier))
	require.NoError(t, err)

	return fixture{ctx: context.Background(), clock: clock, notifier: notifier, master: m}
}

// Run executes every scenario against storage from factory.
func Run(t *testing.T, factory StorageFactory) {
	t.Run("documents", func(t *testing.T) { runDocumentScenarios(t, factory) })
	t.Run("search", func(t *testing.T) { runSearchScenarios(t, factory) })
	t.Run("points", func(t *testing.T) { runPointScenarios(t, factory) })
	t.Run("concurrency", func(t *testing.T) { runConcurrencyScenarios(t, factory) })
}

func runDocumentScenarios(t *testing.T, factory StorageFactory) {
	t.Run("add then get", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		info := helper.FixtureInfo("VOD LN Equity")

		// act
		added, err := f.master.Documents.Add(f.ctx, info)

		// assert
		require.NoError(t, err)
		assert.Equal(t, hts.Scheme, added.UniqueID.Scheme)
		assert.Equal(t, "0", added.UniqueID.Version)
		assertSameInstant(t, T0, added.VersionFrom)
		assertSameInstant(t, T0, added.CorrectionFrom)
		assert.True(t, added.IsCurrent())

		got, err := f.master.Documents.Get(f.ctx, added.UniqueID)
		require.NoError(t, err)
		assert.Equal(t, *info, got.Info)

		latest, err := f.master.Documents.GetAt(f.ctx, added.ObjectID(), master.Latest)
		require.NoError(t, err)
		assert.Equal(t, added.UniqueID, latest.UniqueID)

		assert.Equal(t, []master.ChangeKind{master.ChangeAdded}, f.notifier.Kinds())
	})

	t.Run("add rejects incomplete documents and stores nothing", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		info := helper.FixtureInfo("incomplete")
		info.Name = ""
		info.DataSource = ""

		// act
		_, err := f.master.Documents.Add(f.ctx, info)
		_, nilErr := f.master.Documents.Add(f.ctx, nil)

		// assert
		assert.ErrorIs(t, err, master.ErrInvalidArgument)
		assert.ErrorIs(t, err, hts.ErrMissingName)
		assert.ErrorIs(t, err, hts.ErrMissingDataSource)
		assert.ErrorIs(t, nilErr, master.ErrNilInfo)

		oids, err := f.master.Documents.ObjectIDs(f.ctx)
		require.NoError(t, err)
		assert.Empty(t, oids)
		assert.Empty(t, f.notifier.Events())
	})

	omissions := []struct {
		field    string
		omit     func(info *hts.Info)
		expected error
	}{
		{"name", func(info *hts.Info) { info.Name = "" }, hts.ErrMissingName},
		{"dataField", func(info *hts.Info) { info.DataField = "" }, hts.ErrMissingDataField},
		{"dataSource", func(info *hts.Info) { info.DataSource = "" }, hts.ErrMissingDataSource},
		{"dataProvider", func(info *hts.Info) { info.DataProvider = "" }, hts.ErrMissingDataProvider},
		{"observationTime", func(info *hts.Info) { info.ObservationTime = "" }, hts.ErrMissingObservationTime},
		{"externalIdBundle", func(info *hts.Info) { info.ExternalIDBundle = nil }, hts.ErrMissingExternalIDBundle},
	}

	for _, tc := range omissions {
		t.Run("add without "+tc.field+" stores nothing", func(t *testing.T) {
			// setup
			f := newFixture(t, factory)
			info := helper.FixtureInfo("incomplete")
			tc.omit(info)

			// act
			_, err := f.master.Documents.Add(f.ctx, info)

			// assert
			assert.ErrorIs(t, err, master.ErrInvalidArgument)
			assert.ErrorIs(t, err, tc.expected)

			oids, err := f.master.Documents.ObjectIDs(f.ctx)
			require.NoError(t, err)
			assert.Empty(t, oids)
			assert.Empty(t, f.notifier.Events())
		})
	}

	t.Run("get of an unknown unique id is not found", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)

		// act
		_, err := f.master.Documents.Get(f.ctx, master.NewObjectID(hts.Scheme, "424242").AtVersion("0"))

		// assert
		assert.ErrorIs(t, err, master.ErrNotFound)
	})

	t.Run("update keeps the old version reachable by version instant", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		added, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("before"))
		require.NoError(t, err)

		t1 := f.clock.Advance(time.Hour)

		// act
		updated, err := f.master.Documents.Update(f.ctx, added.ObjectID(), helper.FixtureInfo("after"))

		// assert
		require.NoError(t, err)
		assert.Equal(t, "2", updated.UniqueID.Version)
		assertSameInstant(t, t1, updated.VersionFrom)

		old, err := f.master.Documents.GetAt(f.ctx, added.ObjectID(), master.VersionAsOf(T0.Add(30*time.Minute)))
		require.NoError(t, err)
		assert.Equal(t, "before", old.Info.Name)
		assert.Equal(t, "1", old.UniqueID.Version)
		assertSameInstant(t, t1, old.VersionTo)

		asKnownThen, err := f.master.Documents.GetAt(f.ctx, added.ObjectID(),
			master.NewVersionCorrection(T0.Add(30*time.Minute), T0.Add(30*time.Minute)))
		require.NoError(t, err)
		assert.Equal(t, added.UniqueID, asKnownThen.UniqueID)

		latest, err := f.master.Documents.GetAt(f.ctx, added.ObjectID(), master.Latest)
		require.NoError(t, err)
		assert.Equal(t, "after", latest.Info.Name)

		superseded, err := f.master.Documents.Get(f.ctx, added.UniqueID)
		require.NoError(t, err)
		assertSameInstant(t, t1, superseded.CorrectionTo)

		assert.Equal(t, []master.ChangeKind{master.ChangeAdded, master.ChangeUpdated}, f.notifier.Kinds())
		assertSameInstant(t, t1, f.notifier.Events()[1].AsOf)
		require.NoError(t, f.master.Documents.CheckInvariants(f.ctx, added.ObjectID()))
	})

	t.Run("update if current rejects a stale unique id", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		added, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("v1"))
		require.NoError(t, err)

		f.clock.Advance(time.Minute)
		_, err = f.master.Documents.UpdateIfCurrent(f.ctx, added.UniqueID, helper.FixtureInfo("v2"))
		require.NoError(t, err)

		// act
		_, err = f.master.Documents.UpdateIfCurrent(f.ctx, added.UniqueID, helper.FixtureInfo("v3"))

		// assert
		assert.ErrorIs(t, err, master.ErrConflict)
		assert.ErrorIs(t, err, master.ErrStaleUniqueID)

		latest, err := f.master.Documents.GetAt(f.ctx, added.ObjectID(), master.Latest)
		require.NoError(t, err)
		assert.Equal(t, "v2", latest.Info.Name)
	})

	t.Run("correct replaces the current correction and keeps the version interval", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		added, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("typo"))
		require.NoError(t, err)

		t1 := f.clock.Advance(time.Hour)

		// act
		corrected, err := f.master.Documents.Correct(f.ctx, added.UniqueID, helper.FixtureInfo("fixed"))

		// assert
		require.NoError(t, err)
		assert.Equal(t, "1", corrected.UniqueID.Version)
		assertSameInstant(t, T0, corrected.VersionFrom)
		assertSameInstant(t, t1, corrected.CorrectionFrom)

		before, err := f.master.Documents.GetAt(f.ctx, added.ObjectID(), master.CorrectedTo(T0.Add(30*time.Minute)))
		require.NoError(t, err)
		assert.Equal(t, "typo", before.Info.Name)

		latest, err := f.master.Documents.GetAt(f.ctx, added.ObjectID(), master.Latest)
		require.NoError(t, err)
		assert.Equal(t, "fixed", latest.Info.Name)

		_, err = f.master.Documents.Correct(f.ctx, added.UniqueID, helper.FixtureInfo("again"))
		assert.ErrorIs(t, err, master.ErrNotFound)
		assert.ErrorIs(t, err, master.ErrNotCurrentCorrection)

		assert.Equal(t, []master.ChangeKind{master.ChangeAdded, master.ChangeCorrected}, f.notifier.Kinds())
		assertSameInstant(t, t1, f.notifier.Events()[1].AsOf)
	})

	t.Run("remove ends the latest version", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		added, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("gone"))
		require.NoError(t, err)

		t1 := f.clock.Advance(time.Hour)

		// act
		err = f.master.Documents.Remove(f.ctx, added.ObjectID())

		// assert
		require.NoError(t, err)

		_, err = f.master.Documents.GetAt(f.ctx, added.ObjectID(), master.Latest)
		assert.ErrorIs(t, err, master.ErrNotFound)

		before, err := f.master.Documents.GetAt(f.ctx, added.ObjectID(), master.VersionAsOf(T0.Add(time.Minute)))
		require.NoError(t, err)
		assertSameInstant(t, t1, before.VersionTo)

		assert.ErrorIs(t, f.master.Documents.Remove(f.ctx, added.ObjectID()), master.ErrNotFound)

		_, err = f.master.Documents.Update(f.ctx, added.ObjectID(), helper.FixtureInfo("revived"))
		assert.ErrorIs(t, err, master.ErrNotFound)

		result, err := f.master.Documents.Search(f.ctx, master.SearchRequest{})
		require.NoError(t, err)
		assert.Empty(t, result.Documents)

		assert.Equal(t, []master.ChangeKind{master.ChangeAdded, master.ChangeRemoved}, f.notifier.Kinds())
		assertSameInstant(t, t1, f.notifier.Events()[1].AsOf)
		require.NoError(t, f.master.CheckAll(f.ctx))
	})

	t.Run("history lists newest version first then newest correction first", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		added, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("v0"))
		require.NoError(t, err)

		f.clock.Advance(time.Hour)
		updated, err := f.master.Documents.Update(f.ctx, added.ObjectID(), helper.FixtureInfo("v1"))
		require.NoError(t, err)

		t2 := f.clock.Advance(time.Hour)
		_, err = f.master.Documents.Correct(f.ctx, updated.UniqueID, helper.FixtureInfo("v1 fixed"))
		require.NoError(t, err)

		// act
		all, err := f.master.Documents.History(f.ctx, master.HistoryRequest{ObjectID: added.ObjectID()})
		require.NoError(t, err)

		latestCorrections, err := f.master.Documents.History(f.ctx, master.HistoryRequest{
			ObjectID:        added.ObjectID(),
			CorrectionsFrom: t2,
		})
		require.NoError(t, err)

		firstPage, err := f.master.Documents.History(f.ctx, master.HistoryRequest{
			ObjectID: added.ObjectID(),
			Paging:   master.PagingRequest{PageNumber: 1, PageSize: 2},
		})
		require.NoError(t, err)

		// assert
		assert.Equal(t, []string{"3", "2", "1", "0"}, versions(all.Documents))
		assert.Equal(t, []string{"3", "1"}, versions(latestCorrections.Documents))
		assert.Equal(t, []string{"3", "2"}, versions(firstPage.Documents))
		assert.Equal(t, 4, firstPage.Paging.TotalItems)
		assert.Equal(t, 2, firstPage.Paging.TotalPages())
		require.NoError(t, f.master.Documents.CheckInvariants(f.ctx, added.ObjectID()))
	})

	t.Run("a failing notifier does not undo the change", func(t *testing.T) {
		// setup
		clock := helper.NewFakeClock(T0)
		notifier := helper.NewFailingNotifierSpy()
		m, err := hts.NewMaster(factory(t), clock, master.WithNotifier(notifier))
		require.NoError(t, err)

		// act
		added, err := m.Documents.Add(context.Background(), helper.FixtureInfo("kept"))

		// assert
		require.NoError(t, err)
		assert.Len(t, notifier.Events(), 1)

		_, err = m.Documents.Get(context.Background(), added.UniqueID)
		assert.NoError(t, err)
	})
}

func runSearchScenarios(t *testing.T, factory StorageFactory) {
	f := newFixture(t, factory)

	alphaInfo := helper.FixtureInfoWithIDs("Alpha",
		master.NewExternalID("BLOOMBERG_TICKER", "A"),
		master.NewExternalID("RIC", "A.L"),
	)
	betaInfo := helper.FixtureInfoWithIDs("Beta", master.NewExternalID("BLOOMBERG_TICKER", "B"))
	charlieInfo := helper.FixtureInfoWithIDs("Charlie", master.NewExternalID("RIC", "C.L"))
	charlieInfo.DataSource = "REUTERS"

	alpha, err := f.master.Documents.Add(f.ctx, alphaInfo)
	require.NoError(t, err)
	beta, err := f.master.Documents.Add(f.ctx, betaInfo)
	require.NoError(t, err)
	charlie, err := f.master.Documents.Add(f.ctx, charlieInfo)
	require.NoError(t, err)

	bt := func(v string) master.ExternalID { return master.NewExternalID("BLOOMBERG_TICKER", v) }
	ric := func(v string) master.ExternalID { return master.NewExternalID("RIC", v) }
	search := func(searchType master.ExternalIDSearchType, ids ...master.ExternalID) *master.ExternalIDSearch {
		s := master.NewExternalIDSearch(searchType, ids...)
		return &s
	}

	testCases := []struct {
		name     string
		request  master.SearchRequest
		expected []string
	}{
		{name: "no predicates", request: master.SearchRequest{}, expected: []string{"Alpha", "Beta", "Charlie"}},
		{name: "ALL single", request: master.SearchRequest{ExternalIDSearch: search(master.SearchAll, bt("A"))}, expected: []string{"Alpha"}},
		{name: "ALL both ids of one bundle", request: master.SearchRequest{ExternalIDSearch: search(master.SearchAll, bt("A"), ric("A.L"))}, expected: []string{"Alpha"}},
		{name: "ALL across bundles", request: master.SearchRequest{ExternalIDSearch: search(master.SearchAll, bt("A"), bt("B"))}, expected: []string{}},
		{name: "ANY", request: master.SearchRequest{ExternalIDSearch: search(master.SearchAny, bt("A"), bt("B"))}, expected: []string{"Alpha", "Beta"}},
		{name: "NONE", request: master.SearchRequest{ExternalIDSearch: search(master.SearchNone, bt("A"))}, expected: []string{"Beta", "Charlie"}},
		{name: "NONE of nothing", request: master.SearchRequest{ExternalIDSearch: search(master.SearchNone)}, expected: []string{"Alpha", "Beta", "Charlie"}},
		{name: "EXACT subset", request: master.SearchRequest{ExternalIDSearch: search(master.SearchExact, bt("A"))}, expected: []string{}},
		{name: "EXACT", request: master.SearchRequest{ExternalIDSearch: search(master.SearchExact, bt("B"))}, expected: []string{"Beta"}},
		{name: "EXACT of nothing", request: master.SearchRequest{ExternalIDSearch: search(master.SearchExact)}, expected: []string{}},
		{name: "name wildcard", request: master.SearchRequest{Name: "*HA*"}, expected: []string{"Alpha", "Charlie"}},
		{name: "external id value wildcard", request: master.SearchRequest{ExternalIDValue: "*.l"}, expected: []string{"Alpha", "Charlie"}},
		{name: "attribute", request: master.SearchRequest{Attributes: map[string]string{hts.AttrDataSource: "REUTERS"}}, expected: []string{"Charlie"}},
		{name: "object ids", request: master.SearchRequest{ObjectIDs: []master.ObjectID{beta.ObjectID()}}, expected: []string{"Beta"}},
		{name: "empty object ids", request: master.SearchRequest{ObjectIDs: []master.ObjectID{}}, expected: []string{}},
		{name: "name descending", request: master.SearchRequest{SortOrder: master.SortByNameDesc}, expected: []string{"Charlie", "Beta", "Alpha"}},
		{name: "object id descending", request: master.SearchRequest{SortOrder: master.SortByObjectIDDesc}, expected: []string{"Charlie", "Beta", "Alpha"}},
		{name: "before any add", request: master.SearchRequest{VersionCorrection: master.VersionAsOf(T0.Add(-time.Hour))}, expected: []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			result, err := f.master.Documents.Search(f.ctx, tc.request)

			// assert
			require.NoError(t, err)
			assert.Equal(t, tc.expected, names(result.Documents))
			assert.Equal(t, len(tc.expected), result.Paging.TotalItems)
		})
	}

	t.Run("default order is ascending object id", func(t *testing.T) {
		result, err := f.master.Documents.Search(f.ctx, master.SearchRequest{})

		require.NoError(t, err)
		require.Len(t, result.Documents, 3)
		assert.Equal(t, alpha.ObjectID(), result.Documents[0].ObjectID())
		assert.Equal(t, charlie.ObjectID(), result.Documents[2].ObjectID())
		assert.Negative(t, alpha.ObjectID().Compare(beta.ObjectID()))
	})

	t.Run("paging", func(t *testing.T) {
		result, err := f.master.Documents.Search(f.ctx, master.SearchRequest{
			Paging: master.PagingRequest{PageNumber: 2, PageSize: 2},
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"Charlie"}, names(result.Documents))
		assert.Equal(t, 3, result.Paging.TotalItems)
		assert.True(t, result.Paging.IsLastPage())
	})

	t.Run("paging past the end", func(t *testing.T) {
		result, err := f.master.Documents.Search(f.ctx, master.SearchRequest{
			Paging: master.PagingRequest{PageNumber: 5, PageSize: 2},
		})

		require.NoError(t, err)
		assert.Empty(t, result.Documents)
		assert.Equal(t, 3, result.Paging.TotalItems)
	})

	t.Run("invalid requests", func(t *testing.T) {
		_, pagingErr := f.master.Documents.Search(f.ctx, master.SearchRequest{Paging: master.PagingRequest{PageNumber: 0, PageSize: 5}})
		_, schemeErr := f.master.Documents.Search(f.ctx, master.SearchRequest{ObjectIDs: []master.ObjectID{master.NewObjectID("Other", "1")}})
		_, typeErr := f.master.Documents.Search(f.ctx, master.SearchRequest{ExternalIDSearch: &master.ExternalIDSearch{Type: 42}})

		assert.ErrorIs(t, pagingErr, master.ErrInvalidPagingRequest)
		assert.ErrorIs(t, schemeErr, master.ErrObjectIDSchemeNotSupplied)
		assert.ErrorIs(t, typeErr, master.ErrUnknownSearchType)
	})
}

func runPointScenarios(t *testing.T, factory StorageFactory) {
	t.Run("points are append only", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		doc, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("series"))
		require.NoError(t, err)
		oid := doc.ObjectID()

		first := helper.GivenPointSeries(t,
			helper.Point(2011, time.July, 1, 1),
			helper.Point(2011, time.July, 2, 2),
			helper.Point(2011, time.July, 4, 4),
		)

		// act
		firstUID, err := f.master.Points.UpdateTimeSeriesDataPoints(f.ctx, oid, first)
		require.NoError(t, err)

		_, backfillErr := f.master.Points.UpdateTimeSeriesDataPoints(f.ctx, oid,
			helper.GivenPointSeries(t, helper.Point(2011, time.July, 3, 3)))

		secondUID, err := f.master.Points.UpdateTimeSeriesDataPoints(f.ctx, oid, helper.GivenPointSeries(t,
			helper.Point(2011, time.July, 5, 5),
			helper.Point(2011, time.July, 6, 6),
		))
		require.NoError(t, err)

		// assert
		assert.ErrorIs(t, backfillErr, master.ErrPointSeriesNotAppendOnly)
		assert.Equal(t, hts.Scheme+master.PointsSchemeSuffix, firstUID.Scheme)
		assert.Equal(t, oid.Value, firstUID.Value)
		assert.Equal(t, "1", firstUID.Version)
		assert.Equal(t, "2", secondUID.Version)

		latest, err := f.master.Points.GetTimeSeries(f.ctx, oid, master.Latest, master.AllDates)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 4, 5, 6}, latest.Series.Values())
		assert.Equal(t, secondUID, latest.UniqueID)

		asOfFirst, err := f.master.Points.GetTimeSeriesByUniqueID(f.ctx, firstUID, master.AllDates)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 4}, asOfFirst.Series.Values())

		window, err := f.master.Points.GetTimeSeries(f.ctx, oid, master.Latest,
			master.Between(master.NewDate(2011, time.July, 2), master.NewDate(2011, time.July, 5)))
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 4, 5}, window.Series.Values())

		byDocument, err := f.master.Points.GetTimeSeriesByUniqueID(f.ctx, doc.UniqueID, master.AllDates)
		require.NoError(t, err)
		assert.Equal(t, secondUID, byDocument.UniqueID)
		assert.Equal(t, 5, byDocument.Series.Len())

		empty, err := f.master.Points.GetTimeSeriesByUniqueID(f.ctx, f.master.Points.PointsUniqueID(oid, 0), master.AllDates)
		require.NoError(t, err)
		assert.True(t, empty.Series.IsEmpty())

		_, err = f.master.Points.GetTimeSeriesByUniqueID(f.ctx, f.master.Points.PointsUniqueID(oid, 3), master.AllDates)
		assert.ErrorIs(t, err, master.ErrNotFound)

		assert.Equal(t, []master.ChangeKind{
			master.ChangeAdded, master.ChangePointsUpdated, master.ChangePointsUpdated,
		}, f.notifier.Kinds())
	})

	t.Run("removed points stay visible before the removal", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		doc, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("series"))
		require.NoError(t, err)
		oid := doc.ObjectID()

		t1 := f.clock.Advance(time.Hour)
		_, err = f.master.Points.UpdateTimeSeriesDataPoints(f.ctx, oid, helper.GivenPointSeries(t,
			helper.Point(2011, time.July, 1, 1),
			helper.Point(2011, time.July, 2, 2),
			helper.Point(2011, time.July, 3, 3),
			helper.Point(2011, time.July, 4, 4),
		))
		require.NoError(t, err)

		f.clock.Advance(time.Hour)

		// act
		removedUID, err := f.master.Points.RemoveTimeSeriesDataPoints(f.ctx, oid,
			master.Between(master.NewDate(2011, time.July, 2), master.NewDate(2011, time.July, 3)))
		require.NoError(t, err)

		// assert
		assert.Equal(t, "2", removedUID.Version)

		latest, err := f.master.Points.GetTimeSeries(f.ctx, oid, master.Latest, master.AllDates)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 4}, latest.Series.Values())

		beforeRemoval, err := f.master.Points.GetTimeSeries(f.ctx, oid, master.CorrectedTo(t1.Add(time.Minute)), master.AllDates)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3, 4}, beforeRemoval.Series.Values())
		assert.Equal(t, "1", beforeRemoval.UniqueID.Version)

		beforeAppend, err := f.master.Points.GetTimeSeries(f.ctx, oid, master.VersionAsOf(t1.Add(-time.Minute)), master.AllDates)
		require.NoError(t, err)
		assert.True(t, beforeAppend.Series.IsEmpty())
		assert.Equal(t, "0", beforeAppend.UniqueID.Version)

		asOfAppend, err := f.master.Points.GetTimeSeriesByUniqueID(f.ctx, f.master.Points.PointsUniqueID(oid, 1), master.AllDates)
		require.NoError(t, err)
		assert.Equal(t, 4, asOfAppend.Series.Len())

		_, err = f.master.Points.UpdateTimeSeriesDataPoints(f.ctx, oid, helper.GivenPointSeries(t, helper.Point(2011, time.July, 3, 33)))
		assert.ErrorIs(t, err, master.ErrPointSeriesNotAppendOnly)

		unchanged, err := f.master.Points.RemoveTimeSeriesDataPoints(f.ctx, oid,
			master.Between(master.NewDate(2020, time.January, 1), master.NewDate(2020, time.December, 31)))
		require.NoError(t, err)
		assert.Equal(t, removedUID, unchanged)

		assert.Equal(t, []master.ChangeKind{
			master.ChangeAdded, master.ChangePointsUpdated, master.ChangePointsUpdated,
		}, f.notifier.Kinds())
	})

	t.Run("removing every point allows restarting the series", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		doc, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("series"))
		require.NoError(t, err)
		oid := doc.ObjectID()

		_, err = f.master.Points.UpdateTimeSeriesDataPoints(f.ctx, oid, helper.GivenPointSeries(t, helper.Point(2011, time.July, 4, 4)))
		require.NoError(t, err)
		_, err = f.master.Points.RemoveTimeSeriesDataPoints(f.ctx, oid, master.AllDates)
		require.NoError(t, err)

		// act
		uid, err := f.master.Points.UpdateTimeSeriesDataPoints(f.ctx, oid, helper.GivenPointSeries(t, helper.Point(2011, time.July, 4, 40)))

		// assert
		require.NoError(t, err)
		assert.Equal(t, "3", uid.Version)

		latest, err := f.master.Points.GetTimeSeries(f.ctx, oid, master.Latest, master.AllDates)
		require.NoError(t, err)
		assert.Equal(t, []float64{40}, latest.Series.Values())
	})

	t.Run("points need a live owner", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		doc, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("series"))
		require.NoError(t, err)
		require.NoError(t, f.master.Documents.Remove(f.ctx, doc.ObjectID()))

		unknown := master.NewObjectID(hts.Scheme, "999999")
		series := helper.GivenPointSeries(t, helper.Point(2011, time.July, 1, 1))

		// act
		_, unknownErr := f.master.Points.GetTimeSeries(f.ctx, unknown, master.Latest, master.AllDates)
		_, removedErr := f.master.Points.UpdateTimeSeriesDataPoints(f.ctx, doc.ObjectID(), series)
		_, emptyErr := f.master.Points.UpdateTimeSeriesDataPoints(f.ctx, doc.ObjectID(), master.PointSeries{})

		// assert
		assert.ErrorIs(t, unknownErr, master.ErrNotFound)
		assert.ErrorIs(t, removedErr, master.ErrNotFound)
		assert.ErrorIs(t, emptyErr, master.ErrEmptyPointSeries)
	})
}

// interleavingStorage runs beforePoints ahead of the next point mutation, standing in for a writer
// that commits between the owner check and the point write.
type interleavingStorage struct {
	hts.Storage
	beforePoints func()
}

func (s *interleavingStorage) MutatePoints(ctx context.Context, oid master.ObjectID, plan master.PointPlan) error {
	if hook := s.beforePoints; hook != nil {
		s.beforePoints = nil
		hook()
	}

	return s.Storage.MutatePoints(ctx, oid, plan)
}

func runConcurrencyScenarios(t *testing.T, factory StorageFactory) {
	t.Run("a removal landing before a point write wins", func(t *testing.T) {
		// setup
		ctx := context.Background()
		storage := &interleavingStorage{Storage: factory(t)}

		m, err := hts.NewMaster(storage, helper.NewFakeClock(T0))
		require.NoError(t, err)

		doc, err := m.Documents.Add(ctx, helper.FixtureInfo("series"))
		require.NoError(t, err)

		// arrange
		storage.beforePoints = func() {
			require.NoError(t, m.Documents.Remove(ctx, doc.ObjectID()))
		}

		// act
		_, err = m.Points.UpdateTimeSeriesDataPoints(ctx, doc.ObjectID(),
			helper.GivenPointSeries(t, helper.Point(2011, time.July, 1, 1)))

		// assert
		assert.ErrorIs(t, err, master.ErrNotFound)

		state, err := storage.Points(ctx, doc.ObjectID())
		require.NoError(t, err)
		assert.Empty(t, state.Points)
	})

	t.Run("concurrent updates of one object are serialized", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		added, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("contended"))
		require.NoError(t, err)

		const writers = 8

		var (
			wg       sync.WaitGroup
			failures atomic.Int32
		)

		// act
		for range writers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				if _, err := f.master.Documents.Update(f.ctx, added.ObjectID(), helper.FixtureInfo("next")); err != nil {
					failures.Add(1)
				}
			}()
		}

		wg.Wait()

		// assert
		assert.Zero(t, failures.Load())

		history, err := f.master.Documents.History(f.ctx, master.HistoryRequest{ObjectID: added.ObjectID()})
		require.NoError(t, err)
		assert.Equal(t, 1+2*writers, history.Paging.TotalItems)
		require.NoError(t, f.master.Documents.CheckInvariants(f.ctx, added.ObjectID()))
	})

	t.Run("only one of several guarded updates wins", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)
		added, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("contended"))
		require.NoError(t, err)

		const writers = 8

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
			conflicts atomic.Int32
		)

		// act
		for range writers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := f.master.Documents.UpdateIfCurrent(f.ctx, added.UniqueID, helper.FixtureInfo("winner"))
				switch {
				case err == nil:
					successes.Add(1)
				case master.ErrorType(err) == "concurrency_conflict":
					conflicts.Add(1)
				}
			}()
		}

		wg.Wait()

		// assert
		assert.Equal(t, int32(1), successes.Load())
		assert.Equal(t, int32(writers-1), conflicts.Load())
		require.NoError(t, f.master.Documents.CheckInvariants(f.ctx, added.ObjectID()))
	})

	t.Run("concurrent adds get distinct object ids", func(t *testing.T) {
		// setup
		f := newFixture(t, factory)

		const writers = 16

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			oids = make(map[master.ObjectID]struct{}, writers)
		)

		// act
		for range writers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				doc, err := f.master.Documents.Add(f.ctx, helper.FixtureInfo("parallel"))
				if err != nil {
					return
				}

				mu.Lock()
				oids[doc.ObjectID()] = struct{}{}
				mu.Unlock()
			}()
		}

		wg.Wait()

		// assert
		assert.Len(t, oids, writers)
		require.NoError(t, f.master.CheckAll(f.ctx))
	})
}

func assertSameInstant(t *testing.T, expected, actual time.Time) {
	t.Helper()
	assert.Truef(t, expected.Equal(actual), "expected %s, got %s", expected, actual)
}

func names(docs []master.Document[hts.Info]) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Info.Name)
	}

	return out
}

func versions(docs []master.Document[hts.Info]) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.UniqueID.Version)
	}

	return out
}
