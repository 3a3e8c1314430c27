package master_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

var (
	isin   = master.NewExternalID("ISIN", "GB00BH4HKS39")
	ticker = master.NewExternalID("BLOOMBERG_TICKER", "VOD LN Equity")
	ric    = master.NewExternalID("RIC", "VOD.L")
)

func Test_ExternalIDSearch_Matches(t *testing.T) {
	bundle := master.NewExternalIDBundle(isin, ticker)

	tests := []struct {
		name   string
		search master.ExternalIDSearch
		want   bool
	}{
		{"all of a subset", master.NewExternalIDSearch(master.SearchAll, isin), true},
		{"all with a foreign id", master.NewExternalIDSearch(master.SearchAll, isin, ric), false},
		{"all of nothing", master.NewExternalIDSearch(master.SearchAll), true},
		{"any with one hit", master.NewExternalIDSearch(master.SearchAny, ric, ticker), true},
		{"any without hit", master.NewExternalIDSearch(master.SearchAny, ric), false},
		{"any of nothing", master.NewExternalIDSearch(master.SearchAny), false},
		{"none without hit", master.NewExternalIDSearch(master.SearchNone, ric), true},
		{"none with a hit", master.NewExternalIDSearch(master.SearchNone, ric, isin), false},
		{"none of nothing", master.NewExternalIDSearch(master.SearchNone), true},
		{"exact in any order", master.NewExternalIDSearch(master.SearchExact, ticker, isin, isin), true},
		{"exact with a missing id", master.NewExternalIDSearch(master.SearchExact, isin), false},
		{"exact of nothing", master.NewExternalIDSearch(master.SearchExact), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.search.Matches(bundle))
		})
	}
}

func Test_ExternalIDSearch_ExactOfNothingDoesNotMatchAnEmptyBundle(t *testing.T) {
	search := master.NewExternalIDSearch(master.SearchExact)

	assert.False(t, search.Matches(master.ExternalIDBundle{}))
}

func Test_ParseExternalIDSearchType(t *testing.T) {
	for _, searchType := range []master.ExternalIDSearchType{master.SearchAll, master.SearchAny, master.SearchNone, master.SearchExact} {
		parsed, err := master.ParseExternalIDSearchType(searchType.String())

		require.NoError(t, err)
		assert.Equal(t, searchType, parsed)
	}

	_, err := master.ParseExternalIDSearchType("SOME")
	assert.ErrorIs(t, err, master.ErrUnknownSearchType)
	assert.ErrorIs(t, err, master.ErrInvalidArgument)
}

func Test_WildcardMatcher(t *testing.T) {
	tests := []struct {
		pattern string
		text    string
		want    bool
	}{
		{"Vodafone", "vodafone", true},
		{"ÉCOLE*", "école normale", true},
		{"Voda*", "Vodafone PX_LAST", true},
		{"*fone", "Vodafone", true},
		{"V*d*e", "Vodafone", true},
		{"*", "", true},
		{"**", "anything", true},
		{"V*x*e", "Vodafone", false},
		{"Voda", "Vodafone", false},
		{"", "", true},
		{"", "x", false},
		{"a*a", "a", false},
		{"a?c", "abc", false},
	}

	for _, tc := range tests {
		t.Run(tc.pattern+"/"+tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, master.NewWildcardMatcher(tc.pattern).Match(tc.text))
		})
	}
}

func Test_SearchRequest_Matches(t *testing.T) {
	oid := master.NewObjectID("DbHts", "1000")
	datedISIN, err := master.NewExternalIDWithDates(isin, master.NewDate(2011, time.January, 1), master.NewDate(2011, time.December, 31))
	require.NoError(t, err)

	record := master.Record{
		UniqueID:    oid.AtVersion("0"),
		Name:        "Vodafone PX_LAST",
		ExternalIDs: master.ExternalIDBundleWithDates{datedISIN, {ID: ticker}},
		Attributes:  map[string]string{"dataField": "PX_LAST", "dataSource": "BLOOMBERG"},
	}

	tests := []struct {
		name    string
		request master.SearchRequest
		want    bool
	}{
		{"empty request", master.SearchRequest{}, true},
		{"object id hit", master.SearchRequest{ObjectIDs: []master.ObjectID{oid}}, true},
		{"empty object id list", master.SearchRequest{ObjectIDs: []master.ObjectID{}}, false},
		{"name pattern", master.SearchRequest{Name: "voda*"}, true},
		{"name miss", master.SearchRequest{Name: "BT*"}, false},
		{"external id value", master.SearchRequest{ExternalIDValue: "GB00*"}, true},
		{"attribute pattern", master.SearchRequest{Attributes: map[string]string{"dataField": "PX_*"}}, true},
		{"attribute miss", master.SearchRequest{Attributes: map[string]string{"dataSource": "REUTERS"}}, false},
		{"unknown attribute", master.SearchRequest{Attributes: map[string]string{"region": "EU"}}, false},
		{
			"id valid on the date",
			master.SearchRequest{
				ExternalIDSearch: &master.ExternalIDSearch{Type: master.SearchAll, IDs: master.NewExternalIDBundle(isin)},
				ValidityDate:     master.NewDate(2011, time.June, 1),
			},
			true,
		},
		{
			"id expired on the date",
			master.SearchRequest{
				ExternalIDSearch: &master.ExternalIDSearch{Type: master.SearchAll, IDs: master.NewExternalIDBundle(isin)},
				ValidityDate:     master.NewDate(2012, time.June, 1),
			},
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.request.Matches(record))
		})
	}
}

func Test_SearchRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		request master.SearchRequest
		wantErr error
	}{
		{"foreign scheme", master.SearchRequest{ObjectIDs: []master.ObjectID{master.NewObjectID("Other", "1")}}, master.ErrObjectIDSchemeNotSupplied},
		{"unknown search type", master.SearchRequest{ExternalIDSearch: &master.ExternalIDSearch{Type: 42}}, master.ErrUnknownSearchType},
		{"unknown sort order", master.SearchRequest{SortOrder: 9}, master.ErrInvalidArgument},
		{"bad paging", master.SearchRequest{Paging: master.PagingRequest{PageNumber: 0, PageSize: 5}}, master.ErrInvalidPagingRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.request.Validate("DbHts"), tc.wantErr)
		})
	}

	assert.NoError(t, master.SearchRequest{}.Validate("DbHts"))
}
