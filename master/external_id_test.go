package master_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

func Test_ParseExternalID(t *testing.T) {
	id, err := master.ParseExternalID("ISIN~GB00BH4HKS39")
	require.NoError(t, err)
	assert.Equal(t, isin, id)
	assert.Equal(t, "ISIN~GB00BH4HKS39", id.String())

	_, err = master.ParseExternalID("GB00BH4HKS39")
	assert.ErrorIs(t, err, master.ErrInvalidArgument)
}

func Test_NewExternalIDBundle_IsSortedAndDistinct(t *testing.T) {
	bundle := master.NewExternalIDBundle(ric, isin, ticker, isin)

	assert.Equal(t, master.ExternalIDBundle{ticker, isin, ric}, bundle)
	assert.True(t, bundle.Contains(ric))
	assert.True(t, bundle.Equal(master.NewExternalIDBundle(isin, ric, ticker)))
}

func Test_ExternalIDWithDates_IsValidOn(t *testing.T) {
	id, err := master.NewExternalIDWithDates(isin, master.NewDate(2011, time.January, 1), master.NewDate(2011, time.December, 31))
	require.NoError(t, err)

	assert.True(t, id.IsValidOn(time.Time{}))
	assert.True(t, id.IsValidOn(master.NewDate(2011, time.January, 1)))
	assert.True(t, id.IsValidOn(time.Date(2011, time.December, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, id.IsValidOn(master.NewDate(2010, time.December, 31)))
	assert.False(t, id.IsValidOn(master.NewDate(2012, time.January, 1)))
}

func Test_NewExternalIDWithDates_RejectsReversedDates(t *testing.T) {
	_, err := master.NewExternalIDWithDates(isin, master.NewDate(2012, time.January, 1), master.NewDate(2011, time.January, 1))

	assert.ErrorIs(t, err, master.ErrInvalidArgument)
}

func Test_ExternalIDWithDates_JSON(t *testing.T) {
	// setup
	bounded, err := master.NewExternalIDWithDates(isin, master.NewDate(2011, time.January, 1), time.Time{})
	require.NoError(t, err)

	// act
	data, err := bounded.MarshalJSON()
	require.NoError(t, err)

	var decoded master.ExternalIDWithDates
	err = decoded.UnmarshalJSON(data)

	// assert
	require.NoError(t, err)
	assert.JSONEq(t, `{"scheme":"ISIN","value":"GB00BH4HKS39","validFrom":"2011-01-01"}`, string(data))
	assert.Equal(t, bounded, decoded)
}
