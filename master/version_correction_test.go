package master_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

func Test_VersionCorrection_TextForm(t *testing.T) {
	instant := time.Date(2011, time.July, 1, 12, 30, 0, 500, time.UTC)

	tests := []struct {
		name string
		vc   master.VersionCorrection
		text string
	}{
		{"latest", master.Latest, "VLATEST.CLATEST"},
		{"version as of", master.VersionAsOf(instant), "V2011-07-01T12:30:00.0000005Z.CLATEST"},
		{"corrected to", master.CorrectedTo(instant), "VLATEST.C2011-07-01T12:30:00.0000005Z"},
		{"both", master.NewVersionCorrection(instant, instant.Add(time.Hour)), "V2011-07-01T12:30:00.0000005Z.C2011-07-01T13:30:00.0000005Z"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.text, tc.vc.String())

			parsed, err := master.ParseVersionCorrection(tc.text)
			require.NoError(t, err)
			assert.True(t, tc.vc.VersionAsOf.Equal(parsed.VersionAsOf))
			assert.True(t, tc.vc.CorrectedTo.Equal(parsed.CorrectedTo))
		})
	}
}

func Test_ParseVersionCorrection_RejectsMalformedText(t *testing.T) {
	for _, text := range []string{"", "LATEST", "VLATEST", "VLATEST.Cyesterday", "X2011-07-01T00:00:00Z.CLATEST"} {
		t.Run(text, func(t *testing.T) {
			_, err := master.ParseVersionCorrection(text)

			assert.ErrorIs(t, err, master.ErrInvalidArgument)
		})
	}
}

func Test_VersionCorrection_NormalizesToUTC(t *testing.T) {
	// setup
	zone := time.FixedZone("CET", 3600)
	instant := time.Date(2011, time.July, 1, 13, 0, 0, 0, zone)

	// act
	vc := master.NewVersionCorrection(instant, time.Time{})

	// assert
	assert.Equal(t, time.UTC, vc.VersionAsOf.Location())
	assert.False(t, vc.IsVersionLatest())
	assert.True(t, vc.IsCorrectionLatest())
}
