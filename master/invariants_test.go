package master_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

func Test_CheckInvariants_AcceptsAConsistentHistory(t *testing.T) {
	assert.NoError(t, master.CheckInvariants(history()))
	assert.NoError(t, master.CheckInvariants(nil))
}

func Test_CheckInvariants_ReportsViolations(t *testing.T) {
	oid := master.NewObjectID("DbHts", "1000")

	tests := []struct {
		name    string
		corrupt func(records []master.Record) []master.Record
		want    string
	}{
		{
			name: "duplicate version token",
			corrupt: func(records []master.Record) []master.Record {
				records[2].UniqueID = oid.AtVersion("0")
				return records
			},
			want: "duplicate version token",
		},
		{
			name: "non numeric version token",
			corrupt: func(records []master.Record) []master.Record {
				records[2].UniqueID = oid.AtVersion("x")
				return records
			},
			want: "not numeric",
		},
		{
			name: "empty version interval",
			corrupt: func(records []master.Record) []master.Record {
				records[1].VersionTo = records[1].VersionFrom
				return records
			},
			want: "empty version interval",
		},
		{
			name: "empty correction interval",
			corrupt: func(records []master.Record) []master.Record {
				records[0].CorrectionTo = records[0].CorrectionFrom
				return records
			},
			want: "empty correction interval",
		},
		{
			name: "two records at the same coordinate",
			corrupt: func(records []master.Record) []master.Record {
				records[0].CorrectionTo = time.Time{}
				return records
			},
			want: "visible at the same coordinate",
		},
		{
			name: "gap between versions",
			corrupt: func(records []master.Record) []master.Record {
				records[1].VersionFrom = t2.Add(time.Hour)
				return records
			},
			want: "gap between",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// act
			err := master.CheckInvariants(tc.corrupt(history()))

			// assert
			assert.ErrorIs(t, err, master.ErrInvariantViolation)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}
