package master_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

func Test_ParseObjectID(t *testing.T) {
	oid, err := master.ParseObjectID("DbHts:1000")

	require.NoError(t, err)
	assert.Equal(t, master.NewObjectID("DbHts", "1000"), oid)
	assert.Equal(t, "DbHts:1000", oid.String())
}

func Test_ParseObjectID_RejectsMalformedText(t *testing.T) {
	for _, text := range []string{"", "DbHts", ":1000", "DbHts:"} {
		t.Run(text, func(t *testing.T) {
			_, err := master.ParseObjectID(text)

			assert.ErrorIs(t, err, master.ErrInvalidArgument)
		})
	}
}

func Test_ParseUniqueID(t *testing.T) {
	tests := []struct {
		text string
		want master.UniqueID
	}{
		{"DbHts:1000:0", master.UniqueID{Scheme: "DbHts", Value: "1000", Version: "0"}},
		{"DbHts:a:b:7", master.UniqueID{Scheme: "DbHts", Value: "a:b", Version: "7"}},
	}

	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			uid, err := master.ParseUniqueID(tc.text)

			require.NoError(t, err)
			assert.Equal(t, tc.want, uid)
			assert.Equal(t, tc.text, uid.String())
		})
	}
}

func Test_ParseUniqueID_RejectsMalformedText(t *testing.T) {
	for _, text := range []string{"", "DbHts:1000", ":1000:0", "DbHts:1000:", "DbHts::0"} {
		t.Run(text, func(t *testing.T) {
			_, err := master.ParseUniqueID(text)

			assert.ErrorIs(t, err, master.ErrInvalidArgument)
		})
	}
}

func Test_UniqueID_VersionNumber(t *testing.T) {
	oid := master.NewObjectID("DbHts", "1000")

	v, err := oid.AtVersionNumber(12).VersionNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), v)

	_, err = oid.AtVersion("latest").VersionNumber()
	assert.ErrorIs(t, err, master.ErrInvalidArgument)
}

func Test_ObjectID_Compare_OrdersNumericValuesNumerically(t *testing.T) {
	// arrange
	oids := []master.ObjectID{
		master.NewObjectID("B", "1"),
		master.NewObjectID("A", "100"),
		master.NewObjectID("A", "abc"),
		master.NewObjectID("A", "9"),
		master.NewObjectID("A", "10"),
	}

	// act
	slices.SortFunc(oids, master.ObjectID.Compare)

	// assert
	assert.Equal(t, []master.ObjectID{
		master.NewObjectID("A", "9"),
		master.NewObjectID("A", "10"),
		master.NewObjectID("A", "100"),
		master.NewObjectID("A", "abc"),
		master.NewObjectID("B", "1"),
	}, oids)
}

func Test_ObjectID_TextRoundTrip(t *testing.T) {
	// setup
	oid := master.NewObjectID("DbHts", "1000")

	// act
	text, err := oid.MarshalText()
	require.NoError(t, err)

	var decoded master.ObjectID
	err = decoded.UnmarshalText(text)

	// assert
	require.NoError(t, err)
	assert.Equal(t, oid, decoded)
}

func Test_NextVersion(t *testing.T) {
	oid := master.NewObjectID("DbHts", "1000")

	assert.Equal(t, uint64(0), master.NextVersion(nil))
	assert.Equal(t, uint64(3), master.NextVersion([]master.Record{
		{UniqueID: oid.AtVersion("2")},
		{UniqueID: oid.AtVersion("0")},
		{UniqueID: oid.AtVersion("not-a-number")},
	}))
}
