package master_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
)

func Test_EncodeChangeEvent_WireForm(t *testing.T) {
	// setup
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	event := master.ChangeEvent{
		ObjectID: master.NewObjectID("DbHts", "1000"),
		Kind:     master.ChangePointsUpdated,
		AsOf:     time.Date(2011, time.July, 1, 12, 30, 0, 123456789, time.UTC),
	}

	// act
	data, err := master.EncodeChangeEvent(event)

	// assert
	require.NoError(t, err)
	g.Assert(t, "change_event", data)

	decoded, err := master.DecodeChangeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}

func Test_DecodeChangeEvent_RejectsInvalidInput(t *testing.T) {
	for name, data := range map[string]string{
		"not json":       `{`,
		"unknown kind":   `{"objectId":"DbHts:1000","changeKind":"MERGED","asOfInstant":"2011-07-01T00:00:00Z"}`,
		"bad object id":  `{"objectId":"1000","changeKind":"ADDED","asOfInstant":"2011-07-01T00:00:00Z"}`,
		"missing fields": `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := master.DecodeChangeEvent([]byte(data))

			assert.ErrorIs(t, err, master.ErrInvalidArgument)
		})
	}
}

func Test_BasicChangeManager_CallsEveryListener(t *testing.T) {
	// setup
	ctx := context.Background()
	manager := master.NewBasicChangeManager()
	failure := errors.New("listener failed")

	var calls []string

	// arrange
	manager.Subscribe(func(_ context.Context, _ master.ChangeEvent) error {
		calls = append(calls, "failing")
		return failure
	})
	unsubscribe := manager.Subscribe(func(_ context.Context, _ master.ChangeEvent) error {
		calls = append(calls, "removed")
		return nil
	})
	manager.Subscribe(func(_ context.Context, _ master.ChangeEvent) error {
		calls = append(calls, "healthy")
		return nil
	})
	unsubscribe()

	// act
	err := manager.Notify(ctx, changeEvent("1000", master.ChangeAdded))

	// assert
	assert.ErrorIs(t, err, failure)
	assert.ElementsMatch(t, []string{"failing", "healthy"}, calls)
}

func Test_FanOut_ForwardsToEveryNotifier(t *testing.T) {
	// setup
	healthy := helper.NewNotifierSpy()
	failing := helper.NewFailingNotifierSpy()
	event := changeEvent("1000", master.ChangeRemoved)

	// act
	err := master.FanOut{failing, healthy}.Notify(context.Background(), event)

	// assert
	assert.ErrorIs(t, err, helper.ErrNotifierSpyFailure)
	assert.Equal(t, []master.ChangeEvent{event}, healthy.Events())
	assert.Equal(t, []master.ChangeEvent{event}, failing.Events())
}
