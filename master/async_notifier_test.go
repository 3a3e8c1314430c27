package master_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
)

func changeEvent(value string, kind master.ChangeKind) master.ChangeEvent {
	return master.ChangeEvent{ObjectID: master.NewObjectID("DbHts", value), Kind: kind, AsOf: t1}
}

func Test_AsyncNotifier_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	// setup
	ctx := context.Background()
	target := helper.NewNotifierSpy()

	notifier, err := master.NewAsyncNotifier(target, master.WithBufferSize(4))
	require.NoError(t, err)

	// act
	for _, kind := range []master.ChangeKind{master.ChangeAdded, master.ChangeUpdated, master.ChangeRemoved} {
		require.NoError(t, notifier.Notify(ctx, changeEvent("1000", kind)))
	}

	err = notifier.Close(ctx)

	// assert
	require.NoError(t, err)
	assert.Equal(t, []master.ChangeKind{master.ChangeAdded, master.ChangeUpdated, master.ChangeRemoved}, target.Kinds())
}

func Test_AsyncNotifier_RejectsEventsAfterClose(t *testing.T) {
	// setup
	ctx := context.Background()
	notifier, err := master.NewAsyncNotifier(helper.NewNotifierSpy())
	require.NoError(t, err)

	// arrange
	require.NoError(t, notifier.Close(ctx))

	// act
	err = notifier.Notify(ctx, changeEvent("1000", master.ChangeAdded))

	// assert
	assert.ErrorIs(t, err, master.ErrNotifierClosed)
	assert.NoError(t, notifier.Close(ctx))
}

func Test_AsyncNotifier_LogsEventsThatKeepFailing(t *testing.T) {
	// setup
	ctx := context.Background()
	logger, spy := helper.NewSpyLogger()
	target := helper.NewFailingNotifierSpy()

	notifier, err := master.NewAsyncNotifier(target,
		master.WithDeliveryRetry(master.WithMaxAttempts(2), master.WithBaseDelay(0)),
		master.WithDeliveryLogger(logger),
	)
	require.NoError(t, err)

	// act
	require.NoError(t, notifier.Notify(ctx, changeEvent("1000", master.ChangeCorrected)))
	require.NoError(t, notifier.Close(ctx))

	// assert
	assert.Len(t, target.Events(), 2)
	assert.True(t, spy.HasWarnLogWithMessage("change notification delivery failed").
		WithAttribute("object_id", "DbHts:1000").
		WithAttribute("change_kind", "CORRECTED").
		Assert())
}

func Test_AsyncNotifier_CloseGivesUpWhenTheContextEnds(t *testing.T) {
	// setup
	release := make(chan struct{})
	blocking := master.FanOut{notifierFunc(func(ctx context.Context, _ master.ChangeEvent) error {
		select {
		case <-release:
		case <-ctx.Done():
		}

		return ctx.Err()
	})}
	defer close(release)

	notifier, err := master.NewAsyncNotifier(blocking, master.WithDeliveryRetry(master.WithMaxAttempts(1)))
	require.NoError(t, err)

	require.NoError(t, notifier.Notify(context.Background(), changeEvent("1000", master.ChangeAdded)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// act
	err = notifier.Close(ctx)

	// assert
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_NewAsyncNotifier_RejectsInvalidInput(t *testing.T) {
	_, err := master.NewAsyncNotifier(nil)
	assert.ErrorIs(t, err, master.ErrInvalidArgument)

	_, err = master.NewAsyncNotifier(helper.NewNotifierSpy(), master.WithBufferSize(0))
	assert.ErrorIs(t, err, master.ErrInvalidBufferSize)
}

type notifierFunc func(ctx context.Context, event master.ChangeEvent) error

func (f notifierFunc) Notify(ctx context.Context, event master.ChangeEvent) error {
	return f(ctx, event)
}
