package kafkanotify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/notify/kafkanotify"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
)

var errNotLeader = errors.New("not leader for partition")

type producerSpy struct {
	records []*kgo.Record
	err     error
}

func (p *producerSpy) ProduceSync(_ context.Context, records ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, records...)

	results := make(kgo.ProduceResults, 0, len(records))
	for _, r := range records {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}

	return results
}

// pollerStub returns the queued fetches one by one and cancels the context when it runs out.
type pollerStub struct {
	fetches []kgo.Fetches
	cancel  context.CancelFunc
}

func (p *pollerStub) PollFetches(ctx context.Context) kgo.Fetches {
	if len(p.fetches) == 0 {
		p.cancel()
		<-ctx.Done()

		return nil
	}

	next := p.fetches[0]
	p.fetches = p.fetches[1:]

	return next
}

func fetchesOf(err error, records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      kafkanotify.DefaultTopic,
		Partitions: []kgo.FetchPartition{{Partition: 0, Err: err, Records: records}},
	}}}}
}

func fixtureEvent(kind master.ChangeKind) master.ChangeEvent {
	return master.ChangeEvent{
		ObjectID: master.NewObjectID("DbHts", "1000"),
		Kind:     kind,
		AsOf:     time.Date(2011, time.July, 1, 9, 0, 0, 0, time.UTC),
	}
}

func Test_NewNotifier_RejectsInvalidInput(t *testing.T) {
	_, err := kafkanotify.NewNotifier(nil)
	assert.ErrorIs(t, err, kafkanotify.ErrNilClient)

	_, err = kafkanotify.NewNotifier(&producerSpy{}, kafkanotify.WithTopic(""))
	assert.ErrorIs(t, err, kafkanotify.ErrInvalidTopic)
}

func Test_Notifier_ProducesOneRecordKeyedByObjectID(t *testing.T) {
	// setup
	producer := &producerSpy{}
	notifier, err := kafkanotify.NewNotifier(producer, kafkanotify.WithTopic("hts-changes"))
	require.NoError(t, err)

	// act
	err = notifier.Notify(context.Background(), fixtureEvent(master.ChangeCorrected))

	// assert
	require.NoError(t, err)
	require.Len(t, producer.records, 1)

	record := producer.records[0]
	assert.Equal(t, "hts-changes", record.Topic)
	assert.Equal(t, "DbHts:1000", string(record.Key))
	assert.Equal(t, []kgo.RecordHeader{{Key: kafkanotify.HeaderChangeKind, Value: []byte("CORRECTED")}}, record.Headers)
	assert.JSONEq(t,
		`{"objectId":"DbHts:1000","changeKind":"CORRECTED","asOfInstant":"2011-07-01T09:00:00Z"}`,
		string(record.Value))
}

func Test_Notifier_ReportsUnacknowledgedRecordsAsUnavailable(t *testing.T) {
	// setup
	notifier, err := kafkanotify.NewNotifier(&producerSpy{err: errNotLeader})
	require.NoError(t, err)

	// act
	err = notifier.Notify(context.Background(), fixtureEvent(master.ChangeAdded))

	// assert
	assert.ErrorIs(t, err, master.ErrUnavailable)
	assert.ErrorIs(t, err, kafkanotify.ErrProducingFailed)
	assert.ErrorIs(t, err, errNotLeader)
}

func Test_Notifier_PassesContextErrorsThrough(t *testing.T) {
	// setup
	notifier, err := kafkanotify.NewNotifier(&producerSpy{err: context.DeadlineExceeded})
	require.NoError(t, err)

	// act
	err = notifier.Notify(context.Background(), fixtureEvent(master.ChangeAdded))

	// assert
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, master.ErrUnavailable)
}

func Test_Consume_DeliversRecordsUntilTheContextEnds(t *testing.T) {
	// setup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger, spy := helper.NewSpyLogger()

	added, err := kafkanotify.NewRecord(kafkanotify.DefaultTopic, fixtureEvent(master.ChangeAdded))
	require.NoError(t, err)
	updated, err := kafkanotify.NewRecord(kafkanotify.DefaultTopic, fixtureEvent(master.ChangeUpdated))
	require.NoError(t, err)
	garbage := &kgo.Record{Topic: kafkanotify.DefaultTopic, Value: []byte("not json"), Offset: 7}

	poller := &pollerStub{
		fetches: []kgo.Fetches{
			fetchesOf(nil, added, garbage),
			fetchesOf(errNotLeader),
			fetchesOf(nil, updated),
		},
		cancel: cancel,
	}

	var kinds []master.ChangeKind

	// act
	err = kafkanotify.Consume(ctx, poller, func(_ context.Context, event master.ChangeEvent) error {
		kinds = append(kinds, event.Kind)
		return nil
	}, logger)

	// assert
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []master.ChangeKind{master.ChangeAdded, master.ChangeUpdated}, kinds)
	assert.True(t, spy.HasWarnLogWithMessage("skipping undecodable change event").Assert())
	assert.True(t, spy.HasWarnLogWithMessage("fetching change events failed").Assert())
}

func Test_Consume_StopsAtTheFirstListenerError(t *testing.T) {
	// setup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := kafkanotify.NewRecord(kafkanotify.DefaultTopic, fixtureEvent(master.ChangeAdded))
	require.NoError(t, err)
	second, err := kafkanotify.NewRecord(kafkanotify.DefaultTopic, fixtureEvent(master.ChangeRemoved))
	require.NoError(t, err)

	poller := &pollerStub{fetches: []kgo.Fetches{fetchesOf(nil, first, second)}, cancel: cancel}
	calls := 0

	// act
	err = kafkanotify.Consume(ctx, poller, func(context.Context, master.ChangeEvent) error {
		calls++
		return errNotLeader
	}, nil)

	// assert
	assert.ErrorIs(t, err, errNotLeader)
	assert.Equal(t, 1, calls)
}
