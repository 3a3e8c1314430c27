// Package kafkanotify carries master change events over Kafka.
//
// Every event becomes one record keyed by its ObjectID, so the events of an object keep their
// order within a partition. The value is the JSON wire form of the event.
package kafkanotify

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// DefaultTopic is the topic used when none is configured.
const DefaultTopic = "master-changes"

// HeaderChangeKind carries the ChangeKind of the record, so consumers can filter without decoding.
const HeaderChangeKind = "change-kind"

var (
	// ErrNilClient is returned when no Kafka client is given.
	ErrNilClient = fmt.Errorf("%w: kafka client must not be nil", master.ErrInvalidArgument)

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = fmt.Errorf("%w: topic must not be empty", master.ErrInvalidArgument)

	// ErrProducingFailed is joined with the client error when a record is not acknowledged.
	ErrProducingFailed = fmt.Errorf("%w: producing change event failed", master.ErrUnavailable)
)

// Producer is the part of *kgo.Client the Notifier needs.
type Producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// Poller is the part of *kgo.Client Consume needs.
type Poller interface {
	PollFetches(ctx context.Context) kgo.Fetches
}

// Notifier implements master.ChangeNotifier by producing every event synchronously.
type Notifier struct {
	producer Producer
	topic    string
}

// Option configures a Notifier.
type Option func(*Notifier) error

// WithTopic replaces DefaultTopic.
func WithTopic(topic string) Option {
	return func(n *Notifier) error {
		if topic == "" {
			return ErrInvalidTopic
		}

		n.topic = topic

		return nil
	}
}

// NewNotifier produces on producer, usually a *kgo.Client.
func NewNotifier(producer Producer, options ...Option) (*Notifier, error) {
	if producer == nil {
		return nil, ErrNilClient
	}

	n := &Notifier{producer: producer, topic: DefaultTopic}

	for _, option := range options {
		if err := option(n); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// Notify implements master.ChangeNotifier. It returns once the broker acknowledged the record.
func (n *Notifier) Notify(ctx context.Context, event master.ChangeEvent) error {
	record, err := NewRecord(n.topic, event)
	if err != nil {
		return err
	}

	if err := n.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return master.Unavailable(ErrProducingFailed, err)
	}

	return nil
}

// NewRecord builds the Kafka record of event.
func NewRecord(topic string, event master.ChangeEvent) (*kgo.Record, error) {
	value, err := master.EncodeChangeEvent(event)
	if err != nil {
		return nil, err
	}

	return &kgo.Record{
		Topic:   topic,
		Key:     []byte(event.ObjectID.String()),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: HeaderChangeKind, Value: []byte(event.Kind)}},
	}, nil
}

// Consume polls poller until ctx ends and hands every decodable event to listener.
// Fetch errors other than the end of ctx and undecodable records are reported to logger and skipped.
// It returns the first listener error; the caller decides whether to resume.
func Consume(ctx context.Context, poller Poller, listener master.ChangeListener, logger master.Logger) error {
	if poller == nil {
		return ErrNilClient
	}

	if listener == nil {
		return fmt.Errorf("%w: listener must not be nil", master.ErrInvalidArgument)
	}

	for {
		fetches := poller.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if logger != nil {
				logger.Warn("fetching change events failed", "topic", topic, "partition", partition, "error", err.Error())
			}
		})

		var listenerErr error

		fetches.EachRecord(func(record *kgo.Record) {
			if listenerErr != nil {
				return
			}

			event, err := master.DecodeChangeEvent(record.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("skipping undecodable change event", "topic", record.Topic, "offset", record.Offset, "error", err.Error())
				}

				return
			}

			listenerErr = listener(ctx, event)
		})

		if listenerErr != nil {
			return listenerErr
		}
	}
}

var _ master.ChangeNotifier = (*Notifier)(nil)
