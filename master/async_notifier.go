package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultAsyncBufferSize = 256
	logMsgDeliveryFailed   = "change notification delivery failed"
)

// ErrNotifierClosed is returned by AsyncNotifier.Notify after Close.
var ErrNotifierClosed = errors.New("change notifier closed")

// ErrInvalidBufferSize is returned when the buffer size is not positive.
var ErrInvalidBufferSize = errors.New("buffer size must be positive")

// ErrNilNotifierTarget is returned by NewAsyncNotifier(nil).
var ErrNilNotifierTarget = fmt.Errorf("%w: target notifier must not be nil", ErrInvalidArgument)

// AsyncNotifier decouples delivery from the committing caller. Events are queued and delivered
// by one worker goroutine to the wrapped notifier, retried with exponential backoff.
// Events that still fail after the last attempt are logged and dropped.
type AsyncNotifier struct {
	target       ChangeNotifier
	queue        chan ChangeEvent
	retryOptions []RetryOption
	logger       Logger
	bufferSize   int

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	cancel    context.CancelFunc
}

// AsyncOption configures an AsyncNotifier.
type AsyncOption func(*AsyncNotifier) error

// WithBufferSize sets how many events may wait for delivery before Notify blocks.
func WithBufferSize(size int) AsyncOption {
	return func(n *AsyncNotifier) error {
		if size <= 0 {
			return ErrInvalidBufferSize
		}

		n.bufferSize = size

		return nil
	}
}

// WithDeliveryRetry sets the retry behavior of each delivery.
func WithDeliveryRetry(options ...RetryOption) AsyncOption {
	return func(n *AsyncNotifier) error {
		n.retryOptions = append(n.retryOptions, options...)
		return nil
	}
}

// WithDeliveryLogger logs deliveries that failed for good.
func WithDeliveryLogger(logger Logger) AsyncOption {
	return func(n *AsyncNotifier) error {
		n.logger = logger
		return nil
	}
}

// NewAsyncNotifier starts the delivery worker. Call Close to drain and stop it.
func NewAsyncNotifier(target ChangeNotifier, options ...AsyncOption) (*AsyncNotifier, error) {
	if target == nil {
		return nil, ErrNilNotifierTarget
	}

	n := &AsyncNotifier{
		target:     target,
		bufferSize: defaultAsyncBufferSize,
		done:       make(chan struct{}),
	}

	for _, option := range options {
		if err := option(n); err != nil {
			return nil, err
		}
	}

	n.queue = make(chan ChangeEvent, n.bufferSize)

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	go n.run(ctx)

	return n, nil
}

// Notify queues event. It blocks while the buffer is full until ctx is done.
func (n *AsyncNotifier) Notify(ctx context.Context, event ChangeEvent) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return ErrNotifierClosed
	}

	select {
	case n.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits until queued events were delivered or ctx is done.
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
	})

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.cancel()
		<-n.done
		return ctx.Err()
	}
}

func (n *AsyncNotifier) run(ctx context.Context) {
	defer close(n.done)
	defer n.cancel()

	for event := range n.queue {
		err := RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
			return n.target.Notify(ctx, event)
		}, n.retryOptions...)

		if err != nil && n.logger != nil {
			n.logger.Warn(logMsgDeliveryFailed,
				logAttrError, err.Error(),
				logAttrObjectID, event.ObjectID.String(),
				logAttrChangeKind, string(event.Kind),
				logAttrAsOf, event.AsOf.Format(time.RFC3339Nano),
			)
		}
	}
}
