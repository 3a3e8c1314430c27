// Package natsnotify carries master change events over NATS.
//
// Events are published as JSON on <subject>.<scheme>, so a subscriber can follow every master
// with <subject>.> or a single one with <subject>.DbHts.
package natsnotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "master.changes"

const defaultHandlerTimeout = 30 * time.Second

var (
	// ErrNilConnection is returned when no NATS connection is given.
	ErrNilConnection = fmt.Errorf("%w: nats connection must not be nil", master.ErrInvalidArgument)

	// ErrInvalidSubject is returned for subjects that are empty or contain wildcards or whitespace.
	ErrInvalidSubject = fmt.Errorf("%w: subject must be a non-empty literal nats subject", master.ErrInvalidArgument)

	// ErrPublishingFailed is joined with the client error when a publish fails.
	ErrPublishingFailed = fmt.Errorf("%w: publishing change event failed", master.ErrUnavailable)
)

// Publisher is the part of *nats.Conn the Notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subscriber is the part of *nats.Conn Subscribe needs.
type Subscriber interface {
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// Notifier implements master.ChangeNotifier by publishing every event to NATS.
// Delivery is at most once; wrap it in a master.AsyncNotifier for retries.
type Notifier struct {
	publisher Publisher
	subject   string
}

// Option configures a Notifier or a subscription.
type Option func(*settings) error

type settings struct {
	subject string
	timeout time.Duration
	logger  master.Logger
}

// WithSubject replaces DefaultSubject.
func WithSubject(subject string) Option {
	return func(s *settings) error {
		if !isLiteralSubject(subject) {
			return ErrInvalidSubject
		}

		s.subject = subject

		return nil
	}
}

// WithHandlerTimeout bounds how long a listener may take for one message.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(s *settings) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: handler timeout must be positive", master.ErrInvalidArgument)
		}

		s.timeout = timeout

		return nil
	}
}

// WithLogger reports undecodable messages and failing listeners.
func WithLogger(logger master.Logger) Option {
	return func(s *settings) error {
		s.logger = logger
		return nil
	}
}

func newSettings(options []Option) (settings, error) {
	s := settings{subject: DefaultSubject, timeout: defaultHandlerTimeout}

	for _, option := range options {
		if err := option(&s); err != nil {
			return settings{}, err
		}
	}

	return s, nil
}

// NewNotifier publishes on publisher, usually a *nats.Conn.
func NewNotifier(publisher Publisher, options ...Option) (*Notifier, error) {
	if publisher == nil {
		return nil, ErrNilConnection
	}

	s, err := newSettings(options)
	if err != nil {
		return nil, err
	}

	return &Notifier{publisher: publisher, subject: s.subject}, nil
}

// Notify implements master.ChangeNotifier.
func (n *Notifier) Notify(ctx context.Context, event master.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := master.EncodeChangeEvent(event)
	if err != nil {
		return err
	}

	if err := n.publisher.Publish(SubjectFor(n.subject, event.ObjectID.Scheme), data); err != nil {
		return master.Unavailable(ErrPublishingFailed, err)
	}

	return nil
}

// SubjectFor is the subject events of scheme are published on.
func SubjectFor(subject, scheme string) string {
	return subject + "." + scheme
}

// Subscribe hands every event published under the configured subject to listener.
// ctx bounds the lifetime of the listener contexts; unsubscribe through the returned subscription.
func Subscribe(ctx context.Context, subscriber Subscriber, listener master.ChangeListener, options ...Option) (*nats.Subscription, error) {
	if subscriber == nil {
		return nil, ErrNilConnection
	}

	if listener == nil {
		return nil, fmt.Errorf("%w: listener must not be nil", master.ErrInvalidArgument)
	}

	s, err := newSettings(options)
	if err != nil {
		return nil, err
	}

	return subscriber.Subscribe(s.subject+".>", MessageHandler(ctx, listener, options...))
}

// MessageHandler decodes change events from NATS messages and passes them to listener.
// Messages that are not change events are logged and skipped.
func MessageHandler(ctx context.Context, listener master.ChangeListener, options ...Option) nats.MsgHandler {
	s, err := newSettings(options)
	if err != nil {
		s = settings{subject: DefaultSubject, timeout: defaultHandlerTimeout}
	}

	return func(msg *nats.Msg) {
		event, err := master.DecodeChangeEvent(msg.Data)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping undecodable change event", "subject", msg.Subject, "error", err.Error())
			}

			return
		}

		msgCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		if err := listener(msgCtx, event); err != nil && s.logger != nil {
			s.logger.Error("change listener failed",
				"subject", msg.Subject,
				"object_id", event.ObjectID.String(),
				"change_kind", string(event.Kind),
				"error", err.Error())
		}
	}
}

func isLiteralSubject(subject string) bool {
	if subject == "" || strings.ContainsAny(subject, "*> \t\r\n") {
		return false
	}

	for _, token := range strings.Split(subject, ".") {
		if token == "" {
			return false
		}
	}

	return true
}

var _ master.ChangeNotifier = (*Notifier)(nil)
