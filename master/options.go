package master

// settings holds the collaborators shared by DocumentMaster and PointSeriesMaster.
type settings struct {
	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
	clock            Clock
	notifier         ChangeNotifier
}

// Option defines a functional option for configuring a master.
type Option func(*settings) error

// WithLogger sets the logger. It receives messages at different levels:
//
// Debug level: per-operation details such as resolved coordinates
// Info level: completed operations with durations and result counts
// Warn level: failed change notifications
// Error level: failed operations.
func WithLogger(logger Logger) Option {
	return func(s *settings) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets a logger that receives the operation's context for trace correlation.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(s *settings) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for operation durations, errors, conflicts, and result sizes.
func WithMetrics(collector MetricsCollector) Option {
	return func(s *settings) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector. Every public operation becomes one span.
func WithTracing(collector TracingCollector) Option {
	return func(s *settings) error {
		s.tracingCollector = collector
		return nil
	}
}

// WithClock replaces the system clock as the source of version and correction instants.
func WithClock(clock Clock) Option {
	return func(s *settings) error {
		if clock == nil {
			return ErrNilClock
		}

		s.clock = clock

		return nil
	}
}

// WithNotifier sets the receiver of change events.
func WithNotifier(notifier ChangeNotifier) Option {
	return func(s *settings) error {
		s.notifier = notifier
		return nil
	}
}

func newSettings(options []Option) (settings, error) {
	s := settings{clock: SystemClock{}}

	for _, option := range options {
		if err := option(&s); err != nil {
			return settings{}, err
		}
	}

	s.clock = NewMonotonicClock(s.clock)

	return s, nil
}
