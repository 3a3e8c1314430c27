// Package promadapters exposes master metrics through the Prometheus client.
package promadapters

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// ErrNilRegisterer is returned when no prometheus.Registerer is given.
var ErrNilRegisterer = fmt.Errorf("%w: prometheus registerer must not be nil", master.ErrInvalidArgument)

// DefaultBuckets are the histogram buckets in seconds for operation durations.
var DefaultBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

var help = map[string]string{
	"master_operation_duration_seconds":  "Duration of master operations by operation and status",
	"master_operation_errors_total":      "Failed master operations by operation and error type",
	"master_concurrency_conflicts_total": "Rejected concurrent modifications by operation",
	"master_documents_returned":          "Number of documents returned by the last read operation",
	"master_points_appended":             "Number of data points written by the last point operation",
	"master_notification_failures_total": "Change notifications that could not be delivered",
}

// MetricsCollector implements master.MetricsCollector on Prometheus vectors:
// durations become histograms, counters become counters, values become gauges.
//
// A vector is registered on first use of a metric name with the label names of that call.
// Later calls for the same name must use the same label names; mismatching calls are dropped.
type MetricsCollector struct {
	registerer prometheus.Registerer
	buckets    []float64
	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	onError    func(name string, err error)
}

// Option configures a MetricsCollector.
type Option func(*MetricsCollector) error

// WithBuckets replaces DefaultBuckets.
func WithBuckets(buckets ...float64) Option {
	return func(c *MetricsCollector) error {
		if len(buckets) == 0 || !slices.IsSorted(buckets) {
			return fmt.Errorf("%w: buckets must be non-empty and ascending", master.ErrInvalidArgument)
		}

		c.buckets = slices.Clone(buckets)

		return nil
	}
}

// WithErrorHandler is called with every measurement that could not be recorded.
func WithErrorHandler(handler func(name string, err error)) Option {
	return func(c *MetricsCollector) error {
		if handler == nil {
			return fmt.Errorf("%w: error handler must not be nil", master.ErrInvalidArgument)
		}

		c.onError = handler

		return nil
	}
}

// NewMetricsCollector registers its vectors on registerer.
func NewMetricsCollector(registerer prometheus.Registerer, options ...Option) (*MetricsCollector, error) {
	if registerer == nil {
		return nil, ErrNilRegisterer
	}

	c := &MetricsCollector{
		registerer: registerer,
		buckets:    DefaultBuckets,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		onError:    func(string, error) {},
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *MetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	vec, err := lookup(c, c.histograms, name, labels, func(opts prometheus.Opts, names []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    opts.Name,
			Help:    opts.Help,
			Buckets: c.buckets,
		}, names)
	})
	if err == nil {
		var observer prometheus.Observer
		if observer, err = vec.GetMetricWith(labels); err == nil {
			observer.Observe(duration.Seconds())
			return
		}
	}

	c.onError(name, err)
}

func (c *MetricsCollector) IncrementCounter(name string, labels map[string]string) {
	vec, err := lookup(c, c.counters, name, labels, func(opts prometheus.Opts, names []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), names)
	})
	if err == nil {
		var counter prometheus.Counter
		if counter, err = vec.GetMetricWith(labels); err == nil {
			counter.Inc()
			return
		}
	}

	c.onError(name, err)
}

func (c *MetricsCollector) RecordValue(name string, value float64, labels map[string]string) {
	vec, err := lookup(c, c.gauges, name, labels, func(opts prometheus.Opts, names []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), names)
	})
	if err == nil {
		var gauge prometheus.Gauge
		if gauge, err = vec.GetMetricWith(labels); err == nil {
			gauge.Set(value)
			return
		}
	}

	c.onError(name, err)
}

// lookup returns the vector registered for name, creating and registering it when needed.
// A vector registered earlier by someone else with an identical description is reused.
func lookup[V prometheus.Collector](
	c *MetricsCollector,
	vectors map[string]V,
	name string,
	labels map[string]string,
	create func(opts prometheus.Opts, labelNames []string) V,
) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vec, ok := vectors[name]; ok {
		return vec, nil
	}

	opts := prometheus.Opts{Name: name, Help: help[name]}
	if opts.Help == "" {
		opts.Help = name
	}

	vec := create(opts, slices.Sorted(maps.Keys(labels)))

	if err := c.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			var zero V
			return zero, err
		}

		existing, ok := already.ExistingCollector.(V)
		if !ok {
			var zero V
			return zero, err
		}

		vec = existing
	}

	vectors[name] = vec

	return vec, nil
}

var _ master.MetricsCollector = (*MetricsCollector)(nil)
