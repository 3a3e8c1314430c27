package helper

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MetricsCollectorSpy captures metrics calls for testing. It implements master.MetricsCollector and,
// when created with contextual=true, master.ContextualMetricsCollector.
type MetricsCollectorSpy struct {
	durationRecords []SpyDurationRecord
	counterRecords  []SpyCounterRecord
	valueRecords    []SpyValueRecord
	contextualCalls int
	mu              sync.Mutex
}

// SpyDurationRecord represents a recorded duration metric call.
type SpyDurationRecord struct {
	Metric   string
	Duration time.Duration
	Labels   map[string]string
}

// SpyCounterRecord represents a recorded counter increment call.
type SpyCounterRecord struct {
	Metric string
	Labels map[string]string
}

// SpyValueRecord represents a recorded value metric call.
type SpyValueRecord struct {
	Metric string
	Value  float64
	Labels map[string]string
}

// NewMetricsCollectorSpy creates a new MetricsCollectorSpy.
func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{}
}

// RecordDuration implements master.MetricsCollector.
func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durationRecords = append(s.durationRecords, SpyDurationRecord{Metric: metric, Duration: duration, Labels: maps.Clone(labels)})
}

// IncrementCounter implements master.MetricsCollector.
func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counterRecords = append(s.counterRecords, SpyCounterRecord{Metric: metric, Labels: maps.Clone(labels)})
}

// RecordValue implements master.MetricsCollector.
func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.valueRecords = append(s.valueRecords, SpyValueRecord{Metric: metric, Value: value, Labels: maps.Clone(labels)})
}

// GetDurationRecords returns a copy of all captured duration records.
func (s *MetricsCollectorSpy) GetDurationRecords() []SpyDurationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpyDurationRecord, len(s.durationRecords))
	copy(records, s.durationRecords)

	return records
}

// GetCounterRecords returns a copy of all captured counter records.
func (s *MetricsCollectorSpy) GetCounterRecords() []SpyCounterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpyCounterRecord, len(s.counterRecords))
	copy(records, s.counterRecords)

	return records
}

// GetValueRecords returns a copy of all captured value records.
func (s *MetricsCollectorSpy) GetValueRecords() []SpyValueRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SpyValueRecord, len(s.valueRecords))
	copy(records, s.valueRecords)

	return records
}

// HasDurationRecordWithLabels checks for a duration record of metric carrying all given labels.
func (s *MetricsCollectorSpy) HasDurationRecordWithLabels(metric string, labels map[string]string) bool {
	for _, record := range s.GetDurationRecords() {
		if record.Metric == metric && containsLabels(record.Labels, labels) {
			return true
		}
	}

	return false
}

// HasCounterRecordWithLabels checks for a counter record of metric carrying all given labels.
func (s *MetricsCollectorSpy) HasCounterRecordWithLabels(metric string, labels map[string]string) bool {
	for _, record := range s.GetCounterRecords() {
		if record.Metric == metric && containsLabels(record.Labels, labels) {
			return true
		}
	}

	return false
}

// HasValueRecord checks for a value record of metric with exactly value.
func (s *MetricsCollectorSpy) HasValueRecord(metric string, value float64) bool {
	for _, record := range s.GetValueRecords() {
		if record.Metric == metric && record.Value == value {
			return true
		}
	}

	return false
}

// Reset clears all captured metric records.
func (s *MetricsCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durationRecords = nil
	s.counterRecords = nil
	s.valueRecords = nil
	s.contextualCalls = 0
}

// ContextualMetricsCollectorSpy is a MetricsCollectorSpy that also implements the context-aware methods.
type ContextualMetricsCollectorSpy struct {
	*MetricsCollectorSpy
}

// NewContextualMetricsCollectorSpy creates a new ContextualMetricsCollectorSpy.
func NewContextualMetricsCollectorSpy() ContextualMetricsCollectorSpy {
	return ContextualMetricsCollectorSpy{MetricsCollectorSpy: NewMetricsCollectorSpy()}
}

// RecordDurationContext implements master.ContextualMetricsCollector.
func (s ContextualMetricsCollectorSpy) RecordDurationContext(_ context.Context, metric string, duration time.Duration, labels map[string]string) {
	s.countContextualCall()
	s.RecordDuration(metric, duration, labels)
}

// IncrementCounterContext implements master.ContextualMetricsCollector.
func (s ContextualMetricsCollectorSpy) IncrementCounterContext(_ context.Context, metric string, labels map[string]string) {
	s.countContextualCall()
	s.IncrementCounter(metric, labels)
}

// RecordValueContext implements master.ContextualMetricsCollector.
func (s ContextualMetricsCollectorSpy) RecordValueContext(_ context.Context, metric string, value float64, labels map[string]string) {
	s.countContextualCall()
	s.RecordValue(metric, value, labels)
}

// ContextualCalls is the number of calls that went through the context-aware methods.
func (s ContextualMetricsCollectorSpy) ContextualCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.contextualCalls
}

func (s ContextualMetricsCollectorSpy) countContextualCall() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contextualCalls++
}

func containsLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}

	return true
}
