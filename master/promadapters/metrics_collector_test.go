package promadapters_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/master/memengine"
	"github.com/AntonStoeckl/bitemporal-master-go/master/promadapters"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
)

func Test_NewMetricsCollector_RejectsInvalidInput(t *testing.T) {
	_, err := promadapters.NewMetricsCollector(nil)
	assert.ErrorIs(t, err, promadapters.ErrNilRegisterer)

	_, err = promadapters.NewMetricsCollector(prometheus.NewRegistry(), promadapters.WithBuckets(1, 0.5))
	assert.ErrorIs(t, err, master.ErrInvalidArgument)

	_, err = promadapters.NewMetricsCollector(prometheus.NewRegistry(), promadapters.WithErrorHandler(nil))
	assert.ErrorIs(t, err, master.ErrInvalidArgument)
}

func Test_MetricsCollector_RecordDuration_ObservesSeconds(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector, err := promadapters.NewMetricsCollector(registry, promadapters.WithBuckets(0.1, 1))
	require.NoError(t, err)

	// act
	collector.RecordDuration("master_operation_duration_seconds", 250*time.Millisecond,
		map[string]string{"operation": "add", "status": "success"})

	// assert
	expected := `
# HELP master_operation_duration_seconds Duration of master operations by operation and status
# TYPE master_operation_duration_seconds histogram
master_operation_duration_seconds_bucket{operation="add",status="success",le="0.1"} 0
master_operation_duration_seconds_bucket{operation="add",status="success",le="1"} 1
master_operation_duration_seconds_bucket{operation="add",status="success",le="+Inf"} 1
master_operation_duration_seconds_sum{operation="add",status="success"} 0.25
master_operation_duration_seconds_count{operation="add",status="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "master_operation_duration_seconds"))
}

func Test_MetricsCollector_IncrementCounter_CountsPerLabelSet(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector, err := promadapters.NewMetricsCollector(registry)
	require.NoError(t, err)

	// act
	for range 3 {
		collector.IncrementCounter("master_concurrency_conflicts_total",
			map[string]string{"operation": "update_if_current", "conflict_type": "concurrency"})
	}
	collector.IncrementCounter("master_concurrency_conflicts_total",
		map[string]string{"operation": "correct", "conflict_type": "concurrency"})

	// assert
	expected := `
# HELP master_concurrency_conflicts_total Rejected concurrent modifications by operation
# TYPE master_concurrency_conflicts_total counter
master_concurrency_conflicts_total{conflict_type="concurrency",operation="correct"} 1
master_concurrency_conflicts_total{conflict_type="concurrency",operation="update_if_current"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "master_concurrency_conflicts_total"))
}

func Test_MetricsCollector_RecordValue_SetsTheGauge(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector, err := promadapters.NewMetricsCollector(registry)
	require.NoError(t, err)
	labels := map[string]string{"operation": "search", "status": "success"}

	// act
	collector.RecordValue("master_documents_returned", 7, labels)
	collector.RecordValue("master_documents_returned", 2, labels)

	// assert
	expected := `
# HELP master_documents_returned Number of documents returned by the last read operation
# TYPE master_documents_returned gauge
master_documents_returned{operation="search",status="success"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "master_documents_returned"))
}

func Test_MetricsCollector_DropsMismatchingLabelNames(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	var failed []string
	collector, err := promadapters.NewMetricsCollector(registry, promadapters.WithErrorHandler(func(name string, _ error) {
		failed = append(failed, name)
	}))
	require.NoError(t, err)

	// act
	collector.IncrementCounter("master_operation_errors_total", map[string]string{"operation": "add"})
	collector.IncrementCounter("master_operation_errors_total", map[string]string{"unexpected": "label"})

	// assert
	assert.Equal(t, []string{"master_operation_errors_total"}, failed)

	count, err := testutil.GatherAndCount(registry, "master_operation_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func Test_MetricsCollector_ReusesVectorsRegisteredByAnotherCollector(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	first, err := promadapters.NewMetricsCollector(registry)
	require.NoError(t, err)
	second, err := promadapters.NewMetricsCollector(registry)
	require.NoError(t, err)
	labels := map[string]string{"operation": "remove"}

	// act
	first.IncrementCounter("master_notification_failures_total", labels)
	second.IncrementCounter("master_notification_failures_total", labels)

	// assert
	expected := `
# HELP master_notification_failures_total Change notifications that could not be delivered
# TYPE master_notification_failures_total counter
master_notification_failures_total{operation="remove"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "master_notification_failures_total"))
}

func Test_MetricsCollector_CollectsMasterOperations(t *testing.T) {
	// setup
	ctx := t.Context()
	registry := prometheus.NewRegistry()
	collector, err := promadapters.NewMetricsCollector(registry)
	require.NoError(t, err)

	engine, err := memengine.New()
	require.NoError(t, err)

	m, err := hts.NewMaster(engine, nil, master.WithMetrics(collector))
	require.NoError(t, err)

	// act
	doc, err := m.Documents.Add(ctx, helper.FixtureInfo("measured"))
	require.NoError(t, err)

	_, err = m.Points.UpdateTimeSeriesDataPoints(ctx, doc.ObjectID(),
		helper.GivenPointSeries(t, helper.Point(2011, time.July, 1, 1), helper.Point(2011, time.July, 2, 2)))
	require.NoError(t, err)

	// assert
	count, err := testutil.GatherAndCount(registry, "master_operation_duration_seconds", "master_points_appended")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
