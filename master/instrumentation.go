package master

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	metricOperationDuration    = "master_operation_duration_seconds"
	metricOperationErrors      = "master_operation_errors_total"
	metricConcurrencyConflicts = "master_concurrency_conflicts_total"
	metricDocumentsReturned    = "master_documents_returned"
	metricPointsAppended       = "master_points_appended"
	metricNotificationFailures = "master_notification_failures_total"

	spanNamePrefix     = "master."
	spanAttrOperation  = "operation"
	spanAttrScheme     = "scheme"
	spanAttrErrorType  = "error_type"
	spanAttrDurationMS = "duration_ms"
	spanAttrResultSize = "result_size"
	spanAttrUniqueID   = "unique_id"
	statusSuccess      = "success"
	statusError        = "error"
	statusConflict     = "conflict"

	logMsgOperation          = "master operation: "
	logMsgOperationFailed    = "master operation failed: "
	logMsgNotificationFailed = "change notification failed"
	logAttrError             = "error"
	logAttrErrorType         = "error_type"
	logAttrDurationMS        = "duration_ms"
	logAttrScheme            = "scheme"
	logAttrObjectID          = "object_id"
	logAttrUniqueID          = "unique_id"
	logAttrChangeKind        = "change_kind"
	logAttrAsOf              = "as_of"
	logAttrResultSize        = "result_size"

	operationAdd             = "add"
	operationGet             = "get"
	operationGetAt           = "get_at"
	operationUpdate          = "update"
	operationUpdateIfCurrent = "update_if_current"
	operationCorrect         = "correct"
	operationRemove          = "remove"
	operationHistory         = "history"
	operationSearch          = "search"
	operationGetPoints       = "get_time_series"
	operationAppendPoints    = "update_time_series_data_points"
	operationRemovePoints    = "remove_time_series_data_points"
)

// instrumentation bundles logging, metrics, and tracing of one master.
type instrumentation struct {
	settings
	scheme string
}

// operationObserver tracks one public operation from start to finish.
type operationObserver struct {
	in        *instrumentation
	ctx       context.Context
	operation string
	span      SpanContext
	start     time.Time
	attrs     []any
}

// startOperation opens the span and starts the timer.
func (in *instrumentation) startOperation(ctx context.Context, operation string) *operationObserver {
	o := &operationObserver{in: in, ctx: ctx, operation: operation, start: time.Now()}

	if in.tracingCollector != nil {
		o.ctx, o.span = in.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, map[string]string{
			spanAttrOperation: operation,
			spanAttrScheme:    in.scheme,
		})
	}

	return o
}

// with adds log attributes reported when the operation finishes.
func (o *operationObserver) with(args ...any) *operationObserver {
	o.attrs = append(o.attrs, args...)
	return o
}

// finish records the outcome. resultSize < 0 means the operation has no result size.
func (o *operationObserver) finish(err error, resultSize int) {
	duration := time.Since(o.start)

	if err != nil {
		o.finishError(err, duration)
		return
	}

	o.in.recordDuration(o.ctx, o.operation, statusSuccess, duration)

	attrs := append([]any{logAttrScheme, o.in.scheme, logAttrDurationMS, toMilliseconds(duration)}, o.attrs...)
	if resultSize >= 0 {
		attrs = append(attrs, logAttrResultSize, resultSize)
		o.in.recordValue(o.ctx, metricDocumentsReturned, float64(resultSize), o.operation, statusSuccess)
	}

	o.in.logInfo(o.ctx, logMsgOperation+o.operation, attrs...)

	spanAttrs := map[string]string{spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration))}
	if resultSize >= 0 {
		spanAttrs[spanAttrResultSize] = fmt.Sprintf("%d", resultSize)
	}

	o.in.finishSpan(o.span, statusSuccess, spanAttrs)
}

func (o *operationObserver) finishError(err error, duration time.Duration) {
	errorType := ErrorType(err)

	o.in.recordDuration(o.ctx, o.operation, statusError, duration)
	o.in.incrementCounter(o.ctx, metricOperationErrors, map[string]string{
		spanAttrOperation: o.operation,
		"status":          statusError,
		spanAttrErrorType: errorType,
	})

	status := statusError
	if errors.Is(err, ErrConflict) {
		status = statusConflict
		o.in.incrementCounter(o.ctx, metricConcurrencyConflicts, map[string]string{
			spanAttrOperation: o.operation,
			"conflict_type":   "concurrency",
		})
	}

	attrs := append([]any{
		logAttrError, err.Error(),
		logAttrErrorType, errorType,
		logAttrScheme, o.in.scheme,
		logAttrDurationMS, toMilliseconds(duration),
	}, o.attrs...)

	// Lookups of unknown ids and rejected input are the caller's business, not an operational failure.
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) {
		o.in.logInfo(o.ctx, logMsgOperationFailed+o.operation, attrs...)
	} else {
		o.in.logError(o.ctx, logMsgOperationFailed+o.operation, attrs...)
	}

	o.in.finishSpan(o.span, status, map[string]string{
		spanAttrErrorType:  errorType,
		spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration)),
	})
}

// notify hands a committed change to the notifier. Failures are logged and counted, never returned.
// The change is committed, so the caller canceling its context must not suppress the event.
func (in *instrumentation) notify(ctx context.Context, oid ObjectID, kind ChangeKind, asOf time.Time) {
	if in.notifier == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)

	event := ChangeEvent{ObjectID: oid, Kind: kind, AsOf: asOf}
	if err := in.notifier.Notify(ctx, event); err != nil {
		in.logWarn(ctx, logMsgNotificationFailed,
			logAttrError, err.Error(),
			logAttrObjectID, oid.String(),
			logAttrChangeKind, string(kind),
			logAttrAsOf, asOf.Format(time.RFC3339Nano),
		)
		in.incrementCounter(ctx, metricNotificationFailures, map[string]string{
			logAttrChangeKind: string(kind),
		})
	}
}

func (in *instrumentation) logDebug(ctx context.Context, msg string, args ...any) {
	if in.logger != nil {
		in.logger.Debug(msg, args...)
	}

	if in.contextualLogger != nil {
		in.contextualLogger.DebugContext(ctx, msg, args...)
	}
}

func (in *instrumentation) logInfo(ctx context.Context, msg string, args ...any) {
	if in.logger != nil {
		in.logger.Info(msg, args...)
	}

	if in.contextualLogger != nil {
		in.contextualLogger.InfoContext(ctx, msg, args...)
	}
}

func (in *instrumentation) logWarn(ctx context.Context, msg string, args ...any) {
	if in.logger != nil {
		in.logger.Warn(msg, args...)
	}

	if in.contextualLogger != nil {
		in.contextualLogger.WarnContext(ctx, msg, args...)
	}
}

func (in *instrumentation) logError(ctx context.Context, msg string, args ...any) {
	if in.logger != nil {
		in.logger.Error(msg, args...)
	}

	if in.contextualLogger != nil {
		in.contextualLogger.ErrorContext(ctx, msg, args...)
	}
}

func (in *instrumentation) recordDuration(ctx context.Context, operation, status string, duration time.Duration) {
	if in.metricsCollector == nil {
		return
	}

	labels := map[string]string{spanAttrOperation: operation, "status": status}

	if contextualCollector, ok := in.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metricOperationDuration, duration, labels)
	} else {
		in.metricsCollector.RecordDuration(metricOperationDuration, duration, labels)
	}
}

func (in *instrumentation) recordValue(ctx context.Context, metric string, value float64, operation, status string) {
	if in.metricsCollector == nil {
		return
	}

	labels := map[string]string{spanAttrOperation: operation, "status": status}

	if contextualCollector, ok := in.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metric, value, labels)
	} else {
		in.metricsCollector.RecordValue(metric, value, labels)
	}
}

func (in *instrumentation) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if in.metricsCollector == nil {
		return
	}

	if contextualCollector, ok := in.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metric, labels)
	} else {
		in.metricsCollector.IncrementCounter(metric, labels)
	}
}

func (in *instrumentation) finishSpan(span SpanContext, status string, attrs map[string]string) {
	if in.tracingCollector != nil && span != nil {
		in.tracingCollector.FinishSpan(span, status, attrs)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
