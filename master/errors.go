package master

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a master wraps exactly one of them, so callers can
// branch with errors.Is.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrConflict           = errors.New("concurrency conflict")
	ErrUnavailable        = errors.New("storage unavailable")
)

// ErrConcurrencyConflict is kept as the storage-facing name of ErrConflict.
var ErrConcurrencyConflict = ErrConflict

var (
	ErrNilInfo                   = fmt.Errorf("%w: info must not be nil", ErrInvalidArgument)
	ErrEmptyScheme               = fmt.Errorf("%w: scheme must not be empty", ErrInvalidArgument)
	ErrNilStorage                = fmt.Errorf("%w: storage must not be nil", ErrInvalidArgument)
	ErrNilPolicy                 = fmt.Errorf("%w: validator and indexer must not be nil", ErrInvalidArgument)
	ErrZeroObjectID              = fmt.Errorf("%w: object id must not be empty", ErrInvalidArgument)
	ErrEmptyPointSeries          = fmt.Errorf("%w: point series must not be empty", ErrInvalidArgument)
	ErrPointSeriesNotAppendOnly  = fmt.Errorf("%w: new points must be dated after the last stored point", ErrInvalidArgument)
	ErrDuplicatePointDate        = fmt.Errorf("%w: point series contains duplicate dates", ErrInvalidArgument)
	ErrInvalidPagingRequest      = fmt.Errorf("%w: paging request out of range", ErrInvalidArgument)
	ErrUnknownSearchType         = fmt.Errorf("%w: unknown external id search type", ErrInvalidArgument)
	ErrObjectIDSchemeNotSupplied = fmt.Errorf("%w: object id scheme is not managed by this master", ErrInvalidArgument)
	ErrObjectNotFound            = fmt.Errorf("%w: object", ErrNotFound)
	ErrRecordNotFound            = fmt.Errorf("%w: unique id", ErrNotFound)
	ErrNoVisibleRecord           = fmt.Errorf("%w: no record at version-correction", ErrNotFound)
	ErrNotCurrentCorrection      = fmt.Errorf("%w: unique id is not the current correction of the current version", ErrNotFound)
	ErrStaleUniqueID             = fmt.Errorf("%w: unique id is no longer current", ErrConflict)
	ErrAmbiguousResolution       = fmt.Errorf("%w: more than one record visible at version-correction", ErrInvariantViolation)
)

// Storage operation sentinels, joined with ErrUnavailable and the driver error by Unavailable.
var (
	ErrAllocatingObjectIDFailed = errors.New("allocating object id failed")
	ErrQueryingRecordsFailed    = errors.New("querying records failed")
	ErrScanningRecordFailed     = errors.New("scanning record failed")
	ErrBuildingQueryFailed      = errors.New("building query failed")
	ErrBeginningTxFailed        = errors.New("beginning transaction failed")
	ErrCommittingTxFailed       = errors.New("committing transaction failed")
	ErrLockingObjectFailed      = errors.New("locking object failed")
	ErrSupersedingRecordFailed  = errors.New("superseding record failed")
	ErrInsertingRecordFailed    = errors.New("inserting record failed")
	ErrQueryingPointsFailed     = errors.New("querying points failed")
	ErrWritingPointsFailed      = errors.New("writing points failed")
	ErrMigratingSchemaFailed    = errors.New("migrating schema failed")
)

// Unavailable marks a storage failure, keeping the operation sentinel and the driver error in the chain.
func Unavailable(operation error, cause error) error {
	return errors.Join(ErrUnavailable, operation, cause)
}

// ErrorType maps an error onto the label used for logs, metrics, and spans.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "context_deadline_exceeded"
	default:
		return "other"
	}
}
