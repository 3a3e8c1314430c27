package master

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// PointsSchemeSuffix is appended to the owner's scheme to form the scheme of points UniqueIDs.
const PointsSchemeSuffix = "Dp"

// SeriesOwner is the document side of a point series. A series exists exactly when its owning
// document exists. DocumentMaster implements it.
type SeriesOwner interface {
	Scheme() string
	Exists(ctx context.Context, oid ObjectID, vc VersionCorrection) error
	ExistsUniqueID(ctx context.Context, uid UniqueID) error
}

// TimeSeries is a point series as seen at one coordinate, tagged with the points UniqueID of the
// latest mutation visible there.
type TimeSeries struct {
	UniqueID UniqueID    `json:"uniqueId"`
	Series   PointSeries `json:"timeSeries"`
}

// PointSeriesMaster stores the append-only date/value series attached to the documents of an owner.
//
// Removal is implemented by tombstoning: removed points stay stored with the instant and version of
// the removal, so coordinates before the removal still see them.
type PointSeriesMaster struct {
	storage PointStorage
	owner   SeriesOwner
	instrumentation
}

// NewPointSeriesMaster creates a master for the series of owner's documents.
func NewPointSeriesMaster(storage PointStorage, owner SeriesOwner, options ...Option) (*PointSeriesMaster, error) {
	if storage == nil || owner == nil {
		return nil, ErrNilStorage
	}

	if owner.Scheme() == "" {
		return nil, ErrEmptyScheme
	}

	s, err := newSettings(options)
	if err != nil {
		return nil, err
	}

	return &PointSeriesMaster{
		storage:         storage,
		owner:           owner,
		instrumentation: instrumentation{settings: s, scheme: owner.Scheme() + PointsSchemeSuffix},
	}, nil
}

// Scheme is the scheme of the points UniqueIDs this master issues.
func (m *PointSeriesMaster) Scheme() string {
	return m.scheme
}

// PointsUniqueID is the UniqueID tagging version v of oid's series.
func (m *PointSeriesMaster) PointsUniqueID(oid ObjectID, version uint64) UniqueID {
	return UniqueID{Scheme: m.scheme, Value: oid.Value, Version: strconv.FormatUint(version, 10)}
}

// GetTimeSeries returns the points of oid visible at vc, restricted to dates.
func (m *PointSeriesMaster) GetTimeSeries(
	ctx context.Context,
	oid ObjectID,
	vc VersionCorrection,
	dates DateRange,
) (TimeSeries, error) {
	op := m.startOperation(ctx, operationGetPoints).with(logAttrObjectID, oid.String())

	ts, err := m.getAt(op.ctx, oid, vc, dates)
	op.finish(err, ts.Series.Len())

	return ts, err
}

func (m *PointSeriesMaster) getAt(ctx context.Context, oid ObjectID, vc VersionCorrection, dates DateRange) (TimeSeries, error) {
	if oid.IsZero() {
		return TimeSeries{}, ErrZeroObjectID
	}

	if err := m.owner.Exists(ctx, oid, vc); err != nil {
		return TimeSeries{}, err
	}

	state, err := m.storage.Points(ctx, oid)
	if err != nil {
		return TimeSeries{}, err
	}

	visible := make([]DataPoint, 0, len(state.Points))
	version := uint64(0)

	for _, p := range state.Points {
		if visibleAtInstants(p, vc) {
			visible = append(visible, DataPoint{Date: p.Date, Value: p.Value})
		}

		if notAfter(p.AddedAt, vc.VersionAsOf) && notAfter(p.AddedAt, vc.CorrectedTo) {
			version = max(version, p.AddedVersion)
		}

		if !p.IsLive() && notAfter(p.RemovedAt, vc.CorrectedTo) && notAfter(p.RemovedAt, vc.VersionAsOf) {
			version = max(version, p.RemovedVersion)
		}
	}

	return m.timeSeries(oid, version, visible, dates)
}

// GetTimeSeriesByUniqueID accepts a document UniqueID, returning the latest points, or a points
// UniqueID, returning the points as of that mutation.
func (m *PointSeriesMaster) GetTimeSeriesByUniqueID(ctx context.Context, uid UniqueID, dates DateRange) (TimeSeries, error) {
	op := m.startOperation(ctx, operationGetPoints).with(logAttrUniqueID, uid.String())

	ts, err := m.getByUniqueID(op.ctx, uid, dates)
	op.finish(err, ts.Series.Len())

	return ts, err
}

func (m *PointSeriesMaster) getByUniqueID(ctx context.Context, uid UniqueID, dates DateRange) (TimeSeries, error) {
	if uid.IsZero() {
		return TimeSeries{}, ErrZeroObjectID
	}

	oid := ObjectID{Scheme: m.owner.Scheme(), Value: uid.Value}

	switch uid.Scheme {
	case m.owner.Scheme():
		if err := m.owner.ExistsUniqueID(ctx, uid); err != nil {
			return TimeSeries{}, err
		}

		return m.getAt(ctx, oid, Latest, dates)

	case m.scheme:
		version, err := uid.VersionNumber()
		if err != nil {
			return TimeSeries{}, err
		}

		state, err := m.storage.Points(ctx, oid)
		if err != nil {
			return TimeSeries{}, err
		}

		if version > state.Version {
			return TimeSeries{}, fmt.Errorf("%w: %s", ErrRecordNotFound, uid)
		}

		if version == 0 {
			if err := m.owner.Exists(ctx, oid, Latest); err != nil {
				return TimeSeries{}, err
			}
		}

		visible := make([]DataPoint, 0, len(state.Points))
		for _, p := range state.Points {
			if p.AddedVersion <= version && (p.IsLive() || p.RemovedVersion > version) {
				visible = append(visible, DataPoint{Date: p.Date, Value: p.Value})
			}
		}

		return m.timeSeries(oid, version, visible, dates)

	default:
		return TimeSeries{}, fmt.Errorf("%w: %s", ErrObjectIDSchemeNotSupplied, uid)
	}
}

// UpdateTimeSeriesDataPoints appends series to oid's points. Every new date must be later than the
// latest live stored date. It returns the points UniqueID of the append.
func (m *PointSeriesMaster) UpdateTimeSeriesDataPoints(ctx context.Context, oid ObjectID, series PointSeries) (UniqueID, error) {
	op := m.startOperation(ctx, operationAppendPoints).with(logAttrObjectID, oid.String())

	uid, at, err := m.append(op.ctx, oid, series)
	op.with(logAttrUniqueID, uid.String()).finish(err, -1)

	if err == nil {
		m.recordValue(op.ctx, metricPointsAppended, float64(series.Len()), operationAppendPoints, statusSuccess)
		m.notify(op.ctx, oid, ChangePointsUpdated, at)
	}

	return uid, err
}

func (m *PointSeriesMaster) append(ctx context.Context, oid ObjectID, series PointSeries) (UniqueID, time.Time, error) {
	if oid.IsZero() {
		return UniqueID{}, time.Time{}, ErrZeroObjectID
	}

	if series.IsEmpty() {
		return UniqueID{}, time.Time{}, ErrEmptyPointSeries
	}

	if err := m.owner.Exists(ctx, oid, Latest); err != nil {
		return UniqueID{}, time.Time{}, err
	}

	var change PointChange

	err := m.storage.MutatePoints(ctx, oid, func(state PointState) (PointChange, error) {
		if _, err := Current(state.Owner); err != nil {
			return PointChange{}, err
		}

		if last, ok := lastLiveDate(state.Points); ok && !series.FirstDate().After(last) {
			return PointChange{}, fmt.Errorf("%w: %s is not after %s",
				ErrPointSeriesNotAppendOnly, series.FirstDate().Format(DateLayout), last.Format(DateLayout))
		}

		change = PointChange{
			Version: state.Version + 1,
			At:      after(m.clock, state.LastAt),
			Add:     series.Points(),
		}

		return change, nil
	})
	if err != nil {
		return UniqueID{}, time.Time{}, err
	}

	return m.PointsUniqueID(oid, change.Version), change.At, nil
}

// RemoveTimeSeriesDataPoints tombstones the live points of oid inside dates. When nothing matches,
// nothing is stored and the current points UniqueID is returned.
func (m *PointSeriesMaster) RemoveTimeSeriesDataPoints(ctx context.Context, oid ObjectID, dates DateRange) (UniqueID, error) {
	op := m.startOperation(ctx, operationRemovePoints).with(logAttrObjectID, oid.String())

	uid, change, err := m.remove(op.ctx, oid, dates)
	op.with(logAttrUniqueID, uid.String()).finish(err, len(change.Remove))

	if err == nil && !change.IsEmpty() {
		m.notify(op.ctx, oid, ChangePointsUpdated, change.At)
	}

	return uid, err
}

func (m *PointSeriesMaster) remove(ctx context.Context, oid ObjectID, dates DateRange) (UniqueID, PointChange, error) {
	if oid.IsZero() {
		return UniqueID{}, PointChange{}, ErrZeroObjectID
	}

	if err := m.owner.Exists(ctx, oid, Latest); err != nil {
		return UniqueID{}, PointChange{}, err
	}

	var (
		change  PointChange
		version uint64
	)

	err := m.storage.MutatePoints(ctx, oid, func(state PointState) (PointChange, error) {
		if _, err := Current(state.Owner); err != nil {
			return PointChange{}, err
		}

		change = PointChange{}
		version = state.Version

		for _, p := range state.Points {
			if p.IsLive() && dates.Contains(p.Date) {
				change.Remove = append(change.Remove, p.Date)
			}
		}

		if change.IsEmpty() {
			return change, nil
		}

		change.Version = state.Version + 1
		change.At = after(m.clock, state.LastAt)
		version = change.Version

		return change, nil
	})
	if err != nil {
		return UniqueID{}, PointChange{}, err
	}

	return m.PointsUniqueID(oid, version), change, nil
}

func (m *PointSeriesMaster) timeSeries(oid ObjectID, version uint64, points []DataPoint, dates DateRange) (TimeSeries, error) {
	series, err := NewPointSeries(points...)
	if err != nil {
		return TimeSeries{}, fmt.Errorf("%w: stored points of %s: %w", ErrInvariantViolation, oid, err)
	}

	return TimeSeries{UniqueID: m.PointsUniqueID(oid, version), Series: series.SubSeries(dates)}, nil
}

// visibleAtInstants: added at or before both axes, and not removed at or before the correction axis.
func visibleAtInstants(p StoredPoint, vc VersionCorrection) bool {
	if !notAfter(p.AddedAt, vc.VersionAsOf) || !notAfter(p.AddedAt, vc.CorrectedTo) {
		return false
	}

	return p.IsLive() || !notAfter(p.RemovedAt, vc.CorrectedTo)
}

// notAfter reports t <= at, where a zero at is LATEST.
func notAfter(t, at time.Time) bool {
	return at.IsZero() || !t.After(at)
}

func lastLiveDate(points []StoredPoint) (time.Time, bool) {
	var (
		last  time.Time
		found bool
	)

	for _, p := range points {
		if p.IsLive() && (!found || p.Date.After(last)) {
			last, found = p.Date, true
		}
	}

	return last, found
}

// SortStoredPoints orders points by date, then by the version that added them.
func SortStoredPoints(points []StoredPoint) {
	slices.SortFunc(points, func(a, b StoredPoint) int {
		return cmp.Or(a.Date.Compare(b.Date), cmp.Compare(a.AddedVersion, b.AddedVersion))
	})
}
