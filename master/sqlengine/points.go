package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/master/sqlengine/internal/adapters"
)

const (
	tablePoint = "point"

	colPointDate      = "point_date"
	colValue          = "value"
	colAddedVersion   = "added_version"
	colAddedAt        = "added_at"
	colRemovedVersion = "removed_version"
	colRemovedAt      = "removed_at"

	actionPoints       = "points"
	actionAppendPoints = "append_points"
	actionRemovePoints = "remove_points"
)

// Points returns every stored point of oid, tombstoned ones included. The series version and the
// instant of its last change are derived from the points, since every change adds or removes one.
func (e *Engine) Points(ctx context.Context, oid master.ObjectID) (master.PointState, error) {
	return e.loadPoints(ctx, e.db, oid)
}

// MutatePoints runs plan inside a transaction holding the object's lock, the same lock Mutate takes.
func (e *Engine) MutatePoints(ctx context.Context, oid master.ObjectID, plan master.PointPlan) error {
	return e.inTx(ctx, func(tx adapters.DBTx) (bool, error) {
		if err := e.lockObject(ctx, tx, oid); err != nil {
			return false, err
		}

		state, err := e.loadPoints(ctx, tx, oid)
		if err != nil {
			return false, err
		}

		if state.Owner, err = e.loadRecords(ctx, tx, e.recordsQuery(oid)); err != nil {
			return false, err
		}

		change, err := plan(state)
		if err != nil {
			return false, err
		}

		if change.IsEmpty() {
			return false, nil
		}

		if change.Version != state.Version+1 {
			return false, fmt.Errorf("%w: points version %d does not follow %d",
				master.ErrConcurrencyConflict, change.Version, state.Version)
		}

		if err := e.removePoints(ctx, tx, oid, change); err != nil {
			return false, err
		}

		if err := e.appendPoints(ctx, tx, oid, change); err != nil {
			return false, err
		}

		return true, nil
	})
}

func (e *Engine) removePoints(ctx context.Context, tx adapters.DBTx, oid master.ObjectID, change master.PointChange) error {
	if len(change.Remove) == 0 {
		return nil
	}

	dates := make([]string, len(change.Remove))
	for i, d := range change.Remove {
		dates[i] = d.Format(master.DateLayout)
	}

	update := e.builder.Update(e.table(tablePoint)).
		Set(goqu.Record{colRemovedVersion: int64(change.Version), colRemovedAt: nanos(change.At)}).
		Where(
			goqu.Ex{colScheme: oid.Scheme, colObjectValue: oid.Value},
			goqu.C(colPointDate).In(dates),
			goqu.C(colRemovedVersion).IsNull(),
		).
		Prepared(true)

	if _, err := e.execBuilt(ctx, tx, actionRemovePoints, update); err != nil {
		return master.Unavailable(master.ErrWritingPointsFailed, err)
	}

	return nil
}

func (e *Engine) appendPoints(ctx context.Context, tx adapters.DBTx, oid master.ObjectID, change master.PointChange) error {
	if len(change.Add) == 0 {
		return nil
	}

	rows := make([]any, len(change.Add))
	for i, p := range change.Add {
		rows[i] = goqu.Record{
			colScheme:       oid.Scheme,
			colObjectValue:  oid.Value,
			colPointDate:    p.Date.Format(master.DateLayout),
			colValue:        p.Value,
			colAddedVersion: int64(change.Version),
			colAddedAt:      nanos(change.At),
		}
	}

	insert := e.builder.Insert(e.table(tablePoint)).Rows(rows...).Prepared(true)

	if _, err := e.execBuilt(ctx, tx, actionAppendPoints, insert); err != nil {
		return master.Unavailable(master.ErrWritingPointsFailed, err)
	}

	return nil
}

func (e *Engine) loadPoints(ctx context.Context, q adapters.Querier, oid master.ObjectID) (master.PointState, error) {
	statement := e.builder.From(e.table(tablePoint)).
		Select(colPointDate, colValue, colAddedVersion, colAddedAt, colRemovedVersion, colRemovedAt).
		Where(goqu.Ex{colScheme: oid.Scheme, colObjectValue: oid.Value}).
		Order(goqu.I(colPointDate).Asc(), goqu.I(colAddedVersion).Asc()).
		Prepared(true)

	rows, err := e.query(ctx, q, actionPoints, statement)
	if err != nil {
		return master.PointState{}, err
	}
	defer e.closeRows(rows)

	var state master.PointState

	for rows.Next() {
		var (
			date           string
			value          float64
			addedVersion   int64
			addedAt        int64
			removedVersion sql.NullInt64
			removedAt      sql.NullInt64
		)

		if err := rows.Scan(&date, &value, &addedVersion, &addedAt, &removedVersion, &removedAt); err != nil {
			return master.PointState{}, master.Unavailable(master.ErrQueryingPointsFailed, err)
		}

		parsed, err := master.ParseDate(date)
		if err != nil {
			return master.PointState{}, fmt.Errorf("%w: stored point of %s: %w", master.ErrInvariantViolation, oid, err)
		}

		p := master.StoredPoint{
			Date:         parsed,
			Value:        value,
			AddedVersion: uint64(addedVersion),
			AddedAt:      instant(addedAt),
		}

		if removedVersion.Valid {
			p.RemovedVersion = uint64(removedVersion.Int64)
			p.RemovedAt = nullableInstant(removedAt)
		}

		state.Points = append(state.Points, p)
		state.Version = max(state.Version, p.AddedVersion, p.RemovedVersion)

		for _, t := range []time.Time{p.AddedAt, p.RemovedAt} {
			if t.After(state.LastAt) {
				state.LastAt = t
			}
		}
	}

	if err := rows.Err(); err != nil {
		return master.PointState{}, master.Unavailable(master.ErrQueryingPointsFailed, err)
	}

	return state, nil
}
