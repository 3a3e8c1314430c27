package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/master/sqlengine/internal/adapters"
)

const (
	tableDocument = "document"
	tableObject   = "object"
	tableSequence = "sequence"

	colScheme      = "scheme"
	colObjectValue = "object_value"
	colVersion     = "version"
	colVerFrom     = "ver_from"
	colVerTo       = "ver_to"
	colCorrFrom    = "corr_from"
	colCorrTo      = "corr_to"
	colName        = "name"
	colExternalIDs = "external_ids"
	colAttributes  = "attributes"
	colPayload     = "payload"
	colNextValue   = "next_value"

	actionAllocate  = "allocate"
	actionLock      = "lock"
	actionRecords   = "records"
	actionRecord    = "record"
	actionCandidate = "candidates"
	actionObjectIDs = "object_ids"
	actionSupersede = "supersede"
	actionInsert    = "insert"
)

var documentColumns = []any{
	colScheme, colObjectValue, colVersion,
	colVerFrom, colVerTo, colCorrFrom, colCorrTo,
	colName, colExternalIDs, colAttributes, colPayload,
}

// NewObjectID allocates the next value of scheme's row in the sequence table, unless a supplier is configured.
func (e *Engine) NewObjectID(ctx context.Context, scheme string) (master.ObjectID, error) {
	if e.supplier != nil {
		return e.supplier.NewObjectID(ctx, scheme)
	}

	if scheme == "" {
		return master.ObjectID{}, master.ErrEmptyScheme
	}

	var value int64

	err := e.inTx(ctx, func(tx adapters.DBTx) (bool, error) {
		seed := e.builder.Insert(e.table(tableSequence)).
			Rows(goqu.Record{colScheme: scheme, colNextValue: master.DefaultFirstObjectValue}).
			OnConflict(goqu.DoNothing()).
			Prepared(true)

		if _, err := e.execBuilt(ctx, tx, actionAllocate, seed); err != nil {
			return false, master.Unavailable(master.ErrAllocatingObjectIDFailed, err)
		}

		selectNext := e.lockable(e.builder.From(e.table(tableSequence)).
			Select(colNextValue).
			Where(goqu.Ex{colScheme: scheme}).
			Prepared(true))

		rows, err := e.query(ctx, tx, actionAllocate, selectNext)
		if err != nil {
			return false, err
		}

		found := rows.Next()
		if found {
			err = rows.Scan(&value)
		}

		e.closeRows(rows)

		if err != nil || !found {
			return false, master.Unavailable(master.ErrAllocatingObjectIDFailed, errors.Join(err, rows.Err()))
		}

		advance := e.builder.Update(e.table(tableSequence)).
			Set(goqu.Record{colNextValue: value + 1}).
			Where(goqu.Ex{colScheme: scheme}).
			Prepared(true)

		if _, err := e.execBuilt(ctx, tx, actionAllocate, advance); err != nil {
			return false, master.Unavailable(master.ErrAllocatingObjectIDFailed, err)
		}

		return true, nil
	})
	if err != nil {
		return master.ObjectID{}, err
	}

	return master.NewObjectID(scheme, strconv.FormatInt(value, 10)), nil
}

// Mutate runs plan on the object's records inside a transaction holding the object's lock.
func (e *Engine) Mutate(ctx context.Context, oid master.ObjectID, plan master.MutationPlan) error {
	return e.inTx(ctx, func(tx adapters.DBTx) (bool, error) {
		if err := e.lockObject(ctx, tx, oid); err != nil {
			return false, err
		}

		current, err := e.loadRecords(ctx, tx, e.recordsQuery(oid))
		if err != nil {
			return false, err
		}

		mutation, err := plan(current)
		if err != nil {
			return false, err
		}

		if mutation.IsEmpty() {
			return false, nil
		}

		if !mutation.Supersede.IsZero() {
			if err := e.supersede(ctx, tx, mutation); err != nil {
				return false, err
			}
		}

		if len(mutation.Insert) > 0 {
			if err := e.insert(ctx, tx, mutation.Insert); err != nil {
				return false, err
			}
		}

		return true, nil
	})
}

// lockObject creates the object's lock row if needed and locks it until the transaction ends.
func (e *Engine) lockObject(ctx context.Context, tx adapters.DBTx, oid master.ObjectID) error {
	ensure := e.builder.Insert(e.table(tableObject)).
		Rows(goqu.Record{colScheme: oid.Scheme, colObjectValue: oid.Value}).
		OnConflict(goqu.DoNothing()).
		Prepared(true)

	if _, err := e.execBuilt(ctx, tx, actionLock, ensure); err != nil {
		return master.Unavailable(master.ErrLockingObjectFailed, err)
	}

	lock := e.lockable(e.builder.From(e.table(tableObject)).
		Select(colObjectValue).
		Where(goqu.Ex{colScheme: oid.Scheme, colObjectValue: oid.Value}).
		Prepared(true))

	rows, err := e.query(ctx, tx, actionLock, lock)
	if err != nil {
		return err
	}

	var locked string
	for rows.Next() {
		err = rows.Scan(&locked)
	}

	e.closeRows(rows)

	if err = errors.Join(err, rows.Err()); err != nil {
		return master.Unavailable(master.ErrLockingObjectFailed, err)
	}

	return nil
}

// lockable adds FOR UPDATE where the dialect has row locks.
func (e *Engine) lockable(statement *goqu.SelectDataset) *goqu.SelectDataset {
	if e.dialect == dialectPostgres {
		return statement.ForUpdate(exp.Wait)
	}

	return statement
}

func (e *Engine) supersede(ctx context.Context, tx adapters.DBTx, mutation master.Mutation) error {
	version, err := mutation.Supersede.VersionNumber()
	if err != nil {
		return err
	}

	update := e.builder.Update(e.table(tableDocument)).
		Set(goqu.Record{colCorrTo: nanos(mutation.At)}).
		Where(
			goqu.Ex{
				colScheme:      mutation.Supersede.Scheme,
				colObjectValue: mutation.Supersede.Value,
				colVersion:     int64(version),
			},
			goqu.C(colCorrTo).IsNull(),
		).
		Prepared(true)

	rowsAffected, err := e.execBuilt(ctx, tx, actionSupersede, update)
	if err != nil {
		return master.Unavailable(master.ErrSupersedingRecordFailed, err)
	}

	if rowsAffected != 1 {
		if e.logger != nil {
			e.logger.Info(logMsgConcurrencyConflict, logAttrUniqueID, mutation.Supersede.String())
		}

		return fmt.Errorf("%w: %s is not open", master.ErrConcurrencyConflict, mutation.Supersede)
	}

	return nil
}

func (e *Engine) insert(ctx context.Context, tx adapters.DBTx, records []master.Record) error {
	rows := make([]any, 0, len(records))

	for _, r := range records {
		row, err := toRow(r)
		if err != nil {
			return err
		}

		rows = append(rows, row)
	}

	insert := e.builder.Insert(e.table(tableDocument)).Rows(rows...).Prepared(true)

	if _, err := e.execBuilt(ctx, tx, actionInsert, insert); err != nil {
		return master.Unavailable(master.ErrInsertingRecordFailed, err)
	}

	return nil
}

// Record returns the record with exactly this UniqueID.
func (e *Engine) Record(ctx context.Context, uid master.UniqueID) (master.Record, error) {
	version, err := uid.VersionNumber()
	if err != nil {
		return master.Record{}, fmt.Errorf("%w: %s", master.ErrRecordNotFound, uid)
	}

	statement := e.builder.From(e.table(tableDocument)).
		Select(documentColumns...).
		Where(goqu.Ex{colScheme: uid.Scheme, colObjectValue: uid.Value, colVersion: int64(version)}).
		Prepared(true)

	records, err := e.loadRecordsAction(ctx, e.db, actionRecord, statement)
	if err != nil {
		return master.Record{}, err
	}

	if len(records) == 0 {
		return master.Record{}, fmt.Errorf("%w: %s", master.ErrRecordNotFound, uid)
	}

	return records[0], nil
}

// Records returns every record of the object ordered by version.
func (e *Engine) Records(ctx context.Context, oid master.ObjectID) ([]master.Record, error) {
	records, err := e.loadRecords(ctx, e.db, e.recordsQuery(oid))
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", master.ErrObjectNotFound, oid)
	}

	return records, nil
}

func (e *Engine) recordsQuery(oid master.ObjectID) *goqu.SelectDataset {
	return e.builder.From(e.table(tableDocument)).
		Select(documentColumns...).
		Where(goqu.Ex{colScheme: oid.Scheme, colObjectValue: oid.Value}).
		Order(goqu.I(colVersion).Asc()).
		Prepared(true)
}

// Candidates returns the records visible at the filter's coordinate in one statement.
func (e *Engine) Candidates(ctx context.Context, filter master.CandidateFilter) ([]master.Record, error) {
	where := []exp.Expression{
		goqu.Ex{colScheme: filter.Scheme},
		visibleOn(colVerFrom, colVerTo, filter.VersionCorrection.VersionAsOf),
		visibleOn(colCorrFrom, colCorrTo, filter.VersionCorrection.CorrectedTo),
	}

	if filter.ObjectIDs != nil {
		values := make([]string, 0, len(filter.ObjectIDs))
		for _, oid := range filter.ObjectIDs {
			if oid.Scheme == filter.Scheme {
				values = append(values, oid.Value)
			}
		}

		if len(values) == 0 {
			return nil, nil
		}

		where = append(where, goqu.C(colObjectValue).In(values))
	}

	statement := e.builder.From(e.table(tableDocument)).
		Select(documentColumns...).
		Where(where...).
		Order(goqu.I(colObjectValue).Asc(), goqu.I(colVersion).Asc()).
		Prepared(true)

	return e.loadRecordsAction(ctx, e.db, actionCandidate, statement)
}

// visibleOn selects the rows whose [from, to) interval contains at; a zero at selects open intervals.
func visibleOn(fromCol, toCol string, at time.Time) exp.Expression {
	if at.IsZero() {
		return goqu.C(toCol).IsNull()
	}

	n := at.UnixNano()

	return goqu.And(
		goqu.C(fromCol).Lte(n),
		goqu.Or(goqu.C(toCol).IsNull(), goqu.C(toCol).Gt(n)),
	)
}

// ObjectIDs lists the objects of scheme that have records.
func (e *Engine) ObjectIDs(ctx context.Context, scheme string) ([]master.ObjectID, error) {
	statement := e.builder.From(e.table(tableDocument)).
		Select(colObjectValue).
		Distinct().
		Where(goqu.Ex{colScheme: scheme}).
		Prepared(true)

	rows, err := e.query(ctx, e.db, actionObjectIDs, statement)
	if err != nil {
		return nil, err
	}
	defer e.closeRows(rows)

	var oids []master.ObjectID

	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, master.Unavailable(master.ErrScanningRecordFailed, err)
		}

		oids = append(oids, master.NewObjectID(scheme, value))
	}

	if err := rows.Err(); err != nil {
		return nil, master.Unavailable(master.ErrQueryingRecordsFailed, err)
	}

	slices.SortFunc(oids, master.ObjectID.Compare)

	return oids, nil
}

func (e *Engine) loadRecords(ctx context.Context, q adapters.Querier, statement sqlBuilder) ([]master.Record, error) {
	return e.loadRecordsAction(ctx, q, actionRecords, statement)
}

func (e *Engine) loadRecordsAction(ctx context.Context, q adapters.Querier, action string, statement sqlBuilder) ([]master.Record, error) {
	rows, err := e.query(ctx, q, action, statement)
	if err != nil {
		return nil, err
	}
	defer e.closeRows(rows)

	var records []master.Record

	for rows.Next() {
		var row documentRow
		if err := rows.Scan(row.destinations()...); err != nil {
			return nil, master.Unavailable(master.ErrScanningRecordFailed, err)
		}

		record, err := row.record()
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, master.Unavailable(master.ErrQueryingRecordsFailed, err)
	}

	return records, nil
}

// documentRow is one scanned row of the document table.
type documentRow struct {
	scheme      string
	objectValue string
	version     int64
	verFrom     int64
	verTo       sql.NullInt64
	corrFrom    int64
	corrTo      sql.NullInt64
	name        string
	externalIDs string
	attributes  string
	payload     string
}

func (r *documentRow) destinations() []any {
	return []any{
		&r.scheme, &r.objectValue, &r.version,
		&r.verFrom, &r.verTo, &r.corrFrom, &r.corrTo,
		&r.name, &r.externalIDs, &r.attributes, &r.payload,
	}
}

func (r *documentRow) record() (master.Record, error) {
	rec := master.Record{
		UniqueID:       master.NewObjectID(r.scheme, r.objectValue).AtVersionNumber(uint64(r.version)),
		VersionFrom:    instant(r.verFrom),
		VersionTo:      nullableInstant(r.verTo),
		CorrectionFrom: instant(r.corrFrom),
		CorrectionTo:   nullableInstant(r.corrTo),
		Name:           r.name,
		Payload:        []byte(r.payload),
	}

	if err := master.DecodePayload([]byte(r.externalIDs), &rec.ExternalIDs); err != nil {
		return master.Record{}, errors.Join(master.ErrInvariantViolation, master.ErrScanningRecordFailed, err)
	}

	if err := master.DecodePayload([]byte(r.attributes), &rec.Attributes); err != nil {
		return master.Record{}, errors.Join(master.ErrInvariantViolation, master.ErrScanningRecordFailed, err)
	}

	return rec, nil
}

func toRow(r master.Record) (goqu.Record, error) {
	version, err := r.UniqueID.VersionNumber()
	if err != nil {
		return nil, err
	}

	externalIDs := r.ExternalIDs
	if externalIDs == nil {
		externalIDs = master.ExternalIDBundleWithDates{}
	}

	externalIDsJSON, err := master.EncodePayload(externalIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding external ids: %w", master.ErrInvalidArgument, err)
	}

	attributes := r.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}

	attributesJSON, err := master.EncodePayload(attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding attributes: %w", master.ErrInvalidArgument, err)
	}

	return goqu.Record{
		colScheme:      r.UniqueID.Scheme,
		colObjectValue: r.UniqueID.Value,
		colVersion:     int64(version),
		colVerFrom:     nanos(r.VersionFrom),
		colVerTo:       nullableNanos(r.VersionTo),
		colCorrFrom:    nanos(r.CorrectionFrom),
		colCorrTo:      nullableNanos(r.CorrectionTo),
		colName:        r.Name,
		colExternalIDs: string(externalIDsJSON),
		colAttributes:  string(attributesJSON),
		colPayload:     string(r.Payload),
	}, nil
}
