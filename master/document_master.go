package master

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"
)

// Validator checks a payload before it is stored. Failures must wrap ErrInvalidArgument.
type Validator[T any] interface {
	Validate(info *T) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc[T any] func(info *T) error

// Validate calls f.
func (f ValidatorFunc[T]) Validate(info *T) error {
	return f(info)
}

// Indexer extracts the searchable keys of a payload.
type Indexer[T any] interface {
	SearchKeys(info *T) SearchKeys
}

// IndexerFunc adapts a function to Indexer.
type IndexerFunc[T any] func(info *T) SearchKeys

// SearchKeys calls f.
func (f IndexerFunc[T]) SearchKeys(info *T) SearchKeys {
	return f(info)
}

// HistoryRequest selects the stored records of one object. Zero instants leave that end unbounded.
type HistoryRequest struct {
	ObjectID        ObjectID
	VersionsFrom    time.Time
	VersionsTo      time.Time
	CorrectionsFrom time.Time
	CorrectionsTo   time.Time
	Paging          PagingRequest
}

// DocumentMaster stores documents with payload T on two time axes.
type DocumentMaster[T any] struct {
	storage   DocumentStorage
	validator Validator[T]
	indexer   Indexer[T]
	instrumentation
}

// NewDocumentMaster creates a master for ObjectIDs of scheme.
func NewDocumentMaster[T any](
	storage DocumentStorage,
	scheme string,
	validator Validator[T],
	indexer Indexer[T],
	options ...Option,
) (*DocumentMaster[T], error) {
	if storage == nil {
		return nil, ErrNilStorage
	}

	if scheme == "" {
		return nil, ErrEmptyScheme
	}

	if validator == nil || indexer == nil {
		return nil, ErrNilPolicy
	}

	s, err := newSettings(options)
	if err != nil {
		return nil, err
	}

	return &DocumentMaster[T]{
		storage:         storage,
		validator:       validator,
		indexer:         indexer,
		instrumentation: instrumentation{settings: s, scheme: scheme},
	}, nil
}

// Scheme is the ObjectID scheme of this master.
func (m *DocumentMaster[T]) Scheme() string {
	return m.scheme
}

// Add stores info as the first version of a new object. The returned document has version token "0".
func (m *DocumentMaster[T]) Add(ctx context.Context, info *T) (Document[T], error) {
	op := m.startOperation(ctx, operationAdd)

	doc, err := m.add(op.ctx, info)
	op.with(logAttrUniqueID, doc.UniqueID.String()).finish(err, -1)

	if err == nil {
		m.notify(op.ctx, doc.ObjectID(), ChangeAdded, doc.VersionFrom)
	}

	return doc, err
}

func (m *DocumentMaster[T]) add(ctx context.Context, info *T) (Document[T], error) {
	prepared, err := m.prepare(info)
	if err != nil {
		return Document[T]{}, err
	}

	oid, err := m.storage.NewObjectID(ctx, m.scheme)
	if err != nil {
		return Document[T]{}, err
	}

	var created Record

	err = m.storage.Mutate(ctx, oid, func(current []Record) (Mutation, error) {
		if len(current) > 0 {
			return Mutation{}, fmt.Errorf("%w: object id %s already allocated", ErrConflict, oid)
		}

		now := m.clock.Now()
		created = prepared.record(oid.AtVersionNumber(NextVersion(current)), now, time.Time{}, now)

		return Mutation{Insert: []Record{created}}, nil
	})
	if err != nil {
		return Document[T]{}, err
	}

	return DocumentFromRecord[T](created)
}

// Get returns the record with exactly this UniqueID.
func (m *DocumentMaster[T]) Get(ctx context.Context, uid UniqueID) (Document[T], error) {
	op := m.startOperation(ctx, operationGet).with(logAttrUniqueID, uid.String())

	doc, err := m.get(op.ctx, uid)
	op.finish(err, -1)

	return doc, err
}

func (m *DocumentMaster[T]) get(ctx context.Context, uid UniqueID) (Document[T], error) {
	if uid.Scheme != m.scheme {
		return Document[T]{}, fmt.Errorf("%w: %s", ErrObjectIDSchemeNotSupplied, uid)
	}

	rec, err := m.storage.Record(ctx, uid)
	if err != nil {
		return Document[T]{}, err
	}

	return DocumentFromRecord[T](rec)
}

// GetAt resolves the record of oid visible at vc.
func (m *DocumentMaster[T]) GetAt(ctx context.Context, oid ObjectID, vc VersionCorrection) (Document[T], error) {
	op := m.startOperation(ctx, operationGetAt).with(logAttrObjectID, oid.String())

	rec, err := m.resolve(op.ctx, oid, vc)
	if err != nil {
		op.finish(err, -1)
		return Document[T]{}, err
	}

	m.logDebug(op.ctx, "resolved version-correction", logAttrObjectID, oid.String(), logAttrUniqueID, rec.UniqueID.String(), "version_correction", vc.String())

	doc, err := DocumentFromRecord[T](rec)
	op.finish(err, -1)

	return doc, err
}

func (m *DocumentMaster[T]) resolve(ctx context.Context, oid ObjectID, vc VersionCorrection) (Record, error) {
	if oid.Scheme != m.scheme {
		return Record{}, fmt.Errorf("%w: %s", ErrObjectIDSchemeNotSupplied, oid)
	}

	records, err := m.storage.Records(ctx, oid)
	if err != nil {
		return Record{}, err
	}

	return Resolve(records, vc)
}

// Exists reports ErrNotFound unless a record of oid is visible at vc.
func (m *DocumentMaster[T]) Exists(ctx context.Context, oid ObjectID, vc VersionCorrection) error {
	_, err := m.resolve(ctx, oid, vc)
	return err
}

// ExistsUniqueID reports ErrNotFound unless uid addresses a stored record.
func (m *DocumentMaster[T]) ExistsUniqueID(ctx context.Context, uid UniqueID) error {
	if uid.Scheme != m.scheme {
		return fmt.Errorf("%w: %s", ErrObjectIDSchemeNotSupplied, uid)
	}

	_, err := m.storage.Record(ctx, uid)

	return err
}

// Update closes the current version of oid and stores info as the new current version.
func (m *DocumentMaster[T]) Update(ctx context.Context, oid ObjectID, info *T) (Document[T], error) {
	op := m.startOperation(ctx, operationUpdate).with(logAttrObjectID, oid.String())

	doc, err := m.update(op.ctx, oid, info, UniqueID{})
	op.finish(err, -1)

	if err == nil {
		m.notify(op.ctx, oid, ChangeUpdated, doc.VersionFrom)
	}

	return doc, err
}

// UpdateIfCurrent is Update guarded by the caller's view: it fails with ErrConflict when uid is
// no longer the current record, so a cooperating caller can re-read and retry.
func (m *DocumentMaster[T]) UpdateIfCurrent(ctx context.Context, uid UniqueID, info *T) (Document[T], error) {
	op := m.startOperation(ctx, operationUpdateIfCurrent).with(logAttrUniqueID, uid.String())

	doc, err := m.update(op.ctx, uid.ObjectID(), info, uid)
	op.finish(err, -1)

	if err == nil {
		m.notify(op.ctx, uid.ObjectID(), ChangeUpdated, doc.VersionFrom)
	}

	return doc, err
}

func (m *DocumentMaster[T]) update(ctx context.Context, oid ObjectID, info *T, expected UniqueID) (Document[T], error) {
	if oid.IsZero() {
		return Document[T]{}, ErrZeroObjectID
	}

	prepared, err := m.prepare(info)
	if err != nil {
		return Document[T]{}, err
	}

	if oid.Scheme != m.scheme {
		return Document[T]{}, fmt.Errorf("%w: %s", ErrObjectIDSchemeNotSupplied, oid)
	}

	var next Record

	err = m.storage.Mutate(ctx, oid, func(current []Record) (Mutation, error) {
		cur, err := Current(current)
		if err != nil {
			return Mutation{}, err
		}

		if !expected.IsZero() && cur.UniqueID != expected {
			return Mutation{}, fmt.Errorf("%w: expected %s, current is %s", ErrStaleUniqueID, expected, cur.UniqueID)
		}

		now := after(m.clock, latestInstant(current))
		version := NextVersion(current)

		closed := cur
		closed.UniqueID = oid.AtVersionNumber(version)
		closed.VersionTo = now
		closed.CorrectionFrom = now
		closed.CorrectionTo = time.Time{}

		next = prepared.record(oid.AtVersionNumber(version+1), now, time.Time{}, now)

		return Mutation{Supersede: cur.UniqueID, At: now, Insert: []Record{closed, next}}, nil
	})
	if err != nil {
		return Document[T]{}, err
	}

	return DocumentFromRecord[T](next)
}

// Correct replaces the current correction of the current version. uid must address exactly that
// record, otherwise Correct fails with ErrNotFound. The version interval is kept.
func (m *DocumentMaster[T]) Correct(ctx context.Context, uid UniqueID, info *T) (Document[T], error) {
	op := m.startOperation(ctx, operationCorrect).with(logAttrUniqueID, uid.String())

	doc, err := m.correct(op.ctx, uid, info)
	op.finish(err, -1)

	if err == nil {
		m.notify(op.ctx, uid.ObjectID(), ChangeCorrected, doc.CorrectionFrom)
	}

	return doc, err
}

func (m *DocumentMaster[T]) correct(ctx context.Context, uid UniqueID, info *T) (Document[T], error) {
	if uid.IsZero() {
		return Document[T]{}, ErrZeroObjectID
	}

	prepared, err := m.prepare(info)
	if err != nil {
		return Document[T]{}, err
	}

	if uid.Scheme != m.scheme {
		return Document[T]{}, fmt.Errorf("%w: %s", ErrObjectIDSchemeNotSupplied, uid)
	}

	oid := uid.ObjectID()

	var next Record

	err = m.storage.Mutate(ctx, oid, func(current []Record) (Mutation, error) {
		cur, err := Current(current)
		if err != nil {
			return Mutation{}, err
		}

		if cur.UniqueID != uid {
			return Mutation{}, fmt.Errorf("%w: %s", ErrNotCurrentCorrection, uid)
		}

		now := after(m.clock, latestInstant(current))
		next = prepared.record(oid.AtVersionNumber(NextVersion(current)), cur.VersionFrom, cur.VersionTo, now)

		return Mutation{Supersede: cur.UniqueID, At: now, Insert: []Record{next}}, nil
	})
	if err != nil {
		return Document[T]{}, err
	}

	return DocumentFromRecord[T](next)
}

// Remove closes the current version of oid without a successor.
func (m *DocumentMaster[T]) Remove(ctx context.Context, oid ObjectID) error {
	op := m.startOperation(ctx, operationRemove).with(logAttrObjectID, oid.String())

	removedAt, err := m.remove(op.ctx, oid)
	op.finish(err, -1)

	if err == nil {
		m.notify(op.ctx, oid, ChangeRemoved, removedAt)
	}

	return err
}

func (m *DocumentMaster[T]) remove(ctx context.Context, oid ObjectID) (time.Time, error) {
	if oid.IsZero() {
		return time.Time{}, ErrZeroObjectID
	}

	if oid.Scheme != m.scheme {
		return time.Time{}, fmt.Errorf("%w: %s", ErrObjectIDSchemeNotSupplied, oid)
	}

	var removedAt time.Time

	err := m.storage.Mutate(ctx, oid, func(current []Record) (Mutation, error) {
		cur, err := Current(current)
		if err != nil {
			return Mutation{}, err
		}

		removedAt = after(m.clock, latestInstant(current))

		closed := cur
		closed.UniqueID = oid.AtVersionNumber(NextVersion(current))
		closed.VersionTo = removedAt
		closed.CorrectionFrom = removedAt
		closed.CorrectionTo = time.Time{}

		return Mutation{Supersede: cur.UniqueID, At: removedAt, Insert: []Record{closed}}, nil
	})

	return removedAt, err
}

// History lists the stored records of one object whose intervals intersect the requested ranges,
// newest version first, then newest correction first.
func (m *DocumentMaster[T]) History(ctx context.Context, request HistoryRequest) (SearchResult[T], error) {
	op := m.startOperation(ctx, operationHistory).with(logAttrObjectID, request.ObjectID.String())

	result, err := m.history(op.ctx, request)
	op.finish(err, len(result.Documents))

	return result, err
}

func (m *DocumentMaster[T]) history(ctx context.Context, request HistoryRequest) (SearchResult[T], error) {
	if request.ObjectID.IsZero() {
		return SearchResult[T]{}, ErrZeroObjectID
	}

	if err := request.Paging.Validate(); err != nil {
		return SearchResult[T]{}, err
	}

	if request.ObjectID.Scheme != m.scheme {
		return SearchResult[T]{}, fmt.Errorf("%w: %s", ErrObjectIDSchemeNotSupplied, request.ObjectID)
	}

	records, err := m.storage.Records(ctx, request.ObjectID)
	if err != nil {
		return SearchResult[T]{}, err
	}

	selected := make([]Record, 0, len(records))
	for _, r := range records {
		if intersects(r.VersionFrom, r.VersionTo, request.VersionsFrom, request.VersionsTo) &&
			intersects(r.CorrectionFrom, r.CorrectionTo, request.CorrectionsFrom, request.CorrectionsTo) {
			selected = append(selected, r)
		}
	}

	slices.SortFunc(selected, func(a, b Record) int {
		return cmp.Or(
			b.VersionFrom.Compare(a.VersionFrom),
			b.CorrectionFrom.Compare(a.CorrectionFrom),
			compareTokens(b.UniqueID.Version, a.UniqueID.Version),
		)
	})

	return m.page(selected, request.Paging)
}

// Search resolves every object at the request's coordinate, applies the predicates, orders,
// and pages the result.
func (m *DocumentMaster[T]) Search(ctx context.Context, request SearchRequest) (SearchResult[T], error) {
	op := m.startOperation(ctx, operationSearch)

	result, err := m.search(op.ctx, request)
	op.with("total_items", result.Paging.TotalItems).finish(err, len(result.Documents))

	return result, err
}

func (m *DocumentMaster[T]) search(ctx context.Context, request SearchRequest) (SearchResult[T], error) {
	if err := request.Validate(m.scheme); err != nil {
		return SearchResult[T]{}, err
	}

	if request.ObjectIDs != nil && len(request.ObjectIDs) == 0 {
		_, paging := Page([]Record{}, request.Paging)
		return SearchResult[T]{Documents: []Document[T]{}, Paging: paging}, nil
	}

	candidates, err := m.storage.Candidates(ctx, CandidateFilter{
		Scheme:            m.scheme,
		ObjectIDs:         request.ObjectIDs,
		VersionCorrection: request.VersionCorrection,
	})
	if err != nil {
		return SearchResult[T]{}, err
	}

	if err := checkOnePerObject(candidates, request.VersionCorrection); err != nil {
		return SearchResult[T]{}, err
	}

	return m.page(request.filterAndSort(candidates), request.Paging)
}

func (m *DocumentMaster[T]) page(records []Record, request PagingRequest) (SearchResult[T], error) {
	selected, paging := Page(records, request)

	docs := make([]Document[T], 0, len(selected))
	for _, r := range selected {
		doc, err := DocumentFromRecord[T](r)
		if err != nil {
			return SearchResult[T]{}, err
		}

		docs = append(docs, doc)
	}

	return SearchResult[T]{Documents: docs, Paging: paging}, nil
}

// CheckInvariants verifies the stored records of every object of this master.
func (m *DocumentMaster[T]) CheckInvariants(ctx context.Context, oid ObjectID) error {
	records, err := m.storage.Records(ctx, oid)
	if err != nil {
		return err
	}

	if err := CheckInvariants(records); err != nil {
		return fmt.Errorf("%s: %w", oid, err)
	}

	return nil
}

// ObjectIDs lists every object ever added to this master.
func (m *DocumentMaster[T]) ObjectIDs(ctx context.Context) ([]ObjectID, error) {
	return m.storage.ObjectIDs(ctx, m.scheme)
}

// prepared is a validated and encoded payload.
type prepared struct {
	keys    SearchKeys
	payload []byte
}

func (m *DocumentMaster[T]) prepare(info *T) (prepared, error) {
	if info == nil {
		return prepared{}, ErrNilInfo
	}

	if err := m.validator.Validate(info); err != nil {
		return prepared{}, err
	}

	payload, err := codec.Marshal(info)
	if err != nil {
		return prepared{}, fmt.Errorf("%w: encoding payload: %w", ErrInvalidArgument, err)
	}

	return prepared{keys: m.indexer.SearchKeys(info), payload: payload}, nil
}

func (p prepared) record(uid UniqueID, versionFrom, versionTo, correctionFrom time.Time) Record {
	return Record{
		UniqueID:       uid,
		VersionFrom:    versionFrom,
		VersionTo:      versionTo,
		CorrectionFrom: correctionFrom,
		Name:           p.keys.Name,
		ExternalIDs:    p.keys.ExternalIDs,
		Attributes:     p.keys.Attributes,
		Payload:        p.payload,
	}
}

func latestInstant(records []Record) time.Time {
	var latest time.Time
	for _, r := range records {
		if t := r.LatestInstant(); t.After(latest) {
			latest = t
		}
	}

	return latest
}

// intersects reports whether [from, to) meets [rangeFrom, rangeTo). Zero ends are unbounded.
func intersects(from, to, rangeFrom, rangeTo time.Time) bool {
	endsAfterRangeStarts := rangeFrom.IsZero() || to.IsZero() || to.After(rangeFrom)
	startsBeforeRangeEnds := rangeTo.IsZero() || from.Before(rangeTo)

	return endsAfterRangeStarts && startsBeforeRangeEnds
}

func checkOnePerObject(records []Record, vc VersionCorrection) error {
	seen := make(map[ObjectID]UniqueID, len(records))
	for _, r := range records {
		oid := r.UniqueID.ObjectID()
		if other, dup := seen[oid]; dup {
			return fmt.Errorf("%w: %s and %s at %s", ErrAmbiguousResolution, other, r.UniqueID, vc)
		}

		seen[oid] = r.UniqueID
	}

	return nil
}
