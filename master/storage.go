package master

import (
	"context"
	"time"
)

// Record is one stored row of a document: the bitemporal intervals, the search keys,
// and the encoded payload. Zero VersionTo or CorrectionTo means the interval is open.
type Record struct {
	UniqueID       UniqueID
	VersionFrom    time.Time
	VersionTo      time.Time
	CorrectionFrom time.Time
	CorrectionTo   time.Time
	Name           string
	ExternalIDs    ExternalIDBundleWithDates
	Attributes     map[string]string
	Payload        []byte
}

// IsCurrent reports whether the record is the current correction of the current version.
func (r Record) IsCurrent() bool {
	return r.VersionTo.IsZero() && r.CorrectionTo.IsZero()
}

// LatestInstant is the latest instant recorded on either axis.
func (r Record) LatestInstant() time.Time {
	latest := r.VersionFrom
	for _, t := range []time.Time{r.VersionTo, r.CorrectionFrom, r.CorrectionTo} {
		if t.After(latest) {
			latest = t
		}
	}

	return latest
}

// Mutation is the atomic change a MutationPlan asks the storage to commit.
// Supersede, when set, is the record whose correction interval is closed at At;
// the storage must reject the mutation with ErrConcurrencyConflict when that record
// is not open anymore. Insert holds the new records.
type Mutation struct {
	Supersede UniqueID
	At        time.Time
	Insert    []Record
}

// IsEmpty reports whether the mutation changes nothing.
func (m Mutation) IsEmpty() bool {
	return m.Supersede.IsZero() && len(m.Insert) == 0
}

// MutationPlan computes a Mutation from the object's current records.
// Storages call it while holding the object's write serialization, possibly more than once.
// It must not have side effects beyond the returned value.
type MutationPlan func(current []Record) (Mutation, error)

// CandidateFilter narrows the records a search has to look at.
// A nil ObjectIDs slice means no restriction.
type CandidateFilter struct {
	Scheme            string
	ObjectIDs         []ObjectID
	VersionCorrection VersionCorrection
}

// DocumentStorage is the persistence contract of a DocumentMaster.
//
// Mutations of the same ObjectID must be serialized; mutations of different ObjectIDs may run
// concurrently. Mutate commits atomically or not at all. Reads observe committed state only.
type DocumentStorage interface {
	// NewObjectID allocates a fresh ObjectID in scheme.
	NewObjectID(ctx context.Context, scheme string) (ObjectID, error)

	// Mutate runs plan on the object's records and commits the result atomically.
	Mutate(ctx context.Context, oid ObjectID, plan MutationPlan) error

	// Record returns the record with exactly this UniqueID or ErrNotFound.
	Record(ctx context.Context, uid UniqueID) (Record, error)

	// Records returns every record of the object ordered by version token, or ErrNotFound.
	Records(ctx context.Context, oid ObjectID) ([]Record, error)

	// Candidates returns the records visible at the filter's coordinate.
	Candidates(ctx context.Context, filter CandidateFilter) ([]Record, error)

	// ObjectIDs lists every object of scheme.
	ObjectIDs(ctx context.Context, scheme string) ([]ObjectID, error)
}

// StoredPoint is a data point together with the mutations that added and removed it.
// A zero RemovedAt means the point is live.
type StoredPoint struct {
	Date           time.Time
	Value          float64
	AddedVersion   uint64
	AddedAt        time.Time
	RemovedVersion uint64
	RemovedAt      time.Time
}

// IsLive reports whether the point has not been removed.
func (p StoredPoint) IsLive() bool {
	return p.RemovedAt.IsZero()
}

// PointState is everything stored for one object's point series.
//
// Owner holds the records of the owning document. MutatePoints loads them under the same object
// serialization as Mutate, so a plan sees every committed document change; Points leaves it empty.
type PointState struct {
	Points  []StoredPoint
	Version uint64
	LastAt  time.Time
	Owner   []Record
}

// PointChange is the atomic change a PointPlan asks the storage to commit.
// Version must be the state's Version plus one. Remove lists the dates of live points to tombstone.
type PointChange struct {
	Version uint64
	At      time.Time
	Add     []DataPoint
	Remove  []time.Time
}

// IsEmpty reports whether the change touches nothing.
func (c PointChange) IsEmpty() bool {
	return len(c.Add) == 0 && len(c.Remove) == 0
}

// PointPlan computes a PointChange from the current state, under the object's serialization.
type PointPlan func(state PointState) (PointChange, error)

// PointStorage is the persistence contract of a PointSeriesMaster.
type PointStorage interface {
	// Points returns the stored state. Unknown objects have an empty state.
	Points(ctx context.Context, oid ObjectID) (PointState, error)

	// MutatePoints runs plan and commits its change atomically. Empty changes are not committed.
	MutatePoints(ctx context.Context, oid ObjectID, plan PointPlan) error
}
