// Package memengine keeps master records in process memory.
//
// Each object is an entry holding an immutable slice of records behind an atomic pointer.
// Writers of one object serialize on the entry's mutex and publish a new slice; readers load the
// current slice without locking and always see a committed snapshot of that object.
package memengine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// Engine implements master.DocumentStorage and master.PointStorage in memory.
type Engine struct {
	supplier master.ObjectIDSupplier
	objects  sync.Map // master.ObjectID -> *entry
	points   sync.Map // master.ObjectID -> *pointEntry
}

type entry struct {
	mu      sync.Mutex
	records atomic.Pointer[[]master.Record]
	dropped bool // guarded by mu; set once the entry has left the map
}

func (e *entry) load() []master.Record {
	if records := e.records.Load(); records != nil {
		return *records
	}

	return nil
}

type pointEntry struct {
	mu      sync.Mutex
	state   atomic.Pointer[master.PointState]
	dropped bool // guarded by mu
}

func (e *pointEntry) load() master.PointState {
	if state := e.state.Load(); state != nil {
		return *state
	}

	return master.PointState{}
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithObjectIDSupplier replaces the default per-scheme sequence starting at master.DefaultFirstObjectValue.
func WithObjectIDSupplier(supplier master.ObjectIDSupplier) Option {
	return func(e *Engine) error {
		if supplier == nil {
			return fmt.Errorf("%w: object id supplier must not be nil", master.ErrInvalidArgument)
		}

		e.supplier = supplier

		return nil
	}
}

// New creates an empty engine.
func New(options ...Option) (*Engine, error) {
	e := &Engine{supplier: master.NewSequenceSupplier(master.DefaultFirstObjectValue)}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// NewObjectID delegates to the configured supplier.
func (e *Engine) NewObjectID(ctx context.Context, scheme string) (master.ObjectID, error) {
	return e.supplier.NewObjectID(ctx, scheme)
}

// Mutate runs plan under the object's lock and publishes the resulting records.
func (e *Engine) Mutate(ctx context.Context, oid master.ObjectID, plan master.MutationPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ent := e.lockEntry(oid)
	defer e.unlockEntry(oid, ent)

	current := ent.load()

	mutation, err := plan(slices.Clone(current))
	if err != nil {
		return err
	}

	if mutation.IsEmpty() {
		return nil
	}

	next, err := apply(current, mutation)
	if err != nil {
		return err
	}

	ent.records.Store(&next)

	return nil
}

// lockEntry returns oid's entry locked, creating it when missing.
func (e *Engine) lockEntry(oid master.ObjectID) *entry {
	for {
		value, _ := e.objects.LoadOrStore(oid, &entry{})
		ent := value.(*entry)

		ent.mu.Lock()
		if !ent.dropped {
			return ent
		}

		ent.mu.Unlock()
	}
}

// unlockEntry unlocks ent and takes it out of the map when nothing was ever committed to it, so
// failed writes on unknown objects leave no trace. Writers queued on a dropped entry start over.
func (e *Engine) unlockEntry(oid master.ObjectID, ent *entry) {
	if len(ent.load()) == 0 {
		ent.dropped = true
		e.objects.CompareAndDelete(oid, ent)
	}

	ent.mu.Unlock()
}

func (e *Engine) lockPointEntry(oid master.ObjectID) *pointEntry {
	for {
		value, _ := e.points.LoadOrStore(oid, &pointEntry{})
		ent := value.(*pointEntry)

		ent.mu.Lock()
		if !ent.dropped {
			return ent
		}

		ent.mu.Unlock()
	}
}

func (e *Engine) unlockPointEntry(oid master.ObjectID, ent *pointEntry) {
	if ent.load().Version == 0 {
		ent.dropped = true
		e.points.CompareAndDelete(oid, ent)
	}

	ent.mu.Unlock()
}

func apply(current []master.Record, mutation master.Mutation) ([]master.Record, error) {
	next := make([]master.Record, len(current), len(current)+len(mutation.Insert))
	copy(next, current)

	if !mutation.Supersede.IsZero() {
		i := slices.IndexFunc(next, func(r master.Record) bool { return r.UniqueID == mutation.Supersede })
		if i < 0 || !next[i].CorrectionTo.IsZero() {
			return nil, fmt.Errorf("%w: %s is not open", master.ErrConcurrencyConflict, mutation.Supersede)
		}

		next[i].CorrectionTo = mutation.At
	}

	for _, r := range mutation.Insert {
		if slices.ContainsFunc(next, func(existing master.Record) bool { return existing.UniqueID == r.UniqueID }) {
			return nil, fmt.Errorf("%w: duplicate unique id %s", master.ErrInvariantViolation, r.UniqueID)
		}

		next = append(next, r)
	}

	return next, nil
}

// Record returns the record with exactly this UniqueID.
func (e *Engine) Record(_ context.Context, uid master.UniqueID) (master.Record, error) {
	for _, r := range e.records(uid.ObjectID()) {
		if r.UniqueID == uid {
			return r, nil
		}
	}

	return master.Record{}, fmt.Errorf("%w: %s", master.ErrRecordNotFound, uid)
}

// Records returns every record of the object in insertion order, which is version order.
func (e *Engine) Records(_ context.Context, oid master.ObjectID) ([]master.Record, error) {
	records := e.records(oid)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", master.ErrObjectNotFound, oid)
	}

	return slices.Clone(records), nil
}

func (e *Engine) records(oid master.ObjectID) []master.Record {
	value, ok := e.objects.Load(oid)
	if !ok {
		return nil
	}

	return value.(*entry).load()
}

// Candidates returns every record visible at the filter's coordinate.
func (e *Engine) Candidates(ctx context.Context, filter master.CandidateFilter) ([]master.Record, error) {
	oids := filter.ObjectIDs
	if oids == nil {
		var err error
		if oids, err = e.ObjectIDs(ctx, filter.Scheme); err != nil {
			return nil, err
		}
	}

	var visible []master.Record

	for _, oid := range oids {
		if oid.Scheme != filter.Scheme {
			continue
		}

		for _, r := range e.records(oid) {
			if r.VisibleAt(filter.VersionCorrection) {
				visible = append(visible, r)
			}
		}
	}

	return visible, nil
}

// ObjectIDs lists the objects of scheme that have records, in ObjectID order.
func (e *Engine) ObjectIDs(ctx context.Context, scheme string) ([]master.ObjectID, error) {
	var oids []master.ObjectID

	e.objects.Range(func(key, value any) bool {
		oid := key.(master.ObjectID)
		if oid.Scheme == scheme && len(value.(*entry).load()) > 0 {
			oids = append(oids, oid)
		}

		return ctx.Err() == nil
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(oids, master.ObjectID.Compare)

	return oids, nil
}

// Points returns the stored point state of oid; unknown objects have an empty state.
func (e *Engine) Points(_ context.Context, oid master.ObjectID) (master.PointState, error) {
	value, ok := e.points.Load(oid)
	if !ok {
		return master.PointState{}, nil
	}

	state := value.(*pointEntry).load()
	state.Points = slices.Clone(state.Points)

	return state, nil
}

// MutatePoints runs plan under the owning object's lock and the series' lock, in that order, and
// publishes the new state.
func (e *Engine) MutatePoints(ctx context.Context, oid master.ObjectID, plan master.PointPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	owner := e.lockEntry(oid)
	defer e.unlockEntry(oid, owner)

	ent := e.lockPointEntry(oid)
	defer e.unlockPointEntry(oid, ent)

	current := ent.load()

	state := current
	state.Points = slices.Clone(current.Points)
	state.Owner = slices.Clone(owner.load())

	change, err := plan(state)
	if err != nil {
		return err
	}

	if change.IsEmpty() {
		return nil
	}

	next, err := applyPoints(current, change)
	if err != nil {
		return err
	}

	ent.state.Store(&next)

	return nil
}

func applyPoints(current master.PointState, change master.PointChange) (master.PointState, error) {
	if change.Version != current.Version+1 {
		return master.PointState{}, fmt.Errorf("%w: points version %d does not follow %d",
			master.ErrConcurrencyConflict, change.Version, current.Version)
	}

	points := slices.Clone(current.Points)

	for _, date := range change.Remove {
		for i := range points {
			if points[i].IsLive() && points[i].Date.Equal(date) {
				points[i].RemovedVersion = change.Version
				points[i].RemovedAt = change.At
			}
		}
	}

	for _, p := range change.Add {
		points = append(points, master.StoredPoint{
			Date:         master.TruncateDate(p.Date),
			Value:        p.Value,
			AddedVersion: change.Version,
			AddedAt:      change.At,
		})
	}

	master.SortStoredPoints(points)

	return master.PointState{Points: points, Version: change.Version, LastAt: change.At}, nil
}
