package master

import (
	"fmt"
	"time"
)

// VisibleAt reports whether the record applies at the coordinate.
//
// On each axis a LATEST coordinate selects the open interval; an instant selects the
// interval [from, to) containing it.
func (r Record) VisibleAt(vc VersionCorrection) bool {
	return intervalContains(r.VersionFrom, r.VersionTo, vc.VersionAsOf) &&
		intervalContains(r.CorrectionFrom, r.CorrectionTo, vc.CorrectedTo)
}

// Resolve selects the single record of one object visible at vc.
// It fails with ErrNotFound when none is visible and ErrInvariantViolation when several are.
func Resolve(records []Record, vc VersionCorrection) (Record, error) {
	var (
		found Record
		count int
	)

	for _, r := range records {
		if !r.VisibleAt(vc) {
			continue
		}

		found = r
		count++
	}

	switch count {
	case 0:
		return Record{}, fmt.Errorf("%w: %s", ErrNoVisibleRecord, vc)
	case 1:
		return found, nil
	default:
		return Record{}, fmt.Errorf("%w: %d records of %s at %s", ErrAmbiguousResolution, count, found.UniqueID.ObjectID(), vc)
	}
}

// Current returns the current correction of the current version, or ErrNotFound
// when the object is unknown or removed.
func Current(records []Record) (Record, error) {
	var (
		found Record
		count int
	)

	for _, r := range records {
		if r.IsCurrent() {
			found = r
			count++
		}
	}

	switch count {
	case 0:
		return Record{}, ErrObjectNotFound
	case 1:
		return found, nil
	default:
		return Record{}, fmt.Errorf("%w: %d open records of %s", ErrInvariantViolation, count, found.UniqueID.ObjectID())
	}
}

func intervalContains(from, to, at time.Time) bool {
	if at.IsZero() {
		return to.IsZero()
	}

	return !at.Before(from) && (to.IsZero() || at.Before(to))
}
