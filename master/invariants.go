package master

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// CheckInvariants verifies the stored records of one object:
//   - version tokens are numeric and pairwise distinct
//   - every closed interval is non-empty
//   - no two records are visible at the same coordinate
//   - in the latest correction, version intervals are gapless and at most one is open
func CheckInvariants(records []Record) error {
	var problems []error

	seen := make(map[uint64]UniqueID, len(records))
	for _, r := range records {
		v, err := r.UniqueID.VersionNumber()
		if err != nil {
			problems = append(problems, err)
			continue
		}

		if other, dup := seen[v]; dup {
			problems = append(problems, fmt.Errorf("duplicate version token %s and %s", other, r.UniqueID))
		}

		seen[v] = r.UniqueID

		if !r.VersionTo.IsZero() && !r.VersionTo.After(r.VersionFrom) {
			problems = append(problems, fmt.Errorf("%s has an empty version interval", r.UniqueID))
		}

		if !r.CorrectionTo.IsZero() && !r.CorrectionTo.After(r.CorrectionFrom) {
			problems = append(problems, fmt.Errorf("%s has an empty correction interval", r.UniqueID))
		}
	}

	for i := range records {
		for j := i + 1; j < len(records); j++ {
			a, b := records[i], records[j]
			if overlaps(a.VersionFrom, a.VersionTo, b.VersionFrom, b.VersionTo) &&
				overlaps(a.CorrectionFrom, a.CorrectionTo, b.CorrectionFrom, b.CorrectionTo) {
				problems = append(problems, fmt.Errorf("%s and %s are visible at the same coordinate", a.UniqueID, b.UniqueID))
			}
		}
	}

	problems = append(problems, checkLatestCorrection(records)...)

	if len(problems) == 0 {
		return nil
	}

	return errors.Join(append([]error{ErrInvariantViolation}, problems...)...)
}

func checkLatestCorrection(records []Record) []error {
	var problems []error

	latest := make([]Record, 0, len(records))
	for _, r := range records {
		if r.CorrectionTo.IsZero() {
			latest = append(latest, r)
		}
	}

	slices.SortFunc(latest, func(a, b Record) int {
		return a.VersionFrom.Compare(b.VersionFrom)
	})

	for i := 0; i < len(latest)-1; i++ {
		if latest[i].VersionTo.IsZero() {
			problems = append(problems, fmt.Errorf("%s is open but followed by %s", latest[i].UniqueID, latest[i+1].UniqueID))
			continue
		}

		if !latest[i].VersionTo.Equal(latest[i+1].VersionFrom) {
			problems = append(problems, fmt.Errorf("gap between %s and %s", latest[i].UniqueID, latest[i+1].UniqueID))
		}
	}

	return problems
}

func overlaps(fromA, toA, fromB, toB time.Time) bool {
	aEndsAfterBStarts := toA.IsZero() || toA.After(fromB)
	bEndsAfterAStarts := toB.IsZero() || toB.After(fromA)

	return aEndsAfterBStarts && bEndsAfterAStarts
}
