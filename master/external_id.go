package master

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

const externalIDSeparator = "~"

// ExternalID is a scheme-qualified identifier assigned by an outside system, e.g. TICKER~AAPL.
type ExternalID struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

// NewExternalID builds an ExternalID.
func NewExternalID(scheme, value string) ExternalID {
	return ExternalID{Scheme: scheme, Value: value}
}

// ParseExternalID parses the textual form scheme~value.
func ParseExternalID(text string) (ExternalID, error) {
	scheme, value, found := strings.Cut(text, externalIDSeparator)
	if !found || scheme == "" || value == "" {
		return ExternalID{}, fmt.Errorf("%w: malformed external id %q", ErrInvalidArgument, text)
	}

	return ExternalID{Scheme: scheme, Value: value}, nil
}

func (e ExternalID) String() string {
	return e.Scheme + externalIDSeparator + e.Value
}

// Compare orders by scheme, then value.
func (e ExternalID) Compare(other ExternalID) int {
	if c := cmp.Compare(e.Scheme, other.Scheme); c != 0 {
		return c
	}

	return cmp.Compare(e.Value, other.Value)
}

// ExternalIDBundle is a sorted set of external ids without duplicates.
// Build it with NewExternalIDBundle to keep it canonical.
type ExternalIDBundle []ExternalID

// NewExternalIDBundle sorts and de-duplicates ids.
func NewExternalIDBundle(ids ...ExternalID) ExternalIDBundle {
	bundle := make(ExternalIDBundle, len(ids))
	copy(bundle, ids)
	slices.SortFunc(bundle, ExternalID.Compare)

	return slices.Compact(bundle)
}

// Contains reports whether id is a member of the bundle.
func (b ExternalIDBundle) Contains(id ExternalID) bool {
	_, found := slices.BinarySearchFunc(b, id, ExternalID.Compare)
	return found
}

// ContainsAll reports whether every id of other is in the bundle.
func (b ExternalIDBundle) ContainsAll(other ExternalIDBundle) bool {
	for _, id := range other {
		if !b.Contains(id) {
			return false
		}
	}

	return true
}

// ContainsAny reports whether at least one id of other is in the bundle.
func (b ExternalIDBundle) ContainsAny(other ExternalIDBundle) bool {
	for _, id := range other {
		if b.Contains(id) {
			return true
		}
	}

	return false
}

// Equal reports set equality.
func (b ExternalIDBundle) Equal(other ExternalIDBundle) bool {
	return slices.Equal(b, other)
}

// ExternalIDWithDates is an external id that is only valid within an inclusive date range.
// Zero dates are unbounded.
type ExternalIDWithDates struct {
	ID        ExternalID
	ValidFrom time.Time
	ValidTo   time.Time
}

// NewExternalIDWithDates builds a date-bounded external id. Zero dates are unbounded.
func NewExternalIDWithDates(id ExternalID, validFrom, validTo time.Time) (ExternalIDWithDates, error) {
	e := ExternalIDWithDates{ID: id, ValidFrom: dateOrZero(validFrom), ValidTo: dateOrZero(validTo)}

	if !e.ValidFrom.IsZero() && !e.ValidTo.IsZero() && e.ValidTo.Before(e.ValidFrom) {
		return ExternalIDWithDates{}, fmt.Errorf("%w: external id %s valid to before valid from", ErrInvalidArgument, id)
	}

	return e, nil
}

// IsValidOn reports whether the id is valid on the given date. A zero date is always valid.
func (e ExternalIDWithDates) IsValidOn(date time.Time) bool {
	if date.IsZero() {
		return true
	}

	date = TruncateDate(date)

	if !e.ValidFrom.IsZero() && date.Before(e.ValidFrom) {
		return false
	}

	if !e.ValidTo.IsZero() && date.After(e.ValidTo) {
		return false
	}

	return true
}

type externalIDWithDatesJSON struct {
	Scheme    string `json:"scheme"`
	Value     string `json:"value"`
	ValidFrom string `json:"validFrom,omitempty"`
	ValidTo   string `json:"validTo,omitempty"`
}

// MarshalJSON encodes the dates as YYYY-MM-DD and omits unbounded ends.
func (e ExternalIDWithDates) MarshalJSON() ([]byte, error) {
	return codec.Marshal(externalIDWithDatesJSON{
		Scheme:    e.ID.Scheme,
		Value:     e.ID.Value,
		ValidFrom: formatDate(e.ValidFrom),
		ValidTo:   formatDate(e.ValidTo),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (e *ExternalIDWithDates) UnmarshalJSON(data []byte) error {
	var raw externalIDWithDatesJSON
	if err := codec.Unmarshal(data, &raw); err != nil {
		return err
	}

	validFrom, err := parseOptionalDate(raw.ValidFrom)
	if err != nil {
		return err
	}

	validTo, err := parseOptionalDate(raw.ValidTo)
	if err != nil {
		return err
	}

	*e = ExternalIDWithDates{
		ID:        ExternalID{Scheme: raw.Scheme, Value: raw.Value},
		ValidFrom: validFrom,
		ValidTo:   validTo,
	}

	return nil
}

// ExternalIDBundleWithDates is the stored form of an entity's external ids.
type ExternalIDBundleWithDates []ExternalIDWithDates

// BundleWithoutDates wraps plain ids as always-valid entries.
func BundleWithoutDates(ids ...ExternalID) ExternalIDBundleWithDates {
	bundle := make(ExternalIDBundleWithDates, 0, len(ids))
	for _, id := range NewExternalIDBundle(ids...) {
		bundle = append(bundle, ExternalIDWithDates{ID: id})
	}

	return bundle
}

// ToBundle drops the validity dates.
func (b ExternalIDBundleWithDates) ToBundle() ExternalIDBundle {
	return b.ToBundleOn(time.Time{})
}

// ToBundleOn keeps only the ids valid on date. A zero date keeps everything.
func (b ExternalIDBundleWithDates) ToBundleOn(date time.Time) ExternalIDBundle {
	ids := make([]ExternalID, 0, len(b))
	for _, e := range b {
		if e.IsValidOn(date) {
			ids = append(ids, e.ID)
		}
	}

	return NewExternalIDBundle(ids...)
}

func dateOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}

	return TruncateDate(t)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Format(DateLayout)
}

func parseOptionalDate(text string) (time.Time, error) {
	if text == "" {
		return time.Time{}, nil
	}

	return ParseDate(text)
}
