package master

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// ExternalIDSearchType is the bundle matching policy.
type ExternalIDSearchType int

const (
	// SearchAll matches when the document's bundle contains every searched id.
	SearchAll ExternalIDSearchType = iota
	// SearchAny matches when the document's bundle contains at least one searched id.
	SearchAny
	// SearchNone matches when the document's bundle contains none of the searched ids.
	// An empty search set matches every document.
	SearchNone
	// SearchExact matches when the document's bundle equals the searched ids.
	// An empty search set never matches, not even an empty bundle.
	SearchExact
)

func (t ExternalIDSearchType) String() string {
	switch t {
	case SearchAll:
		return "ALL"
	case SearchAny:
		return "ANY"
	case SearchNone:
		return "NONE"
	case SearchExact:
		return "EXACT"
	default:
		return fmt.Sprintf("ExternalIDSearchType(%d)", int(t))
	}
}

// ParseExternalIDSearchType parses ALL, ANY, NONE, or EXACT.
func ParseExternalIDSearchType(text string) (ExternalIDSearchType, error) {
	for _, t := range []ExternalIDSearchType{SearchAll, SearchAny, SearchNone, SearchExact} {
		if t.String() == text {
			return t, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownSearchType, text)
}

// ExternalIDSearch is a set of external ids plus the policy used to match bundles against it.
type ExternalIDSearch struct {
	Type ExternalIDSearchType
	IDs  ExternalIDBundle
}

// NewExternalIDSearch builds a search; ids are sorted and de-duplicated.
func NewExternalIDSearch(searchType ExternalIDSearchType, ids ...ExternalID) ExternalIDSearch {
	return ExternalIDSearch{Type: searchType, IDs: NewExternalIDBundle(ids...)}
}

// Validate rejects unknown search types.
func (s ExternalIDSearch) Validate() error {
	if s.Type < SearchAll || s.Type > SearchExact {
		return fmt.Errorf("%w: %s", ErrUnknownSearchType, s.Type)
	}

	return nil
}

// Matches applies the policy to bundle.
func (s ExternalIDSearch) Matches(bundle ExternalIDBundle) bool {
	ids := NewExternalIDBundle(s.IDs...)

	switch s.Type {
	case SearchAll:
		return bundle.ContainsAll(ids)
	case SearchAny:
		return bundle.ContainsAny(ids)
	case SearchNone:
		return !bundle.ContainsAny(ids)
	case SearchExact:
		return len(ids) > 0 && NewExternalIDBundle(bundle...).Equal(ids)
	default:
		return false
	}
}

// SortOrder selects the ordering of search results.
type SortOrder int

const (
	SortByObjectIDAsc SortOrder = iota
	SortByObjectIDDesc
	SortByNameAsc
	SortByNameDesc
)

// SearchKeys are the fields of a document that searches can match against.
type SearchKeys struct {
	Name        string
	ExternalIDs ExternalIDBundleWithDates
	Attributes  map[string]string
}

// SearchRequest selects documents of one master.
//
// ObjectIDs restricts the candidates: nil means no restriction, a non-nil empty slice
// matches nothing. Name, ExternalIDValue, and Attributes values are wildcard patterns; empty
// strings do not filter. ValidityDate, when set, ignores external ids not valid on that date.
type SearchRequest struct {
	ObjectIDs         []ObjectID
	ExternalIDSearch  *ExternalIDSearch
	ExternalIDValue   string
	Name              string
	Attributes        map[string]string
	ValidityDate      time.Time
	VersionCorrection VersionCorrection
	SortOrder         SortOrder
	Paging            PagingRequest
}

// Validate checks the request without touching storage. scheme is the master's ObjectID scheme.
func (r SearchRequest) Validate(scheme string) error {
	for _, oid := range r.ObjectIDs {
		if oid.Scheme != scheme {
			return fmt.Errorf("%w: %s", ErrObjectIDSchemeNotSupplied, oid)
		}
	}

	if r.ExternalIDSearch != nil {
		if err := r.ExternalIDSearch.Validate(); err != nil {
			return err
		}
	}

	if r.SortOrder < SortByObjectIDAsc || r.SortOrder > SortByNameDesc {
		return fmt.Errorf("%w: unknown sort order %d", ErrInvalidArgument, r.SortOrder)
	}

	return r.Paging.Validate()
}

// matcher is a SearchRequest with its wildcard patterns compiled.
type matcher struct {
	request    SearchRequest
	name       *WildcardMatcher
	value      *WildcardMatcher
	attributes map[string]WildcardMatcher
}

func newMatcher(r SearchRequest) matcher {
	m := matcher{request: r, attributes: make(map[string]WildcardMatcher, len(r.Attributes))}

	if r.Name != "" {
		name := NewWildcardMatcher(r.Name)
		m.name = &name
	}

	if r.ExternalIDValue != "" {
		value := NewWildcardMatcher(r.ExternalIDValue)
		m.value = &value
	}

	for key, pattern := range r.Attributes {
		if pattern != "" {
			m.attributes[key] = NewWildcardMatcher(pattern)
		}
	}

	return m
}

// Matches applies every predicate of the request to a record already resolved at the request's coordinate.
func (r SearchRequest) Matches(rec Record) bool {
	return newMatcher(r).matches(rec)
}

func (m matcher) matches(rec Record) bool {
	if m.request.ObjectIDs != nil && !slices.Contains(m.request.ObjectIDs, rec.UniqueID.ObjectID()) {
		return false
	}

	if m.name != nil && !m.name.Match(rec.Name) {
		return false
	}

	bundle := rec.ExternalIDs.ToBundleOn(m.request.ValidityDate)

	if m.request.ExternalIDSearch != nil && !m.request.ExternalIDSearch.Matches(bundle) {
		return false
	}

	if m.value != nil && !slices.ContainsFunc(bundle, func(id ExternalID) bool { return m.value.Match(id.Value) }) {
		return false
	}

	for key, pattern := range m.attributes {
		if !pattern.Match(rec.Attributes[key]) {
			return false
		}
	}

	return true
}

// filterAndSort keeps matching records and orders them per the request. Ties are broken by ObjectID.
func (r SearchRequest) filterAndSort(records []Record) []Record {
	m := newMatcher(r)

	matched := make([]Record, 0, len(records))
	for _, rec := range records {
		if m.matches(rec) {
			matched = append(matched, rec)
		}
	}

	byObjectID := func(a, b Record) int {
		return a.UniqueID.ObjectID().Compare(b.UniqueID.ObjectID())
	}

	slices.SortStableFunc(matched, func(a, b Record) int {
		switch r.SortOrder {
		case SortByObjectIDDesc:
			return byObjectID(b, a)
		case SortByNameAsc:
			return cmp.Or(cmp.Compare(foldCase(a.Name), foldCase(b.Name)), byObjectID(a, b))
		case SortByNameDesc:
			return cmp.Or(cmp.Compare(foldCase(b.Name), foldCase(a.Name)), byObjectID(a, b))
		default:
			return byObjectID(a, b)
		}
	})

	return matched
}
