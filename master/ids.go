package master

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

const idSeparator = ":"

// ObjectID identifies one logical entity. It stays the same across all versions and corrections.
type ObjectID struct {
	Scheme string
	Value  string
}

// NewObjectID builds an ObjectID from its parts.
func NewObjectID(scheme, value string) ObjectID {
	return ObjectID{Scheme: scheme, Value: value}
}

// ParseObjectID parses the textual form scheme:value.
func ParseObjectID(text string) (ObjectID, error) {
	scheme, value, found := strings.Cut(text, idSeparator)
	if !found || scheme == "" || value == "" {
		return ObjectID{}, fmt.Errorf("%w: malformed object id %q", ErrInvalidArgument, text)
	}

	return ObjectID{Scheme: scheme, Value: value}, nil
}

// IsZero reports whether the ObjectID is unset.
func (o ObjectID) IsZero() bool {
	return o.Scheme == "" && o.Value == ""
}

func (o ObjectID) String() string {
	return o.Scheme + idSeparator + o.Value
}

// AtVersion addresses one stored record of this object.
func (o ObjectID) AtVersion(version string) UniqueID {
	return UniqueID{Scheme: o.Scheme, Value: o.Value, Version: version}
}

// AtVersionNumber addresses one stored record of this object by its numeric version token.
func (o ObjectID) AtVersionNumber(version uint64) UniqueID {
	return o.AtVersion(strconv.FormatUint(version, 10))
}

// Compare orders ObjectIDs by scheme, then by value. Values that are both decimal numbers
// compare numerically so that "9" sorts before "10".
func (o ObjectID) Compare(other ObjectID) int {
	if c := cmp.Compare(o.Scheme, other.Scheme); c != 0 {
		return c
	}

	return compareTokens(o.Value, other.Value)
}

// MarshalText encodes the ObjectID in its textual form.
func (o ObjectID) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes the textual form scheme:value.
func (o *ObjectID) UnmarshalText(text []byte) error {
	parsed, err := ParseObjectID(string(text))
	if err != nil {
		return err
	}

	*o = parsed

	return nil
}

// UniqueID addresses exactly one stored record: an ObjectID plus a version token.
// Version tokens are decimal numbers, strictly increasing per ObjectID.
type UniqueID struct {
	Scheme  string
	Value   string
	Version string
}

// ParseUniqueID parses the textual form scheme:value:version.
func ParseUniqueID(text string) (UniqueID, error) {
	first := strings.Index(text, idSeparator)
	last := strings.LastIndex(text, idSeparator)

	if first <= 0 || last == first || last == len(text)-1 || last-first == 1 {
		return UniqueID{}, fmt.Errorf("%w: malformed unique id %q", ErrInvalidArgument, text)
	}

	return UniqueID{
		Scheme:  text[:first],
		Value:   text[first+1 : last],
		Version: text[last+1:],
	}, nil
}

// IsZero reports whether the UniqueID is unset.
func (u UniqueID) IsZero() bool {
	return u.Scheme == "" && u.Value == "" && u.Version == ""
}

// ObjectID drops the version token.
func (u UniqueID) ObjectID() ObjectID {
	return ObjectID{Scheme: u.Scheme, Value: u.Value}
}

// VersionNumber returns the numeric value of the version token.
func (u UniqueID) VersionNumber() (uint64, error) {
	n, err := strconv.ParseUint(u.Version, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: version token %q is not numeric", ErrInvalidArgument, u.Version)
	}

	return n, nil
}

func (u UniqueID) String() string {
	return u.Scheme + idSeparator + u.Value + idSeparator + u.Version
}

// MarshalText encodes the UniqueID in its textual form.
func (u UniqueID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText decodes the textual form scheme:value:version.
func (u *UniqueID) UnmarshalText(text []byte) error {
	parsed, err := ParseUniqueID(string(text))
	if err != nil {
		return err
	}

	*u = parsed

	return nil
}

// NextVersion returns a version token strictly greater than every token in records.
// The first record of an object gets version 0.
func NextVersion(records []Record) uint64 {
	var next uint64

	for _, r := range records {
		v, err := r.UniqueID.VersionNumber()
		if err != nil {
			continue
		}

		if v >= next {
			next = v + 1
		}
	}

	return next
}

func compareTokens(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)

	if errA == nil && errB == nil {
		return cmp.Compare(na, nb)
	}

	return cmp.Compare(a, b)
}
