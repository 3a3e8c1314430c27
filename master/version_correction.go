package master

import (
	"fmt"
	"strings"
	"time"
)

const (
	latestToken     = "LATEST"
	vcVersionPrefix = "V"
	vcCorrectionSep = ".C"
)

// VersionCorrection is the bitemporal query coordinate. A zero instant means LATEST on that axis.
type VersionCorrection struct {
	VersionAsOf time.Time
	CorrectedTo time.Time
}

// Latest resolves to the current version's current correction.
var Latest = VersionCorrection{}

// VersionAsOf builds a coordinate with a fixed version instant and the latest correction.
func VersionAsOf(instant time.Time) VersionCorrection {
	return VersionCorrection{VersionAsOf: instant.UTC()}
}

// CorrectedTo builds a coordinate with the latest version and a fixed correction instant.
func CorrectedTo(instant time.Time) VersionCorrection {
	return VersionCorrection{CorrectedTo: instant.UTC()}
}

// NewVersionCorrection builds a coordinate from both instants. Zero instants mean LATEST.
func NewVersionCorrection(versionAsOf, correctedTo time.Time) VersionCorrection {
	return VersionCorrection{VersionAsOf: utcOrZero(versionAsOf), CorrectedTo: utcOrZero(correctedTo)}
}

// ParseVersionCorrection parses the textual form V{instant|LATEST}.C{instant|LATEST}.
// Instants use RFC 3339 with optional fractional seconds.
func ParseVersionCorrection(text string) (VersionCorrection, error) {
	malformed := fmt.Errorf("%w: malformed version-correction %q", ErrInvalidArgument, text)

	if !strings.HasPrefix(text, vcVersionPrefix) {
		return VersionCorrection{}, malformed
	}

	versionPart, correctionPart, found := strings.Cut(text[len(vcVersionPrefix):], vcCorrectionSep)
	if !found {
		return VersionCorrection{}, malformed
	}

	versionAsOf, err := parseInstant(versionPart)
	if err != nil {
		return VersionCorrection{}, malformed
	}

	correctedTo, err := parseInstant(correctionPart)
	if err != nil {
		return VersionCorrection{}, malformed
	}

	return VersionCorrection{VersionAsOf: versionAsOf, CorrectedTo: correctedTo}, nil
}

// IsVersionLatest reports whether the version axis is LATEST.
func (vc VersionCorrection) IsVersionLatest() bool {
	return vc.VersionAsOf.IsZero()
}

// IsCorrectionLatest reports whether the correction axis is LATEST.
func (vc VersionCorrection) IsCorrectionLatest() bool {
	return vc.CorrectedTo.IsZero()
}

func (vc VersionCorrection) String() string {
	return vcVersionPrefix + formatInstant(vc.VersionAsOf) + vcCorrectionSep + formatInstant(vc.CorrectedTo)
}

// MarshalText encodes the coordinate in its textual form.
func (vc VersionCorrection) MarshalText() ([]byte, error) {
	return []byte(vc.String()), nil
}

// UnmarshalText decodes the textual form.
func (vc *VersionCorrection) UnmarshalText(text []byte) error {
	parsed, err := ParseVersionCorrection(string(text))
	if err != nil {
		return err
	}

	*vc = parsed

	return nil
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return latestToken
	}

	return t.UTC().Format(time.RFC3339Nano)
}

func parseInstant(text string) (time.Time, error) {
	if text == latestToken {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, err
	}

	return t.UTC(), nil
}

func utcOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}

	return t.UTC()
}
