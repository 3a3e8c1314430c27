package master

import (
	"fmt"
	"slices"
	"time"
)

// DateLayout is the textual form of a point date.
const DateLayout = "2006-01-02"

// NewDate returns midnight UTC of the given day.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDate drops the time of day, keeping the calendar date of t's location.
func TruncateDate(t time.Time) time.Time {
	return NewDate(t.Date())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(text string) (time.Time, error) {
	t, err := time.Parse(DateLayout, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed date %q", ErrInvalidArgument, text)
	}

	return t, nil
}

// DataPoint is one dated value.
type DataPoint struct {
	Date  time.Time
	Value float64
}

type dataPointJSON struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// MarshalJSON encodes the date as YYYY-MM-DD.
func (p DataPoint) MarshalJSON() ([]byte, error) {
	return codec.Marshal(dataPointJSON{Date: p.Date.Format(DateLayout), Value: p.Value})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (p *DataPoint) UnmarshalJSON(data []byte) error {
	var raw dataPointJSON
	if err := codec.Unmarshal(data, &raw); err != nil {
		return err
	}

	date, err := ParseDate(raw.Date)
	if err != nil {
		return err
	}

	*p = DataPoint{Date: date, Value: raw.Value}

	return nil
}

// PointSeries is an ordered date/value series with strictly increasing dates.
// The zero value is an empty series.
type PointSeries struct {
	points []DataPoint
}

// NewPointSeries sorts points by date. Duplicate dates fail with ErrInvalidArgument.
func NewPointSeries(points ...DataPoint) (PointSeries, error) {
	sorted := make([]DataPoint, len(points))
	for i, p := range points {
		sorted[i] = DataPoint{Date: TruncateDate(p.Date), Value: p.Value}
	}

	slices.SortFunc(sorted, func(a, b DataPoint) int {
		return a.Date.Compare(b.Date)
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Date.Equal(sorted[i-1].Date) {
			return PointSeries{}, fmt.Errorf("%w: %s", ErrDuplicatePointDate, sorted[i].Date.Format(DateLayout))
		}
	}

	return PointSeries{points: sorted}, nil
}

// Len is the number of points.
func (s PointSeries) Len() int {
	return len(s.points)
}

// IsEmpty reports whether the series has no points.
func (s PointSeries) IsEmpty() bool {
	return len(s.points) == 0
}

// Points returns a copy of the points in date order.
func (s PointSeries) Points() []DataPoint {
	return slices.Clone(s.points)
}

// Dates returns the dates in order.
func (s PointSeries) Dates() []time.Time {
	dates := make([]time.Time, len(s.points))
	for i, p := range s.points {
		dates[i] = p.Date
	}

	return dates
}

// Values returns the values in date order.
func (s PointSeries) Values() []float64 {
	values := make([]float64, len(s.points))
	for i, p := range s.points {
		values[i] = p.Value
	}

	return values
}

// FirstDate is the earliest date; zero for an empty series.
func (s PointSeries) FirstDate() time.Time {
	if s.IsEmpty() {
		return time.Time{}
	}

	return s.points[0].Date
}

// LastDate is the latest date; zero for an empty series.
func (s PointSeries) LastDate() time.Time {
	if s.IsEmpty() {
		return time.Time{}
	}

	return s.points[len(s.points)-1].Date
}

// ValueAt returns the value on date.
func (s PointSeries) ValueAt(date time.Time) (float64, bool) {
	date = TruncateDate(date)

	i, found := slices.BinarySearchFunc(s.points, date, func(p DataPoint, d time.Time) int {
		return p.Date.Compare(d)
	})
	if !found {
		return 0, false
	}

	return s.points[i].Value, true
}

// SubSeries keeps the points inside r.
func (s PointSeries) SubSeries(r DateRange) PointSeries {
	kept := make([]DataPoint, 0, len(s.points))
	for _, p := range s.points {
		if r.Contains(p.Date) {
			kept = append(kept, p)
		}
	}

	return PointSeries{points: kept}
}

// MarshalJSON encodes the series as an array of points.
func (s PointSeries) MarshalJSON() ([]byte, error) {
	if s.points == nil {
		return []byte("[]"), nil
	}

	return codec.Marshal(s.points)
}

// UnmarshalJSON decodes an array of points.
func (s *PointSeries) UnmarshalJSON(data []byte) error {
	var points []DataPoint
	if err := codec.Unmarshal(data, &points); err != nil {
		return err
	}

	series, err := NewPointSeries(points...)
	if err != nil {
		return err
	}

	*s = series

	return nil
}

// DateRange is a window of dates. Zero Start or End leaves that side unbounded;
// the Include flags decide whether a bounded end is inclusive.
type DateRange struct {
	Start        time.Time
	End          time.Time
	IncludeStart bool
	IncludeEnd   bool
}

// AllDates is the unbounded range.
var AllDates = DateRange{IncludeStart: true, IncludeEnd: true}

// Between is the range [start, end] with both ends inclusive.
func Between(start, end time.Time) DateRange {
	return DateRange{Start: dateOrZero(start), End: dateOrZero(end), IncludeStart: true, IncludeEnd: true}
}

// Contains reports whether date lies in the range.
func (r DateRange) Contains(date time.Time) bool {
	date = TruncateDate(date)

	if !r.Start.IsZero() {
		start := TruncateDate(r.Start)
		if date.Before(start) || (!r.IncludeStart && date.Equal(start)) {
			return false
		}
	}

	if !r.End.IsZero() {
		end := TruncateDate(r.End)
		if date.After(end) || (!r.IncludeEnd && date.Equal(end)) {
			return false
		}
	}

	return true
}
