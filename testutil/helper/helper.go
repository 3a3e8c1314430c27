package helper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// ErrNotifierSpyFailure is returned by a failing NotifierSpy.
var ErrNotifierSpyFailure = errors.New("notifier spy failure")

// NotifierSpy records every change event it receives.
type NotifierSpy struct {
	events []master.ChangeEvent
	fail   bool
	mu     sync.Mutex
}

// NewNotifierSpy creates a NotifierSpy that accepts every event.
func NewNotifierSpy() *NotifierSpy {
	return &NotifierSpy{}
}

// NewFailingNotifierSpy creates a NotifierSpy that records every event and then fails.
func NewFailingNotifierSpy() *NotifierSpy {
	return &NotifierSpy{fail: true}
}

// Notify implements master.ChangeNotifier.
func (s *NotifierSpy) Notify(_ context.Context, event master.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	if s.fail {
		return ErrNotifierSpyFailure
	}

	return nil
}

// Events returns a copy of the received events.
func (s *NotifierSpy) Events() []master.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]master.ChangeEvent, len(s.events))
	copy(events, s.events)

	return events
}

// Kinds returns the kinds of the received events in order.
func (s *NotifierSpy) Kinds() []master.ChangeKind {
	events := s.Events()

	kinds := make([]master.ChangeKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}

	return kinds
}

// FakeClock is a master.Clock that only moves when told to.
type FakeClock struct {
	now time.Time
	mu  sync.Mutex
}

// NewFakeClock starts at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC()}
}

// Now implements master.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)

	return c.now
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t.UTC()
}

// FixtureInfo builds a valid time-series Info named name with one Bloomberg ticker.
func FixtureInfo(name string) *hts.Info {
	return &hts.Info{
		Name:            name,
		DataField:       "PX_LAST",
		DataSource:      "BLOOMBERG",
		DataProvider:    "CMPL",
		ObservationTime: "LONDON_CLOSE",
		ExternalIDBundle: master.BundleWithoutDates(
			master.ExternalID{Scheme: "BLOOMBERG_TICKER", Value: name},
		),
	}
}

// FixtureInfoWithIDs builds a valid Info carrying the given external ids.
func FixtureInfoWithIDs(name string, ids ...master.ExternalID) *hts.Info {
	info := FixtureInfo(name)
	info.ExternalIDBundle = master.BundleWithoutDates(ids...)

	return info
}

// GivenAddedDocuments adds count fixture documents named <prefix>-<i>.
func GivenAddedDocuments(t testing.TB, ctx context.Context, m *hts.Master, prefix string, count int) []master.Document[hts.Info] {
	docs := make([]master.Document[hts.Info], 0, count)

	for i := range count {
		doc, err := m.Documents.Add(ctx, FixtureInfo(fmt.Sprintf("%s-%d", prefix, i)))
		require.NoError(t, err, "error in arranging test data")

		docs = append(docs, doc)
	}

	return docs
}

// GivenPointSeries builds a series from alternating dates and values.
func GivenPointSeries(t testing.TB, points ...master.DataPoint) master.PointSeries {
	series, err := master.NewPointSeries(points...)
	require.NoError(t, err, "error in arranging test data")

	return series
}

// Point is a shorthand for a DataPoint on year-month-day.
func Point(year int, month time.Month, day int, value float64) master.DataPoint {
	return master.DataPoint{Date: master.NewDate(year, month, day), Value: value}
}
