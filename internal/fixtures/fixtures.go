// Package fixtures generates synthetic time series for load tests, benchmarks, and demos.
package fixtures

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

const (
	defaultConcurrency = 8
	defaultPoints      = 250
)

var (
	dataFields    = []string{"PX_LAST", "PX_OPEN", "PX_HIGH", "PX_LOW", "VOLUME"}
	dataSources   = []string{"BLOOMBERG", "REUTERS", "ICE"}
	dataProviders = []string{"CMPL", "EXCH", "BGN"}
	observations  = []string{"LONDON_CLOSE", "NEW_YORK_CLOSE", "TOKYO_CLOSE"}
)

// Plan describes what to generate.
type Plan struct {
	Series      int       // number of time series documents
	Points      int       // business-day points per series
	FirstDate   time.Time // date of the first point
	NamePrefix  string
	Seed        uint64 // same seed, same names and values
	Concurrency int
}

// Result reports what was stored.
type Result struct {
	ObjectIDs []master.ObjectID
	Points    int
}

// Info builds the deterministic document of series number i.
func Info(prefix string, i int) *hts.Info {
	name := fmt.Sprintf("%s-%06d", prefix, i)

	return &hts.Info{
		Name:            name,
		DataField:       dataFields[i%len(dataFields)],
		DataSource:      dataSources[i%len(dataSources)],
		DataProvider:    dataProviders[i%len(dataProviders)],
		ObservationTime: observations[i%len(observations)],
		ExternalIDBundle: master.BundleWithoutDates(
			master.NewExternalID("BLOOMBERG_TICKER", name+" Equity"),
			master.NewExternalID("FIXTURE_ID", fmt.Sprintf("%d", i)),
		),
	}
}

// Series builds count business-day points starting at first as a random walk around 100.
func Series(rng *rand.Rand, first time.Time, count int) (master.PointSeries, error) {
	points := make([]master.DataPoint, 0, count)
	date := master.TruncateDate(first)
	value := 100.0

	for len(points) < count {
		if wd := date.Weekday(); wd != time.Saturday && wd != time.Sunday {
			value = math.Max(0.01, value*(1+(rng.Float64()-0.5)/50))
			points = append(points, master.DataPoint{Date: date, Value: math.Round(value*100) / 100})
		}

		date = date.AddDate(0, 0, 1)
	}

	return master.NewPointSeries(points...)
}

// Generate adds plan.Series documents to m, each with plan.Points data points.
// On failure the documents stored so far stay stored.
func Generate(ctx context.Context, m *hts.Master, plan Plan) (Result, error) {
	if plan.Series < 0 || plan.Points < 0 {
		return Result{}, fmt.Errorf("%w: series and points must not be negative", master.ErrInvalidArgument)
	}

	if plan.NamePrefix == "" {
		plan.NamePrefix = "fixture"
	}

	if plan.FirstDate.IsZero() {
		plan.FirstDate = master.NewDate(2010, time.January, 4)
	}

	if plan.Concurrency <= 0 {
		plan.Concurrency = defaultConcurrency
	}

	oids := make([]master.ObjectID, plan.Series)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(plan.Concurrency)

	for i := range plan.Series {
		g.Go(func() error {
			doc, err := m.Documents.Add(gctx, Info(plan.NamePrefix, i))
			if err != nil {
				return err
			}

			oids[i] = doc.ObjectID()

			if plan.Points == 0 {
				return nil
			}

			series, err := Series(rand.New(rand.NewPCG(plan.Seed, uint64(i))), plan.FirstDate, plan.Points)
			if err != nil {
				return err
			}

			_, err = m.Points.UpdateTimeSeriesDataPoints(gctx, doc.ObjectID(), series)

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{ObjectIDs: oids, Points: plan.Series * plan.Points}, nil
}

// DefaultPlan is a plan of series time series with a year of points each.
func DefaultPlan(series int) Plan {
	return Plan{Series: series, Points: defaultPoints, Seed: 1}
}
