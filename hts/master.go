package hts

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

const defaultCheckConcurrency = 8

// Storage is what a Master persists into. memengine.Engine and sqlengine.Engine implement it.
type Storage interface {
	master.DocumentStorage
	master.PointStorage
}

// Master combines the document master and the point series master of time series.
// Both draw their instants from one monotonic clock, so point changes never predate the
// document change they follow.
type Master struct {
	Documents *master.DocumentMaster[Info]
	Points    *master.PointSeriesMaster
}

// NewMaster creates both masters on storage. A nil clock means the system clock.
func NewMaster(storage Storage, clock master.Clock, options ...master.Option) (*Master, error) {
	if storage == nil {
		return nil, master.ErrNilStorage
	}

	if clock == nil {
		clock = master.SystemClock{}
	}

	options = append(slices.Clone(options), master.WithClock(master.NewMonotonicClock(clock)))

	documents, err := master.NewDocumentMaster[Info](
		storage,
		Scheme,
		master.ValidatorFunc[Info](Validate),
		master.IndexerFunc[Info](SearchKeys),
		options...,
	)
	if err != nil {
		return nil, err
	}

	points, err := master.NewPointSeriesMaster(storage, documents, options...)
	if err != nil {
		return nil, err
	}

	return &Master{Documents: documents, Points: points}, nil
}

// CheckAll verifies the stored records of every time series, a bounded number of objects at a time.
// It returns every violation found, joined.
func (m *Master) CheckAll(ctx context.Context) error {
	oids, err := m.Documents.ObjectIDs(ctx)
	if err != nil {
		return err
	}

	violations := make([]error, len(oids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultCheckConcurrency)

	for i, oid := range oids {
		g.Go(func() error {
			err := m.Documents.CheckInvariants(gctx, oid)
			if errors.Is(err, master.ErrInvariantViolation) {
				violations[i] = err
				return nil
			}

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return errors.Join(violations...)
}
