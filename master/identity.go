package master

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultFirstObjectValue is the first value a SequenceSupplier hands out per scheme.
const DefaultFirstObjectValue = 1000

// ObjectIDSupplier allocates ObjectIDs that were never handed out before.
type ObjectIDSupplier interface {
	NewObjectID(ctx context.Context, scheme string) (ObjectID, error)
}

// SequenceSupplier allocates increasing decimal values, one counter per scheme.
type SequenceSupplier struct {
	first    uint64
	counters sync.Map // scheme -> *atomic.Uint64
}

// NewSequenceSupplier starts every scheme at first.
func NewSequenceSupplier(first uint64) *SequenceSupplier {
	return &SequenceSupplier{first: first}
}

// NewObjectID returns the next value of scheme's counter.
func (s *SequenceSupplier) NewObjectID(_ context.Context, scheme string) (ObjectID, error) {
	if scheme == "" {
		return ObjectID{}, ErrEmptyScheme
	}

	counter, _ := s.counters.LoadOrStore(scheme, new(atomic.Uint64))
	next := s.first + counter.(*atomic.Uint64).Add(1) - 1

	return ObjectID{Scheme: scheme, Value: strconv.FormatUint(next, 10)}, nil
}

// UUIDSupplier allocates time-ordered UUIDv7 values.
type UUIDSupplier struct{}

// NewObjectID returns a fresh UUIDv7 in scheme.
func (UUIDSupplier) NewObjectID(_ context.Context, scheme string) (ObjectID, error) {
	if scheme == "" {
		return ObjectID{}, ErrEmptyScheme
	}

	id, err := uuid.NewV7()
	if err != nil {
		return ObjectID{}, Unavailable(ErrAllocatingObjectIDFailed, err)
	}

	return ObjectID{Scheme: scheme, Value: id.String()}, nil
}
