package rediscache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/cache/rediscache"
	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/master/memengine"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/mastertest"
)

// countingBackend counts the reads that reach the backend.
type countingBackend struct {
	*memengine.Engine
	recordReads  atomic.Int64
	recordsReads atomic.Int64
	pointReads   atomic.Int64
}

func (b *countingBackend) Record(ctx context.Context, uid master.UniqueID) (master.Record, error) {
	b.recordReads.Add(1)
	return b.Engine.Record(ctx, uid)
}

func (b *countingBackend) Records(ctx context.Context, oid master.ObjectID) ([]master.Record, error) {
	b.recordsReads.Add(1)
	return b.Engine.Records(ctx, oid)
}

func (b *countingBackend) Points(ctx context.Context, oid master.ObjectID) (master.PointState, error) {
	b.pointReads.Add(1)
	return b.Engine.Points(ctx, oid)
}

func newCountingBackend(t *testing.T) *countingBackend {
	t.Helper()

	engine, err := memengine.New()
	require.NoError(t, err)

	return &countingBackend{Engine: engine}
}

// unreachableRedis fails every command immediately.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func Test_New_RejectsInvalidInput(t *testing.T) {
	backend := newCountingBackend(t)
	client := unreachableRedis(t)

	_, err := rediscache.New(nil, client)
	assert.ErrorIs(t, err, rediscache.ErrNilBackend)

	_, err = rediscache.New(backend, nil)
	assert.ErrorIs(t, err, rediscache.ErrNilClient)

	_, err = rediscache.New(backend, client, rediscache.WithTTL(0))
	assert.ErrorIs(t, err, master.ErrInvalidArgument)

	_, err = rediscache.New(backend, client, rediscache.WithKeyPrefix(""))
	assert.ErrorIs(t, err, master.ErrInvalidArgument)
}

func Test_Storage_Conformance_WithUnreachableRedis(t *testing.T) {
	mastertest.Run(t, func(t *testing.T) hts.Storage {
		storage, err := rediscache.New(newCountingBackend(t), unreachableRedis(t))
		require.NoError(t, err)

		return storage
	})
}

func Test_Storage_FallsBackToTheBackendWhenRedisFails(t *testing.T) {
	// setup
	ctx := context.Background()
	backend := newCountingBackend(t)
	logger, spy := helper.NewSpyLogger()

	storage, err := rediscache.New(backend, unreachableRedis(t), rediscache.WithLogger(logger))
	require.NoError(t, err)

	m, err := hts.NewMaster(storage, nil)
	require.NoError(t, err)

	// arrange
	doc, err := m.Documents.Add(ctx, helper.FixtureInfo("uncached"))
	require.NoError(t, err)

	// act
	got, err := m.Documents.Get(ctx, doc.UniqueID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "uncached", got.Info.Name)
	assert.Positive(t, backend.recordReads.Load()+backend.recordsReads.Load())
	assert.True(t, spy.HasWarnLogWithMessage("reading cache failed").
		WithAttribute("object_id", doc.ObjectID().String()).Assert())
}
