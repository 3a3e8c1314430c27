package rediscache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/cache/rediscache"
	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
)

// pausingBackend holds the next Records call after it loaded, until resume is closed.
type pausingBackend struct {
	*countingBackend
	pause  atomic.Bool
	loaded chan struct{}
	resume chan struct{}
}

func newPausingBackend(t *testing.T) *pausingBackend {
	t.Helper()

	return &pausingBackend{
		countingBackend: newCountingBackend(t),
		loaded:          make(chan struct{}),
		resume:          make(chan struct{}),
	}
}

func (b *pausingBackend) Records(ctx context.Context, oid master.ObjectID) ([]master.Record, error) {
	records, err := b.countingBackend.Records(ctx, oid)

	if b.pause.CompareAndSwap(true, false) {
		close(b.loaded)
		<-b.resume
	}

	return records, err
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()

	server := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func Test_Storage_DoesNotCacheALoadThatRacedACommit(t *testing.T) {
	// setup
	ctx := context.Background()
	backend := newPausingBackend(t)

	storage, err := rediscache.New(backend, newMiniRedis(t))
	require.NoError(t, err)

	m, err := hts.NewMaster(storage, nil)
	require.NoError(t, err)

	// arrange
	doc, err := m.Documents.Add(ctx, helper.FixtureInfo("before"))
	require.NoError(t, err)

	backend.pause.Store(true)

	type result struct {
		name string
		err  error
	}

	slowRead := make(chan result, 1)

	go func() {
		got, err := m.Documents.GetAt(ctx, doc.ObjectID(), master.Latest)
		slowRead <- result{name: got.Info.Name, err: err}
	}()

	select {
	case <-backend.loaded:
	case <-time.After(5 * time.Second):
		t.Fatal("slow reader never reached the backend")
	}

	// act
	_, err = m.Documents.Update(ctx, doc.ObjectID(), helper.FixtureInfo("after"))
	require.NoError(t, err)

	close(backend.resume)

	stale := <-slowRead
	require.NoError(t, stale.err)
	assert.Equal(t, "before", stale.name)

	// assert
	latest, err := m.Documents.GetAt(ctx, doc.ObjectID(), master.Latest)
	require.NoError(t, err)
	assert.Equal(t, "after", latest.Info.Name)

	again, err := m.Documents.GetAt(ctx, doc.ObjectID(), master.Latest)
	require.NoError(t, err)
	assert.Equal(t, latest.UniqueID, again.UniqueID)
}

func Test_Storage_FillsAndServesFromRedis(t *testing.T) {
	// setup
	ctx := context.Background()
	backend := newCountingBackend(t)

	storage, err := rediscache.New(backend, newMiniRedis(t))
	require.NoError(t, err)

	m, err := hts.NewMaster(storage, nil)
	require.NoError(t, err)

	// arrange
	doc, err := m.Documents.Add(ctx, helper.FixtureInfo("cached"))
	require.NoError(t, err)

	_, err = m.Documents.GetAt(ctx, doc.ObjectID(), master.Latest)
	require.NoError(t, err)
	reads := backend.recordsReads.Load()

	// act
	got, err := m.Documents.GetAt(ctx, doc.ObjectID(), master.Latest)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "cached", got.Info.Name)
	assert.Equal(t, reads, backend.recordsReads.Load())
}

func Test_Storage_Invalidate_ForcesTheNextReadToTheBackend(t *testing.T) {
	// setup
	ctx := context.Background()
	backend := newCountingBackend(t)

	storage, err := rediscache.New(backend, newMiniRedis(t))
	require.NoError(t, err)

	m, err := hts.NewMaster(storage, nil)
	require.NoError(t, err)

	// arrange
	doc, err := m.Documents.Add(ctx, helper.FixtureInfo("shared"))
	require.NoError(t, err)

	_, err = m.Documents.GetAt(ctx, doc.ObjectID(), master.Latest)
	require.NoError(t, err)
	reads := backend.recordsReads.Load()

	// act
	require.NoError(t, storage.Invalidate(ctx, master.ChangeEvent{
		ObjectID: doc.ObjectID(),
		Kind:     master.ChangeUpdated,
		AsOf:     time.Now(),
	}))

	_, err = m.Documents.GetAt(ctx, doc.ObjectID(), master.Latest)

	// assert
	require.NoError(t, err)
	assert.Equal(t, reads+1, backend.recordsReads.Load())
}
