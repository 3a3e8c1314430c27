//go:build integration

package rediscache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/cache/rediscache"
	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/containers"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/mastertest"
)

func newCachedMaster(t *testing.T, r *containers.RedisContainer) (*hts.Master, *rediscache.Storage, *countingBackend) {
	t.Helper()

	backend := newCountingBackend(t)
	storage, err := rediscache.New(backend, r.Client, rediscache.WithKeyPrefix("test:"+uuid.NewString()+":"))
	require.NoError(t, err)

	m, err := hts.NewMaster(storage, nil)
	require.NoError(t, err)

	return m, storage, backend
}

func Test_Storage_Conformance_WithRedis(t *testing.T) {
	r := containers.NewRedisContainer(t)

	mastertest.Run(t, func(t *testing.T) hts.Storage {
		storage, err := rediscache.New(newCountingBackend(t), r.Client, rediscache.WithKeyPrefix("test:"+uuid.NewString()+":"))
		require.NoError(t, err)

		return storage
	})
}

func Test_Storage_ServesRepeatedReadsFromRedis(t *testing.T) {
	// setup
	ctx := context.Background()
	r := containers.NewRedisContainer(t)
	m, _, backend := newCachedMaster(t, r)

	// arrange
	doc, err := m.Documents.Add(ctx, helper.FixtureInfo("cached"))
	require.NoError(t, err)

	first, err := m.Documents.Get(ctx, doc.UniqueID)
	require.NoError(t, err)
	reads := backend.recordReads.Load()
	require.Positive(t, reads)

	// act
	second, err := m.Documents.Get(ctx, doc.UniqueID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, reads, backend.recordReads.Load())
	assert.Equal(t, first.Info, second.Info)
	assert.True(t, first.VersionFrom.Equal(second.VersionFrom))
}

func Test_Storage_DropsTheObjectAfterAMutation(t *testing.T) {
	// setup
	ctx := context.Background()
	r := containers.NewRedisContainer(t)
	m, _, _ := newCachedMaster(t, r)

	// arrange
	doc, err := m.Documents.Add(ctx, helper.FixtureInfo("before"))
	require.NoError(t, err)

	_, err = m.Documents.Get(ctx, doc.UniqueID)
	require.NoError(t, err)

	// act
	_, err = m.Documents.Update(ctx, doc.ObjectID(), helper.FixtureInfo("after"))
	require.NoError(t, err)

	// assert
	latest, err := m.Documents.GetAt(ctx, doc.ObjectID(), master.Latest)
	require.NoError(t, err)
	assert.Equal(t, "after", latest.Info.Name)

	stale, err := m.Documents.Get(ctx, doc.UniqueID)
	require.NoError(t, err)
	assert.False(t, stale.CorrectionTo.IsZero())
}

func Test_Storage_Invalidate_DropsChangesMadeElsewhere(t *testing.T) {
	// setup
	ctx := context.Background()
	r := containers.NewRedisContainer(t)
	m, storage, backend := newCachedMaster(t, r)

	// arrange
	doc, err := m.Documents.Add(ctx, helper.FixtureInfo("shared"))
	require.NoError(t, err)

	_, err = m.Points.GetTimeSeries(ctx, doc.ObjectID(), master.Latest, master.AllDates)
	require.NoError(t, err)
	reads := backend.pointReads.Load()

	// act
	err = storage.Invalidate(ctx, master.ChangeEvent{
		ObjectID: doc.ObjectID(),
		Kind:     master.ChangePointsUpdated,
		AsOf:     time.Now(),
	})
	require.NoError(t, err)

	_, err = m.Points.GetTimeSeries(ctx, doc.ObjectID(), master.Latest, master.AllDates)

	// assert
	require.NoError(t, err)
	assert.Greater(t, backend.pointReads.Load(), reads)
}
