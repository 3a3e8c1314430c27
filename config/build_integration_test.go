//go:build integration

package config_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/bitemporal-master-go/config"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/containers"
	"github.com/AntonStoeckl/bitemporal-master-go/testutil/helper"
)

func Test_Build_PostgresEngineWithEveryDriver(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	r := containers.NewRedisContainer(t)

	for _, driver := range []string{config.DriverPGX, config.DriverSQL, config.DriverSQLX} {
		t.Run(driver, func(t *testing.T) {
			// setup
			ctx := context.Background()
			cfg := config.Default()
			cfg.Storage.Engine = config.EnginePostgres
			cfg.Storage.TablePrefix = "build_" + driver
			cfg.Storage.Postgres.Driver = driver
			cfg.Storage.Postgres.DSN = pg.DSN
			cfg.Cache.RedisURL = r.Addr
			cfg.Cache.KeyPrefix = "build:" + driver + ":"

			// act
			rt, err := config.Build(ctx, cfg, io.Discard)
			require.NoError(t, err)
			defer func() { assert.NoError(t, rt.Close(ctx)) }()

			// assert
			doc, err := rt.Master.Documents.Add(ctx, helper.FixtureInfo("built on "+driver))
			require.NoError(t, err)

			got, err := rt.Master.Documents.GetAt(ctx, doc.ObjectID(), master.Latest)
			require.NoError(t, err)
			assert.Equal(t, "built on "+driver, got.Info.Name)
			assert.NoError(t, rt.Master.CheckAll(ctx))
		})
	}
}

func Test_Build_PostgresWithReplica(t *testing.T) {
	// setup
	ctx := context.Background()
	pg := containers.NewPostgresContainer(t)

	cfg := config.Default()
	cfg.Storage.Engine = config.EnginePostgres
	cfg.Storage.Postgres.DSN = pg.DSN
	cfg.Storage.Postgres.ReplicaDSN = pg.DSN

	// act
	rt, err := config.Build(ctx, cfg, io.Discard)
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close(ctx)) }()

	// assert
	_, err = rt.Master.Documents.Add(ctx, helper.FixtureInfo("replicated"))
	assert.NoError(t, err)
}
