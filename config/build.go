package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/bitemporal-master-go/cache/rediscache"
	"github.com/AntonStoeckl/bitemporal-master-go/hts"
	"github.com/AntonStoeckl/bitemporal-master-go/master"
	"github.com/AntonStoeckl/bitemporal-master-go/master/memengine"
	"github.com/AntonStoeckl/bitemporal-master-go/master/oteladapters"
	"github.com/AntonStoeckl/bitemporal-master-go/master/promadapters"
	"github.com/AntonStoeckl/bitemporal-master-go/master/sqlengine"
	"github.com/AntonStoeckl/bitemporal-master-go/notify/kafkanotify"
	"github.com/AntonStoeckl/bitemporal-master-go/notify/natsnotify"
)

const instrumentationName = "github.com/AntonStoeckl/bitemporal-master-go"

// Runtime is a built master together with everything it holds open.
type Runtime struct {
	Master   *hts.Master
	Storage  hts.Storage
	Logger   *slog.Logger
	Registry *prometheus.Registry

	engine  *sqlengine.Engine
	closers []func(ctx context.Context) error
}

// Migrate creates the schema of SQL engines. Memory engines have nothing to migrate.
func (r *Runtime) Migrate(ctx context.Context) error {
	if r.engine == nil {
		return nil
	}

	return r.engine.Migrate(ctx)
}

// Close releases everything in reverse opening order: queued notifications are drained first,
// the database is closed last.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	for _, closer := range slices.Backward(r.closers) {
		if err := closer(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	r.closers = nil

	return errors.Join(errs...)
}

func (r *Runtime) onClose(closer func(ctx context.Context) error) {
	r.closers = append(r.closers, closer)
}

// connections are the external services dialed concurrently during Build.
type connections struct {
	redis *redis.Client
	nats  *nats.Conn
	kafka *kgo.Client
}

// Build validates cfg and wires a Runtime. Logs go to logOutput.
// On failure everything opened so far is closed again.
func Build(ctx context.Context, cfg Config, logOutput io.Writer) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.Observability.NewLogger(logOutput)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Logger: logger}

	if err := build(ctx, cfg, rt); err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	return rt, nil
}

func build(ctx context.Context, cfg Config, rt *Runtime) error {
	conns, err := connect(ctx, cfg, rt)
	if err != nil {
		return err
	}

	storage, err := openStorage(ctx, cfg, rt)
	if err != nil {
		return err
	}

	if cfg.Storage.Migrate {
		if err := rt.Migrate(ctx); err != nil {
			return err
		}
	}

	if conns.redis != nil {
		cache, err := rediscache.New(storage, conns.redis,
			rediscache.WithTTL(cfg.Cache.TTL),
			rediscache.WithKeyPrefix(cfg.Cache.KeyPrefix),
			rediscache.WithLogger(rt.Logger))
		if err != nil {
			return err
		}

		storage = cache

		if conns.nats != nil {
			if err := followChanges(ctx, cfg, rt, conns.nats, cache); err != nil {
				return err
			}
		}
	}

	rt.Storage = storage

	options, err := masterOptions(cfg, rt, conns)
	if err != nil {
		return err
	}

	rt.Master, err = hts.NewMaster(storage, nil, options...)

	return err
}

// connect dials Redis, NATS, and Kafka concurrently, whichever are configured.
func connect(ctx context.Context, cfg Config, rt *Runtime) (connections, error) {
	var conns connections

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Cache.RedisURL != "" {
		g.Go(func() error {
			opts, err := redis.ParseURL(cfg.Cache.RedisURL)
			if err != nil {
				return fmt.Errorf("%w: cache.redisUrl: %w", ErrInvalidConfig, err)
			}

			client := redis.NewClient(opts)
			if err := client.Ping(gctx).Err(); err != nil {
				_ = client.Close()
				return master.Unavailable(ErrConnectingFailed, fmt.Errorf("redis: %w", err))
			}

			conns.redis = client

			return nil
		})
	}

	if cfg.Notify.NATS.URL != "" {
		g.Go(func() error {
			conn, err := nats.Connect(cfg.Notify.NATS.URL, nats.Name("htsmaster"))
			if err != nil {
				return master.Unavailable(ErrConnectingFailed, fmt.Errorf("nats: %w", err))
			}

			conns.nats = conn

			return nil
		})
	}

	if len(cfg.Notify.Kafka.Brokers) > 0 {
		g.Go(func() error {
			client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Notify.Kafka.Brokers...))
			if err != nil {
				return fmt.Errorf("%w: notify.kafka: %w", ErrInvalidConfig, err)
			}

			if err := client.Ping(gctx); err != nil {
				client.Close()
				return master.Unavailable(ErrConnectingFailed, fmt.Errorf("kafka: %w", err))
			}

			conns.kafka = client

			return nil
		})
	}

	err := g.Wait()

	if conns.redis != nil {
		rt.onClose(func(context.Context) error { return conns.redis.Close() })
	}

	if conns.nats != nil {
		rt.onClose(func(context.Context) error { conns.nats.Close(); return nil })
	}

	if conns.kafka != nil {
		rt.onClose(func(context.Context) error { conns.kafka.Close(); return nil })
	}

	return conns, err
}

func openStorage(ctx context.Context, cfg Config, rt *Runtime) (hts.Storage, error) {
	if cfg.Storage.Engine == EngineMemory {
		var options []memengine.Option
		if cfg.Identity.Supplier == SupplierUUID {
			options = append(options, memengine.WithObjectIDSupplier(master.UUIDSupplier{}))
		}

		return memengine.New(options...)
	}

	options := []sqlengine.Option{
		sqlengine.WithTablePrefix(cfg.Storage.TablePrefix),
		sqlengine.WithLogger(rt.Logger),
	}

	if cfg.Identity.Supplier == SupplierUUID {
		options = append(options, sqlengine.WithObjectIDSupplier(master.UUIDSupplier{}))
	}

	engine, err := openSQLEngine(ctx, cfg, rt, options)
	if err != nil {
		return nil, err
	}

	rt.engine = engine
	rt.onClose(func(context.Context) error { return engine.Close() })

	return engine, nil
}

func openSQLEngine(ctx context.Context, cfg Config, rt *Runtime, options []sqlengine.Option) (*sqlengine.Engine, error) {
	pg := cfg.Storage.Postgres

	switch {
	case cfg.Storage.Engine == EngineSQLite:
		return sqlengine.OpenSQLite(ctx, cfg.Storage.SQLitePath, options...)

	case pg.Driver == DriverSQL:
		db, err := OpenSQLDB(ctx, pg.DSN, pg)
		if err != nil {
			return nil, err
		}

		rt.onClose(func(context.Context) error { return db.Close() })

		return sqlengine.NewFromSQLDB(db, options...)

	case pg.Driver == DriverSQLX:
		db, err := OpenSQLX(ctx, pg.DSN, pg)
		if err != nil {
			return nil, err
		}

		rt.onClose(func(context.Context) error { return db.Close() })

		return sqlengine.NewFromSQLX(db, options...)

	default:
		pool, err := NewPGXPool(ctx, pg.DSN, pg)
		if err != nil {
			return nil, err
		}

		rt.onClose(func(context.Context) error { pool.Close(); return nil })

		if pg.ReplicaDSN == "" {
			return sqlengine.NewFromPGXPool(pool, options...)
		}

		replica, err := NewPGXPool(ctx, pg.ReplicaDSN, pg)
		if err != nil {
			return nil, err
		}

		rt.onClose(func(context.Context) error { replica.Close(); return nil })

		return sqlengine.NewFromPGXPoolAndReplica(pool, replica, options...)
	}
}

// followChanges drops cached objects when any process publishes a change on NATS.
func followChanges(ctx context.Context, cfg Config, rt *Runtime, conn *nats.Conn, cache *rediscache.Storage) error {
	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sub, err := natsnotify.Subscribe(listenCtx, conn, cache.Invalidate, natsOptions(cfg, rt)...)
	if err != nil {
		cancel()
		return master.Unavailable(ErrConnectingFailed, fmt.Errorf("nats subscribe: %w", err))
	}

	rt.onClose(func(context.Context) error {
		cancel()
		return sub.Unsubscribe()
	})

	return nil
}

func natsOptions(cfg Config, rt *Runtime) []natsnotify.Option {
	options := []natsnotify.Option{natsnotify.WithLogger(rt.Logger)}
	if cfg.Notify.NATS.Subject != "" {
		options = append(options, natsnotify.WithSubject(cfg.Notify.NATS.Subject))
	}

	return options
}

func masterOptions(cfg Config, rt *Runtime, conns connections) ([]master.Option, error) {
	options := []master.Option{master.WithLogger(rt.Logger)}

	notifier, err := changeNotifier(cfg, rt, conns)
	if err != nil {
		return nil, err
	}

	if notifier != nil {
		options = append(options, master.WithNotifier(notifier))
	}

	switch cfg.Observability.Metrics {
	case MetricsPrometheus:
		rt.Registry = prometheus.NewRegistry()

		collector, err := promadapters.NewMetricsCollector(rt.Registry, promadapters.WithErrorHandler(func(name string, err error) {
			rt.Logger.Warn("recording metric failed", "metric", name, "error", err.Error())
		}))
		if err != nil {
			return nil, err
		}

		options = append(options, master.WithMetrics(collector))
	case MetricsOTel:
		options = append(options, master.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter(instrumentationName))))
	}

	if cfg.Observability.Tracing {
		options = append(options,
			master.WithTracing(oteladapters.NewTracingCollector(otel.Tracer(instrumentationName))),
			master.WithContextualLogger(oteladapters.NewSlogBridgeLoggerWithHandler(rt.Logger.Handler())),
		)
	}

	return options, nil
}

// changeNotifier fans out to every configured transport, behind the retrying queue when enabled.
func changeNotifier(cfg Config, rt *Runtime, conns connections) (master.ChangeNotifier, error) {
	var targets master.FanOut

	if conns.nats != nil {
		n, err := natsnotify.NewNotifier(conns.nats, natsOptions(cfg, rt)...)
		if err != nil {
			return nil, err
		}

		targets = append(targets, n)
	}

	if conns.kafka != nil {
		var options []kafkanotify.Option
		if cfg.Notify.Kafka.Topic != "" {
			options = append(options, kafkanotify.WithTopic(cfg.Notify.Kafka.Topic))
		}

		n, err := kafkanotify.NewNotifier(conns.kafka, options...)
		if err != nil {
			return nil, err
		}

		targets = append(targets, n)
	}

	if len(targets) == 0 {
		return nil, nil
	}

	if !cfg.Notify.Async.Enabled {
		return targets, nil
	}

	async, err := master.NewAsyncNotifier(targets,
		master.WithBufferSize(cfg.Notify.Async.BufferSize),
		master.WithDeliveryRetry(
			master.WithMaxAttempts(cfg.Notify.Async.MaxAttempts),
			master.WithBaseDelay(cfg.Notify.Async.BaseDelay),
		),
		master.WithDeliveryLogger(rt.Logger))
	if err != nil {
		return nil, err
	}

	rt.onClose(async.Close)

	return async, nil
}
