package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// Storage engines.
const (
	EngineMemory   = "memory"
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

// Postgres drivers.
const (
	DriverPGX  = "pgx"
	DriverSQL  = "sql"
	DriverSQLX = "sqlx"
)

// ObjectID suppliers.
const (
	SupplierSequence = "sequence"
	SupplierUUID     = "uuid"
)

// Metrics backends.
const (
	MetricsNone       = "none"
	MetricsPrometheus = "prometheus"
	MetricsOTel       = "otel"
)

// ErrInvalidConfig is wrapped by every validation and parsing failure.
var ErrInvalidConfig = fmt.Errorf("%w: invalid configuration", master.ErrInvalidArgument)

// Config is the complete process configuration.
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Identity      IdentityConfig      `yaml:"identity"`
	Notify        NotifyConfig        `yaml:"notify"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig selects and parameterizes the storage engine.
type StorageConfig struct {
	Engine      string         `yaml:"engine"`
	TablePrefix string         `yaml:"tablePrefix"`
	Migrate     bool           `yaml:"migrate"`
	SQLitePath  string         `yaml:"sqlitePath"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds the connection and pool settings of the postgres engine.
type PostgresConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	ReplicaDSN      string        `yaml:"replicaDsn"`
	MaxConns        int32         `yaml:"maxConns"`
	MinConns        int32         `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
}

// IdentityConfig selects how new ObjectIDs are drawn.
type IdentityConfig struct {
	Supplier string `yaml:"supplier"`
}

// NotifyConfig configures where change events go.
type NotifyConfig struct {
	Async AsyncConfig `yaml:"async"`
	NATS  NATSConfig  `yaml:"nats"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// AsyncConfig configures the retrying delivery queue in front of the transports.
type AsyncConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BufferSize  int           `yaml:"bufferSize"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
}

// NATSConfig enables NATS publishing when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// KafkaConfig enables Kafka producing when Brokers is not empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// CacheConfig enables the Redis read cache when RedisURL is set.
type CacheConfig struct {
	RedisURL  string        `yaml:"redisUrl"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"keyPrefix"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	Metrics   string `yaml:"metrics"`
	Tracing   bool   `yaml:"tracing"`
}

// Default returns the configuration of an in-memory master without external services.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Engine:      EngineMemory,
			TablePrefix: "master",
			Migrate:     true,
			SQLitePath:  "htsmaster.db",
			Postgres: PostgresConfig{
				Driver:          DriverPGX,
				MaxConns:        8,
				MinConns:        2,
				MaxConnLifetime: time.Hour,
				MaxConnIdleTime: 5 * time.Minute,
				ConnectTimeout:  5 * time.Second,
			},
		},
		Identity: IdentityConfig{Supplier: SupplierSequence},
		Notify: NotifyConfig{
			Async: AsyncConfig{BufferSize: 1024, MaxAttempts: 5, BaseDelay: 50 * time.Millisecond},
		},
		Cache: CacheConfig{TTL: 5 * time.Minute, KeyPrefix: "htsmaster:"},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Metrics:   MetricsNone,
		},
	}
}

// Load reads path on top of Default, applies the environment, and validates the result.
// An empty path skips the file.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with a custom environment lookup.
func LoadWithEnv(path string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result. The environment is not consulted.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	if err := decode(data, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidConfig, err)
	}

	return nil
}

// envOverrides maps each supported environment variable onto the field it sets.
var envOverrides = map[string]func(cfg *Config, value string) error{
	"HTSMASTER_STORAGE_ENGINE":       func(cfg *Config, v string) error { cfg.Storage.Engine = v; return nil },
	"HTSMASTER_TABLE_PREFIX":         func(cfg *Config, v string) error { cfg.Storage.TablePrefix = v; return nil },
	"HTSMASTER_MIGRATE":              func(cfg *Config, v string) error { return parseBool(v, &cfg.Storage.Migrate) },
	"HTSMASTER_SQLITE_PATH":          func(cfg *Config, v string) error { cfg.Storage.SQLitePath = v; return nil },
	"HTSMASTER_POSTGRES_DRIVER":      func(cfg *Config, v string) error { cfg.Storage.Postgres.Driver = v; return nil },
	"HTSMASTER_POSTGRES_DSN":         func(cfg *Config, v string) error { cfg.Storage.Postgres.DSN = v; return nil },
	"HTSMASTER_POSTGRES_REPLICA_DSN": func(cfg *Config, v string) error { cfg.Storage.Postgres.ReplicaDSN = v; return nil },
	"HTSMASTER_ID_SUPPLIER":          func(cfg *Config, v string) error { cfg.Identity.Supplier = v; return nil },
	"HTSMASTER_NOTIFY_ASYNC":         func(cfg *Config, v string) error { return parseBool(v, &cfg.Notify.Async.Enabled) },
	"HTSMASTER_NATS_URL":             func(cfg *Config, v string) error { cfg.Notify.NATS.URL = v; return nil },
	"HTSMASTER_NATS_SUBJECT":         func(cfg *Config, v string) error { cfg.Notify.NATS.Subject = v; return nil },
	"HTSMASTER_KAFKA_BROKERS":        func(cfg *Config, v string) error { cfg.Notify.Kafka.Brokers = splitList(v); return nil },
	"HTSMASTER_KAFKA_TOPIC":          func(cfg *Config, v string) error { cfg.Notify.Kafka.Topic = v; return nil },
	"HTSMASTER_REDIS_URL":            func(cfg *Config, v string) error { cfg.Cache.RedisURL = v; return nil },
	"HTSMASTER_LOG_LEVEL":            func(cfg *Config, v string) error { cfg.Observability.LogLevel = v; return nil },
	"HTSMASTER_LOG_FORMAT":           func(cfg *Config, v string) error { cfg.Observability.LogFormat = v; return nil },
	"HTSMASTER_METRICS":              func(cfg *Config, v string) error { cfg.Observability.Metrics = v; return nil },
	"HTSMASTER_TRACING":              func(cfg *Config, v string) error { return parseBool(v, &cfg.Observability.Tracing) },
}

// EnvVars lists the supported environment variables, sorted.
func EnvVars() []string {
	names := make([]string, 0, len(envOverrides))
	for name := range envOverrides {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

func applyEnv(cfg *Config, lookupEnv func(string) (string, bool)) error {
	for _, name := range EnvVars() {
		value, ok := lookupEnv(name)
		if !ok {
			continue
		}

		if err := envOverrides[name](cfg, value); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
		}
	}

	return nil
}

func parseBool(value string, target *bool) error {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}

	*target = parsed

	return nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return items
}

// Validate reports every problem of the configuration at once.
func (c Config) Validate() error {
	var problems []error

	problem := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Storage.Engine {
	case EngineMemory:
	case EngineSQLite:
		if c.Storage.SQLitePath == "" {
			problem("storage.sqlitePath is required for the sqlite engine")
		}
	case EnginePostgres:
		if c.Storage.Postgres.DSN == "" {
			problem("storage.postgres.dsn is required for the postgres engine")
		}

		if !slices.Contains([]string{DriverPGX, DriverSQL, DriverSQLX}, c.Storage.Postgres.Driver) {
			problem("storage.postgres.driver %q is not one of pgx, sql, sqlx", c.Storage.Postgres.Driver)
		}

		if c.Storage.Postgres.ReplicaDSN != "" && c.Storage.Postgres.Driver != DriverPGX {
			problem("storage.postgres.replicaDsn needs the pgx driver")
		}

		if c.Storage.Postgres.MaxConns <= 0 || c.Storage.Postgres.MinConns < 0 || c.Storage.Postgres.MinConns > c.Storage.Postgres.MaxConns {
			problem("storage.postgres needs 0 <= minConns <= maxConns and maxConns > 0")
		}
	default:
		problem("storage.engine %q is not one of memory, sqlite, postgres", c.Storage.Engine)
	}

	if c.Storage.Engine != EngineMemory && c.Storage.TablePrefix == "" {
		problem("storage.tablePrefix must not be empty")
	}

	if c.Identity.Supplier != SupplierSequence && c.Identity.Supplier != SupplierUUID {
		problem("identity.supplier %q is not one of sequence, uuid", c.Identity.Supplier)
	}

	if c.Notify.Async.Enabled && (c.Notify.Async.BufferSize <= 0 || c.Notify.Async.MaxAttempts <= 0 || c.Notify.Async.BaseDelay <= 0) {
		problem("notify.async needs a positive bufferSize, maxAttempts, and baseDelay")
	}

	if c.Cache.RedisURL != "" && c.Cache.TTL <= 0 {
		problem("cache.ttl must be positive")
	}

	if _, err := c.Observability.Level(); err != nil {
		problem("observability.logLevel: %v", err)
	}

	if c.Observability.LogFormat != "json" && c.Observability.LogFormat != "text" {
		problem("observability.logFormat %q is not one of json, text", c.Observability.LogFormat)
	}

	if !slices.Contains([]string{MetricsNone, MetricsPrometheus, MetricsOTel}, c.Observability.Metrics) {
		problem("observability.metrics %q is not one of none, prometheus, otel", c.Observability.Metrics)
	}

	return errors.Join(problems...)
}
