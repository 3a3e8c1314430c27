// Package rediscache keeps the reads of a master's storage in Redis.
//
// Each object owns one Redis hash holding its cached record lookups and point state, next to a
// generation counter. Successful mutations through the cache bump the generation and drop the
// hash; mutations made by other processes reach the cache through Invalidate, wired as a change
// listener. A reader only fills the hash when the generation it saw before loading from the
// backend is still current, so a load that raced a commit is never cached. Both keys of an object
// share a hash tag and therefore a cluster slot. Cached hashes expire after a TTL regardless.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/AntonStoeckl/bitemporal-master-go/master"
)

// DefaultTTL bounds how long a cached object survives without invalidation.
const DefaultTTL = 5 * time.Minute

const (
	defaultKeyPrefix = "master:cache:"
	fieldRecords     = "records"
	fieldPoints      = "points"
	fieldRecordPre   = "record:"
	generationSuffix = ":gen"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errStaleFill aborts a fill whose load raced a mutation.
var errStaleFill = errors.New("generation changed while loading")

var (
	// ErrNilClient is returned when no Redis client is given.
	ErrNilClient = fmt.Errorf("%w: redis client must not be nil", master.ErrInvalidArgument)

	// ErrNilBackend is returned when no storage is given to cache.
	ErrNilBackend = fmt.Errorf("%w: cached storage must not be nil", master.ErrInvalidArgument)
)

// Backend is the storage whose reads are cached.
type Backend interface {
	master.DocumentStorage
	master.PointStorage
}

// Storage decorates a Backend. Record, Records and Points are served from Redis when present;
// everything else goes straight to the backend. Redis failures never fail a read, they are
// logged and the backend answers.
type Storage struct {
	backend Backend
	client  redis.UniversalClient
	ttl     time.Duration
	prefix  string
	logger  master.Logger
}

// Option configures a Storage.
type Option func(*Storage) error

// WithTTL replaces DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Storage) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: ttl must be positive", master.ErrInvalidArgument)
		}

		s.ttl = ttl

		return nil
	}
}

// WithKeyPrefix namespaces the cache keys, for several masters sharing one Redis.
func WithKeyPrefix(prefix string) Option {
	return func(s *Storage) error {
		if prefix == "" {
			return fmt.Errorf("%w: key prefix must not be empty", master.ErrInvalidArgument)
		}

		s.prefix = prefix

		return nil
	}
}

// WithLogger reports Redis failures.
func WithLogger(logger master.Logger) Option {
	return func(s *Storage) error {
		s.logger = logger
		return nil
	}
}

// New wraps backend.
func New(backend Backend, client redis.UniversalClient, options ...Option) (*Storage, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}

	if client == nil {
		return nil, ErrNilClient
	}

	s := &Storage{backend: backend, client: client, ttl: DefaultTTL, prefix: defaultKeyPrefix}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Storage) NewObjectID(ctx context.Context, scheme string) (master.ObjectID, error) {
	return s.backend.NewObjectID(ctx, scheme)
}

func (s *Storage) Mutate(ctx context.Context, oid master.ObjectID, plan master.MutationPlan) error {
	if err := s.backend.Mutate(ctx, oid, plan); err != nil {
		return err
	}

	s.drop(ctx, oid)

	return nil
}

func (s *Storage) Record(ctx context.Context, uid master.UniqueID) (master.Record, error) {
	return cached(ctx, s, uid.ObjectID(), fieldRecordPre+uid.Version, func() (master.Record, error) {
		return s.backend.Record(ctx, uid)
	})
}

func (s *Storage) Records(ctx context.Context, oid master.ObjectID) ([]master.Record, error) {
	return cached(ctx, s, oid, fieldRecords, func() ([]master.Record, error) {
		return s.backend.Records(ctx, oid)
	})
}

func (s *Storage) Candidates(ctx context.Context, filter master.CandidateFilter) ([]master.Record, error) {
	return s.backend.Candidates(ctx, filter)
}

func (s *Storage) ObjectIDs(ctx context.Context, scheme string) ([]master.ObjectID, error) {
	return s.backend.ObjectIDs(ctx, scheme)
}

func (s *Storage) Points(ctx context.Context, oid master.ObjectID) (master.PointState, error) {
	return cached(ctx, s, oid, fieldPoints, func() (master.PointState, error) {
		return s.backend.Points(ctx, oid)
	})
}

func (s *Storage) MutatePoints(ctx context.Context, oid master.ObjectID, plan master.PointPlan) error {
	if err := s.backend.MutatePoints(ctx, oid, plan); err != nil {
		return err
	}

	s.drop(ctx, oid)

	return nil
}

// Invalidate drops the cached state of the event's object. It has the shape of a
// master.ChangeListener, so it can follow changes published by other processes.
func (s *Storage) Invalidate(ctx context.Context, event master.ChangeEvent) error {
	return s.bump(ctx, event.ObjectID)
}

func (s *Storage) key(oid master.ObjectID) string {
	return s.prefix + "{" + oid.String() + "}"
}

func (s *Storage) generationKey(oid master.ObjectID) string {
	return s.key(oid) + generationSuffix
}

func (s *Storage) drop(ctx context.Context, oid master.ObjectID) {
	if err := s.bump(ctx, oid); err != nil {
		s.warn("dropping cached object failed", oid, err)
	}
}

// bump advances oid's generation and drops its hash in one transaction. The generation never
// expires, so a reader that loaded before the bump finds it changed however long the load took.
func (s *Storage) bump(ctx context.Context, oid master.ObjectID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, s.generationKey(oid))
		pipe.Del(ctx, s.key(oid))

		return nil
	})

	return err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// generation reads oid's generation; a missing counter is generation zero.
func generation(ctx context.Context, client getter, key string) (int64, error) {
	gen, err := client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	return gen, err
}

// fill stores encoded under field unless oid's generation moved away from seen. The generation key
// is watched, so a bump between the check and the write aborts the transaction.
func (s *Storage) fill(ctx context.Context, oid master.ObjectID, field string, encoded []byte, seen int64) error {
	key, generationKey := s.key(oid), s.generationKey(oid)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx, generationKey)
		if err != nil {
			return err
		}

		if current != seen {
			return errStaleFill
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, encoded)
			pipe.Expire(ctx, key, s.ttl)

			return nil
		})

		return err
	}, generationKey)

	if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}

	return err
}

func (s *Storage) warn(msg string, oid master.ObjectID, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, "object_id", oid.String(), "error", err.Error())
	}
}

// cached answers from field of oid's hash, or loads and returns the backend's answer. The answer is
// stored only when no mutation of oid was recorded since before the load. Failed loads are not cached.
func cached[V any](ctx context.Context, s *Storage, oid master.ObjectID, field string, load func() (V, error)) (V, error) {
	seen, genErr := generation(ctx, s.client, s.generationKey(oid))
	if genErr != nil {
		s.warn("reading cache failed", oid, genErr)
	}

	if genErr == nil {
		data, err := s.client.HGet(ctx, s.key(oid), field).Bytes()
		switch {
		case err == nil:
			var value V
			decodeErr := json.Unmarshal(data, &value)
			if decodeErr == nil {
				return value, nil
			}

			s.warn("decoding cached value failed", oid, decodeErr)
		case !errors.Is(err, redis.Nil):
			s.warn("reading cache failed", oid, err)
		}
	}

	value, err := load()
	if err != nil || genErr != nil {
		return value, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		s.warn("encoding cached value failed", oid, err)
		return value, nil
	}

	if err := s.fill(ctx, oid, field, encoded, seen); err != nil {
		s.warn("writing cache failed", oid, err)
	}

	return value, nil
}

var (
	_ master.DocumentStorage = (*Storage)(nil)
	_ master.PointStorage    = (*Storage)(nil)
	_ master.ChangeListener  = (*Storage)(nil).Invalidate
)
