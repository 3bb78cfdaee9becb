package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig carries the connection parameters for the ephemeral store.
// Transcript turns and call metrics live in separate logical databases so the
// agent's pub/sub traffic never collides with telemetry keys.
type RedisConfig struct {
	Addr         string `env:"REDIS_ADDR"`
	Password     string `env:"REDIS_PASSWORD"`
	TranscriptDB int    `env:"REDIS_DB_TRANSCRIPTS"`
	MetricsDB    int    `env:"REDIS_DB_METRICS"`
	KeyPrefix    string `env:"REDIS_KEY_PREFIX"`
	PoolSize     int    `env:"REDIS_POOL_SIZE"`
	MinIdleConns int    `env:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements EphemeralStore over go-redis, routing keys to the
// metrics or transcript database by namespace.
type RedisStore struct {
	metrics     *redis.Client
	transcripts *redis.Client
	prefix      string
	opTimeout   time.Duration
}

// NewRedisStore builds the store. It does not dial; use Ping to verify the
// connection.
func NewRedisStore(cfg RedisConfig, opTimeout time.Duration) *RedisStore {
	newClient := func(db int) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           db,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}
	return &RedisStore{
		metrics:     newClient(cfg.MetricsDB),
		transcripts: newClient(cfg.TranscriptDB),
		prefix:      cfg.KeyPrefix,
		opTimeout:   opTimeout,
	}
}

// Ping checks both logical databases.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.metrics.Ping(ctx).Err(); err != nil {
		return err
	}
	return s.transcripts.Ping(ctx).Err()
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStore) clientFor(key string) *redis.Client {
	if isTranscriptKey(key) {
		return s.transcripts
	}
	return s.metrics
}

func (s *RedisStore) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *RedisStore) logicalKey(full string) string {
	if s.prefix == "" {
		return full
	}
	return full[len(s.prefix)+1:]
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.clientFor(key).Set(ctx, s.fullKey(key), value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	data, err := s.clientFor(key).Get(ctx, s.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// ListKeys scans the matching database with SCAN so writers are never blocked.
// The result is a snapshot, not a lock.
func (s *RedisStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client := s.clientFor(pattern)
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := client.Scan(ctx, cursor, s.fullKey(pattern), 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, s.logicalKey(k))
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *RedisStore) AppendToList(ctx context.Context, key string, value []byte, maxLen int64, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipe := s.clientFor(key).TxPipeline()
	full := s.fullKey(key)
	pipe.RPush(ctx, full, value)
	if maxLen > 0 {
		pipe.LTrim(ctx, full, -maxLen, -1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, full, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RangeList(ctx context.Context, key string) ([][]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values, err := s.clientFor(key).LRange(ctx, s.fullKey(key), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	if err := s.metrics.Close(); err != nil {
		return err
	}
	return s.transcripts.Close()
}
