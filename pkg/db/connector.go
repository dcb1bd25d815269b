// Initialization of the Redis client used as the realtime backbone and presence store in Shipper.

package db

import (
	"Shipper/pkg/log"
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisDB represents a redis client connection to be used internally in Shipper.
type RedisDB struct {
	client       *redis.Client
	txMaxRetries int
}

// Options for NewDbConnection.
type Options struct {
	// URL is a redis:// or rediss:// connection string.
	URL string
	// TxMaxRetries bounds optimistic (WATCH) transaction retries.
	TxMaxRetries int
	// MinRetryBackoff and MaxRetryBackoff cap the exponential backoff used by go-redis when reconnecting.
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// Client returns the redis client wrapped by RedisDB.
func (db *RedisDB) Client() *redis.Client {
	return db.client
}

// GetMaxRetries returns the number of allowed retries in a watched redis transaction
func (db *RedisDB) GetMaxRetries() int {
	return db.txMaxRetries
}

// Returns a new Redis DB connection wrapped up by RedisDB struct.
// The connection is lazy, use CheckDbConnection to find out whether the server is reachable.
func NewDbConnection(opts Options) (*RedisDB, error) {
	if opts.URL == "" {
		return nil, errors.New("redis url is empty")
	}
	redisOpts, prserr := redis.ParseURL(opts.URL)
	if prserr != nil {
		return nil, errors.Wrap(prserr, "couldn't parse redis url")
	}
	if opts.MinRetryBackoff > 0 {
		redisOpts.MinRetryBackoff = opts.MinRetryBackoff
	}
	if opts.MaxRetryBackoff > 0 {
		redisOpts.MaxRetryBackoff = opts.MaxRetryBackoff
	}
	if opts.TxMaxRetries <= 0 {
		opts.TxMaxRetries = 5
	}
	return &RedisDB{client: redis.NewClient(redisOpts), txMaxRetries: opts.TxMaxRetries}, nil
}

// Wraps an existing client, mostly useful in tests.
func NewFromClient(client *redis.Client, txMaxRetries int) *RedisDB {
	return &RedisDB{client: client, txMaxRetries: txMaxRetries}
}

// Helper to check connection status of redis client to redis-server.
// Equivalent to a PING request on redis-server, retried with capped exponential backoff.
func (db *RedisDB) CheckDbConnection(ctx context.Context, logger log.Logger, attempts uint) error {
	logger.WithCtx(ctx).Info().Msg("Checking DB Connection . . .")
	if attempts == 0 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	_, cnterr := backoff.Retry(ctx, func() (string, error) {
		return db.Client().Ping(ctx).Result()
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WithCtx(ctx).Warn().Err(err).Dur("retry_in", next).Msg("Redis client couldn't PING the redis-server.")
		}),
	)
	if cnterr != nil {
		// Most likely, DB connection failure
		return errors.Wrap(cnterr, "redis ping failed")
	}
	// Connection successful
	logger.WithCtx(ctx).Info().Msg("Connection to DB Successful")
	return nil
}

// Helper to close the RedisDB client, should be called before closing the server.
func (db *RedisDB) CloseDbConnection(ctx context.Context) error {
	return db.Client().Close()
}
