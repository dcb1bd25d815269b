// Distributed backbone carrying serialized events between Shipper instances.

package backbone

import (
	"Shipper/internal/config"
	"Shipper/pkg/db"
	"Shipper/pkg/log"
	"context"

	"github.com/pkg/errors"
)

// Mode tells whether events cross instances or stay in process.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

var (
	// ErrClosed is returned by operations on a closed Backbone.
	ErrClosed = errors.New("backbone: closed")
	// ErrCircuitOpen is returned by Publish while the broker is considered down.
	ErrCircuitOpen = errors.New("backbone: circuit open")
)

// Handler receives every message of a subscribed channel or pattern.
// channel is always the concrete channel the message was published on.
type Handler func(channel string, payload []byte)

type Backbone interface {
	Mode() Mode
	// Publish hands payload to every instance subscribed to channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe and Unsubscribe are idempotent per channel.
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	PSubscribe(ctx context.Context, pattern string) error
	// Listen starts delivering inbound messages to h and returns immediately.
	// Delivery stops when ctx is done or the Backbone is closed.
	Listen(ctx context.Context, h Handler)
	Close() error
}

// New returns a RemoteBackbone when rdb is set and answers PING, otherwise a
// LocalBackbone. Falling back is not an error.
func New(ctx context.Context, cfg config.Config, rdb *db.RedisDB, logger log.Logger) Backbone {
	if rdb == nil {
		logger.Info().Msg("REDIS_URL not set, realtime backbone runs local-only")
		return NewLocal(logger)
	}
	if pingerr := rdb.CheckDbConnection(ctx, logger, cfg.RedisPingAttempts); pingerr != nil {
		logger.Info().Err(pingerr).Msg("Redis unreachable, realtime backbone runs local-only")
		return NewLocal(logger)
	}
	logger.Info().Msg("Realtime backbone connected to Redis")
	return NewRemote(rdb.Client(), RemoteOptions{
		PublishTimeout:   cfg.PublishTimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
	}, logger)
}
