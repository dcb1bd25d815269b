// Redis pub/sub backed backbone.

package backbone

import (
	"Shipper/pkg/log"
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// confirmTimeout bounds waiting for the reply to a subscribe issued before Listen.
const confirmTimeout = 5 * time.Second

type RemoteOptions struct {
	// PublishTimeout bounds a single PUBLISH, zero means no extra deadline.
	PublishTimeout   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// RemoteBackbone publishes on a shared client and receives on two dedicated
// subscriber connections, one for exact channels and one for patterns.
// go-redis re-dials dropped subscriber connections with capped backoff and
// re-issues every channel and pattern it holds.
type RemoteBackbone struct {
	client   *redis.Client
	channels *redis.PubSub
	patterns *redis.PubSub

	// subscribed and psubscribed mirror what go-redis holds, which includes
	// names whose subscribe failed. The value is false for those.
	mu          sync.Mutex
	subscribed  map[string]bool
	psubscribed map[string]bool
	listening   bool
	closed      bool

	opts    RemoteOptions
	breaker *breaker
	logger  log.Logger
}

func NewRemote(client *redis.Client, opts RemoteOptions, logger log.Logger) *RemoteBackbone {
	ctx := context.Background()
	return &RemoteBackbone{
		client:      client,
		channels:    client.Subscribe(ctx),
		patterns:    client.PSubscribe(ctx),
		subscribed:  make(map[string]bool),
		psubscribed: make(map[string]bool),
		opts:        opts,
		breaker:     newBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		logger:      logger,
	}
}

func (r *RemoteBackbone) Mode() Mode {
	return ModeRemote
}

// BreakerState is "closed", "open" or "half-open".
func (r *RemoteBackbone) BreakerState() string {
	return r.breaker.state(time.Now())
}

func (r *RemoteBackbone) Publish(ctx context.Context, channel string, payload []byte) error {
	if r.isClosed() {
		return ErrClosed
	}
	if !r.breaker.allow(time.Now()) {
		return ErrCircuitOpen
	}
	if r.opts.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.PublishTimeout)
		defer cancel()
	}
	if dberr := r.client.Publish(ctx, channel, payload).Err(); dberr != nil {
		if r.breaker.failure(time.Now()) {
			r.logger.Warn().Err(dberr).Dur("cooldown", r.opts.BreakerCooldown).Msg("Redis publish breaker opened")
		}
		return errors.Wrapf(dberr, "couldn't publish to %s", channel)
	}
	if r.breaker.success() {
		r.logger.Info().Msg("Redis publish breaker closed")
	}
	return nil
}

func (r *RemoteBackbone) Subscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.subscribed[channel] {
		return nil
	}
	dberr := r.channels.Subscribe(ctx, channel)
	if dberr == nil && !r.listening {
		dberr = r.confirm(ctx, r.channels, channel)
	}
	r.subscribed[channel] = dberr == nil
	if dberr != nil {
		return errors.Wrapf(dberr, "couldn't subscribe to %s", channel)
	}
	return nil
}

func (r *RemoteBackbone) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.subscribed[channel]; r.closed || !held {
		return nil
	}
	delete(r.subscribed, channel)
	if dberr := r.channels.Unsubscribe(ctx, channel); dberr != nil {
		return errors.Wrapf(dberr, "couldn't unsubscribe from %s", channel)
	}
	return nil
}

func (r *RemoteBackbone) PSubscribe(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.psubscribed[pattern] {
		return nil
	}
	dberr := r.patterns.PSubscribe(ctx, pattern)
	if dberr == nil && !r.listening {
		dberr = r.confirm(ctx, r.patterns, pattern)
	}
	r.psubscribed[pattern] = dberr == nil
	if dberr != nil {
		return errors.Wrapf(dberr, "couldn't psubscribe to %s", pattern)
	}
	return nil
}

// confirm reads replies off ps until Redis acknowledges name. Only valid
// before Listen, afterwards the receive loop owns the connection.
// caller holds mu
func (r *RemoteBackbone) confirm(ctx context.Context, ps *redis.PubSub, name string) error {
	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	for {
		reply, err := ps.ReceiveTimeout(ctx, confirmTimeout)
		if err != nil {
			return err
		}
		if sub, ok := reply.(*redis.Subscription); ok && sub.Channel == name {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Subscribed reports whether go-redis holds channel, confirmed or not.
func (r *RemoteBackbone) Subscribed(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.subscribed[channel]
	return held
}

func (r *RemoteBackbone) Listen(ctx context.Context, h Handler) {
	r.mu.Lock()
	r.listening = true
	r.mu.Unlock()
	for _, ps := range []*redis.PubSub{r.channels, r.patterns} {
		msgs := ps.Channel()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					h(msg.Channel, []byte(msg.Payload))
				}
			}
		}()
	}
}

// Close releases the subscriber connections, the publishing client is owned by the caller.
func (r *RemoteBackbone) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	cherr := r.channels.Close()
	perr := r.patterns.Close()
	if cherr != nil {
		return errors.Wrap(cherr, "couldn't close channel subscriber")
	}
	if perr != nil {
		return errors.Wrap(perr, "couldn't close pattern subscriber")
	}
	return nil
}

func (r *RemoteBackbone) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
