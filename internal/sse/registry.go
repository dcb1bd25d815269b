// Channel registry: maps channel names to their open connections and keeps the
// upstream (backbone) subscription alive exactly while a channel has listeners.

package sse

import (
	"Shipper/internal/entity"
	"Shipper/internal/metrics"
	"Shipper/pkg/log"
	"context"
	"sync"
	"time"
)

// Upstream is told when a channel gains its first or loses its last connection.
type Upstream interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

const upstreamTimeout = 5 * time.Second

type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Client

	// upMu serializes upstream transitions. upstreamed is true for channels the
	// upstream confirmed, false for channels whose subscribe failed and which the
	// upstream may still hold.
	upMu       sync.Mutex
	upstreamed map[string]bool
	upstream   Upstream

	logger  log.Logger
	metrics *metrics.Metrics
}

// NewRegistry returns an empty Registry. upstream may be nil.
func NewRegistry(upstream Upstream, logger log.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		channels:   make(map[string]map[string]*Client),
		upstreamed: make(map[string]bool),
		upstream:   upstream,
		logger:     logger,
		metrics:    m,
	}
}

// Subscribe adds client to channel. The returned func removes it again and is
// safe to call more than once, also after the client has been pruned.
func (r *Registry) Subscribe(channel string, client *Client) func() {
	r.mu.Lock()
	subs, ok := r.channels[channel]
	if !ok {
		subs = make(map[string]*Client)
		r.channels[channel] = subs
	}
	_, dup := subs[client.ID]
	subs[client.ID] = client
	r.mu.Unlock()

	if !dup {
		r.metrics.ClientConnected(entity.ChannelKind(channel))
		r.logger.Debug().Str("channel", channel).Str("client", client.ID).Msg("Client subscribed")
		// also retries a failed upstream subscribe of a live channel
		r.syncUpstream(channel)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(channel, client) })
	}
}

// remove drops client from channel, reporting whether it was still registered.
func (r *Registry) remove(channel string, client *Client) bool {
	r.mu.Lock()
	subs := r.channels[channel]
	if _, ok := subs[client.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(subs, client.ID)
	last := len(subs) == 0
	if last {
		delete(r.channels, channel)
	}
	r.mu.Unlock()

	r.metrics.ClientDisconnected(entity.ChannelKind(channel))
	r.logger.Debug().Str("channel", channel).Str("client", client.ID).Msg("Client unsubscribed")
	if last {
		r.syncUpstream(channel)
	}
	return true
}

// syncUpstream brings the upstream subscription of channel in line with the
// current membership. Live state is read again under upMu, so a subscribe
// racing the last unsubscribe always ends with the channel subscribed.
func (r *Registry) syncUpstream(channel string) {
	if r.upstream == nil {
		return
	}
	r.upMu.Lock()
	defer r.upMu.Unlock()

	want := r.Count(channel) > 0
	confirmed, tried := r.upstreamed[channel]
	if want && confirmed || !want && !tried {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), upstreamTimeout)
	defer cancel()
	if want {
		if err := r.upstream.Subscribe(ctx, channel); err != nil {
			// Error occured while subscribing, the next subscriber retries
			r.upstreamed[channel] = false
			r.logger.Error().Err(err).Str("channel", channel).Msg("Error occured during upstream subscribe in sse.Registry")
			return
		}
		r.upstreamed[channel] = true
		return
	}
	delete(r.upstreamed, channel)
	if err := r.upstream.Unsubscribe(ctx, channel); err != nil {
		r.logger.Warn().Err(err).Str("channel", channel).Msg("Error occured during upstream unsubscribe in sse.Registry")
	}
}

// Deliver writes ev to every connection of channel except those of its
// originator and returns how many connections accepted the frame. Connections
// whose Send fails are closed and removed.
func (r *Registry) Deliver(channel string, ev entity.Event) int {
	r.mu.RLock()
	subs := r.channels[channel]
	targets := make([]*Client, 0, len(subs))
	for _, c := range subs {
		if ev.UserID != "" && c.UserID == ev.UserID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}

	frame, err := EventFrame(ev)
	if err != nil {
		r.logger.Error().Err(err).Str("channel", channel).Str("type", string(ev.Type)).Msg("Error occured while encoding event frame")
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if senderr := c.Send(frame); senderr != nil {
			c.Close()
			if r.remove(channel, c) {
				r.metrics.Pruned(entity.ChannelKind(channel))
				r.logger.Warn().Err(senderr).Str("channel", channel).Str("client", c.ID).Msg("Pruned dead client")
			}
			continue
		}
		delivered++
	}
	r.metrics.Delivered(entity.ChannelKind(channel), delivered)
	return delivered
}

// Count returns the number of open connections on channel.
func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

// Stats returns the connection count of every channel with listeners.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]int, len(r.channels))
	for ch, subs := range r.channels {
		stats[ch] = len(subs)
	}
	return stats
}

// CloseAll closes every connection, their handlers unsubscribe on the way out.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	clients := make([]*Client, 0)
	for _, subs := range r.channels {
		for _, c := range subs {
			clients = append(clients, c)
		}
	}
	r.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}
