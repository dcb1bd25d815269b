// In-process backbone used when no broker is configured or reachable.

package backbone

import (
	"Shipper/pkg/log"
	"context"
	"sync"
)

// LocalBackbone calls the handler synchronously from Publish.
type LocalBackbone struct {
	mu       sync.RWMutex
	handler  Handler
	channels map[string]bool
	patterns map[string]bool
	closed   bool
	logger   log.Logger
}

func NewLocal(logger log.Logger) *LocalBackbone {
	return &LocalBackbone{
		channels: make(map[string]bool),
		patterns: make(map[string]bool),
		logger:   logger,
	}
}

func (l *LocalBackbone) Mode() Mode {
	return ModeLocal
}

// Publish routes payload to the handler, channels without listeners are
// dropped further down by the registry.
func (l *LocalBackbone) Publish(_ context.Context, channel string, payload []byte) error {
	l.mu.RLock()
	h, closed := l.handler, l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if h != nil {
		h(channel, payload)
	}
	return nil
}

func (l *LocalBackbone) Subscribe(_ context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels[channel] = true
	return nil
}

func (l *LocalBackbone) Unsubscribe(_ context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.channels, channel)
	return nil
}

func (l *LocalBackbone) PSubscribe(_ context.Context, pattern string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patterns[pattern] = true
	return nil
}

// Subscribed reports whether channel is currently subscribed.
func (l *LocalBackbone) Subscribed(channel string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.channels[channel]
}

func (l *LocalBackbone) Listen(ctx context.Context, h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
	context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.handler = nil
		l.mu.Unlock()
	})
}

func (l *LocalBackbone) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handler = nil
	return nil
}
