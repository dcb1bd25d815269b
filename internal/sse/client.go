// One long-lived event stream connection, the unit the registry fans frames out to.

package sse

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClientClosed is returned by Send once the connection has been closed.
	ErrClientClosed = errors.New("sse: client closed")
	// ErrClientBacklogged is returned by Send when the outbound queue is full.
	// The connection is not keeping up and is treated as dead.
	ErrClientBacklogged = errors.New("sse: client backlogged")
)

// DefaultQueueSize is the outbound queue length used when none is configured.
const DefaultQueueSize = 256

// Client is an open stream. Frames handed to Send are written by Pump in order.
type Client struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	out  chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewClient returns an open Client with a bounded outbound queue. userID may be empty.
func NewClient(userID string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now(),
		out:         make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
}

// Send queues a frame without blocking.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrClientBacklogged
	}
}

// Close terminates the stream, calling it more than once is harmless.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Outbound yields queued frames.
func (c *Client) Outbound() <-chan []byte {
	return c.out
}
