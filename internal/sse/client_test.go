package sse

import (
	"Shipper/internal/entity"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSend(t *testing.T) {
	c := NewClient("u1", 2)

	require.NoError(t, c.Send([]byte("a")))
	require.NoError(t, c.Send([]byte("b")))
	assert.ErrorIs(t, c.Send([]byte("c")), ErrClientBacklogged)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Send([]byte("d")), ErrClientClosed)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestFrames(t *testing.T) {
	ev := entity.Event{
		Type:      entity.EventSandboxStatus,
		Data:      entity.SandboxStatusPayload{Status: "ready"},
		Timestamp: 1,
	}
	frame, err := EventFrame(ev)
	require.NoError(t, err)
	assert.Equal(t, "event: sandbox:status\ndata: {\"type\":\"sandbox:status\",\"data\":{\"status\":\"ready\"},\"timestamp\":1}\n\n", string(frame))

	data, err := DataFrame(map[string]string{"id": "x"})
	require.NoError(t, err)
	assert.Equal(t, "data: {\"id\":\"x\"}\n\n", string(data))

	assert.Equal(t, ": keepalive\n\n", string(CommentFrame("keepalive")))

	hello := string(ConnectedFrame("channel", "project:42"))
	assert.True(t, strings.HasPrefix(hello, "event: connected\ndata: {\"channel\":\"project:42\",\"timestamp\":"))
	assert.True(t, strings.HasSuffix(hello, "}\n\n"))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestPumpWritesQueuedFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewClient("", 4)
	step := Pump(ctx, c, time.Hour)

	require.NoError(t, c.Send([]byte("one")))
	require.NoError(t, c.Send([]byte("two")))

	var out bytes.Buffer
	assert.True(t, step(&out))
	assert.True(t, step(&out))
	assert.Equal(t, "onetwo", out.String())

	c.Close()
	assert.False(t, step(&out))
}

func TestPumpHeartbeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewClient("", 4)
	step := Pump(ctx, c, 10*time.Millisecond)

	var out bytes.Buffer
	assert.True(t, step(&out))
	assert.Equal(t, ": keepalive\n\n", out.String())

	cancel()
	assert.False(t, step(&out))
}

func TestPumpClosesClientOnWriteFailure(t *testing.T) {
	c := NewClient("", 4)
	step := Pump(context.Background(), c, time.Hour)
	require.NoError(t, c.Send([]byte("frame")))

	assert.False(t, step(failingWriter{}))
	assert.ErrorIs(t, c.Send([]byte("again")), ErrClientClosed)
}
