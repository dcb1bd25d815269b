package filestream

import (
	"Shipper/internal/entity"
	"Shipper/internal/sse"
	"Shipper/pkg/log"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSideChannel(size int, ttl time.Duration) *SideChannel {
	return NewSideChannel(Options{BufferSize: size, BufferTTL: ttl}, log.Nop(), nil)
}

func encode(t *testing.T, fe entity.FileEvent) []byte {
	b, err := json.Marshal(fe)
	require.NoError(t, err)
	return b
}

func frames(c *sse.Client) []string {
	var out []string
	for {
		select {
		case f := <-c.Outbound():
			out = append(out, string(f))
		default:
			return out
		}
	}
}

func TestIngestFansOutBareDataFrames(t *testing.T) {
	s := newTestSideChannel(50, time.Minute)
	c := sse.NewClient("", 8)
	s.AddClient("p1", c)

	n := s.Ingest("file-events:p1", encode(t, fileEvent(1)))
	assert.Equal(t, 1, n)

	got := frames(c)
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], "data: {"))
	assert.NotContains(t, got[0], "event:")
	assert.Contains(t, got[0], `"path":"src/1.ts"`)

	assert.Equal(t, 0, s.Ingest("file-events:p2", encode(t, fileEvent(2))))
	assert.Empty(t, frames(c))
}

func TestLateJoinerReplaysBeforeLive(t *testing.T) {
	s := newTestSideChannel(50, time.Minute)
	for i := 0; i < 3; i++ {
		s.Ingest("file-events:p1", encode(t, fileEvent(i)))
	}

	c := sse.NewClient("", 16)
	s.AddClient("p1", c)
	s.Ingest("file-events:p1", encode(t, fileEvent(3)))

	got := frames(c)
	require.Len(t, got, 4)
	for i, f := range got {
		assert.Contains(t, f, `"path":"src/`+string(rune('0'+i))+`.ts"`)
	}
}

func TestReplayExcludesExpired(t *testing.T) {
	s := newTestSideChannel(50, time.Minute)
	start := time.Now()
	s.now = func() time.Time { return start }
	s.Ingest("file-events:p1", encode(t, fileEvent(1)))

	s.now = func() time.Time { return start.Add(2 * time.Minute) }
	c := sse.NewClient("", 8)
	s.AddClient("p1", c)
	assert.Empty(t, frames(c))

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, map[string]ProjectStats{"p1": {Clients: 1}}, s.Stats())
}

func TestSweepForgetsIdleProjects(t *testing.T) {
	s := newTestSideChannel(50, time.Minute)
	start := time.Now()
	s.now = func() time.Time { return start }
	s.Ingest("file-events:p1", encode(t, fileEvent(1)))
	assert.Len(t, s.Buffered("p1"), 1)

	s.now = func() time.Time { return start.Add(time.Minute) }
	s.Sweep()
	assert.Empty(t, s.Stats())
	assert.Nil(t, s.Buffered("p1"))
}

func TestIngestPrunesDeadClients(t *testing.T) {
	s := newTestSideChannel(50, time.Minute)
	live := sse.NewClient("", 8)
	dead := sse.NewClient("", 8)
	s.AddClient("p1", live)
	cleanup := s.AddClient("p1", dead)
	dead.Close()

	assert.Equal(t, 1, s.Ingest("file-events:p1", encode(t, fileEvent(1))))
	assert.Equal(t, 1, s.Stats()["p1"].Clients)

	cleanup()
	assert.Equal(t, 1, s.Stats()["p1"].Clients)
}

func TestIngestDropsMalformed(t *testing.T) {
	s := newTestSideChannel(50, time.Minute)
	c := sse.NewClient("", 8)
	s.AddClient("p1", c)

	assert.Equal(t, 0, s.Ingest("file-events:p1", []byte("{not json")))
	assert.Equal(t, 0, s.Ingest("file-events:p1", []byte(`{"type":"ai:chunk"}`)))
	assert.Equal(t, 0, s.Ingest("project:p1", encode(t, fileEvent(1))))
	assert.Empty(t, frames(c))
	assert.Equal(t, 0, s.Stats()["p1"].Buffered)
}

func TestCleanupRemovesEmptyProject(t *testing.T) {
	s := newTestSideChannel(50, time.Minute)
	c := sse.NewClient("", 8)
	cleanup := s.AddClient("p1", c)
	cleanup()
	cleanup()
	assert.Empty(t, s.Stats())

	s.AddClient("p2", c)
	s.CloseAll()
	assert.ErrorIs(t, c.Send(nil), sse.ErrClientClosed)
}

func TestRunSweepsOnItsOwn(t *testing.T) {
	var clock atomic.Int64
	start := time.Now()
	clock.Store(start.UnixNano())

	s := NewSideChannel(Options{BufferSize: 50, BufferTTL: time.Minute, SweepInterval: 5 * time.Millisecond}, log.Nop(), nil)
	s.now = func() time.Time { return time.Unix(0, clock.Load()) }
	for i := 0; i < 3; i++ {
		s.Ingest("file-events:p1", encode(t, fileEvent(i)))
	}
	require.Equal(t, 3, s.Stats()["p1"].Buffered)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	// within the TTL the sweeper keeps everything
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, s.Stats()["p1"].Buffered)

	clock.Store(start.Add(2 * time.Minute).UnixNano())
	assert.Eventually(t, func() bool {
		_, ok := s.Stats()["p1"]
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
