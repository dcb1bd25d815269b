package filestream

import (
	"Shipper/internal/entity"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileEvent(i int) entity.FileEvent {
	return entity.FileEvent{ID: fmt.Sprint(i), Type: entity.EventFileUpdated, ProjectID: "p1", Path: fmt.Sprintf("src/%d.ts", i)}
}

func TestBufferKeepsMostRecent(t *testing.T) {
	now := time.Now()
	b := NewBuffer(50, time.Minute)
	for i := 0; i < 60; i++ {
		b.Push(fileEvent(i), nil, now)
	}

	snap := b.Snapshot(now)
	require.Len(t, snap, 50)
	assert.Equal(t, "10", snap[0].ID)
	assert.Equal(t, "59", snap[49].ID)
}

func TestBufferTTL(t *testing.T) {
	start := time.Now()
	b := NewBuffer(10, time.Minute)
	b.Push(fileEvent(1), nil, start)
	b.Push(fileEvent(2), nil, start.Add(40*time.Second))

	snap := b.Snapshot(start.Add(61 * time.Second))
	require.Len(t, snap, 1)
	assert.Equal(t, "2", snap[0].ID)

	// Snapshot leaves expired entries to Sweep
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 1, b.Sweep(start.Add(61*time.Second)))
	assert.Equal(t, 1, b.Len())

	assert.Empty(t, b.Snapshot(start.Add(2*time.Minute)))
	assert.Equal(t, 1, b.Sweep(start.Add(2*time.Minute)))
	assert.Equal(t, 0, b.Len())
}
