// Bounded, time limited replay buffer of a project's file events.

package filestream

import (
	"Shipper/internal/entity"
	"time"
)

type entry struct {
	event entity.FileEvent
	frame []byte
	at    time.Time
}

// Buffer keeps the most recent file events of one project, oldest first.
// It is not safe for concurrent use, SideChannel guards it.
type Buffer struct {
	capacity int
	ttl      time.Duration
	entries  []entry
}

func NewBuffer(capacity int, ttl time.Duration) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{capacity: capacity, ttl: ttl, entries: make([]entry, 0, capacity)}
}

// Push appends an event and its encoded frame, evicting the oldest entry when full.
func (b *Buffer) Push(ev entity.FileEvent, frame []byte, now time.Time) {
	if len(b.entries) == b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, entry{event: ev, frame: frame, at: now})
}

// Snapshot returns the unexpired events, oldest first.
func (b *Buffer) Snapshot(now time.Time) []entity.FileEvent {
	out := make([]entity.FileEvent, 0, len(b.entries))
	for _, e := range b.live(now) {
		out = append(out, e.event)
	}
	return out
}

func (b *Buffer) frames(now time.Time) [][]byte {
	live := b.live(now)
	out := make([][]byte, 0, len(live))
	for _, e := range live {
		out = append(out, e.frame)
	}
	return out
}

// live skips expired entries, entries are ordered by insertion time.
func (b *Buffer) live(now time.Time) []entry {
	i := 0
	for i < len(b.entries) && b.expired(b.entries[i], now) {
		i++
	}
	return b.entries[i:]
}

func (b *Buffer) expired(e entry, now time.Time) bool {
	return b.ttl > 0 && now.Sub(e.at) >= b.ttl
}

// Sweep drops expired entries and returns how many were removed.
func (b *Buffer) Sweep(now time.Time) int {
	live := b.live(now)
	removed := len(b.entries) - len(live)
	if removed > 0 {
		b.entries = append(b.entries[:0], live...)
	}
	return removed
}

func (b *Buffer) Len() int {
	return len(b.entries)
}
