// Chunk batcher: coalesces streamed text fragments into one event per interval.

package batcher

import (
	"Shipper/internal/metrics"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the flush interval used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// Key identifies one stream of fragments. Thinking and answer text of the
// same message are batched separately.
type Key struct {
	Scope     string
	MessageID string
	Thinking  bool
}

// EmitFunc publishes a coalesced batch. It is never called with the batcher lock held.
type EmitFunc func(key Key, text string, userID string)

type batch struct {
	text      strings.Builder
	fragments int
	userID    string
	timer     *time.Timer
}

// Batcher holds at most one pending batch per Key. A batch is emitted by
// exactly one of its timer, FlushNow, FlushAll or Stop. Emits of one Key are
// ordered: a flush returns only after every earlier batch of its Key went out.
type Batcher struct {
	mu       sync.Mutex
	batches  map[Key]*batch
	inflight map[Key]chan struct{}
	stopped  bool
	interval time.Duration
	emit     EmitFunc
	metrics  *metrics.Metrics
}

func New(interval time.Duration, emit EmitFunc, m *metrics.Metrics) *Batcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Batcher{
		batches:  make(map[Key]*batch),
		inflight: make(map[Key]chan struct{}),
		interval: interval,
		emit:     emit,
		metrics:  m,
	}
}

// Append adds fragment to the pending batch of key, starting one if needed.
// After Stop fragments are emitted right away.
func (b *Batcher) Append(key Key, fragment, userID string) {
	if fragment == "" {
		return
	}
	b.mu.Lock()
	if b.stopped {
		prev, done := b.claim(key)
		b.mu.Unlock()
		b.emitAfter(key, prev, done, fragment, 1, userID)
		return
	}
	cur, ok := b.batches[key]
	if !ok {
		cur = &batch{userID: userID}
		b.batches[key] = cur
		cur.timer = time.AfterFunc(b.interval, func() { b.fire(key, cur) })
	}
	if cur.userID == "" {
		cur.userID = userID
	}
	cur.text.WriteString(fragment)
	cur.fragments++
	b.mu.Unlock()
}

// fire runs on the timer goroutine, it only emits if pending is still the live batch.
func (b *Batcher) fire(key Key, pending *batch) {
	b.mu.Lock()
	if b.batches[key] != pending {
		// already flushed
		b.mu.Unlock()
		return
	}
	delete(b.batches, key)
	prev, done := b.claim(key)
	b.mu.Unlock()
	b.emitAfter(key, prev, done, pending.text.String(), pending.fragments, pending.userID)
}

// FlushNow emits the pending batch of key, if any, without waiting for its timer.
// A batch of key already being emitted by its timer is waited for.
func (b *Batcher) FlushNow(key Key) {
	b.mu.Lock()
	cur, ok := b.batches[key]
	if !ok {
		prev := b.inflight[key]
		b.mu.Unlock()
		if prev != nil {
			<-prev
		}
		return
	}
	delete(b.batches, key)
	cur.timer.Stop()
	prev, done := b.claim(key)
	b.mu.Unlock()
	b.emitAfter(key, prev, done, cur.text.String(), cur.fragments, cur.userID)
}

// claim makes the caller the latest emitter of key. It returns the channel of
// the previous emitter, nil if none, and the channel to close once done.
// caller holds mu
func (b *Batcher) claim(key Key) (prev <-chan struct{}, done chan struct{}) {
	prev = b.inflight[key]
	done = make(chan struct{})
	b.inflight[key] = done
	return prev, done
}

func (b *Batcher) emitAfter(key Key, prev <-chan struct{}, done chan struct{}, text string, fragments int, userID string) {
	if prev != nil {
		<-prev
	}
	b.flush(key, text, fragments, userID)
	b.mu.Lock()
	if b.inflight[key] == done {
		delete(b.inflight, key)
	}
	b.mu.Unlock()
	close(done)
}

// FlushMessage emits both the answer and the thinking batch of a message.
func (b *Batcher) FlushMessage(scope, messageID string) {
	b.FlushNow(Key{Scope: scope, MessageID: messageID, Thinking: true})
	b.FlushNow(Key{Scope: scope, MessageID: messageID})
}

// FlushAll emits every pending batch.
func (b *Batcher) FlushAll() {
	type claimed struct {
		cur  *batch
		prev <-chan struct{}
		done chan struct{}
	}
	b.mu.Lock()
	pending := make(map[Key]claimed, len(b.batches))
	for key, cur := range b.batches {
		cur.timer.Stop()
		prev, done := b.claim(key)
		pending[key] = claimed{cur: cur, prev: prev, done: done}
	}
	b.batches = make(map[Key]*batch)
	b.mu.Unlock()
	for key, c := range pending {
		b.emitAfter(key, c.prev, c.done, c.cur.text.String(), c.cur.fragments, c.cur.userID)
	}
}

// Stop flushes everything and switches the batcher to immediate emission.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.FlushAll()
}

// Pending returns the number of batches waiting for their timer.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func (b *Batcher) flush(key Key, text string, fragments int, userID string) {
	if text == "" {
		return
	}
	b.metrics.BatchFlushed(fragments)
	b.emit(key, text, userID)
}
