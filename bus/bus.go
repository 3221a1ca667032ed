// Package bus implements the Progress/Log Bus (spec §4.E): a process-wide
// fan-out from the engine (single producer per operation) to the UI and to
// tests (any number of readers, which may be entirely absent). It also
// carries the one cooperative-cancellation flag producers check at every
// block boundary and every sidecar-stdout-line boundary (spec §5).
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/oxidisk/oxidisk/model"
)

// windowSize bounds how many events a slow or absent reader can fall behind
// by before the bus starts dropping the oldest unread event. Readers are
// never guaranteed to see every event; they're only guaranteed ordering.
const windowSize = 256

// Bus is the shared progress/log fan-out for one process instance. The
// zero value is not usable; construct with [New].
type Bus struct {
	mu           sync.Mutex
	progressSubs map[int]chan model.ProgressEvent
	logSubs      map[int]chan model.LogEvent
	nextSubID    int
	cancelled    atomic.Bool
}

// New creates an empty Bus with no subscribers and a cleared cancel flag.
func New() *Bus {
	return &Bus{
		progressSubs: make(map[int]chan model.ProgressEvent),
		logSubs:      make(map[int]chan model.LogEvent),
	}
}

// SubscribeProgress registers a new reader and returns a channel of
// progress events along with an unsubscribe function. The channel is
// closed when Unsubscribe is called.
func (b *Bus) SubscribeProgress() (<-chan model.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan model.ProgressEvent, windowSize)
	b.progressSubs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.progressSubs[id]; ok {
			delete(b.progressSubs, id)
			close(existing)
		}
	}
}

// SubscribeLog registers a new reader and returns a channel of log events
// along with an unsubscribe function.
func (b *Bus) SubscribeLog() (<-chan model.LogEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan model.LogEvent, windowSize)
	b.logSubs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.logSubs[id]; ok {
			delete(b.logSubs, id)
			close(existing)
		}
	}
}

// EmitProgress fans a progress event out to every subscriber. A subscriber
// that isn't keeping up has its oldest buffered event dropped rather than
// block the producer -- the bus guarantees ordering, not delivery.
//
// Bytes must be monotonically non-decreasing within an operation (spec
// §3); the bus has no per-op identity of its own, so it trusts the caller
// (the Dispatcher's checkpoint closure) to hold that invariant rather than
// enforcing it here.
func (b *Bus) EmitProgress(ev model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.progressSubs {
		trySend(ch, ev)
	}
}

// EmitLog fans a log line out to every subscriber.
func (b *Bus) EmitLog(ev model.LogEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.logSubs {
		trySend(ch, ev)
	}
}

// trySend delivers v to ch, dropping the oldest queued value first if ch is
// full so the producer never blocks on a slow reader.
func trySend[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- v:
	default:
	}
}

// Cancel sets the cooperative cancellation flag. It is idempotent.
func (b *Bus) Cancel() {
	b.cancelled.Store(true)
}

// Cancelled reports whether [Cancel] has been called since the last
// [Reset].
func (b *Bus) Cancelled() bool {
	return b.cancelled.Load()
}

// Reset clears the cancel flag ahead of a new operation. The Dispatcher
// calls this when it acquires the serial lock for a new op; it must never
// be called while an operation is running.
func (b *Bus) Reset() {
	b.cancelled.Store(false)
}
