// Package bus provides a typed in-process publish/subscribe event bus.
// It replaces ambient process-wide state: components publish status
// changes and the delivery surface fans them out to attached UIs.
package bus

import (
	"sync"

	"github.com/quirelabs/quire/internal/domain"
)

// Bus fans out values of one event type to all subscribers. Publish never
// blocks: a subscriber that falls behind loses the oldest pending event
// rather than stalling the publisher.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	closed bool
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a subscriber with the given channel buffer and
// returns the receive channel plus a cancel function. Cancel is safe to
// call more than once.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan T, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers v to every subscriber without blocking. When a
// subscriber's buffer is full the oldest queued event is dropped to make
// room for the new one.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Close closes all subscriber channels. Further publishes are no-ops and
// further subscriptions receive a closed channel.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Events aggregates the engine's event topics. One instance is shared by
// the whole daemon and injected into every component that publishes.
type Events struct {
	SaveStatus *Bus[domain.SaveStatus]
	Capture    *Bus[domain.CaptureChange]
	Partial    *Bus[domain.PartialTranscript]
	Utterance  *Bus[domain.UtteranceEvent]
	Summary    *Bus[domain.SummaryEvent]
	Notice     *Bus[domain.Notice]
}

// NewEvents creates the full topic set.
func NewEvents() *Events {
	return &Events{
		SaveStatus: New[domain.SaveStatus](),
		Capture:    New[domain.CaptureChange](),
		Partial:    New[domain.PartialTranscript](),
		Utterance:  New[domain.UtteranceEvent](),
		Summary:    New[domain.SummaryEvent](),
		Notice:     New[domain.Notice](),
	}
}

// Close shuts down every topic.
func (e *Events) Close() {
	e.SaveStatus.Close()
	e.Capture.Close()
	e.Partial.Close()
	e.Utterance.Close()
	e.Summary.Close()
	e.Notice.Close()
}
