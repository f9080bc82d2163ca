// Package broadcast fans events out to a dynamic set of subscribers.
//
// Publish snapshots the registry under a read lock and delivers outside it, so
// Register and Unregister never wait on a slow subscriber. A subscriber whose
// delivery fails (or panics) is removed once the publish call completes; the others
// still receive the event.
//
// Deliver runs on the publisher's goroutine and publishes are serialized, so a
// subscriber must not block: one that waits stalls delivery to every other
// subscriber and the publisher itself. Subscribers that feed slow consumers should
// buffer and fail on overflow, as ChannelSubscriber does.
package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Subscriber accepts one event or fails. Deliver must return promptly.
type Subscriber[T any] interface {
	Deliver(event T) error
}

// SubscriberFunc adapts a function to Subscriber. The function must not block.
type SubscriberFunc[T any] func(event T) error

func (f SubscriberFunc[T]) Deliver(event T) error { return f(event) }

// Handle identifies a registration.
type Handle string

func (h Handle) String() string { return string(h) }

// Stats counts deliveries for one live subscriber.
type Stats struct {
	Delivered uint64
}

type counters struct {
	delivered atomic.Uint64
}

type entry[T any] struct {
	handle Handle
	sub    Subscriber[T]
}

// Broadcaster is safe for concurrent use.
type Broadcaster[T any] struct {
	logger *logrus.Logger

	mu   sync.RWMutex
	subs map[Handle]Subscriber[T]

	// serializes Publish so each subscriber sees events in call order
	publishMu sync.Mutex

	stats *hashmap.Map[Handle, *counters]
}

func New[T any](logger *logrus.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Broadcaster[T]{
		logger: logger,
		subs:   make(map[Handle]Subscriber[T]),
		stats:  hashmap.New[Handle, *counters](),
	}
}

func (b *Broadcaster[T]) Register(sub Subscriber[T]) Handle {
	h := Handle(uuid.NewString())
	b.stats.Set(h, &counters{})

	b.mu.Lock()
	b.subs[h] = sub
	n := len(b.subs)
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"subscriber":  h.String(),
		"subscribers": n,
	}).Debug("Subscriber registered")
	return h
}

// Unregister removes h. It reports false if h was not registered, which includes
// subscribers already pruned after a failed delivery.
func (b *Broadcaster[T]) Unregister(h Handle) bool {
	b.mu.Lock()
	_, ok := b.subs[h]
	delete(b.subs, h)
	n := len(b.subs)
	b.mu.Unlock()

	if !ok {
		return false
	}
	b.stats.Del(h)
	b.logger.WithFields(logrus.Fields{
		"subscriber":  h.String(),
		"subscribers": n,
	}).Debug("Subscriber unregistered")
	return true
}

func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns delivery counters for a live subscriber.
func (b *Broadcaster[T]) Stats(h Handle) (Stats, bool) {
	c, ok := b.stats.Get(h)
	if !ok {
		return Stats{}, false
	}
	return Stats{Delivered: c.delivered.Load()}, true
}

// Publish delivers event to every subscriber registered at call time and returns
// how many deliveries succeeded.
func (b *Broadcaster[T]) Publish(event T) int {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	snapshot := make([]entry[T], 0, len(b.subs))
	for h, sub := range b.subs {
		snapshot = append(snapshot, entry[T]{handle: h, sub: sub})
	}
	b.mu.RUnlock()

	delivered := 0
	var failed []Handle
	for _, e := range snapshot {
		if err := deliver(e.sub, event); err != nil {
			b.logger.WithFields(logrus.Fields{
				"subscriber": e.handle.String(),
				"error":      err,
			}).Warn("Subscriber delivery failed, removing")
			failed = append(failed, e.handle)
			continue
		}
		delivered++
		if c, ok := b.stats.Get(e.handle); ok {
			c.delivered.Add(1)
		}
	}

	for _, h := range failed {
		b.Unregister(h)
	}
	return delivered
}

// ErrPanicked wraps a panic raised by a subscriber.
var ErrPanicked = errors.New("subscriber panicked")

func deliver[T any](sub Subscriber[T], event T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return sub.Deliver(event)
}
