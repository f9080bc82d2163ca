package broadcast

import (
	"errors"
	"sync"
)

var (
	ErrSubscriberFull   = errors.New("subscriber buffer is full")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)

// ChannelSubscriber buffers events on a channel. Delivery never blocks: when the
// buffer is full the subscriber closes itself and reports ErrSubscriberFull, so a
// reader that stops draining is dropped instead of stalling publishers.
type ChannelSubscriber[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
	err    error
}

func NewChannelSubscriber[T any](buffer int) *ChannelSubscriber[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSubscriber[T]{ch: make(chan T, buffer)}
}

// C is closed once the subscriber is closed, by Close or by overflow.
func (c *ChannelSubscriber[T]) C() <-chan T { return c.ch }

func (c *ChannelSubscriber[T]) Deliver(event T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSubscriberClosed
	}
	select {
	case c.ch <- event:
		return nil
	default:
		c.closeLocked(ErrSubscriberFull)
		return ErrSubscriberFull
	}
}

// Err reports why the subscriber closed, nil while open or after a plain Close.
func (c *ChannelSubscriber[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *ChannelSubscriber[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(nil)
}

func (c *ChannelSubscriber[T]) closeLocked(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.ch)
}
