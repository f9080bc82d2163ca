package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/glmlink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// recorder keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []int
}

func (r *recorder) Deliver(event int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) Events() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.events...)
}

type BroadcasterTestSuite struct {
	suite.Suite
	b *Broadcaster[int]
}

func (suite *BroadcasterTestSuite) SetupTest() {
	suite.b = New[int](testutils.NewTestLogger(suite.T()))
}

func (suite *BroadcasterTestSuite) TestPublish_DeliversToAll() {
	first, second := &recorder{}, &recorder{}
	suite.b.Register(first)
	suite.b.Register(second)

	suite.Equal(2, suite.b.Publish(1))
	suite.Equal(2, suite.b.Publish(2))

	suite.Equal([]int{1, 2}, first.Events())
	suite.Equal([]int{1, 2}, second.Events())
}

func (suite *BroadcasterTestSuite) TestPublish_FailingSubscriberIsPruned() {
	// GOAL: One broken subscriber is removed without affecting the others
	//
	// TEST SCENARIO: healthy + failing + panicking subscribers → publish twice →
	// only the healthy one receives the second event

	tests := []struct {
		name   string
		broken Subscriber[int]
	}{
		{
			name:   "returns error",
			broken: SubscriberFunc[int](func(int) error { return errors.New("socket closed") }),
		},
		{
			name:   "panics",
			broken: SubscriberFunc[int](func(int) error { panic("boom") }),
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			b := New[int](testutils.NewSilentLogger())
			before, after := &recorder{}, &recorder{}
			b.Register(before)

			var brokenCalls atomic.Int32
			brokenHandle := b.Register(SubscriberFunc[int](func(e int) error {
				brokenCalls.Add(1)
				return tt.broken.Deliver(e)
			}))
			b.Register(after)

			suite.Equal(2, b.Publish(10), "healthy subscribers MUST still receive the event")
			suite.Equal(2, b.Len(), "failing subscriber MUST be removed after the call")

			b.Publish(11)
			suite.Equal(int32(1), brokenCalls.Load(), "removed subscriber MUST NOT receive later events")
			suite.Equal([]int{10, 11}, before.Events())
			suite.Equal([]int{10, 11}, after.Events())

			suite.False(b.Unregister(brokenHandle), "pruned handle MUST no longer be registered")
		})
	}
}

func (suite *BroadcasterTestSuite) TestUnregister() {
	r := &recorder{}
	h := suite.b.Register(r)

	suite.True(suite.b.Unregister(h))
	suite.False(suite.b.Unregister(h), "second unregister MUST report false")
	suite.Equal(0, suite.b.Publish(1))
	suite.Empty(r.Events())
}

func (suite *BroadcasterTestSuite) TestStats() {
	h := suite.b.Register(&recorder{})
	suite.b.Publish(1)
	suite.b.Publish(2)

	stats, ok := suite.b.Stats(h)
	suite.Require().True(ok)
	suite.Equal(uint64(2), stats.Delivered)

	suite.b.Unregister(h)
	_, ok = suite.b.Stats(h)
	suite.False(ok, "stats MUST be dropped with the subscriber")
}

func (suite *BroadcasterTestSuite) TestPublish_NoSubscribers() {
	suite.Equal(0, suite.b.Publish(1))
}

func TestBroadcasterTestSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterTestSuite))
}

// Concurrent registry churn must not drop, duplicate or reorder events for a
// subscriber that stays registered throughout.
func TestPublish_ConcurrentChurn(t *testing.T) {
	b := New[int](testutils.NewSilentLogger())
	stable := &recorder{}
	b.Register(stable)

	const events = 500
	stop := make(chan struct{})
	var churn sync.WaitGroup
	for w := 0; w < 4; w++ {
		churn.Add(1)
		go func() {
			defer churn.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h := b.Register(&recorder{})
				b.Unregister(h)
			}
		}()
	}

	var publishers sync.WaitGroup
	publishers.Add(1)
	go func() {
		defer publishers.Done()
		for i := 0; i < events; i++ {
			b.Publish(i)
		}
	}()
	publishers.Wait()
	close(stop)
	churn.Wait()

	got := stable.Events()
	require.Len(t, got, events, "stable subscriber MUST receive every event exactly once")
	for i, v := range got {
		assert.Equal(t, i, v, "events MUST arrive in publish order")
	}
	assert.Equal(t, 1, b.Len())
}

func TestPublish_SerializesConcurrentPublishers(t *testing.T) {
	b := New[int](testutils.NewSilentLogger())

	var inFlight, maxInFlight atomic.Int32
	b.Register(SubscriberFunc[int](func(int) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		inFlight.Add(-1)
		return nil
	}))

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "a subscriber MUST never see overlapping deliveries")
}

func TestPublish_UnreadChannelSubscriberDoesNotStall(t *testing.T) {
	// GOAL: A consumer that never reads cannot hold up the publisher or other subscribers
	//
	// TEST SCENARIO: unread channel subscriber + recorder → many publishes complete → recorder has all, channel pruned

	b := New[int](testutils.NewSilentLogger())
	stuck := NewChannelSubscriber[int](2)
	healthy := &recorder{}
	b.Register(stuck)
	b.Register(healthy)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish MUST NOT wait on an unread subscriber")
	}
	assert.Len(t, healthy.Events(), 100)
	assert.Equal(t, 1, b.Len(), "overflowing subscriber MUST be pruned")
}

func TestChannelSubscriber(t *testing.T) {
	t.Run("delivers in order", func(t *testing.T) {
		sub := NewChannelSubscriber[int](4)
		require.NoError(t, sub.Deliver(1))
		require.NoError(t, sub.Deliver(2))
		assert.Equal(t, 1, <-sub.C())
		assert.Equal(t, 2, <-sub.C())
	})

	t.Run("overflow closes the subscriber", func(t *testing.T) {
		sub := NewChannelSubscriber[int](1)
		require.NoError(t, sub.Deliver(1))
		assert.ErrorIs(t, sub.Deliver(2), ErrSubscriberFull)
		assert.ErrorIs(t, sub.Err(), ErrSubscriberFull)
		assert.ErrorIs(t, sub.Deliver(3), ErrSubscriberClosed)

		assert.Equal(t, 1, <-sub.C(), "buffered events MUST still be readable")
		_, open := <-sub.C()
		assert.False(t, open, "channel MUST be closed after overflow")
	})

	t.Run("close is idempotent", func(t *testing.T) {
		sub := NewChannelSubscriber[int](1)
		sub.Close()
		sub.Close()
		assert.NoError(t, sub.Err())
		assert.ErrorIs(t, sub.Deliver(1), ErrSubscriberClosed)
	})

	t.Run("slow reader is pruned by the broadcaster", func(t *testing.T) {
		b := New[int](testutils.NewSilentLogger())
		sub := NewChannelSubscriber[int](1)
		b.Register(sub)

		assert.Equal(t, 1, b.Publish(1))
		assert.Equal(t, 0, b.Publish(2))
		assert.Equal(t, 0, b.Len())
	})
}
