package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var errChannelClosed = errors.New("channel closed")

// laggedError is returned by recv when a subscription's slot was overwritten
// before it was read. It is not fatal: the next recv yields the newest message.
type laggedError struct {
	missed uint64
}

func (e *laggedError) Error() string {
	return fmt.Sprintf("subscription lagged, %d message(s) missed", e.missed)
}

// channel fans every published value out to all of its subscriptions.
//
// Each subscription holds at most one pending value. A publish that finds the
// slot still occupied replaces the stale value with the new one and counts a
// miss, so a slow subscriber always reads the most recent value and the
// publisher never waits on anyone.
type channel[T any] struct {
	name string

	mu     sync.Mutex
	subs   map[*subscription[T]]struct{}
	closed bool
}

type subscription[T any] struct {
	c      *channel[T]
	slot   chan T
	done   chan struct{}
	once   sync.Once
	missed atomic.Uint64
}

// newChannel returns an open channel. name prefixes its metrics.
func newChannel[T any](name string) *channel[T] {
	return &channel[T]{
		name: name,
		subs: make(map[*subscription[T]]struct{}),
	}
}

// subscribe returns a subscription that receives values published from now
// on. Subscribing to a closed channel returns an already closed subscription.
func (c *channel[T]) subscribe() *subscription[T] {
	s := &subscription[T]{
		c:    c,
		slot: make(chan T, 1),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		s.release()
		return s
	}
	c.subs[s] = struct{}{}
	return s
}

// publish hands v to every subscription and returns how many received it.
func (c *channel[T]) publish(v T) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}
	incr(c.name+".publish", 1)

	delivered := 0
	for s := range c.subs {
		select {
		case s.slot <- v:
		default:
			// Only publish sends, and it holds mu, so once the stale value
			// is drained the send below cannot block.
			select {
			case <-s.slot:
				s.missed.Add(1)
				incr(c.name+".lagged", 1)
			default:
			}
			s.slot <- v
		}
		delivered++
	}
	incr(c.name+".delivered", int64(delivered))
	return delivered
}

func (c *channel[T]) subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// close wakes every subscription with errChannelClosed. Later publishes are
// dropped.
func (c *channel[T]) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for s := range c.subs {
		s.release()
		delete(c.subs, s)
	}
}

// recv blocks until a value is available, the subscription is released, or
// ctx is done. A publish racing with recv can overwrite the slot after the
// miss check, so recv returns the newest value and the following call
// reports the lag. The notice then arrives late but the count stays exact.
func (s *subscription[T]) recv(ctx context.Context) (T, error) {
	var zero T
	if n := s.missed.Swap(0); n > 0 {
		return zero, &laggedError{missed: n}
	}

	select {
	case v := <-s.slot:
		return v, nil
	case <-s.done:
		return zero, errChannelClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// values exposes the pending slot for callers that select over several
// sources. Misses are not reported through it.
func (s *subscription[T]) values() <-chan T {
	return s.slot
}

func (s *subscription[T]) closed() <-chan struct{} {
	return s.done
}

// unsubscribe detaches s from its channel. Safe to call more than once.
func (s *subscription[T]) unsubscribe() {
	s.c.mu.Lock()
	delete(s.c.subs, s)
	s.c.mu.Unlock()
	s.release()
}

func (s *subscription[T]) release() {
	s.once.Do(func() {
		close(s.done)
	})
}
