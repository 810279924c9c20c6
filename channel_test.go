package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func recvWithin(t *testing.T, s *subscription[string], d time.Duration) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.recv(ctx)
}

func TestChannelPublishWithoutSubscribers(t *testing.T) {
	c := newChannel[string]("test")
	for i := 0; i < 100; i++ {
		if n := c.publish(fmt.Sprint(i)); n != 0 {
			t.Fatal("Expectation: 0 deliveries, Received:", n)
		}
	}
}

func TestChannelSubscribe(t *testing.T) {
	c := newChannel[string]("test")

	// Assert no subscriptions exist
	if c.subscribers() != 0 {
		t.Fatal("Error in test environment, Expectation: 0, Received:", c.subscribers())
	}

	c.subscribe()
	c.subscribe()
	if c.subscribers() != 2 {
		t.Fatal("Expectation: 2, Received:", c.subscribers())
	}
}

func TestChannelPublishInOrder(t *testing.T) {
	c := newChannel[string]("test")
	s := c.subscribe()

	for i := 0; i < 50; i++ {
		want := fmt.Sprint("monkey ", i)
		if n := c.publish(want); n != 1 {
			t.Fatal("Expectation: 1 delivery, Received:", n)
		}
		got, err := recvWithin(t, s, time.Second)
		if err != nil {
			t.Fatal("Expectation: no error, Received:", err)
		}
		if got != want {
			t.Fatal("Expectation:", want, "Received:", got)
		}
	}
}

func TestChannelPublishToAll(t *testing.T) {
	c := newChannel[string]("test")
	s1, s2, s3 := c.subscribe(), c.subscribe(), c.subscribe()

	if n := c.publish("banana"); n != 3 {
		t.Fatal("Expectation: 3 deliveries, Received:", n)
	}
	for _, s := range []*subscription[string]{s1, s2, s3} {
		got, err := recvWithin(t, s, time.Second)
		if err != nil || got != "banana" {
			t.Fatal("Expectation: banana, Received:", got, err)
		}
	}
}

func TestChannelLateSubscriber(t *testing.T) {
	c := newChannel[string]("test")
	c.publish("one")
	c.publish("two")

	s := c.subscribe()
	c.publish("three")

	got, err := recvWithin(t, s, time.Second)
	if err != nil || got != "three" {
		t.Fatal("Expectation: three, Received:", got, err)
	}
}

func TestChannelLaggedSubscriberGetsNewest(t *testing.T) {
	c := newChannel[string]("test")
	s := c.subscribe()

	c.publish("1")
	c.publish("2")
	c.publish("3")

	_, err := recvWithin(t, s, time.Second)
	var lagged *laggedError
	if !errors.As(err, &lagged) {
		t.Fatal("Expectation: lagged error, Received:", err)
	}
	if lagged.missed != 2 {
		t.Fatal("Expectation: 2 missed, Received:", lagged.missed)
	}

	got, err := recvWithin(t, s, time.Second)
	if err != nil || got != "3" {
		t.Fatal("Expectation: 3, Received:", got, err)
	}
}

// A miss counted after the newest value was already taken is reported on the
// next recv, and the subscription keeps working afterwards.
func TestChannelLateLagNoticeIsHarmless(t *testing.T) {
	c := newChannel[string]("test")
	s := c.subscribe()

	c.publish("1")
	got, err := recvWithin(t, s, time.Second)
	if err != nil || got != "1" {
		t.Fatal("Expectation: 1, Received:", got, err)
	}
	s.missed.Add(1)

	_, err = recvWithin(t, s, time.Second)
	var lagged *laggedError
	if !errors.As(err, &lagged) || lagged.missed != 1 {
		t.Fatal("Expectation: lagged error with 1 missed, Received:", err)
	}

	c.publish("2")
	got, err = recvWithin(t, s, time.Second)
	if err != nil || got != "2" {
		t.Fatal("Expectation: 2, Received:", got, err)
	}
}

func TestChannelUnsubscribe(t *testing.T) {
	c := newChannel[string]("test")
	s := c.subscribe()
	other := c.subscribe()

	s.unsubscribe()
	s.unsubscribe()
	if c.subscribers() != 1 {
		t.Fatal("Expectation: 1, Received:", c.subscribers())
	}

	if _, err := recvWithin(t, s, time.Second); !errors.Is(err, errChannelClosed) {
		t.Fatal("Expectation: errChannelClosed, Received:", err)
	}

	// Other subscriptions are unaffected
	c.publish("still here")
	got, err := recvWithin(t, other, time.Second)
	if err != nil || got != "still here" {
		t.Fatal("Expectation: still here, Received:", got, err)
	}
}

func TestChannelRecvHonoursContext(t *testing.T) {
	c := newChannel[string]("test")
	s := c.subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.recv(ctx); !errors.Is(err, context.Canceled) {
		t.Fatal("Expectation: context.Canceled, Received:", err)
	}
}

func TestChannelClose(t *testing.T) {
	c := newChannel[string]("test")
	s := c.subscribe()

	c.close()
	c.close()

	if _, err := recvWithin(t, s, time.Second); !errors.Is(err, errChannelClosed) {
		t.Fatal("Expectation: errChannelClosed, Received:", err)
	}
	if n := c.publish("late"); n != 0 {
		t.Fatal("Expectation: 0 deliveries after close, Received:", n)
	}
	late := c.subscribe()
	if _, err := recvWithin(t, late, time.Second); !errors.Is(err, errChannelClosed) {
		t.Fatal("Expectation: errChannelClosed for late subscriber, Received:", err)
	}
	if c.subscribers() != 0 {
		t.Fatal("Expectation: 0, Received:", c.subscribers())
	}
}

func TestChannelConcurrentUse(t *testing.T) {
	c := newChannel[string]("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := c.subscribe()
				rctx, rcancel := context.WithTimeout(ctx, time.Millisecond)
				s.recv(rctx)
				rcancel()
				s.unsubscribe()
			}
		}()
	}

	stop := make(chan struct{})
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				c.publish(fmt.Sprint(i))
			}
		}
	}()

	wg.Wait()
	close(stop)
	if c.subscribers() != 0 {
		t.Fatal("Expectation: 0, Received:", c.subscribers())
	}
}
