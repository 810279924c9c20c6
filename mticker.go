package main

import (
	"sync"
	"time"
)

// mTicker is a single time.Ticker whose ticks are shared by any number of
// subscribers. Ticks a subscriber is not ready for are replaced by the next
// one rather than queued.
type mTicker struct {
	ticks *channel[time.Time]

	tickerMux sync.Mutex // Used to sync start/stop
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   bool
}

// creates and starts a new ticker
// that can have subscribed channels to receive
// ticks
func newMTicker(interval time.Duration) *mTicker {
	t := &mTicker{
		ticks:  newChannel[time.Time]("mticker"),
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
	}
	go t.tick()
	return t
}

func (t *mTicker) subscribe() *subscription[time.Time] {
	return t.ticks.subscribe()
}

func (t *mTicker) subscribers() int {
	return t.ticks.subscribers()
}

// Stop stops the ticker, and closes
// all subscriptions
func (t *mTicker) stop() {
	t.tickerMux.Lock()
	defer t.tickerMux.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	t.ticker.Stop()
	close(t.stopCh)
	t.ticks.close()
}

func (t *mTicker) tick() {
	for {
		select {
		case tick := <-t.ticker.C:
			t.ticks.publish(tick)
		case <-t.stopCh:
			return
		}
	}
}
