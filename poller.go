package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPollInterval = 2 * time.Second
	pollKey             = "events"
)

// transformFunc builds the outgoing message from one fetched batch. ok is
// false when there is nothing worth publishing.
type transformFunc func([]rawEvent) (msg string, ok bool, err error)

// poller fetches the upstream feed on every tick and publishes the result.
// Ticks that fire while a fetch is still running join that fetch instead of
// starting another, so publishes never go out of order.
type poller struct {
	fetcher   eventFetcher
	transform transformFunc
	events    *channel[string]
	clock     clockwork.Clock
	interval  time.Duration

	group singleflight.Group
	log   *logrus.Entry
}

func newPoller(fetcher eventFetcher, transform transformFunc, events *channel[string], clock clockwork.Clock, interval time.Duration) *poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &poller{
		fetcher:   fetcher,
		transform: transform,
		events:    events,
		clock:     clock,
		interval:  interval,
		log:       logrus.WithField("component", "poller"),
	}
}

// run polls until ctx is done, then waits for the tick in flight.
func (p *poller) run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	p.log.WithField("interval", p.interval).Info("polling started")

	var inflight <-chan singleflight.Result
	for {
		select {
		case <-ctx.Done():
			if inflight != nil {
				<-inflight
			}
			p.log.Info("polling stopped")
			return
		case <-ticker.Chan():
			incr("poll.ticks", 1)
			inflight = p.group.DoChan(pollKey, func() (interface{}, error) {
				return p.tick(ctx)
			})
		}
	}
}

// tick runs one fetch, transform and publish. Failures are logged and
// confined to this tick.
func (p *poller) tick(ctx context.Context) (published bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			incr("poll.errors", 1)
			err = fmt.Errorf("poll tick panicked: %v", r)
			p.log.WithError(err).Error("tick aborted")
			published = false
		}
	}()

	start := p.clock.Now()
	events, err := p.fetcher.fetchEvents(ctx)
	timer("poll.fetch").Update(p.clock.Since(start))
	switch {
	case errors.Is(err, errNotModified):
		incr("poll.notmodified", 1)
		return false, nil
	case errors.Is(err, context.Canceled):
		return false, err
	case err != nil:
		incr("poll.errors", 1)
		p.log.WithError(err).Warn("fetch events failed")
		return false, err
	}

	msg, ok, err := p.transform(events)
	if err != nil {
		incr("poll.errors", 1)
		p.log.WithError(err).Warn("transform events failed")
		return false, err
	}
	if !ok {
		incr("poll.empty", 1)
		return false, nil
	}

	n := p.events.publish(msg)
	p.log.WithFields(logrus.Fields{"events": len(events), "subscribers": n}).Debug("published")
	return true, nil
}
