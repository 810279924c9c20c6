package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type connState int32

const (
	stateOpen connState = iota
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("connState(%d)", int32(s))
	}
}

var errClientGone = errors.New("client gone")

// connection relays channel messages to one websocket until either side
// goes away. It owns the socket and its subscriptions exclusively.
type connection struct {
	id     uuid.UUID
	remote string
	w      websocketManager
	sub    *subscription[string]
	pings  *subscription[time.Time]
	state  atomic.Int32
	once   sync.Once
	log    *logrus.Entry
}

// newConnection subscribes immediately, so nothing published after the
// upgrade is missed. pings may be nil to disable keepalive.
func newConnection(w websocketManager, events *channel[string], pings *mTicker) *connection {
	c := &connection{
		id:     uuid.New(),
		remote: w.wsRemoteAddr(),
		w:      w,
		sub:    events.subscribe(),
	}
	if pings != nil {
		c.pings = pings.subscribe()
	}
	c.log = logrus.WithFields(logrus.Fields{
		"session": c.id.String(),
		"remote":  c.remote,
	})
	c.state.Store(int32(stateOpen))
	return c
}

func (c *connection) current() connState {
	return connState(c.state.Load())
}

// run blocks until the session is closed and returns the reason. Whichever
// activity stops first cancels the others: the writer through its context,
// the reader by closing the socket underneath it.
func (c *connection) run(ctx context.Context) error {
	incr("websockets", 1)
	defer decr("websockets", 1)
	c.log.Debug("session open")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writer(gctx) })
	g.Go(c.reader)
	g.Go(func() error { return c.keepalive(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		c.close()
		return nil
	})

	err := g.Wait()
	c.close()
	if ctx.Err() != nil {
		err = ctx.Err()
	}

	entry := c.log.WithField("reason", err)
	if errors.Is(err, errClientGone) || errors.Is(err, context.Canceled) || errors.Is(err, errChannelClosed) {
		entry.Debug("session closed")
	} else {
		entry.Info("session closed")
	}
	return err
}

func (c *connection) writer(ctx context.Context) error {
	for {
		msg, err := c.sub.recv(ctx)
		var lagged *laggedError
		switch {
		case errors.As(err, &lagged):
			c.log.WithField("missed", lagged.missed).Debug("session lagged")
			continue
		case err != nil:
			return err
		}

		c.w.wsSetWriteDeadline()
		if err := c.w.wsWriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return fmt.Errorf("write message: %w", err)
		}
		incr("conn.send", 1)
	}
}

// reader discards everything the client sends; it only exists to notice
// close frames, read errors and missed pongs.
func (c *connection) reader() error {
	c.w.wsSetReadDeadline()
	c.w.wsSetPongHandler()
	for {
		if _, err := c.w.wsDiscardMessage(); err != nil {
			return fmt.Errorf("%w: %w", errClientGone, err)
		}
		incr("conn.recv", 1)
	}
}

func (c *connection) keepalive(ctx context.Context) error {
	if c.pings == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.pings.closed():
			// Ticker stopped; the session carries on without pings.
			return nil
		case <-c.pings.values():
			if err := c.w.wsPing(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// close releases the subscriptions and the socket. Safe to call repeatedly.
func (c *connection) close() {
	c.once.Do(func() {
		c.state.Store(int32(stateClosing))
		c.sub.unsubscribe()
		if c.pings != nil {
			c.pings.unsubscribe()
		}
		// Best effort; the peer may already be gone.
		_ = c.w.wsWriteClose()
		c.w.wsClose()
		c.state.Store(int32(stateClosed))
	})
}
