package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// hub accepts websocket upgrades and runs one connection per socket against
// the shared events channel. It keeps no per-connection state and admits
// every connection.
type hub struct {
	ctx        context.Context
	events     *channel[string]
	pings      *mTicker
	pingPeriod time.Duration
	upgrader   *websocket.Upgrader

	sessions sync.WaitGroup
}

// newHub binds sessions to ctx; cancelling it closes them all. When origin
// is non-empty, only handshakes carrying that exact Origin header
// (scheme://host[:port]) are accepted.
func newHub(ctx context.Context, events *channel[string], pings *mTicker, pingPeriod time.Duration, origin string) *hub {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	return &hub{
		ctx:        ctx,
		events:     events,
		pings:      pings,
		pingPeriod: pingPeriod,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(origin),
		},
	}
}

func checkOrigin(origin string) func(r *http.Request) bool {
	if origin == "" {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		return r.Header.Get("Origin") == origin
	}
}

// accept upgrades the request and starts its session. It returns as soon as
// the session is running.
func (h *hub) accept(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		logrus.WithError(err).WithField("remote", r.RemoteAddr).Debug("websocket upgrade failed")
		return
	}
	c := newConnection(newWebsocketInteractor(ws, h.pingPeriod), h.events, h.pings)

	h.sessions.Add(1)
	go func() {
		defer h.sessions.Done()
		c.run(h.ctx)
	}()
}

// wait blocks until every session has ended or timeout passes. It reports
// whether all sessions ended.
func (h *hub) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
