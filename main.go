// Package ghrelay relays the GitHub public events feed to websocket viewers.
//
//	GITHUB_OAUTH_KEY=... ghrelay -addr=:8081
//
// The events API is polled every POLL_INTERVAL (2s by default). Each poll
// is cleaned into a small JSON array and sent as one text frame to every
// viewer connected at that moment. Nothing is stored: a viewer that
// connects late sees the next poll, and a viewer that falls behind skips
// straight to the newest message.
//
// Watch the feed by opening a websocket.
//
//	ws://localhost:8081/events/
//
// Other endpoints:
//
//	GET /health/        liveness, always "Ok"
//	GET /debug/metrics  counters and timers as JSON
//	GET /               a minimal browser viewer
package main

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/facebookgo/httpdown"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := loadConfig(os.Args[1:], nil)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	setupLogging(cfg)
	startMetrics(logrus.StandardLogger().Writer(), cfg.MetricsTick)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := newChannel[string]("channel")
	pings := newMTicker(cfg.PingPeriod)
	h := newHub(ctx, events, pings, cfg.PingPeriod, cfg.Origin)

	client := newGithubClient(cfg.EventsURL, cfg.GithubToken, cfg.EventsPerPage)
	p := newPoller(client, cleanEvents, events, clockwork.NewRealClock(), cfg.PollInterval)
	var polling sync.WaitGroup
	polling.Add(1)
	go func() {
		defer polling.Done()
		p.run(ctx)
	}()

	// Prepare the stoppable HTTP server
	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: newHandler(h),
	}
	hd := &httpdown.HTTP{
		StopTimeout: cfg.StopTimeout,
		KillTimeout: cfg.KillTimeout,
	}

	logrus.WithField("addr", cfg.Addr).Info("listening")
	serveErr := httpdown.ListenAndServe(server, hd)

	cancel()
	polling.Wait()
	pings.stop()
	events.close()
	if !h.wait(cfg.StopTimeout) {
		logrus.Warn("sessions still open at shutdown")
	}
	finalMetrics()

	if serveErr != nil {
		logrus.WithError(serveErr).Fatal("server stopped")
	}
}

func newHandler(h *hub) http.Handler {
	handler := mux.NewRouter()

	// Route websocket requests
	ws := newWsHandler(h)
	handler.Handle(eventsPath, ws).Methods("GET")
	handler.Handle("/events", ws).Methods("GET")

	handler.HandleFunc("/health/", healthHandler).Methods("GET")
	handler.Handle("/debug/metrics", metricsHandler()).Methods("GET")
	handler.Handle("/", getHandler{}).Methods("GET")

	handler.Use(logRequests)
	return handler
}
