package main

import (
	"io"
	"net/http"
	"os"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/rcrowley/go-metrics/exp"
)

type metrics struct {
	log  io.Writer
	reg  gometrics.Registry
	tick time.Duration
}

var m = &metrics{
	log:  os.Stderr,
	reg:  gometrics.DefaultRegistry,
	tick: time.Duration(60) * time.Second,
}

func startMetrics(log io.Writer, tick time.Duration) {
	if log != nil {
		m.log = log
	}
	if tick > 0 {
		m.tick = tick
	}
	m.start()
}

func finalMetrics() {
	m.writeOnce()
}

func incr(name string, i int64) {
	m.incr(name, i)
}

func decr(name string, i int64) {
	m.decr(name, i)
}

func timer(name string) gometrics.Timer {
	return gometrics.GetOrRegisterTimer(name, m.reg)
}

// count reads a counter's current value.
func count(name string) int64 {
	return gometrics.GetOrRegisterCounter(name, m.reg).Count()
}

// metricsHandler serves the registry as JSON.
func metricsHandler() http.Handler {
	return exp.ExpHandler(m.reg)
}

func (m metrics) start() {
	go gometrics.WriteJSON(m.reg, m.tick, m.log)
}

func (m metrics) writeOnce() {
	gometrics.WriteJSONOnce(m.reg, m.log)
}

func (m metrics) incr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func (m metrics) decr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}
