package main

import (
	"bufio"
	"errors"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const eventsPath = "/events/"

type wsHandler struct {
	hub *hub
}

func newWsHandler(h *hub) wsHandler {
	return wsHandler{hub: h}
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsh.hub.accept(w, r)
}

// statusRecorder remembers the response status. It passes Hijack through so
// websocket upgrades still work behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// logRequests logs one line per request once its handler returns.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("http request")
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Ok"))
}

// getHandler serves a bare page that renders whatever arrives on the
// events socket.
type getHandler struct{}

func (gh getHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := webTemplate.Execute(w, templateArgs{Path: eventsPath}); err != nil {
		logrus.WithError(err).Warn("render viewer page")
	}
}

type templateArgs struct {
	Path string
}

var webTemplate = template.Must(template.New("webTemplate").Parse(`
<html>
<head>
<title>ghrelay</title>
<script type="text/javascript">
    window.addEventListener("load", function() {
    var log = document.getElementById("log");

    function appendLog(node) {
        var doScroll = log.scrollTop == log.scrollHeight - log.clientHeight;
        log.appendChild(node);
        if (doScroll) {
            log.scrollTop = log.scrollHeight - log.clientHeight;
        }
    }

    function line(text, href) {
        var div = document.createElement("div");
        if (href) {
            var a = document.createElement("a");
            a.href = href;
            a.textContent = text;
            div.appendChild(a);
        } else {
            div.textContent = text;
        }
        return div;
    }

    if (!window["WebSocket"]) {
        appendLog(line("Your browser does not support WebSockets."));
        return;
    }
    var scheme = location.protocol == "https:" ? "wss://" : "ws://";
    var conn = new WebSocket(scheme + location.host + {{.Path}});
    conn.onclose = function(evt) {
        appendLog(line("Connection closed."));
    };
    conn.onmessage = function(evt) {
        var events;
        try {
            events = JSON.parse(evt.data);
        } catch (e) {
            return;
        }
        events.forEach(function(e) {
            var what = e.action ? e.action : e.commits_size + " commit(s)";
            appendLog(line(e.actor.display_login + " " + what + " " + e.repo.name + " (" + e.type + ")", e.event_url || e.repo.url));
        });
    };
    });
</script>
<style type="text/css">
body {
    margin: 0;
    padding: 0.5em;
    font-family: monospace;
}

#log {
    position: absolute;
    top: 2.5em;
    left: 0.5em;
    right: 0.5em;
    bottom: 0.5em;
    overflow: auto;
}
</style>
</head>
<body>
<h3>GitHub events on {{.Path}}</h3>
<div id="log"></div>
</body>
</html>
`))
