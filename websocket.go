package main

import (
	"io"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Default period between pings. Must be less than the pong wait derived from it.
	defaultPingPeriod = 27 * time.Second
)

// pongWaitFor is how long a session waits for the next pong when pings are
// sent every pingPeriod.
func pongWaitFor(pingPeriod time.Duration) time.Duration {
	return (pingPeriod * 10) / 9
}

type websocketManager interface {
	wsSetReadDeadline()
	wsSetPongHandler()
	wsDiscardMessage() (int, error)
	wsSetWriteDeadline()
	wsWriteMessage(int, []byte) error
	wsPing() error
	wsWriteClose() error
	wsRemoteAddr() string
	wsClose()
}

type websocketInteractor struct {
	ws       *websocket.Conn
	pongWait time.Duration
}

func newWebsocketInteractor(ws *websocket.Conn, pingPeriod time.Duration) websocketInteractor {
	return websocketInteractor{ws: ws, pongWait: pongWaitFor(pingPeriod)}
}

func (w websocketInteractor) wsSetReadDeadline() {
	w.ws.SetReadDeadline(time.Now().Add(w.pongWait))
}

func (w websocketInteractor) wsSetPongHandler() {
	w.ws.SetPongHandler(func(s string) error { w.wsSetReadDeadline(); return nil })
}

func (w websocketInteractor) wsClose() {
	w.ws.Close()
}

// wsDiscardMessage reads the next frame and throws its payload away
// without buffering it, so frame size never matters.
func (w websocketInteractor) wsDiscardMessage() (int, error) {
	messageType, r, err := w.ws.NextReader()
	if err != nil {
		return messageType, err
	}
	_, err = io.Copy(io.Discard, r)
	return messageType, err
}

func (w websocketInteractor) wsSetWriteDeadline() {
	w.ws.SetWriteDeadline(time.Now().Add(writeWait))
}

func (w websocketInteractor) wsWriteMessage(messageType int, payload []byte) error {
	return w.ws.WriteMessage(messageType, payload)
}

// WriteControl may run concurrently with WriteMessage.
func (w websocketInteractor) wsPing() error {
	return w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w websocketInteractor) wsWriteClose() error {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	return w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (w websocketInteractor) wsRemoteAddr() string {
	return w.ws.RemoteAddr().String()
}
