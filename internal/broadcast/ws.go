package broadcast

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
)

// Handler upgrades requests to WebSocket connections and streams every hub
// event to them as JSON text frames. Inbound frames are read only to notice
// the peer going away.
type Handler struct {
	Hub *Hub

	// CheckOrigin decides whether a cross-origin upgrade is allowed. Nil
	// accepts same-origin requests only.
	CheckOrigin func(r *http.Request) bool

	// PingPeriod overrides the keepalive interval, mainly for tests.
	PingPeriod time.Duration
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.CheckOrigin,
	}
	// Subscribe before the handshake completes so a viewer that fetches a
	// snapshot after connecting cannot miss an event in between.
	sub := h.Hub.Subscribe()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.Hub.Unsubscribe(sub)
		slog.Debug("websocket upgrade failed", "err", err)
		return
	}

	slog.Debug("viewer connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readUntilClosed(conn)
	}()

	h.writeLoop(conn, sub, done)

	h.Hub.Unsubscribe(sub)
	conn.Close()
	<-done
	slog.Debug("viewer disconnected", "remote", r.RemoteAddr, "dropped", sub.Dropped())
}

func readUntilClosed(conn *websocket.Conn) {
	conn.SetReadLimit(maxInboundSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sub *Subscriber, done <-chan struct{}) {
	period := h.PingPeriod
	if period <= 0 {
		period = pingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
