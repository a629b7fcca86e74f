package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleEvents streams every session snapshot to a websocket client until
// the client goes away or the coordinator closes.
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	logger := h.logger.With(slog.String("client_id", clientID))
	logger.Debug("Event stream client connected", slog.String("remote_addr", r.RemoteAddr))

	snapshots, unsubscribe := h.deps.Controller.Subscribe()
	defer unsubscribe()

	var writeMu sync.Mutex
	write := func(messageType int, v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if messageType == websocket.PingMessage {
			return conn.WriteMessage(websocket.PingMessage, nil)
		}
		return conn.WriteJSON(v)
	}

	// The read loop only serves control frames and notices disconnects
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snapshot, ok := <-snapshots:
			if !ok {
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				writeMu.Unlock()
				return
			}
			if err := write(websocket.TextMessage, snapshot); err != nil {
				logger.Debug("Event stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			logger.Debug("Event stream client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}
