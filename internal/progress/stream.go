package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Streams are authorized by bearer token, never by cookie.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeSSE writes events for s as a text/event-stream until the client
// goes away or s is unsubscribed. The caller unsubscribes s afterwards.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, s *Subscriber) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event := <-s.Outbound:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.WithError(err).Warn("Failed to marshal progress event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ServeWS upgrades the connection and writes events for s as JSON text
// frames. Inbound frames are discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, s *Subscriber) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}
	defer conn.Close()

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-closed:
			return nil
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return nil
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		case event := <-s.Outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return fmt.Errorf("websocket write failed: %w", err)
			}
		}
	}
}
