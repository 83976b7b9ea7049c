package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"mileage/internal/events"
	"mileage/internal/model"
)

// TrackingEventsStreamHandler handles GET /v1/tracking/events/stream (SSE)
func (s *Server) TrackingEventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(events.TopicTracking)
	defer s.Broker.Unsubscribe(events.TopicTracking, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"ts\":\"%s\"}\n\n", time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage frames every WebSocket message in both directions.
// Inbound: fix, ping. Outbound: ack, error, event, pong.
type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TrackingWSHandler handles /v1/tracking/ws: inbound fixes, outbound tracking events.
func (s *Server) TrackingWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(m wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(m)
	}
	send := func(typ, id string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return write(wsMessage{Type: typ, ID: id, Payload: b})
	}

	ch := s.Broker.Subscribe(events.TopicTracking)
	done := make(chan struct{})
	defer func() {
		close(done)
		s.Broker.Unsubscribe(events.TopicTracking, ch)
	}()
	go func() {
		ping := time.NewTicker(20 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := send("event", "", evt); err != nil {
					return
				}
			case <-ping.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Debug().Err(err).Msg("tracking ws closed")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong", ID: msg.ID})
		case "fix":
			var fix model.TimedFix
			if err := json.Unmarshal(msg.Payload, &fix); err != nil {
				_ = send("error", msg.ID, map[string]string{"message": "invalid fix: " + err.Error()})
				continue
			}
			if !s.fixLimiter.Allow() {
				_ = send("error", msg.ID, map[string]string{"message": "fix rate limit exceeded"})
				continue
			}
			if _, err := s.submitFixes(r.Context(), []model.TimedFix{fix}); err != nil {
				_ = send("error", msg.ID, map[string]string{"message": err.Error()})
				continue
			}
			_ = send("ack", msg.ID, map[string]int{"queued": 1})
		default:
			_ = send("error", msg.ID, map[string]string{"message": "unknown message type " + msg.Type})
		}
	}
}
