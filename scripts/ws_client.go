// Package main drives a running server over its WebSocket: it starts a trip,
// streams the fixes of a recorded drive, stops the trip and prints every event.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mileage/internal/fixture"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(base, path string, body any) {
	b, _ := json.Marshal(body)
	resp, err := http.Post(base+path, "application/json", bytes.NewReader(b))
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	out, _ := io.ReadAll(resp.Body)
	log.Info().Str("path", path).Int("status", resp.StatusCode).Str("body", string(bytes.TrimSpace(out))).Msg("HTTP")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if len(os.Args) != 2 {
		log.Fatal().Msg("usage: ws_client <drive.yaml>")
	}
	drive, err := fixture.Load(os.Args[1])
	if err != nil {
		log.Fatal().Err(err).Msg("load drive")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/tracking/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Debug().Err(err).Msg("read")
				return
			}
			log.Info().Str("type", m.Type).Str("id", m.ID).Str("payload", string(m.Payload)).Msg("WS <-")
		}
	}()

	post(base, "/v1/tracking/start", map[string]string{"category": drive.Category})
	for i, f := range drive.Fixes {
		pl, _ := json.Marshal(f)
		if err := c.WriteJSON(wsMessage{Type: "fix", ID: fmt.Sprintf("fix-%d", i), Payload: pl}); err != nil {
			log.Fatal().Err(err).Msg("write fix")
		}
		time.Sleep(100 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)
	post(base, "/v1/tracking/stop", nil)

	// Wait briefly to receive the final events
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
