package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"fablecast/server/internal/engine"
	"fablecast/server/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev posture; front an auth proxy in production
	},
}

// ServeWS upgrades a connection and attaches it to the session named in
// the query string. Frames published for that session stream out;
// inbound frames are parsed as player inputs.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Web] Upgrade failed: %v", err)
		return
	}

	client := &Client{
		ID:        newClientID(),
		SessionID: sessionID,
		PlayerID:  r.URL.Query().Get("player_id"),
		Conn:      conn,
		Send:      make(chan []byte, 64),
		Hub:       h.hub,
	}
	h.hub.register <- client
	go client.readPump()
}

// PumpInputs drains a channel adapter's input stream into the engine
// until the context ends. Each input runs on its own goroutine so one
// slow generation never stalls the stream; per-session ordering is the
// engine's lock's job.
func PumpInputs(ctx context.Context, adapter interfaces.ChannelAdapter, eng *engine.Engine) {
	inputs, err := adapter.Receive(ctx)
	if err != nil {
		log.Printf("[Web] Adapter %s has no input stream: %v", adapter.Name(), err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case input, ok := <-inputs:
			if !ok {
				return
			}
			go func(in interfaces.PlayerInput) {
				if _, err := eng.ProcessInput(ctx, in); err != nil {
					log.Printf("[Web] Input for session %s failed: %v", in.SessionID, err)
				}
			}(input)
		}
	}
}

func newClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "client-unknown"
	}
	return hex.EncodeToString(b)
}
