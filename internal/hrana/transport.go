package hrana

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/siddontang/loggers"
)

// upgrader accepts any origin: this core has no notion of browser-facing
// CORS policy, matching spec.md's scope (the wire protocol, not a public
// HTTP API gateway).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewHandler returns an http.Handler serving the Hrana protocol over
// websocket at whatever path the caller mounts it.
func NewHandler(newSession func() *Session, logger loggers.Advanced) http.Handler {
	return &wsHandler{newSession: newSession, logger: logger}
}

type wsHandler struct {
	newSession func() *Session
	logger     loggers.Advanced
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("hrana: websocket upgrade failed: %v", err)
		}
		return
	}
	defer conn.Close()

	session := h.newSession()
	defer session.Close()

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		resp, err := session.Handle(ctx, raw)
		if err != nil {
			if h.logger != nil {
				h.logger.Errorf("hrana: %v", err)
			}
			continue
		}
		if resp == nil {
			continue
		}
		if err := writeJSON(ctx, conn, resp); err != nil {
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v *ServerMessage) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
