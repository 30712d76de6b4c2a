package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/auth"
	"github.com/vasiliy-maslov/food-delivery/internal/channel"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Handler upgrades authenticated requests to websocket connections attached
// to the hub. It must sit behind auth.Authenticator.Middleware.
type Handler struct {
	hub        *Hub
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewHandler(hub *Hub, sendBuffer int, allowedOrigins []string) *Handler {
	return &Handler{
		hub:        hub,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("realtime: upgrade failed")
		return
	}

	connID := uuid.Must(uuid.NewV4()).String()
	send, err := h.hub.Attach(connID, h.sendBuffer)
	if err != nil {
		log.Error().Err(err).Str("conn_id", connID).Msg("realtime: attach failed")
		_ = ws.Close()
		return
	}

	for _, key := range JoinDefaults(actor) {
		_ = h.hub.Join(connID, key)
	}
	log.Info().Str("conn_id", connID).Stringer("user_id", actor.ID).Stringer("role", actor.Role).Msg("realtime: connection attached")

	go writePump(ws, send)
	h.readPump(ws, connID, actor)
}

// readPump owns the read side of ws. It detaches the connection on return,
// which closes send and stops the write pump.
func (h *Handler) readPump(ws *websocket.Conn, connID string, actor auth.Actor) {
	defer func() {
		h.hub.Detach(connID)
		log.Info().Str("conn_id", connID).Msg("realtime: connection detached")
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn_id", connID).Msg("realtime: read failed")
			}
			return
		}
		h.handleMessage(connID, actor, raw)
	}
}

func (h *Handler) handleMessage(connID string, actor auth.Actor, raw []byte) {
	reply := ServerMessage{}

	msg, err := decodeClientMessage(raw)
	if err == nil {
		reply.Type = msg.Type
		var keys []channel.Key
		keys, err = Resolve(actor, msg)
		for _, key := range keys {
			if err = h.hub.Join(connID, key); err != nil {
				break
			}
		}
	}
	if err != nil {
		reply.Type = "error"
		reply.Error = err.Error()
	} else {
		reply.Channels = h.hub.Channels(connID)
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := h.hub.Send(connID, payload); err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Msg("realtime: failed to acknowledge message")
	}
}

func writePump(ws *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case payload, ok := <-send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
