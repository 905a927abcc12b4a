package gateway

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles room socket upgrades.
type WebSocketHandler struct {
	service           *Service
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(service *Service, cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		service:           service,
		connectionManager: cm,
	}
}

// HandleRoomConnection handles GET /ws/rooms/{id}. The handshake doubles as a join for
// waiting rooms and as a reconnect for existing members. Failures are answered over
// plain HTTP before any upgrade.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token := r.URL.Query().Get("access_token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	userID, err := h.service.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.service.store.Join(r.Context(), roomID, userID); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.connectionManager.Attach(w, r, userID, roomID); err != nil {
		// The upgrader has already answered the client.
		log.Error().
			Err(err).
			Str("room_id", roomID.String()).
			Str("user_id", userID).
			Msg("failed to attach WebSocket connection")
	}
}
