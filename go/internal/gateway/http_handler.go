package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/presence"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const ctxKeyToken ctxKey = "token"

// StatsProvider reports room counts for the stats endpoint.
type StatsProvider interface {
	Stats() session.Stats
}

// HTTPHandler exposes Service over JSON/HTTP.
type HTTPHandler struct {
	service *Service
	rooms   StatsProvider
	conns   *ConnectionManager
}

func NewHTTPHandler(service *Service, rooms StatsProvider, conns *ConnectionManager) *HTTPHandler {
	return &HTTPHandler{service: service, rooms: rooms, conns: conns}
}

type versionRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

type actionRequest struct {
	ExpectedVersion int64         `json:"expected_version"`
	Action          models.Action `json:"action"`
}

type activityRequest struct {
	Hint presence.Hint `json:"hint"`
}

type endRequest struct {
	Reason string `json:"reason"`
}

type acceptResponse struct {
	Invitation models.Invitation `json:"invitation"`
	Room       models.Snapshot   `json:"room"`
}

type statsResponse struct {
	Rooms       session.Stats   `json:"rooms"`
	Connections ConnectionStats `json:"connections"`
}

// NewRouter mounts the HTTP API and the room socket endpoint.
func NewRouter(h *HTTPHandler, ws *WebSocketHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Get("/ws/rooms/{id}", ws.HandleRoomConnection)

	r.Route("/api", func(api chi.Router) {
		api.Use(bearerToken)
		api.Get("/stats", h.Stats)

		api.Route("/rooms", func(rooms chi.Router) {
			rooms.Post("/", h.CreateRoom)
			rooms.Route("/{id}", func(room chi.Router) {
				room.Get("/state", h.GetState)
				room.Post("/join", h.Join)
				room.Post("/leave", h.Leave)
				room.Post("/start", h.Start)
				room.Post("/actions", h.SubmitAction)
				room.Post("/activity", h.Activity)
				room.Post("/end", h.End)
				room.Post("/rematch", h.Invite)
			})
		})

		api.Route("/invitations/{id}", func(inv chi.Router) {
			inv.Get("/", h.GetInvitation)
			inv.Post("/accept", h.AcceptInvitation)
			inv.Post("/decline", h.DeclineInvitation)
			inv.Post("/block", h.BlockRematch)
		})
	})
	return r
}

// bearerToken stores the Authorization bearer token in the request context. Validation
// happens in Service.
func bearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		ctx := context.WithValue(r.Context(), ctxKeyToken, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyToken).(string); ok {
		return v
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp, status := NewErrorResponse(err)
	resp.RequestID = middleware.GetReqID(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", resp.RequestID).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", ErrBadRequest)
	}
	return id, nil
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid json: %v", ErrBadRequest, err)
	}
	return nil
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

// Stats handles GET /api/stats.
func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Authenticate(r.Context(), tokenFromCtx(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Rooms:       h.rooms.Stats(),
		Connections: h.conns.GetConnectionStats(),
	})
}

// CreateRoom handles POST /api/rooms.
func (h *HTTPHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.service.CreateRoom(r.Context(), tokenFromCtx(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// GetState handles GET /api/rooms/{id}/state, the HTTP resync.
func (h *HTTPHandler) GetState(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.service.Resync(r.Context(), tokenFromCtx(r.Context()), roomID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *HTTPHandler) Join(w http.ResponseWriter, r *http.Request) {
	h.roomCall(w, r, func(ctx context.Context, token string, roomID uuid.UUID) (models.Snapshot, error) {
		return h.service.Join(ctx, token, roomID)
	})
}

func (h *HTTPHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.roomCall(w, r, func(ctx context.Context, token string, roomID uuid.UUID) (models.Snapshot, error) {
		return h.service.Leave(ctx, token, roomID)
	})
}

func (h *HTTPHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.roomCall(w, r, func(ctx context.Context, token string, roomID uuid.UUID) (models.Snapshot, error) {
		return h.service.Start(ctx, token, roomID, req.ExpectedVersion)
	})
}

// SubmitAction handles POST /api/rooms/{id}/actions.
func (h *HTTPHandler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.roomCall(w, r, func(ctx context.Context, token string, roomID uuid.UUID) (models.Snapshot, error) {
		return h.service.SubmitAction(ctx, token, roomID, req.ExpectedVersion, req.Action)
	})
}

func (h *HTTPHandler) Activity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	roomID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.service.Activity(r.Context(), tokenFromCtx(r.Context()), roomID, req.Hint); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) End(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.roomCall(w, r, func(ctx context.Context, token string, roomID uuid.UUID) (models.Snapshot, error) {
		return h.service.End(ctx, token, roomID, req.Reason)
	})
}

// Invite handles POST /api/rooms/{id}/rematch.
func (h *HTTPHandler) Invite(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := h.service.Invite(r.Context(), tokenFromCtx(r.Context()), roomID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *HTTPHandler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	h.invitationCall(w, r, h.service.GetInvitation)
}

func (h *HTTPHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	invitationID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, snap, err := h.service.AcceptInvitation(r.Context(), tokenFromCtx(r.Context()), invitationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{Invitation: inv, Room: snap})
}

func (h *HTTPHandler) DeclineInvitation(w http.ResponseWriter, r *http.Request) {
	h.invitationCall(w, r, h.service.DeclineInvitation)
}

func (h *HTTPHandler) BlockRematch(w http.ResponseWriter, r *http.Request) {
	h.invitationCall(w, r, h.service.BlockRematch)
}

func (h *HTTPHandler) roomCall(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, token string, roomID uuid.UUID) (models.Snapshot, error)) {
	roomID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := call(r.Context(), tokenFromCtx(r.Context()), roomID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *HTTPHandler) invitationCall(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, token string, invitationID uuid.UUID) (models.Invitation, error)) {
	invitationID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := call(r.Context(), tokenFromCtx(r.Context()), invitationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
