package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardroom/go/internal/auth"
	"github.com/mcdev12/cardroom/go/internal/blocks"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/presence"
	"github.com/mcdev12/cardroom/go/internal/rematch"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *session.Store
	coord    *rematch.Coordinator
	registry *blocks.MemoryRegistry
	verifier *auth.JWTVerifier
	service  *Service
	conns    *ConnectionManager
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := session.NewStore(session.DefaultConfig(), nil, clock)
	registry := blocks.NewMemoryRegistry()
	coord := rematch.NewCoordinator(store, registry, clock, rematch.DefaultConfig())
	store.SetReferenceChecker(coord)
	tracker := presence.NewTracker(store, clock, presence.DefaultConfig())
	verifier := auth.NewJWTVerifier(auth.Config{
		Secret:   "test-secret",
		Issuer:   "cardroom",
		Audience: "cardroom-clients",
	}, nil, nil)

	svc := NewService(store, coord, tracker, verifier)
	cm := NewConnectionManager(DefaultConnectionConfig(), svc)
	sub := store.Subscribe(cm)
	coord.AddListener(cm)

	server := httptest.NewServer(NewRouter(NewHTTPHandler(svc, store, cm), NewWebSocketHandler(svc, cm)))
	t.Cleanup(func() {
		cm.Shutdown()
		server.Close()
		sub.Close()
		store.Close()
	})

	return &testEnv{
		store:    store,
		coord:    coord,
		registry: registry,
		verifier: verifier,
		service:  svc,
		conns:    cm,
		server:   server,
	}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.verifier.Sign(userID, "session-"+userID)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) room(t *testing.T, ids ...string) models.Snapshot {
	t.Helper()
	snap, err := e.store.CreateRoom(context.Background(), session.CreateRoomRequest{ParticipantIDs: ids})
	require.NoError(t, err)
	return snap
}

func (e *testEnv) request(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) dial(t *testing.T, roomID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/rooms/" + roomID + "?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn) ServerEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev ServerEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// readUntil returns every frame up to and including the first that matches.
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerEvent) bool) []ServerEvent {
	t.Helper()
	var seen []ServerEvent
	for {
		ev := readEvent(t, conn)
		seen = append(seen, ev)
		if match(ev) {
			return seen
		}
	}
}
