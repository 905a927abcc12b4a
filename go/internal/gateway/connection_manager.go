package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/cardroom/go/internal/models"
	"github.com/mcdev12/cardroom/go/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// ConnectionManager manages WebSocket connections per room and fans out room changes.
type ConnectionManager struct {
	// Connection pools organized by room ID
	roomConnections map[uuid.UUID]map[*Connection]struct{}
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	service  *Service
}

// Connection is one client socket bound to one room.
type Connection struct {
	ID          string
	UserID      string
	RoomID      uuid.UUID
	ConnectedAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager

	// mu orders snapshot delivery: lastVersion only moves forward.
	mu          sync.Mutex
	lastVersion int64

	closed    chan struct{}
	closeOnce sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	RequestTimeout  time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	// SendBuffer is the per-connection queue length. A full queue closes the connection.
	SendBuffer  int
	CheckOrigin func(r *http.Request) bool
}

// ConnectionStats is a point-in-time count of open sockets.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		RequestTimeout:  5 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, service *Service) *ConnectionManager {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultConnectionConfig().PingInterval
	}
	if config.ReadTimeout <= config.PingInterval {
		config.ReadTimeout = 2 * config.PingInterval
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConnectionConfig().RequestTimeout
	}
	return &ConnectionManager{
		roomConnections: make(map[uuid.UUID]map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		service: service,
	}
}

// Attach upgrades the request for an authenticated member of roomID. The first frame
// written is the member's current snapshot.
func (cm *ConnectionManager) Attach(w http.ResponseWriter, r *http.Request, userID string, roomID uuid.UUID) error {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		RoomID:      roomID,
		ConnectedAt: time.Now(),
		conn:        ws,
		send:        make(chan []byte, cm.config.SendBuffer),
		manager:     cm,
		lastVersion: -1,
		closed:      make(chan struct{}),
	}

	// Registration and the resync frame happen under c.mu so no broadcast can slip in
	// ahead of the resync.
	c.mu.Lock()
	cm.registerConnection(c)
	err = c.sendCurrentLocked("")
	c.mu.Unlock()
	if err != nil {
		c.Close()
		return fmt.Errorf("failed to send resync snapshot: %w", err)
	}

	cm.service.presence.Connect(context.Background(), roomID, userID)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", userID).
		Str("room_id", roomID.String()).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[c.RoomID] == nil {
		cm.roomConnections[c.RoomID] = make(map[*Connection]struct{})
	}
	cm.roomConnections[c.RoomID][c] = struct{}{}

	log.Debug().
		Str("connection_id", c.ID).
		Str("room_id", c.RoomID.String()).
		Int("total_connections", len(cm.roomConnections[c.RoomID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, ok := cm.roomConnections[c.RoomID]
	if !ok {
		return
	}
	if _, ok := connections[c]; !ok {
		return
	}
	delete(connections, c)
	if len(connections) == 0 {
		delete(cm.roomConnections, c.RoomID)
	}

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Str("room_id", c.RoomID.String()).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) connectionsFor(roomID uuid.UUID) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	connections := cm.roomConnections[roomID]
	out := make([]*Connection, 0, len(connections))
	for c := range connections {
		out = append(out, c)
	}
	return out
}

// OnRoomChange implements session.Observer. It runs on the room's goroutine, so every
// delivery is a non-blocking enqueue.
func (cm *ConnectionManager) OnRoomChange(change session.Change) {
	roomID := change.Snapshot.RoomID
	targets := cm.connectionsFor(roomID)
	if len(targets) == 0 {
		return
	}

	if change.Kind == models.ChangeRemoved {
		for _, c := range targets {
			c.Close()
		}
		return
	}

	data, err := encodeEvent(snapshotEvent(change.Snapshot, ""))
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to marshal snapshot for broadcast")
		return
	}
	for _, c := range targets {
		c.deliverSnapshot(change.Snapshot.Version, data)
	}

	log.Debug().
		Str("event_type", string(change.Kind)).
		Str("room_id", roomID.String()).
		Int64("version", change.Snapshot.Version).
		Int("connections", len(targets)).
		Msg("snapshot broadcasted")
}

// OnInvitationChange implements rematch.Listener. Invitations go to the sender and
// invitees still connected to the source room.
func (cm *ConnectionManager) OnInvitationChange(inv models.Invitation) {
	targets := cm.connectionsFor(inv.RoomID)
	if len(targets) == 0 {
		return
	}

	involved := append(inv.ToUserIDs(), inv.FromUserID)

	data, err := encodeEvent(invitationEvent(inv))
	if err != nil {
		log.Error().Err(err).Str("invitation_id", inv.ID.String()).Msg("failed to marshal invitation event")
		return
	}
	for _, c := range targets {
		if lo.Contains(involved, c.UserID) {
			c.enqueue(data)
		}
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveRooms:     len(cm.roomConnections),
		RoomConnections: make(map[string]int, len(cm.roomConnections)),
	}
	for roomID, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[roomID.String()] = len(connections)
	}
	return stats
}

// Shutdown closes every open connection.
func (cm *ConnectionManager) Shutdown() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.roomConnections {
		for c := range connections {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range all {
		c.Close()
	}
	log.Info().Int("connections", len(all)).Msg("connection manager shut down")
}

// Close tears the connection down. Safe to call more than once and from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.manager.unregisterConnection(c)
		c.conn.Close()
	})
}

// enqueue hands data to the write pump without blocking. A full queue means the
// client cannot keep up; it is disconnected and expected to reconnect and resync.
func (c *Connection) enqueue(data []byte) {
	select {
	case <-c.closed:
		return
	default:
	}

	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Str("room_id", c.RoomID.String()).
			Msg("connection send buffer full, closing connection")
		c.Close()
	}
}

func (c *Connection) deliverSnapshot(version int64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if version < c.lastVersion {
		return
	}
	c.lastVersion = version
	c.enqueue(data)
}

// sendCurrentLocked enqueues the latest snapshot. The caller holds c.mu, so the
// snapshot is at least as new as anything already delivered.
func (c *Connection) sendCurrentLocked(requestID string) error {
	snap, err := c.manager.service.member(c.RoomID, c.UserID)
	if err != nil {
		return err
	}
	data, err := encodeEvent(snapshotEvent(snap, requestID))
	if err != nil {
		return err
	}
	c.lastVersion = snap.Version
	c.enqueue(data)
	return nil
}

func (c *Connection) reply(ev *ServerEvent) {
	data, err := encodeEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal reply")
		return
	}
	c.enqueue(data)
}

// writePump is the only writer on the socket.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if message == nil {
				// Queued after a final reply: close once everything before it is written.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "left room"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles client frames until the socket fails, then reports the disconnect.
func (c *Connection) readPump() {
	defer func() {
		c.Close()
		c.manager.service.presence.Disconnect(context.Background(), c.RoomID, c.UserID)
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))

		c.handleClientMessage(message)
	}
}

// handleClientMessage dispatches one client frame. Replies go only to this connection.
func (c *Connection) handleClientMessage(message []byte) {
	svc := c.manager.service
	roomID := c.RoomID.String()

	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(errorEvent(roomID, "", fmt.Errorf("%w: %v", ErrBadRequest, err)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.manager.config.RequestTimeout)
	defer cancel()

	switch msg.Type {
	case ClientMessageAction:
		if msg.Action == nil {
			c.reply(errorEvent(roomID, msg.RequestID, fmt.Errorf("%w: action is required", ErrBadRequest)))
			return
		}
		snap, err := svc.submit(ctx, c.RoomID, c.UserID, msg.ExpectedVersion, *msg.Action)
		if err != nil {
			c.reply(errorEvent(roomID, msg.RequestID, err))
			return
		}
		c.reply(ackEvent(roomID, msg.RequestID, snap.Version))

	case ClientMessageActivity:
		if err := svc.activity(ctx, c.RoomID, c.UserID, msg.Hint); err != nil {
			c.reply(errorEvent(roomID, msg.RequestID, err))
			return
		}
		c.reply(ackEvent(roomID, msg.RequestID, c.currentVersion()))

	case ClientMessageResync:
		svc.presence.Activity(ctx, c.RoomID, c.UserID)
		c.mu.Lock()
		err := c.sendCurrentLocked(msg.RequestID)
		c.mu.Unlock()
		if err != nil {
			c.reply(errorEvent(roomID, msg.RequestID, err))
		}

	case ClientMessageLeave:
		snap, err := svc.store.Leave(ctx, c.RoomID, c.UserID)
		if err != nil {
			c.reply(errorEvent(roomID, msg.RequestID, err))
			return
		}
		c.reply(ackEvent(roomID, msg.RequestID, snap.Version))
		c.enqueue(nil)

	default:
		c.reply(errorEvent(roomID, msg.RequestID, fmt.Errorf("%w: unknown message type %q", ErrBadRequest, msg.Type)))
	}
}

func (c *Connection) currentVersion() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastVersion
}
