// Package conn implements the Connection Manager (§4.L): the WebSocket
// session registry bridging player accounts to live network connections.
//
// Grounded on other_examples' 1kaius1-MUD-Engine cmd/server/main.go
// read/write pump pair and on the teacher's internal/net/session.go
// InQueue/OutQueue channel architecture — generalised from the teacher's
// raw-TCP framing to gorilla/websocket text frames carrying the closed
// message envelopes below.
package conn

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ServerMessageKind is the closed set of server->client envelope kinds.
type ServerMessageKind string

const (
	Welcome ServerMessageKind = "welcome"
	Output  ServerMessageKind = "output"
	Room    ServerMessageKind = "room"
	ErrMsg  ServerMessageKind = "error"
	Echo    ServerMessageKind = "echo"
)

// ServerMessage is the envelope written to a session's outbound channel.
type ServerMessage struct {
	Kind ServerMessageKind `json:"kind"`
	Text string            `json:"text,omitempty"`
	Data any               `json:"data,omitempty"`
}

// ClientMessageKind is the closed set of client->server envelope kinds.
type ClientMessageKind string

const (
	Command ClientMessageKind = "command"
	Ping    ClientMessageKind = "ping"
)

// ClientMessage is the envelope read off a session's socket.
type ClientMessage struct {
	Kind ClientMessageKind `json:"kind"`
	Text string            `json:"text,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 8192
)

// Session is one live connection, bound to a player object id after login.
type Session struct {
	PlayerID string
	conn     *websocket.Conn
	send     chan ServerMessage
	log      *zap.Logger
	closed   chan struct{}
	closeOnce sync.Once
}

func newSession(playerID string, wsConn *websocket.Conn, sendQueueCap int, log *zap.Logger) *Session {
	return &Session{
		PlayerID: playerID,
		conn:     wsConn,
		send:     make(chan ServerMessage, sendQueueCap),
		log:      log,
		closed:   make(chan struct{}),
	}
}

// Send enqueues msg for delivery, closing this session (disconnecting the
// slow client) if its bounded queue is full rather than blocking the caller —
// a slow client must not stall the dispatcher that serves everyone else.
func (s *Session) Send(msg ServerMessage) {
	select {
	case s.send <- msg:
	default:
		s.log.Warn("session send queue full, disconnecting", zap.String("player_id", s.PlayerID))
		s.Close()
	}
}

// Done returns a channel closed when the session ends, so callers can run
// cleanup (e.g. starting a player's disconnect grace window) without the
// Connection Manager itself needing to know about player lifecycle.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// writePump drains the send channel onto the socket and emits periodic
// pings, matching the teacher's writeLoop shape.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

// readPump reads client frames and forwards decoded commands to onCommand
// until the socket closes, matching the teacher's readLoop shape.
func (s *Session) readPump(onCommand func(playerID, text string)) {
	defer s.Close()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.Send(ServerMessage{Kind: ErrMsg, Text: "malformed message"})
			continue
		}
		switch msg.Kind {
		case Command:
			onCommand(s.PlayerID, msg.Text)
		case Ping:
			// pongs are handled transport-side; an application-level ping is a no-op keepalive.
		}
	}
}

// Manager is the live session registry: playerID -> Session.
type Manager struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	sendQueueCap int
	log          *zap.Logger
}

func NewManager(sendQueueCap int, log *zap.Logger) *Manager {
	return &Manager{sessions: make(map[string]*Session), sendQueueCap: sendQueueCap, log: log}
}

// Register binds wsConn to playerID, starting its read/write pumps, and
// returns the new Session. Any previous session for playerID is closed
// first (a reconnect displaces the stale connection).
func (m *Manager) Register(playerID string, wsConn *websocket.Conn, onCommand func(playerID, text string)) *Session {
	m.mu.Lock()
	if old, ok := m.sessions[playerID]; ok {
		old.Close()
	}
	s := newSession(playerID, wsConn, m.sendQueueCap, m.log)
	m.sessions[playerID] = s
	m.mu.Unlock()

	go s.writePump()
	go s.readPump(onCommand)
	return s
}

// Unregister removes playerID's session from the registry if it is still
// the current one for that player (a session replaced by a reconnect must
// not unregister the new one when the old socket's readPump unwinds).
func (m *Manager) Unregister(playerID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[playerID]; ok && cur == s {
		delete(m.sessions, playerID)
	}
}

func (m *Manager) Get(playerID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[playerID]
	return s, ok
}

// SendToPlayer delivers msg to playerID's session, if connected.
func (m *Manager) SendToPlayer(playerID string, msg ServerMessage) {
	if s, ok := m.Get(playerID); ok {
		s.Send(msg)
	}
}

// BroadcastRoom delivers msg to every connected player whose id is in
// occupantIDs, skipping the excluded id (typically the actor, who gets
// their own echo separately).
func (m *Manager) BroadcastRoom(occupantIDs []string, excludeID string, msg ServerMessage) {
	for _, id := range occupantIDs {
		if id == excludeID {
			continue
		}
		m.SendToPlayer(id, msg)
	}
}

// BroadcastRegion delivers msg to every connected player among
// occupantIDs across an entire region (the caller pre-computes the
// membership; the Connection Manager itself holds no room/region topology).
func (m *Manager) BroadcastRegion(occupantIDs []string, msg ServerMessage) {
	for _, id := range occupantIDs {
		m.SendToPlayer(id, msg)
	}
}

// Connected reports whether playerID currently has a live session.
func (m *Manager) Connected(playerID string) bool {
	_, ok := m.Get(playerID)
	return ok
}

// Count returns the number of live sessions, used by the /health endpoint.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
