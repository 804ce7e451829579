package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"riskcore/internal/logger"
)

// Message is one broadcast payload within a session.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Sender    string         `json:"sender,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Connection is one subscriber endpoint. Send must be safe for concurrent
// callers; a Send error marks the connection dead.
type Connection interface {
	Send(msg Message) error
	Close() error
}

type session struct {
	conns   map[Connection]struct{}
	history []Message
}

// Manager fans messages out to every connection in a session and replays
// recent history to late joiners. A connection that fails a send is dropped
// from its session alone; the broadcast continues to the rest.
type Manager struct {
	historyLimit int

	mu       sync.Mutex
	sessions map[string]*session
	nowFn    func() time.Time
}

func NewManager(historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Manager{
		historyLimit: historyLimit,
		sessions:     make(map[string]*session),
		nowFn:        time.Now,
	}
}

// Register joins a connection to a session and replays the retained
// history to it, oldest first. A replay failure closes the connection
// without registering it.
func (m *Manager) Register(sessionID string, conn Connection) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &session{conns: make(map[Connection]struct{})}
		m.sessions[sessionID] = s
	}
	replay := make([]Message, len(s.history))
	copy(replay, s.history)
	s.conns[conn] = struct{}{}
	m.mu.Unlock()

	for _, msg := range replay {
		if err := m.send(sessionID, conn, msg); err != nil {
			return err
		}
	}
	logger.Infof("Bus: connection joined session %s (replayed %d messages)", sessionID, len(replay))
	return nil
}

// Unregister drops a connection from a session and closes it. The session
// itself is garbage collected once its last connection leaves; history goes
// with it.
func (m *Manager) Unregister(sessionID string, conn Connection) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(s.conns, conn)
		if len(s.conns) == 0 {
			delete(m.sessions, sessionID)
		}
	}
	m.mu.Unlock()
	if err := conn.Close(); err != nil {
		logger.Debugf("Bus: close connection in session %s: %v", sessionID, err)
	}
}

// Broadcast appends to the session history and delivers to every current
// member. A session only exists while it has members, so a message for an
// unknown session id is dropped; unretained publish-only ids cannot
// accumulate history.
func (m *Manager) Broadcast(sessionID string, msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.nowFn().UTC()
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		logger.Debugf("Bus: dropping message for session %s with no members", sessionID)
		return
	}
	s.history = append(s.history, msg)
	if overflow := len(s.history) - m.historyLimit; overflow > 0 {
		s.history = append([]Message(nil), s.history[overflow:]...)
	}
	conns := make([]Connection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		if err := m.send(sessionID, conn, msg); err != nil {
			logger.Warnf("Bus: dropping dead connection from session %s: %v", sessionID, err)
		}
	}
}

// History returns a copy of the retained messages for a session.
func (m *Manager) History(sessionID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// SessionCount reports how many sessions currently have members.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) send(sessionID string, conn Connection, msg Message) error {
	err := conn.Send(msg)
	if err != nil {
		m.Unregister(sessionID, conn)
	}
	return err
}
