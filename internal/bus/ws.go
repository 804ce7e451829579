package bus

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// WSConnection adapts a gorilla websocket to the bus. The write mutex
// serializes replay and broadcast writes; gorilla connections allow only
// one concurrent writer.
type WSConnection struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return &WSConnection{conn: conn}
}

func (w *WSConnection) Send(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(msg)
}

func (w *WSConnection) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}

// ReadLoop pumps inbound messages into the session until the peer closes.
// Inbound payloads are rebroadcast to the whole session, sender included.
func (w *WSConnection) ReadLoop(m *Manager, sessionID string) {
	defer m.Unregister(sessionID, w)
	for {
		var msg Message
		if err := w.conn.ReadJSON(&msg); err != nil {
			return
		}
		m.Broadcast(sessionID, msg)
	}
}
