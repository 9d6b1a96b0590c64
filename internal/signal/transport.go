package signal

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Transport is the server side of one signaling connection. Implementations
// must be safe for concurrent Send calls: responses, relayed candidates, and
// teardown notifications all originate from different goroutines.
type Transport interface {
	Send(msg Message) error
	Close() error
}

// wsTransport wraps a gorilla connection, serializing writes with a mutex.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// Send writes a signaling message to the WebSocket, guarded by a mutex.
func (t *wsTransport) Send(msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(msg)
}

// Close shuts the underlying connection down, unblocking the read loop.
func (t *wsTransport) Close() error {
	return t.conn.Close()
}
