package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSListener accepts WebSocket upgrades on an http.Server and hands each
// one off as a Conn. It is driven by an external http.Server calling its
// ServeHTTP-compatible handler; Accept blocks until a connection from
// that handler is available.
type WSListener struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	pending chan *wsConn
	closed  bool
}

// NewWSListener creates a listener whose Handler should be registered on
// an http.ServeMux for the desired path.
func NewWSListener() *WSListener {
	return &WSListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pending: make(chan *wsConn, 64),
	}
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// queues them for Accept.
func (l *WSListener) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc := newWSConn(conn)

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		wc.Close()
		return
	}
	l.pending <- wc
}

func (l *WSListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case wc, ok := <-l.pending:
		if !ok {
			return nil, fmt.Errorf("transport: ws listener closed")
		}
		return wc, nil
	}
}

func (l *WSListener) Close() error {
	l.mu.Lock()
	l.closed = true
	close(l.pending)
	l.mu.Unlock()
	return nil
}

// WSDialer opens outbound WebSocket connections.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: ws dial %s: %w", addr, err)
	}
	return newWSConn(conn), nil
}

// wsConn frames each payload as a single WS binary message; WebSocket's
// own message framing makes the length prefix tcpConn needs unnecessary.
type wsConn struct {
	conn *websocket.Conn

	sendMu sync.Mutex
	recvCh chan []byte

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{conn: conn, recvCh: make(chan []byte, 64)}
	go c.receiveLoop()
	return c
}

func (c *wsConn) Send(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("transport: ws send: %w", err)
	}
	return nil
}

func (c *wsConn) Receive() <-chan []byte { return c.recvCh }

func (c *wsConn) RemoteID() string { return c.conn.RemoteAddr().String() }

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) receiveLoop() {
	defer close(c.recvCh)

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		c.recvCh <- payload
	}
}
