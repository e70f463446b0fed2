package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxFrameLength guards against a corrupt or hostile length prefix
// causing an unbounded allocation.
const maxFrameLength = 16 << 20 // 16 MiB

// TCPListener accepts TCP connections and wraps each as a length-prefixed
// Conn.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP starts listening on addr (host:port).
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp %s: %w", addr, err)
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("transport: accept: %w", r.err)
		}
		return newTCPConn(r.conn), nil
	}
}

func (l *TCPListener) Close() error { return l.ln.Close() }

// TCPDialer opens TCP connections wrapped as length-prefixed Conns.
type TCPDialer struct{}

func (TCPDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial tcp %s: %w", addr, err)
	}
	return newTCPConn(conn), nil
}

// tcpConn frames messages on the wire as a u32 big-endian length prefix
// followed by that many payload bytes, per spec.md's fixed big-endian
// wire contract.
type tcpConn struct {
	conn net.Conn

	sendMu sync.Mutex
	recvCh chan []byte

	closeOnce sync.Once
	closeErr  error
}

func newTCPConn(conn net.Conn) *tcpConn {
	c := &tcpConn{conn: conn, recvCh: make(chan []byte, 64)}
	go c.receiveLoop()
	return c
}

func (c *tcpConn) Send(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("transport: tcp send: %w", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("transport: tcp send: %w", err)
	}
	return nil
}

func (c *tcpConn) Receive() <-chan []byte { return c.recvCh }

func (c *tcpConn) RemoteID() string { return c.conn.RemoteAddr().String() }

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *tcpConn) receiveLoop() {
	defer close(c.recvCh)

	for {
		var header [4]byte
		if _, err := io.ReadFull(c.conn, header[:]); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(header[:])
		if length > maxFrameLength {
			return
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}
		c.recvCh <- payload
	}
}
