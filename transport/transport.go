// Package transport defines the single cross-task boundary spec.md §5
// allows: an ordered, reliable, per-peer message pipe connecting the
// simulation loop to the outside world. Everything on the simulation
// side of a Conn is single-threaded; only a Conn's own goroutines (and
// the channels they feed) may run concurrently with it.
package transport

import "context"

// Conn is an ordered, reliable message pipe to exactly one peer. Messages
// sent with Send arrive at the peer's Receive channel in the order they
// were sent, or not at all (a severed Conn closes its Receive channel
// rather than silently drop or reorder messages).
type Conn interface {
	// Send queues payload for delivery. It does not block on the network
	// round trip.
	Send(payload []byte) error

	// Receive returns the channel of inbound payloads. It is closed when
	// the connection ends, whether by Close or by the peer disconnecting.
	Receive() <-chan []byte

	// RemoteID identifies the peer, for logging and per-connection state
	// keyed by connection rather than by player/object id.
	RemoteID() string

	Close() error
}

// Listener accepts incoming Conns. The server side of a transport.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

// Dialer opens a Conn to a remote address. The client side of a
// transport.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}
