package twitchirc

import "context"

// Incoming is one item read off a Transport's incoming stream: either a
// successfully parsed IRCMessage, or an error. A read error is the last
// item before the stream closes; a line that fails to parse yields an error
// item and reading continues. Exactly one of Message or Err is set.
type Incoming struct {
	Message *IRCMessage
	Err     error
}

// Transport is the contract a connection's event loop drives: a
// bidirectional, framed stream of IRCMessages over some underlying socket.
// Concrete implementations (TLS+TCP, plain TCP, WebSocket) live in
// transport_tcp.go and transport_ws.go; everything above this interface
// (component 4, the event loop) is transport-agnostic, per spec §4.3.
//
// Incoming is read until it is closed; a closed channel with no prior error
// item means a clean remote close (EOF). Outgoing must be safe to call
// concurrently with reads from Incoming; a Transport implementation may
// serialize outgoing writes internally, but the event loop additionally
// only ever has one Send in flight at a time (spec §5, "outgoing transport
// sink guarded by a mutex held only while one send is in flight").
type Transport interface {
	// Incoming returns the channel of inbound messages/errors. It is
	// closed exactly once, after the final item (if any) has been sent.
	Incoming() <-chan Incoming

	// Send writes one IRCMessage to the wire. It returns an error
	// wrapping ErrOutgoing on failure.
	Send(ctx context.Context, msg *IRCMessage) error

	// Close releases the underlying socket. Safe to call more than once.
	Close() error
}

// Dialer opens a new Transport. Connect is fail-fast: by the time Dial
// returns successfully, the transport is ready to Send and to deliver
// Incoming items.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}
