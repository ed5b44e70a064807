package twitchirc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultTLSAddress is irc.chat.twitch.tv's TLS port (spec §6).
const DefaultTLSAddress = "irc.chat.twitch.tv:6697"

// DefaultPlainAddress is irc.chat.twitch.tv's plaintext port (spec §6).
const DefaultPlainAddress = "irc.chat.twitch.tv:6667"

// tcpTransport implements Transport over a line-oriented net.Conn shared by
// both the TLS and plaintext dialers below; lines are terminated by "\r\n"
// on the wire in both directions. No third-party TLS library appears
// anywhere in the retrieval pack, so this dials with the standard library's
// crypto/tls (see DESIGN.md).
type tcpTransport struct {
	conn net.Conn

	sendMu sync.Mutex

	incoming chan Incoming
	closeErr error
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	t := &tcpTransport{
		conn:     conn,
		incoming: make(chan Incoming, 16),
	}
	go t.readLoop()
	return t
}

func (t *tcpTransport) readLoop() {
	defer close(t.incoming)

	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	scanner.Split(scanLinesCRLF)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			t.incoming <- Incoming{Err: err}
			continue
		}
		t.incoming <- Incoming{Message: msg}
	}
	// A read failing because Close was called locally ends the stream
	// cleanly, like a remote close; any other read error is reported.
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		t.incoming <- Incoming{Err: fmt.Errorf("%w: %v", ErrIncoming, err)}
	}
}

// scanLinesCRLF is bufio.ScanLines adjusted to split strictly on "\r\n",
// since a bare "\n" is not a Twitch IRC line terminator over TCP.
func scanLinesCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := strings.Index(string(data), "\r\n"); i >= 0 {
		return i + 2, data[0:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (t *tcpTransport) Incoming() <-chan Incoming { return t.incoming }

func (t *tcpTransport) Send(ctx context.Context, msg *IRCMessage) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	_, err := t.conn.Write([]byte(msg.Format() + "\r\n"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutgoing, err)
	}
	return nil
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// TLSDialer dials irc.chat.twitch.tv (or Address, if set) over TLS.
type TLSDialer struct {
	// Address defaults to DefaultTLSAddress.
	Address string
	// Config is passed to tls.Dialer verbatim; nil uses Go's defaults.
	Config *tls.Config
}

func (d TLSDialer) Dial(ctx context.Context) (Transport, error) {
	addr := d.Address
	if addr == "" {
		addr = DefaultTLSAddress
	}
	dialer := tls.Dialer{Config: d.Config}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return newTCPTransport(conn), nil
}

// TCPDialer dials irc.chat.twitch.tv (or Address, if set) over plaintext
// TCP. Present for completeness/testing; Twitch's production endpoint
// expects TLS.
type TCPDialer struct {
	// Address defaults to DefaultPlainAddress.
	Address string
}

func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	addr := d.Address
	if addr == "" {
		addr = DefaultPlainAddress
	}
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return newTCPTransport(conn), nil
}
