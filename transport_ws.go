package twitchirc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// DefaultWebSocketURL is Twitch's IRC-over-WebSocket endpoint (spec §6).
const DefaultWebSocketURL = "wss://irc-ws.chat.twitch.tv"

// wsTransport implements Transport over a gorilla/websocket connection,
// generalizing the teacher's direct websocket.DefaultDialer.DialContext +
// conn.ReadMessage/WriteMessage pair (irc/client.go) into the Transport
// capability. A single WS text frame may carry more than one IRC line; per
// spec §4.3 those are split on "\n".
type wsTransport struct {
	conn *websocket.Conn

	sendMu sync.Mutex

	incoming chan Incoming
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn:     conn,
		incoming: make(chan Incoming, 16),
	}
	go t.readLoop()
	return t
}

func (t *wsTransport) readLoop() {
	defer close(t.incoming)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			t.incoming <- Incoming{Err: fmt.Errorf("%w: %v", ErrIncoming, err)}
			return
		}

		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSuffix(line, "\r")
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
	}
}

func (t *wsTransport) Incoming() <-chan Incoming { return t.incoming }

func (t *wsTransport) Send(ctx context.Context, msg *IRCMessage) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(msg.Format())); err != nil {
		return fmt.Errorf("%w: %v", ErrOutgoing, err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// WebSocketDialer dials Twitch's IRC-over-WebSocket endpoint (or URL, if
// set), generalizing irc/client.go's hardcoded websocket.DefaultDialer use.
type WebSocketDialer struct {
	// URL defaults to DefaultWebSocketURL.
	URL string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (d WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	url := d.URL
	if url == "" {
		url = DefaultWebSocketURL
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return newWSTransport(conn), nil
}
