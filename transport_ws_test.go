package twitchirc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsUpgrader mirrors the teacher's irc/client_test.go mock server upgrader.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newMockIRCServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):]
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	received := make(chan string, 1)
	serverDone := make(chan struct{})
	server := newMockIRCServer(t, func(conn *websocket.Conn) {
		defer close(serverDone)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)

		_ = conn.WriteMessage(websocket.TextMessage, []byte("PING :tmi.twitch.tv\r\n"))
	})
	defer server.Close()

	dialer := WebSocketDialer{URL: wsURL(server.URL)}
	transport, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer transport.Close()

	if err := transport.Send(context.Background(), &IRCMessage{
		Command: "NICK", Params: []string{"justinfan123"},
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case line := <-received:
		if line != "NICK justinfan123" {
			t.Fatalf("server received %q, want %q", line, "NICK justinfan123")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive NICK")
	}

	select {
	case item := <-transport.Incoming():
		if item.Err != nil {
			t.Fatalf("Incoming error: %v", item.Err)
		}
		if item.Message.Command != "PING" {
			t.Fatalf("Command = %q, want PING", item.Message.Command)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for incoming PING")
	}
}

func TestWebSocketTransportSplitsMultilineFrame(t *testing.T) {
	server := newMockIRCServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("JOIN #foo\r\nJOIN #bar\r\n"))
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	dialer := WebSocketDialer{URL: wsURL(server.URL)}
	transport, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer transport.Close()

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case item := <-transport.Incoming():
			if item.Err != nil {
				t.Fatalf("Incoming error: %v", item.Err)
			}
			got = append(got, item.Message.Params[0])
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	if got[0] != "#foo" || got[1] != "#bar" {
		t.Fatalf("got %v, want [#foo #bar]", got)
	}
}
