package twitchirc

import (
	"context"
	"sync"
	"testing"
	"time"
)

// countingDialer hands out a fresh fakeTransport per Dial call and records
// every transport it created, so tests can assert how many connections the
// pool opened.
type countingDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (d *countingDialer) Dial(ctx context.Context) (Transport, error) {
	transport := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, transport)
	d.mu.Unlock()
	return transport, nil
}

func (d *countingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *countingDialer) at(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

func testPoolConfig(maxChannels int) ClientConfig {
	return NewClientConfig(AnonymousCredentials("justinfan123"),
		WithConnectionRateLimiter(NewRateLimiter(8)),
		WithNewConnectionEvery(time.Millisecond),
		WithMaxChannelsPerConnection(maxChannels),
	)
}

func TestPoolJoinReusesConnectionUnderCapacity(t *testing.T) {
	dialer := &countingDialer{}
	cfg := testPoolConfig(10)
	pool := NewPool(cfg, dialer)
	defer pool.Close(context.Background())

	if err := pool.Join(context.Background(), "foo"); err != nil {
		t.Fatalf("Join foo: %v", err)
	}
	if err := pool.Join(context.Background(), "bar"); err != nil {
		t.Fatalf("Join bar: %v", err)
	}

	if n := dialer.count(); n != 1 {
		t.Fatalf("dialer.count() = %d, want 1 (both channels should share one connection)", n)
	}
}

func TestPoolJoinOpensNewConnectionAtCapacity(t *testing.T) {
	dialer := &countingDialer{}
	cfg := testPoolConfig(1)
	pool := NewPool(cfg, dialer)
	defer pool.Close(context.Background())

	if err := pool.Join(context.Background(), "foo"); err != nil {
		t.Fatalf("Join foo: %v", err)
	}
	if err := pool.Join(context.Background(), "bar"); err != nil {
		t.Fatalf("Join bar: %v", err)
	}

	if n := dialer.count(); n != 2 {
		t.Fatalf("dialer.count() = %d, want 2 (capacity 1 forces a second connection)", n)
	}
}

func TestPoolJoinIdempotent(t *testing.T) {
	dialer := &countingDialer{}
	cfg := testPoolConfig(10)
	pool := NewPool(cfg, dialer)
	defer pool.Close(context.Background())

	if err := pool.Join(context.Background(), "foo"); err != nil {
		t.Fatalf("first Join: %v", err)
	}
	transport := dialer.at(0)
	waitSent(t, transport.sent, "CAP")
	waitSent(t, transport.sent, "NICK")
	waitSent(t, transport.sent, "JOIN")

	if err := pool.Join(context.Background(), "foo"); err != nil {
		t.Fatalf("second Join: %v", err)
	}
	select {
	case msg := <-transport.sent:
		t.Fatalf("unexpected second JOIN sent: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPoolSendOpensConnectionWhenPoolIsEmpty(t *testing.T) {
	dialer := &countingDialer{}
	cfg := testPoolConfig(10)
	pool := NewPool(cfg, dialer)
	defer pool.Close(context.Background())

	if err := pool.Say(context.Background(), "somechannel", "hello"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if n := dialer.count(); n != 1 {
		t.Fatalf("dialer.count() = %d, want 1", n)
	}
	transport := dialer.at(0)
	waitSent(t, transport.sent, "CAP")
	waitSent(t, transport.sent, "NICK")
	privmsg := waitSent(t, transport.sent, "PRIVMSG")
	if privmsg.Params[0] != "#somechannel" || privmsg.Params[1] != "hello" {
		t.Fatalf("PRIVMSG params = %v", privmsg.Params)
	}
}

func TestPoolRedistributesChannelsOnConnectionFailure(t *testing.T) {
	dialer := &countingDialer{}
	cfg := testPoolConfig(10)
	pool := NewPool(cfg, dialer)
	defer pool.Close(context.Background())

	if err := pool.Join(context.Background(), "foo"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	first := dialer.at(0)
	waitSent(t, first.sent, "CAP")
	waitSent(t, first.sent, "NICK")
	waitSent(t, first.sent, "JOIN")

	// Simulate the remote end going away: the incoming stream closes
	// cleanly, which the connection treats as EOF.
	close(first.incoming)

	deadline := time.After(2 * time.Second)
	for dialer.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("pool never opened a replacement connection")
		case <-time.After(10 * time.Millisecond):
		}
	}

	second := dialer.at(1)
	waitSent(t, second.sent, "CAP")
	waitSent(t, second.sent, "NICK")
	waitSent(t, second.sent, "JOIN")
}

func TestPoolCloseFailsSubsequentCalls(t *testing.T) {
	dialer := &countingDialer{}
	cfg := testPoolConfig(10)
	pool := NewPool(cfg, dialer)

	if err := pool.Join(context.Background(), "foo"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pool.Join(context.Background(), "bar"); err != ErrClientClosed {
		t.Fatalf("Join after close: got %v, want ErrClientClosed", err)
	}
}

func TestPoolWhisperElectionForwardsOnlyOneConnection(t *testing.T) {
	dialer := &countingDialer{}
	cfg := testPoolConfig(1) // force two separate connections
	pool := NewPool(cfg, dialer)
	defer pool.Close(context.Background())

	if err := pool.Join(context.Background(), "foo"); err != nil {
		t.Fatalf("Join foo: %v", err)
	}
	if err := pool.Join(context.Background(), "bar"); err != nil {
		t.Fatalf("Join bar: %v", err)
	}
	if n := dialer.count(); n != 2 {
		t.Fatalf("dialer.count() = %d, want 2", n)
	}

	first, second := dialer.at(0), dialer.at(1)
	waitSent(t, first.sent, "CAP")
	waitSent(t, first.sent, "NICK")
	waitSent(t, first.sent, "JOIN")
	waitSent(t, second.sent, "CAP")
	waitSent(t, second.sent, "NICK")
	waitSent(t, second.sent, "JOIN")

	whisperLine := "@badges=;color=;display-name=Foo;emotes=;message-id=1;thread-id=1_2;turbo=0;user-id=1;user-type= :foo!foo@foo.tmi.twitch.tv WHISPER justinfan123 :hi"
	parsed, err := ParseMessage(whisperLine)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	first.incoming <- Incoming{Message: parsed}
	second.incoming <- Incoming{Message: parsed}

	whisperCount, genericCount := 0, 0
	timeout := time.After(500 * time.Millisecond)
loop:
	for {
		select {
		case msg := <-pool.Incoming():
			switch msg.(type) {
			case *WhisperMessage:
				whisperCount++
			case *GenericMessage:
				genericCount++
			}
		case <-timeout:
			break loop
		}
	}
	if whisperCount != 1 {
		t.Fatalf("whisperCount = %d, want exactly 1 (election must drop the duplicate from the other connection)", whisperCount)
	}
	if genericCount != 1 {
		t.Fatalf("genericCount = %d, want exactly 1", genericCount)
	}
}
