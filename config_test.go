package twitchirc

import (
	"context"
	"testing"
	"time"
)

func TestNewClientConfigDefaults(t *testing.T) {
	cfg := NewClientConfig(AnonymousCredentials("justinfan123"))

	if cfg.MaxChannelsPerConnection != DefaultMaxChannelsPerConnection {
		t.Errorf("MaxChannelsPerConnection = %d, want %d", cfg.MaxChannelsPerConnection, DefaultMaxChannelsPerConnection)
	}
	if cfg.MaxWaitingMessagesPerConnection != DefaultMaxWaitingMessagesPerConnection {
		t.Errorf("MaxWaitingMessagesPerConnection = %d, want %d", cfg.MaxWaitingMessagesPerConnection, DefaultMaxWaitingMessagesPerConnection)
	}
	if cfg.TimePerMessage != DefaultTimePerMessage {
		t.Errorf("TimePerMessage = %v, want %v", cfg.TimePerMessage, DefaultTimePerMessage)
	}
	if cfg.Logger == nil {
		t.Error("Logger should default to a non-nil no-op logger")
	}
	if cfg.ConnectionRateLimiter == nil {
		t.Error("ConnectionRateLimiter should default to a non-nil limiter")
	}
}

func TestClientConfigOptionsOverrideDefaults(t *testing.T) {
	cfg := NewClientConfig(AnonymousCredentials("justinfan123"),
		WithMaxChannelsPerConnection(42),
		WithMaxWaitingMessagesPerConnection(3),
		WithTimePerMessage(250*time.Millisecond),
		WithNewConnectionEvery(time.Second),
	)

	if cfg.MaxChannelsPerConnection != 42 {
		t.Errorf("MaxChannelsPerConnection = %d, want 42", cfg.MaxChannelsPerConnection)
	}
	if cfg.MaxWaitingMessagesPerConnection != 3 {
		t.Errorf("MaxWaitingMessagesPerConnection = %d, want 3", cfg.MaxWaitingMessagesPerConnection)
	}
	if cfg.TimePerMessage != 250*time.Millisecond {
		t.Errorf("TimePerMessage = %v, want 250ms", cfg.TimePerMessage)
	}
	if cfg.NewConnectionEvery != time.Second {
		t.Errorf("NewConnectionEvery = %v, want 1s", cfg.NewConnectionEvery)
	}
}

func TestAnonymousCredentialsHaveNoToken(t *testing.T) {
	login, err := AnonymousCredentials("justinfan123").Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if login.Name != "justinfan123" || login.Token != "" {
		t.Fatalf("login = %+v, want Name=justinfan123 Token=\"\"", login)
	}
}

func TestStaticCredentials(t *testing.T) {
	login, err := StaticCredentials("somebot", "sometoken").Credentials(context.Background())
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if login.Name != "somebot" || login.Token != "sometoken" {
		t.Fatalf("login = %+v, want Name=somebot Token=sometoken", login)
	}
}

func TestRateLimiterAcquireBlocksUntilReleased(t *testing.T) {
	rl := NewRateLimiter(1)

	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx); err == nil {
		t.Fatal("second Acquire should have blocked until the permit was released")
	}

	rl.release(0)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := rl.Acquire(ctx2); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}
