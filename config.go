package twitchirc

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Login is the (name, token) pair a CredentialProvider yields. An empty
// Token means anonymous: the connection skips sending PASS.
type Login struct {
	Name  string
	Token string
}

// CredentialProvider is the "capability yielding (login, optional token)
// on demand" from spec §3. It is fetched fresh by every connection during
// Initializing, so a provider backed by a refreshing OAuth token (out of
// this package's scope, per spec §1) works without this package knowing
// anything about refresh.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Login, error)
}

// staticCredentials is the simplest CredentialProvider: a fixed login,
// handed out unchanged every time.
type staticCredentials struct{ login Login }

func (s staticCredentials) Credentials(context.Context) (Login, error) { return s.login, nil }

// StaticCredentials returns a CredentialProvider that always yields the
// given name and token.
func StaticCredentials(name, token string) CredentialProvider {
	return staticCredentials{Login{Name: name, Token: token}}
}

// AnonymousCredentials returns a CredentialProvider for an unauthenticated
// (read-only) connection under the given login, e.g. "justinfan12345".
func AnonymousCredentials(name string) CredentialProvider {
	return staticCredentials{Login{Name: name}}
}

// RateLimiter is the shared semaphore gating new-connection establishment
// (spec §3 connection_rate_limiter / new_connection_every). A permit is
// acquired before dialing a new connection's transport and is returned
// automatically after the configured cooldown, not on socket-open
// completion, matching spec §5 ("a permit is acquired before opening a
// socket and released by a timer task new_connection_every later").
type RateLimiter struct {
	permits chan struct{}
}

// NewRateLimiter creates a RateLimiter with n concurrently available
// permits.
func NewRateLimiter(n int) *RateLimiter {
	if n < 1 {
		n = 1
	}
	rl := &RateLimiter{permits: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		rl.permits <- struct{}{}
	}
	return rl
}

// Acquire blocks until a permit is available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-r.permits:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release returns the permit after delay, rather than immediately.
func (r *RateLimiter) release(delay time.Duration) {
	time.AfterFunc(delay, func() {
		r.permits <- struct{}{}
	})
}

// Default values for ClientConfig, per spec §3.
const (
	DefaultMaxChannelsPerConnection         = 90
	DefaultMaxWaitingMessagesPerConnection  = 5
	DefaultTimePerMessage                   = 150 * time.Millisecond
	DefaultNewConnectionEvery               = 2 * time.Second
)

// ClientConfig is the Pool's configuration, per spec §3's option table.
type ClientConfig struct {
	// LoginCredentials supplies (login, optional token) for every
	// connection's handshake.
	LoginCredentials CredentialProvider

	// MaxChannelsPerConnection is the soft cap before the pool opens a
	// new connection to take on further channels.
	MaxChannelsPerConnection int
	// MaxWaitingMessagesPerConnection bounds the not_busy() estimate's
	// rate-limit headroom per connection.
	MaxWaitingMessagesPerConnection int
	// TimePerMessage is the assumed server processing time per outgoing
	// message, used by not_busy() (spec §4.5). Best-effort only; Twitch's
	// real per-role limits differ (spec §9).
	TimePerMessage time.Duration

	// ConnectionRateLimiter gates how many connections may be dialing
	// concurrently.
	ConnectionRateLimiter *RateLimiter
	// NewConnectionEvery is the cooldown before a rate-limiter permit is
	// returned, counted from the end of the connection's init task (after
	// dialing and the handshake sends).
	NewConnectionEvery time.Duration

	// Metrics optionally registers the collectors in spec §6.
	Metrics MetricsConfig

	// Logger receives a structured Warn entry whenever a connection closes
	// and whenever the pool redistributes a closed connection's channels;
	// the Initializing->Open transition is not logged. A nil Logger defaults to a
	// no-op logger (see NewLogger/noopLogger), matching girc's "debug
	// defaults to a discard writer" convention.
	Logger *zap.Logger
}

// Option configures a ClientConfig, generalizing the teacher's
// irc.Option/WithXxx pattern (irc/client.go) from *Client to *ClientConfig.
type Option func(*ClientConfig)

// WithMaxChannelsPerConnection overrides MaxChannelsPerConnection.
func WithMaxChannelsPerConnection(n int) Option {
	return func(c *ClientConfig) { c.MaxChannelsPerConnection = n }
}

// WithMaxWaitingMessagesPerConnection overrides
// MaxWaitingMessagesPerConnection.
func WithMaxWaitingMessagesPerConnection(n int) Option {
	return func(c *ClientConfig) { c.MaxWaitingMessagesPerConnection = n }
}

// WithTimePerMessage overrides TimePerMessage.
func WithTimePerMessage(d time.Duration) Option {
	return func(c *ClientConfig) { c.TimePerMessage = d }
}

// WithConnectionRateLimiter overrides ConnectionRateLimiter.
func WithConnectionRateLimiter(rl *RateLimiter) Option {
	return func(c *ClientConfig) { c.ConnectionRateLimiter = rl }
}

// WithNewConnectionEvery overrides NewConnectionEvery.
func WithNewConnectionEvery(d time.Duration) Option {
	return func(c *ClientConfig) { c.NewConnectionEvery = d }
}

// WithMetrics enables and configures metrics registration.
func WithMetrics(cfg MetricsConfig) Option {
	return func(c *ClientConfig) { c.Metrics = cfg }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *ClientConfig) { c.Logger = logger }
}

// NewClientConfig builds a ClientConfig for creds with spec §3's defaults,
// then applies opts in order.
func NewClientConfig(creds CredentialProvider, opts ...Option) ClientConfig {
	cfg := ClientConfig{
		LoginCredentials:                creds,
		MaxChannelsPerConnection:        DefaultMaxChannelsPerConnection,
		MaxWaitingMessagesPerConnection: DefaultMaxWaitingMessagesPerConnection,
		TimePerMessage:                  DefaultTimePerMessage,
		ConnectionRateLimiter:           NewRateLimiter(1),
		NewConnectionEvery:              DefaultNewConnectionEvery,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger()
	}
	return cfg
}
