package twitchirc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// connState is the per-connection state machine named in spec §4.4,
// encoded as an explicit sum rather than boolean flags (Design Notes §9).
type connState int

const (
	connStateInitializing connState = iota
	connStateOpen
	connStateClosed
)

func (s connState) String() string {
	switch s {
	case connStateInitializing:
		return "initializing"
	case connStateOpen:
		return "open"
	case connStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// connCommandQueueDepth is the per-connection command channel's
	// buffer. Unspecified by spec; sized generously relative to
	// MaxWaitingMessagesPerConnection's default of 5 since the queue
	// also carries Join/Part/Close and internal commands (see
	// SPEC_FULL.md's Open Question decisions).
	connCommandQueueDepth = 64

	pingInterval = 30 * time.Second
	pongTimeout  = 5 * time.Second
)

// ConnEvent is the per-connection loop's output to whatever owns it (the
// Pool): a forwarded server message, an Initializing->Open transition, or
// the terminal StateClosed. Exactly one concrete type appears per event.
type ConnEvent interface{ isConnEvent() }

// ConnOpenEvent fires once, when a connection's handshake completes.
type ConnOpenEvent struct{ ID uint64 }

func (ConnOpenEvent) isConnEvent() {}

// ConnServerMessageEvent carries one incoming message forwarded per the
// typed-layer's rule (spec §4.2): Typed is non-nil iff the message parsed
// into its dedicated variant, and Generic is always non-nil (the raw
// fallback, itself forwarded a second time whenever Typed is also set).
type ConnServerMessageEvent struct {
	ID      uint64
	Typed   ServerMessage
	Generic *GenericMessage
}

func (ConnServerMessageEvent) isConnEvent() {}

// ConnClosedEvent is the terminal event for a connection: Channels is the
// set the connection wanted joined at the moment it died, for the pool to
// redistribute (spec §4.5 failure recovery).
type ConnClosedEvent struct {
	ID       uint64
	Channels map[string]struct{}
	Cause    error
}

func (ConnClosedEvent) isConnEvent() {}

// --- commands accepted on a Connection's single command queue (spec §4.4) ---

type connCmdSendMessage struct {
	msg   *IRCMessage
	reply chan error
}

type connCmdJoin struct {
	channel string
	reply   chan error
}

type connCmdPart struct {
	channel string
	reply   chan error
}

type connCmdClose struct {
	err   error
	reply chan struct{}
}

type connCmdTransportInit struct {
	transport Transport
	err       error
}

type connCmdIncoming struct {
	msg *IRCMessage
	err error
	eof bool
}

type connCmdSendPing struct{}

type connCmdCheckPong struct{}

// Connection is one instance of the per-connection event loop (component
// 4): a single goroutine (run) owns every field below except cmds/events/
// closed, which are safe for concurrent use by design. External callers
// (the pool, child tasks) only ever communicate by posting to cmds; no
// other goroutine touches connection state directly, which is what makes
// the loop's own reads and writes lock-free (spec §5).
type Connection struct {
	id      uint64
	cfg     *ClientConfig
	dialer  Dialer
	logger  *zap.Logger
	metrics *Metrics

	cmds   chan any
	events chan ConnEvent
	closed chan struct{}

	// Fields below are owned exclusively by run's goroutine.
	state        connState
	channels     map[string]struct{}
	queue        []any
	transport    Transport
	pongReceived bool
	killChildren context.CancelFunc
}

// newConnection creates a Connection and starts its event loop and init
// task. id should be pool-assigned and unique within the pool's lifetime.
func newConnection(id uint64, cfg *ClientConfig, dialer Dialer, metrics *Metrics, logger *zap.Logger) *Connection {
	c := &Connection{
		id:      id,
		cfg:     cfg,
		dialer:  dialer,
		logger:  logger,
		metrics: metrics,
		cmds:    make(chan any, connCommandQueueDepth),
		events:  make(chan ConnEvent, 1),
		closed:  make(chan struct{}),
	}
	go c.run()
	return c
}

// ID returns the connection's pool-assigned id.
func (c *Connection) ID() uint64 { return c.id }

// Events returns the channel of events this connection emits. It is
// closed once the connection has fully terminated (after ConnClosedEvent
// has been sent).
func (c *Connection) Events() <-chan ConnEvent { return c.events }

// enqueue posts cmd to the command queue, or fails fast with
// ErrConnectionClosed if the connection has already terminated.
func (c *Connection) enqueue(ctx context.Context, cmd any) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage submits msg for sending on this connection, blocking until
// it has been written to the wire (or the connection/context ends).
func (c *Connection) SendMessage(ctx context.Context, msg *IRCMessage) error {
	reply := make(chan error, 1)
	if err := c.enqueue(ctx, connCmdSendMessage{msg: msg, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join requests this connection add channel to its wanted set and send
// JOIN #channel. The channels set is mutated before the send completes
// (spec §4.4).
func (c *Connection) Join(ctx context.Context, channel string) error {
	reply := make(chan error, 1)
	if err := c.enqueue(ctx, connCmdJoin{channel: channel, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Part requests this connection remove channel from its wanted set and
// send PART #channel.
func (c *Connection) Part(ctx context.Context, channel string) error {
	reply := make(chan error, 1)
	if err := c.enqueue(ctx, connCmdPart{channel: channel, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the connection down, draining any queued commands with
// cause (or ErrClosedByCaller if cause is nil). Close is idempotent.
func (c *Connection) Close(ctx context.Context, cause error) error {
	reply := make(chan struct{})
	if err := c.enqueue(ctx, connCmdClose{err: cause, reply: reply}); err != nil {
		if err == ErrConnectionClosed {
			return nil
		}
		return err
	}
	select {
	case <-reply:
		return nil
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single goroutine that owns all connection state (spec §4.4,
// §5: "single-threaded cooperative: only the loop mutates connection
// state"). It exits once the state transitions to Closed.
func (c *Connection) run() {
	defer close(c.closed)
	defer close(c.events)

	c.state = connStateInitializing
	c.channels = make(map[string]struct{})
	go c.initTask(context.Background())

	for c.state != connStateClosed {
		cmd := <-c.cmds
		c.handle(cmd)
	}
}

func (c *Connection) handle(cmd any) {
	if v, ok := cmd.(connCmdClose); ok {
		cause := v.err
		if cause == nil {
			cause = ErrClosedByCaller
		}
		c.doClose(cause)
		if v.reply != nil {
			close(v.reply)
		}
		return
	}

	switch c.state {
	case connStateInitializing:
		c.handleInitializing(cmd)
	case connStateOpen:
		c.handleOpen(cmd)
	}
}

func (c *Connection) handleInitializing(cmd any) {
	switch v := cmd.(type) {
	case connCmdTransportInit:
		c.handleTransportInit(v)
	case connCmdJoin:
		c.channels[v.channel] = struct{}{}
		c.queue = append(c.queue, v)
	case connCmdPart:
		delete(c.channels, v.channel)
		c.queue = append(c.queue, v)
	case connCmdSendMessage:
		c.queue = append(c.queue, v)
	}
}

func (c *Connection) handleTransportInit(v connCmdTransportInit) {
	if v.err != nil {
		c.metrics.connectionFailed()
		c.doClose(v.err)
		return
	}

	c.transport = v.transport
	c.state = connStateOpen
	c.pongReceived = true
	c.metrics.connectionCreated()
	c.emit(ConnOpenEvent{ID: c.id})

	childCtx, cancel := context.WithCancel(context.Background())
	c.killChildren = cancel
	go c.incomingForwarder(childCtx, c.transport)
	go c.pinger(childCtx)

	backlog := c.queue
	c.queue = nil
	for _, qcmd := range backlog {
		c.handleOpen(qcmd)
		if c.state == connStateClosed {
			return
		}
	}
}

func (c *Connection) handleOpen(cmd any) {
	switch v := cmd.(type) {
	case connCmdSendMessage:
		c.sendAndReply(v.msg, v.reply)
	case connCmdJoin:
		c.channels[v.channel] = struct{}{}
		c.sendAndReply(&IRCMessage{Command: "JOIN", Params: []string{"#" + v.channel}}, v.reply)
	case connCmdPart:
		delete(c.channels, v.channel)
		c.sendAndReply(&IRCMessage{Command: "PART", Params: []string{"#" + v.channel}}, v.reply)
	case connCmdIncoming:
		c.handleIncoming(v)
	case connCmdSendPing:
		c.handleSendPing()
	case connCmdCheckPong:
		c.handleCheckPong()
	}
}

func (c *Connection) sendAndReply(msg *IRCMessage, reply chan error) {
	err := c.transport.Send(context.Background(), msg)
	if reply != nil {
		reply <- err
	}
	if err != nil {
		c.doClose(err)
		return
	}
	c.metrics.messageSent(msg.Command)
}

func (c *Connection) handleIncoming(cmd connCmdIncoming) {
	if cmd.eof {
		c.doClose(errIncomingEOF)
		return
	}
	if cmd.err != nil {
		c.doClose(cmd.err)
		return
	}

	msg := cmd.msg
	c.metrics.messageReceived(msg.Command)

	if msg.Command == "PING" {
		pong := &IRCMessage{Command: "PONG", Params: []string{"tmi.twitch.tv"}, HasTrailing: true}
		if err := c.transport.Send(context.Background(), pong); err != nil {
			c.doClose(err)
			return
		}
		c.metrics.messageSent("PONG")
	}
	if msg.Command == "PONG" {
		c.pongReceived = true
	}

	typed, err := ParseServerMessage(msg)
	switch {
	case err != nil:
		// Typed parse failure is never fatal (spec §4.2/§7); forward
		// only the raw fallback.
		c.emit(ConnServerMessageEvent{ID: c.id, Generic: &GenericMessage{Source: msg}})
	default:
		if generic, ok := typed.(*GenericMessage); ok {
			c.emit(ConnServerMessageEvent{ID: c.id, Generic: generic})
		} else {
			c.emit(ConnServerMessageEvent{ID: c.id, Typed: typed, Generic: &GenericMessage{Source: msg}})
		}
	}

	if msg.Command == "RECONNECT" {
		// Forward first, react second: the application must observe
		// the Reconnect/Generic pair before StateClosed (spec §4.4).
		c.doClose(ErrReconnectCmd)
	}
}

func (c *Connection) handleSendPing() {
	c.pongReceived = false
	msg := &IRCMessage{Command: "PING", Params: []string{"tmi.twitch.tv"}, HasTrailing: true}
	if err := c.transport.Send(context.Background(), msg); err != nil {
		c.doClose(err)
		return
	}
	c.metrics.messageSent("PING")
}

func (c *Connection) handleCheckPong() {
	if !c.pongReceived {
		c.doClose(ErrPingTimeout)
	}
}

// doClose transitions the connection to Closed exactly once: it kills the
// child tasks, closes the transport, drains any Initializing-era backlog
// with cause, and emits the terminal ConnClosedEvent.
func (c *Connection) doClose(cause error) {
	if c.state == connStateClosed {
		return
	}
	prevState := c.state
	backlog := c.queue
	c.queue = nil
	c.state = connStateClosed

	if c.killChildren != nil {
		c.killChildren()
	}
	if c.transport != nil {
		_ = c.transport.Close()
	}

	if prevState == connStateInitializing {
		for _, qcmd := range backlog {
			replyWithError(qcmd, cause)
		}
	}

	c.logger.Warn("connection closed", zap.Uint64("conn_id", c.id), zap.Error(cause))
	c.emit(ConnClosedEvent{ID: c.id, Channels: cloneChannelSet(c.channels), Cause: cause})
}

func (c *Connection) emit(ev ConnEvent) {
	// Blocking send applies backpressure up the chain (spec §5/§9): a
	// slow consumer stalls this connection's own loop rather than
	// dropping messages.
	c.events <- ev
}

func replyWithError(cmd any, err error) {
	switch v := cmd.(type) {
	case connCmdSendMessage:
		if v.reply != nil {
			v.reply <- err
		}
	case connCmdJoin:
		if v.reply != nil {
			v.reply <- err
		}
	case connCmdPart:
		if v.reply != nil {
			v.reply <- err
		}
	}
}

func cloneChannelSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// incomingForwarder relays transport's incoming stream into the command
// queue until it ends or ctx is cancelled. It holds only a channel send
// back to the loop, breaking the cyclic-ownership hazard from Design
// Notes §9 (the loop is cancelled, not the other way around).
func (c *Connection) incomingForwarder(ctx context.Context, transport Transport) {
	ch := transport.Incoming()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-ch:
			if !ok {
				select {
				case c.cmds <- connCmdIncoming{eof: true}:
				case <-ctx.Done():
				}
				return
			}
			if item.Err != nil {
				select {
				case c.cmds <- connCmdIncoming{err: item.Err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case c.cmds <- connCmdIncoming{msg: item.Message}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// pinger posts SendPing every pingInterval starting pingInterval after
// Open, and CheckPong pongTimeout after each one (spec §4.4).
func (c *Connection) pinger(ctx context.Context) {
	timer := time.NewTimer(pingInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			select {
			case c.cmds <- connCmdSendPing{}:
			case <-ctx.Done():
				return
			}
			timer.Reset(pingInterval)

			pongTimer := time.NewTimer(pongTimeout)
			select {
			case <-pongTimer.C:
				select {
				case c.cmds <- connCmdCheckPong{}:
				case <-ctx.Done():
				}
			case <-ctx.Done():
				pongTimer.Stop()
				return
			}
		}
	}
}

// initTask acquires a rate-limiter permit, fetches credentials, dials the
// transport, and fires the handshake (CAP REQ, PASS, NICK) before posting
// TransportInitFinished. All three handshake sends are fire-and-forget
// with order preserved, per spec §4.4; a dead socket surfaces moments
// later through the incoming forwarder instead.
func (c *Connection) initTask(ctx context.Context) {
	if err := c.cfg.ConnectionRateLimiter.Acquire(ctx); err != nil {
		c.postInitResult(nil, err)
		return
	}
	defer c.cfg.ConnectionRateLimiter.release(c.cfg.NewConnectionEvery)

	login, err := c.cfg.LoginCredentials.Credentials(ctx)
	if err != nil {
		c.postInitResult(nil, fmt.Errorf("%w: %v", ErrLogin, err))
		return
	}

	transport, err := c.dialer.Dial(ctx)
	if err != nil {
		c.postInitResult(nil, err)
		return
	}

	_ = transport.Send(ctx, &IRCMessage{
		Command:     "CAP",
		Params:      []string{"REQ", "twitch.tv/tags twitch.tv/commands"},
		HasTrailing: true,
	})
	if login.Token != "" {
		_ = transport.Send(ctx, &IRCMessage{Command: "PASS", Params: []string{"oauth:" + login.Token}})
	}
	_ = transport.Send(ctx, &IRCMessage{Command: "NICK", Params: []string{login.Name}})

	c.postInitResult(transport, nil)
}

func (c *Connection) postInitResult(transport Transport, err error) {
	select {
	case c.cmds <- connCmdTransportInit{transport: transport, err: err}:
	case <-c.closed:
	}
}
