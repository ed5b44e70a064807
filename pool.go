package twitchirc

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// poolConn is the pool's bookkeeping for one Connection: the channels it is
// responsible for, the subset the server has confirmed joined, and a short
// history of recent send times used by notBusy's queueing estimate. It
// generalizes the teacher's per-connection tracking in irc/client.go (there
// a single Client owns one socket; here the Pool owns many) to the
// multi-connection model of spec §4.5.
type poolConn struct {
	conn *Connection

	wantedChannels map[string]struct{}
	serverChannels map[string]struct{}

	// sendTimes holds recent SendMessage submission times, oldest first,
	// bounded to 2*MaxWaitingMessagesPerConnection. notBusy replays it
	// against TimePerMessage to estimate the server-side send queue.
	sendTimes []int64

	reportedState connState
}

// Pool is the connection-pool facade (spec §1 component 5, §4.5): it joins
// channels and sends messages across a set of Connections, opening new ones
// as existing ones fill up, re-homing channels when a connection fails, and
// merging every connection's incoming events into one application-facing
// stream. Like Connection, its mutable state is owned exclusively by a
// single run() goroutine; every public method is a command posted across a
// channel, mirroring irc/client.go's single-writer-goroutine discipline
// generalized from one socket to many.
type Pool struct {
	cfg     ClientConfig
	dialer  Dialer
	metrics *Metrics
	logger  *zap.Logger

	cmds     chan any
	incoming chan ServerMessage
	closed   chan struct{}

	// Owned exclusively by run().
	connections    []*poolConn
	byID           map[uint64]*poolConn
	nextConnID     uint64
	wantedChannels map[string]struct{}
	whisperConnID  *uint64
	closing        bool
	closeReplies   []chan struct{}
}

type poolCmdJoin struct {
	channel string
	reply   chan error
}

type poolCmdPart struct {
	channel string
	reply   chan error
}

type poolCmdSend struct {
	msg   *IRCMessage
	reply chan error
}

type poolCmdConnEvent struct {
	id    uint64
	event ConnEvent
}

type poolCmdClose struct {
	reply chan struct{}
}

// incomingQueueDepth bounds the application-facing stream. Callers that
// read slowly apply backpressure to the pool's own command loop rather than
// messages being dropped (spec §5/§9).
const incomingQueueDepth = 256

const poolCommandQueueDepth = 64

// NewPool creates a Pool against cfg and dialer. dialer is reused for every
// connection the pool opens; pass a *TLSDialer, *TCPDialer, or
// *WebSocketDialer depending on the desired transport.
func NewPool(cfg ClientConfig, dialer Dialer) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger()
	}
	p := &Pool{
		cfg:            cfg,
		dialer:         dialer,
		metrics:        NewMetrics(cfg.Metrics),
		logger:         cfg.Logger,
		cmds:           make(chan any, poolCommandQueueDepth),
		incoming:       make(chan ServerMessage, incomingQueueDepth),
		closed:         make(chan struct{}),
		byID:           make(map[uint64]*poolConn),
		wantedChannels: make(map[string]struct{}),
	}
	go p.run()
	return p
}

// Incoming returns the merged, typed-then-generic event stream from every
// connection the pool manages.
func (p *Pool) Incoming() <-chan ServerMessage { return p.incoming }

func (p *Pool) enqueue(ctx context.Context, cmd any) error {
	select {
	case p.cmds <- cmd:
		return nil
	case <-p.closed:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join adds channel to the set of channels the pool keeps joined,
// assigning it to an existing connection with spare capacity or opening a
// new one. Joining an already-wanted channel is a no-op.
func (p *Pool) Join(ctx context.Context, channel string) error {
	reply := make(chan error, 1)
	if err := p.enqueue(ctx, poolCmdJoin{channel: channel, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-p.closed:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Part removes channel from the wanted set and leaves it on whichever
// connection currently holds it.
func (p *Pool) Part(ctx context.Context, channel string) error {
	reply := make(chan error, 1)
	if err := p.enqueue(ctx, poolCmdPart{channel: channel, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-p.closed:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage routes msg to the first connection, least recently used
// first, that notBusy judges to have room, opening a new connection if
// every existing one is saturated.
func (p *Pool) SendMessage(ctx context.Context, msg *IRCMessage) error {
	reply := make(chan error, 1)
	if err := p.enqueue(ctx, poolCmdSend{msg: msg, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-p.closed:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Say sends a PRIVMSG to channel.
func (p *Pool) Say(ctx context.Context, channel, text string) error {
	return p.SendMessage(ctx, &IRCMessage{
		Command:     "PRIVMSG",
		Params:      []string{"#" + channel, text},
		HasTrailing: true,
	})
}

// Ping sends a liveness PING, routed like any other outgoing message.
func (p *Pool) Ping(ctx context.Context) error {
	return p.SendMessage(ctx, &IRCMessage{
		Command:     "PING",
		Params:      []string{"tmi.twitch.tv"},
		HasTrailing: true,
	})
}

// Close cascades Close to every open connection and waits for the pool to
// finish tearing down. Subsequent calls to any Pool method return
// ErrClientClosed.
func (p *Pool) Close(ctx context.Context) error {
	reply := make(chan struct{})
	if err := p.enqueue(ctx, poolCmdClose{reply: reply}); err != nil {
		if err == ErrClientClosed {
			return nil
		}
		return err
	}
	select {
	case <-reply:
		return nil
	case <-p.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer close(p.closed)
	defer close(p.incoming)

	for cmd := range p.cmds {
		switch v := cmd.(type) {
		case poolCmdJoin:
			p.handleJoin(v)
		case poolCmdPart:
			p.handlePart(v)
		case poolCmdSend:
			p.handleSend(v)
		case poolCmdConnEvent:
			p.handleConnEvent(v)
		case poolCmdClose:
			p.closeReplies = append(p.closeReplies, v.reply)
			if !p.closing {
				p.closing = true
				for _, pc := range p.connections {
					pc := pc
					go func() { _ = pc.conn.Close(context.Background(), ErrClientClosed) }()
				}
			}
		}

		if p.closing && len(p.connections) == 0 {
			for _, r := range p.closeReplies {
				if r != nil {
					close(r)
				}
			}
			p.closeReplies = nil
			return
		}
	}
}

func (p *Pool) handleJoin(cmd poolCmdJoin) {
	if p.closing {
		if cmd.reply != nil {
			cmd.reply <- ErrClientClosed
		}
		return
	}
	p.wantedChannels[cmd.channel] = struct{}{}
	p.assignChannel(cmd.channel, cmd.reply)
	p.updateChannelGauges()
}

func (p *Pool) handlePart(cmd poolCmdPart) {
	if p.closing {
		if cmd.reply != nil {
			cmd.reply <- ErrClientClosed
		}
		return
	}
	delete(p.wantedChannels, cmd.channel)
	for _, pc := range p.connections {
		if _, ok := pc.wantedChannels[cmd.channel]; ok {
			delete(pc.wantedChannels, cmd.channel)
			delete(pc.serverChannels, cmd.channel)
			reply := cmd.reply
			conn := pc.conn
			channel := cmd.channel
			go func() {
				err := conn.Part(context.Background(), channel)
				if reply != nil {
					reply <- err
				}
			}()
			p.updateChannelGauges()
			return
		}
	}
	if cmd.reply != nil {
		cmd.reply <- nil
	}
}

// assignChannel routes channel to whichever connection already wants it,
// else the first with spare capacity, else a freshly opened connection. It
// is used both for a direct user Join and for redistributing channels
// after a connection failure (spec §4.5), in which case reply is nil.
func (p *Pool) assignChannel(channel string, reply chan error) {
	for _, pc := range p.connections {
		if _, ok := pc.wantedChannels[channel]; ok {
			p.touch(pc)
			if reply != nil {
				reply <- nil
			}
			return
		}
	}
	for _, pc := range p.connections {
		if len(pc.wantedChannels) < p.cfg.MaxChannelsPerConnection {
			p.dispatchJoin(pc, channel, reply)
			p.touch(pc)
			return
		}
	}
	pc := p.createConnection()
	p.dispatchJoin(pc, channel, reply)
}

func (p *Pool) dispatchJoin(pc *poolConn, channel string, reply chan error) {
	pc.wantedChannels[channel] = struct{}{}
	conn := pc.conn
	go func() {
		err := conn.Join(context.Background(), channel)
		if reply != nil {
			reply <- err
		}
	}()
}

func (p *Pool) handleSend(cmd poolCmdSend) {
	if p.closing {
		if cmd.reply != nil {
			cmd.reply <- ErrClientClosed
		}
		return
	}
	var target *poolConn
	for _, pc := range p.connections {
		if p.notBusy(pc) {
			target = pc
			break
		}
	}
	if target == nil {
		target = p.createConnection()
	}
	p.recordSend(target)
	p.touch(target)

	conn := target.conn
	msg := cmd.msg
	reply := cmd.reply
	go func() {
		err := conn.SendMessage(context.Background(), msg)
		if reply != nil {
			reply <- err
		}
	}()
}

// notBusy estimates whether pc's connection has room for another outgoing
// message, replaying its recent send times against TimePerMessage as a
// FIFO server queue (spec §4.5). It is a best-effort local approximation,
// not an authoritative rate limit enforced by Twitch.
func (p *Pool) notBusy(pc *poolConn) bool {
	now := time.Now().UnixNano()
	var lastFinish int64
	waiting := 0
	perMsg := int64(p.cfg.TimePerMessage)
	for _, start := range pc.sendTimes {
		if lastFinish > start {
			start = lastFinish
		}
		finish := start + perMsg
		lastFinish = finish
		if finish >= now {
			waiting++
		}
	}
	return waiting < p.cfg.MaxWaitingMessagesPerConnection
}

func (p *Pool) recordSend(pc *poolConn) {
	limit := 2 * p.cfg.MaxWaitingMessagesPerConnection
	pc.sendTimes = append(pc.sendTimes, time.Now().UnixNano())
	if len(pc.sendTimes) > limit {
		pc.sendTimes = pc.sendTimes[len(pc.sendTimes)-limit:]
	}
}

// touch moves pc to the tail of the connection list, so the next notBusy
// scan (front-to-back) prefers the least-recently-used connection.
func (p *Pool) touch(pc *poolConn) {
	for i, x := range p.connections {
		if x == pc {
			p.connections = append(p.connections[:i], p.connections[i+1:]...)
			p.connections = append(p.connections, pc)
			return
		}
	}
}

func (p *Pool) createConnection() *poolConn {
	id := p.nextConnID
	p.nextConnID++
	conn := newConnection(id, &p.cfg, p.dialer, p.metrics, p.logger)
	pc := &poolConn{
		conn:           conn,
		wantedChannels: make(map[string]struct{}),
		serverChannels: make(map[string]struct{}),
		reportedState:  connStateInitializing,
	}
	p.connections = append(p.connections, pc)
	p.byID[id] = pc
	go p.forwardEvents(id, conn)
	p.updateConnectionGauges()
	return pc
}

func (p *Pool) forwardEvents(id uint64, conn *Connection) {
	for ev := range conn.Events() {
		select {
		case p.cmds <- poolCmdConnEvent{id: id, event: ev}:
		case <-p.closed:
			return
		}
	}
}

func (p *Pool) handleConnEvent(cmd poolCmdConnEvent) {
	pc, ok := p.byID[cmd.id]
	if !ok {
		return
	}
	switch ev := cmd.event.(type) {
	case ConnOpenEvent:
		pc.reportedState = connStateOpen
		p.updateConnectionGauges()
	case ConnServerMessageEvent:
		p.trackServerChannels(pc, ev)
		p.forwardToApp(cmd.id, ev)
	case ConnClosedEvent:
		p.handleConnClosed(cmd.id, ev)
	}
}

// trackServerChannels best-effort-tracks which of pc's wanted channels the
// server has actually confirmed, by watching for the first JOIN echo on
// each wanted channel. On a busy channel another user's JOIN could in
// principle be mistaken for our own echo; this only affects the
// twitchirc_channels{type="server"} gauge, not message delivery.
func (p *Pool) trackServerChannels(pc *poolConn, ev ConnServerMessageEvent) {
	switch m := ev.Typed.(type) {
	case *JoinMessage:
		if _, wanted := pc.wantedChannels[m.ChannelLogin]; !wanted {
			return
		}
		if _, already := pc.serverChannels[m.ChannelLogin]; already {
			return
		}
		pc.serverChannels[m.ChannelLogin] = struct{}{}
		p.updateChannelGauges()
	case *PartMessage:
		if _, ok := pc.serverChannels[m.ChannelLogin]; ok {
			delete(pc.serverChannels, m.ChannelLogin)
			p.updateChannelGauges()
		}
	}
}

// forwardToApp applies whisper-source election (spec §4.5: exactly one
// connection's whispers are forwarded, to avoid duplicate delivery when
// several connections share membership in the same channels) and then
// forwards both the typed and generic form, matching Connection's own
// typed-then-generic rule.
func (p *Pool) forwardToApp(connID uint64, ev ConnServerMessageEvent) {
	if _, ok := ev.Typed.(*WhisperMessage); ok {
		if !p.acceptWhisper(connID) {
			return
		}
	}
	if ev.Typed != nil {
		p.emitToApp(ev.Typed)
	}
	if ev.Generic != nil {
		p.emitToApp(ev.Generic)
	}
}

func (p *Pool) acceptWhisper(connID uint64) bool {
	if p.whisperConnID == nil {
		id := connID
		p.whisperConnID = &id
		return true
	}
	return *p.whisperConnID == connID
}

func (p *Pool) emitToApp(msg ServerMessage) {
	select {
	case p.incoming <- msg:
	case <-p.closed:
	}
}

// handleConnClosed removes a failed or deliberately closed connection and
// redistributes whichever of its channels are still in the global wanted
// set (spec §4.5 failure recovery), unless the pool is closing. If that empties the pool while it is
// not shutting down, it opens a replacement immediately so joins already
// in flight have somewhere to land.
func (p *Pool) handleConnClosed(connID uint64, ev ConnClosedEvent) {
	pc, ok := p.byID[connID]
	if !ok {
		return
	}
	delete(p.byID, connID)
	for i, x := range p.connections {
		if x == pc {
			p.connections = append(p.connections[:i], p.connections[i+1:]...)
			break
		}
	}
	if p.whisperConnID != nil && *p.whisperConnID == connID {
		p.whisperConnID = nil
	}

	p.logger.Warn("pool connection closed, redistributing channels",
		zap.Uint64("conn_id", connID),
		zap.Error(ev.Cause),
		zap.Int("channels", len(ev.Channels)),
	)

	for ch := range ev.Channels {
		if _, stillWanted := p.wantedChannels[ch]; stillWanted && !p.closing {
			p.assignChannel(ch, nil)
		}
	}

	if len(p.connections) == 0 && !p.closing {
		p.createConnection()
	}
	p.updateChannelGauges()
	p.updateConnectionGauges()
}

func (p *Pool) updateChannelGauges() {
	wanted := len(p.wantedChannels)
	server := 0
	for _, pc := range p.connections {
		server += len(pc.serverChannels)
	}
	p.metrics.setChannels("wanted", wanted)
	p.metrics.setChannels("server", server)
}

func (p *Pool) updateConnectionGauges() {
	initializing, open := 0, 0
	for _, pc := range p.connections {
		if pc.reportedState == connStateOpen {
			open++
		} else {
			initializing++
		}
	}
	p.metrics.setConnections("initializing", initializing)
	p.metrics.setConnections("open", open)
}
