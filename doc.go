// Package twitchirc implements the core of a Twitch IRC chat client: a
// connection pool, per-connection event loop, and IRC wire parser/typed
// event layer. Applications use Pool to join channels, send chat messages,
// and receive a typed stream of incoming server events across a dynamically
// sized set of underlying connections to irc.chat.twitch.tv.
//
// The pieces fit together as:
//
//	application -> Pool -> Connection (event loop) -> Transport -> network
//
// Pool owns N Connections, each driven by its own single-goroutine command
// loop (see Connection). Incoming IRC lines are parsed by ParseMessage into
// an IRCMessage, then dispatched by the typed layer (ParseServerMessage)
// into a ServerMessage before being forwarded to the application.
package twitchirc
