package twitchirc

import "errors"

// Parse errors returned by ParseMessage. Each names a specific grammar
// violation so callers (and tests) can assert on the exact rejection
// reason rather than a generic "malformed" bucket.
var (
	ErrEmptyTagsDeclaration          = errors.New("twitchirc: empty tags declaration")
	ErrNoSpaceAfterTags              = errors.New("twitchirc: no space after tags")
	ErrEmptyPrefixDeclaration        = errors.New("twitchirc: empty prefix declaration")
	ErrNoSpaceAfterPrefix            = errors.New("twitchirc: no space after prefix")
	ErrMalformedCommand              = errors.New("twitchirc: malformed command")
	ErrTooManySpacesInMiddleParams   = errors.New("twitchirc: too many spaces in middle params")
)

// Typed message-layer errors returned by ParseServerMessage. A typed parse
// failure is never fatal to the connection (spec §7); the raw message is
// still forwarded as Generic.
var (
	ErrMissingTag        = errors.New("twitchirc: missing tag")
	ErrMissingTagValue   = errors.New("twitchirc: missing tag value")
	ErrMissingParameter  = errors.New("twitchirc: missing parameter")
	ErrMalformedChannel  = errors.New("twitchirc: malformed channel")
	ErrMalformedTagValue = errors.New("twitchirc: malformed tag value")
	ErrMissingPrefix     = errors.New("twitchirc: missing prefix")
	ErrMissingNickname   = errors.New("twitchirc: missing nickname")
	ErrMismatchedCommand = errors.New("twitchirc: mismatched command")
)

// Connection lifecycle errors (spec §7).
var (
	// ErrConnectionClosed is returned to the caller of an operation
	// attempted against a Connection that has already transitioned to
	// Closed.
	ErrConnectionClosed = errors.New("twitchirc: connection closed")
	// ErrClientClosed is returned to the caller of any Pool operation
	// attempted after Pool.Close.
	ErrClientClosed = errors.New("twitchirc: client closed")
	// ErrLogin is returned when the configured CredentialProvider fails.
	ErrLogin = errors.New("twitchirc: login failed")
	// ErrReconnectCmd marks a connection closed because the server sent
	// RECONNECT.
	ErrReconnectCmd = errors.New("twitchirc: server requested reconnect")
	// ErrPingTimeout marks a connection closed because no PONG arrived
	// within the liveness window.
	ErrPingTimeout = errors.New("twitchirc: ping timeout")
	// ErrClosedByCaller marks a connection closed via an explicit Close
	// call that supplied no specific cause.
	ErrClosedByCaller = errors.New("twitchirc: closed by caller")
	// errIncomingEOF marks a connection closed because the transport's
	// incoming stream ended cleanly (remote close).
	errIncomingEOF = errors.New("twitchirc: incoming stream closed")
)

// Transport-level errors (spec §4.3/§7). A Transport implementation wraps
// its underlying I/O error with one of these via fmt.Errorf("...: %w", ...)
// so callers can tell connect failures from mid-session I/O failures.
var (
	// ErrConnect marks a failure to establish the underlying socket.
	ErrConnect = errors.New("twitchirc: transport connect failed")
	// ErrIncoming marks a failure reading from an established transport.
	ErrIncoming = errors.New("twitchirc: transport read failed")
	// ErrOutgoing marks a failure writing to an established transport.
	ErrOutgoing = errors.New("twitchirc: transport write failed")
)

// LoginValidationError is returned by ValidateLogin.
type LoginValidationError struct {
	Reason string
	// Position and Char are populated only when Reason is "invalid_character".
	Position int
	Char     rune
}

func (e *LoginValidationError) Error() string {
	switch e.Reason {
	case "invalid_character":
		return "twitchirc: invalid character " + string(e.Char) + " in login"
	case "too_long":
		return "twitchirc: login too long"
	case "too_short":
		return "twitchirc: login too short"
	default:
		return "twitchirc: invalid login"
	}
}

// IsInvalidCharacter reports whether err is a LoginValidationError for an
// out-of-grammar character, and if so returns its position and character.
func IsInvalidCharacter(err error) (position int, char rune, ok bool) {
	var lve *LoginValidationError
	if errors.As(err, &lve) && lve.Reason == "invalid_character" {
		return lve.Position, lve.Char, true
	}
	return 0, 0, false
}
