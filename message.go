package twitchirc

import (
	"sort"
	"strings"
)

// Prefix is the optional source of an IRC message: either a bare host, or
// a nick optionally followed by "!user", always followed by "@host" in the
// nick form. Nick == "" distinguishes the host-only form.
type Prefix struct {
	Nick string
	User string
	Host string
}

// String renders the prefix back to wire form (without the leading ':').
func (p *Prefix) String() string {
	if p == nil {
		return ""
	}
	if p.Nick == "" {
		return p.Host
	}
	if p.User == "" {
		return p.Nick + "@" + p.Host
	}
	return p.Nick + "!" + p.User + "@" + p.Host
}

// IRCMessage is the neutral, immutable wire record produced by ParseMessage
// or synthesized by the typed layer for outbound commands. All middle
// params are nonempty and contain no space; only the last param may be
// empty, contain spaces, or start with ":" (the trailing param).
type IRCMessage struct {
	Tags    map[string]string
	Prefix  *Prefix
	Command string
	Params  []string
	// HasTrailing records whether the last entry of Params was sent (or
	// should be sent) using the explicit ":" trailing syntax, even if its
	// content would otherwise also be a legal middle param. This lets
	// Format reproduce the original wire framing exactly.
	HasTrailing bool
}

// Last returns the final parameter, or "" if there are none. This is
// typically the trailing param (message body, notice text, etc).
func (m *IRCMessage) Last() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Tag returns a tag value and whether the tag key was present at all.
func (m *IRCMessage) Tag(key string) (string, bool) {
	if m.Tags == nil {
		return "", false
	}
	v, ok := m.Tags[key]
	return v, ok
}

// ParseMessage parses a single raw IRC line (without the trailing \r\n)
// into an IRCMessage, per the grammar in spec §4.1. It returns one of the
// sentinel parse errors on any grammar violation.
func ParseMessage(line string) (*IRCMessage, error) {
	msg := &IRCMessage{}
	n := len(line)
	pos := 0

	if n > 0 && line[0] == '@' {
		sp := strings.IndexByte(line, ' ')
		if sp == -1 {
			return nil, ErrNoSpaceAfterTags
		}
		tagStr := line[1:sp]
		if tagStr == "" {
			return nil, ErrEmptyTagsDeclaration
		}
		msg.Tags = parseTags(tagStr)
		pos = sp + 1
	}

	if pos < n && line[pos] == ':' {
		rest := line[pos+1:]
		sp := strings.IndexByte(rest, ' ')
		if sp == -1 {
			return nil, ErrNoSpaceAfterPrefix
		}
		prefixStr := rest[:sp]
		if prefixStr == "" {
			return nil, ErrEmptyPrefixDeclaration
		}
		msg.Prefix = parsePrefix(prefixStr)
		pos = pos + 1 + sp + 1
	}

	rest := line[pos:]
	var cmdStr string
	if sp := strings.IndexByte(rest, ' '); sp == -1 {
		cmdStr = rest
		pos = n
	} else {
		cmdStr = rest[:sp]
		pos += sp + 1
	}
	if !isValidCommand(cmdStr) {
		return nil, ErrMalformedCommand
	}
	msg.Command = cmdStr

	for pos < n {
		if line[pos] == ':' {
			msg.Params = append(msg.Params, line[pos+1:])
			msg.HasTrailing = true
			break
		}

		rest := line[pos:]
		sp := strings.IndexByte(rest, ' ')
		if sp == -1 {
			msg.Params = append(msg.Params, rest)
			break
		}
		if sp == 0 {
			return nil, ErrTooManySpacesInMiddleParams
		}
		msg.Params = append(msg.Params, rest[:sp])
		pos += sp + 1
	}

	return msg, nil
}

// Format renders msg back to wire form (without a trailing \r\n). Tags are
// emitted sorted by key for determinism.
func (m *IRCMessage) Format() string {
	var b strings.Builder

	if len(m.Tags) > 0 {
		b.WriteByte('@')
		b.WriteString(formatTags(m.Tags))
		b.WriteByte(' ')
	}

	if m.Prefix != nil {
		b.WriteByte(':')
		b.WriteString(m.Prefix.String())
		b.WriteByte(' ')
	}

	b.WriteString(m.Command)

	for i, p := range m.Params {
		last := i == len(m.Params)-1
		if last && (m.HasTrailing || requiresTrailing(p)) {
			b.WriteString(" :")
			b.WriteString(p)
			break
		}
		b.WriteByte(' ')
		b.WriteString(p)
	}

	return b.String()
}

func requiresTrailing(p string) bool {
	return p == "" || strings.Contains(p, " ") || strings.HasPrefix(p, ":")
}

func isValidCommand(s string) bool {
	if s == "" {
		return false
	}
	allAlpha, allDigit := true, true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
			allAlpha = false
		}
		if c < '0' || c > '9' {
			allDigit = false
		}
	}
	return allAlpha || allDigit
}

func parsePrefix(s string) *Prefix {
	if at := strings.IndexByte(s, '@'); at != -1 {
		left, host := s[:at], s[at+1:]
		if bang := strings.IndexByte(left, '!'); bang != -1 {
			return &Prefix{Nick: left[:bang], User: left[bang+1:], Host: host}
		}
		return &Prefix{Nick: left, Host: host}
	}
	return &Prefix{Host: s}
}

func parseTags(tagStr string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(tagStr, ";") {
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq != -1 {
			tags[pair[:eq]] = decodeTagValue(pair[eq+1:])
		} else {
			tags[pair] = ""
		}
	}
	return tags
}

func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		if v := tags[k]; v != "" {
			b.WriteByte('=')
			b.WriteString(encodeTagValue(v))
		}
	}
	return b.String()
}

// decodeTagValue decodes IRCv3 tag-value escapes: \: -> ; , \s -> SP,
// \\ -> \, \r -> CR, \n -> LF, \<other> -> <other>, dangling trailing
// backslash dropped.
func decodeTagValue(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			break // dangling backslash, dropped
		}
		i++
		switch s[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// encodeTagValue is the inverse of decodeTagValue: decode(encode(x)) == x.
func encodeTagValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ';':
			b.WriteString(`\:`)
		case ' ':
			b.WriteString(`\s`)
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
