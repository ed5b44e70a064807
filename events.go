package twitchirc

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ServerMessage is the typed-layer counterpart of an IRCMessage: every
// concrete type below represents one Twitch IRC command, parsed into its
// semantic fields. IRCMessage returns the raw message it was parsed from,
// so a caller that only cares about specific commands can still fall back
// to the wire representation.
type ServerMessage interface {
	IRCMessage() *IRCMessage
}

// TwitchUser identifies a chat participant by id, login (lowercase) name,
// and display name.
type TwitchUser struct {
	ID    string
	Login string
	Name  string
}

// Badge is one entry of a badges or badge-info tag, e.g. "subscriber/12".
type Badge struct {
	Name    string
	Version string
}

// Emote is one occurrence of an emote inside a message's text. Start and
// End are rune offsets into the message text, End exclusive.
type Emote struct {
	ID    string
	Start int
	End   int
	Code  string
}

// RGBColor is a parsed Twitch display-name/whisper color tag value.
type RGBColor struct {
	R, G, B uint8
}

// GenericMessage wraps any IRCMessage whose command has no dedicated
// typed representation, or whose typed parse failed. The pool/connection
// layer always forwards a GenericMessage; it forwards the corresponding
// typed message alongside it only when parsing that command succeeded.
type GenericMessage struct {
	Source *IRCMessage
}

func (m *GenericMessage) IRCMessage() *IRCMessage { return m.Source }

// PingMessage is a server-initiated liveness check.
type PingMessage struct{ Source *IRCMessage }

func (m *PingMessage) IRCMessage() *IRCMessage { return m.Source }

// PongMessage replies to a client PING.
type PongMessage struct{ Source *IRCMessage }

func (m *PongMessage) IRCMessage() *IRCMessage { return m.Source }

// ReconnectMessage tells the client to reconnect and rejoin its channels.
type ReconnectMessage struct{ Source *IRCMessage }

func (m *ReconnectMessage) IRCMessage() *IRCMessage { return m.Source }

// JoinMessage echoes a channel join, either our own or another user's.
type JoinMessage struct {
	ChannelLogin string
	UserLogin    string
	Source       *IRCMessage
}

func (m *JoinMessage) IRCMessage() *IRCMessage { return m.Source }

// PartMessage echoes a channel part.
type PartMessage struct {
	ChannelLogin string
	UserLogin    string
	Source       *IRCMessage
}

func (m *PartMessage) IRCMessage() *IRCMessage { return m.Source }

// NoticeMessage is a user-facing notice, e.g. a failed login or command
// acknowledgement. ChannelLogin and MessageID are nil when Twitch omits
// them, which happens for notices about the connection itself.
type NoticeMessage struct {
	ChannelLogin *string
	MessageText  string
	MessageID    *string
	Source       *IRCMessage
}

func (m *NoticeMessage) IRCMessage() *IRCMessage { return m.Source }

// PrivmsgMessage is a chat message sent to a channel.
type PrivmsgMessage struct {
	ChannelLogin string
	MessageText  string
	Action       bool
	Sender       TwitchUser
	BadgeInfo    []Badge
	Badges       []Badge
	Bits         *int
	NameColor    RGBColor
	Emotes       []Emote
	Source       *IRCMessage
}

func (m *PrivmsgMessage) IRCMessage() *IRCMessage { return m.Source }

// ClearChatAction distinguishes the three meanings of a CLEARCHAT message.
type ClearChatAction interface{ isClearChatAction() }

// ChatCleared means a moderator cleared the entire chat history.
type ChatCleared struct{}

func (ChatCleared) isClearChatAction() {}

// UserBanned means a user was permanently banned.
type UserBanned struct {
	UserLogin string
	UserID    string
}

func (UserBanned) isClearChatAction() {}

// UserTimedOut means a user was temporarily banned.
type UserTimedOut struct {
	UserLogin string
	UserID    string
	Duration  time.Duration
}

func (UserTimedOut) isClearChatAction() {}

// ClearChatMessage represents the CLEARCHAT command.
type ClearChatMessage struct {
	ChannelLogin    string
	ChannelID       string
	Action          ClearChatAction
	ServerTimestamp time.Time
	Source          *IRCMessage
}

func (m *ClearChatMessage) IRCMessage() *IRCMessage { return m.Source }

// ClearMsgMessage represents a single deleted chat message.
type ClearMsgMessage struct {
	ChannelLogin    string
	SenderLogin     string
	MessageID       string
	MessageText     string
	IsAction        bool
	ServerTimestamp time.Time
	Source          *IRCMessage
}

func (m *ClearMsgMessage) IRCMessage() *IRCMessage { return m.Source }

// HostTargetAction distinguishes host mode being enabled or disabled.
type HostTargetAction interface{ isHostTargetAction() }

// HostModeOn means the channel started hosting another channel.
type HostModeOn struct {
	HostedChannelLogin string
	ViewerCount        *int
}

func (HostModeOn) isHostTargetAction() {}

// HostModeOff means the channel stopped hosting.
type HostModeOff struct {
	ViewerCount *int
}

func (HostModeOff) isHostTargetAction() {}

// HostTargetMessage represents the HOSTTARGET command.
type HostTargetMessage struct {
	ChannelLogin string
	Action       HostTargetAction
	Source       *IRCMessage
}

func (m *HostTargetMessage) IRCMessage() *IRCMessage { return m.Source }

// FollowersOnlyMode is a parsed followers-only ROOMSTATE setting.
type FollowersOnlyMode struct {
	Enabled bool
	// Duration is the minimum following time required to chat. Only
	// meaningful when Enabled is true; a zero Duration with Enabled true
	// means all followers may chat regardless of following time.
	Duration time.Duration
}

// RoomStateMessage carries a channel's chat settings. Every field is a
// pointer because ROOMSTATE is sent both in full (on join) and as partial
// updates (only the changed setting present).
type RoomStateMessage struct {
	ChannelLogin    string
	ChannelID       string
	EmoteOnly       *bool
	FollowersOnly   *FollowersOnlyMode
	R9K             *bool
	SlowMode        *time.Duration
	SubscribersOnly *bool
	Source          *IRCMessage
}

func (m *RoomStateMessage) IRCMessage() *IRCMessage { return m.Source }

// WhisperMessage is an incoming private user-to-user message.
type WhisperMessage struct {
	RecipientLogin string
	Sender         TwitchUser
	MessageText    string
	NameColor      *RGBColor
	Badges         []Badge
	Emotes         []Emote
	Source         *IRCMessage
}

func (m *WhisperMessage) IRCMessage() *IRCMessage { return m.Source }

// GlobalUserStateMessage is sent once after a successful non-anonymous
// login, describing the logged-in user across all channels.
type GlobalUserStateMessage struct {
	UserID    string
	UserName  string
	BadgeInfo []Badge
	Badges    []Badge
	EmoteSets []string
	NameColor *RGBColor
	Source    *IRCMessage
}

func (m *GlobalUserStateMessage) IRCMessage() *IRCMessage { return m.Source }

// UserStateMessage is sent on joining a channel or after sending a
// PRIVMSG, describing the logged-in user's state in that one channel.
type UserStateMessage struct {
	ChannelLogin string
	UserName     string
	BadgeInfo    []Badge
	Badges       []Badge
	EmoteSets    []string
	NameColor    *RGBColor
	Source       *IRCMessage
}

func (m *UserStateMessage) IRCMessage() *IRCMessage { return m.Source }

// SubGiftPromo describes a seasonal gift-sub promotion, present on some
// giftpaidupgrade/anongiftpaidupgrade USERNOTICE events.
type SubGiftPromo struct {
	TotalGifts int
	PromoName  string
}

// UserNoticeEvent is the msg-id-specific payload of a USERNOTICE message.
type UserNoticeEvent interface{ isUserNoticeEvent() }

// SubOrResub covers both "sub" and "resub" msg-ids, which share the same
// parameters; IsResub tells them apart.
type SubOrResub struct {
	IsResub          bool
	CumulativeMonths int
	StreakMonths     *int
	SubPlan          string
	SubPlanName      string
}

func (SubOrResub) isUserNoticeEvent() {}

// Raid is sent when another channel raids this one.
type Raid struct {
	ViewerCount      int
	ProfileImageURL  string
}

func (Raid) isUserNoticeEvent() {}

// SubGift covers "subgift" and "anonsubgift".
type SubGift struct {
	IsSenderAnonymous bool
	CumulativeMonths  int
	Recipient         TwitchUser
	SubPlan           string
	SubPlanName       string
	NumGiftedMonths   int
}

func (SubGift) isUserNoticeEvent() {}

// SubMysteryGift precedes a wave of SubGift events from a known gifter.
type SubMysteryGift struct {
	MassGiftCount    int
	SenderTotalGifts int
	SubPlan          string
}

func (SubMysteryGift) isUserNoticeEvent() {}

// AnonSubMysteryGift is the anonymous-gifter variant of SubMysteryGift.
type AnonSubMysteryGift struct {
	MassGiftCount int
	SubPlan       string
}

func (AnonSubMysteryGift) isUserNoticeEvent() {}

// GiftPaidUpgrade fires when a user continues a gift sub from a known
// gifter.
type GiftPaidUpgrade struct {
	GifterLogin string
	GifterName  string
	Promotion   *SubGiftPromo
}

func (GiftPaidUpgrade) isUserNoticeEvent() {}

// AnonGiftPaidUpgrade is the anonymous-gifter variant of GiftPaidUpgrade.
type AnonGiftPaidUpgrade struct {
	Promotion *SubGiftPromo
}

func (AnonGiftPaidUpgrade) isUserNoticeEvent() {}

// Ritual fires when a new chatter uses the rituals feature to say hello.
type Ritual struct {
	RitualName string
}

func (Ritual) isUserNoticeEvent() {}

// BitsBadgeTier fires when a cheer crosses a new bits badge threshold.
type BitsBadgeTier struct {
	Threshold int
}

func (BitsBadgeTier) isUserNoticeEvent() {}

// UnknownUserNoticeEvent covers any msg-id Twitch adds without notice.
// EventID on the enclosing UserNoticeMessage still carries the raw value.
type UnknownUserNoticeEvent struct{}

func (UnknownUserNoticeEvent) isUserNoticeEvent() {}

// UserNoticeMessage represents the USERNOTICE command: "rich events" like
// subs, raids, and gift subs delivered as chat-adjacent notifications.
type UserNoticeMessage struct {
	ChannelLogin    string
	ChannelID       string
	Sender          TwitchUser
	MessageText     *string
	SystemMessage   string
	Event           UserNoticeEvent
	EventID         string
	BadgeInfo       []Badge
	Badges          []Badge
	Emotes          []Emote
	NameColor       *RGBColor
	MessageID       string
	ServerTimestamp time.Time
	Source          *IRCMessage
}

func (m *UserNoticeMessage) IRCMessage() *IRCMessage { return m.Source }

// anAnonymousGifterUserID is the well-known user id Twitch uses as the
// sender of anonymous gift-sub USERNOTICE messages.
const anAnonymousGifterUserID = "274598607"

// ParseServerMessage dispatches msg to the typed parser for its command.
// An unrecognized command is not an error: it returns a *GenericMessage.
// A recognized command whose required tags/params are missing or
// malformed returns a nil ServerMessage and a non-nil error; callers
// should still forward the message as Generic (spec §7).
func ParseServerMessage(msg *IRCMessage) (ServerMessage, error) {
	switch msg.Command {
	case "PRIVMSG":
		return parsePrivmsg(msg)
	case "CLEARCHAT":
		return parseClearChat(msg)
	case "CLEARMSG":
		return parseClearMsg(msg)
	case "HOSTTARGET":
		return parseHostTarget(msg)
	case "ROOMSTATE":
		return parseRoomState(msg)
	case "USERNOTICE":
		return parseUserNotice(msg)
	case "WHISPER":
		return parseWhisper(msg)
	case "GLOBALUSERSTATE":
		return parseGlobalUserState(msg)
	case "USERSTATE":
		return parseUserState(msg)
	case "NOTICE":
		return parseNotice(msg)
	case "JOIN":
		return parseJoin(msg)
	case "PART":
		return parsePart(msg)
	case "PING":
		return &PingMessage{Source: msg}, nil
	case "PONG":
		return &PongMessage{Source: msg}, nil
	case "RECONNECT":
		return &ReconnectMessage{Source: msg}, nil
	default:
		return &GenericMessage{Source: msg}, nil
	}
}

func parsePrivmsg(msg *IRCMessage) (*PrivmsgMessage, error) {
	if msg.Command != "PRIVMSG" {
		return nil, ErrMismatchedCommand
	}
	channelLogin, err := msg.channelLogin()
	if err != nil {
		return nil, err
	}
	messageText, action, err := msg.messageTextAndAction()
	if err != nil {
		return nil, err
	}
	userID, err := msg.requireNonemptyTag("user-id")
	if err != nil {
		return nil, err
	}
	login, err := msg.prefixNickname()
	if err != nil {
		return nil, err
	}
	displayName, err := msg.requireNonemptyTag("display-name")
	if err != nil {
		return nil, err
	}
	badgeInfo, err := parseBadgesTag(msg.Tags["badge-info"])
	if err != nil {
		return nil, err
	}
	badges, err := parseBadgesTag(msg.Tags["badges"])
	if err != nil {
		return nil, err
	}
	var bits *int
	if raw, ok := msg.optionalNonemptyTag("bits"); ok {
		v, err := parseUintTag(raw)
		if err != nil {
			return nil, err
		}
		bits = &v
	}
	color, err := parseColorTag(msg.Tags["color"])
	if err != nil {
		return nil, err
	}
	emotes, err := parseEmotesTag(msg.Tags["emotes"], messageText)
	if err != nil {
		return nil, err
	}

	nameColor := RGBColor{}
	if color != nil {
		nameColor = *color
	}

	return &PrivmsgMessage{
		ChannelLogin: channelLogin,
		MessageText:  messageText,
		Action:       action,
		Sender:       TwitchUser{ID: userID, Login: login, Name: displayName},
		BadgeInfo:    badgeInfo,
		Badges:       badges,
		Bits:         bits,
		NameColor:    nameColor,
		Emotes:       emotes,
		Source:       msg,
	}, nil
}

func parseClearChat(msg *IRCMessage) (*ClearChatMessage, error) {
	if msg.Command != "CLEARCHAT" {
		return nil, ErrMismatchedCommand
	}
	channelLogin, err := msg.channelLogin()
	if err != nil {
		return nil, err
	}
	channelID, err := msg.requireNonemptyTag("room-id")
	if err != nil {
		return nil, err
	}
	tsRaw, err := msg.requireNonemptyTag("tmi-sent-ts")
	if err != nil {
		return nil, err
	}
	serverTimestamp, err := parseTimestampTag(tsRaw)
	if err != nil {
		return nil, err
	}

	var action ClearChatAction
	if userLogin, ok := optionalParam(msg, 1); ok {
		userID, err := msg.requireNonemptyTag("target-user-id")
		if err != nil {
			return nil, err
		}
		if banDuration, ok := msg.optionalNonemptyTag("ban-duration"); ok {
			seconds, err := parseUintTag(banDuration)
			if err != nil {
				return nil, err
			}
			action = UserTimedOut{UserLogin: userLogin, UserID: userID, Duration: time.Duration(seconds) * time.Second}
		} else {
			action = UserBanned{UserLogin: userLogin, UserID: userID}
		}
	} else {
		action = ChatCleared{}
	}

	return &ClearChatMessage{
		ChannelLogin:    channelLogin,
		ChannelID:       channelID,
		Action:          action,
		ServerTimestamp: serverTimestamp,
		Source:          msg,
	}, nil
}

func parseClearMsg(msg *IRCMessage) (*ClearMsgMessage, error) {
	if msg.Command != "CLEARMSG" {
		return nil, ErrMismatchedCommand
	}
	channelLogin, err := msg.channelLogin()
	if err != nil {
		return nil, err
	}
	senderLogin, err := msg.requireNonemptyTag("login")
	if err != nil {
		return nil, err
	}
	messageID, err := msg.requireNonemptyTag("target-msg-id")
	if err != nil {
		return nil, err
	}
	tsRaw, err := msg.requireNonemptyTag("tmi-sent-ts")
	if err != nil {
		return nil, err
	}
	serverTimestamp, err := parseTimestampTag(tsRaw)
	if err != nil {
		return nil, err
	}
	messageText, isAction, err := msg.messageTextAndAction()
	if err != nil {
		return nil, err
	}

	return &ClearMsgMessage{
		ChannelLogin:    channelLogin,
		SenderLogin:     senderLogin,
		MessageID:       messageID,
		MessageText:     messageText,
		IsAction:        isAction,
		ServerTimestamp: serverTimestamp,
		Source:          msg,
	}, nil
}

func parseHostTarget(msg *IRCMessage) (*HostTargetMessage, error) {
	if msg.Command != "HOSTTARGET" {
		return nil, ErrMismatchedCommand
	}
	channelLogin, err := msg.channelLogin()
	if err != nil {
		return nil, err
	}
	param, err := msg.paramAt(1)
	if err != nil {
		return nil, err
	}
	hostedRaw, viewerRaw, ok := strings.Cut(param, " ")
	if !ok {
		return nil, ErrMalformedTagValue
	}

	var viewerCount *int
	if viewerRaw != "-" {
		v, err := strconv.Atoi(viewerRaw)
		if err != nil {
			return nil, ErrMalformedTagValue
		}
		viewerCount = &v
	}

	var action HostTargetAction
	if hostedRaw == "-" {
		action = HostModeOff{ViewerCount: viewerCount}
	} else {
		action = HostModeOn{HostedChannelLogin: hostedRaw, ViewerCount: viewerCount}
	}

	return &HostTargetMessage{ChannelLogin: channelLogin, Action: action, Source: msg}, nil
}

func parseRoomState(msg *IRCMessage) (*RoomStateMessage, error) {
	if msg.Command != "ROOMSTATE" {
		return nil, ErrMismatchedCommand
	}
	channelLogin, err := msg.channelLogin()
	if err != nil {
		return nil, err
	}
	channelID, err := msg.requireNonemptyTag("room-id")
	if err != nil {
		return nil, err
	}

	out := &RoomStateMessage{ChannelLogin: channelLogin, ChannelID: channelID, Source: msg}

	if raw, ok := msg.optionalNonemptyTag("emote-only"); ok {
		v, err := parseBoolTag(raw)
		if err != nil {
			return nil, err
		}
		out.EmoteOnly = &v
	}
	if raw, ok := msg.optionalNonemptyTag("r9k"); ok {
		v, err := parseBoolTag(raw)
		if err != nil {
			return nil, err
		}
		out.R9K = &v
	}
	if raw, ok := msg.optionalNonemptyTag("subs-only"); ok {
		v, err := parseBoolTag(raw)
		if err != nil {
			return nil, err
		}
		out.SubscribersOnly = &v
	}
	if raw, ok := msg.optionalNonemptyTag("slow"); ok {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return nil, ErrMalformedTagValue
		}
		d := time.Duration(seconds) * time.Second
		out.SlowMode = &d
	}
	if raw, ok := msg.optionalNonemptyTag("followers-only"); ok {
		minutes, err := strconv.Atoi(raw)
		if err != nil {
			return nil, ErrMalformedTagValue
		}
		if minutes < 0 {
			out.FollowersOnly = &FollowersOnlyMode{Enabled: false}
		} else {
			out.FollowersOnly = &FollowersOnlyMode{Enabled: true, Duration: time.Duration(minutes) * time.Minute}
		}
	}

	return out, nil
}

func parseUserNotice(msg *IRCMessage) (*UserNoticeMessage, error) {
	if msg.Command != "USERNOTICE" {
		return nil, ErrMismatchedCommand
	}
	channelLogin, err := msg.channelLogin()
	if err != nil {
		return nil, err
	}
	channelID, err := msg.requireNonemptyTag("room-id")
	if err != nil {
		return nil, err
	}
	userID, err := msg.requireNonemptyTag("user-id")
	if err != nil {
		return nil, err
	}
	login, err := msg.requireNonemptyTag("login")
	if err != nil {
		return nil, err
	}
	displayName, err := msg.requireNonemptyTag("display-name")
	if err != nil {
		return nil, err
	}
	sender := TwitchUser{ID: userID, Login: login, Name: displayName}

	eventID, err := msg.requireNonemptyTag("msg-id")
	if err != nil {
		return nil, err
	}

	event, err := parseUserNoticeEvent(msg, eventID, sender)
	if err != nil {
		return nil, err
	}

	var messageText *string
	if t, ok := optionalParam(msg, 1); ok {
		messageText = &t
	}
	var emotes []Emote
	if messageText != nil {
		emotes, err = parseEmotesTag(msg.Tags["emotes"], *messageText)
		if err != nil {
			return nil, err
		}
	}

	systemMessage, err := msg.requireNonemptyTag("system-msg")
	if err != nil {
		return nil, err
	}
	badgeInfo, err := parseBadgesTag(msg.Tags["badge-info"])
	if err != nil {
		return nil, err
	}
	badges, err := parseBadgesTag(msg.Tags["badges"])
	if err != nil {
		return nil, err
	}
	nameColor, err := parseColorTag(msg.Tags["color"])
	if err != nil {
		return nil, err
	}
	messageID, err := msg.requireNonemptyTag("id")
	if err != nil {
		return nil, err
	}
	tsRaw, err := msg.requireNonemptyTag("tmi-sent-ts")
	if err != nil {
		return nil, err
	}
	serverTimestamp, err := parseTimestampTag(tsRaw)
	if err != nil {
		return nil, err
	}

	return &UserNoticeMessage{
		ChannelLogin:    channelLogin,
		ChannelID:       channelID,
		Sender:          sender,
		MessageText:     messageText,
		SystemMessage:   systemMessage,
		Event:           event,
		EventID:         eventID,
		BadgeInfo:       badgeInfo,
		Badges:          badges,
		Emotes:          emotes,
		NameColor:       nameColor,
		MessageID:       messageID,
		ServerTimestamp: serverTimestamp,
		Source:          msg,
	}, nil
}

func parseUserNoticeEvent(msg *IRCMessage, eventID string, sender TwitchUser) (UserNoticeEvent, error) {
	switch {
	case eventID == "sub" || eventID == "resub":
		cumulative, err := msg.requireUintTag("msg-param-cumulative-months")
		if err != nil {
			return nil, err
		}
		shareStreak, err := msg.optionalBoolTag("msg-param-should-share-streak")
		if err != nil {
			return nil, err
		}
		var streak *int
		if shareStreak {
			v, err := msg.requireUintTag("msg-param-streak-months")
			if err != nil {
				return nil, err
			}
			streak = &v
		}
		subPlan, err := msg.requireNonemptyTag("msg-param-sub-plan")
		if err != nil {
			return nil, err
		}
		subPlanName, err := msg.requireNonemptyTag("msg-param-sub-plan-name")
		if err != nil {
			return nil, err
		}
		return SubOrResub{
			IsResub:          eventID == "resub",
			CumulativeMonths: cumulative,
			StreakMonths:     streak,
			SubPlan:          subPlan,
			SubPlanName:      subPlanName,
		}, nil

	case eventID == "raid":
		viewerCount, err := msg.requireUintTag("msg-param-viewerCount")
		if err != nil {
			return nil, err
		}
		profileImageURL, err := msg.requireNonemptyTag("msg-param-profileImageURL")
		if err != nil {
			return nil, err
		}
		return Raid{ViewerCount: viewerCount, ProfileImageURL: profileImageURL}, nil

	case eventID == "subgift" || eventID == "anonsubgift":
		cumulative, err := msg.requireUintTag("msg-param-months")
		if err != nil {
			return nil, err
		}
		recipientID, err := msg.requireNonemptyTag("msg-param-recipient-id")
		if err != nil {
			return nil, err
		}
		recipientLogin, err := msg.requireNonemptyTag("msg-param-recipient-user-name")
		if err != nil {
			return nil, err
		}
		recipientName, err := msg.requireNonemptyTag("msg-param-recipient-display-name")
		if err != nil {
			return nil, err
		}
		subPlan, err := msg.requireNonemptyTag("msg-param-sub-plan")
		if err != nil {
			return nil, err
		}
		subPlanName, err := msg.requireNonemptyTag("msg-param-sub-plan-name")
		if err != nil {
			return nil, err
		}
		numGiftedMonths, err := msg.requireUintTag("msg-param-gift-months")
		if err != nil {
			return nil, err
		}
		return SubGift{
			IsSenderAnonymous: eventID == "anonsubgift" || sender.ID == anAnonymousGifterUserID,
			CumulativeMonths:  cumulative,
			Recipient:         TwitchUser{ID: recipientID, Login: recipientLogin, Name: recipientName},
			SubPlan:           subPlan,
			SubPlanName:       subPlanName,
			NumGiftedMonths:   numGiftedMonths,
		}, nil

	case eventID == "anonsubmysterygift" ||
		(eventID == "submysterygift" && sender.ID == anAnonymousGifterUserID):
		massGiftCount, err := msg.requireUintTag("msg-param-mass-gift-count")
		if err != nil {
			return nil, err
		}
		subPlan, err := msg.requireNonemptyTag("msg-param-sub-plan")
		if err != nil {
			return nil, err
		}
		return AnonSubMysteryGift{MassGiftCount: massGiftCount, SubPlan: subPlan}, nil

	case eventID == "submysterygift":
		massGiftCount, err := msg.requireUintTag("msg-param-mass-gift-count")
		if err != nil {
			return nil, err
		}
		senderTotalGifts, err := msg.requireUintTag("msg-param-sender-count")
		if err != nil {
			return nil, err
		}
		subPlan, err := msg.requireNonemptyTag("msg-param-sub-plan")
		if err != nil {
			return nil, err
		}
		return SubMysteryGift{MassGiftCount: massGiftCount, SenderTotalGifts: senderTotalGifts, SubPlan: subPlan}, nil

	case eventID == "giftpaidupgrade":
		gifterLogin, err := msg.requireNonemptyTag("msg-param-sender-login")
		if err != nil {
			return nil, err
		}
		gifterName, err := msg.requireNonemptyTag("msg-param-sender-name")
		if err != nil {
			return nil, err
		}
		promo, err := parseSubGiftPromo(msg)
		if err != nil {
			return nil, err
		}
		return GiftPaidUpgrade{GifterLogin: gifterLogin, GifterName: gifterName, Promotion: promo}, nil

	case eventID == "anongiftpaidupgrade":
		promo, err := parseSubGiftPromo(msg)
		if err != nil {
			return nil, err
		}
		return AnonGiftPaidUpgrade{Promotion: promo}, nil

	case eventID == "ritual":
		ritualName, err := msg.requireNonemptyTag("msg-param-ritual-name")
		if err != nil {
			return nil, err
		}
		return Ritual{RitualName: ritualName}, nil

	case eventID == "bitsbadgetier":
		threshold, err := msg.requireUintTag("msg-param-threshold")
		if err != nil {
			return nil, err
		}
		return BitsBadgeTier{Threshold: threshold}, nil

	default:
		return UnknownUserNoticeEvent{}, nil
	}
}

func parseSubGiftPromo(msg *IRCMessage) (*SubGiftPromo, error) {
	totalRaw, hasTotal := msg.optionalNonemptyTag("msg-param-promo-gift-total")
	name, hasName := msg.optionalNonemptyTag("msg-param-promo-name")
	if !hasTotal || !hasName {
		return nil, nil
	}
	total, err := parseUintTag(totalRaw)
	if err != nil {
		return nil, err
	}
	return &SubGiftPromo{TotalGifts: total, PromoName: name}, nil
}

func parseWhisper(msg *IRCMessage) (*WhisperMessage, error) {
	if msg.Command != "WHISPER" {
		return nil, ErrMismatchedCommand
	}
	recipientLogin, err := msg.paramAt(0)
	if err != nil {
		return nil, err
	}
	messageText, err := msg.paramAt(1)
	if err != nil {
		return nil, err
	}
	userID, err := msg.requireNonemptyTag("user-id")
	if err != nil {
		return nil, err
	}
	login, err := msg.prefixNickname()
	if err != nil {
		return nil, err
	}
	displayName, err := msg.requireNonemptyTag("display-name")
	if err != nil {
		return nil, err
	}
	badges, err := parseBadgesTag(msg.Tags["badges"])
	if err != nil {
		return nil, err
	}
	nameColor, err := parseColorTag(msg.Tags["color"])
	if err != nil {
		return nil, err
	}
	emotes, err := parseEmotesTag(msg.Tags["emotes"], messageText)
	if err != nil {
		return nil, err
	}

	return &WhisperMessage{
		RecipientLogin: recipientLogin,
		Sender:         TwitchUser{ID: userID, Login: login, Name: displayName},
		MessageText:    messageText,
		NameColor:      nameColor,
		Badges:         badges,
		Emotes:         emotes,
		Source:         msg,
	}, nil
}

func parseGlobalUserState(msg *IRCMessage) (*GlobalUserStateMessage, error) {
	if msg.Command != "GLOBALUSERSTATE" {
		return nil, ErrMismatchedCommand
	}
	userID, err := msg.requireNonemptyTag("user-id")
	if err != nil {
		return nil, err
	}
	userName, err := msg.requireNonemptyTag("display-name")
	if err != nil {
		return nil, err
	}
	badgeInfo, err := parseBadgesTag(msg.Tags["badge-info"])
	if err != nil {
		return nil, err
	}
	badges, err := parseBadgesTag(msg.Tags["badges"])
	if err != nil {
		return nil, err
	}
	emoteSets := parseEmoteSetsTag(msg.Tags["emote-sets"])
	nameColor, err := parseColorTag(msg.Tags["color"])
	if err != nil {
		return nil, err
	}

	return &GlobalUserStateMessage{
		UserID:    userID,
		UserName:  userName,
		BadgeInfo: badgeInfo,
		Badges:    badges,
		EmoteSets: emoteSets,
		NameColor: nameColor,
		Source:    msg,
	}, nil
}

func parseUserState(msg *IRCMessage) (*UserStateMessage, error) {
	if msg.Command != "USERSTATE" {
		return nil, ErrMismatchedCommand
	}
	channelLogin, err := msg.channelLogin()
	if err != nil {
		return nil, err
	}
	userName, err := msg.requireNonemptyTag("display-name")
	if err != nil {
		return nil, err
	}
	badgeInfo, err := parseBadgesTag(msg.Tags["badge-info"])
	if err != nil {
		return nil, err
	}
	badges, err := parseBadgesTag(msg.Tags["badges"])
	if err != nil {
		return nil, err
	}
	emoteSets := parseEmoteSetsTag(msg.Tags["emote-sets"])
	nameColor, err := parseColorTag(msg.Tags["color"])
	if err != nil {
		return nil, err
	}

	return &UserStateMessage{
		ChannelLogin: channelLogin,
		UserName:     userName,
		BadgeInfo:    badgeInfo,
		Badges:       badges,
		EmoteSets:    emoteSets,
		NameColor:    nameColor,
		Source:       msg,
	}, nil
}

func parseNotice(msg *IRCMessage) (*NoticeMessage, error) {
	if msg.Command != "NOTICE" {
		return nil, ErrMismatchedCommand
	}
	messageText, err := msg.paramAt(1)
	if err != nil {
		return nil, err
	}

	var channelLogin *string
	if c, ok := msg.optionalChannelLogin(); ok {
		channelLogin = &c
	}
	var messageID *string
	if id, ok := msg.optionalNonemptyTag("msg-id"); ok {
		messageID = &id
	}

	return &NoticeMessage{ChannelLogin: channelLogin, MessageText: messageText, MessageID: messageID, Source: msg}, nil
}

func parseJoin(msg *IRCMessage) (*JoinMessage, error) {
	if msg.Command != "JOIN" {
		return nil, ErrMismatchedCommand
	}
	channelLogin, err := msg.channelLogin()
	if err != nil {
		return nil, err
	}
	userLogin, err := msg.prefixNickname()
	if err != nil {
		return nil, err
	}
	return &JoinMessage{ChannelLogin: channelLogin, UserLogin: userLogin, Source: msg}, nil
}

func parsePart(msg *IRCMessage) (*PartMessage, error) {
	if msg.Command != "PART" {
		return nil, ErrMismatchedCommand
	}
	channelLogin, err := msg.channelLogin()
	if err != nil {
		return nil, err
	}
	userLogin, err := msg.prefixNickname()
	if err != nil {
		return nil, err
	}
	return &PartMessage{ChannelLogin: channelLogin, UserLogin: userLogin, Source: msg}, nil
}

// --- IRCMessage field accessors used by the typed parsers above ---

func (m *IRCMessage) paramAt(i int) (string, error) {
	if i < 0 || i >= len(m.Params) {
		return "", ErrMissingParameter
	}
	return m.Params[i], nil
}

func optionalParam(m *IRCMessage, i int) (string, bool) {
	if i < 0 || i >= len(m.Params) {
		return "", false
	}
	return m.Params[i], true
}

func (m *IRCMessage) requireTag(key string) (string, error) {
	v, ok := m.Tag(key)
	if !ok {
		return "", ErrMissingTag
	}
	return v, nil
}

func (m *IRCMessage) requireNonemptyTag(key string) (string, error) {
	v, err := m.requireTag(key)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", ErrMissingTagValue
	}
	return v, nil
}

func (m *IRCMessage) optionalNonemptyTag(key string) (string, bool) {
	v, ok := m.Tag(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (m *IRCMessage) requireUintTag(key string) (int, error) {
	v, err := m.requireNonemptyTag(key)
	if err != nil {
		return 0, err
	}
	return parseUintTag(v)
}

func (m *IRCMessage) optionalBoolTag(key string) (bool, error) {
	v, ok := m.optionalNonemptyTag(key)
	if !ok {
		return false, nil
	}
	return parseBoolTag(v)
}

func (m *IRCMessage) channelLogin() (string, error) {
	p, err := m.paramAt(0)
	if err != nil {
		return "", err
	}
	if len(p) < 2 || p[0] != '#' {
		return "", ErrMalformedChannel
	}
	return p[1:], nil
}

func (m *IRCMessage) optionalChannelLogin() (string, bool) {
	if len(m.Params) == 0 {
		return "", false
	}
	p := m.Params[0]
	if len(p) < 2 || p[0] != '#' {
		return "", false
	}
	return p[1:], true
}

func (m *IRCMessage) prefixNickname() (string, error) {
	if m.Prefix == nil || m.Prefix.Nick == "" {
		return "", ErrMissingNickname
	}
	return m.Prefix.Nick, nil
}

const (
	actionPrefix = "ACTION "
	actionSuffix = ""
)

// messageTextAndAction extracts the trailing message param and unwraps a
// CTCP ACTION ("/me") envelope if present.
func (m *IRCMessage) messageTextAndAction() (string, bool, error) {
	text, err := m.paramAt(1)
	if err != nil {
		return "", false, err
	}
	if strings.HasPrefix(text, actionPrefix) && strings.HasSuffix(text, actionSuffix) &&
		len(text) >= len(actionPrefix)+len(actionSuffix) {
		return text[len(actionPrefix) : len(text)-len(actionSuffix)], true, nil
	}
	return text, false, nil
}

// --- tag-value decoders shared across commands ---

func parseBadgesTag(tagValue string) ([]Badge, error) {
	if tagValue == "" {
		return nil, nil
	}
	var badges []Badge
	for _, part := range strings.Split(tagValue, ",") {
		if part == "" {
			continue
		}
		slash := strings.IndexByte(part, '/')
		if slash == -1 {
			return nil, ErrMalformedTagValue
		}
		badges = append(badges, Badge{Name: part[:slash], Version: part[slash+1:]})
	}
	return badges, nil
}

func parseEmotesTag(tagValue, messageText string) ([]Emote, error) {
	if tagValue == "" {
		return nil, nil
	}
	runes := []rune(messageText)
	var emotes []Emote
	for _, group := range strings.Split(tagValue, "/") {
		if group == "" {
			continue
		}
		colon := strings.IndexByte(group, ':')
		if colon == -1 {
			return nil, ErrMalformedTagValue
		}
		id := group[:colon]
		for _, rng := range strings.Split(group[colon+1:], ",") {
			dash := strings.IndexByte(rng, '-')
			if dash == -1 {
				return nil, ErrMalformedTagValue
			}
			start, err1 := strconv.Atoi(rng[:dash])
			end, err2 := strconv.Atoi(rng[dash+1:])
			if err1 != nil || err2 != nil || start < 0 || end < start || end >= len(runes) {
				return nil, ErrMalformedTagValue
			}
			emotes = append(emotes, Emote{
				ID:    id,
				Start: start,
				End:   end + 1,
				Code:  string(runes[start : end+1]),
			})
		}
	}
	sort.Slice(emotes, func(i, j int) bool { return emotes[i].Start < emotes[j].Start })
	return emotes, nil
}

func parseEmoteSetsTag(tagValue string) []string {
	if tagValue == "" {
		return []string{"0"}
	}
	return strings.Split(tagValue, ",")
}

func parseColorTag(tagValue string) (*RGBColor, error) {
	if tagValue == "" {
		return nil, nil
	}
	if len(tagValue) != 7 || tagValue[0] != '#' {
		return nil, ErrMalformedTagValue
	}
	v, err := strconv.ParseUint(tagValue[1:], 16, 32)
	if err != nil {
		return nil, ErrMalformedTagValue
	}
	return &RGBColor{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func parseTimestampTag(tagValue string) (time.Time, error) {
	ms, err := strconv.ParseInt(tagValue, 10, 64)
	if err != nil {
		return time.Time{}, ErrMalformedTagValue
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseBoolTag(tagValue string) (bool, error) {
	switch tagValue {
	case "0", "":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, ErrMalformedTagValue
	}
}

func parseUintTag(tagValue string) (int, error) {
	v, err := strconv.Atoi(tagValue)
	if err != nil || v < 0 {
		return 0, ErrMalformedTagValue
	}
	return v, nil
}
