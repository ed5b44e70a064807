package twitchirc

import (
	"testing"
	"time"
)

func parseTyped(t *testing.T, line string) ServerMessage {
	t.Helper()
	raw, err := ParseMessage(line)
	if err != nil {
		t.Fatalf("ParseMessage(%q) failed: %v", line, err)
	}
	msg, err := ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage(%q) failed: %v", line, err)
	}
	return msg
}

func TestParseClearChatUserTimedOut(t *testing.T) {
	line := "@ban-duration=1;room-id=11148817;target-user-id=148973258;tmi-sent-ts=1594553828245 :tmi.twitch.tv CLEARCHAT #pajlada :fabzeef"
	got, ok := parseTyped(t, line).(*ClearChatMessage)
	if !ok {
		t.Fatalf("got %T, want *ClearChatMessage", parseTyped(t, line))
	}
	if got.ChannelLogin != "pajlada" {
		t.Errorf("ChannelLogin = %q, want pajlada", got.ChannelLogin)
	}
	action, ok := got.Action.(UserTimedOut)
	if !ok {
		t.Fatalf("Action = %#v, want UserTimedOut", got.Action)
	}
	if action.UserLogin != "fabzeef" || action.UserID != "148973258" {
		t.Errorf("Action = %#v", action)
	}
	if action.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", action.Duration)
	}
	want := time.Date(2020, 7, 12, 12, 17, 8, 245000000, time.UTC)
	if !got.ServerTimestamp.Equal(want) {
		t.Errorf("ServerTimestamp = %v, want %v", got.ServerTimestamp, want)
	}
}

func TestParseHostTargetOn(t *testing.T) {
	line := ":tmi.twitch.tv HOSTTARGET #randers :leebaxd 0"
	got, ok := parseTyped(t, line).(*HostTargetMessage)
	if !ok {
		t.Fatalf("got %T, want *HostTargetMessage", parseTyped(t, line))
	}
	if got.ChannelLogin != "randers" {
		t.Errorf("ChannelLogin = %q, want randers", got.ChannelLogin)
	}
	on, ok := got.Action.(HostModeOn)
	if !ok {
		t.Fatalf("Action = %#v, want HostModeOn", got.Action)
	}
	if on.HostedChannelLogin != "leebaxd" {
		t.Errorf("HostedChannelLogin = %q, want leebaxd", on.HostedChannelLogin)
	}
	if on.ViewerCount == nil || *on.ViewerCount != 0 {
		t.Errorf("ViewerCount = %v, want Some(0)", on.ViewerCount)
	}
}

func TestParseRoomState(t *testing.T) {
	line := "@emote-only=1;followers-only=10;r9k=1;room-id=40286300;slow=5;subs-only=1 :tmi.twitch.tv ROOMSTATE #randers"
	got, ok := parseTyped(t, line).(*RoomStateMessage)
	if !ok {
		t.Fatalf("got %T, want *RoomStateMessage", parseTyped(t, line))
	}
	if got.EmoteOnly == nil || !*got.EmoteOnly {
		t.Errorf("EmoteOnly = %v, want Some(true)", got.EmoteOnly)
	}
	if got.FollowersOnly == nil || !got.FollowersOnly.Enabled || got.FollowersOnly.Duration != 10*time.Minute {
		t.Errorf("FollowersOnly = %#v, want Enabled(10m)", got.FollowersOnly)
	}
	if got.R9K == nil || !*got.R9K {
		t.Errorf("R9K = %v, want Some(true)", got.R9K)
	}
	if got.SlowMode == nil || *got.SlowMode != 5*time.Second {
		t.Errorf("SlowMode = %v, want Some(5s)", got.SlowMode)
	}
	if got.SubscribersOnly == nil || !*got.SubscribersOnly {
		t.Errorf("SubscribersOnly = %v, want Some(true)", got.SubscribersOnly)
	}
}

func TestParseRoomStateFollowersDisabled(t *testing.T) {
	line := "@followers-only=-1;room-id=1 :tmi.twitch.tv ROOMSTATE #pajlada"
	got, ok := parseTyped(t, line).(*RoomStateMessage)
	if !ok {
		t.Fatalf("got %T, want *RoomStateMessage", parseTyped(t, line))
	}
	if got.FollowersOnly == nil || got.FollowersOnly.Enabled {
		t.Errorf("FollowersOnly = %#v, want Disabled", got.FollowersOnly)
	}
}

func TestParseUserNoticeSubGiftAnonymous(t *testing.T) {
	line := "@badge-info=;badges=;color=;display-name=AnAnonymousGifter;emotes=;id=e9176262-8f8e-4c11-ba4c-bdf4859d55e2;login=ananonymousgifter;mod=0;msg-id=subgift;msg-param-gift-months=1;msg-param-months=2;msg-param-origin-id=1234;msg-param-recipient-display-name=Recipient;msg-param-recipient-id=222;msg-param-recipient-user-name=recipient;msg-param-sub-plan-name=Channel\\sSubscription\\s(pajlada);msg-param-sub-plan=1000;room-id=11148817;subscriber=0;system-msg=An\\sanonymous\\suser\\sgifted\\sa\\sTier\\s1\\ssub\\sto\\sRecipient!;tmi-sent-ts=1594571505085;user-id=274598607;user-type= :tmi.twitch.tv USERNOTICE #pajlada"
	got, ok := parseTyped(t, line).(*UserNoticeMessage)
	if !ok {
		t.Fatalf("got %T, want *UserNoticeMessage", parseTyped(t, line))
	}
	gift, ok := got.Event.(SubGift)
	if !ok {
		t.Fatalf("Event = %#v, want SubGift", got.Event)
	}
	if !gift.IsSenderAnonymous {
		t.Errorf("IsSenderAnonymous = false, want true (user-id is AnAnonymousGifter)")
	}
	if gift.CumulativeMonths != 2 {
		t.Errorf("CumulativeMonths = %d, want 2", gift.CumulativeMonths)
	}
	if gift.NumGiftedMonths != 1 {
		t.Errorf("NumGiftedMonths = %d, want 1", gift.NumGiftedMonths)
	}
	if gift.Recipient.Login != "recipient" {
		t.Errorf("Recipient.Login = %q, want recipient", gift.Recipient.Login)
	}
}

func TestParseUserNoticeUnknownMsgID(t *testing.T) {
	line := "@id=1;login=randers;msg-id=some-future-event;room-id=1;system-msg=hi;tmi-sent-ts=1;user-id=2;display-name=randers :tmi.twitch.tv USERNOTICE #pajlada"
	got, ok := parseTyped(t, line).(*UserNoticeMessage)
	if !ok {
		t.Fatalf("got %T, want *UserNoticeMessage", parseTyped(t, line))
	}
	if _, ok := got.Event.(UnknownUserNoticeEvent); !ok {
		t.Errorf("Event = %#v, want UnknownUserNoticeEvent", got.Event)
	}
	if got.EventID != "some-future-event" {
		t.Errorf("EventID = %q, want some-future-event", got.EventID)
	}
}

// TestParseUserNoticeLiteralActionText matches the real twitch-irc test
// corpus's "sneaky action" USERNOTICE case: a message_text that happens to
// start with the literal word "ACTION" but carries no \x01 CTCP envelope.
// USERNOTICE's message_text is the raw trailing param verbatim; unlike
// PRIVMSG/CLEARMSG it never attempts ACTION unwrapping.
func TestParseUserNoticeLiteralActionText(t *testing.T) {
	line := `@badge-info=subscriber/23;badges=moderator/1,subscriber/12;color=#19E6E6;display-name=randers;emotes=25:7-11,23-27/499:29-30;id=8c2918c2-adf4-4208-a554-8a72d016de70;login=randers;mod=1;msg-id=resub;msg-param-cumulative-months=23;msg-param-months=0;msg-param-should-share-streak=0;msg-param-sub-plan-name=sub;msg-param-sub-plan=1000;room-id=11148817;subscriber=1;system-msg=randers\ssubscribed;tmi-sent-ts=1595497450553;user-id=40286300;user-type=mod :tmi.twitch.tv USERNOTICE #pajlada :ACTION Kappa TEST TEST Kappa :)`
	got, ok := parseTyped(t, line).(*UserNoticeMessage)
	if !ok {
		t.Fatalf("got %T, want *UserNoticeMessage", parseTyped(t, line))
	}
	if got.MessageText == nil || *got.MessageText != "ACTION Kappa TEST TEST Kappa :)" {
		t.Fatalf("MessageText = %v, want %q", got.MessageText, "ACTION Kappa TEST TEST Kappa :)")
	}
	wantEmotes := []Emote{
		{ID: "25", Start: 7, End: 12, Code: "Kappa"},
		{ID: "25", Start: 23, End: 28, Code: "Kappa"},
		{ID: "499", Start: 29, End: 31, Code: ":)"},
	}
	if len(got.Emotes) != len(wantEmotes) {
		t.Fatalf("Emotes = %#v, want %#v", got.Emotes, wantEmotes)
	}
	for i, e := range wantEmotes {
		if got.Emotes[i] != e {
			t.Errorf("Emotes[%d] = %#v, want %#v", i, got.Emotes[i], e)
		}
	}
}

func TestParsePrivmsgAction(t *testing.T) {
	line := "@user-id=1;display-name=ronni :ronni!ronni@ronni.tmi.twitch.tv PRIVMSG #pajlada :\x01ACTION waves\x01"
	got, ok := parseTyped(t, line).(*PrivmsgMessage)
	if !ok {
		t.Fatalf("got %T, want *PrivmsgMessage", parseTyped(t, line))
	}
	if !got.Action {
		t.Errorf("Action = false, want true")
	}
	if got.MessageText != "waves" {
		t.Errorf("MessageText = %q, want %q", got.MessageText, "waves")
	}
}

func TestParseWhisper(t *testing.T) {
	line := "@badges=;color=;display-name=pajlada;emotes=;message-id=306;thread-id=274598607_27620241;turbo=0;user-id=274598607;user-type= :pajlada!pajlada@pajlada.tmi.twitch.tv WHISPER randers :Riftey"
	got, ok := parseTyped(t, line).(*WhisperMessage)
	if !ok {
		t.Fatalf("got %T, want *WhisperMessage", parseTyped(t, line))
	}
	if got.RecipientLogin != "randers" {
		t.Errorf("RecipientLogin = %q, want randers", got.RecipientLogin)
	}
	if got.Sender.Login != "pajlada" || got.Sender.ID != "274598607" {
		t.Errorf("Sender = %#v", got.Sender)
	}
	if got.MessageText != "Riftey" {
		t.Errorf("MessageText = %q, want Riftey", got.MessageText)
	}
}

func TestParseServerMessageGenericFallback(t *testing.T) {
	got := parseTyped(t, ":tmi.twitch.tv 421 pajlada WEIRDCMD :Unknown command")
	if _, ok := got.(*GenericMessage); !ok {
		t.Fatalf("got %T, want *GenericMessage", got)
	}
}

func TestParseServerMessageTypedFailureIsNonFatal(t *testing.T) {
	raw, err := ParseMessage(":tmi.twitch.tv CLEARCHAT #pajlada")
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	_, err = ParseServerMessage(raw)
	if err == nil {
		t.Fatalf("expected a typed parse error for a CLEARCHAT with no room-id tag")
	}
}
