package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smmpanel/internal/gateway"
)

type fakeAPI struct {
	sent    []tgbotapi.Chattable
	sendErr error
	member  tgbotapi.ChatMember
	asked   tgbotapi.GetChatMemberConfig
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.sent = append(f.sent, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	f.asked = cfg
	return f.member, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() { f.stopped = true }

func newBot(api *fakeAPI) *Bot {
	return &Bot{api: api, username: "smm_bot", log: zap.NewNop()}
}

func TestToEventCommand(t *testing.T) {
	update := tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 42, UserName: "alice", FirstName: "Alice"},
		Chat:     &tgbotapi.Chat{ID: 42, Type: "private"},
		Text:     "/start 17",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	}}

	ev, ok := ToEvent(update)
	require.True(t, ok)
	assert.Equal(t, gateway.KindCommand, ev.Kind)
	assert.Equal(t, "start", ev.Payload)
	assert.Equal(t, "17", ev.Args)
	assert.Equal(t, int64(42), ev.UserID)
	assert.NotEmpty(t, ev.ID)
}

func TestToEventCallbackAndText(t *testing.T) {
	ev, ok := ToEvent(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 7},
		Data:    "service_3",
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: 7, Type: "private"}},
	}})
	require.True(t, ok)
	assert.Equal(t, gateway.KindMenuChoice, ev.Kind)
	assert.Equal(t, "service_3", ev.Payload)
	assert.Equal(t, 99, ev.MessageID)
	assert.Equal(t, "cb1", ev.CallbackID)

	ev, ok = ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 7},
		Chat: &tgbotapi.Chat{ID: 7, Type: "private"},
		Text: "https://instagram.com/p/x",
	}})
	require.True(t, ok)
	assert.Equal(t, gateway.KindFreeText, ev.Kind)

	_, ok = ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 7},
		Chat: &tgbotapi.Chat{ID: -100, Type: "supergroup"},
		Text: "group chatter",
	}})
	assert.False(t, ok)
}

func TestSendAttachesKeyboard(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api)

	kb := gateway.Keyboard{gateway.Row(gateway.Choice{Label: "Balance", Data: "balance"}, gateway.Choice{Label: "Group", URL: "https://t.me/g"})}
	require.NoError(t, b.Send(context.Background(), 5, "hello", kb))

	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	markup := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, "balance", *markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "https://t.me/g", *markup.InlineKeyboard[0][1].URL)
}

func TestEditIgnoresNotModified(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("Bad Request: message is not modified")}
	b := newBot(api)
	assert.NoError(t, b.Edit(context.Background(), 1, 2, "same", nil))

	api.sendErr = errors.New("Forbidden: bot was blocked by the user")
	assert.Error(t, b.Edit(context.Background(), 1, 2, "same", nil))
}

func TestIsMember(t *testing.T) {
	api := &fakeAPI{member: tgbotapi.ChatMember{Status: "member"}}
	b := newBot(api)

	ok, err := b.IsMember(context.Background(), "https://t.me/yourgroup", 9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "@yourgroup", api.asked.SuperGroupUsername)
	assert.Equal(t, int64(9), api.asked.UserID)

	api.member = tgbotapi.ChatMember{Status: "left"}
	ok, err = b.IsMember(context.Background(), "https://t.me/yourgroup", 9)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.IsMember(context.Background(), "https://t.me/+AbCdEf", 9)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGroupUsername(t *testing.T) {
	tests := []struct {
		link string
		want string
		ok   bool
	}{
		{"https://t.me/yourgroup", "@yourgroup", true},
		{"@channel", "@channel", true},
		{"https://t.me/joinchat/abc", "", false},
		{"https://t.me/+abc", "", false},
		{"https://example.com/group", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			got, ok := GroupUsername(tt.link)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventsStopsOnCancel(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 1)}
	b := newBot(api)
	ctx, cancel := context.WithCancel(context.Background())

	events := b.Events(ctx)
	api.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 1, Type: "private"},
		Text: "hi",
	}}
	ev := <-events
	assert.Equal(t, "hi", ev.Payload)

	cancel()
	for range events {
	}
	assert.True(t, api.stopped)
}
