// Package telegram adapts the Telegram Bot API to the gateway interfaces.
package telegram

import (
	"context"
	"net/url"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"smmpanel/internal/gateway"
	"smmpanel/internal/logger"
)

// botAPI is the part of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api      botAPI
	username string
	log      *zap.Logger
}

var (
	_ gateway.Messenger         = (*Bot)(nil)
	_ gateway.CallbackAnswerer  = (*Bot)(nil)
	_ gateway.MembershipChecker = (*Bot)(nil)
)

// New connects to the Bot API with token.
func New(token string, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Bot{api: api, username: api.Self.UserName, log: logger.OrNop(log).Named("telegram")}, nil
}

// Username is the bot's @handle without the at sign, used for referral links.
func (b *Bot) Username() string {
	return b.username
}

func (b *Bot) Send(ctx context.Context, chatID int64, text string, kb gateway.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if markup, ok := inlineMarkup(kb); ok {
		msg.ReplyMarkup = markup
	}
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) Edit(ctx context.Context, chatID int64, messageID int, text string, kb gateway.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if markup, ok := inlineMarkup(kb); ok {
		edit.ReplyMarkup = &markup
	}
	_, err := b.api.Send(edit)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// IsMember checks membership of the public group behind groupLink. Invite
// links cannot be resolved to a chat, so they are treated as satisfied.
func (b *Bot) IsMember(ctx context.Context, groupLink string, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	group, ok := GroupUsername(groupLink)
	if !ok {
		b.log.Debug("group link is not a public username, skipping membership check", zap.String("link", groupLink))
		return true, nil
	}

	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{SuperGroupUsername: group, UserID: userID},
	})
	if err != nil {
		return false, err
	}
	switch member.Status {
	case "creator", "administrator", "member":
		return true, nil
	case "restricted":
		return member.IsMember, nil
	default:
		return false, nil
	}
}

// Events streams updates as gateway events until ctx is cancelled.
func (b *Bot) Events(ctx context.Context) <-chan gateway.Event {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := b.api.GetUpdatesChan(cfg)

	out := make(chan gateway.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				ev, ok := ToEvent(update)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					b.api.StopReceivingUpdates()
					return
				}
			}
		}
	}()
	return out
}

// ToEvent converts a private-chat message or a button press. Other updates
// are ignored.
func ToEvent(update tgbotapi.Update) (gateway.Event, bool) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.From == nil {
			return gateway.Event{}, false
		}
		ev := newEvent(cq.From)
		ev.Kind = gateway.KindMenuChoice
		ev.Payload = cq.Data
		ev.CallbackID = cq.ID
		if cq.Message != nil {
			ev.MessageID = cq.Message.MessageID
			if cq.Message.Chat != nil {
				ev.ChatID = cq.Message.Chat.ID
			}
		}
		return ev, true

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || (msg.Chat != nil && !msg.Chat.IsPrivate()) {
			return gateway.Event{}, false
		}
		ev := newEvent(msg.From)
		if msg.Chat != nil {
			ev.ChatID = msg.Chat.ID
		}
		if msg.IsCommand() {
			ev.Kind = gateway.KindCommand
			ev.Payload = msg.Command()
			ev.Args = strings.TrimSpace(msg.CommandArguments())
		} else {
			ev.Kind = gateway.KindFreeText
			ev.Payload = msg.Text
		}
		return ev, true
	}
	return gateway.Event{}, false
}

func newEvent(from *tgbotapi.User) gateway.Event {
	return gateway.Event{
		ID:        uuid.NewString(),
		UserID:    from.ID,
		ChatID:    from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}
}

func inlineMarkup(kb gateway.Keyboard) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(kb) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, c := range row {
			if c.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(c.Label, c.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
			}
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// GroupUsername turns https://t.me/name or @name into "@name". Invite links
// (t.me/+hash, t.me/joinchat/hash) report false.
func GroupUsername(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if strings.HasPrefix(link, "@") {
		return link, len(link) > 1
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Host)
	if host != "t.me" && host != "telegram.me" {
		return "", false
	}
	path := strings.Trim(u.Path, "/")
	if path == "" || strings.Contains(path, "/") || strings.HasPrefix(path, "+") {
		return "", false
	}
	return "@" + path, true
}
