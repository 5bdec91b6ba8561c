// Package gateway is the narrow messaging surface the storefront talks to:
// inbound user events and outbound send/edit with optional choices.
package gateway

import (
	"context"
	"strings"
)

type Kind int

const (
	KindFreeText Kind = iota
	KindMenuChoice
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindMenuChoice:
		return "menu_choice"
	case KindCommand:
		return "command"
	default:
		return "free_text"
	}
}

// Event is one inbound user action. For commands Payload is the command name
// without the slash and Args holds the rest of the line.
type Event struct {
	ID        string
	UserID    int64
	ChatID    int64
	Username  string
	FirstName string
	LastName  string

	Kind    Kind
	Payload string
	Args    string

	// Set for menu choices so the originating message can be edited.
	MessageID  int
	CallbackID string
}

// Text returns the payload as the user typed it.
func (e Event) Text() string {
	return strings.TrimSpace(e.Payload)
}

func (e Event) IsCommand(name string) bool {
	return e.Kind == KindCommand && e.Payload == name
}

func (e Event) IsChoice(data string) bool {
	return e.Kind == KindMenuChoice && e.Payload == data
}

// Choice is one button. Data is echoed back as a menu-choice payload; URL
// buttons open a link instead.
type Choice struct {
	Label string
	Data  string
	URL   string
}

type Keyboard [][]Choice

// Row is shorthand for a keyboard row.
func Row(choices ...Choice) []Choice {
	return choices
}

type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, kb Keyboard) error
	Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error
}

// CallbackAnswerer is implemented by gateways that must acknowledge button
// presses.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// MembershipChecker verifies that a user joined the community group.
type MembershipChecker interface {
	IsMember(ctx context.Context, groupLink string, userID int64) (bool, error)
}

// Reply edits the message a menu choice came from, or sends a new message
// for typed input. A failed edit falls back to a fresh message.
func Reply(ctx context.Context, m Messenger, ev Event, text string, kb Keyboard) error {
	if ev.Kind == KindMenuChoice && ev.MessageID != 0 {
		if err := m.Edit(ctx, ev.ChatID, ev.MessageID, text, kb); err == nil {
			return nil
		}
	}
	return m.Send(ctx, chatOf(ev), text, kb)
}

func chatOf(ev Event) int64 {
	if ev.ChatID != 0 {
		return ev.ChatID
	}
	return ev.UserID
}
