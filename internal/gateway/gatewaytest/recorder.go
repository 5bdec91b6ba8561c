// Package gatewaytest provides an in-memory Messenger for tests.
package gatewaytest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"smmpanel/internal/gateway"
)

var ErrUnreachable = errors.New("chat unreachable")

type Message struct {
	ChatID    int64
	MessageID int
	Text      string
	Keyboard  gateway.Keyboard
	Edited    bool
}

// Recorder records every outbound message. Chats listed in Unreachable fail
// with ErrUnreachable; Members backs IsMember.
type Recorder struct {
	mu          sync.Mutex
	messages    []Message
	answered    []string
	unreachable map[int64]bool
	members     map[int64]bool
}

var (
	_ gateway.Messenger         = (*Recorder)(nil)
	_ gateway.CallbackAnswerer  = (*Recorder)(nil)
	_ gateway.MembershipChecker = (*Recorder)(nil)
)

func New() *Recorder {
	return &Recorder{
		unreachable: make(map[int64]bool),
		members:     make(map[int64]bool),
	}
}

func (r *Recorder) SetUnreachable(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unreachable[chatID] = true
}

func (r *Recorder) SetMember(userID int64, member bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[userID] = member
}

func (r *Recorder) Send(_ context.Context, chatID int64, text string, kb gateway.Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable[chatID] {
		return ErrUnreachable
	}
	r.messages = append(r.messages, Message{ChatID: chatID, Text: text, Keyboard: kb})
	return nil
}

func (r *Recorder) Edit(_ context.Context, chatID int64, messageID int, text string, kb gateway.Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreachable[chatID] {
		return ErrUnreachable
	}
	r.messages = append(r.messages, Message{ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb, Edited: true})
	return nil
}

func (r *Recorder) AnswerCallback(_ context.Context, callbackID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, callbackID)
	return nil
}

func (r *Recorder) IsMember(_ context.Context, _ string, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[userID], nil
}

// Messages returns everything sent or edited so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// To returns the messages delivered to chatID.
func (r *Recorder) To(chatID int64) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the latest message for chatID, or a zero Message.
func (r *Recorder) Last(chatID int64) Message {
	msgs := r.To(chatID)
	if len(msgs) == 0 {
		return Message{}
	}
	return msgs[len(msgs)-1]
}

// Contains reports whether any message to chatID contains substr.
func (r *Recorder) Contains(chatID int64, substr string) bool {
	for _, m := range r.To(chatID) {
		if strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}

func (r *Recorder) Answered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.answered...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.answered = nil
}
