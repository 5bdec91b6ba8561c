// Package engine runs the deposit and order dialogs. Each user has at most
// one dialog in flight; its state lives in a session.Store owned by the
// engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"smmpanel/internal/apperr"
	"smmpanel/internal/gateway"
	"smmpanel/internal/logger"
	"smmpanel/internal/menu"
	"smmpanel/internal/models"
	"smmpanel/internal/session"
	"smmpanel/internal/settings"
)

const (
	failureText = "⚠️ Something went wrong, please try again later."
	discardText = "ℹ️ Your previous unfinished request was discarded.\n\n"
)

type Store interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
	GetService(ctx context.Context, id int64) (models.Service, error)
}

type Ledger interface {
	DebitIfSufficient(ctx context.Context, o models.Order) (models.Order, error)
}

type Moderation interface {
	Submit(ctx context.Context, snap settings.Snapshot, d models.Deposit) (models.Deposit, error)
	Operators() []int64
}

type Engine struct {
	sessions   session.Store
	store      Store
	ledger     Ledger
	moderation Moderation
	messenger  gateway.Messenger
	notifier   *gateway.Notifier
	log        *zap.Logger
}

func New(sessions session.Store, store Store, ledger Ledger, moderation Moderation,
	messenger gateway.Messenger, notifier *gateway.Notifier, log *zap.Logger) *Engine {
	return &Engine{
		sessions:   sessions,
		store:      store,
		ledger:     ledger,
		moderation: moderation,
		messenger:  messenger,
		notifier:   notifier,
		log:        logger.OrNop(log).Named("engine"),
	}
}

// IsEntry reports whether ev starts a dialog.
func IsEntry(ev gateway.Event) bool {
	return ev.IsChoice(menu.ChoiceDeposit) ||
		(ev.Kind == gateway.KindMenuChoice && strings.HasPrefix(ev.Payload, menu.ServicePrefix))
}

func IsCancel(ev gateway.Event) bool {
	return ev.IsCommand("cancel") || ev.IsChoice(menu.ChoiceCancel)
}

// Active reports whether userID is inside a dialog.
func (e *Engine) Active(ctx context.Context, userID int64) (bool, error) {
	s, err := e.sessions.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.Active(), nil
}

// Reset drops the dialog in flight, if any, without replying.
func (e *Engine) Reset(ctx context.Context, userID int64) error {
	s, err := e.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !s.Active() {
		return nil
	}
	e.log.Info("dialog discarded", zap.Int64("user_id", userID), zap.String("state", string(s.State)))
	return e.sessions.Clear(ctx, userID)
}

// Handle advances the user's dialog with ev. Entry and cancel events are
// honoured in any state; everything else is read as free text for the
// current step. Returned errors are infrastructure failures; the user has
// already been told.
func (e *Engine) Handle(ctx context.Context, snap settings.Snapshot, ev gateway.Event) error {
	s, err := e.sessions.Get(ctx, ev.UserID)
	if err != nil {
		return e.fail(ctx, ev, err)
	}

	switch {
	case IsCancel(ev):
		return e.cancel(ctx, snap, ev, s)
	case ev.IsChoice(menu.ChoiceDeposit):
		return e.startDeposit(ctx, snap, ev, s)
	case IsEntry(ev):
		return e.selectService(ctx, snap, ev, s)
	}

	text := ev.Text()
	switch s.State {
	case session.AwaitingDepositAmount:
		return e.depositAmount(ctx, snap, ev, s, text)
	case session.AwaitingDepositReference:
		return e.depositReference(ctx, snap, ev, s, text)
	case session.AwaitingOrderLink:
		return e.orderLink(ctx, ev, s, text)
	case session.AwaitingOrderQuantity:
		return e.orderQuantity(ctx, snap, ev, s, text)
	}
	return e.reply(ctx, ev, menu.MainKeyboard(snap), "Please choose an option from the menu.")
}

func cancelKeyboard() gateway.Keyboard {
	return gateway.Keyboard{gateway.Row(gateway.Choice{Label: "❌ Cancel", Data: menu.ChoiceCancel})}
}

func (e *Engine) reply(ctx context.Context, ev gateway.Event, kb gateway.Keyboard, format string, args ...any) error {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	if err := gateway.Reply(ctx, e.messenger, ev, text, kb); err != nil {
		e.log.Warn("reply not delivered",
			zap.String("event_id", ev.ID),
			zap.Int64("user_id", ev.UserID),
			zap.Error(fmt.Errorf("%w: %v", apperr.ErrGatewayUnavailable, err)))
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, ev gateway.Event, err error) error {
	_ = e.reply(ctx, ev, nil, failureText)
	return err
}

// begin replaces whatever dialog was in flight with next.
func (e *Engine) begin(ctx context.Context, userID int64, prev, next session.Session) (string, error) {
	if err := e.sessions.Put(ctx, userID, next); err != nil {
		return "", err
	}
	if prev.Active() {
		e.log.Info("dialog discarded", zap.Int64("user_id", userID), zap.String("state", string(prev.State)))
		return discardText, nil
	}
	return "", nil
}

func (e *Engine) cancel(ctx context.Context, snap settings.Snapshot, ev gateway.Event, s session.Session) error {
	if !s.Active() {
		return e.reply(ctx, ev, menu.MainKeyboard(snap), "Nothing to cancel.")
	}
	if err := e.sessions.Clear(ctx, ev.UserID); err != nil {
		return e.fail(ctx, ev, err)
	}
	return e.reply(ctx, ev, menu.MainKeyboard(snap), "Operation cancelled.")
}

// finish clears the session at the end of a dialog.
func (e *Engine) finish(ctx context.Context, userID int64) {
	if err := e.sessions.Clear(ctx, userID); err != nil {
		e.log.Error("session not cleared", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// --- deposit dialog ---------------------------------------------------------

func (e *Engine) startDeposit(ctx context.Context, snap settings.Snapshot, ev gateway.Event, prev session.Session) error {
	notice, err := e.begin(ctx, ev.UserID, prev, session.Session{State: session.AwaitingDepositAmount})
	if err != nil {
		return e.fail(ctx, ev, err)
	}
	return e.reply(ctx, ev, cancelKeyboard(),
		"%s💳 Deposit Funds\n\nMinimum deposit: %s%s\nEnter the amount you want to deposit:",
		notice, snap.DepositMinimum().String(), snap.Currency())
}

// ParseAmount reads a positive amount with at most two decimal places that is
// not below min.
func ParseAmount(text string, min decimal.Decimal) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%q is not a number: %w", text, apperr.ErrValidation)
	}
	if !amount.IsPositive() || !models.FitsMoneyScale(amount) {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %s: %w", amount, apperr.ErrValidation)
	}
	if amount.LessThan(min) {
		return decimal.Decimal{}, fmt.Errorf("amount %s below minimum %s: %w", amount, min, apperr.ErrValidation)
	}
	return amount, nil
}

func (e *Engine) depositAmount(ctx context.Context, snap settings.Snapshot, ev gateway.Event, s session.Session, text string) error {
	amount, err := ParseAmount(text, snap.DepositMinimum())
	if err != nil {
		return e.reply(ctx, ev, cancelKeyboard(),
			"❌ Minimum deposit amount is %s%s\nPlease enter a valid amount:", snap.DepositMinimum().String(), snap.Currency())
	}

	s.State = session.AwaitingDepositReference
	s.Amount = amount
	if err := e.sessions.Put(ctx, ev.UserID, s); err != nil {
		return e.fail(ctx, ev, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Deposit Instructions\n\n%s\n", snap.Get(settings.KeyDepositInstructions))
	if methods := snap.PaymentNumbers(); len(methods) > 0 {
		b.WriteString("\n")
		for _, m := range methods {
			fmt.Fprintf(&b, "• %s: %s\n", m.Method, m.Number)
		}
	}
	fmt.Fprintf(&b, "\nAmount: %s%s\n\nPlease send the Transaction ID:", amount.String(), snap.Currency())
	return e.reply(ctx, ev, cancelKeyboard(), "%s", b.String())
}

func (e *Engine) depositReference(ctx context.Context, snap settings.Snapshot, ev gateway.Event, s session.Session, text string) error {
	if text == "" {
		return e.reply(ctx, ev, cancelKeyboard(), "Please send the Transaction ID:")
	}

	d, err := e.moderation.Submit(ctx, snap, models.Deposit{UserID: ev.UserID, Amount: s.Amount, TransactionID: text})
	if errors.Is(err, apperr.ErrValidation) {
		return e.reply(ctx, ev, cancelKeyboard(), "Please send the Transaction ID:")
	}
	if err != nil {
		return e.fail(ctx, ev, err)
	}
	e.finish(ctx, ev.UserID)

	return e.reply(ctx, ev, menu.MainKeyboard(snap),
		"✅ Deposit Request Submitted!\n\nRequest #%d for %s%s has been sent for manual approval.\nYou will be notified once it is reviewed.",
		d.ID, d.Amount.String(), snap.Currency())
}

// --- order dialog -----------------------------------------------------------

func (e *Engine) selectService(ctx context.Context, snap settings.Snapshot, ev gateway.Event, prev session.Session) error {
	id, err := strconv.ParseInt(strings.TrimPrefix(ev.Payload, menu.ServicePrefix), 10, 64)
	if err != nil {
		return e.abortSelection(ctx, snap, ev, prev)
	}
	svc, err := e.store.GetService(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && !svc.Active) {
		return e.abortSelection(ctx, snap, ev, prev)
	}
	if err != nil {
		return e.fail(ctx, ev, err)
	}

	notice, err := e.begin(ctx, ev.UserID, prev, session.Session{State: session.AwaitingOrderLink, Service: &svc})
	if err != nil {
		return e.fail(ctx, ev, err)
	}
	return e.reply(ctx, ev, cancelKeyboard(),
		"%s📝 Order: %s\n\nPrice: %s%s per %d\nMin: %d | Max: %d\n\nPlease send the link:",
		notice, svc.Name, svc.Price.String(), snap.Currency(), models.PriceUnit, svc.MinQuantity, svc.MaxQuantity)
}

// abortSelection handles a stale or unknown service: any dialog in flight is
// discarded and the user lands back on the menu.
func (e *Engine) abortSelection(ctx context.Context, snap settings.Snapshot, ev gateway.Event, prev session.Session) error {
	if prev.Active() {
		e.finish(ctx, ev.UserID)
	}
	return e.reply(ctx, ev, menu.BackToMain(), "Service not found.")
}

func (e *Engine) orderLink(ctx context.Context, ev gateway.Event, s session.Session, text string) error {
	if text == "" {
		return e.reply(ctx, ev, cancelKeyboard(), "Please send the link:")
	}
	if s.Service == nil {
		e.finish(ctx, ev.UserID)
		return e.reply(ctx, ev, menu.BackToMain(), "Service not found.")
	}
	s.State = session.AwaitingOrderQuantity
	s.Link = text
	if err := e.sessions.Put(ctx, ev.UserID, s); err != nil {
		return e.fail(ctx, ev, err)
	}
	return e.reply(ctx, ev, cancelKeyboard(), "Now send the quantity (%d - %d):", s.Service.MinQuantity, s.Service.MaxQuantity)
}

// ParseQuantity reads an integer quantity within the service's bounds.
func ParseQuantity(text string, svc models.Service) (int64, error) {
	q, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a whole number: %w", text, apperr.ErrValidation)
	}
	if !svc.Accepts(q) {
		return 0, fmt.Errorf("quantity %d outside %d-%d: %w", q, svc.MinQuantity, svc.MaxQuantity, apperr.ErrValidation)
	}
	return q, nil
}

func (e *Engine) orderQuantity(ctx context.Context, snap settings.Snapshot, ev gateway.Event, s session.Session, text string) error {
	if s.Service == nil {
		e.finish(ctx, ev.UserID)
		return e.reply(ctx, ev, menu.BackToMain(), "Service not found.")
	}
	svc := *s.Service
	qty, err := ParseQuantity(text, svc)
	if err != nil {
		return e.reply(ctx, ev, cancelKeyboard(), "Quantity must be a whole number between %d and %d:", svc.MinQuantity, svc.MaxQuantity)
	}

	total := svc.Cost(qty)
	order, err := e.ledger.DebitIfSufficient(ctx, models.Order{
		UserID:     ev.UserID,
		ServiceID:  svc.ID,
		Link:       s.Link,
		Quantity:   qty,
		TotalPrice: total,
	})
	// the dialog ends whatever the debit outcome
	e.finish(ctx, ev.UserID)

	switch {
	case errors.Is(err, apperr.ErrInsufficientFunds):
		available := "?"
		if u, uerr := e.store.GetUser(ctx, ev.UserID); uerr == nil {
			available = u.Balance.String()
		}
		return e.reply(ctx, ev, menu.MainKeyboard(snap),
			"❌ Insufficient balance!\nRequired: %s%s | Available: %s%s",
			total.String(), snap.Currency(), available, snap.Currency())
	case err != nil:
		return e.fail(ctx, ev, err)
	}

	_ = e.reply(ctx, ev, menu.MainKeyboard(snap),
		"✅ Order Placed Successfully!\n\nService: %s\nLink: %s\nQuantity: %d\nTotal: %s%s\n\nOrder ID: #%d",
		svc.Name, order.Link, order.Quantity, order.TotalPrice.String(), snap.Currency(), order.ID)

	e.notifier.Notify(ctx, e.moderation.Operators(), fmt.Sprintf(
		"🛒 New Order\n\nOrder: #%d\nUser: %d\nService: %s\nLink: %s\nQuantity: %d\nTotal: %s%s",
		order.ID, order.UserID, svc.Name, order.Link, order.Quantity, order.TotalPrice.String(), snap.Currency()), nil)
	return nil
}
