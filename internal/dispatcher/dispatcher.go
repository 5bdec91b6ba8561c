// Package dispatcher routes inbound gateway events to the menu, the dialog
// engine and the moderation queue. Events of one user are handled one at a
// time and in arrival order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smmpanel/internal/apperr"
	"smmpanel/internal/engine"
	"smmpanel/internal/gateway"
	"smmpanel/internal/logger"
	"smmpanel/internal/menu"
	"smmpanel/internal/metrics"
	"smmpanel/internal/models"
	"smmpanel/internal/moderation"
	"smmpanel/internal/referral"
	"smmpanel/internal/settings"
	"smmpanel/internal/syncutil"
)

const (
	outcomeOK        = "ok"
	outcomeThrottled = "throttled"
	outcomeBanned    = "banned"
	outcomeDenied    = "denied"
	outcomeGated     = "gated"
	outcomeError     = "error"

	notJoinedText = "❌ You have not joined the group yet.\n\n"
	shardBuffer   = 64
)

type Store interface {
	settings.Source
	CreateUser(ctx context.Context, u models.User) (models.User, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Options wires a Dispatcher. Members and Limiter may be nil.
type Options struct {
	Store     Store
	Engine    *engine.Engine
	Queue     *moderation.Queue
	Menu      *menu.Menu
	Referral  *referral.Accountant
	Messenger gateway.Messenger
	Members   gateway.MembershipChecker
	Limiter   *Limiter
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

type Dispatcher struct {
	store     Store
	engine    *engine.Engine
	queue     *moderation.Queue
	menu      *menu.Menu
	referral  *referral.Accountant
	messenger gateway.Messenger
	members   gateway.MembershipChecker
	limiter   *Limiter
	locks     *syncutil.KeyedMutex
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func New(o Options) *Dispatcher {
	return &Dispatcher{
		store:     o.Store,
		engine:    o.Engine,
		queue:     o.Queue,
		menu:      o.Menu,
		referral:  o.Referral,
		messenger: o.Messenger,
		members:   o.Members,
		limiter:   o.Limiter,
		locks:     syncutil.NewKeyedMutex(),
		metrics:   o.Metrics,
		log:       logger.OrNop(o.Log).Named("dispatcher"),
	}
}

// Serve reads events until the channel closes or ctx is done. Events are
// sharded by user over workers goroutines so one user's events stay ordered
// while different users proceed in parallel.
func (d *Dispatcher) Serve(ctx context.Context, events <-chan gateway.Event, workers int) {
	if workers < 1 {
		workers = 1
	}
	shards := make([]chan gateway.Event, workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan gateway.Event, shardBuffer)
		wg.Add(1)
		go func(in <-chan gateway.Event) {
			defer wg.Done()
			for ev := range in {
				d.safeHandle(ctx, ev)
			}
		}(shards[i])
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			shard := shards[uint64(ev.UserID)%uint64(workers)]
			select {
			case shard <- ev:
			case <-ctx.Done():
				break loop
			}
		}
	}

	for _, s := range shards {
		close(s)
	}
	wg.Wait()
	d.log.Info("dispatcher stopped")
}

func (d *Dispatcher) safeHandle(ctx context.Context, ev gateway.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked", zap.String("event_id", ev.ID), zap.Any("panic", r))
		}
	}()
	_ = d.Handle(ctx, ev)
}

// Handle processes one event. Returned errors are infrastructure failures
// that were already logged.
func (d *Dispatcher) Handle(ctx context.Context, ev gateway.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	log := d.log.With(
		zap.String("event_id", ev.ID),
		zap.Int64("user_id", ev.UserID),
		zap.Stringer("kind", ev.Kind))

	unlock := d.locks.Lock(ev.UserID)
	defer unlock()

	d.answer(ctx, ev, log)

	outcome, err := d.route(ctx, ev, log)
	if err != nil {
		outcome = outcomeError
		log.Error("event failed", zap.String("payload", ev.Payload), zap.Error(err))
	} else {
		log.Debug("event handled", zap.String("outcome", outcome))
	}
	d.metrics.Event(ev.Kind.String(), outcome)
	return err
}

func (d *Dispatcher) answer(ctx context.Context, ev gateway.Event, log *zap.Logger) {
	if ev.CallbackID == "" {
		return
	}
	a, ok := d.messenger.(gateway.CallbackAnswerer)
	if !ok {
		return
	}
	if err := a.AnswerCallback(ctx, ev.CallbackID, ""); err != nil {
		log.Debug("callback not answered", zap.Error(err))
	}
}

func (d *Dispatcher) route(ctx context.Context, ev gateway.Event, log *zap.Logger) (string, error) {
	operator := d.queue.IsOperator(ev.UserID)
	snap, err := settings.Load(ctx, d.store)
	if err != nil {
		return "", err
	}

	u, err := d.register(ctx, ev, log)
	if err != nil {
		return "", err
	}
	if u.Banned {
		d.reply(ctx, ev, menu.BannedText, nil, log)
		return outcomeBanned, nil
	}
	if !operator && !d.limiter.Allow(ev.UserID) {
		return outcomeThrottled, nil
	}

	// Restart and operator actions take precedence over an active dialog.
	switch {
	case ev.IsCommand("start"):
		if err := d.engine.Reset(ctx, ev.UserID); err != nil {
			return "", err
		}
		return d.home(ctx, snap, ev, operator, log)
	case ev.IsCommand("admin"):
		if !operator {
			d.reply(ctx, ev, menu.AccessDeniedText, nil, log)
			return outcomeDenied, nil
		}
		p := d.menu.Panel()
		d.reply(ctx, ev, p.Text, p.Keyboard, log)
		return outcomeOK, nil
	case ev.Kind == gateway.KindMenuChoice &&
		(strings.HasPrefix(ev.Payload, moderation.ApprovePrefix) || strings.HasPrefix(ev.Payload, moderation.RejectPrefix)):
		return d.decide(ctx, snap, ev, log)
	case ev.Kind == gateway.KindMenuChoice && menu.IsAdminChoice(ev.Payload):
		if !operator {
			d.reply(ctx, ev, menu.AccessDeniedText, nil, log)
			return outcomeDenied, nil
		}
		return d.admin(ctx, snap, ev, log)
	}

	active, err := d.engine.Active(ctx, ev.UserID)
	if err != nil {
		return "", err
	}
	if !active && !operator && !ev.IsChoice(menu.ChoiceCheck) && !engine.IsCancel(ev) && d.gated(ctx, snap, ev.UserID, log) {
		g := d.menu.GroupGate(snap)
		d.reply(ctx, ev, g.Text, g.Keyboard, log)
		return outcomeGated, nil
	}
	if active || engine.IsEntry(ev) || engine.IsCancel(ev) {
		return outcomeOK, d.engine.Handle(ctx, snap, ev)
	}

	if ev.IsChoice(menu.ChoiceCheck) {
		return d.verify(ctx, snap, ev, operator, log)
	}
	if ev.Kind != gateway.KindMenuChoice {
		w := d.menu.Welcome(snap)
		d.reply(ctx, ev, w.Text, w.Keyboard, log)
		return outcomeOK, nil
	}

	screen, err := d.menu.Show(ctx, snap, ev.UserID, ev.Payload)
	if errors.Is(err, apperr.ErrNotFound) {
		screen, err = d.menu.Welcome(snap), nil
	}
	if err != nil {
		return "", err
	}
	d.reply(ctx, ev, screen.Text, screen.Keyboard, log)
	return outcomeOK, nil
}

// register creates the user on first contact. A /start argument names the
// referrer; it only sticks on creation.
func (d *Dispatcher) register(ctx context.Context, ev gateway.Event, log *zap.Logger) (models.User, error) {
	u := models.User{
		ID:        ev.UserID,
		Username:  ev.Username,
		FirstName: ev.FirstName,
		LastName:  ev.LastName,
	}
	if ev.IsCommand("start") && ev.Args != "" {
		candidate, err := strconv.ParseInt(strings.TrimSpace(ev.Args), 10, 64)
		if err == nil {
			ref, err := d.referral.ValidateReferrer(ctx, ev.UserID, candidate)
			if err != nil {
				return models.User{}, err
			}
			u.ReferredBy = ref
		}
	}

	stored, created, err := d.store.CreateUser(ctx, u)
	if err != nil {
		return models.User{}, err
	}
	if created {
		fields := []zap.Field{zap.String("username", stored.Username)}
		if stored.ReferredBy != nil {
			fields = append(fields, zap.Int64("referred_by", *stored.ReferredBy))
		}
		log.Info("user registered", fields...)
	}
	return stored, nil
}

func (d *Dispatcher) home(ctx context.Context, snap settings.Snapshot, ev gateway.Event, operator bool, log *zap.Logger) (string, error) {
	if !operator && d.gated(ctx, snap, ev.UserID, log) {
		g := d.menu.GroupGate(snap)
		d.reply(ctx, ev, g.Text, g.Keyboard, log)
		return outcomeGated, nil
	}
	w := d.menu.Welcome(snap)
	d.reply(ctx, ev, w.Text, w.Keyboard, log)
	return outcomeOK, nil
}

func (d *Dispatcher) verify(ctx context.Context, snap settings.Snapshot, ev gateway.Event, operator bool, log *zap.Logger) (string, error) {
	if !operator && d.gated(ctx, snap, ev.UserID, log) {
		g := d.menu.GroupGate(snap)
		d.reply(ctx, ev, notJoinedText+g.Text, g.Keyboard, log)
		return outcomeGated, nil
	}
	w := d.menu.Welcome(snap)
	d.reply(ctx, ev, w.Text, w.Keyboard, log)
	return outcomeOK, nil
}

// gated reports whether the group gate blocks userID. Failed checks let the
// user through.
func (d *Dispatcher) gated(ctx context.Context, snap settings.Snapshot, userID int64, log *zap.Logger) bool {
	if !snap.GroupCheck() || d.members == nil {
		return false
	}
	ok, err := d.members.IsMember(ctx, snap.Get(settings.KeyGroupLink), userID)
	if err != nil {
		log.Warn("membership check failed", zap.Error(err))
		return false
	}
	return !ok
}

func (d *Dispatcher) decide(ctx context.Context, snap settings.Snapshot, ev gateway.Event, log *zap.Logger) (string, error) {
	approve := strings.HasPrefix(ev.Payload, moderation.ApprovePrefix)
	raw := strings.TrimPrefix(strings.TrimPrefix(ev.Payload, moderation.ApprovePrefix), moderation.RejectPrefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		d.reply(ctx, ev, "❌ Deposit not found.", nil, log)
		return outcomeOK, nil
	}

	var dep models.Deposit
	if approve {
		dep, err = d.queue.Approve(ctx, snap, id, ev.UserID)
	} else {
		dep, err = d.queue.Reject(ctx, snap, id, ev.UserID)
	}

	switch {
	case err == nil:
		verb := "rejected"
		if approve {
			verb = "approved"
		}
		d.reply(ctx, ev, fmt.Sprintf("✅ Deposit #%d %s.\n\nUser: %d\nAmount: %s%s\nTRX ID: %s",
			dep.ID, verb, dep.UserID, dep.Amount.String(), snap.Currency(), dep.TransactionID), nil, log)
		return outcomeOK, nil
	case errors.Is(err, apperr.ErrDenied):
		d.reply(ctx, ev, menu.AccessDeniedText, nil, log)
		return outcomeDenied, nil
	case errors.Is(err, apperr.ErrAlreadyDecided):
		d.reply(ctx, ev, fmt.Sprintf("⚠️ Deposit #%d was already %s.", id, dep.Status), nil, log)
		return outcomeOK, nil
	case errors.Is(err, apperr.ErrNotFound):
		d.reply(ctx, ev, fmt.Sprintf("❌ Deposit #%d not found.", id), nil, log)
		return outcomeOK, nil
	}
	return "", err
}

func (d *Dispatcher) admin(ctx context.Context, snap settings.Snapshot, ev gateway.Event, log *zap.Logger) (string, error) {
	var screen menu.Screen
	switch ev.Payload {
	case menu.AdminPending:
		pending, err := d.queue.Pending(ctx)
		if err != nil {
			return "", err
		}
		screen = d.menu.PendingDeposits(snap, pending, moderation.DecisionKeyboard)
	case menu.AdminStatistics:
		s, err := d.menu.AdminStatistics(ctx, snap)
		if err != nil {
			return "", err
		}
		screen = s
	case menu.AdminGroupSettings:
		screen = d.menu.GroupSettings(snap)
	case menu.AdminToggleGroup:
		next := "1"
		if snap.GroupCheck() {
			next = "0"
		}
		if err := d.store.SetSetting(ctx, settings.KeyGroupCheck, next); err != nil {
			return "", err
		}
		log.Info("group check toggled", zap.String("enabled", next))
		fresh, err := settings.Load(ctx, d.store)
		if err != nil {
			return "", err
		}
		screen = d.menu.GroupSettings(fresh)
	default:
		screen = d.menu.Panel()
	}
	d.reply(ctx, ev, screen.Text, screen.Keyboard, log)
	return outcomeOK, nil
}

func (d *Dispatcher) reply(ctx context.Context, ev gateway.Event, text string, kb gateway.Keyboard, log *zap.Logger) {
	if err := gateway.Reply(ctx, d.messenger, ev, text, kb); err != nil {
		log.Warn("reply not delivered", zap.Error(fmt.Errorf("%w: %v", apperr.ErrGatewayUnavailable, err)))
	}
}
