// Package moderation gates deposits behind a single operator decision.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"smmpanel/internal/apperr"
	"smmpanel/internal/gateway"
	"smmpanel/internal/logger"
	"smmpanel/internal/metrics"
	"smmpanel/internal/models"
	"smmpanel/internal/settings"
)

const (
	ApprovePrefix = "approve_"
	RejectPrefix  = "reject_"
)

type Store interface {
	CreateDeposit(ctx context.Context, d models.Deposit) (models.Deposit, error)
	ListDeposits(ctx context.Context, status models.DepositStatus) ([]models.Deposit, error)
	RejectDeposit(ctx context.Context, id, operatorID int64, at time.Time) (models.Deposit, error)
}

// Settler applies an approval together with its balance credit.
type Settler interface {
	SettleDeposit(ctx context.Context, depositID, operatorID int64) (models.Deposit, models.User, error)
}

type ReferralHook interface {
	OnApproved(ctx context.Context, d models.Deposit, bonus decimal.Decimal) (bool, error)
}

type Queue struct {
	store     Store
	ledger    Settler
	referral  ReferralHook
	notifier  *gateway.Notifier
	operators map[int64]bool
	order     []int64
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

func New(store Store, ledger Settler, referral ReferralHook, notifier *gateway.Notifier,
	operators []int64, m *metrics.Metrics, log *zap.Logger) *Queue {
	ops := make(map[int64]bool, len(operators))
	for _, id := range operators {
		ops[id] = true
	}
	return &Queue{
		store:     store,
		ledger:    ledger,
		referral:  referral,
		notifier:  notifier,
		operators: ops,
		order:     append([]int64(nil), operators...),
		metrics:   m,
		log:       logger.OrNop(log).Named("moderation"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) IsOperator(id int64) bool {
	return q.operators[id]
}

func (q *Queue) Operators() []int64 {
	return append([]int64(nil), q.order...)
}

// Submit records a pending deposit and tells every operator about it.
func (q *Queue) Submit(ctx context.Context, snap settings.Snapshot, d models.Deposit) (models.Deposit, error) {
	d.TransactionID = strings.TrimSpace(d.TransactionID)
	if !d.Amount.IsPositive() || d.TransactionID == "" {
		return models.Deposit{}, fmt.Errorf("deposit needs a positive amount and a reference: %w", apperr.ErrValidation)
	}

	created, err := q.store.CreateDeposit(ctx, d)
	if err != nil {
		return models.Deposit{}, err
	}
	q.metrics.DepositSubmitted()
	q.log.Info("deposit submitted",
		zap.Int64("deposit_id", created.ID),
		zap.Int64("user_id", created.UserID),
		zap.String("amount", created.Amount.String()))

	text := fmt.Sprintf("📥 New Deposit Request\n\nDeposit: #%d\nUser: %d\nAmount: %s%s\nTRX ID: %s",
		created.ID, created.UserID, created.Amount.String(), snap.Currency(), created.TransactionID)
	q.notifier.Notify(ctx, q.Operators(), text, DecisionKeyboard(created.ID))
	return created, nil
}

// DecisionKeyboard is the approve/reject pair attached to operator notices.
func DecisionKeyboard(depositID int64) gateway.Keyboard {
	return gateway.Keyboard{gateway.Row(
		gateway.Choice{Label: "✅ Approve", Data: fmt.Sprintf("%s%d", ApprovePrefix, depositID)},
		gateway.Choice{Label: "❌ Reject", Data: fmt.Sprintf("%s%d", RejectPrefix, depositID)},
	)}
}

// Approve settles a pending deposit and then runs the referral hook. The
// loser of a race gets ErrAlreadyDecided; if the deposit is approved the
// referral hook is re-run so a partially failed approval heals.
func (q *Queue) Approve(ctx context.Context, snap settings.Snapshot, depositID, operatorID int64) (models.Deposit, error) {
	if !q.IsOperator(operatorID) {
		q.metrics.Decision("approve", "denied")
		return models.Deposit{}, fmt.Errorf("user %d is not an operator: %w", operatorID, apperr.ErrDenied)
	}

	d, u, err := q.ledger.SettleDeposit(ctx, depositID, operatorID)
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyDecided) {
			q.metrics.Decision("approve", "already_decided")
			if d.Status == models.DepositApproved {
				q.runReferral(ctx, snap, d)
			}
		} else {
			q.metrics.Decision("approve", "error")
		}
		return d, err
	}
	q.metrics.Decision("approve", "ok")

	q.runReferral(ctx, snap, d)
	q.notifier.NotifyOne(ctx, d.UserID, fmt.Sprintf("✅ Your deposit #%d of %s%s has been approved.\nNew balance: %s%s",
		d.ID, d.Amount.String(), snap.Currency(), u.Balance.String(), snap.Currency()), nil)
	return d, nil
}

// Reject closes a pending deposit without touching any balance.
func (q *Queue) Reject(ctx context.Context, snap settings.Snapshot, depositID, operatorID int64) (models.Deposit, error) {
	if !q.IsOperator(operatorID) {
		q.metrics.Decision("reject", "denied")
		return models.Deposit{}, fmt.Errorf("user %d is not an operator: %w", operatorID, apperr.ErrDenied)
	}

	d, err := q.store.RejectDeposit(ctx, depositID, operatorID, q.now())
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyDecided) {
			q.metrics.Decision("reject", "already_decided")
		} else {
			q.metrics.Decision("reject", "error")
		}
		return d, err
	}
	q.metrics.Decision("reject", "ok")
	q.log.Info("deposit rejected", zap.Int64("deposit_id", d.ID), zap.Int64("operator_id", operatorID))

	q.notifier.NotifyOne(ctx, d.UserID, fmt.Sprintf("❌ Your deposit #%d of %s%s was rejected.\nContact %s if you think this is a mistake.",
		d.ID, d.Amount.String(), snap.Currency(), snap.Get(settings.KeySupportUsername)), nil)
	return d, nil
}

// Pending lists deposits awaiting a decision, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]models.Deposit, error) {
	return q.store.ListDeposits(ctx, models.DepositPending)
}

func (q *Queue) runReferral(ctx context.Context, snap settings.Snapshot, d models.Deposit) {
	if q.referral == nil {
		return
	}
	// the approval is committed; a failed bonus is retried by the next approve attempt
	if _, err := q.referral.OnApproved(ctx, d, snap.InviteBonus()); err != nil {
		q.log.Error("referral bonus failed", zap.Int64("deposit_id", d.ID), zap.Error(err))
	}
}
