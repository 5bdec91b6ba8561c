// Package ledger owns every balance mutation. Each operation runs under the
// owning user's lock and maps onto one atomic Data Store primitive.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"smmpanel/internal/apperr"
	"smmpanel/internal/logger"
	"smmpanel/internal/metrics"
	"smmpanel/internal/models"
	"smmpanel/internal/syncutil"
)

// Store is the slice of the Data Store the ledger writes through.
type Store interface {
	AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (models.User, error)
	PlaceOrder(ctx context.Context, o models.Order) (models.Order, error)
	GetDeposit(ctx context.Context, id int64) (models.Deposit, error)
	SettleDeposit(ctx context.Context, id, operatorID int64, at time.Time) (models.Deposit, models.User, error)
	GrantReferralBonus(ctx context.Context, referrerID, referredID int64, amount decimal.Decimal) (bool, error)
}

type Ledger struct {
	store   Store
	locks   *syncutil.KeyedMutex
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// New creates a Ledger. locks may be shared with other per-user components;
// nil gets a private one.
func New(store Store, locks *syncutil.KeyedMutex, m *metrics.Metrics, log *zap.Logger) *Ledger {
	if locks == nil {
		locks = syncutil.NewKeyedMutex()
	}
	return &Ledger{
		store:   store,
		locks:   locks,
		metrics: m,
		log:     logger.OrNop(log).Named("ledger"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount %s must be positive: %w", amount, apperr.ErrValidation)
	}
	if !models.FitsMoneyScale(amount) {
		return fmt.Errorf("amount %s has more than %d decimal places: %w", amount, models.MoneyScale, apperr.ErrValidation)
	}
	return nil
}

// Credit adds amount to a user's balance outside of any deposit.
func (l *Ledger) Credit(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error) {
	if err := requirePositive(amount); err != nil {
		return models.User{}, err
	}
	unlock := l.locks.Lock(userID)
	defer unlock()

	u, err := l.store.AdjustBalance(ctx, userID, amount)
	if err != nil {
		return models.User{}, err
	}
	l.log.Info("balance credited", zap.Int64("user_id", userID), zap.String("amount", amount.String()))
	return u, nil
}

// Withdraw removes amount from a user's balance; it never drives the balance
// below zero.
func (l *Ledger) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error) {
	if err := requirePositive(amount); err != nil {
		return models.User{}, err
	}
	unlock := l.locks.Lock(userID)
	defer unlock()

	u, err := l.store.AdjustBalance(ctx, userID, amount.Neg())
	if err != nil {
		return models.User{}, err
	}
	l.log.Info("balance withdrawn", zap.Int64("user_id", userID), zap.String("amount", amount.String()))
	return u, nil
}

// DebitIfSufficient charges o.TotalPrice and records the order in one unit.
// On ErrInsufficientFunds nothing was written.
func (l *Ledger) DebitIfSufficient(ctx context.Context, o models.Order) (models.Order, error) {
	if o.TotalPrice.IsNegative() {
		return models.Order{}, fmt.Errorf("negative order total: %w", apperr.ErrValidation)
	}
	if !models.FitsMoneyScale(o.TotalPrice) {
		return models.Order{}, fmt.Errorf("order total %s exceeds %d decimal places: %w", o.TotalPrice, models.MoneyScale, apperr.ErrValidation)
	}
	unlock := l.locks.Lock(o.UserID)
	defer unlock()

	placed, err := l.store.PlaceOrder(ctx, o)
	switch {
	case err == nil:
		l.metrics.Order("ok")
		l.log.Info("order placed",
			zap.Int64("order_id", placed.ID),
			zap.Int64("user_id", placed.UserID),
			zap.String("total", placed.TotalPrice.String()))
		return placed, nil
	case errors.Is(err, apperr.ErrInsufficientFunds):
		l.metrics.Order("insufficient_funds")
	default:
		l.metrics.Order("error")
	}
	return models.Order{}, err
}

// SettleDeposit approves a pending deposit and credits the depositor,
// including the lifetime deposit total.
func (l *Ledger) SettleDeposit(ctx context.Context, depositID, operatorID int64) (models.Deposit, models.User, error) {
	d, err := l.store.GetDeposit(ctx, depositID)
	if err != nil {
		return models.Deposit{}, models.User{}, err
	}
	unlock := l.locks.Lock(d.UserID)
	defer unlock()

	d, u, err := l.store.SettleDeposit(ctx, depositID, operatorID, l.now())
	if err != nil {
		return d, models.User{}, err
	}
	l.log.Info("deposit settled",
		zap.Int64("deposit_id", d.ID),
		zap.Int64("user_id", d.UserID),
		zap.Int64("operator_id", operatorID),
		zap.String("amount", d.Amount.String()))
	return d, u, nil
}

// CreditReferral pays the referral bonus to referrerID for referredID. It
// reports false when the bonus for referredID was already paid.
func (l *Ledger) CreditReferral(ctx context.Context, referrerID, referredID int64, amount decimal.Decimal) (bool, error) {
	if err := requirePositive(amount); err != nil {
		return false, err
	}
	unlock := l.locks.Lock(referrerID)
	defer unlock()

	granted, err := l.store.GrantReferralBonus(ctx, referrerID, referredID, amount)
	if err != nil {
		return false, err
	}
	if granted {
		l.log.Info("referral bonus credited",
			zap.Int64("referrer_id", referrerID),
			zap.Int64("referred_id", referredID),
			zap.String("amount", amount.String()))
	}
	return granted, nil
}
