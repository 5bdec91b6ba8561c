// Package referral pays the one-time invite bonus and validates referrers at
// registration.
package referral

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"smmpanel/internal/apperr"
	"smmpanel/internal/logger"
	"smmpanel/internal/metrics"
	"smmpanel/internal/models"
)

type Store interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
	FirstApprovedDeposit(ctx context.Context, userID int64) (int64, error)
}

type Crediter interface {
	CreditReferral(ctx context.Context, referrerID, referredID int64, amount decimal.Decimal) (bool, error)
}

type Accountant struct {
	store   Store
	ledger  Crediter
	metrics *metrics.Metrics
	log     *zap.Logger
}

func New(store Store, ledger Crediter, m *metrics.Metrics, log *zap.Logger) *Accountant {
	return &Accountant{store: store, ledger: ledger, metrics: m, log: logger.OrNop(log).Named("referral")}
}

// OnApproved credits the depositor's referrer when d is the depositor's first
// approved deposit. Running it again for the same deposit is a no-op.
func (a *Accountant) OnApproved(ctx context.Context, d models.Deposit, bonus decimal.Decimal) (bool, error) {
	if d.Status != models.DepositApproved || !bonus.IsPositive() {
		return false, nil
	}

	first, err := a.store.FirstApprovedDeposit(ctx, d.UserID)
	if err != nil {
		return false, err
	}
	if first != d.ID {
		return false, nil
	}

	u, err := a.store.GetUser(ctx, d.UserID)
	if err != nil {
		return false, err
	}
	if u.ReferredBy == nil || *u.ReferredBy == u.ID {
		return false, nil
	}

	granted, err := a.ledger.CreditReferral(ctx, *u.ReferredBy, u.ID, bonus)
	if err != nil {
		return false, err
	}
	if granted {
		a.metrics.ReferralGranted()
		a.log.Info("referral bonus granted",
			zap.Int64("referrer_id", *u.ReferredBy),
			zap.Int64("referred_id", u.ID),
			zap.Int64("deposit_id", d.ID))
	}
	return granted, nil
}

// ValidateReferrer returns the referrer to record for a newly seen user, or
// nil when candidate is unset, the user itself, or unknown.
func (a *Accountant) ValidateReferrer(ctx context.Context, userID, candidate int64) (*int64, error) {
	if candidate == 0 || candidate == userID {
		return nil, nil
	}
	if _, err := a.store.GetUser(ctx, candidate); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &candidate, nil
}
