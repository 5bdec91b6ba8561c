// Package store defines the Data Store contract used by the storefront and
// ships a PostgreSQL implementation plus an in-memory one for tests.
//
// Balance-affecting operations are exposed only as atomic primitives
// (PlaceOrder, SettleDeposit, RejectDeposit, GrantReferralBonus,
// AdjustBalance); callers never read-modify-write a balance themselves.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"smmpanel/internal/apperr"
	"smmpanel/internal/models"
)

// SettingsStore persists key/value storefront settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
	// SeedSettings inserts every key that is not present yet.
	SeedSettings(ctx context.Context, defaults map[string]string) error
}

// UserStore persists users and their balances.
type UserStore interface {
	// CreateUser inserts u unless a user with the same id exists. The stored
	// user is returned together with whether it was created by this call.
	CreateUser(ctx context.Context, u models.User) (models.User, bool, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	ListUserIDs(ctx context.Context, includeBanned bool) ([]int64, error)
	SetBanned(ctx context.Context, id int64, banned bool) error

	// AdjustBalance adds delta (which may be negative) to the balance and
	// fails with apperr.ErrInsufficientFunds if the result would be negative.
	AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) (models.User, error)
	// GrantReferralBonus credits referrerID once per referredID. It reports
	// false without mutating anything if the bonus was already granted.
	GrantReferralBonus(ctx context.Context, referrerID, referredID int64, amount decimal.Decimal) (bool, error)
}

// CatalogStore persists the service catalog.
type CatalogStore interface {
	CreateService(ctx context.Context, svc models.Service) (models.Service, error)
	UpdateService(ctx context.Context, svc models.Service) (models.Service, error)
	GetService(ctx context.Context, id int64) (models.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	ListServicesByCategory(ctx context.Context, category string) ([]models.Service, error)
	ListCategories(ctx context.Context) ([]string, error)
}

// OrderStore persists orders.
type OrderStore interface {
	// PlaceOrder checks the user's balance, debits TotalPrice, increments the
	// lifetime order count and inserts the order as one unit.
	PlaceOrder(ctx context.Context, o models.Order) (models.Order, error)
	GetOrder(ctx context.Context, id int64) (models.Order, error)
	// ListOrders returns every order when userID is zero.
	ListOrders(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) (models.Order, error)
}

// DepositStore persists deposits and their moderation decisions.
type DepositStore interface {
	CreateDeposit(ctx context.Context, d models.Deposit) (models.Deposit, error)
	GetDeposit(ctx context.Context, id int64) (models.Deposit, error)
	// ListDeposits returns every deposit when status is empty.
	ListDeposits(ctx context.Context, status models.DepositStatus) ([]models.Deposit, error)
	// SettleDeposit moves a pending deposit to approved and credits the
	// depositor's balance and lifetime deposit total as one unit.
	SettleDeposit(ctx context.Context, id, operatorID int64, at time.Time) (models.Deposit, models.User, error)
	// RejectDeposit moves a pending deposit to rejected.
	RejectDeposit(ctx context.Context, id, operatorID int64, at time.Time) (models.Deposit, error)
	// FirstApprovedDeposit returns the id of the user's earliest approved
	// deposit, or 0 when none was approved.
	FirstApprovedDeposit(ctx context.Context, userID int64) (int64, error)
}

// StatsStore serves counters and the broadcast log.
type StatsStore interface {
	Statistics(ctx context.Context, since time.Time) (models.Statistics, error)
	LogBroadcast(ctx context.Context, entry models.BroadcastLog) (models.BroadcastLog, error)
}

// Store is the full Data Store contract.
type Store interface {
	SettingsStore
	UserStore
	CatalogStore
	OrderStore
	DepositStore
	StatsStore
}

// checkTotal rejects order totals the balance column cannot hold exactly.
func checkTotal(total decimal.Decimal) error {
	if total.IsNegative() || !models.FitsMoneyScale(total) {
		return fmt.Errorf("order total %s: %w", total, apperr.ErrValidation)
	}
	return nil
}
