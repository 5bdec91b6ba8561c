package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smmpanel/internal/apperr"
	"smmpanel/internal/metrics"
	"smmpanel/internal/models"
	"smmpanel/internal/store"
)

func setup(t *testing.T, balance int64) (*Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	_, _, err := mem.CreateUser(ctx, models.User{ID: 1})
	require.NoError(t, err)
	if balance > 0 {
		_, err = mem.AdjustBalance(ctx, 1, decimal.NewFromInt(balance))
		require.NoError(t, err)
	}
	return New(mem, nil, metrics.New(), nil), mem
}

func TestCreditAndWithdraw(t *testing.T) {
	l, _ := setup(t, 0)
	ctx := context.Background()

	u, err := l.Credit(ctx, 1, decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(30)))

	_, err = l.Credit(ctx, 1, decimal.Zero)
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = l.Withdraw(ctx, 1, decimal.NewFromInt(31))
	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	u, err = l.Withdraw(ctx, 1, decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.True(t, u.Balance.IsZero())
}

func TestDebitIfSufficientScenario(t *testing.T) {
	l, mem := setup(t, 100)
	ctx := context.Background()
	svc := models.Service{ID: 5, Price: decimal.NewFromInt(50), MinQuantity: 100, MaxQuantity: 2000}

	o, err := l.DebitIfSufficient(ctx, models.Order{UserID: 1, ServiceID: svc.ID, Link: "x", Quantity: 500, TotalPrice: svc.Cost(500)})
	require.NoError(t, err)
	assert.True(t, o.TotalPrice.Equal(decimal.NewFromInt(25)))

	u, _ := mem.GetUser(ctx, 1)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(75)))
	orders, _ := mem.ListOrders(ctx, 1)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderPending, orders[0].Status)
}

func TestDebitIfSufficientFailureLeavesNoTrace(t *testing.T) {
	l, mem := setup(t, 10)
	ctx := context.Background()

	_, err := l.DebitIfSufficient(ctx, models.Order{UserID: 1, Quantity: 1, TotalPrice: decimal.NewFromInt(11)})
	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	u, _ := mem.GetUser(ctx, 1)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(10)))
	assert.Zero(t, u.TotalOrders)
	orders, _ := mem.ListOrders(ctx, 1)
	assert.Empty(t, orders)
}

func TestAmountsBeyondMoneyScaleAreRejected(t *testing.T) {
	l, mem := setup(t, 10)
	ctx := context.Background()
	subCent := decimal.RequireFromString("0.005")

	_, err := l.Credit(ctx, 1, subCent)
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = l.Withdraw(ctx, 1, decimal.RequireFromString("1.001"))
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = l.CreditReferral(ctx, 1, 2, subCent)
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = l.DebitIfSufficient(ctx, models.Order{UserID: 1, Quantity: 10, TotalPrice: subCent})
	require.ErrorIs(t, err, apperr.ErrValidation)

	u, _ := mem.GetUser(ctx, 1)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(10)))
	assert.Zero(t, u.TotalOrders)
	orders, _ := mem.ListOrders(ctx, 1)
	assert.Empty(t, orders)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	l, mem := setup(t, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.DebitIfSufficient(ctx, models.Order{UserID: 1, Quantity: 1, TotalPrice: decimal.NewFromInt(30)}); err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, placed)
	u, _ := mem.GetUser(ctx, 1)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(10)))
}

func TestSettleDepositOnce(t *testing.T) {
	l, mem := setup(t, 0)
	ctx := context.Background()
	d, err := mem.CreateDeposit(ctx, models.Deposit{UserID: 1, Amount: decimal.NewFromInt(80), TransactionID: "T1"})
	require.NoError(t, err)

	_, u, err := l.SettleDeposit(ctx, d.ID, 9)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(80)))
	assert.True(t, u.TotalDeposits.Equal(decimal.NewFromInt(80)))

	_, _, err = l.SettleDeposit(ctx, d.ID, 9)
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)
	u, _ = mem.GetUser(ctx, 1)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(80)))

	_, _, err = l.SettleDeposit(ctx, 999, 9)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreditReferralOnce(t *testing.T) {
	l, mem := setup(t, 0)
	ctx := context.Background()
	_, _, err := mem.CreateUser(ctx, models.User{ID: 2})
	require.NoError(t, err)

	granted, err := l.CreditReferral(ctx, 1, 2, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, granted)
	granted, err = l.CreditReferral(ctx, 1, 2, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, granted)

	r, _ := mem.GetUser(ctx, 1)
	assert.True(t, r.ReferralEarnings.Equal(decimal.NewFromInt(10)))
}
