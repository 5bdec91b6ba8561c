package store

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smmpanel/internal/apperr"
	"smmpanel/internal/models"
)

func seedUser(t *testing.T, m *Memory, id int64, balance int64) models.User {
	t.Helper()
	ctx := context.Background()
	u, created, err := m.CreateUser(ctx, models.User{ID: id, Username: "user"})
	require.NoError(t, err)
	require.True(t, created)
	if balance > 0 {
		u, err = m.AdjustBalance(ctx, id, decimal.NewFromInt(balance))
		require.NoError(t, err)
	}
	return u
}

func TestMemoryCreateUserKeepsFirstReferrer(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedUser(t, m, 1, 0)

	ref := int64(1)
	u, created, err := m.CreateUser(ctx, models.User{ID: 2, ReferredBy: &ref})
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, u.ReferredBy)
	assert.Equal(t, int64(1), *u.ReferredBy)

	other := int64(3)
	u, created, err = m.CreateUser(ctx, models.User{ID: 2, ReferredBy: &other})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1), *u.ReferredBy)
}

func TestMemoryCreateUserDropsUnknownOrSelfReferrer(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	unknown := int64(99)
	u, _, err := m.CreateUser(ctx, models.User{ID: 1, ReferredBy: &unknown})
	require.NoError(t, err)
	assert.Nil(t, u.ReferredBy)

	self := int64(2)
	u, _, err = m.CreateUser(ctx, models.User{ID: 2, ReferredBy: &self})
	require.NoError(t, err)
	assert.Nil(t, u.ReferredBy)
}

func TestMemoryPlaceOrderIsAllOrNothing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedUser(t, m, 1, 10)

	_, err := m.PlaceOrder(ctx, models.Order{UserID: 1, ServiceID: 1, Link: "l", Quantity: 1000, TotalPrice: decimal.NewFromInt(11)})
	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	u, err := m.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(10)))
	assert.Zero(t, u.TotalOrders)
	orders, err := m.ListOrders(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders)

	o, err := m.PlaceOrder(ctx, models.Order{UserID: 1, ServiceID: 1, Link: "l", Quantity: 1000, TotalPrice: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, o.Status)
	u, _ = m.GetUser(ctx, 1)
	assert.True(t, u.Balance.IsZero())
	assert.Equal(t, int64(1), u.TotalOrders)
}

func TestMemoryPlaceOrderKeepsBalanceAtMoneyScale(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedUser(t, m, 1, 100)
	svc := models.Service{ID: 3, Price: decimal.RequireFromString("0.5")}

	_, err := m.PlaceOrder(ctx, models.Order{UserID: 1, Quantity: 10, TotalPrice: decimal.RequireFromString("0.005")})
	require.ErrorIs(t, err, apperr.ErrValidation)

	o, err := m.PlaceOrder(ctx, models.Order{UserID: 1, ServiceID: svc.ID, Quantity: 10, TotalPrice: svc.Cost(10)})
	require.NoError(t, err)
	assert.True(t, o.TotalPrice.Equal(decimal.RequireFromString("0.01")))

	u, err := m.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.RequireFromString("99.99")), "balance %s", u.Balance)
	assert.Equal(t, int64(1), u.TotalOrders)
}

func TestMemoryDecisionsHappenOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedUser(t, m, 1, 0)

	d, err := m.CreateDeposit(ctx, models.Deposit{UserID: 1, Amount: decimal.NewFromInt(80), TransactionID: "trx"})
	require.NoError(t, err)

	_, u, err := m.SettleDeposit(ctx, d.ID, 7, time.Now())
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(80)))
	assert.True(t, u.TotalDeposits.Equal(decimal.NewFromInt(80)))

	_, _, err = m.SettleDeposit(ctx, d.ID, 8, time.Now())
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)
	_, err = m.RejectDeposit(ctx, d.ID, 8, time.Now())
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	u, _ = m.GetUser(ctx, 1)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(80)))
	stored, _ := m.GetDeposit(ctx, d.ID)
	assert.Equal(t, int64(7), *stored.DecidedBy)

	_, _, err = m.SettleDeposit(ctx, 404, 7, time.Now())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryReferralBonusGrantedOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedUser(t, m, 1, 0)
	seedUser(t, m, 2, 0)

	ok, err := m.GrantReferralBonus(ctx, 1, 2, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.GrantReferralBonus(ctx, 1, 2, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, ok)

	r, _ := m.GetUser(ctx, 1)
	assert.Equal(t, int64(1), r.Referrals)
	assert.True(t, r.ReferralEarnings.Equal(decimal.NewFromInt(10)))
	assert.True(t, r.Balance.Equal(decimal.NewFromInt(10)))
}

func TestMemoryBalanceNeverNegativeUnderInterleaving(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedUser(t, m, 1, 50)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				amount := decimal.NewFromInt(int64(rnd.Intn(30) + 1))
				if rnd.Intn(2) == 0 {
					_, _ = m.AdjustBalance(ctx, 1, amount)
				} else {
					_, _ = m.PlaceOrder(ctx, models.Order{UserID: 1, Quantity: 1, TotalPrice: amount})
				}
				u, err := m.GetUser(ctx, 1)
				if err != nil || u.Balance.IsNegative() {
					t.Errorf("balance went negative: %v (%v)", u.Balance, err)
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()
}

func TestMemoryStatistics(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedUser(t, m, 1, 100)
	d, _ := m.CreateDeposit(ctx, models.Deposit{UserID: 1, Amount: decimal.NewFromInt(60), TransactionID: "a"})
	_, _, err := m.SettleDeposit(ctx, d.ID, 9, time.Now())
	require.NoError(t, err)
	_, err = m.PlaceOrder(ctx, models.Order{UserID: 1, Quantity: 1, TotalPrice: decimal.NewFromInt(5)})
	require.NoError(t, err)

	st, err := m.Statistics(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalUsers)
	assert.Equal(t, int64(1), st.TotalOrders)
	assert.Equal(t, int64(1), st.TodayUsers)
	assert.Equal(t, int64(1), st.TodayOrders)
	assert.True(t, st.TotalDeposits.Equal(decimal.NewFromInt(60)))
}

func TestMemoryFirstApprovedDeposit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedUser(t, m, 1, 0)

	first, err := m.FirstApprovedDeposit(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, first)

	a, _ := m.CreateDeposit(ctx, models.Deposit{UserID: 1, Amount: decimal.NewFromInt(50), TransactionID: "a"})
	b, _ := m.CreateDeposit(ctx, models.Deposit{UserID: 1, Amount: decimal.NewFromInt(60), TransactionID: "b"})
	base := time.Now()
	_, _, err = m.SettleDeposit(ctx, b.ID, 1, base)
	require.NoError(t, err)
	_, _, err = m.SettleDeposit(ctx, a.ID, 1, base.Add(time.Second))
	require.NoError(t, err)

	first, err = m.FirstApprovedDeposit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, b.ID, first)
}
