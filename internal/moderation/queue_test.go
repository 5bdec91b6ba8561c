package moderation_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smmpanel/internal/apperr"
	"smmpanel/internal/gateway"
	"smmpanel/internal/gateway/gatewaytest"
	"smmpanel/internal/ledger"
	"smmpanel/internal/metrics"
	"smmpanel/internal/models"
	"smmpanel/internal/moderation"
	"smmpanel/internal/referral"
	"smmpanel/internal/settings"
	"smmpanel/internal/store"
)

const (
	userID   = int64(1)
	referrer = int64(100)
	opA      = int64(900)
	opB      = int64(901)
)

type fixture struct {
	queue *moderation.Queue
	mem   *store.Memory
	rec   *gatewaytest.Recorder
	snap  settings.Snapshot
}

func setup(t *testing.T) fixture {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	_, _, err := mem.CreateUser(ctx, models.User{ID: referrer})
	require.NoError(t, err)
	ref := referrer
	_, _, err = mem.CreateUser(ctx, models.User{ID: userID, ReferredBy: &ref})
	require.NoError(t, err)

	rec := gatewaytest.New()
	m := metrics.New()
	l := ledger.New(mem, nil, m, nil)
	acc := referral.New(mem, l, m, nil)
	q := moderation.New(mem, l, acc, gateway.NewNotifier(rec, 2, m, nil), []int64{opA, opB}, m, nil)
	return fixture{queue: q, mem: mem, rec: rec, snap: settings.FromMap(nil)}
}

func (f fixture) submit(t *testing.T, amount int64) models.Deposit {
	t.Helper()
	d, err := f.queue.Submit(context.Background(), f.snap, models.Deposit{
		UserID: userID, Amount: decimal.NewFromInt(amount), TransactionID: "TRX80",
	})
	require.NoError(t, err)
	return d
}

func TestSubmitNotifiesOperators(t *testing.T) {
	f := setup(t)
	d := f.submit(t, 80)

	assert.Equal(t, models.DepositPending, d.Status)
	for _, op := range []int64{opA, opB} {
		msg := f.rec.Last(op)
		assert.Contains(t, msg.Text, "TRX80")
		require.Len(t, msg.Keyboard, 1)
		assert.Equal(t, "approve_1", msg.Keyboard[0][0].Data)
	}
}

func TestSubmitSurvivesUnreachableOperator(t *testing.T) {
	f := setup(t)
	f.rec.SetUnreachable(opA)

	d := f.submit(t, 80)
	pending, err := f.queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, d.ID, pending[0].ID)
	assert.True(t, f.rec.Contains(opB, "TRX80"))
}

func TestSubmitValidates(t *testing.T) {
	f := setup(t)
	_, err := f.queue.Submit(context.Background(), f.snap, models.Deposit{UserID: userID, Amount: decimal.NewFromInt(80), TransactionID: "  "})
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.queue.Submit(context.Background(), f.snap, models.Deposit{UserID: userID, Amount: decimal.Zero, TransactionID: "x"})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestApproveScenarioWithReferral(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.submit(t, 80)

	approved, err := f.queue.Approve(ctx, f.snap, d.ID, opA)
	require.NoError(t, err)
	assert.Equal(t, models.DepositApproved, approved.Status)

	u, _ := f.mem.GetUser(ctx, userID)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(80)))
	r, _ := f.mem.GetUser(ctx, referrer)
	assert.True(t, r.ReferralEarnings.Equal(decimal.NewFromInt(10)))
	assert.True(t, f.rec.Contains(userID, "approved"))

	_, err = f.queue.Approve(ctx, f.snap, d.ID, opB)
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	u, _ = f.mem.GetUser(ctx, userID)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(80)))
	r, _ = f.mem.GetUser(ctx, referrer)
	assert.True(t, r.ReferralEarnings.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(1), r.Referrals)
}

func TestRejectThenApprove(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.submit(t, 80)

	_, err := f.queue.Reject(ctx, f.snap, d.ID, opA)
	require.NoError(t, err)
	_, err = f.queue.Reject(ctx, f.snap, d.ID, opA)
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)
	_, err = f.queue.Approve(ctx, f.snap, d.ID, opB)
	require.ErrorIs(t, err, apperr.ErrAlreadyDecided)

	u, _ := f.mem.GetUser(ctx, userID)
	assert.True(t, u.Balance.IsZero())
	assert.True(t, f.rec.Contains(userID, "rejected"))
}

func TestNonOperatorDenied(t *testing.T) {
	f := setup(t)
	d := f.submit(t, 80)

	_, err := f.queue.Approve(context.Background(), f.snap, d.ID, userID)
	require.ErrorIs(t, err, apperr.ErrDenied)
	_, err = f.queue.Reject(context.Background(), f.snap, d.ID, userID)
	require.ErrorIs(t, err, apperr.ErrDenied)

	stored, _ := f.mem.GetDeposit(context.Background(), d.ID)
	assert.True(t, stored.Pending())
}

func TestUnknownDeposit(t *testing.T) {
	f := setup(t)
	_, err := f.queue.Approve(context.Background(), f.snap, 404, opA)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTwoOperatorsRace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.submit(t, 80)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, op := range []int64{opA, opB} {
		wg.Add(1)
		go func(i int, op int64) {
			defer wg.Done()
			if i == 0 {
				_, results[i] = f.queue.Approve(ctx, f.snap, d.ID, op)
			} else {
				_, results[i] = f.queue.Reject(ctx, f.snap, d.ID, op)
			}
		}(i, op)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperr.ErrAlreadyDecided):
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	stored, _ := f.mem.GetDeposit(ctx, d.ID)
	u, _ := f.mem.GetUser(ctx, userID)
	if stored.Status == models.DepositApproved {
		assert.True(t, u.Balance.Equal(decimal.NewFromInt(80)))
	} else {
		assert.True(t, u.Balance.IsZero())
	}
}
