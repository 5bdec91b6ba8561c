package session

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smmpanel/internal/models"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	s, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, s.Active())

	svc := models.Service{ID: 3, Price: decimal.NewFromInt(50)}
	require.NoError(t, m.Put(ctx, 1, Session{State: AwaitingOrderLink, Service: &svc}))

	s, err = m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, AwaitingOrderLink, s.State)
	assert.Equal(t, int64(3), s.Service.ID)

	require.NoError(t, m.Put(ctx, 1, Session{}))
	assert.Zero(t, m.Len())
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, 1, Session{State: AwaitingDepositAmount}))
	require.NoError(t, m.Put(ctx, 2, Session{State: AwaitingDepositAmount}))

	now = now.Add(2 * time.Minute)
	s, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Idle, s.State)

	assert.Equal(t, 1, m.Sweep())
	assert.Zero(t, m.Len())
}

type countingSweeper struct{ n int32 }

func (c *countingSweeper) Sweep() int {
	atomic.AddInt32(&c.n, 1)
	return 0
}

func TestJanitorRunsSweep(t *testing.T) {
	s := &countingSweeper{}
	other := &countingSweeper{}
	j, err := NewJanitor("@every 1s", nil, s, other)
	require.NoError(t, err)
	j.Start()
	defer j.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&s.n) > 0 && atomic.LoadInt32(&other.n) > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestJanitorRejectsBadSpec(t *testing.T) {
	_, err := NewJanitor("not a schedule", nil, &countingSweeper{})
	assert.Error(t, err)
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis session test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	r := NewRedis(client, time.Minute)
	r.prefix = "smmpanel:test:session:"
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, 9, Session{State: AwaitingDepositReference, Amount: decimal.NewFromInt(80)}))
	s, err := r.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, AwaitingDepositReference, s.State)
	assert.True(t, s.Amount.Equal(decimal.NewFromInt(80)))

	require.NoError(t, r.Clear(ctx, 9))
	s, err = r.Get(ctx, 9)
	require.NoError(t, err)
	assert.False(t, s.Active())
}
