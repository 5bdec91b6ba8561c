package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"smmpanel/internal/apperr"
	"smmpanel/internal/models"
)

// Memory is a thread-safe in-memory Store. A single mutex guards every map,
// which makes each method trivially atomic.
type Memory struct {
	mu         sync.Mutex
	nextID     int64
	settings   map[string]string
	users      map[int64]models.User
	services   map[int64]models.Service
	orders     map[int64]models.Order
	deposits   map[int64]models.Deposit
	rewards    map[int64]int64 // referred user -> referrer
	broadcasts []models.BroadcastLog
	now        func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID:   1,
		settings: make(map[string]string),
		users:    make(map[int64]models.User),
		services: make(map[int64]models.Service),
		orders:   make(map[int64]models.Order),
		deposits: make(map[int64]models.Deposit),
		rewards:  make(map[int64]int64),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) nextIDLocked() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// SettingsStore implementation -------------------------------------------------

func (m *Memory) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.settings[key]
	if !ok {
		return "", fmt.Errorf("setting %s: %w", key, apperr.ErrNotFound)
	}
	return v, nil
}

func (m *Memory) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = value
	return nil
}

func (m *Memory) ListSettings(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SeedSettings(_ context.Context, defaults map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range defaults {
		if _, ok := m.settings[k]; !ok {
			m.settings[k] = v
		}
	}
	return nil
}

// UserStore implementation -----------------------------------------------------

func (m *Memory) CreateUser(_ context.Context, u models.User) (models.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.users[u.ID]; ok {
		return existing, false, nil
	}
	if u.ReferredBy != nil {
		if _, ok := m.users[*u.ReferredBy]; !ok || *u.ReferredBy == u.ID {
			u.ReferredBy = nil
		}
	}
	u.Balance = decimal.Zero
	u.TotalDeposits = decimal.Zero
	u.ReferralEarnings = decimal.Zero
	u.JoinedAt = m.now()
	m.users[u.ID] = u
	return u, true, nil
}

func (m *Memory) GetUser(_ context.Context, id int64) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	return u, nil
}

func (m *Memory) ListUserIDs(_ context.Context, includeBanned bool) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.users))
	for id, u := range m.users {
		if u.Banned && !includeBanned {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) SetBanned(_ context.Context, id int64, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	u.Banned = banned
	m.users[id] = u
	return nil
}

func (m *Memory) AdjustBalance(_ context.Context, id int64, delta decimal.Decimal) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return models.User{}, apperr.ErrInsufficientFunds
	}
	u.Balance = next
	m.users[id] = u
	return u, nil
}

func (m *Memory) GrantReferralBonus(_ context.Context, referrerID, referredID int64, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.rewards[referredID]; done {
		return false, nil
	}
	ref, ok := m.users[referrerID]
	if !ok {
		return false, fmt.Errorf("user %d: %w", referrerID, apperr.ErrNotFound)
	}
	ref.Balance = ref.Balance.Add(amount)
	ref.Referrals++
	ref.ReferralEarnings = ref.ReferralEarnings.Add(amount)
	m.users[referrerID] = ref
	m.rewards[referredID] = referrerID
	return true, nil
}

// CatalogStore implementation --------------------------------------------------

func (m *Memory) CreateService(_ context.Context, svc models.Service) (models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc.ID = m.nextIDLocked()
	m.services[svc.ID] = svc
	return svc, nil
}

func (m *Memory) UpdateService(_ context.Context, svc models.Service) (models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[svc.ID]; !ok {
		return models.Service{}, fmt.Errorf("service %d: %w", svc.ID, apperr.ErrNotFound)
	}
	m.services[svc.ID] = svc
	return svc, nil
}

func (m *Memory) GetService(_ context.Context, id int64) (models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[id]
	if !ok {
		return models.Service{}, fmt.Errorf("service %d: %w", id, apperr.ErrNotFound)
	}
	return svc, nil
}

func (m *Memory) ListServices(_ context.Context, activeOnly bool) ([]models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.servicesLocked(func(s models.Service) bool { return s.Active || !activeOnly }), nil
}

func (m *Memory) ListServicesByCategory(_ context.Context, category string) ([]models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.servicesLocked(func(s models.Service) bool { return s.Active && s.Category == category }), nil
}

func (m *Memory) ListCategories(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, s := range m.servicesLocked(func(s models.Service) bool { return s.Active }) {
		if !seen[s.Category] {
			seen[s.Category] = true
			out = append(out, s.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) servicesLocked(keep func(models.Service) bool) []models.Service {
	var out []models.Service
	for _, s := range m.services {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OrderStore implementation ----------------------------------------------------

func (m *Memory) PlaceOrder(_ context.Context, o models.Order) (models.Order, error) {
	if err := checkTotal(o.TotalPrice); err != nil {
		return models.Order{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[o.UserID]
	if !ok {
		return models.Order{}, fmt.Errorf("user %d: %w", o.UserID, apperr.ErrNotFound)
	}
	if u.Balance.LessThan(o.TotalPrice) {
		return models.Order{}, apperr.ErrInsufficientFunds
	}
	u.Balance = u.Balance.Sub(o.TotalPrice)
	u.TotalOrders++
	m.users[u.ID] = u

	o.ID = m.nextIDLocked()
	if o.Status == "" {
		o.Status = models.OrderPending
	}
	o.CreatedAt = m.now()
	m.orders[o.ID] = o
	return o, nil
}

func (m *Memory) GetOrder(_ context.Context, id int64) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %d: %w", id, apperr.ErrNotFound)
	}
	return o, nil
}

func (m *Memory) ListOrders(_ context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Order
	for _, o := range m.orders {
		if userID == 0 || o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateOrderStatus(_ context.Context, id int64, status string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %d: %w", id, apperr.ErrNotFound)
	}
	o.Status = status
	m.orders[id] = o
	return o, nil
}

// DepositStore implementation --------------------------------------------------

func (m *Memory) CreateDeposit(_ context.Context, d models.Deposit) (models.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[d.UserID]; !ok {
		return models.Deposit{}, fmt.Errorf("user %d: %w", d.UserID, apperr.ErrNotFound)
	}
	d.ID = m.nextIDLocked()
	d.Status = models.DepositPending
	d.CreatedAt = m.now()
	d.DecidedBy = nil
	d.DecidedAt = nil
	m.deposits[d.ID] = d
	return d, nil
}

func (m *Memory) GetDeposit(_ context.Context, id int64) (models.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[id]
	if !ok {
		return models.Deposit{}, fmt.Errorf("deposit %d: %w", id, apperr.ErrNotFound)
	}
	return d, nil
}

func (m *Memory) ListDeposits(_ context.Context, status models.DepositStatus) ([]models.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Deposit
	for _, d := range m.deposits {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SettleDeposit(_ context.Context, id, operatorID int64, at time.Time) (models.Deposit, models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.decideLocked(id, models.DepositApproved, operatorID, at)
	if err != nil {
		return d, models.User{}, err
	}
	u := m.users[d.UserID]
	u.Balance = u.Balance.Add(d.Amount)
	u.TotalDeposits = u.TotalDeposits.Add(d.Amount)
	m.users[u.ID] = u
	return d, u, nil
}

func (m *Memory) RejectDeposit(_ context.Context, id, operatorID int64, at time.Time) (models.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.decideLocked(id, models.DepositRejected, operatorID, at)
}

func (m *Memory) decideLocked(id int64, status models.DepositStatus, operatorID int64, at time.Time) (models.Deposit, error) {
	d, ok := m.deposits[id]
	if !ok {
		return models.Deposit{}, fmt.Errorf("deposit %d: %w", id, apperr.ErrNotFound)
	}
	if !d.Pending() {
		return d, fmt.Errorf("deposit %d is %s: %w", id, d.Status, apperr.ErrAlreadyDecided)
	}
	d.Status = status
	d.DecidedBy = &operatorID
	d.DecidedAt = &at
	m.deposits[id] = d
	return d, nil
}

func (m *Memory) FirstApprovedDeposit(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first *models.Deposit
	for _, d := range m.deposits {
		if d.UserID != userID || d.Status != models.DepositApproved {
			continue
		}
		if first == nil || d.DecidedAt.Before(*first.DecidedAt) ||
			(d.DecidedAt.Equal(*first.DecidedAt) && d.ID < first.ID) {
			d := d
			first = &d
		}
	}
	if first == nil {
		return 0, nil
	}
	return first.ID, nil
}

// StatsStore implementation ----------------------------------------------------

func (m *Memory) Statistics(_ context.Context, since time.Time) (models.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := models.Statistics{
		TotalUsers:    int64(len(m.users)),
		TotalOrders:   int64(len(m.orders)),
		TotalDeposits: decimal.Zero,
	}
	for _, u := range m.users {
		if !u.JoinedAt.Before(since) {
			stats.TodayUsers++
		}
	}
	for _, o := range m.orders {
		if !o.CreatedAt.Before(since) {
			stats.TodayOrders++
		}
	}
	for _, d := range m.deposits {
		if d.Status == models.DepositApproved {
			stats.TotalDeposits = stats.TotalDeposits.Add(d.Amount)
		}
	}
	return stats, nil
}

func (m *Memory) LogBroadcast(_ context.Context, entry models.BroadcastLog) (models.BroadcastLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.ID = m.nextIDLocked()
	entry.SentAt = m.now()
	m.broadcasts = append(m.broadcasts, entry)
	return entry, nil
}

// Broadcasts returns the broadcast log, oldest first.
func (m *Memory) Broadcasts() []models.BroadcastLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]models.BroadcastLog(nil), m.broadcasts...)
}
