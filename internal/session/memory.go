package session

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. A positive ttl expires sessions that saw no
// step for that long.
type Memory struct {
	mu       sync.Mutex
	sessions map[int64]Session
	ttl      time.Duration
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		sessions: make(map[int64]Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *Memory) expired(s Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.UpdatedAt) > m.ttl
}

func (m *Memory) Get(_ context.Context, userID int64) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, nil
	}
	if m.expired(s, m.now()) {
		delete(m.sessions, userID)
		return Session{}, nil
	}
	return s, nil
}

func (m *Memory) Put(_ context.Context, userID int64, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !s.Active() {
		delete(m.sessions, userID)
		return nil
	}
	s.UpdatedAt = m.now()
	m.sessions[userID] = s
	return nil
}

func (m *Memory) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, userID)
	return nil
}

// Sweep drops expired sessions and reports how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
