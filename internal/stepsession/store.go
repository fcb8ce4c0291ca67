package stepsession

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/stepup/internal/keylock"
)

// Action tells Update what to do with the session after the callback returns.
type Action uint8

const (
	ActionKeep Action = iota
	ActionSave
	ActionDelete
)

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Update loads the session and runs fn with exclusive access to a copy.
	// Returns ErrNotFound when the session does not exist.
	Update(ctx context.Context, id string, fn func(*Session) (Action, error)) error
	// Sweep deletes sessions started before cutoff and reports how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is the in-process session table.
type MemoryStore struct {
	locks *keylock.Striped

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore returns an in-process session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: keylock.New(0), sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	m.sessions[s.ID] = s.clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn func(*Session) (Action, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.locks.Do(id, func() error {
		m.mu.RLock()
		cur, ok := m.sessions[id]
		m.mu.RUnlock()
		if !ok {
			return ErrNotFound
		}

		next := cur.clone()
		action, err := fn(next)
		if err != nil {
			return err
		}

		switch action {
		case ActionSave:
			m.mu.Lock()
			m.sessions[id] = next
			m.mu.Unlock()
		case ActionDelete:
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
		}
		return nil
	})
}

func (m *MemoryStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s.StartTime.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		_ = m.locks.Do(id, func() error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if s, ok := m.sessions[id]; ok && s.StartTime.Before(cutoff) {
				delete(m.sessions, id)
				removed++
			}
			return nil
		})
	}
	return removed, nil
}

// Len reports the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
