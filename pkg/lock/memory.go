package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// Memory is a process-local Locker.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
}

func (m *Memory) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, held := m.entries[key]; held && now.Before(e.expiresAt) {
		return nil, false, nil
	}

	token := uuid.New().String()
	m.entries[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}

	return &memoryLease{locker: m, key: key, token: token}, true, nil
}

type memoryLease struct {
	locker *Memory
	key    string
	token  string
}

func (l *memoryLease) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	e, held := l.locker.entries[l.key]
	if !held || e.token != l.token {
		return ErrNotHeld
	}

	delete(l.locker.entries, l.key)

	return nil
}

// Noop grants every lease. Used when a single replica runs the scheduler.
type Noop struct{}

func (Noop) TryAcquire(context.Context, string, time.Duration) (Lease, bool, error) {
	return noopLease{}, true, nil
}

type noopLease struct{}

func (noopLease) Release(context.Context) error {
	return nil
}
