// Package lock provides the mutual exclusion used by the maintenance
// scheduler so that only one process sweeps expirations and resets at a
// time.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locker obtains named, TTL-bounded locks.
type Locker interface {
	// TryAcquire attempts to take key without blocking. acquired is false
	// when another holder owns it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
	// Acquire blocks until key is taken or ctx is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// retryInterval is how often Acquire polls a contended lock.
const retryInterval = 50 * time.Millisecond

// acquireLoop implements a blocking Acquire on top of TryAcquire.
func acquireLoop(ctx context.Context, l Locker, key string, ttl time.Duration) (func(), error) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		release, ok, err := l.TryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock: acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ──────────────────────────────────────────────────
// In-memory
// ──────────────────────────────────────────────────

// Memory is a process-local Locker for single-instance deployments and
// tests. A lock whose TTL elapsed may be taken over.
type Memory struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]memoryEntry
	seq  uint64
}

type memoryEntry struct {
	owner   uint64
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now, held: make(map[string]memoryEntry)}
}

func (m *Memory) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.held[key]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
		return nil, false, nil
	}

	m.seq++
	owner := m.seq
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	m.held[key] = memoryEntry{owner: owner, expires: expires}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if e, ok := m.held[key]; ok && e.owner == owner {
				delete(m.held, key)
			}
		})
	}
	return release, true, nil
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return acquireLoop(ctx, m, key, ttl)
}

var _ Locker = (*Memory)(nil)
