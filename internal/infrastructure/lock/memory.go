package lock

import (
	"context"
	"sync"
)

// MemoryLock implements core.DistributedLock in-process, for the lite
// deployment profile where a single server instance makes a distributed
// lock unnecessary. AcquireLock never blocks: contention returns (false, nil)
// exactly as RedisLock does, so the orchestrator behaves identically
// regardless of which lock backs it.
type MemoryLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLock returns an empty MemoryLock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]struct{})}
}

// AcquireLock implements core.DistributedLock.AcquireLock.
func (m *MemoryLock) AcquireLock(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = struct{}{}
	return true, nil
}

// ReleaseLock implements core.DistributedLock.ReleaseLock.
func (m *MemoryLock) ReleaseLock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}
