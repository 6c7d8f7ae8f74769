package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLockBusy is returned when another sign-in for the same student and day
// holds the lock for longer than the caller is willing to wait.
var ErrLockBusy = errors.New("sign-in already in progress")

// Locker serialises the read-check-write sequence per student and day.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryLocker is an in-process keyed mutex for single-instance deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryLocker returns an empty keyed mutex.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done.
func (m *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		m.mu.Lock()
		held, busy := m.locks[key]
		if !busy {
			released := make(chan struct{})
			m.locks[key] = released
			m.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					m.mu.Lock()
					delete(m.locks, key)
					m.mu.Unlock()
					close(released)
				})
			}, nil
		}
		m.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockBusy, ctx.Err())
		}
	}
}

// lockKey is the mutual-exclusion token for one student on one day.
func lockKey(date, studentID string) string {
	return "attendance:" + date + ":" + studentID
}
