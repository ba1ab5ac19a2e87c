package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"attendance.service/internal/core/model"
)

type keyLock struct {
	sem  chan struct{}
	refs int
}

// KeyedLocker serializes work per key. Entries are dropped once nobody holds or waits on them.
type KeyedLocker struct {
	mu      sync.Mutex
	locks   map[string]*keyLock
	timeout time.Duration
}

func NewKeyedLocker(timeout time.Duration) *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyLock), timeout: timeout}
}

// Lock waits for key until the timeout or ctx expires, in which case it returns ErrBusy.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case kl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.sem
				l.release(key, kl)
			})
		}, nil
	case <-timer.C:
		l.release(key, kl)
		return nil, fmt.Errorf("waited %s for %s: %w", l.timeout, key, model.ErrBusy)
	case <-ctx.Done():
		l.release(key, kl)
		return nil, fmt.Errorf("%w: %v", model.ErrBusy, ctx.Err())
	}
}

func (l *KeyedLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
