package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache implements Locker in process. Used when no Redis is configured.
type MemoryCache struct {
	locks         map[string]memLock
	mutex         sync.Mutex
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache creates an in-memory locker.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		CleanupInterval: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		locks:         make(map[string]memLock),
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
	}

	go mc.cleanupExpired()
	return mc
}

type memLock struct {
	token  string
	expiry time.Time
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := time.Now()
	if l, ok := mc.locks[key]; ok && now.Before(l.expiry) {
		return nil, nil
	}
	lease := &Lease{Key: key, Token: uuid.NewString()}
	mc.locks[key] = memLock{token: lease.Token, expiry: now.Add(ttl)}
	return lease, nil
}

// held reports whether lease still owns its key. Callers hold mc.mutex.
func (mc *MemoryCache) held(lease *Lease) bool {
	l, ok := mc.locks[lease.Key]
	return ok && l.token == lease.Token && time.Now().Before(l.expiry)
}

func (mc *MemoryCache) Unlock(_ context.Context, lease *Lease) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.held(lease) {
		return ErrLockNotHeld
	}
	delete(mc.locks, lease.Key)
	return nil
}

func (mc *MemoryCache) Extend(_ context.Context, lease *Lease, ttl time.Duration) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.held(lease) {
		return ErrLockNotHeld
	}
	mc.locks[lease.Key] = memLock{token: lease.Token, expiry: time.Now().Add(ttl)}
	return nil
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case now := <-mc.cleanupTicker.C:
			mc.mutex.Lock()
			for key, l := range mc.locks {
				if now.After(l.expiry) {
					delete(mc.locks, key)
				}
			}
			mc.mutex.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}
