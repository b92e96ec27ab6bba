package cache

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotHeld is returned by Unlock and Extend when the lease expired or
// another holder took the key since it was acquired.
var ErrLockNotHeld = errors.New("cache: lock not held")

// Lease is one successful TryLock. Token is unique per acquisition, so a holder
// whose lease expired cannot release or extend the next holder's lease.
type Lease struct {
	Key   string
	Token string
}

// Locker grants short-lived exclusive leases on keys. The scheduler uses it as
// a cross-replica cycle lease and the webhook uses it to drop redelivered updates.
type Locker interface {
	// TryLock returns nil without error when the key is held elsewhere.
	TryLock(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
	Unlock(ctx context.Context, lease *Lease) error
	Extend(ctx context.Context, lease *Lease, ttl time.Duration) error
	Close() error
}
