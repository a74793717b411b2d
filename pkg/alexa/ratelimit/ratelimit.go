// Package ratelimit spaces the outbound command posts of each account.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter spaces calls sharing a key by at least a minimum interval,
// measured from the start of one call to the start of the next. Callers
// arriving too early queue on the key.
type Limiter struct {
	minInterval time.Duration
	keys        sync.Map // map[string]*keyLimiter
	now         func() time.Time
}

type keyLimiter struct {
	mu   sync.Mutex
	last time.Time
}

// New returns a limiter; an interval <= 0 disables limiting.
func New(minInterval time.Duration) *Limiter {
	return &Limiter{minInterval: minInterval, now: time.Now}
}

// Wait blocks until a call for key may start, or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l == nil || l.minInterval <= 0 {
		return nil
	}

	kl := l.get(key)
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if elapsed := l.now().Sub(kl.last); elapsed < l.minInterval {
		timer := time.NewTimer(l.minInterval - elapsed)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	// updated before unlocking so queued callers measure from this start
	kl.last = l.now()
	return nil
}

func (l *Limiter) get(key string) *keyLimiter {
	if kl, ok := l.keys.Load(key); ok {
		return kl.(*keyLimiter)
	}
	actual, _ := l.keys.LoadOrStore(key, &keyLimiter{})
	return actual.(*keyLimiter)
}

func (l *Limiter) MinInterval() time.Duration {
	if l == nil {
		return 0
	}
	return l.minInterval
}
