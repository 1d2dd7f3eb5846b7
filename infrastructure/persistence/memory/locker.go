package memory

import (
	"context"
	"sync"
	"time"

	"graphsync/application/ports"
	"graphsync/pkg/clock"
)

// Locker is an in-process ports.Locker. A lease that is not released
// expires after its ttl.
type Locker struct {
	clock clock.Clock

	mu    sync.Mutex
	held  map[string]*lease
	freed chan struct{}
}

type lease struct {
	locker  *Locker
	key     string
	expires time.Time
	once    sync.Once
}

// NewLocker creates a locker. clk may be nil.
func NewLocker(clk clock.Clock) *Locker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Locker{clock: clk, held: make(map[string]*lease), freed: make(chan struct{})}
}

// Acquire blocks until key is free or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	for {
		l.mu.Lock()
		now := l.clock.Now()
		cur, taken := l.held[key]
		if !taken || !now.Before(cur.expires) {
			ls := &lease{locker: l, key: key, expires: now.Add(ttl)}
			l.held[key] = ls
			l.mu.Unlock()
			return ls, nil
		}
		wait := l.freed
		remaining := cur.expires.Sub(now)
		l.mu.Unlock()

		// Expiry is measured on l.clock, so re-check at least every
		// remaining interval of real time as well.
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wait:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Held reports whether key is currently locked.
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.held[key]
	return ok && l.clock.Now().Before(cur.expires)
}

func (ls *lease) Release(context.Context) error {
	ls.once.Do(func() {
		l := ls.locker
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[ls.key] == ls {
			delete(l.held, ls.key)
		}
		close(l.freed)
		l.freed = make(chan struct{})
	})
	return nil
}
