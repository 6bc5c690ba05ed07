// Package lock keeps two runners from ingesting at the same time.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned by Acquire when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another runner")

// Release gives the lock back. Releasing an expired or stolen lock is not
// an error.
type Release func(ctx context.Context) error

// Locker acquires a named lock for at most ttl.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Release, error)
}

// Local is an in-process Locker for single-replica deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
	seq  uint64
}

type localEntry struct {
	expires time.Time
	seq     uint64
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{held: make(map[string]localEntry), now: time.Now}
}

func (l *Local) Acquire(_ context.Context, name string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[name]; ok && now.Before(e.expires) {
		return nil, ErrLocked
	}
	l.seq++
	mine := l.seq
	l.held[name] = localEntry{expires: now.Add(ttl), seq: mine}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.held[name]; ok && e.seq == mine {
			delete(l.held, name)
		}
		return nil
	}, nil
}
