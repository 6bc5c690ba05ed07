package lock

import (
	"context"
	"time"
)

// AdvisoryStore is implemented by the postgres store.
type AdvisoryStore interface {
	TryAdvisoryLock(ctx context.Context, name string) (release func(context.Context) error, ok bool, err error)
}

// Advisory is a Locker backed by postgres session advisory locks. The lock
// lives as long as the session, so ttl is ignored.
type Advisory struct {
	store AdvisoryStore
}

var _ Locker = (*Advisory)(nil)

func NewAdvisory(store AdvisoryStore) *Advisory {
	return &Advisory{store: store}
}

func (a *Advisory) Acquire(ctx context.Context, name string, _ time.Duration) (Release, error) {
	release, ok, err := a.store.TryAdvisoryLock(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return Release(release), nil
}
