package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
)

// advisoryKey maps a lock name onto the bigint key space of pg advisory locks.
func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// TryAdvisoryLock takes a session-level advisory lock on a dedicated
// connection. It returns ok=false without error when another session holds
// the lock. The returned release func unlocks and returns the connection.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, name string) (release func(context.Context) error, ok bool, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}
	key := advisoryKey(name)

	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		defer conn.Close()
		var unlocked bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&unlocked); err != nil {
			return fmt.Errorf("advisory unlock: %w", err)
		}
		if !unlocked {
			return fmt.Errorf("advisory lock %q was not held", name)
		}
		return nil
	}
	return release, true, nil
}
