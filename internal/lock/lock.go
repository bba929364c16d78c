// Package lock provides a best-effort per-tenant sweep mutex backed by Redis.
// It narrows the duplicate-ticket window when an ad hoc sweep overlaps the
// scheduled one; it is advisory, not a correctness guarantee.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// SweepLock acquires per-tenant locks with a TTL so a crashed holder cannot
// wedge the tenant forever.
type SweepLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSweepLock(client *redis.Client, ttl time.Duration) *SweepLock {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SweepLock{client: client, ttl: ttl}
}

// Acquire tries to take the tenant's lock. On success it returns a release
// function that only deletes the key if this holder still owns it.
func (l *SweepLock) Acquire(ctx context.Context, tenantID int64) (release func(), ok bool, err error) {
	key := fmt.Sprintf("mailroom:sweep:tenant:%d", tenantID)
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release = func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
