package redis

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/eventrelay/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds the caller's token.
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker hands out lease-style locks on one client. Leases expire on their
// own, so a crashed holder blocks others for at most the ttl.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client, prefix: "lock:"}
}

// TryLock acquires key for ttl. The returned release func is nil when the
// lock is held elsewhere.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domainErrors.ErrLockAcquisitionFailed, err)
	}
	if !ok {
		return nil, nil
	}

	return func(ctx context.Context) error {
		n, err := releaseLockScript.Run(ctx, l.client, []string{fullKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if n == 0 {
			return domainErrors.ErrLockNotHeld
		}
		return nil
	}, nil
}
