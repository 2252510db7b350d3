// Package lock provides a Redis advisory lock used to serialise pipeline runs
// of the same conversation across worker processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock held by another worker")

const keyPrefix = "lock:"

// releaseScript deletes the key only when it still carries our token, so an
// expired lock re-acquired by another worker is never released by us.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Locker acquires token-checked locks with a TTL.
type Locker struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *Locker {
	return &Locker{rdb: rdb}
}

// ConversationKey is the lock key of one conversation.
func ConversationKey(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}

// Acquire takes the lock or returns ErrHeld. The returned release func is safe to
// call after the TTL expired.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	fullKey := keyPrefix + key

	ok, err := l.rdb.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release %s: %w", fullKey, err)
		}
		return nil
	}
	return release, nil
}
