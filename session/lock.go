package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	lesson "github.com/linguapulse/lesson"
)

// releaseTimeout bounds the compare-and-delete issued when a lock is released.
const releaseTimeout = 5 * time.Second

// WithLock runs fn while holding the lock at key.
//
// The lock is a key written with SetNX and a random owner token; ttl is the
// safety net for a holder that dies. When the key is already held WithLock
// returns lesson.ErrLockHeld without calling fn. The release always runs,
// including when fn panics or ctx is cancelled, and only removes the key
// while it still carries this holder's token.
func WithLock(ctx context.Context, store Store, key string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	token := uuid.NewString()

	ok, err := store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return lesson.ErrLockHeld
	}

	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if _, rerr := store.DeleteIfValue(rctx, key, token); rerr != nil && err == nil {
			err = fmt.Errorf("release lock %s: %w", key, rerr)
		}
	}()

	return fn(ctx)
}
