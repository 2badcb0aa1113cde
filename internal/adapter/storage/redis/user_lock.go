package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LockOptions tunes the distributed per-user lock.
type LockOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultLockOptions returns settings suited to one wallet transaction.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     10 * time.Second,
		Tries:      50,
		RetryDelay: 100 * time.Millisecond,
	}
}

// UserLocker implements ports.UserLocker with a Redlock mutex per user, for
// deployments running more than one instance.
type UserLocker struct {
	rs     *redsync.Redsync
	opts   LockOptions
	prefix string
	log    zerolog.Logger
}

// NewUserLocker creates a Redis-backed UserLocker.
func NewUserLocker(client *goredis.Client, opts LockOptions, log zerolog.Logger) *UserLocker {
	def := DefaultLockOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &UserLocker{
		rs:     redsync.New(redsyncgoredis.NewPool(client)),
		opts:   opts,
		prefix: "lock:wallet:",
		log:    log,
	}
}

// Acquire takes the user's lock, retrying until it is free, tries run out or ctx is done.
func (l *UserLocker) Acquire(ctx context.Context, userID uuid.UUID) (func(), error) {
	key := l.prefix + userID.String()
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, errors.Join(ctxErr, err))
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	return func() {
		// Release must succeed even when the request ctx is already cancelled.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			l.log.Warn().Err(err).Str("lock_key", key).Bool("unlock_ok", ok).Msg("failed to release wallet lock")
		}
	}, nil
}
