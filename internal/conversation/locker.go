// ABOUTME: Per-conversation mutual exclusion for send and mark-read
// ABOUTME: LocalLocker serves one process; RedisLocker uses redsync across gateway nodes

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work on a key. Lock blocks until the key is free or ctx
// is done, and returns the function that releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// keyLock is a one-slot semaphore shared by everyone waiting on the same key.
type keyLock struct {
	slot chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. Entries are reference counted and
// dropped once nobody holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock acquires key, honoring ctx cancellation while waiting.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{slot: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.slot
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size returns the number of live keys.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// RedisLocker is a distributed Locker built on redsync. The expiry bounds how
// long a crashed holder can block a conversation.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisLocker creates a RedisLocker on an existing go-redis client.
func NewRedisLocker(client redis.UniversalClient, expiry time.Duration, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	if expiry <= 0 {
		expiry = 8 * time.Second
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		prefix: "parley:lock:conversation:",
		logger: logger.With("component", "locker"),
	}
}

// Lock acquires the redsync mutex for key.
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := r.rs.NewMutex(r.prefix+key, redsync.WithExpiry(r.expiry))

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := mutex.Unlock(); err != nil {
				r.logger.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}
