package remediation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	a, b := uuid.New(), uuid.New()
	f1, f2, f3 := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, l.Acquire(ctx, a, []uuid.UUID{f1, f2}))
	// Reacquiring your own lock is fine.
	require.NoError(t, l.Acquire(ctx, a, []uuid.UUID{f1}))

	err := l.Acquire(ctx, b, []uuid.UUID{f3, f2})
	assert.ErrorIs(t, err, apperr.ErrFindingLocked)

	// All or nothing: f3 was not taken by the failed attempt.
	require.NoError(t, l.Acquire(ctx, a, []uuid.UUID{f3}))

	// Releasing someone else's lock is ignored.
	require.NoError(t, l.Release(ctx, b, []uuid.UUID{f1}))
	assert.ErrorIs(t, l.Acquire(ctx, b, []uuid.UUID{f1}), apperr.ErrFindingLocked)

	require.NoError(t, l.Release(ctx, a, []uuid.UUID{f1, f2, f3}))
	require.NoError(t, l.Acquire(ctx, b, []uuid.UUID{f1, f2, f3}))
}

type fakeRedis struct {
	mu     sync.Mutex
	keys   map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if script != releaseScript {
		return redis.NewCmdResult(nil, errors.New("unexpected script"))
	}
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	l := NewRedisLocker(client, time.Minute)
	a, b := uuid.New(), uuid.New()
	f1, f2, f3 := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, l.Acquire(ctx, a, []uuid.UUID{f1, f2}))
	assert.Equal(t, a.String(), client.keys[lockKey(f1)])
	assert.Equal(t, time.Minute, client.ttls[lockKey(f1)])

	err := l.Acquire(ctx, b, []uuid.UUID{f3, f2})
	assert.ErrorIs(t, err, apperr.ErrFindingLocked)
	_, held := client.keys[lockKey(f3)]
	assert.False(t, held, "partial locks are released on conflict")

	require.NoError(t, l.Release(ctx, b, []uuid.UUID{f1}))
	assert.Equal(t, a.String(), client.keys[lockKey(f1)])

	require.NoError(t, l.Release(ctx, a, []uuid.UUID{f1, f2}))
	assert.Empty(t, client.keys)
}

func TestRedisLocker_ConnectionError(t *testing.T) {
	client := newFakeRedis()
	client.setErr = errors.New("connection refused")
	l := NewRedisLocker(client, 0)

	err := l.Acquire(context.Background(), uuid.New(), []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrDependency)
	assert.Equal(t, 15*time.Minute, l.ttl)
}
