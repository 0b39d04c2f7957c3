package remediation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/redis/go-redis/v9"
)

// FindingLocker grants a plan exclusive use of its findings while it executes.
// Acquire is all or nothing and fails with apperr.ErrFindingLocked.
type FindingLocker interface {
	Acquire(ctx context.Context, owner uuid.UUID, findingIDs []uuid.UUID) error
	Release(ctx context.Context, owner uuid.UUID, findingIDs []uuid.UUID) error
}

// MemoryLocker holds locks in process. Only correct with a single executor process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]uuid.UUID
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[uuid.UUID]uuid.UUID)}
}

func (m *MemoryLocker) Acquire(_ context.Context, owner uuid.UUID, findingIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range findingIDs {
		if holder, ok := m.held[id]; ok && holder != owner {
			return apperr.ErrFindingLocked.Withf("finding %s held by plan %s", id, holder)
		}
	}
	for _, id := range findingIDs {
		m.held[id] = owner
	}
	return nil
}

func (m *MemoryLocker) Release(_ context.Context, owner uuid.UUID, findingIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range findingIDs {
		if m.held[id] == owner {
			delete(m.held, id)
		}
	}
	return nil
}

// RedisClient is the part of *redis.Client the locker uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Deletes the key only while it still holds the caller's token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// RedisLocker shares locks between processes. The TTL bounds how long a
// crashed executor can keep findings locked.
type RedisLocker struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisLocker(client RedisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func lockKey(findingID uuid.UUID) string {
	return "reclaim:lock:finding:" + findingID.String()
}

func (r *RedisLocker) Acquire(ctx context.Context, owner uuid.UUID, findingIDs []uuid.UUID) error {
	var taken []uuid.UUID
	for _, id := range sortedIDs(findingIDs) {
		ok, err := r.client.SetNX(ctx, lockKey(id), owner.String(), r.ttl).Result()
		if err != nil {
			// Partial locks left behind expire with the TTL.
			_ = r.Release(ctx, owner, taken)
			return apperr.ErrDependency.Wrap(fmt.Errorf("acquiring lock on %s: %w", id, err))
		}
		if !ok {
			_ = r.Release(ctx, owner, taken)
			return apperr.ErrFindingLocked.Withf("finding %s", id)
		}
		taken = append(taken, id)
	}
	return nil
}

func (r *RedisLocker) Release(ctx context.Context, owner uuid.UUID, findingIDs []uuid.UUID) error {
	for _, id := range findingIDs {
		if err := r.client.Eval(ctx, releaseScript, []string{lockKey(id)}, owner.String()).Err(); err != nil {
			return fmt.Errorf("releasing lock on %s: %w", id, err)
		}
	}
	return nil
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return out
}
