package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyPrefix     = "tj:idem:order:"
	DefaultIdempotencyTTL = 24 * time.Hour
	// ReservationTTL must exceed the request timeout.
	ReservationTTL = time.Minute
	// PendingOrderID is stored under a key while its placement runs.
	PendingOrderID = "pending"
)

// IdempotencyStore remembers which order a checkout key produced.
type IdempotencyStore interface {
	// Get returns "" when the key is unknown and PendingOrderID while a
	// placement holds it.
	Get(ctx context.Context, key string) (string, error)
	// Reserve claims an unknown key for one placement. It reports false
	// when the key is already pending or completed.
	Reserve(ctx context.Context, key string) (bool, error)
	// Set records the order a key produced, replacing its reservation.
	Set(ctx context.Context, key, orderID string) error
	// Release drops a reservation so a failed checkout can be retried.
	// Completed keys are left alone.
	Release(ctx context.Context, key string) error
}

// Completed reports whether v names a placed order.
func Completed(v string) bool {
	return v != "" && v != PendingOrderID
}

// releaseScript deletes the key only while it still holds the pending marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, idempotencyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, idempotencyPrefix+key, PendingOrderID, ReservationTTL).Result()
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key, orderID string) error {
	return s.client.Set(ctx, idempotencyPrefix+key, orderID, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, s.client, []string{idempotencyPrefix + key}, PendingOrderID).Err()
}

type memoryEntry struct {
	orderID   string
	expiresAt time.Time
}

// MemoryIdempotencyStore is the process-local fallback when Redis is not configured.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return "", nil
	}
	return e.orderID, nil
}

func (s *MemoryIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{orderID: PendingOrderID, expiresAt: s.now().Add(ReservationTTL)}
	return true, nil
}

func (s *MemoryIdempotencyStore) Set(ctx context.Context, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = memoryEntry{orderID: orderID, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.orderID == PendingOrderID {
		delete(s.entries, key)
	}
	return nil
}

// lookup drops the entry when it has expired. Callers hold mu.
func (s *MemoryIdempotencyStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}
