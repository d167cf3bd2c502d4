package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rasto/lcmc-sub001/pkg/store"
)

// LeaseStore keeps leases as lcmc:lease:<name> keys with a PX expiry. A
// companion counter key tracks the version.
type LeaseStore struct {
	client *redis.Client
}

var _ store.LeaseStore = (*LeaseStore)(nil)

func NewLeaseStore(client *redis.Client) *LeaseStore {
	return &LeaseStore{client: client}
}

func leaseKey(name string) string {
	return fmt.Sprintf("lcmc:lease:%s", name)
}

func versionKey(name string) string {
	return fmt.Sprintf("lcmc:lease:%s:version", name)
}

var acquireScript = redis.NewScript(`
	local cur = redis.call("GET", KEYS[1])
	if cur == false or cur == ARGV[1] then
		redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
		return redis.call("INCR", KEYS[2])
	end
	return 0
`)

var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
		return redis.call("INCR", KEYS[2])
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

func (s *LeaseStore) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	keys := []string{leaseKey(name), versionKey(name)}
	version, err := acquireScript.Run(ctx, s.client, keys, holderID, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return version > 0, nil
}

func (s *LeaseStore) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	keys := []string{leaseKey(name), versionKey(name)}
	version, err := renewScript.Run(ctx, s.client, keys, holderID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to execute renew script: %w", err)
	}
	if version == 0 {
		return store.ErrLeaseLost
	}
	return nil
}

// Release is a no-op when the lease is already gone or held by someone else.
func (s *LeaseStore) Release(ctx context.Context, name, holderID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{leaseKey(name)}, holderID).Err(); err != nil {
		return fmt.Errorf("failed to execute release script: %w", err)
	}
	return nil
}

func (s *LeaseStore) Get(ctx context.Context, name string) (*store.Lease, error) {
	key := leaseKey(name)

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get lease ttl: %w", err)
	}
	version, err := s.client.Get(ctx, versionKey(name)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get lease version: %w", err)
	}

	return &store.Lease{
		Name:      name,
		HolderID:  val,
		ExpiresAt: time.Now().Add(ttl),
		Version:   version,
	}, nil
}
