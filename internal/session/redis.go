package session

import (
	"context"
	"fmt"
	"time"
)

const redisKeyPrefix = "session:"

// JSONCache is the subset of cache.Redis the store needs.
type JSONCache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// RedisStore keeps sessions as JSON blobs in Redis so several bot replicas can share them.
type RedisStore struct {
	cache JSONCache
	ttl   time.Duration
}

// NewRedisStore builds a store on top of cache. ttl <= 0 keeps sessions until cleared.
func NewRedisStore(cache JSONCache, ttl time.Duration) *RedisStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{cache: cache, ttl: ttl}
}

// RedisKey returns the key a user's session is stored under, relative to
// the cache namespace.
func RedisKey(userID string) string {
	return redisKeyPrefix + userID
}

func (r *RedisStore) Get(ctx context.Context, userID string) (Session, error) {
	var s Session
	ok, err := r.cache.GetJSON(ctx, RedisKey(userID), &s)
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return Session{}, nil
	}
	return s, nil
}

func (r *RedisStore) Set(ctx context.Context, userID string, s Session) error {
	if err := r.cache.SetJSON(ctx, RedisKey(userID), s, r.ttl); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := r.cache.Delete(ctx, RedisKey(userID)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.cache.Ping(ctx)
}
