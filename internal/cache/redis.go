// Package cache is the Redis backing for shared conversation state.
package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix      = "shopbot:"
	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 3 * time.Second
)

// Config defines connection parameters for Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
	// Prefix namespaces every key. Empty means DefaultPrefix.
	Prefix      string
	DialTimeout time.Duration
}

// Redis stores JSON documents under a shared key prefix.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// New returns a Redis client based on provided configuration. It does not dial.
func New(cfg Config, logger *slog.Logger) *Redis {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dial,
		ReadTimeout:  defaultIOTimeout,
		WriteTimeout: defaultIOTimeout,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Redis{
		client: redis.NewClient(opts),
		prefix: prefix,
		logger: logger.With("component", "redis", "addr", cfg.Addr),
	}
}

// Key returns the full key stored for name.
func (r *Redis) Key(name string) string {
	return r.prefix + name
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// SetJSON stores value as JSON. ttl <= 0 means no expiry.
func (r *Redis) SetJSON(ctx context.Context, name string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.Key(name), data, ttl).Err(); err != nil {
		r.logger.Debug("set failed", "key", name, "error", err)
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

// GetJSON decodes the document at name into dest. A missing key reports false.
func (r *Redis) GetJSON(ctx context.Context, name string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, r.Key(name)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		r.logger.Debug("get failed", "key", name, "error", err)
		return false, fmt.Errorf("redis get %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// Delete removes names. Missing keys are not an error.
func (r *Redis) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = r.Key(n)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
