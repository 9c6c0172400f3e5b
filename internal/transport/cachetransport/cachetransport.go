// Package cachetransport dispatches the kv_cache_* Effect family (spec §6)
// over github.com/redis/go-redis/v9, grounded on the teacher's RedisCache:
// one *redis.Client shared across calls, a key prefix for namespacing, Get
// mapping redis.Nil to a not-found Error the way RedisCache.Get does.
//
// The Effect union carries no separate TTL field, so kv_cache_set reuses
// Effect.Timeout as the entry's expiry — the same duration that already
// governs how long the effect itself is allowed to run.
package cachetransport

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oriys/zerver/internal/executor"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

// Transport implements executor.EffectRunner for the kv_cache_* Effect family.
type Transport struct {
	client *redis.Client
	prefix string
}

// Config configures a Transport's Redis connection.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // default "zerver:cache:"
}

// New builds a Transport backed by a fresh Redis client.
func New(cfg Config) *Transport {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "zerver:cache:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Transport{client: client, prefix: prefix}
}

// NewFromClient builds a Transport around an existing Redis client, for
// callers that already share one client across several subsystems.
func NewFromClient(client *redis.Client, prefix string) *Transport {
	if prefix == "" {
		prefix = "zerver:cache:"
	}
	return &Transport{client: client, prefix: prefix}
}

// Close releases the underlying Redis client.
func (t *Transport) Close() error { return t.client.Close() }

var _ executor.EffectRunner = (*Transport)(nil)

func (t *Transport) key(k string) string { return t.prefix + k }

func (t *Transport) Run(effect ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park executor.ParkSink) ztypes.EffectResult {
	timeout := effect.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	reqCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()

	switch effect.Kind {
	case ztypes.EffectKVCacheGet:
		val, err := t.client.Get(reqCtx, t.key(effect.Target)).Bytes()
		if err == redis.Nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrNotFound, "cache", effect.Target))
		}
		if err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "cache", effect.Target))
		}
		return ztypes.Success(val, ztypes.OwnerCaller)

	case ztypes.EffectKVCacheSet:
		if err := t.client.Set(reqCtx, t.key(effect.Target), effect.Payload, timeout).Err(); err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "cache", effect.Target))
		}
		return ztypes.Success(nil, ztypes.OwnerArena)

	case ztypes.EffectKVCacheDelete:
		n, err := t.client.Del(reqCtx, t.key(effect.Target)).Result()
		if err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "cache", effect.Target))
		}
		if n == 0 {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrNotFound, "cache", effect.Target))
		}
		return ztypes.Success(nil, ztypes.OwnerArena)
	}

	return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "cache", effect.Target))
}
