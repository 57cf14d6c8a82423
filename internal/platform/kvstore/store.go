// Package kvstore provides the string key-value persistence that backs device carts and
// cached profiles. Stores offer no transactions and no cross-key atomicity.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/sfykart/api/internal/platform/config"
)

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("kvstore: key is required")

// Store is a flat string key-value store.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Namespace scopes every key of the underlying store beneath prefix.
func Namespace(store Store, prefix string) Store {
	return namespaced{store: store, prefix: strings.TrimSuffix(prefix, ":") + ":"}
}

type namespaced struct {
	store  Store
	prefix string
}

func (n namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}
	return n.store.Get(ctx, n.prefix+key)
}

func (n namespaced) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return n.store.Set(ctx, n.prefix+key, value)
}

func (n namespaced) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return n.store.Remove(ctx, n.prefix+key)
}

// Open builds the backend selected by cfg. The returned close function releases backend
// resources and is never nil. rdb is only consulted for the redis backend.
func Open(ctx context.Context, cfg config.KVConfig, rdb redis.UniversalClient) (Store, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.KVBackendMemory:
		return NewMemoryStore(), noop, nil
	case config.KVBackendSQLite:
		store, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case config.KVBackendRedis:
		if rdb == nil {
			return nil, noop, errors.New("kvstore: redis backend requires a client")
		}
		return NewRedisStore(rdb, "sfy:kv"), noop, nil
	default:
		return nil, noop, fmt.Errorf("kvstore: unknown backend %q", cfg.Backend)
	}
}
