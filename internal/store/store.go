// Package store provides the key/value capability the workflow persists
// child records and AI results through, plus the backends behind it.
package store

import (
	"context"
	"fmt"
)

// KeyValueStore is a flat string-keyed store. A missing key is reported as
// ("", false, nil), never as an error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// prefixed scopes every key of an underlying store.
type prefixed struct {
	kv     KeyValueStore
	prefix string
}

// WithPrefix returns a view of kv where every key is prefixed, so several
// sessions can share one backend.
func WithPrefix(kv KeyValueStore, prefix string) KeyValueStore {
	if prefix == "" {
		return kv
	}
	return &prefixed{kv: kv, prefix: prefix + ":"}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.kv.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.kv.Set(ctx, p.prefix+key, value)
}

func wrapErr(op, key string, err error) error {
	return fmt.Errorf("failed to %s key %q: %w", op, key, err)
}
