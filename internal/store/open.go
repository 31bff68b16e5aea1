package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	FilePath  string
	RedisAddr string
	Capacity  int
	TTL       time.Duration
	// DB is required for the sqlite backend.
	DB *sql.DB
}

// Open builds the configured backend.
func Open(ctx context.Context, opts Options) (KeyValueStore, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(opts.Capacity, opts.TTL), nil
	case BackendFile:
		return NewFileStore(opts.FilePath)
	case BackendSQLite:
		if opts.DB == nil {
			return nil, fmt.Errorf("sqlite backend requires an open database")
		}
		return NewSQLiteStore(opts.DB), nil
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisAddr, opts.TTL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
