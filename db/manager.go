// Copyright 2025 SQLGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sqlgate/gateway/audit"
	"sqlgate/gateway/cache"
	"sqlgate/gateway/config"
	"sqlgate/gateway/pool"
	"sqlgate/gateway/shared/logger"
	"sqlgate/gateway/shared/types"
)

// Manager executes governed SQL against one target database. Every
// operation validates its input, runs through the connection pool with
// the target's query timeout, and leaves an audit trail.
type Manager struct {
	target   config.Target
	pool     *pool.Pool
	cache    *cache.Cache
	audit    *audit.Logger
	log      *logger.Logger
	queryDir string
	rowLimit int
}

// Options tunes a Manager beyond its target configuration. Zero values
// fall back to process defaults.
type Options struct {
	Log      *logger.Logger
	Audit    *audit.Logger
	QueryDir string
	RowLimit int
	CacheTTL time.Duration

	// Factory overrides how connections are dialed. Tests inject
	// sqlmock-backed connections here.
	Factory pool.Factory
}

// New creates a Manager and warms its pool. The default factory opens
// one driver handle per pooled connection so the pool, not
// database/sql, owns the connection lifecycle.
func New(ctx context.Context, tgt config.Target, pc config.Pool, opts Options) (*Manager, error) {
	if opts.Log == nil {
		opts.Log = logger.New("db")
	}
	if opts.Audit == nil {
		opts.Audit = audit.New()
	}
	if opts.RowLimit <= 0 {
		opts.RowLimit = config.DefaultRowLimit
	}
	if opts.QueryDir == "" {
		opts.QueryDir = config.DefaultQueryDir
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = config.DefaultCacheTTL
	}
	factory := opts.Factory
	if factory == nil {
		factory = driverFactory(tgt)
	}

	p, err := pool.New(ctx, pool.Config{
		Target:              tgt.Name,
		MinSize:             pc.MinSize,
		MaxSize:             pc.MaxSize,
		IdleTimeout:         pc.IdleTimeout,
		HealthCheckInterval: pc.HealthCheckInterval,
		AcquireTimeout:      pc.AcquireTimeout,
		MaxLifetime:         pc.MaxLifetime,
		Factory:             factory,
		Log:                 opts.Log,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		target:   tgt,
		pool:     p,
		cache:    cache.New(opts.CacheTTL),
		audit:    opts.Audit,
		log:      opts.Log,
		queryDir: opts.QueryDir,
		rowLimit: opts.RowLimit,
	}, nil
}

// driverFactory dials connections through database/sql, limiting each
// handle to a single underlying connection.
func driverFactory(tgt config.Target) pool.Factory {
	return func(ctx context.Context) (pool.Conn, error) {
		handle, err := sql.Open(tgt.Driver, tgt.DSN())
		if err != nil {
			return nil, err
		}
		handle.SetMaxOpenConns(1)
		handle.SetMaxIdleConns(1)
		handle.SetConnMaxLifetime(0)
		pingCtx, cancel := context.WithTimeout(ctx, tgt.ConnectTimeout)
		defer cancel()
		if err := handle.PingContext(pingCtx); err != nil {
			handle.Close()
			return nil, err
		}
		return handle, nil
	}
}

// Target returns the target configuration with the password removed.
func (m *Manager) Target() config.Target {
	return m.target.Redacted()
}

// PoolStats returns a snapshot of the connection pool counters.
func (m *Manager) PoolStats() pool.Stats {
	return m.pool.Stats()
}

// CacheStats returns a snapshot of the metadata cache counters.
func (m *Manager) CacheStats() cache.Stats {
	return m.cache.Stats()
}

// InvalidateCache clears all cached metadata, forcing fresh reads.
func (m *Manager) InvalidateCache() int {
	return m.cache.Clear()
}

// Close shuts down the pool. The manager must not be used afterwards.
func (m *Manager) Close() error {
	m.cache.Clear()
	return m.pool.Close()
}

// acquire checks a connection out of the pool, translating pool errors
// into the gateway taxonomy.
func (m *Manager) acquire(ctx context.Context) (*pool.PooledConn, error) {
	pc, err := m.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) || errors.Is(err, pool.ErrPoolClosed) {
			return nil, types.NewError(types.KindConnection, err.Error(), err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.KindTimeout, err.Error(), err)
		}
		return nil, types.NewError(types.KindConnection, types.SanitizeErrorMessage(err.Error()), err)
	}
	return pc, nil
}

// queryCtx derives the execution context bounded by the target's query
// timeout.
func (m *Manager) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.target.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.target.QueryTimeout)
}

// execErr classifies a driver error, preferring the timeout kind when
// the execution context expired, and sanitizes the message.
func (m *Manager) execErr(ctx context.Context, op string, err error) error {
	msg := types.SanitizeErrorMessage(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.KindTimeout,
			fmt.Sprintf("%s timed out after %s", op, m.target.QueryTimeout), err)
	}
	return types.NewError(types.KindQuery, msg, err)
}
