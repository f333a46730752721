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

package pool

import (
	"context"
	"database/sql"
	"time"
)

// Conn is the subset of database operations the pool manages.
// *sql.DB satisfies it, so a factory typically opens a handle limited
// to a single underlying connection.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Factory dials one new connection.
type Factory func(ctx context.Context) (Conn, error)

// PooledConn is a Conn checked out of a Pool, with the lifecycle
// metadata the pool uses to decide retirement. Not safe for use by
// more than one goroutine at a time.
type PooledConn struct {
	conn Conn
	id   uint64

	createdAt       time.Time
	lastUsedAt      time.Time
	lastHealthCheck time.Time
	useCount        int64

	// tx is the transaction in flight, if any. Release rolls it back.
	tx *sql.Tx

	// broken marks a connection that must not return to the idle set.
	broken bool
}

// ID is a pool-unique identifier for log correlation.
func (pc *PooledConn) ID() uint64 { return pc.id }

// Age is the time since the connection was dialed.
func (pc *PooledConn) Age() time.Duration { return time.Since(pc.createdAt) }

// UseCount is the number of times this connection has been acquired.
func (pc *PooledConn) UseCount() int64 { return pc.useCount }

// QueryContext runs a query on the underlying connection.
func (pc *PooledConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := pc.conn.QueryContext(ctx, query, args...)
	if err != nil {
		pc.markBrokenOn(ctx, err)
	}
	return rows, err
}

// ExecContext runs a statement on the underlying connection.
func (pc *PooledConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := pc.conn.ExecContext(ctx, query, args...)
	if err != nil {
		pc.markBrokenOn(ctx, err)
	}
	return res, err
}

// BeginTx starts a transaction and records it so that Release can roll
// back anything the caller leaves open.
func (pc *PooledConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := pc.conn.BeginTx(ctx, opts)
	if err != nil {
		pc.markBrokenOn(ctx, err)
		return nil, err
	}
	pc.tx = tx
	return tx, nil
}

// Done clears the recorded transaction after the caller commits or
// rolls back itself.
func (pc *PooledConn) Done() { pc.tx = nil }

// MarkBroken flags the connection for retirement on release.
func (pc *PooledConn) MarkBroken() { pc.broken = true }

// markBrokenOn retires the connection when the error suggests the
// session itself is gone rather than the individual operation failing.
// A cancelled or timed-out context kills in-flight work on the wire,
// so those connections do not go back to the idle set either.
func (pc *PooledConn) markBrokenOn(ctx context.Context, err error) {
	if ctx.Err() != nil || err == sql.ErrConnDone {
		pc.broken = true
	}
}
