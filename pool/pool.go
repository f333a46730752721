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
	"errors"
	"fmt"
	"sync"
	"time"

	"sqlgate/gateway/shared/logger"
)

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolExhausted is returned when no connection becomes free
	// within the acquire timeout.
	ErrPoolExhausted = errors.New("pool exhausted")
)

// Config holds the settings for one pool.
type Config struct {
	// Target names the database this pool serves, for logs and stats.
	Target string

	MinSize             int
	MaxSize             int
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	MaxLifetime         time.Duration

	Factory Factory
	Log     *logger.Logger
}

// Pool hands out database connections up to a fixed ceiling, recycling
// idle ones and retiring those that are too old, idle too long, or
// fail a health check. All methods are safe for concurrent use.
type Pool struct {
	cfg Config

	// sem bounds checked-out connections at MaxSize. A send claims a
	// slot, a receive frees it.
	sem chan struct{}

	// done is closed by Close so blocked acquirers fail immediately
	// instead of waiting out their timeout.
	done chan struct{}

	mu         sync.Mutex
	idle       []*PooledConn // most recently released last
	closed     bool
	nextID     uint64
	totalConns int

	peakUsage          int
	totalAcquisitions  int64
	totalReleases      int64
	failedAcquisitions int64
	healthChecks       int64
	transactionResets  int64
}

// Stats is a point-in-time snapshot of pool state and counters.
type Stats struct {
	Target             string `json:"target"`
	MinSize            int    `json:"min_size"`
	MaxSize            int    `json:"max_size"`
	TotalConnections   int    `json:"total_connections"`
	InUse              int    `json:"in_use"`
	Available          int    `json:"available"`
	PeakUsage          int    `json:"peak_usage"`
	TotalAcquisitions  int64  `json:"total_acquisitions"`
	TotalReleases      int64  `json:"total_releases"`
	FailedAcquisitions int64  `json:"failed_acquisitions"`
	HealthChecks       int64  `json:"health_checks"`
	TransactionResets  int64  `json:"transaction_resets"`
	Closed             bool   `json:"closed"`
}

// New creates a pool and dials MinSize connections up front. A failed
// warm-up dial is logged and skipped; the pool still starts, and the
// slot is dialed again on demand.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Factory == nil {
		return nil, errors.New("pool: factory is required")
	}
	if cfg.MaxSize < 1 {
		return nil, fmt.Errorf("pool: max size must be at least 1, got %d", cfg.MaxSize)
	}
	if cfg.MinSize < 0 || cfg.MinSize > cfg.MaxSize {
		return nil, fmt.Errorf("pool: min size %d out of range [0, %d]", cfg.MinSize, cfg.MaxSize)
	}

	p := &Pool{
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.MaxSize),
		done: make(chan struct{}),
	}
	for i := 0; i < cfg.MinSize; i++ {
		pc, err := p.dial(ctx)
		if err != nil {
			p.logWarn("Warm-up connection failed", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		p.mu.Lock()
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
	return p, nil
}

// Acquire returns a healthy connection, blocking until one is free, the
// acquire timeout elapses, or ctx is done. Every successful Acquire must
// be paired with Release.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	timeout := p.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.sem <- struct{}{}:
	case <-p.done:
		p.recordFailure()
		return nil, ErrPoolClosed
	case <-ctx.Done():
		p.recordFailure()
		return nil, fmt.Errorf("acquire connection for %s: %w", p.cfg.Target, ctx.Err())
	case <-timer.C:
		p.recordFailure()
		return nil, fmt.Errorf("no connection for %s within %s: %w", p.cfg.Target, timeout, ErrPoolExhausted)
	}

	pc, err := p.take(ctx)
	if err != nil {
		<-p.sem
		p.recordFailure()
		return nil, err
	}

	pc.useCount++
	pc.lastUsedAt = time.Now()

	p.mu.Lock()
	p.totalAcquisitions++
	if inUse := len(p.sem); inUse > p.peakUsage {
		p.peakUsage = inUse
	}
	p.mu.Unlock()
	return pc, nil
}

// take reuses an idle connection if a healthy one exists, retiring
// stale ones along the way, and dials a fresh connection otherwise.
// The caller already holds a semaphore slot.
func (p *Pool) take(ctx context.Context) (*PooledConn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		var pc *PooledConn
		if n := len(p.idle); n > 0 {
			pc = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		p.mu.Unlock()

		if pc == nil {
			return p.dial(ctx)
		}
		if reason := p.retireReason(pc); reason != "" {
			p.retire(pc, reason)
			continue
		}
		if p.cfg.HealthCheckInterval > 0 && time.Since(pc.lastHealthCheck) >= p.cfg.HealthCheckInterval {
			p.mu.Lock()
			p.healthChecks++
			p.mu.Unlock()
			if err := pc.conn.PingContext(ctx); err != nil {
				p.retire(pc, "failed health check")
				continue
			}
			pc.lastHealthCheck = time.Now()
		}
		return pc, nil
	}
}

// Release returns a connection to the pool. An open transaction is
// rolled back first; a broken or over-age connection is closed instead
// of being pooled.
func (p *Pool) Release(pc *PooledConn) {
	if pc == nil {
		return
	}
	if pc.tx != nil {
		if err := pc.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			pc.broken = true
		}
		pc.tx = nil
		p.mu.Lock()
		p.transactionResets++
		p.mu.Unlock()
		p.logWarn("Rolled back abandoned transaction", map[string]interface{}{
			"connection_id": pc.id,
		})
	}
	pc.lastUsedAt = time.Now()

	p.mu.Lock()
	p.totalReleases++
	discard := p.closed || pc.broken ||
		(p.cfg.MaxLifetime > 0 && pc.Age() >= p.cfg.MaxLifetime)
	if discard {
		p.totalConns--
	} else {
		p.idle = append(p.idle, pc)
	}
	p.mu.Unlock()

	if discard {
		pc.conn.Close()
	}
	<-p.sem
}

// Stats returns a snapshot of the pool counters. InUse derives from
// the connection count rather than the semaphore so that in_use plus
// available never exceeds max_size, even mid-release.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Target:             p.cfg.Target,
		MinSize:            p.cfg.MinSize,
		MaxSize:            p.cfg.MaxSize,
		TotalConnections:   p.totalConns,
		InUse:              p.totalConns - len(p.idle),
		Available:          len(p.idle),
		PeakUsage:          p.peakUsage,
		TotalAcquisitions:  p.totalAcquisitions,
		TotalReleases:      p.totalReleases,
		FailedAcquisitions: p.failedAcquisitions,
		HealthChecks:       p.healthChecks,
		TransactionResets:  p.transactionResets,
		Closed:             p.closed,
	}
}

// Close marks the pool closed and closes every idle connection.
// Checked-out connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	idle := p.idle
	p.idle = nil
	p.totalConns -= len(idle)
	p.mu.Unlock()

	var first error
	for _, pc := range idle {
		if err := pc.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.logInfo("Pool closed", map[string]interface{}{
		"connections_closed": len(idle),
	})
	return first
}

func (p *Pool) dial(ctx context.Context) (*PooledConn, error) {
	conn, err := p.cfg.Factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.cfg.Target, err)
	}
	now := time.Now()
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.totalConns++
	p.mu.Unlock()
	return &PooledConn{
		conn:            conn,
		id:              id,
		createdAt:       now,
		lastUsedAt:      now,
		lastHealthCheck: now,
	}, nil
}

// retireReason reports why an idle connection should not be reused, or
// "" when it is still eligible.
func (p *Pool) retireReason(pc *PooledConn) string {
	if pc.broken {
		return "marked broken"
	}
	if p.cfg.MaxLifetime > 0 && pc.Age() >= p.cfg.MaxLifetime {
		return "exceeded max lifetime"
	}
	if p.cfg.IdleTimeout > 0 && time.Since(pc.lastUsedAt) >= p.cfg.IdleTimeout {
		return "idle too long"
	}
	return ""
}

func (p *Pool) retire(pc *PooledConn, reason string) {
	p.mu.Lock()
	p.totalConns--
	p.mu.Unlock()
	pc.conn.Close()
	p.logInfo("Retiring connection", map[string]interface{}{
		"connection_id": pc.id,
		"reason":        reason,
		"age_seconds":   int(pc.Age().Seconds()),
		"use_count":     pc.useCount,
	})
}

func (p *Pool) recordFailure() {
	p.mu.Lock()
	p.failedAcquisitions++
	p.mu.Unlock()
}

func (p *Pool) logInfo(msg string, fields map[string]interface{}) {
	if p.cfg.Log != nil {
		p.cfg.Log.Info(p.cfg.Target, "", msg, fields)
	}
}

func (p *Pool) logWarn(msg string, fields map[string]interface{}) {
	if p.cfg.Log != nil {
		p.cfg.Log.Warn(p.cfg.Target, "", msg, fields)
	}
}
