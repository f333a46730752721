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
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// fakeConn implements Conn with controllable ping behavior. Query and
// exec paths are exercised through sqlmock-backed connections instead.
type fakeConn struct {
	mu      sync.Mutex
	pingErr error
	pings   int
	closed  bool
}

func (f *fakeConn) QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("fakeConn: query not supported")
}

func (f *fakeConn) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return nil, errors.New("fakeConn: exec not supported")
}

func (f *fakeConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return nil, errors.New("fakeConn: begin not supported")
}

func (f *fakeConn) PingContext(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// fakeFactory dials fakeConns and remembers every one it created.
type fakeFactory struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialErr error
}

func (ff *fakeFactory) dial(ctx context.Context) (Conn, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.dialErr != nil {
		return nil, ff.dialErr
	}
	c := &fakeConn{}
	ff.conns = append(ff.conns, c)
	return c, nil
}

func (ff *fakeFactory) dialed() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.conns)
}

func newTestPool(t *testing.T, cfg Config, ff *fakeFactory) *Pool {
	t.Helper()
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 4
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = time.Second
	}
	cfg.Factory = ff.dial
	p, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAcquireReusesReleasedConnection(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 2}, ff)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first := pc.ID()
	p.Release(pc)

	pc, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(pc)

	if pc.ID() != first {
		t.Errorf("got connection %d, want reused %d", pc.ID(), first)
	}
	if pc.UseCount() != 2 {
		t.Errorf("use count = %d, want 2", pc.UseCount())
	}
	if ff.dialed() != 1 {
		t.Errorf("dialed %d connections, want 1", ff.dialed())
	}
}

func TestAcquireBlocksAtMaxSize(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: 50 * time.Millisecond}, ff)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := p.Acquire(ctx); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("second Acquire error = %v, want ErrPoolExhausted", err)
	}
	if got := p.Stats().FailedAcquisitions; got != 1 {
		t.Errorf("failed acquisitions = %d, want 1", got)
	}

	p.Release(pc)
	pc, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	p.Release(pc)
}

func TestAcquireUnblocksWhenConnectionFreed(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: 2 * time.Second}, ff)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		p.Release(pc)
	}()

	start := time.Now()
	pc2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("blocked Acquire: %v", err)
	}
	defer p.Release(pc2)
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Acquire returned before the connection was released")
	}
	if ff.dialed() != 1 {
		t.Errorf("dialed %d connections, want the single one reused", ff.dialed())
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: 5 * time.Second}, ff)

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(pc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire error = %v, want context.DeadlineExceeded", err)
	}
}

func TestMaxLifetimeRetiresConnection(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 2, MaxLifetime: 20 * time.Millisecond}, ff)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first := pc.ID()
	p.Release(pc)

	time.Sleep(30 * time.Millisecond)

	pc, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(pc)

	if pc.ID() == first {
		t.Error("expired connection was reused")
	}
	if !ff.conns[0].isClosed() {
		t.Error("expired connection was not closed")
	}
	if ff.dialed() != 2 {
		t.Errorf("dialed %d connections, want 2", ff.dialed())
	}
}

func TestIdleTimeoutRetiresConnection(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 2, IdleTimeout: 20 * time.Millisecond}, ff)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(pc)

	time.Sleep(30 * time.Millisecond)

	pc, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(pc)

	if !ff.conns[0].isClosed() {
		t.Error("idle connection was not closed")
	}
	if ff.dialed() != 2 {
		t.Errorf("dialed %d connections, want 2", ff.dialed())
	}
}

func TestFailedHealthCheckRetiresAndRedials(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 2, HealthCheckInterval: 5 * time.Millisecond}, ff)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(pc)

	ff.conns[0].setPingErr(errors.New("server has gone away"))
	time.Sleep(10 * time.Millisecond)

	pc, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(pc)

	if !ff.conns[0].isClosed() {
		t.Error("unhealthy connection was not closed")
	}
	if ff.dialed() != 2 {
		t.Errorf("dialed %d connections, want replacement dial", ff.dialed())
	}
	st := p.Stats()
	if st.HealthChecks == 0 {
		t.Error("health check counter never incremented")
	}
	if st.TotalConnections != 1 {
		t.Errorf("total connections = %d, want 1", st.TotalConnections)
	}
}

func TestHealthyConnectionPassesCheck(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 2, HealthCheckInterval: 5 * time.Millisecond}, ff)
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	first := pc.ID()
	p.Release(pc)

	time.Sleep(10 * time.Millisecond)

	pc, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(pc)

	if pc.ID() != first {
		t.Error("healthy connection was not reused after its check")
	}
	if ff.conns[0].pings == 0 {
		t.Error("connection was never pinged")
	}
}

func TestReleaseRollsBackOpenTransaction(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectBegin()
	mock.ExpectRollback()

	p, err := New(context.Background(), Config{
		Target:         "default",
		MaxSize:        1,
		AcquireTimeout: time.Second,
		Factory:        func(ctx context.Context) (Conn, error) { return db, nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := pc.BeginTx(context.Background(), nil); err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	p.Release(pc)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("rollback was not issued: %v", err)
	}
	if got := p.Stats().TransactionResets; got != 1 {
		t.Errorf("transaction resets = %d, want 1", got)
	}
}

func TestReleaseAfterCommitDoesNotReset(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectBegin()
	mock.ExpectCommit()

	p, err := New(context.Background(), Config{
		Target:         "default",
		MaxSize:        1,
		AcquireTimeout: time.Second,
		Factory:        func(ctx context.Context) (Conn, error) { return db, nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	tx, err := pc.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	pc.Done()
	p.Release(pc)

	if got := p.Stats().TransactionResets; got != 0 {
		t.Errorf("transaction resets = %d, want 0", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWarmUp(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MinSize: 2, MaxSize: 4}, ff)

	st := p.Stats()
	if st.TotalConnections != 2 || st.Available != 2 {
		t.Errorf("stats after warm-up = %+v, want 2 total / 2 available", st)
	}
	if ff.dialed() != 2 {
		t.Errorf("dialed %d connections, want 2", ff.dialed())
	}
}

func TestWarmUpFailureIsNotFatal(t *testing.T) {
	ff := &fakeFactory{dialErr: errors.New("connection refused")}
	p := newTestPool(t, Config{MinSize: 2, MaxSize: 4}, ff)

	if st := p.Stats(); st.TotalConnections != 0 {
		t.Errorf("total connections = %d, want 0 after failed warm-up", st.TotalConnections)
	}

	// The pool recovers once the database is reachable again.
	ff.mu.Lock()
	ff.dialErr = nil
	ff.mu.Unlock()

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after recovery: %v", err)
	}
	p.Release(pc)
}

func TestClose(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MinSize: 1, MaxSize: 2}, ff)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ff.conns[0].isClosed() {
		t.Error("idle connection not closed")
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire after Close = %v, want ErrPoolClosed", err)
	}
	if !p.Stats().Closed {
		t.Error("stats do not report closed")
	}
	// Close is idempotent.
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCloseUnblocksWaitingAcquire(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: time.Minute}, ff)

	pc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer pc.conn.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errc <- err
	}()

	// Let the second acquire park on the semaphore before closing.
	time.Sleep(20 * time.Millisecond)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("blocked Acquire = %v, want ErrPoolClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Acquire did not return after Close")
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 4, AcquireTimeout: 5 * time.Second}, ff)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				pc, err := p.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire: %v", err)
					return
				}
				p.Release(pc)
			}
		}()
	}
	wg.Wait()

	st := p.Stats()
	if st.TotalAcquisitions != 400 || st.TotalReleases != 400 {
		t.Errorf("acquisitions/releases = %d/%d, want 400/400", st.TotalAcquisitions, st.TotalReleases)
	}
	if st.InUse != 0 {
		t.Errorf("in use = %d, want 0", st.InUse)
	}
	if st.TotalConnections > st.MaxSize {
		t.Errorf("total connections %d exceeds max size %d", st.TotalConnections, st.MaxSize)
	}
	if st.PeakUsage > st.MaxSize {
		t.Errorf("peak usage %d exceeds max size %d", st.PeakUsage, st.MaxSize)
	}
	if ff.dialed() > st.MaxSize {
		t.Errorf("dialed %d connections, never more than max size %d", ff.dialed(), st.MaxSize)
	}
}

func TestStatsInvariantUnderConcurrentRelease(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, Config{MaxSize: 1, AcquireTimeout: 5 * time.Second}, ff)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			pc, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			p.Release(pc)
		}
	}()

	// Every snapshot must satisfy the accounting bounds, including the
	// ones taken mid-release.
	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		st := p.Stats()
		if st.InUse < 0 {
			t.Fatalf("in use = %d, want >= 0", st.InUse)
		}
		if st.InUse+st.Available > st.MaxSize {
			t.Fatalf("in_use %d + available %d exceeds max size %d",
				st.InUse, st.Available, st.MaxSize)
		}
	}
	close(stop)
	wg.Wait()
}
