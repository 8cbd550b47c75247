package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ApocalypseJiaWei/go_dblib/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var memSeq atomic.Int64

func sqliteConfig() *PoolConfig {
	cfg := DefaultConfig()
	cfg.Protocol = ProtocolSQLite
	cfg.Database = fmt.Sprintf("file:pooltest%d?mode=memory&cache=shared", memSeq.Add(1))
	cfg.Timeout = time.Second
	cfg.HealthCheckPeriod = 0
	cfg.ConnectRetries = 0
	return cfg
}

func openPool(t *testing.T, cfg *PoolConfig, opts ...Option) ConnectionPool {
	t.Helper()
	p, err := NewConnectionPool(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Dispatch(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func TestConnectionPool_GetPut(t *testing.T) {
	ctx := context.Background()
	p := openPool(t, sqliteConfig())

	conn, err := p.Get(ctx)
	require.NoError(t, err)
	assert.True(t, conn.IsValid(ctx))
	assert.False(t, conn.AcquiredAt().IsZero())

	_, err = conn.ExecContext(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "INSERT INTO users (name) VALUES (?)", "alice")
	require.NoError(t, err)

	var name string
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT name FROM users WHERE id = 1").Scan(&name))
	assert.Equal(t, "alice", name)

	stats := p.Stats()
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, int64(1), stats.Acquired)

	p.Put(conn)
	assert.True(t, conn.Released())
	assert.False(t, conn.IsValid(ctx))
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestConnectionPool_Exhausted(t *testing.T) {
	cfg := sqliteConfig()
	cfg.MaxOpen = 1
	cfg.MaxIdle = 1
	cfg.Timeout = 50 * time.Millisecond
	rec := &recorder{}
	p := openPool(t, cfg, WithNotifier(rec), WithName("exhaust"))

	held, err := p.Get(context.Background())
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = p.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Exhausted)
	assert.Equal(t, int64(1), stats.WaitCount)
	assert.Positive(t, stats.WaitDuration)
	assert.Contains(t, rec.names(), EventExhausted)
	assert.Equal(t, []string{EventOpened, EventExhausted}, rec.names())
}

func TestConnectionPool_ReleaseUnblocksWaiter(t *testing.T) {
	cfg := sqliteConfig()
	cfg.MaxOpen = 1
	cfg.MaxIdle = 1
	cfg.Timeout = 5 * time.Second
	p := openPool(t, cfg)

	held, err := p.Get(context.Background())
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		conn, err := p.Get(context.Background())
		if err == nil {
			p.Put(conn)
		}
		got <- err
	}()

	time.Sleep(30 * time.Millisecond)
	p.Put(held)

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not unblocked")
	}
}

func TestConnectionPool_DoublePut(t *testing.T) {
	cfg := sqliteConfig()
	cfg.MaxOpen = 2
	p := openPool(t, cfg)

	conn, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Put(conn)
	p.Put(conn)
	conn.Release()
	p.Put(nil)

	assert.Equal(t, 0, p.Stats().InUse)

	// 名额没有被重复释放
	a, err := p.Get(context.Background())
	require.NoError(t, err)
	b, err := p.Get(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	p.Put(a)
	p.Put(b)
}

func TestConnectionPool_PutForeignConnection(t *testing.T) {
	p1 := openPool(t, sqliteConfig())
	p2 := openPool(t, sqliteConfig())

	conn, err := p1.Get(context.Background())
	require.NoError(t, err)
	p2.Put(conn)
	assert.False(t, conn.Released())
	assert.Equal(t, 1, p1.Stats().InUse)
	p1.Put(conn)
}

func TestConnectionPool_CallerContextCanceled(t *testing.T) {
	cfg := sqliteConfig()
	cfg.MaxOpen = 1
	cfg.MaxIdle = 1
	cfg.Timeout = 5 * time.Second
	p := openPool(t, cfg)

	held, err := p.Get(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = p.Get(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrPoolExhausted))
	assert.Equal(t, int64(0), p.Stats().Exhausted)
}

func TestConnectionPool_Close(t *testing.T) {
	rec := &recorder{}
	p, err := NewConnectionPool(context.Background(), sqliteConfig(), WithNotifier(rec))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, p.Ping(context.Background()), ErrPoolClosed)
	assert.Equal(t, []string{EventOpened, EventClosed}, rec.names())
}

func TestConnectionPool_CloseWakesWaiters(t *testing.T) {
	cfg := sqliteConfig()
	cfg.MaxOpen = 1
	cfg.MaxIdle = 1
	cfg.Timeout = 5 * time.Second
	p, err := NewConnectionPool(context.Background(), cfg)
	require.NoError(t, err)

	held, err := p.Get(context.Background())
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		_, err := p.Get(context.Background())
		got <- err
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-got:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Close")
	}
	p.Put(held)
}

func TestConnectionPool_HealthCheck(t *testing.T) {
	cfg := sqliteConfig()
	cfg.MaxIdle = 2
	cfg.HealthCheckPeriod = 10 * time.Millisecond
	rec := &recorder{}
	p := openPool(t, cfg, WithNotifier(rec))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Ping(context.Background()))
	assert.GreaterOrEqual(t, p.Stats().OpenConnections, 1)
	assert.NotContains(t, rec.names(), EventHealthCheckFailed)
}

func TestConnectionPool_Accessors(t *testing.T) {
	cfg := sqliteConfig()
	cfg.DriverProperties = map[string]string{"_txlock": "immediate"}
	p := openPool(t, cfg, WithName("reports"))

	assert.Equal(t, "reports", p.Name())
	assert.NotNil(t, p.DB())

	got := p.Config()
	assert.Equal(t, ProtocolSQLite, got.Protocol)
	got.DriverProperties["_txlock"] = "deferred"
	assert.Equal(t, "immediate", p.Config().DriverProperties["_txlock"])

	stats := p.Stats()
	assert.Equal(t, cfg.MaxOpen, stats.MaxOpen)
	assert.Equal(t, cfg.MaxIdle, stats.MaxIdle)
}

func TestNewConnectionPool_InvalidConfig(t *testing.T) {
	cfg := sqliteConfig()
	cfg.MaxOpen = 0
	_, err := NewConnectionPool(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewConnectionPool(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewConnectionPool_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.Timeout = time.Second
	cfg.ConnectRetries = 0
	_, err := NewConnectionPool(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping mysql database")
}

func TestWithConnection(t *testing.T) {
	ctx := context.Background()
	p := openPool(t, sqliteConfig())

	err := WithConnection(ctx, p, func(conn *Connection) error {
		_, err := conn.ExecContext(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithConnection(ctx, p, func(conn *Connection) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestConnectionPool_ReplenishesCoreAfterIdleTimeout(t *testing.T) {
	cfg := sqliteConfig()
	cfg.MaxOpen = 4
	cfg.MaxIdle = 2
	cfg.IdleTimeout = 40 * time.Millisecond
	p := openPool(t, cfg)

	// database/sql 每秒最多清理一次空闲连接
	time.Sleep(1300 * time.Millisecond)

	ds := p.DB().Stats()
	assert.Positive(t, ds.MaxIdleTimeClosed)
	assert.GreaterOrEqual(t, p.Stats().IdleConnections, cfg.MaxIdle)
}

func TestConnectionPool_DriverHandleSaturated(t *testing.T) {
	cfg := sqliteConfig()
	cfg.MaxOpen = 1
	cfg.MaxIdle = 1
	cfg.Timeout = 50 * time.Millisecond
	rec := &recorder{}
	p := openPool(t, cfg, WithNotifier(rec))

	raw, err := p.DB().Conn(context.Background())
	require.NoError(t, err)
	defer raw.Close()

	_, err = p.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.Stats().Exhausted)
	assert.Equal(t, 0, p.Stats().InUse)
	assert.Contains(t, rec.names(), EventExhausted)
}
