// internal/testdb/testdb.go
package testdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ApocalypseJiaWei/go_dblib/pool"
	"github.com/stretchr/testify/require"
)

var seq atomic.Int64

// Config 返回使用独立命名的共享缓存内存库的 sqlite 配置
func Config(tb testing.TB) *pool.PoolConfig {
	tb.Helper()
	cfg, err := pool.NewConfigBuilder().
		Protocol(string(pool.ProtocolSQLite)).
		Database(fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", seq.Add(1))).
		PoolSize(1, 4).
		Timeout(2 * time.Second).
		HealthCheckPeriod(0).
		ConnectRetries(0).
		Build()
	require.NoError(tb, err)
	return cfg
}

// Open 用 Config 创建连接池, 测试结束时关闭
func Open(tb testing.TB, opts ...pool.Option) pool.ConnectionPool {
	tb.Helper()
	return OpenWith(tb, Config(tb), opts...)
}

func OpenWith(tb testing.TB, cfg *pool.PoolConfig, opts ...pool.Option) pool.ConnectionPool {
	tb.Helper()
	p, err := pool.NewConnectionPool(context.Background(), cfg, opts...)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = p.Close() })
	return p
}

// Exec 在借出的连接上执行语句, 出错时测试失败
func Exec(tb testing.TB, p pool.ConnectionPool, stmts ...string) {
	tb.Helper()
	ctx := context.Background()
	err := pool.WithConnection(ctx, p, func(conn *pool.Connection) error {
		for _, stmt := range stmts {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		return nil
	})
	require.NoError(tb, err)
}
