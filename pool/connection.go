// pool/connection.go
package pool

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"
)

// Connection 封装从连接池借出的连接, 借出期间由调用方独占
type Connection struct {
	conn       *sql.Conn
	pool       *connectionPoolImpl
	acquiredAt time.Time
	released   int32
}

func newConnection(p *connectionPoolImpl, conn *sql.Conn) *Connection {
	return &Connection{
		conn:       conn,
		pool:       p,
		acquiredAt: time.Now(),
	}
}

// Conn 返回底层 *sql.Conn, 归还后不可再使用
func (c *Connection) Conn() *sql.Conn {
	return c.conn
}

// AcquiredAt 借出时间
func (c *Connection) AcquiredAt() time.Time {
	return c.acquiredAt
}

// Released 是否已归还
func (c *Connection) Released() bool {
	return atomic.LoadInt32(&c.released) == 1
}

// IsValid 检查连接是否有效
func (c *Connection) IsValid(ctx context.Context) bool {
	if c.Released() {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.conn.PingContext(pctx) == nil
}

// Release 归还连接, 多次调用只生效一次
func (c *Connection) Release() {
	c.pool.Put(c)
}

func (c *Connection) markReleased() bool {
	return atomic.CompareAndSwapInt32(&c.released, 0, 1)
}

func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *Connection) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return c.conn.PrepareContext(ctx, query)
}

func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

func (c *Connection) PingContext(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}
