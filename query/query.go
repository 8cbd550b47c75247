// query/query.go
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ApocalypseJiaWei/go_dblib/pool"
	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
)

// ErrNotFound Get 没有查询到记录
var ErrNotFound = errors.New("record not found")

// Execer 可执行语句的对象: *sql.DB, *sql.Conn, *sql.Tx, *pool.Connection
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier 可查询的对象
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	_ Execer  = (*pool.Connection)(nil)
	_ Querier = (*pool.Connection)(nil)
)

// Placeholder 返回协议对应的参数占位符格式
func Placeholder(protocol pool.Protocol) squirrel.PlaceholderFormat {
	if protocol == pool.ProtocolPostgreSQL {
		return squirrel.Dollar
	}
	return squirrel.Question
}

// Builder 返回使用协议占位符的语句构建器
func Builder(protocol pool.Protocol) squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(Placeholder(protocol))
}

// Exec 构建并执行语句
func Exec(ctx context.Context, db Execer, q squirrel.Sqlizer) (sql.Result, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return res, nil
}

// Select 查询多行并扫描到 T 的切片
func Select[T any](ctx context.Context, db Querier, q squirrel.Sqlizer) ([]T, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var out []T
	if err := sqlscan.Select(ctx, db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("scanning rows: %w", err)
	}
	return out, nil
}

// Get 查询单行, 没有记录时返回 ErrNotFound
func Get[T any](ctx context.Context, db Querier, q squirrel.Sqlizer) (T, error) {
	var out T
	query, args, err := q.ToSql()
	if err != nil {
		return out, fmt.Errorf("building query: %w", err)
	}
	if err := sqlscan.Get(ctx, db, &out, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return out, ErrNotFound
		}
		return out, fmt.Errorf("scanning row: %w", err)
	}
	return out, nil
}
