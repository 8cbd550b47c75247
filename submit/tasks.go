package submit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ApocalypseJiaWei/go_dblib/pool"
)

type (
	ConnFunc[R any] func(ctx context.Context, conn *sql.Conn) (R, error)
	StmtFunc[R any] func(ctx context.Context, stmt *sql.Stmt) (R, error)
	TxFunc[R any]   func(ctx context.Context, tx *sql.Tx) (R, error)

	ConnAction func(ctx context.Context, conn *sql.Conn) error
	StmtAction func(ctx context.Context, stmt *sql.Stmt) error
	TxAction   func(ctx context.Context, tx *sql.Tx) error

	// Callback 接收任务结果, 每个任务恰好调用一次
	Callback[R any] func(result R, err error)
)

type task[R any] func(ctx context.Context, conn *pool.Connection) (R, error)

func connTask[R any](fn ConnFunc[R]) task[R] {
	return func(ctx context.Context, conn *pool.Connection) (R, error) {
		return fn(ctx, conn.Conn())
	}
}

// stmtTask 预编译语句在任务结束后关闭
func stmtTask[R any](query string, fn StmtFunc[R]) task[R] {
	return func(ctx context.Context, conn *pool.Connection) (R, error) {
		stmt, err := conn.PrepareContext(ctx, query)
		if err != nil {
			var zero R
			return zero, fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()
		return fn(ctx, stmt)
	}
}

// txTask 成功时提交, 出错或 panic 时回滚
func txTask[R any](fn TxFunc[R]) task[R] {
	return func(ctx context.Context, conn *pool.Connection) (result R, err error) {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return result, fmt.Errorf("begin transaction: %w", err)
		}
		finished := false
		defer func() {
			if !finished {
				_ = tx.Rollback()
			}
		}()

		result, err = fn(ctx, tx)
		if err != nil {
			return result, err
		}
		finished = true
		if err := tx.Commit(); err != nil {
			return result, fmt.Errorf("commit transaction: %w", err)
		}
		return result, nil
	}
}

func action[F ~func(context.Context, T) error, T any](fn F) func(context.Context, T) (struct{}, error) {
	return func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	}
}

func withCallback[R any](s *Submitter, t task[R], cb Callback[R]) error {
	if cb == nil {
		return ErrNilCallback
	}
	return s.submit(func(ctx context.Context) {
		result, err := withConnection(ctx, s, t)
		s.callback(func() { cb(result, err) })
	})
}

func withAction(s *Submitter, t task[struct{}]) error {
	return s.submit(func(ctx context.Context) {
		if _, err := withConnection(ctx, s, t); err != nil {
			s.log.Error("SQL task failed", "error", err)
		}
	})
}

func withFuture[R any](s *Submitter, t task[R]) (*Future[R], error) {
	f := newFuture[R]()
	err := s.submit(func(ctx context.Context) {
		f.complete(withConnection(ctx, s, t))
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SubmitConn 在连接上执行 fn, 结果交给 cb
func SubmitConn[R any](s *Submitter, fn ConnFunc[R], cb Callback[R]) error {
	if fn == nil {
		return ErrNilFunc
	}
	return withCallback(s, connTask(fn), cb)
}

// SubmitConnAction 在连接上执行无结果的 fn, 错误只记录日志
func SubmitConnAction(s *Submitter, fn ConnAction) error {
	if fn == nil {
		return ErrNilFunc
	}
	return withAction(s, connTask(ConnFunc[struct{}](action(fn))))
}

// ConnFuture 在连接上执行 fn 并返回 Future
func ConnFuture[R any](s *Submitter, fn ConnFunc[R]) (*Future[R], error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	return withFuture(s, connTask(fn))
}

// SubmitStmt 预编译 query 后执行 fn, 结果交给 cb
func SubmitStmt[R any](s *Submitter, query string, fn StmtFunc[R], cb Callback[R]) error {
	if fn == nil {
		return ErrNilFunc
	}
	return withCallback(s, stmtTask(query, fn), cb)
}

func SubmitStmtAction(s *Submitter, query string, fn StmtAction) error {
	if fn == nil {
		return ErrNilFunc
	}
	return withAction(s, stmtTask(query, StmtFunc[struct{}](action(fn))))
}

func StmtFuture[R any](s *Submitter, query string, fn StmtFunc[R]) (*Future[R], error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	return withFuture(s, stmtTask(query, fn))
}

// SubmitTx 在事务中执行 fn, 结果交给 cb
func SubmitTx[R any](s *Submitter, fn TxFunc[R], cb Callback[R]) error {
	if fn == nil {
		return ErrNilFunc
	}
	return withCallback(s, txTask(fn), cb)
}

func SubmitTxAction(s *Submitter, fn TxAction) error {
	if fn == nil {
		return ErrNilFunc
	}
	return withAction(s, txTask(TxFunc[struct{}](action(fn))))
}

func TxFuture[R any](s *Submitter, fn TxFunc[R]) (*Future[R], error) {
	if fn == nil {
		return nil, ErrNilFunc
	}
	return withFuture(s, txTask(fn))
}
