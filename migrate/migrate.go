// migrate/migrate.go
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/ApocalypseJiaWei/go_dblib/logger"
	"github.com/ApocalypseJiaWei/go_dblib/pool"
	"github.com/pressly/goose/v3"
)

// goose 的方言、文件系统和日志都是包级全局状态
var gooseMu sync.Mutex

// Dialect 返回协议对应的 goose 方言名
func Dialect(protocol pool.Protocol) (string, error) {
	switch protocol {
	case pool.ProtocolMySQL, pool.ProtocolMariaDB:
		return "mysql", nil
	case pool.ProtocolPostgreSQL:
		return "postgres", nil
	case pool.ProtocolSQLite:
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("migrate: unsupported protocol %q", protocol)
	}
}

// Up 执行 fsys 中 dir 目录下所有未执行的迁移
func Up(ctx context.Context, p pool.ConnectionPool, fsys fs.FS, dir string) error {
	return withGoose(ctx, p, fsys, func() error {
		if err := goose.UpContext(ctx, p.DB(), dir); err != nil {
			return fmt.Errorf("migrate: apply migrations: %w", err)
		}
		return nil
	})
}

// Version 返回当前版本, 0 表示尚未执行任何迁移
func Version(ctx context.Context, p pool.ConnectionPool) (int64, error) {
	var version int64
	err := withGoose(ctx, p, nil, func() error {
		v, err := goose.GetDBVersionContext(ctx, p.DB())
		if err != nil {
			return fmt.Errorf("migrate: read version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

func withGoose(ctx context.Context, p pool.ConnectionPool, fsys fs.FS, fn func() error) error {
	cfg := p.Config()
	dialect, err := Dialect(cfg.Protocol)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer func() {
		goose.SetBaseFS(nil)
		goose.SetLogger(goose.NopLogger())
		gooseMu.Unlock()
	}()
	goose.SetBaseFS(fsys)
	goose.SetLogger(gooseLogger{log: logger.FromContext(ctx).With("component", "migrate", "pool", p.Name())})
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrate: set goose dialect: %w", err)
	}
	return fn()
}

// gooseLogger 把 goose 的输出转到库日志
type gooseLogger struct {
	log logger.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf 只记录错误, goose 仅在命令行辅助函数中调用
func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
