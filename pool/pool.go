// pool/pool.go
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ApocalypseJiaWei/go_dblib/logger"
	"github.com/ApocalypseJiaWei/go_dblib/model"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
)

var (
	ErrPoolClosed    = errors.New("connection pool is closed")
	ErrPoolExhausted = errors.New("connection pool exhausted")
	ErrInvalid       = errors.New("invalid connection")
	ErrInvalidConfig = errors.New("invalid pool config")
)

// 启动检查的首次重试间隔
var connectRetryDelay = 100 * time.Millisecond

// 连接池事件名称
const (
	EventOpened            = "pool.opened"
	EventExhausted         = "pool.exhausted"
	EventHealthCheckFailed = "pool.health_check_failed"
	EventClosed            = "pool.closed"
)

// Notifier 接收连接池事件
type Notifier interface {
	Dispatch(e model.Event)
}

// Option 连接池可选项
type Option func(*connectionPoolImpl)

func WithName(name string) Option {
	return func(p *connectionPoolImpl) {
		if name != "" {
			p.name = name
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *connectionPoolImpl) {
		if l != nil {
			p.log = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(p *connectionPoolImpl) {
		p.notifier = n
	}
}

type connectionPoolImpl struct {
	name     string
	config   *PoolConfig
	db       *sql.DB
	sem      *semaphore.Weighted
	log      logger.Logger
	notifier Notifier

	inUse     int32
	waitCount int64
	waitTime  int64
	acquired  int64
	exhausted int64

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnectionPool 创建新的连接池
func NewConnectionPool(ctx context.Context, config *PoolConfig, opts ...Option) (ConnectionPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	cfg := config.clone()
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Protocol, err)
	}
	// 空闲连接上限与最大连接数一致, 超出核心数的连接按 IdleTimeout 回收
	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxOpen)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	p := &connectionPoolImpl{
		name:   "main",
		config: cfg,
		db:     db,
		sem:    semaphore.NewWeighted(int64(cfg.MaxOpen)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.FromContext(ctx)
	}
	p.log = p.log.With("pool", p.name)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	if err := p.verify(ctx); err != nil {
		p.cancel()
		_ = db.Close()
		return nil, err
	}

	// 初始化空闲连接
	p.initIdleConnections(ctx)

	if cfg.HealthCheckPeriod > 0 {
		p.wg.Add(1)
		go p.healthCheck()
	}
	if period := cfg.replenishPeriod(); period > 0 {
		p.wg.Add(1)
		go p.replenisher(period)
	}

	p.log.Info("Connection pool opened",
		"protocol", cfg.Protocol,
		"host", cfg.Host,
		"database", cfg.Database,
		"max_open", cfg.MaxOpen,
		"max_idle", cfg.MaxIdle,
	)
	p.notify(EventOpened, nil, map[string]any{"protocol": string(cfg.Protocol)})
	return p, nil
}

// verify 启动时检查数据库连通性, 失败按指数退避重试
func (p *connectionPoolImpl) verify(ctx context.Context) error {
	backoff := retry.WithMaxRetries(p.config.ConnectRetries, retry.NewExponential(connectRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
		if err := p.db.PingContext(pctx); err != nil {
			p.log.Warn("Database ping failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ping %s database: %w", p.config.Protocol, err)
	}
	return nil
}

func (p *connectionPoolImpl) initIdleConnections(ctx context.Context) {
	p.fillIdle(ctx)
}

// fillIdle 保证空闲连接数不少于核心连接数, 只占用当前空闲的名额
func (p *connectionPoolImpl) fillIdle(ctx context.Context) {
	if p.db.Stats().Idle >= p.config.MaxIdle {
		return
	}
	conns := make([]*sql.Conn, 0, p.config.MaxIdle)
	for i := 0; i < p.config.MaxIdle; i++ {
		if !p.sem.TryAcquire(1) {
			break
		}
		conn, err := p.db.Conn(ctx)
		if err != nil {
			p.sem.Release(1)
			p.log.Warn("Failed to open idle connection", "error", err)
			break
		}
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		_ = conn.Close()
		p.sem.Release(1)
	}
}

// Get 获取连接, 超过 Timeout 仍无可用连接时返回 ErrPoolExhausted
func (p *connectionPoolImpl) Get(ctx context.Context) (*Connection, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	if p.closed.Load() {
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}

	octx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	conn, err := p.db.Conn(octx)
	if err != nil {
		p.sem.Release(1)
		// 名额已占到但驱动句柄被 DB() 的使用方占满
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, p.exhaust(err)
		}
		return nil, fmt.Errorf("create connection failed: %w", err)
	}

	atomic.AddInt32(&p.inUse, 1)
	atomic.AddInt64(&p.acquired, 1)
	return newConnection(p, conn), nil
}

// acquire 占用一个借出名额, 等待方按先来先得排队
func (p *connectionPoolImpl) acquire(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}

	start := time.Now()
	atomic.AddInt64(&p.waitCount, 1)
	defer func() {
		atomic.AddInt64(&p.waitTime, int64(time.Since(start)))
	}()

	actx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := p.sem.Acquire(actx, 1); err != nil {
		switch {
		case p.closed.Load():
			return ErrPoolClosed
		case ctx.Err() != nil:
			return fmt.Errorf("acquire connection: %w", ctx.Err())
		}
		return p.exhaust(nil)
	}
	return nil
}

// exhaust 记录一次获取超时, cause 为驱动层的超时错误时一并包装
func (p *connectionPoolImpl) exhaust(cause error) error {
	atomic.AddInt64(&p.exhausted, 1)
	p.log.Warn("Connection pool exhausted",
		"timeout", p.config.Timeout,
		"max_open", p.config.MaxOpen,
	)
	p.notify(EventExhausted, cause, map[string]any{
		"timeout":  p.config.Timeout.String(),
		"max_open": p.config.MaxOpen,
	})
	err := fmt.Errorf("%w: no connection available within %s (max open %d)",
		ErrPoolExhausted, p.config.Timeout, p.config.MaxOpen)
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	return err
}

// Put 归还连接
func (p *connectionPoolImpl) Put(conn *Connection) {
	if conn == nil || conn.pool != p || !conn.markReleased() {
		return
	}
	if err := conn.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		p.log.Warn("Failed to return connection", "error", err)
	}
	atomic.AddInt32(&p.inUse, -1)
	p.sem.Release(1)
}

// Ping 借出一个连接检查数据库是否可用
func (p *connectionPoolImpl) Ping(ctx context.Context) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s database: %w", p.config.Protocol, err)
	}
	return nil
}

// Close 关闭连接池, 正在等待的调用方收到 ErrPoolClosed
func (p *connectionPoolImpl) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()

	err := p.db.Close()
	p.log.Info("Connection pool closed", "in_use", atomic.LoadInt32(&p.inUse))
	p.notify(EventClosed, err, nil)
	if err != nil {
		return fmt.Errorf("close %s database: %w", p.config.Protocol, err)
	}
	return nil
}

// Stats 获取统计信息
func (p *connectionPoolImpl) Stats() model.PoolStats {
	ds := p.db.Stats()
	return model.PoolStats{
		OpenConnections: ds.OpenConnections,
		InUse:           int(atomic.LoadInt32(&p.inUse)),
		IdleConnections: ds.Idle,
		MaxOpen:         p.config.MaxOpen,
		MaxIdle:         p.config.MaxIdle,
		WaitCount:       atomic.LoadInt64(&p.waitCount),
		WaitDuration:    time.Duration(atomic.LoadInt64(&p.waitTime)),
		Acquired:        atomic.LoadInt64(&p.acquired),
		Exhausted:       atomic.LoadInt64(&p.exhausted),
	}
}

func (p *connectionPoolImpl) Config() PoolConfig {
	return *p.config.clone()
}

func (p *connectionPoolImpl) Name() string {
	return p.name
}

func (p *connectionPoolImpl) DB() *sql.DB {
	return p.db
}

// healthCheck 健康检查
func (p *connectionPoolImpl) healthCheck() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			// 连接全部借出时跳过本轮
			if !p.sem.TryAcquire(1) {
				continue
			}
			err := p.pingOnce()
			p.sem.Release(1)
			if err != nil {
				p.log.Warn("Health check failed", "error", err)
				p.notify(EventHealthCheckFailed, err, nil)
			}
		}
	}
}

func (p *connectionPoolImpl) pingOnce() error {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.Timeout)
	defer cancel()
	return p.db.PingContext(ctx)
}

// replenisher 补足被回收的核心连接
func (p *connectionPoolImpl) replenisher(period time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.fillIdle(p.ctx)
		}
	}
}

func (p *connectionPoolImpl) notify(name string, err error, fields map[string]any) {
	if p.notifier == nil {
		return
	}
	p.notifier.Dispatch(model.Event{
		Name:   name,
		Pool:   p.name,
		Time:   time.Now(),
		Err:    err,
		Fields: fields,
	})
}

// WithConnection 在借出的连接上执行 fn, 无论成功失败都会归还
func WithConnection(ctx context.Context, p ConnectionPool, fn func(conn *Connection) error) error {
	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}
