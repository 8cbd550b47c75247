// service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ApocalypseJiaWei/go_dblib/config"
	"github.com/ApocalypseJiaWei/go_dblib/event"
	"github.com/ApocalypseJiaWei/go_dblib/logger"
	"github.com/ApocalypseJiaWei/go_dblib/model"
	"github.com/ApocalypseJiaWei/go_dblib/pool"
	"github.com/ApocalypseJiaWei/go_dblib/submit"
)

var (
	ErrPoolDisabled = errors.New("the main sql connection pool is disabled")
	ErrNotStarted   = errors.New("the main sql connection pool has not been initialized yet")
)

// MainPoolName 主连接池名称
const MainPoolName = "main"

// Service 管理主连接池与任务提交器的生命周期
type Service struct {
	dataDir  string
	config   config.LibConfig
	defaults *pool.PoolConfig
	log      logger.Logger

	mu         sync.RWMutex
	pool       pool.ConnectionPool
	submitter  *submit.Submitter
	dispatcher *event.EventDispatcher
}

type Option func(*Service)

// WithPoolDefaults 设置 sql_pool.yml 不存在的配置项使用的默认值
func WithPoolDefaults(cfg *pool.PoolConfig) Option {
	return func(s *Service) { s.defaults = cfg }
}

// New 读取并保存 dataDir/config.yml
func New(ctx context.Context, dataDir string, opts ...Option) (*Service, error) {
	cfg, err := config.LoadLibConfig(dataDir)
	if err != nil {
		return nil, err
	}
	s := &Service{
		dataDir:  dataDir,
		config:   cfg,
		defaults: pool.DefaultConfig(),
		log:      logger.FromContext(ctx).With("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Config() config.LibConfig {
	return s.config
}

// Start 启用时创建主连接池和任务提交器
func (s *Service) Start(ctx context.Context) error {
	if !s.config.EnableSQLPool {
		s.log.Info("Main SQL pool is disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return nil
	}

	poolCfg, err := config.LoadPoolConfig(s.dataDir, s.defaults)
	if err != nil {
		return err
	}
	dispatcher, err := event.NewDispatcher(1, s.log)
	if err != nil {
		return fmt.Errorf("create event dispatcher: %w", err)
	}
	dispatcher.Register(event.Wildcard, s.logEvent)

	p, err := pool.NewConnectionPool(ctx, poolCfg,
		pool.WithName(MainPoolName),
		pool.WithLogger(s.log),
		pool.WithNotifier(dispatcher),
	)
	if err != nil {
		dispatcher.Close()
		return err
	}
	sub, err := submit.New(ctx, p, submit.Config{Workers: s.config.WorkerPoolSize})
	if err != nil {
		_ = p.Close()
		dispatcher.Close()
		return err
	}
	s.pool, s.submitter, s.dispatcher = p, sub, dispatcher
	return nil
}

// Stop 等待未完成的任务后关闭连接池
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil
	}
	var errs []error
	if err := s.submitter.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	s.dispatcher.Close()
	s.pool, s.submitter, s.dispatcher = nil, nil, nil
	return errors.Join(errs...)
}

// MainPool 返回主连接池
func (s *Service) MainPool() (pool.ConnectionPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	return s.pool, nil
}

// Submitter 返回主连接池的任务提交器
func (s *Service) Submitter() (*submit.Submitter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	return s.submitter, nil
}

// Events 返回主连接池的事件分发器, 可注册监听
func (s *Service) Events() (*event.EventDispatcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkStarted(); err != nil {
		return nil, err
	}
	return s.dispatcher, nil
}

func (s *Service) checkStarted() error {
	if s.pool != nil {
		return nil
	}
	if !s.config.EnableSQLPool {
		return ErrPoolDisabled
	}
	return ErrNotStarted
}

func (s *Service) logEvent(e model.Event) {
	if e.Err != nil {
		s.log.Warn("Pool event", "event", e.Name, "pool", e.Pool, "error", e.Err)
		return
	}
	s.log.Debug("Pool event", "event", e.Name, "pool", e.Pool)
}
