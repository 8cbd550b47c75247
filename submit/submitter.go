// submit/submitter.go
package submit

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ApocalypseJiaWei/go_dblib/logger"
	"github.com/ApocalypseJiaWei/go_dblib/model"
	"github.com/ApocalypseJiaWei/go_dblib/pool"
	"github.com/panjf2000/ants/v2"
)

var (
	ErrNilFunc         = errors.New("task function is nil")
	ErrNilCallback     = errors.New("callback is nil")
	ErrRejected        = errors.New("task rejected")
	ErrTaskPanic       = errors.New("task panicked")
	ErrSubmitterClosed = errors.New("submitter is closed")
)

// Executor 执行回调, 用于把结果交回调用方指定的协程
type Executor interface {
	Execute(fn func())
}

type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// Inline 在工作协程中直接执行回调
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Config 任务提交器配置
type Config struct {
	Workers          int           // 工作协程数
	Nonblocking      bool          // 协程池满时直接拒绝, 不排队
	MaxQueuedTasks   int           // 排队等待的最大任务数, 0 表示不限
	CallbackExecutor Executor      // 回调执行器, 默认 Inline
	TaskTimeout      time.Duration // 单个任务超时, 0 表示不限
}

const DefaultWorkers = 4

func DefaultConfig() Config {
	return Config{Workers: DefaultWorkers, CallbackExecutor: Inline}
}

// Submitter 在协程池上异步执行 SQL 任务, 每个任务独占一个连接
type Submitter struct {
	pool    pool.ConnectionPool
	workers *ants.Pool
	config  Config
	log     logger.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	pending int64

	// 提交方只入队, 由 feed 协程按先进先出交给协程池
	qmu      sync.Mutex
	qcond    *sync.Cond
	queue    []func()
	handing  int // 已出队但尚未被协程池接收
	stopping bool
	fed      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建任务提交器, ctx 是所有任务上下文的父级
func New(ctx context.Context, p pool.ConnectionPool, cfg Config) (*Submitter, error) {
	if p == nil {
		return nil, errors.New("connection pool is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.CallbackExecutor == nil {
		cfg.CallbackExecutor = Inline
	}
	s := &Submitter{
		pool:   p,
		config: cfg,
		log:    logger.FromContext(ctx).With("component", "submitter", "pool", p.Name()),
	}
	workers, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(cfg.Nonblocking),
		ants.WithPanicHandler(func(v any) {
			s.log.Error("Worker panicked", "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	s.workers = workers
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.qcond = sync.NewCond(&s.qmu)
	s.fed = make(chan struct{})
	if cfg.Nonblocking {
		close(s.fed)
	} else {
		go s.feed()
	}
	return s, nil
}

// Connection 直接借出一个连接, 调用方负责 Release
func (s *Submitter) Connection(ctx context.Context) (*pool.Connection, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrSubmitterClosed
	}
	return s.pool.Get(ctx)
}

// Pool 返回任务使用的连接池
func (s *Submitter) Pool() pool.ConnectionPool {
	return s.pool
}

func (s *Submitter) submit(task func(ctx context.Context)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: %w", ErrRejected, ErrSubmitterClosed)
	}

	s.wg.Add(1)
	atomic.AddInt64(&s.pending, 1)
	job := func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.pending, -1)

		ctx := s.ctx
		if s.config.TaskTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.TaskTimeout)
			defer cancel()
		}
		task(ctx)
	}

	var err error
	if s.config.Nonblocking {
		err = s.workers.Submit(job)
	} else {
		err = s.enqueue(job)
	}
	if err != nil {
		atomic.AddInt64(&s.pending, -1)
		s.wg.Done()
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return nil
}

// enqueue 只入队不等待, 队列满时返回 ants.ErrPoolOverload
func (s *Submitter) enqueue(job func()) error {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.config.MaxQueuedTasks > 0 && len(s.queue)+s.handing >= s.config.MaxQueuedTasks {
		return ants.ErrPoolOverload
	}
	s.queue = append(s.queue, job)
	s.qcond.Signal()
	return nil
}

// feed 把队列中的任务依次交给协程池, 协程池满时在这里阻塞
func (s *Submitter) feed() {
	defer close(s.fed)
	for {
		s.qmu.Lock()
		for len(s.queue) == 0 && !s.stopping {
			s.qcond.Wait()
		}
		if len(s.queue) == 0 {
			s.qmu.Unlock()
			return
		}
		job := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.handing = 1
		s.qmu.Unlock()

		err := s.workers.Submit(job)
		s.qmu.Lock()
		s.handing = 0
		s.qmu.Unlock()
		if err != nil {
			// 协程池已释放, 任务上下文已取消, 单独执行以交付结果
			go job()
		}
	}
}

func (s *Submitter) queued() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.queue) + s.handing
}

// callback 通过回调执行器交付结果
func (s *Submitter) callback(fn func()) {
	s.config.CallbackExecutor.Execute(fn)
}

// Close 等待已提交的任务完成后释放协程池, ctx 到期时取消剩余任务
func (s *Submitter) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("drain tasks: %w", ctx.Err())
		s.log.Warn("Cancelling outstanding tasks", "pending", atomic.LoadInt64(&s.pending))
	}
	s.cancel()
	s.workers.Release()

	s.qmu.Lock()
	s.stopping = true
	s.qcond.Broadcast()
	s.qmu.Unlock()
	<-s.fed
	return err
}

// Stats 获取协程池统计信息
func (s *Submitter) Stats() model.WorkerStats {
	return model.WorkerStats{
		Capacity: s.workers.Cap(),
		Running:  s.workers.Running(),
		Free:     s.workers.Free(),
		Waiting:  s.queued(),
		Pending:  int(atomic.LoadInt64(&s.pending)),
	}
}

// withConnection 借出连接执行 fn, panic 转换为 ErrTaskPanic, 连接在任何路径都会归还
func withConnection[R any](ctx context.Context, s *Submitter, fn task[R]) (result R, err error) {
	conn, err := s.pool.Get(ctx)
	if err != nil {
		return result, err
	}
	defer s.pool.Put(conn)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("SQL task panicked", "panic", r, "stack", string(debug.Stack()))
			var zero R
			result, err = zero, fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return fn(ctx, conn)
}
