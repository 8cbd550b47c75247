// metrics/collector.go
package metrics

import (
	"net/http"
	"sync"

	"github.com/ApocalypseJiaWei/go_dblib/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "dblib"

// PoolSource 由 pool.ConnectionPool 实现
type PoolSource interface {
	Name() string
	Stats() model.PoolStats
}

// WorkerSource 由 *submit.Submitter 实现
type WorkerSource interface {
	Stats() model.WorkerStats
}

type workerEntry struct {
	pool   string
	source WorkerSource
}

// Collector 每次采集时读取统计信息
type Collector struct {
	mu      sync.RWMutex
	pools   []PoolSource
	workers []workerEntry

	openConns    *prometheus.Desc
	inUse        *prometheus.Desc
	idle         *prometheus.Desc
	maxOpen      *prometheus.Desc
	maxIdle      *prometheus.Desc
	waitCount    *prometheus.Desc
	waitSeconds  *prometheus.Desc
	acquired     *prometheus.Desc
	exhausted    *prometheus.Desc
	workerCap    *prometheus.Desc
	workerRun    *prometheus.Desc
	workerWait   *prometheus.Desc
	workerQueued *prometheus.Desc
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	pool := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, []string{"pool"}, nil)
	}
	worker := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "workers", name), help, []string{"pool"}, nil)
	}
	return &Collector{
		openConns:    pool("open_connections", "Physical connections currently open."),
		inUse:        pool("in_use", "Connections currently leased to callers."),
		idle:         pool("idle", "Idle connections held by the pool."),
		maxOpen:      pool("max_open", "Maximum pool size."),
		maxIdle:      pool("max_idle", "Core pool size."),
		waitCount:    pool("wait_total", "Acquisitions that had to wait for a free connection."),
		waitSeconds:  pool("wait_seconds_total", "Total time spent waiting for a free connection."),
		acquired:     pool("acquired_total", "Successful connection acquisitions."),
		exhausted:    pool("exhausted_total", "Acquisitions that failed because the pool was exhausted."),
		workerCap:    worker("capacity", "Size of the task worker pool."),
		workerRun:    worker("running", "Workers currently running tasks."),
		workerWait:   worker("waiting", "Submissions blocked waiting for a worker."),
		workerQueued: worker("pending", "Tasks submitted but not finished."),
	}
}

// AddPool 注册连接池, 以池名称作为标签
func (c *Collector) AddPool(p PoolSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools = append(c.pools, p)
}

// AddWorkers 注册任务协程池, 以所属连接池名称作为标签
func (c *Collector) AddWorkers(pool string, w WorkerSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers = append(c.workers, workerEntry{pool: pool, source: w})
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.openConns, c.inUse, c.idle, c.maxOpen, c.maxIdle,
		c.waitCount, c.waitSeconds, c.acquired, c.exhausted,
		c.workerCap, c.workerRun, c.workerWait, c.workerQueued,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.pools {
		s, name := p.Stats(), p.Name()
		ch <- prometheus.MustNewConstMetric(c.openConns, prometheus.GaugeValue, float64(s.OpenConnections), name)
		ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse), name)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConnections), name)
		ch <- prometheus.MustNewConstMetric(c.maxOpen, prometheus.GaugeValue, float64(s.MaxOpen), name)
		ch <- prometheus.MustNewConstMetric(c.maxIdle, prometheus.GaugeValue, float64(s.MaxIdle), name)
		ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(s.WaitCount), name)
		ch <- prometheus.MustNewConstMetric(c.waitSeconds, prometheus.CounterValue, s.WaitDuration.Seconds(), name)
		ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.CounterValue, float64(s.Acquired), name)
		ch <- prometheus.MustNewConstMetric(c.exhausted, prometheus.CounterValue, float64(s.Exhausted), name)
	}
	for _, w := range c.workers {
		s := w.source.Stats()
		ch <- prometheus.MustNewConstMetric(c.workerCap, prometheus.GaugeValue, float64(s.Capacity), w.pool)
		ch <- prometheus.MustNewConstMetric(c.workerRun, prometheus.GaugeValue, float64(s.Running), w.pool)
		ch <- prometheus.MustNewConstMetric(c.workerWait, prometheus.GaugeValue, float64(s.Waiting), w.pool)
		ch <- prometheus.MustNewConstMetric(c.workerQueued, prometheus.GaugeValue, float64(s.Pending), w.pool)
	}
}

// Handler 返回只包含该采集器的 /metrics 处理器
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
