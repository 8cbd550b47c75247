// model/stats.go
package model

import "time"

// PoolStats 连接池统计信息
type PoolStats struct {
	OpenConnections int           `yaml:"open_connections"` // 当前打开的物理连接数
	InUse           int           `yaml:"in_use"`           // 已借出的连接数
	IdleConnections int           `yaml:"idle"`             // 空闲连接数
	MaxOpen         int           `yaml:"max_open"`         // 最大打开连接数配置
	MaxIdle         int           `yaml:"max_idle"`         // 核心(最小空闲)连接数配置
	WaitCount       int64         `yaml:"wait_count"`       // 需要等待的获取次数
	WaitDuration    time.Duration `yaml:"wait_duration"`    // 总等待时间
	Acquired        int64         `yaml:"acquired"`         // 成功获取次数
	Exhausted       int64         `yaml:"exhausted"`        // 超时未获取到连接的次数
}

// WorkerStats 任务协程池统计信息
type WorkerStats struct {
	Capacity int `yaml:"capacity"` // 协程池容量
	Running  int `yaml:"running"`  // 正在运行的任务数
	Free     int `yaml:"free"`     // 空闲协程数
	Waiting  int `yaml:"waiting"`  // 等待中的任务数
	Pending  int `yaml:"pending"`  // 已提交但未完成的任务数
}
