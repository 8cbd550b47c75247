package model

import "time"

// Event 连接池生命周期事件
type Event struct {
	Name   string
	Pool   string
	Time   time.Time
	Err    error
	Fields map[string]any
}
