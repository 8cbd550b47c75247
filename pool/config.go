// pool/config.go
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/ApocalypseJiaWei/go_dblib/model"
	"github.com/go-playground/validator/v10"
)

// Protocol 数据库协议
type Protocol string

const (
	ProtocolMySQL      Protocol = "mysql"
	ProtocolMariaDB    Protocol = "mariadb"
	ProtocolPostgreSQL Protocol = "postgresql"
	ProtocolSQLite     Protocol = "sqlite"
)

// Protocols 支持的协议列表
var Protocols = []Protocol{ProtocolMySQL, ProtocolMariaDB, ProtocolPostgreSQL, ProtocolSQLite}

const (
	DefaultTimeout           = 30 * time.Second
	DefaultIdleTimeout       = 10 * time.Minute
	DefaultMaxLifetime       = 30 * time.Minute
	DefaultHealthCheckPeriod = 30 * time.Second
	DefaultConnectRetries    = 3
)

var validate = validator.New()

// PoolConfig 连接池配置结构体
type PoolConfig struct {
	Protocol          Protocol          `validate:"oneof=mysql mariadb postgresql sqlite"`
	Host              string            `validate:"required_unless=Protocol sqlite"`
	Port              int               `validate:"min=1,max=65535"`
	Username          string            // 用户名
	Password          string            // 密码
	Database          string            `validate:"required"`
	MaxOpen           int               `validate:"min=1,gtefield=MaxIdle"` // 最大连接数
	MaxIdle           int               `validate:"min=1"`                  // 核心连接数, 空闲超时被回收后由补充循环补足
	Timeout           time.Duration     `validate:"gte=0"`                  // 连接获取超时时间
	IdleTimeout       time.Duration     `validate:"gte=0"`                  // 连接最大空闲时间
	MaxLifetime       time.Duration     `validate:"gte=0"`                  // 连接最大存活时间
	HealthCheckPeriod time.Duration     `validate:"gte=0"`                  // 健康检查周期, 0 表示关闭
	ConnectRetries    uint64            // 启动时连通性检查的重试次数
	DriverProperties  map[string]string `validate:"dive,keys,required,endkeys"`
}

// ConnectionPool 连接池接口定义
type ConnectionPool interface {
	Get(ctx context.Context) (*Connection, error)
	Put(conn *Connection)
	Ping(ctx context.Context) error
	Close() error
	Stats() model.PoolStats
	Config() PoolConfig
	Name() string
	// DB 暴露底层句柄, 仅供迁移等工具使用, 不受借出数量限制
	DB() *sql.DB
}

// DefaultConfig 返回默认配置
func DefaultConfig() *PoolConfig {
	return &PoolConfig{
		Protocol:          ProtocolMySQL,
		Host:              "localhost",
		Port:              3306,
		Username:          "root",
		Password:          "",
		Database:          "minecraft",
		MaxOpen:           3,
		MaxIdle:           1,
		Timeout:           DefaultTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxLifetime:       DefaultMaxLifetime,
		HealthCheckPeriod: DefaultHealthCheckPeriod,
		ConnectRetries:    DefaultConnectRetries,
		DriverProperties:  map[string]string{},
	}
}

// ParseProtocol 解析协议名称, 不区分大小写
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Protocols {
		if p == valid {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: invalid protocol %q, use one of %s", ErrInvalidConfig, s, protocolList())
}

func protocolList() string {
	names := make([]string, len(Protocols))
	for i, p := range Protocols {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

// Validate 校验配置
func (c *PoolConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is required", ErrInvalidConfig)
	}
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, c.describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func (c *PoolConfig) describe(fe validator.FieldError) string {
	field := fe.StructField()
	if strings.HasPrefix(field, "DriverProperties") {
		return "driver property names must not be empty"
	}
	switch field {
	case "Protocol":
		return fmt.Sprintf("invalid protocol %q, use one of %s", c.Protocol, protocolList())
	case "Port":
		return fmt.Sprintf("the port %d is not valid, use a port between 1 and 65535", c.Port)
	case "MaxIdle":
		return fmt.Sprintf("the core pool size is %d, it must be at least 1", c.MaxIdle)
	case "MaxOpen":
		if fe.Tag() == "gtefield" {
			return fmt.Sprintf("the maximum pool size %d is less than the core pool size %d", c.MaxOpen, c.MaxIdle)
		}
		return fmt.Sprintf("the maximum pool size is %d, it must be at least 1", c.MaxOpen)
	case "Host":
		return "host is required"
	case "Database":
		return "database is required"
	default:
		return fmt.Sprintf("%s must not be negative", strings.ToLower(fe.Field()))
	}
}

// clone 深拷贝配置
func (c *PoolConfig) clone() *PoolConfig {
	cp := *c
	cp.DriverProperties = maps.Clone(c.DriverProperties)
	if cp.DriverProperties == nil {
		cp.DriverProperties = map[string]string{}
	}
	return &cp
}

// replenishPeriod 补充核心连接的周期, 不超过空闲超时的一半
func (c *PoolConfig) replenishPeriod() time.Duration {
	d := c.HealthCheckPeriod
	if half := c.IdleTimeout / 2; half > 0 && (d == 0 || half < d) {
		d = half
	}
	return d
}
