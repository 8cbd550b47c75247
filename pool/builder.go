package pool

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// ConfigBuilder 链式构建 PoolConfig, 设置过程中的错误在 Build 时统一返回
type ConfigBuilder struct {
	cfg  *PoolConfig
	errs []error
}

// NewConfigBuilder 以默认配置为基础创建构建器
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: DefaultConfig()}
}

// From 以已有配置为基础创建构建器
func From(cfg *PoolConfig) *ConfigBuilder {
	if cfg == nil {
		return NewConfigBuilder()
	}
	return &ConfigBuilder{cfg: cfg.clone()}
}

func (b *ConfigBuilder) fail(err error) *ConfigBuilder {
	b.errs = append(b.errs, err)
	return b
}

// Protocol 设置协议: mysql, mariadb, postgresql, sqlite
func (b *ConfigBuilder) Protocol(protocol string) *ConfigBuilder {
	p, err := ParseProtocol(protocol)
	if err != nil {
		return b.fail(err)
	}
	b.cfg.Protocol = p
	return b
}

func (b *ConfigBuilder) Username(username string) *ConfigBuilder {
	b.cfg.Username = username
	return b
}

func (b *ConfigBuilder) Password(password string) *ConfigBuilder {
	b.cfg.Password = password
	return b
}

func (b *ConfigBuilder) Database(database string) *ConfigBuilder {
	b.cfg.Database = database
	return b
}

func (b *ConfigBuilder) Host(host string) *ConfigBuilder {
	b.cfg.Host = host
	return b
}

// Port 设置端口, 合法范围 1-65535
func (b *ConfigBuilder) Port(port int) *ConfigBuilder {
	if port <= 0 || port > 65535 {
		return b.fail(fmt.Errorf("%w: the port %d is not valid, use a port between 1 and 65535", ErrInvalidConfig, port))
	}
	b.cfg.Port = port
	return b
}

// PoolSize 设置核心连接数与最大连接数
func (b *ConfigBuilder) PoolSize(coreSize, maxSize int) *ConfigBuilder {
	switch {
	case coreSize < 1:
		return b.fail(fmt.Errorf("%w: the core pool size is %d, it must be at least 1", ErrInvalidConfig, coreSize))
	case maxSize < 1:
		return b.fail(fmt.Errorf("%w: the maximum pool size is %d, it must be at least 1", ErrInvalidConfig, maxSize))
	case maxSize < coreSize:
		return b.fail(fmt.Errorf("%w: the maximum pool size %d is less than the core pool size %d", ErrInvalidConfig, maxSize, coreSize))
	}
	b.cfg.MaxIdle = coreSize
	b.cfg.MaxOpen = maxSize
	return b
}

// DriverProperties 替换全部驱动参数
func (b *ConfigBuilder) DriverProperties(props map[string]string) *ConfigBuilder {
	for k := range props {
		if k == "" {
			return b.fail(fmt.Errorf("%w: driver property names must not be empty", ErrInvalidConfig))
		}
	}
	b.cfg.DriverProperties = maps.Clone(props)
	if b.cfg.DriverProperties == nil {
		b.cfg.DriverProperties = map[string]string{}
	}
	return b
}

// DriverProperty 添加单个驱动参数
func (b *ConfigBuilder) DriverProperty(key, value string) *ConfigBuilder {
	if key == "" {
		return b.fail(fmt.Errorf("%w: driver property names must not be empty", ErrInvalidConfig))
	}
	b.cfg.DriverProperties[key] = value
	return b
}

func (b *ConfigBuilder) Timeout(d time.Duration) *ConfigBuilder {
	b.cfg.Timeout = d
	return b
}

func (b *ConfigBuilder) IdleTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.IdleTimeout = d
	return b
}

func (b *ConfigBuilder) MaxLifetime(d time.Duration) *ConfigBuilder {
	b.cfg.MaxLifetime = d
	return b
}

func (b *ConfigBuilder) HealthCheckPeriod(d time.Duration) *ConfigBuilder {
	b.cfg.HealthCheckPeriod = d
	return b
}

func (b *ConfigBuilder) ConnectRetries(n uint64) *ConfigBuilder {
	b.cfg.ConnectRetries = n
	return b
}

// Build 返回校验后的配置副本
func (b *ConfigBuilder) Build() (*PoolConfig, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	cfg := b.cfg.clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
