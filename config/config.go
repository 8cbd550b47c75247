// config/config.go
package config

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"time"

	"github.com/ApocalypseJiaWei/go_dblib/pool"
	"github.com/go-playground/validator/v10"
)

const (
	LibFileName  = "config.yml"
	PoolFileName = "sql_pool.yml"

	LibEnvPrefix  = "DBLIB_"
	PoolEnvPrefix = "DBLIB_SQL_POOL_"

	DefaultWorkerPoolSize = 4
)

var validate = validator.New()

// LibConfig 库的顶层配置, 保存在 config.yml
type LibConfig struct {
	EnableSQLPool  bool `koanf:"enable_sql_pool" yaml:"enable_sql_pool" comment:"Whether the main SQL connection pool is created on start."`
	WorkerPoolSize int  `koanf:"worker_pool_size" yaml:"worker_pool_size" validate:"min=1" comment:"Number of workers that execute asynchronous SQL tasks."`
}

// DefaultLibConfig 新建 config.yml 时写入的默认值
func DefaultLibConfig() LibConfig {
	return LibConfig{
		EnableSQLPool:  true,
		WorkerPoolSize: DefaultWorkerPoolSize,
	}
}

// Validate 校验库配置
func (c LibConfig) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
		return nil
	case errors.As(err, &verrs):
		return fmt.Errorf("invalid library config: worker_pool_size must be at least 1, got %d", c.WorkerPoolSize)
	default:
		return fmt.Errorf("invalid library config: %w", err)
	}
}

// LoadLibConfig 读取 dataDir/config.yml, 缺失的配置项以默认值写回
func LoadLibConfig(dataDir string) (LibConfig, error) {
	cfg, err := LoadAndSave(filepath.Join(dataDir, LibFileName), DefaultLibConfig(), LibEnvPrefix)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// PoolFile sql_pool.yml 中 pool.PoolConfig 的文件格式
type PoolFile struct {
	Protocol          string            `koanf:"protocol" yaml:"protocol" comment:"Protocol: 'mysql', 'mariadb', 'postgresql' or 'sqlite'"`
	Username          string            `koanf:"username" yaml:"username"`
	Password          string            `koanf:"password" yaml:"password"`
	Database          string            `koanf:"database" yaml:"database"`
	Host              string            `koanf:"host" yaml:"host"`
	Port              int               `koanf:"port" yaml:"port"`
	CorePoolSize      int               `koanf:"core_pool_size" yaml:"core_pool_size" comment:"The core pool size defines how many connections to keep in the pool, even if they are idle."`
	MaximumPoolSize   int               `koanf:"maximum_pool_size" yaml:"maximum_pool_size" comment:"The maximum pool size defines the maximum number of connections the pool allows."`
	ConnectionTimeout time.Duration     `koanf:"connection_timeout" yaml:"connection_timeout" comment:"How long to wait for a free connection before failing."`
	IdleTimeout       time.Duration     `koanf:"idle_timeout" yaml:"idle_timeout" comment:"Connections above the core pool size are closed after being idle this long."`
	MaxLifetime       time.Duration     `koanf:"max_lifetime" yaml:"max_lifetime" comment:"Maximum lifetime of a connection, 0 disables the limit."`
	DriverProperties  map[string]string `koanf:"driver_properties" yaml:"driver_properties" comment:"Various driver configuration properties."`
}

// PoolFileFrom 把连接池配置转换为文件格式
func PoolFileFrom(cfg *pool.PoolConfig) PoolFile {
	return PoolFile{
		Protocol:          string(cfg.Protocol),
		Username:          cfg.Username,
		Password:          cfg.Password,
		Database:          cfg.Database,
		Host:              cfg.Host,
		Port:              cfg.Port,
		CorePoolSize:      cfg.MaxIdle,
		MaximumPoolSize:   cfg.MaxOpen,
		ConnectionTimeout: cfg.Timeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxLifetime:       cfg.MaxLifetime,
		DriverProperties:  maps.Clone(cfg.DriverProperties),
	}
}

// DefaultPoolFile 新建 sql_pool.yml 时写入的默认值
func DefaultPoolFile() PoolFile {
	return PoolFileFrom(pool.DefaultConfig())
}

// ToPoolConfig 构建并校验文件描述的连接池配置
func (f PoolFile) ToPoolConfig() (*pool.PoolConfig, error) {
	cfg, err := pool.NewConfigBuilder().
		Protocol(f.Protocol).
		Username(f.Username).
		Password(f.Password).
		Database(f.Database).
		Host(f.Host).
		Port(f.Port).
		PoolSize(f.CorePoolSize, f.MaximumPoolSize).
		Timeout(f.ConnectionTimeout).
		IdleTimeout(f.IdleTimeout).
		MaxLifetime(f.MaxLifetime).
		DriverProperties(f.DriverProperties).
		Build()
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", PoolFileName, err)
	}
	return cfg, nil
}

// LoadPoolConfig 读取 dataDir/sql_pool.yml, 缺失项取 defaults 中的值
func LoadPoolConfig(dataDir string, defaults *pool.PoolConfig) (*pool.PoolConfig, error) {
	if defaults == nil {
		defaults = pool.DefaultConfig()
	}
	file, err := LoadAndSave(filepath.Join(dataDir, PoolFileName), PoolFileFrom(defaults), PoolEnvPrefix)
	if err != nil {
		return nil, err
	}
	cfg, err := file.ToPoolConfig()
	if err != nil {
		return nil, err
	}
	// 文件之外的配置保留调用方的值
	cfg.HealthCheckPeriod = defaults.HealthCheckPeriod
	cfg.ConnectRetries = defaults.ConnectRetries
	return cfg, nil
}

// Redacted 返回隐藏密码后的副本
func (f PoolFile) Redacted() PoolFile {
	if f.Password != "" {
		f.Password = strings.Repeat("*", 8)
	}
	return f
}
