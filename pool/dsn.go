package pool

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	// 注册 database/sql 驱动
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DriverName 返回协议对应的 database/sql 驱动名
func (c *PoolConfig) DriverName() string {
	switch c.Protocol {
	case ProtocolPostgreSQL:
		return "pgx"
	case ProtocolSQLite:
		return "sqlite"
	default:
		return "mysql"
	}
}

// DSN 根据配置生成驱动连接串, 驱动参数原样附加
func (c *PoolConfig) DSN() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	switch c.Protocol {
	case ProtocolPostgreSQL:
		return c.postgresDSN(), nil
	case ProtocolSQLite:
		return c.sqliteDSN(), nil
	default:
		return c.mysqlDSN(), nil
	}
}

func (c *PoolConfig) address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *PoolConfig) mysqlDSN() string {
	mc := mysql.NewConfig()
	mc.User = c.Username
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = c.address()
	mc.DBName = c.Database
	if len(c.DriverProperties) > 0 {
		mc.Params = make(map[string]string, len(c.DriverProperties))
		for k, v := range c.DriverProperties {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

func (c *PoolConfig) postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   c.address(),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	} else if c.Username != "" {
		u.User = url.User(c.Username)
	}
	u.RawQuery = encodeProperties(c.DriverProperties)
	return u.String()
}

// sqliteDSN ":memory:" 映射为共享缓存的内存库, 以 "file:" 开头的名称原样使用
func (c *PoolConfig) sqliteDSN() string {
	name := c.Database
	switch {
	case name == ":memory:":
		name = "file::memory:?cache=shared"
	case !strings.HasPrefix(name, "file:"):
		name = "file:" + name
	}
	if q := encodeProperties(c.DriverProperties); q != "" {
		sep := "?"
		if strings.Contains(name, "?") {
			sep = "&"
		}
		name += sep + q
	}
	return name
}

func encodeProperties(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	q := url.Values{}
	for k, v := range props {
		q.Set(k, v)
	}
	return q.Encode()
}
