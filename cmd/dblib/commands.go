package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ApocalypseJiaWei/go_dblib/config"
	"github.com/ApocalypseJiaWei/go_dblib/logger"
	"github.com/ApocalypseJiaWei/go_dblib/metrics"
	"github.com/ApocalypseJiaWei/go_dblib/migrate"
	"github.com/ApocalypseJiaWei/go_dblib/model"
	"github.com/ApocalypseJiaWei/go_dblib/pool"
	"github.com/ApocalypseJiaWei/go_dblib/script"
	"github.com/ApocalypseJiaWei/go_dblib/service"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// PingCmd 检查主连接池能否连上数据库
func PingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity of the main pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				p, err := svc.MainPool()
				if err != nil {
					return err
				}
				if err := p.Ping(ctx); err != nil {
					return err
				}
				cfg := p.Config()
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %s %s\n", cfg.Protocol, cfg.Database)
				return nil
			})
		},
	}
}

type statsOutput struct {
	Pool    model.PoolStats   `yaml:"pool"`
	Workers model.WorkerStats `yaml:"workers"`
}

// StatsCmd 以 YAML 输出连接池和协程池统计
func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print pool and worker statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(_ context.Context, svc *service.Service) error {
				p, err := svc.MainPool()
				if err != nil {
					return err
				}
				sub, err := svc.Submitter()
				if err != nil {
					return err
				}
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(statsOutput{Pool: p.Stats(), Workers: sub.Stats()})
			})
		},
	}
}

// ConfigCmd 输出生效的连接池配置, 隐藏密码
func ConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective pool configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			cfg, err := config.LoadPoolConfig(dataDir, nil)
			if err != nil {
				return err
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(config.PoolFileFrom(cfg).Redacted())
		},
	}
}

// RunScriptCmd 在主连接池的一个连接上执行 SQL 脚本
func RunScriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-script <file>",
		Short: "Execute an SQL script",
		Long:  "Execute the queries of an SQL script in order, stopping at the first failure. Use --set to replace placeholders before execution.",
		Args:  cobra.ExactArgs(1),
		RunE:  runScript,
	}
	cmd.Flags().StringArray("set", nil, "Replacement in the form key=value, may be repeated")
	cmd.Flags().Bool("log-queries", false, "Log each query before it is executed")
	cmd.Flags().String("delimiter", string(script.DefaultDelimiter), "Query delimiter")
	return cmd
}

func runScript(cmd *cobra.Command, args []string) error {
	sets, _ := cmd.Flags().GetStringArray("set")
	logQueries, _ := cmd.Flags().GetBool("log-queries")
	delimiter, _ := cmd.Flags().GetString("delimiter")

	replacements, err := parseReplacements(sets)
	if err != nil {
		return err
	}
	if utf8.RuneCountInString(delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", delimiter)
	}
	d, _ := utf8.DecodeRuneInString(delimiter)
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	return withService(cmd, func(ctx context.Context, svc *service.Service) error {
		p, err := svc.MainPool()
		if err != nil {
			return err
		}
		start := time.Now()
		err = pool.WithConnection(ctx, p, func(conn *pool.Connection) error {
			return script.RunFS(ctx, os.DirFS(filepath.Dir(path)), filepath.Base(path), conn,
				script.WithReplacements(replacements),
				script.WithLogQueries(logQueries),
				script.WithDelimiter(d),
			)
		})
		if err != nil {
			return err
		}
		logger.FromContext(ctx).Info("Script executed", "file", path, "duration", time.Since(start))
		return nil
	})
}

func parseReplacements(sets []string) (map[string]any, error) {
	out := make(map[string]any, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", s)
		}
		out[k] = v
	}
	return out, nil
}

// MigrateCmd 执行目录中的 goose 迁移
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <dir>",
		Short: "Apply pending schema migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				p, err := svc.MainPool()
				if err != nil {
					return err
				}
				if err := migrate.Up(ctx, p, os.DirFS(args[0]), "."); err != nil {
					return err
				}
				v, err := migrate.Version(ctx, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", v)
				return nil
			})
		},
	}
}

// ServeCmd 保持主连接池打开并暴露 Prometheus 指标, 直到被中断
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pool metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listen, _ := cmd.Flags().GetString("listen")
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				return serveMetrics(ctx, svc, listen)
			})
		},
	}
	cmd.Flags().String("listen", ":9102", "Address for the /metrics endpoint")
	return cmd
}

func serveMetrics(ctx context.Context, svc *service.Service, listen string) error {
	p, err := svc.MainPool()
	if err != nil {
		return err
	}
	sub, err := svc.Submitter()
	if err != nil {
		return err
	}
	c := metrics.NewCollector(metrics.DefaultNamespace)
	c.AddPool(p)
	c.AddWorkers(p.Name(), sub)
	h, err := metrics.Handler(c)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.FromContext(ctx).Info("Serving metrics", "addr", listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
