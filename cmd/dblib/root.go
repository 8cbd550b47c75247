package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ApocalypseJiaWei/go_dblib/logger"
	"github.com/ApocalypseJiaWei/go_dblib/service"
	"github.com/spf13/cobra"
)

const stopTimeout = 30 * time.Second

// RootCmd 返回 dblib 命令树
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dblib",
		Short:        "Operate the pooled database library from the command line",
		Long:         "dblib loads config.yml and sql_pool.yml from the data directory and runs maintenance commands against the main pool.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			asJSON, _ := cmd.Flags().GetBool("log-json")
			cfg := logger.DefaultConfig()
			cfg.Level = logger.ParseLevel(level)
			cfg.JSON = asJSON
			cfg.Output = cmd.ErrOrStderr()
			log := logger.NewLogger(cfg)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logger.ContextWithLogger(ctx, log))
			return nil
		},
	}

	root.PersistentFlags().String("data-dir", ".", "Directory holding config.yml and sql_pool.yml")
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error, disabled")
	root.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	root.AddCommand(
		PingCmd(),
		StatsCmd(),
		ConfigCmd(),
		RunScriptCmd(),
		MigrateCmd(),
		ServeCmd(),
	)
	return root
}

// withService 在 fn 执行期间启动库服务
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	ctx := cmd.Context()
	dataDir, _ := cmd.Flags().GetString("data-dir")

	svc, err := service.New(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := svc.Stop(sctx); err != nil {
			logger.FromContext(ctx).Error("Failed to stop service", "error", err)
		}
	}()
	return fn(ctx, svc)
}
