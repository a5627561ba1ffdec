package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bigapi/backend/internal/app"
	"bigapi/backend/internal/config"
	"bigapi/backend/internal/logger"
)

// env 命令运行时依赖，按需初始化
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	storage  *app.Storage
	services *app.Services
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bigctl",
		Short:         "BIG API 运维命令：建表、演示数据、开发令牌与密钥管理",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newMigrateCmd(),
		newSeedDemoCmd(),
		newIssueSessionCmd(),
		newCreateKeyCmd(),
		newRevokeKeyCmd(),
	)
	return rootCmd
}

// openEnv 加载配置并连接存储，调用方负责 close
func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	st, err := app.OpenStorage(cfg, log)
	if err != nil {
		return nil, err
	}

	services, err := app.NewServices(cfg, st, log, nil)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &env{cfg: cfg, log: log, storage: st, services: services}, nil
}

func (e *env) close() {
	if err := e.storage.Close(); err != nil {
		e.log.Warn("storage close warning", zap.Error(err))
	}
	_ = e.log.Sync()
}
