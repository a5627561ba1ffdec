package main

// @title BIG API Key & Usage Backend
// @version 1.0.0
// @description API Key 生命周期与积分用量统计服务
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description 使用格式：Bearer {session token 或 API Key}

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bigapi/backend/internal/app"
	"bigapi/backend/internal/auth"
	"bigapi/backend/internal/config"
	"bigapi/backend/internal/health"
	"bigapi/backend/internal/logger"
	"bigapi/backend/internal/monitoring"
	httptransport "bigapi/backend/internal/transport/http"
)

// main 启动 HTTP API 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting bigapi server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	// 初始化存储层
	st, err := app.OpenStorage(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(st.Store, log)
	if st.Redis != nil {
		healthChecker.AddDependency("redis", health.PingFunc(st.Redis.Ping))
	}

	// 初始化服务层
	services, err := app.NewServices(cfg, st, log, metrics)
	if err != nil {
		return err
	}

	// 最后使用时间异步更新
	toucher := auth.NewToucher(services.Keys, cfg.Touch, log, metrics)
	toucher.Start(context.Background())

	resolver := auth.NewResolver(services.Sessions, services.Keys, services.Codec, toucher, log)
	resolver.SetMetrics(metrics)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Keys:          services.Keys,
		Accounts:      services.Accounts,
		Usage:         services.Usage,
		Dashboard:     services.Dashboard,
		Resolver:      resolver,
		Limiter:       app.NewLimiter(cfg.RateLimit, st),
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Logger:        log,
	})

	httpAddr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 请求全部结束后再排空待写入的使用时间
		toucher.Stop()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
