package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qs3c/vpn_access_server/config"
	"github.com/qs3c/vpn_access_server/internal/bootstrap"
	"github.com/qs3c/vpn_access_server/internal/database"
	"github.com/qs3c/vpn_access_server/internal/pkg/logger"
	"github.com/qs3c/vpn_access_server/internal/worker"
)

var (
	configPath  = flag.String("config", "config.yaml", "Path to config file")
	metricsAddr = flag.String("metrics-addr", ":9091", "Address for the /metrics endpoint, empty to disable")
)

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	// 初始化数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	log.Info().Msg("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("redis connected")

	reg, rec := bootstrap.NewMetrics(cfg.Metrics)
	engine := bootstrap.NewEngine(cfg, db, rdb, rec, log)

	processor := worker.NewProcessor(
		engine.Subscriptions,
		engine.Catalog,
		engine.Queue,
		engine.Publisher,
		cfg.Queue.MaxAttempts,
		rec,
		log,
	)
	pool := worker.NewPool(engine.Queue, processor, cfg.Queue.MaxWorkers, log)

	if reg != nil && *metricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
		defer metricsSrv.Close()
	}

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Int("max_workers", cfg.Queue.MaxWorkers).Str("queue", cfg.Queue.PaymentQueue).Msg("worker started")
	if err := pool.Run(ctx); err != nil {
		log.Error().Err(err).Msg("worker pool stopped")
	}
	log.Info().Msg("worker shutdown complete")
}
