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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qs3c/vpn_access_server/config"
	"github.com/qs3c/vpn_access_server/internal/api"
	"github.com/qs3c/vpn_access_server/internal/api/handler"
	"github.com/qs3c/vpn_access_server/internal/bootstrap"
	"github.com/qs3c/vpn_access_server/internal/database"
	"github.com/qs3c/vpn_access_server/internal/pkg/cron"
	"github.com/qs3c/vpn_access_server/internal/pkg/logger"
	"github.com/qs3c/vpn_access_server/internal/pkg/pubsub"
	"github.com/qs3c/vpn_access_server/internal/pkg/ws"
)

var configPath = flag.String("config", "config.yaml", "Path to config file")

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
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("redis connected")

	reg, rec := bootstrap.NewMetrics(cfg.Metrics)
	engine := bootstrap.NewEngine(cfg, db, rdb, rec, log)
	if reg != nil && engine.Cache != nil {
		bootstrap.RegisterCacheMetrics(reg, cfg.Metrics.Namespace, engine.Cache)
	}

	// 定时扫描
	scheduler, err := cron.NewService(engine.Sweep, cfg.Sweep.Cron, cfg.Sweep.Timezone, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid sweep schedule")
	}
	if cfg.Sweep.Enabled {
		scheduler.Start()
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get sql.DB")
	}
	health := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": handler.PingFunc(sqlDB.PingContext),
		"redis":    handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	})

	// 事件转发到运维控制台，worker 发布的事件也经 redis 到达这里，
	// 同时让 worker 的写入使本进程的状态缓存失效
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	hub := ws.NewHub(log)
	go func() {
		src := pubsub.NewSubscriber(rdb, cfg.Notify.Channel)
		if err := hub.Relay(relayCtx, src, bootstrap.InvalidateOnActivation(engine.Cache)); err != nil {
			log.Error().Err(err).Msg("event relay stopped")
		}
	}()

	var gatherer prometheus.Gatherer
	if reg != nil {
		gatherer = reg
	}
	router := api.NewRouter(
		handler.NewSubscriptionHandler(engine.Subscriptions, engine.Catalog, log),
		handler.NewSweepHandler(engine.Sweep, scheduler),
		health,
		handler.NewEventsHandler(hub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins, log),
		gatherer,
		cfg,
		log,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("received shutdown signal")

	scheduler.Stop()
	stopRelay()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	_ = rdb.Close()
	_ = sqlDB.Close()
	log.Info().Msg("server shutdown complete")
}
