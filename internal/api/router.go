package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/qs3c/vpn_access_server/config"
	"github.com/qs3c/vpn_access_server/internal/api/handler"
	"github.com/qs3c/vpn_access_server/internal/api/middleware"
	"github.com/qs3c/vpn_access_server/internal/pkg/jwt"
)

type Router struct {
	subscriptionHandler *handler.SubscriptionHandler
	sweepHandler        *handler.SweepHandler
	healthHandler       *handler.HealthHandler
	eventsHandler       *handler.EventsHandler
	gatherer            prometheus.Gatherer // nil 时不暴露 /metrics
	cfg                 *config.Config
	log                 zerolog.Logger
}

func NewRouter(
	subscriptionHandler *handler.SubscriptionHandler,
	sweepHandler *handler.SweepHandler,
	healthHandler *handler.HealthHandler,
	eventsHandler *handler.EventsHandler,
	gatherer prometheus.Gatherer,
	cfg *config.Config,
	log zerolog.Logger,
) *Router {
	return &Router{
		subscriptionHandler: subscriptionHandler,
		sweepHandler:        sweepHandler,
		healthHandler:       healthHandler,
		eventsHandler:       eventsHandler,
		gatherer:            gatherer,
		cfg:                 cfg,
		log:                 log,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(r.log))
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", r.healthHandler.Check)
	if r.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	}

	api := engine.Group("/api/v1")
	{
		// 公开接口 - 套餐
		api.GET("/plans", r.subscriptionHandler.ListPlans)

		// WebSocket 事件流，token 走 query 自行校验
		if r.eventsHandler != nil {
			api.GET("/events/ws", r.eventsHandler.Stream)
		}

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 支付回调
			authenticated.POST("/payments", middleware.RequireRole(jwt.RolePayments, jwt.RoleOperator), r.subscriptionHandler.ConfirmPayment)

			// 运维
			ops := authenticated.Group("")
			ops.Use(middleware.RequireRole(jwt.RoleOperator))
			{
				ops.GET("/subscribers", r.subscriptionHandler.List)
				ops.GET("/subscribers/:key", r.subscriptionHandler.GetStatus)
				ops.POST("/sweep", r.sweepHandler.Run)
			}
		}
	}

	return engine
}
