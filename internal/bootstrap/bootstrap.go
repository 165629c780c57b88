// Package bootstrap wires the engine from config for the server, worker and sweep binaries.
package bootstrap

import (
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/qs3c/vpn_access_server/config"
	"github.com/qs3c/vpn_access_server/internal/pkg/access"
	"github.com/qs3c/vpn_access_server/internal/pkg/keylock"
	"github.com/qs3c/vpn_access_server/internal/pkg/metrics"
	"github.com/qs3c/vpn_access_server/internal/pkg/pubsub"
	"github.com/qs3c/vpn_access_server/internal/pkg/queue"
	"github.com/qs3c/vpn_access_server/internal/repository"
	"github.com/qs3c/vpn_access_server/internal/service"
)

// Engine holds the wired services shared by every binary.
type Engine struct {
	Store         *repository.SubscriberRepository
	Access        *access.ScriptController
	Publisher     *pubsub.Publisher
	Queue         *queue.Queue
	Catalog       *service.PlanCatalog
	Cache         *repository.CachedSubscriberReader // nil 表示未启用
	Subscriptions *service.SubscriptionService
	Sweep         *service.SweepService
}

// NewMetrics returns a registry and recorder; both are nil-safe when metrics are disabled.
func NewMetrics(cfg config.MetricsConfig) (*prometheus.Registry, metrics.Recorder) {
	if !cfg.Enabled {
		return nil, metrics.NoopRecorder{}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewPrometheus(reg, cfg.Namespace)
}

// RegisterCacheMetrics exposes the status cache counters on reg.
func RegisterCacheMetrics(reg prometheus.Registerer, namespace string, cache *repository.CachedSubscriberReader) {
	counter := func(name, help string, value func(repository.CacheStats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "status_cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(cache.Stats())) })
	}

	reg.MustRegister(
		counter("hits_total", "Status reads served from cache.", func(s repository.CacheStats) int64 { return s.Hits }),
		counter("misses_total", "Status reads that went to the store.", func(s repository.CacheStats) int64 { return s.Misses }),
		counter("evictions_total", "Entries evicted by the LRU.", func(s repository.CacheStats) int64 { return s.Evictions }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "status_cache",
			Name:      "entries",
			Help:      "Entries currently cached.",
		}, func() float64 { return float64(cache.Stats().Size) }),
	)
}

// InvalidateOnActivation drops the cached status of every key another process
// activated or renewed. Use it as a Relay observer.
func InvalidateOnActivation(cache *repository.CachedSubscriberReader) func(*pubsub.SubscriberEvent) {
	return func(event *pubsub.SubscriberEvent) {
		if cache != nil && event.Type == pubsub.EventActivated {
			cache.Invalidate(event.ExternalKey)
		}
	}
}

// NewLocker 选择锁后端，redis 后端让 server 与 worker 互斥
func NewLocker(cfg config.LockConfig, rdb *redis.Client) service.KeyLocker {
	if cfg.Backend == "redis" && rdb != nil {
		return keylock.NewRedis(rdb, "vpn_access:lock:", cfg.TTL, cfg.Wait)
	}
	return keylock.NewLocal()
}

func NewEngine(cfg *config.Config, db *gorm.DB, rdb *redis.Client, rec metrics.Recorder, log zerolog.Logger) *Engine {
	store := repository.NewSubscriberRepository(db)
	controller := access.NewScriptController(
		cfg.Access,
		access.ExecRunner{WaitDelay: 2 * time.Second},
		access.NewFileLeaseTable(cfg.Access.LeaseFile),
		rec,
		log,
	)
	publisher := pubsub.NewPublisher(rdb, cfg.Notify.Channel)
	locker := NewLocker(cfg.Lock, rdb)
	period := service.NewBillingPeriod(cfg.Subscription.BillingUnit, cfg.Subscription.MaxPlanMonths)

	subs := service.NewSubscriptionService(store, controller, publisher, locker, period, rec, log)
	var cache *repository.CachedSubscriberReader
	if cfg.Cache.Enabled {
		cache = repository.NewCachedSubscriberReader(store, cfg.Cache.TTL, cfg.Cache.MaxSize)
		subs.UseStatusCache(cache)
	}

	return &Engine{
		Store:         store,
		Access:        controller,
		Publisher:     publisher,
		Queue:         queue.NewQueue(rdb, cfg.Queue.PaymentQueue),
		Catalog:       service.NewPlanCatalog(cfg.PlanPrices()),
		Cache:         cache,
		Subscriptions: subs,
		Sweep:         service.NewSweepService(store, controller, publisher, locker, cfg.Sweep.Concurrency, rec, log),
	}
}
