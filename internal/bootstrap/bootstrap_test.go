package bootstrap

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/vpn_access_server/config"
	"github.com/qs3c/vpn_access_server/internal/pkg/keylock"
	"github.com/qs3c/vpn_access_server/internal/pkg/metrics"
	"github.com/qs3c/vpn_access_server/internal/pkg/pubsub"
	"github.com/qs3c/vpn_access_server/internal/pkg/ws"
	"github.com/qs3c/vpn_access_server/internal/repository"
	"github.com/qs3c/vpn_access_server/internal/service"
	"github.com/qs3c/vpn_access_server/internal/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg, rec := NewMetrics(config.MetricsConfig{Enabled: false})
	assert.Nil(t, reg)
	assert.IsType(t, metrics.NoopRecorder{}, rec)

	reg, rec = NewMetrics(config.MetricsConfig{Enabled: true, Namespace: "vpn"})
	require.NotNil(t, reg)
	assert.IsType(t, &metrics.Prometheus{}, rec)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	assert.IsType(t, &keylock.Local{}, NewLocker(config.LockConfig{Backend: "local"}, rdb))
	assert.IsType(t, &keylock.Redis{}, NewLocker(config.LockConfig{Backend: "redis", TTL: time.Minute, Wait: time.Second}, rdb))
	// 没有 redis 时退回本地锁
	assert.IsType(t, &keylock.Local{}, NewLocker(config.LockConfig{Backend: "redis"}, nil))
}

func TestNewEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	cfg := &config.Config{
		Queue:  config.QueueConfig{PaymentQueue: "payments"},
		Notify: config.NotifyConfig{Channel: "events"},
		Subscription: config.SubscriptionConfig{
			BillingUnit:   time.Hour,
			MaxPlanMonths: 12,
			Plans:         []config.PlanConfig{{Months: 1, Price: 7000}},
		},
		Access: config.AccessConfig{ClientPrefix: "client", ArtifactDir: t.TempDir(), ArtifactExt: ".ovpn"},
		Sweep:  config.SweepConfig{Concurrency: 2},
		Lock:   config.LockConfig{Backend: "local"},
		Cache:  config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10},
	}

	e := NewEngine(cfg, db, rdb, metrics.NoopRecorder{}, zerolog.Nop())
	require.NotNil(t, e.Subscriptions)
	require.NotNil(t, e.Sweep)
	assert.Equal(t, "client42", e.Access.ClientName("42"))
	assert.NoError(t, e.Catalog.Check(1))
	assert.Error(t, e.Catalog.Check(2))

	require.NotNil(t, e.Cache)
	_, err := e.Subscriptions.GetStatus(context.Background(), "42")
	assert.Error(t, err)

	reg := prometheus.NewRegistry()
	RegisterCacheMetrics(reg, "vpn", e.Cache)
	expected := `
# HELP vpn_status_cache_misses_total Status reads that went to the store.
# TYPE vpn_status_cache_misses_total counter
vpn_status_cache_misses_total 1
`
	assert.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "vpn_status_cache_misses_total"))

	// 空库扫描不触发任何脚本
	report, err := e.Sweep.Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
}

func TestInvalidateOnActivation(t *testing.T) {
	store := repository.NewMemorySubscriberRepository()
	require.NoError(t, store.Create(context.Background(), testutil.NewSubscriber(testutil.WithExternalKey("5"))))
	cache := repository.NewCachedSubscriberReader(store, time.Minute, 10)
	_, err := cache.GetByExternalKey(context.Background(), "5")
	require.NoError(t, err)

	observe := InvalidateOnActivation(cache)
	observe(&pubsub.SubscriberEvent{Type: pubsub.EventExpired, ExternalKey: "5"})
	assert.Equal(t, 1, cache.Stats().Size)
	observe(&pubsub.SubscriberEvent{Type: pubsub.EventActivated, ExternalKey: "5"})
	assert.Zero(t, cache.Stats().Size)

	// 未启用缓存
	assert.NotPanics(t, func() {
		InvalidateOnActivation(nil)(&pubsub.SubscriberEvent{Type: pubsub.EventActivated, ExternalKey: "5"})
	})
}

func TestStatusCache_InvalidatedByOtherProcessWrites(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := repository.NewMemorySubscriberRepository()
	period := service.NewBillingPeriod(720*time.Hour, 120)
	newSide := func() (*service.SubscriptionService, *repository.CachedSubscriberReader) {
		subs := service.NewSubscriptionService(store, testutil.NewFakeAccess(), pubsub.NewPublisher(rdb, "events"),
			keylock.NewLocal(), period, nil, zerolog.Nop())
		cache := repository.NewCachedSubscriberReader(store, time.Hour, 10)
		subs.UseStatusCache(cache)
		return subs, cache
	}
	server, serverCache := newSide()
	worker, _ := newSide()

	ctx := context.Background()
	first, err := worker.ApplyPayment(ctx, "9", 1, testutil.BaseTime)
	require.NoError(t, err)

	status, err := server.GetStatus(ctx, "9")
	require.NoError(t, err)
	require.True(t, status.ExpiresAt.Equal(first.Subscriber.ExpiresAt))

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	hub := ws.NewHub(zerolog.Nop())
	go func() { _ = hub.Relay(relayCtx, pubsub.NewSubscriber(rdb, "events"), InvalidateOnActivation(serverCache)) }()
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("events")) == 1
	}, time.Second, 10*time.Millisecond)

	renewed, err := worker.ApplyPayment(ctx, "9", 1, testutil.BaseTime)
	require.NoError(t, err)
	require.True(t, renewed.Subscriber.ExpiresAt.After(first.Subscriber.ExpiresAt))

	assert.Eventually(t, func() bool {
		status, err := server.GetStatus(ctx, "9")
		return err == nil && status.ExpiresAt.Equal(renewed.Subscriber.ExpiresAt)
	}, 2*time.Second, 20*time.Millisecond)
}
