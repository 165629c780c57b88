package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/qs3c/vpn_access_server/internal/model"
	"github.com/qs3c/vpn_access_server/internal/pkg/keylock"
	"github.com/qs3c/vpn_access_server/internal/pkg/metrics"
	"github.com/qs3c/vpn_access_server/internal/repository"
	"github.com/qs3c/vpn_access_server/internal/testutil"
)

type engineFixture struct {
	store    *repository.MemorySubscriberRepository
	access   *testutil.FakeAccess
	notifier *testutil.FakeNotifier
	locker   *keylock.Local
	subs     *SubscriptionService
	sweep    *SweepService
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		store:    repository.NewMemorySubscriberRepository(),
		access:   testutil.NewFakeAccess(),
		notifier: testutil.NewFakeNotifier(),
		locker:   keylock.NewLocal(),
	}
	f.subs = NewSubscriptionService(f.store, f.access, f.notifier, f.locker,
		NewBillingPeriod(720*time.Hour, 120), metrics.NoopRecorder{}, zerolog.Nop())
	f.sweep = NewSweepService(f.store, f.access, f.notifier, f.locker, 4, metrics.NoopRecorder{}, zerolog.Nop())
	return f
}

// seed 直接写入一条记录
func (f *engineFixture) seed(t *testing.T, opts ...func(*model.Subscriber)) *model.Subscriber {
	t.Helper()
	sub := testutil.NewSubscriber(opts...)
	if err := f.store.Create(context.Background(), sub); err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
	return sub
}

func (f *engineFixture) get(t *testing.T, key string) *model.Subscriber {
	t.Helper()
	sub, err := f.store.GetByExternalKey(context.Background(), key)
	if err != nil {
		t.Fatalf("get subscriber: %v", err)
	}
	return sub
}
