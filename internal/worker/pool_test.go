package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/vpn_access_server/internal/pkg/metrics"
	"github.com/qs3c/vpn_access_server/internal/pkg/queue"
)

func TestPool_ConsumesAndRetries(t *testing.T) {
	f := newProcessorFixture(t, 3)
	f.applier.errs = []error{tempErr()}
	f.processor.baseBackoff = 0
	f.processor.now = time.Now

	pool := NewPool(f.queue, f.processor, 2, zerolog.Nop())
	pool.popTimeout = 100 * time.Millisecond
	pool.promoteInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.NoError(t, f.queue.Push(context.Background(), &queue.PaymentMessage{ExternalKey: "12", MonthsPaid: 1}))

	// 第一次失败进入延迟队列，被提升后第二次成功
	assert.Eventually(t, func() bool {
		f.applier.mu.Lock()
		defer f.applier.mu.Unlock()
		return len(f.applier.calls) == 2
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.Empty(t, f.notifier.sent)
}

func TestPool_FinishesInFlightPaymentOnShutdown(t *testing.T) {
	f := newProcessorFixture(t, 3)
	f.applier.delay = 300 * time.Millisecond

	pool := NewPool(f.queue, f.processor, 1, zerolog.Nop())
	pool.popTimeout = 100 * time.Millisecond

	require.NoError(t, f.queue.Push(context.Background(), &queue.PaymentMessage{ExternalKey: "21", MonthsPaid: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	// 等消息被取走后再关闭
	require.Eventually(t, func() bool {
		n, err := f.queue.Length(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not stop")
	}

	f.applier.mu.Lock()
	calls := len(f.applier.calls)
	f.applier.mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Empty(t, f.notifier.sent)
	f.assertQueueMetric(t, metrics.ResultSuccess)
}
