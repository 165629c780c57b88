package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qs3c/vpn_access_server/internal/model"
	"github.com/qs3c/vpn_access_server/internal/testutil"
)

func TestComputeExpired(t *testing.T) {
	now := testutil.BaseTime
	a := testutil.NewSubscriber(testutil.WithExpiresAt(now.Add(-time.Hour)))
	b := testutil.NewSubscriber(testutil.WithExpiresAt(now))
	c := testutil.NewSubscriber(testutil.WithExpiresAt(now.Add(time.Hour)))
	d := testutil.NewSubscriber(testutil.WithExpiresAt(now.Add(-time.Nanosecond)))

	input := []*model.Subscriber{a, b, nil, c, d}
	before := make([]model.Subscriber, 0, 4)
	for _, s := range []*model.Subscriber{a, b, c, d} {
		before = append(before, *s)
	}

	got := ComputeExpired(now, input)
	assert.Equal(t, []*model.Subscriber{a, d}, got)

	// 输入未被修改
	assert.Len(t, input, 5)
	for i, s := range []*model.Subscriber{a, b, c, d} {
		assert.Equal(t, before[i], *s)
	}

	// 与输入顺序无关
	reversed := []*model.Subscriber{d, c, nil, b, a}
	assert.ElementsMatch(t, got, ComputeExpired(now, reversed))

	// 重复调用结果一致
	assert.Equal(t, got, ComputeExpired(now, input))
}

func TestComputeExpired_RepeatedSweepsNotSuppressed(t *testing.T) {
	expiry := testutil.BaseTime
	sub := testutil.NewSubscriber(testutil.WithExpiresAt(expiry))
	records := []*model.Subscriber{sub}

	assert.Len(t, ComputeExpired(expiry.Add(time.Second), records), 1)
	assert.Len(t, ComputeExpired(expiry.Add(2*time.Second), records), 1)
	assert.Empty(t, ComputeExpired(expiry, records))
}

func TestExtendWindow(t *testing.T) {
	now := testutil.BaseTime

	future := testutil.NewSubscriber(testutil.WithWindow(now.Add(-24*time.Hour), now.Add(10*24*time.Hour)))
	ExtendWindow(future, 720*time.Hour, now)
	assert.Equal(t, now, future.ActivatedAt)
	assert.Equal(t, now.Add(10*24*time.Hour+720*time.Hour), future.ExpiresAt)

	past := testutil.NewSubscriber(testutil.WithWindow(now.Add(-40*24*time.Hour), now.Add(-5*24*time.Hour)))
	ExtendWindow(past, 720*time.Hour, now)
	assert.Equal(t, now.Add(720*time.Hour), past.ExpiresAt)
}
