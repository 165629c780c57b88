package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/vpn_access_server/internal/model"
	"github.com/qs3c/vpn_access_server/internal/testutil"
)

func TestSweep_BlocksAndNotifiesExpired(t *testing.T) {
	f := newEngineFixture(t)
	now := testutil.BaseTime
	expired := f.seed(t, testutil.WithExternalKey("1"), testutil.WithExpiresAt(now.Add(-time.Hour)))
	f.seed(t, testutil.WithExternalKey("2"), testutil.WithExpiresAt(now.Add(time.Hour)))
	f.seed(t, testutil.WithExternalKey("3"), testutil.WithExpiresAt(now))

	report, err := f.sweep.Sweep(context.Background(), now)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Blocked)
	assert.Equal(t, 1, report.Notified)
	assert.Empty(t, report.Failures)

	assert.Equal(t, []string{expired.ArtifactPath}, f.access.Blocks())
	notices := f.notifier.OfType("expired")
	require.Len(t, notices, 1)
	assert.Equal(t, "1", notices[0].ExternalKey)
}

func TestSweep_DoesNotMutateRecords(t *testing.T) {
	f := newEngineFixture(t)
	now := testutil.BaseTime
	seeded := f.seed(t, testutil.WithExternalKey("1"), testutil.WithExpiresAt(now.Add(-time.Hour)))

	_, err := f.sweep.Sweep(context.Background(), now)
	require.NoError(t, err)

	stored := f.get(t, "1")
	assert.Equal(t, seeded.ActivatedAt, stored.ActivatedAt)
	assert.Equal(t, seeded.ExpiresAt, stored.ExpiresAt)
}

func TestSweep_RepeatedRunsBlockAgain(t *testing.T) {
	f := newEngineFixture(t)
	expiry := testutil.BaseTime
	sub := f.seed(t, testutil.WithExternalKey("1"), testutil.WithExpiresAt(expiry))

	first, err := f.sweep.Sweep(context.Background(), expiry.Add(time.Second))
	require.NoError(t, err)
	second, err := f.sweep.Sweep(context.Background(), expiry.Add(2*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Blocked)
	assert.Equal(t, 1, second.Blocked)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, []string{sub.ArtifactPath, sub.ArtifactPath}, f.access.Blocks())
}

func TestSweep_IsolatesFailures(t *testing.T) {
	f := newEngineFixture(t)
	now := testutil.BaseTime
	var subs []*model.Subscriber
	for _, key := range []string{"1", "2", "3", "4"} {
		subs = append(subs, f.seed(t, testutil.WithExternalKey(key), testutil.WithExpiresAt(now.Add(-time.Minute))))
	}
	f.access.SetBlockErr(subs[1].ArtifactPath, errors.New("script exited 1"))

	report, err := f.sweep.Sweep(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Expired)
	assert.Equal(t, 3, report.Blocked)
	assert.Equal(t, 3, report.Notified)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "2", report.Failures[0].ExternalKey)
	assert.Equal(t, StepBlock, report.Failures[0].Step)
	assert.ErrorIs(t, report.Failures[0].Err, ErrBlockFailed)
	assert.Len(t, f.access.Blocks(), 4)
}

func TestSweep_NotifyFailureReported(t *testing.T) {
	f := newEngineFixture(t)
	now := testutil.BaseTime
	f.seed(t, testutil.WithExternalKey("1"), testutil.WithExpiresAt(now.Add(-time.Minute)))
	f.notifier.Err = errors.New("publish failed")

	report, err := f.sweep.Sweep(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Blocked)
	assert.Equal(t, 0, report.Notified)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, StepNotify, report.Failures[0].Step)
}

func TestSweep_SkipsRenewedSinceSnapshot(t *testing.T) {
	f := newEngineFixture(t)
	now := testutil.BaseTime
	f.seed(t, testutil.WithExternalKey("1"), testutil.WithExpiresAt(now.Add(-time.Minute)))

	// 在快照和封禁之间续费
	snapshot, err := f.store.List(context.Background())
	require.NoError(t, err)
	_, err = f.subs.ApplyPayment(context.Background(), "1", 1, now)
	require.NoError(t, err)

	out := f.sweep.expireOne(context.Background(), snapshot[0].ExternalKey, now)
	assert.True(t, out.skipped)
	assert.Empty(t, f.access.Blocks())
}

func TestSweep_StoreFailureAborts(t *testing.T) {
	f := newEngineFixture(t)
	failing := &failingListStore{SubscriberStore: f.store}
	sweep := NewSweepService(failing, f.access, f.notifier, f.locker, 1, nil, f.sweep.log)

	_, err := sweep.Sweep(context.Background(), testutil.BaseTime)
	assert.ErrorIs(t, err, ErrPersistenceFailed)
}

func TestPreview(t *testing.T) {
	f := newEngineFixture(t)
	now := testutil.BaseTime
	f.seed(t, testutil.WithExternalKey("1"), testutil.WithExpiresAt(now.Add(-time.Minute)))
	f.seed(t, testutil.WithExternalKey("2"), testutil.WithExpiresAt(now.Add(time.Minute)))

	expired, err := f.sweep.Preview(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "1", expired[0].ExternalKey)
	assert.Empty(t, f.access.Blocks())
	assert.Empty(t, f.notifier.Sent())
}

func TestPaymentThenSweepLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	t0 := testutil.BaseTime

	_, err := f.subs.ApplyPayment(context.Background(), "77", 1, t0)
	require.NoError(t, err)

	report, err := f.sweep.Sweep(context.Background(), t0.Add(720*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Expired)

	report, err = f.sweep.Sweep(context.Background(), t0.Add(720*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Blocked)

	// 过期后续费从当前时间起算并解封
	renewAt := t0.Add(800 * time.Hour)
	_, err = f.subs.ApplyPayment(context.Background(), "77", 1, renewAt)
	require.NoError(t, err)
	assert.Equal(t, renewAt.Add(720*time.Hour), f.get(t, "77").ExpiresAt)
	assert.Equal(t, []string{"77", "77"}, f.access.Unblocks())
}

type failingListStore struct {
	SubscriberStore
}

func (s *failingListStore) List(context.Context) ([]*model.Subscriber, error) {
	return nil, errors.New("db gone")
}
