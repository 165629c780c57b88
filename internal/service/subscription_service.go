package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/qs3c/vpn_access_server/internal/model"
	"github.com/qs3c/vpn_access_server/internal/pkg/metrics"
	"github.com/qs3c/vpn_access_server/internal/repository"
)

// PaymentResult 支付处理结果
type PaymentResult struct {
	Subscriber *model.Subscriber
	Created    bool
}

type SubscriptionService struct {
	store    SubscriberStore
	reader   repository.SubscriberReader
	access   AccessController
	notifier Notifier
	locker   KeyLocker
	period   BillingPeriod
	cache    CacheInvalidator
	metrics  metrics.Recorder
	log      zerolog.Logger
}

func NewSubscriptionService(
	store SubscriberStore,
	access AccessController,
	notifier Notifier,
	locker KeyLocker,
	period BillingPeriod,
	rec metrics.Recorder,
	log zerolog.Logger,
) *SubscriptionService {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &SubscriptionService{
		store:    store,
		reader:   store,
		access:   access,
		notifier: notifier,
		locker:   locker,
		period:   period,
		metrics:  rec,
		log:      log.With().Str("component", "subscription").Logger(),
	}
}

// UseStatusCache routes status reads through cache and invalidates it after writes.
func (s *SubscriptionService) UseStatusCache(cache *repository.CachedSubscriberReader) {
	s.reader = cache
	s.cache = cache
}

// ApplyPayment records a confirmed payment. A new key is provisioned before its
// record is created; a known key has its window extended from max(expiresAt, now).
// After the write, access is unblocked and the subscriber is notified; failures
// of those two steps are logged and do not fail the payment.
func (s *SubscriptionService) ApplyPayment(ctx context.Context, key string, monthsPaid int, now time.Time) (*PaymentResult, error) {
	if err := ValidateKey(key); err != nil {
		s.metrics.RecordPayment(metrics.ResultInvalid)
		return nil, err
	}
	d, err := s.period.DurationOf(monthsPaid)
	if err != nil {
		s.metrics.RecordPayment(metrics.ResultInvalid)
		return nil, err
	}
	now = now.UTC()

	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		s.metrics.RecordPayment(metrics.ResultFailure)
		return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	result, err := s.applyLocked(ctx, key, d, now)
	unlock()
	if err != nil {
		s.metrics.RecordPayment(metrics.ResultFailure)
		s.log.Error().Err(err).Str("external_key", key).Int("months", monthsPaid).Msg("payment not applied")
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(key)
	}
	s.metrics.RecordPayment(metrics.ResultSuccess)

	sub := result.Subscriber
	s.log.Info().
		Str("external_key", key).
		Int("months", monthsPaid).
		Bool("created", result.Created).
		Time("expires_at", sub.ExpiresAt).
		Msg("payment applied")

	// 无论是否被封禁都执行一次解封，修复漏掉的解封
	if err := s.access.Unblock(ctx, key); err != nil {
		s.metrics.RecordHeal(metrics.ResultFailure)
		s.log.Warn().Err(fmt.Errorf("%w: %w", ErrUnblockFailed, err)).Str("external_key", key).Msg("unblock after payment failed")
	} else {
		s.metrics.RecordHeal(metrics.ResultSuccess)
	}

	if err := s.notifier.NotifyActivated(ctx, key, sub.ExpiresAt, sub.ArtifactPath); err != nil {
		s.metrics.RecordNotification("activated", metrics.ResultFailure)
		s.log.Warn().Err(err).Str("external_key", key).Msg("activation notice not delivered")
	} else {
		s.metrics.RecordNotification("activated", metrics.ResultSuccess)
	}

	return result, nil
}

func (s *SubscriptionService) applyLocked(ctx context.Context, key string, d time.Duration, now time.Time) (*PaymentResult, error) {
	sub, err := s.store.GetByExternalKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrPersistenceFailed, key, err)
	}

	if sub == nil {
		artifact, err := s.access.Provision(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
		}

		sub = &model.Subscriber{
			ExternalKey:  key,
			ArtifactPath: artifact,
			ActivatedAt:  now,
			ExpiresAt:    now.Add(d),
		}
		err = s.store.Create(ctx, sub)
		if err == nil {
			return &PaymentResult{Subscriber: sub, Created: true}, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			s.log.Error().Err(err).Str("external_key", key).Str("artifact", artifact).Msg("provisioned artifact has no record")
			return nil, fmt.Errorf("%w: create %s: %w", ErrPersistenceFailed, key, err)
		}

		// 另一个进程已创建记录，按续费处理
		s.log.Warn().Str("external_key", key).Msg("record created concurrently, renewing instead")
		sub, err = s.store.GetByExternalKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: reread %s: %w", ErrPersistenceFailed, key, err)
		}
		if sub == nil {
			return nil, fmt.Errorf("%w: %s vanished after duplicate insert", ErrPersistenceFailed, key)
		}
	}

	ExtendWindow(sub, d, now)
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("%w: update %s: %w", ErrPersistenceFailed, key, err)
	}
	return &PaymentResult{Subscriber: sub}, nil
}

// GetStatus returns the subscriber for key, or ErrSubscriberNotFound.
func (s *SubscriptionService) GetStatus(ctx context.Context, key string) (*model.Subscriber, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	sub, err := s.reader.GetByExternalKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	if sub == nil {
		return nil, ErrSubscriberNotFound
	}
	return sub, nil
}

// ListSubscribers 分页列出订阅
func (s *SubscriptionService) ListSubscribers(ctx context.Context, page, pageSize int) ([]*model.Subscriber, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	subs, total, err := s.store.Page(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return subs, total, nil
}
