package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/qs3c/vpn_access_server/internal/pkg/metrics"
	"github.com/qs3c/vpn_access_server/internal/pkg/queue"
	"github.com/qs3c/vpn_access_server/internal/service"
)

const (
	maxBackoff     = 5 * time.Minute
	requeueTimeout = 5 * time.Second
)

// PaymentApplier applies a confirmed payment to a subscriber.
type PaymentApplier interface {
	ApplyPayment(ctx context.Context, key string, monthsPaid int, now time.Time) (*service.PaymentResult, error)
}

// FailureNotifier tells the payer a payment could not be applied.
type FailureNotifier interface {
	NotifyPaymentFailed(ctx context.Context, key, reason string) error
}

// Processor 支付消息处理器
type Processor struct {
	applier     PaymentApplier
	catalog     *service.PlanCatalog
	queue       *queue.Queue
	notifier    FailureNotifier
	maxAttempts int
	baseBackoff time.Duration
	metrics     metrics.Recorder
	log         zerolog.Logger
	now         func() time.Time
}

// NewProcessor 创建支付处理器
func NewProcessor(
	applier PaymentApplier,
	catalog *service.PlanCatalog,
	q *queue.Queue,
	notifier FailureNotifier,
	maxAttempts int,
	rec metrics.Recorder,
	log zerolog.Logger,
) *Processor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Processor{
		applier:     applier,
		catalog:     catalog,
		queue:       q,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		baseBackoff: 2 * time.Second,
		metrics:     rec,
		log:         log.With().Str("component", "payment_worker").Logger(),
		now:         time.Now,
	}
}

// Process applies one payment message. A retryable failure is parked on the
// delayed queue with attempt+1; a terminal failure, or one that has used up
// its attempts, is published as payment_failed. A message interrupted by ctx
// goes back on the queue unchanged. The returned error is the failure of the
// payment itself, nil when it was applied.
func (p *Processor) Process(ctx context.Context, msg *queue.PaymentMessage) error {
	log := p.log.With().
		Str("external_key", msg.ExternalKey).
		Int("months", msg.MonthsPaid).
		Int("attempt", msg.Attempt).
		Logger()

	err := p.catalog.Check(msg.MonthsPaid)
	if err == nil {
		// 以处理时刻为准，而不是支付发生时刻
		_, err = p.applier.ApplyPayment(ctx, msg.ExternalKey, msg.MonthsPaid, p.now().UTC())
	}
	if err == nil {
		p.metrics.RecordQueueMessage(metrics.ResultSuccess)
		log.Info().Time("occurred_at", msg.OccurredAt).Msg("payment message applied")
		return nil
	}

	// 被关闭打断的消息已被 BRPOP 取走，原样放回，不算一次尝试
	if ctx.Err() != nil && !isInvalid(err) && !errors.Is(err, service.ErrProvisioningFailed) {
		qctx, cancel := p.detached(ctx)
		qerr := p.queue.Push(qctx, msg)
		cancel()
		if qerr == nil {
			p.metrics.RecordQueueMessage(metrics.ResultRetry)
			log.Warn().Err(err).Msg("payment interrupted, returned to queue")
			return err
		}
		log.Error().Err(qerr).Msg("return interrupted payment failed")
	}

	if service.IsRetryable(err) && msg.Attempt+1 < p.maxAttempts {
		retry := *msg
		retry.Attempt++
		readyAt := p.now().Add(p.backoff(msg.Attempt))
		qctx, cancel := p.detached(ctx)
		qerr := p.queue.PushDelayed(qctx, &retry, readyAt)
		cancel()
		if qerr == nil {
			p.metrics.RecordQueueMessage(metrics.ResultRetry)
			log.Warn().Err(err).Time("retry_at", readyAt).Msg("payment deferred for retry")
			return err
		}
		log.Error().Err(qerr).Msg("requeue failed")
	}

	if isInvalid(err) {
		p.metrics.RecordQueueMessage(metrics.ResultInvalid)
	} else {
		p.metrics.RecordQueueMessage(metrics.ResultFailure)
	}
	log.Error().Err(err).Msg("payment message dropped")

	nctx, cancel := p.detached(ctx)
	defer cancel()
	if nerr := p.notifier.NotifyPaymentFailed(nctx, msg.ExternalKey, failureReason(err)); nerr != nil {
		p.metrics.RecordNotification("payment_failed", metrics.ResultFailure)
		log.Warn().Err(nerr).Msg("payment_failed notice not delivered")
	} else {
		p.metrics.RecordNotification("payment_failed", metrics.ResultSuccess)
	}
	return err
}

// detached 在 ctx 取消后仍能完成队列和通知写入
func (p *Processor) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
}

// backoff 指数退避：base * 2^attempt，上限 maxBackoff
func (p *Processor) backoff(attempt int) time.Duration {
	d := p.baseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func isInvalid(err error) bool {
	return errors.Is(err, service.ErrInvalidKey) || errors.Is(err, service.ErrInvalidPlan)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, service.ErrInvalidPlan):
		return "invalid_plan"
	case errors.Is(err, service.ErrProvisioningFailed):
		return "provisioning_failed"
	default:
		return "internal_error"
	}
}
