package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/vpn_access_server/internal/pkg/queue"
)

// Pool runs queue consumers plus one promoter that moves due retries back
// onto the main queue.
type Pool struct {
	queue           *queue.Queue
	processor       *Processor
	workers         int
	popTimeout      time.Duration
	promoteInterval time.Duration
	processTimeout  time.Duration
	log             zerolog.Logger
}

func NewPool(q *queue.Queue, processor *Processor, workers int, log zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:           q,
		processor:       processor,
		workers:         workers,
		popTimeout:      5 * time.Second,
		promoteInterval: time.Second,
		processTimeout:  2 * time.Minute,
		log:             log.With().Str("component", "worker_pool").Logger(),
	}
}

// Run blocks until ctx is cancelled. A message already popped is finished
// within processTimeout even after ctx ends.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.consume(ctx, i)
			return nil
		})
	}
	g.Go(func() error {
		p.promote(ctx)
		return nil
	})

	return g.Wait()
}

func (p *Pool) consume(ctx context.Context, workerID int) {
	log := p.log.With().Int("worker_id", workerID).Logger()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			return
		default:
		}

		msg, err := p.queue.Pop(ctx, p.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to pop payment")
			// 消息格式错误或 redis 抖动，稍等再取
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue // 超时，继续等待
		}

		p.process(ctx, msg)
	}
}

func (p *Pool) process(ctx context.Context, msg *queue.PaymentMessage) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.processTimeout)
	defer cancel()
	// 单条失败已在 Process 内处理和记录
	_ = p.processor.Process(pctx, msg)
}

func (p *Pool) promote(ctx context.Context) {
	ticker := time.NewTicker(p.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := p.queue.PromoteDue(ctx, now, 100)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Error().Err(err).Msg("promote delayed payments failed")
				}
				continue
			}
			if n > 0 {
				p.log.Debug().Int("count", n).Msg("delayed payments promoted")
			}
		}
	}
}
