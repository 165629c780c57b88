package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/vpn_access_server/internal/model"
	"github.com/qs3c/vpn_access_server/internal/pkg/metrics"
)

// Sweep steps reported in SweepFailure.
const (
	StepLock   = "lock"
	StepReload = "reload"
	StepBlock  = "block"
	StepNotify = "notify"
)

// SweepFailure is one subscriber the sweep could not finish.
type SweepFailure struct {
	ExternalKey string
	Step        string
	Err         error
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Scanned    int
	Expired    int
	Blocked    int
	Skipped    int // renewed between snapshot and block
	Notified   int
	Failures   []SweepFailure
}

type SweepService struct {
	store       SubscriberStore
	access      AccessController
	notifier    Notifier
	locker      KeyLocker
	concurrency int
	metrics     metrics.Recorder
	log         zerolog.Logger
}

func NewSweepService(
	store SubscriberStore,
	access AccessController,
	notifier Notifier,
	locker KeyLocker,
	concurrency int,
	rec metrics.Recorder,
	log zerolog.Logger,
) *SweepService {
	if concurrency < 1 {
		concurrency = 1
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &SweepService{
		store:       store,
		access:      access,
		notifier:    notifier,
		locker:      locker,
		concurrency: concurrency,
		metrics:     rec,
		log:         log.With().Str("component", "sweep").Logger(),
	}
}

// Preview returns the subscribers a sweep at now would block, without side effects.
func (s *SweepService) Preview(ctx context.Context, now time.Time) ([]*model.Subscriber, error) {
	subs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return ComputeExpired(now, subs), nil
}

// Sweep blocks and notifies every subscriber whose window ended before now.
// Records are never modified. Per-subscriber failures are collected in the
// report; only a failure to read the snapshot aborts the run.
func (s *SweepService) Sweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	report := &SweepReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := s.log.With().Str("run_id", report.RunID).Logger()

	subs, err := s.store.List(ctx)
	if err != nil {
		s.metrics.RecordSweep(metrics.ResultFailure, 0, 0, time.Since(report.StartedAt))
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	expired := ComputeExpired(now, subs)
	report.Scanned = len(subs)
	report.Expired = len(expired)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, sub := range expired {
		g.Go(func() error {
			outcome := s.expireOne(gctx, sub.ExternalKey, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome.skipped:
				report.Skipped++
			case outcome.failure != nil:
				report.Failures = append(report.Failures, *outcome.failure)
			}
			if outcome.blocked {
				report.Blocked++
			}
			if outcome.notified {
				report.Notified++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()
	result := metrics.ResultSuccess
	if len(report.Failures) > 0 {
		result = metrics.ResultFailure
	}
	s.metrics.RecordSweep(result, report.Expired, len(report.Failures), report.FinishedAt.Sub(report.StartedAt))

	for _, f := range report.Failures {
		log.Warn().Err(f.Err).Str("external_key", f.ExternalKey).Str("step", f.Step).Msg("sweep item failed")
	}
	log.Info().
		Int("scanned", report.Scanned).
		Int("expired", report.Expired).
		Int("blocked", report.Blocked).
		Int("skipped", report.Skipped).
		Int("failed", len(report.Failures)).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("sweep finished")

	return report, nil
}

type sweepOutcome struct {
	blocked  bool
	notified bool
	skipped  bool
	failure  *SweepFailure
}

// expireOne re-reads the record under the key lock so a renewal that landed
// after the snapshot is not blocked. The block runs while the lock is held;
// a payment waiting on the lock unblocks after it.
func (s *SweepService) expireOne(ctx context.Context, key string, now time.Time) sweepOutcome {
	fail := func(step string, err error) sweepOutcome {
		return sweepOutcome{failure: &SweepFailure{ExternalKey: key, Step: step, Err: err}}
	}

	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return fail(StepLock, fmt.Errorf("%w: %w", ErrLockUnavailable, err))
	}

	current, err := s.store.GetByExternalKey(ctx, key)
	if err != nil {
		unlock()
		return fail(StepReload, fmt.Errorf("%w: %w", ErrPersistenceFailed, err))
	}
	if current == nil || !current.ExpiresAt.Before(now) {
		unlock()
		return sweepOutcome{skipped: true}
	}

	err = s.access.Block(ctx, current.ArtifactPath)
	unlock()
	if err != nil {
		return fail(StepBlock, fmt.Errorf("%w: %w", ErrBlockFailed, err))
	}

	out := sweepOutcome{blocked: true}
	if err := s.notifier.NotifyExpired(ctx, key); err != nil {
		s.metrics.RecordNotification("expired", metrics.ResultFailure)
		out.failure = &SweepFailure{ExternalKey: key, Step: StepNotify, Err: err}
		return out
	}
	s.metrics.RecordNotification("expired", metrics.ResultSuccess)
	out.notified = true
	return out
}
