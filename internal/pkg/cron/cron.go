package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	robfig "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/qs3c/vpn_access_server/config"
	"github.com/qs3c/vpn_access_server/internal/service"
)

var ErrSweepRunning = errors.New("sweep already running")

// Sweeper runs one expiry sweep.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (*service.SweepReport, error)
}

// Service fires the expiry sweep on a cron schedule in a fixed timezone.
type Service struct {
	sweeper  Sweeper
	schedule robfig.Schedule
	loc      *time.Location
	log      zerolog.Logger
	now      func() time.Time

	running  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewService parses a six-field cron expression (seconds first) evaluated in timezone.
func NewService(sweeper Sweeper, expr, timezone string, log zerolog.Logger) (*Service, error) {
	schedule, err := config.CronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", expr, err)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		sweeper:  sweeper,
		schedule: schedule,
		loc:      loc,
		log:      log.With().Str("component", "cron").Logger(),
		now:      time.Now,
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runSweepLoop()
	s.log.Info().Time("next_run", s.NextRun()).Msg("sweep scheduler started")
}

// Stop 停止定时任务，并取消进行中的扫描
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.cancel()
		s.log.Info().Msg("sweep scheduler stopped")
	})
}

// NextRun returns the next fire time after now.
func (s *Service) NextRun() time.Time {
	return s.schedule.Next(s.now().In(s.loc))
}

func (s *Service) runSweepLoop() {
	timer := time.NewTimer(time.Until(s.NextRun()))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.RunNow(s.ctx); err != nil && !errors.Is(err, ErrSweepRunning) {
				s.log.Error().Err(err).Msg("scheduled sweep failed")
			}
			timer.Reset(time.Until(s.NextRun()))
		}
	}
}

// RunNow runs a sweep immediately. Overlapping runs are rejected.
func (s *Service) RunNow(ctx context.Context) (*service.SweepReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepRunning
	}
	defer s.running.Store(false)

	return s.sweeper.Sweep(ctx, s.now().UTC())
}
